package identity

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for development mode and tests. It
// enforces the same uniqueness and linkage guards as the Postgres store so
// the resolver's race handling can be exercised without a database.
type MemoryStore struct {
	mu      sync.Mutex
	byID    map[string]Account
	byEmail map[string]string // normalized email -> account id
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:    make(map[string]Account),
		byEmail: make(map[string]string),
	}
}

func (s *MemoryStore) CreateAccount(ctx context.Context, in CreateAccountInput) (Account, error) {
	const op = "identity.MemoryStore.CreateAccount"
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	if err := in.validate(op); err != nil {
		return Account{}, err
	}

	id, err := newAccountID(in.Now)
	if err != nil {
		return Account{}, OpError{Op: op, Kind: err, Msg: "generate account id"}
	}

	norm := NormalizeEmail(in.Email)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.byEmail[norm]; taken {
		return Account{}, ConflictError{Op: op, Field: "email"}
	}

	acct := Account{
		ID:           id,
		Email:        in.Email,
		EmailNorm:    norm,
		PasswordHash: copyPtr(in.PasswordHash),
		ExternalID:   copyPtr(in.ExternalID),
		DisplayName:  copyPtr(in.DisplayName),
		AvatarURL:    copyPtr(in.AvatarURL),
		Verified:     in.Verified,
		Active:       true,
		CreatedAt:    in.Now,
	}
	s.byID[id] = acct
	s.byEmail[norm] = id
	return acct, nil
}

func (s *MemoryStore) GetAccountByEmail(ctx context.Context, email string) (Account, error) {
	const op = "identity.MemoryStore.GetAccountByEmail"
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byEmail[NormalizeEmail(email)]
	if !ok {
		return Account{}, NotFoundError{Op: op, Resource: "account"}
	}
	return s.byID[id], nil
}

func (s *MemoryStore) GetAccountByID(ctx context.Context, id string) (Account, error) {
	const op = "identity.MemoryStore.GetAccountByID"
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.byID[id]
	if !ok {
		return Account{}, NotFoundError{Op: op, Resource: "account"}
	}
	return acct, nil
}

func (s *MemoryStore) LinkExternalIdentity(ctx context.Context, accountID, externalID string, avatarURL *string, now time.Time) (Account, error) {
	const op = "identity.MemoryStore.LinkExternalIdentity"
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.byID[accountID]
	if !ok {
		return Account{}, NotFoundError{Op: op, Resource: "account"}
	}
	if acct.ExternalID != nil {
		// Same guard as the SQL UPDATE ... WHERE external_id IS NULL.
		return Account{}, ConflictError{Op: op, Field: "external_id"}
	}

	acct.ExternalID = &externalID
	acct.Verified = true
	if avatarURL != nil {
		acct.AvatarURL = copyPtr(avatarURL)
	}
	s.byID[accountID] = acct
	return acct, nil
}

func (s *MemoryStore) UpdateAvatar(ctx context.Context, accountID string, avatarURL *string) error {
	const op = "identity.MemoryStore.UpdateAvatar"
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.byID[accountID]
	if !ok {
		return NotFoundError{Op: op, Resource: "account"}
	}
	acct.AvatarURL = copyPtr(avatarURL)
	s.byID[accountID] = acct
	return nil
}

func (s *MemoryStore) TouchLastLogin(ctx context.Context, accountID string, now time.Time) error {
	const op = "identity.MemoryStore.TouchLastLogin"
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.byID[accountID]
	if !ok {
		return NotFoundError{Op: op, Resource: "account"}
	}
	t := now
	acct.LastLoginAt = &t
	s.byID[accountID] = acct
	return nil
}

func (s *MemoryStore) SetActive(ctx context.Context, accountID string, active bool) error {
	const op = "identity.MemoryStore.SetActive"
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.byID[accountID]
	if !ok {
		return NotFoundError{Op: op, Resource: "account"}
	}
	acct.Active = active
	s.byID[accountID] = acct
	return nil
}

func copyPtr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

package identity

import (
	"context"
	"time"

	"bidhub/cmd/identity/ids"
)

// Account is bidhub's canonical identity record. One row per person.
//
// Invariant: PasswordHash set, ExternalID set, or both — never neither.
// Email (normalized) is unique across all accounts.
type Account struct {
	ID        string
	Email     string
	EmailNorm string

	// PasswordHash is set only if the account was ever created or upgraded
	// via the password path. PHC-encoded argon2id.
	PasswordHash *string

	// ExternalID is the subject id from a verified third-party identity
	// token; set only once the account is linked to that provider.
	ExternalID *string

	DisplayName *string
	AvatarURL   *string

	// Verified is true once any trusted identity proof succeeded.
	Verified bool

	// Active false means authentication must always fail with the fixed
	// deactivated outcome regardless of credential correctness.
	Active bool

	CreatedAt   time.Time
	LastLoginAt *time.Time
}

// CredentialState describes which authentication methods an account holds.
type CredentialState string

const (
	// CredentialPasswordOnly is an account with a password hash and no
	// linked external identity.
	CredentialPasswordOnly CredentialState = "password_only"
	// CredentialOAuthOnly is an account provisioned from an identity token,
	// with no password.
	CredentialOAuthOnly CredentialState = "oauth_only"
	// CredentialLinked holds both. The only transitions are
	// creation -> OAuthOnly and PasswordOnly -> Linked; no transition ever
	// removes a linkage.
	CredentialLinked CredentialState = "linked"
)

// CredentialState derives the account's credential state.
func (a Account) CredentialState() CredentialState {
	switch {
	case a.PasswordHash != nil && a.ExternalID != nil:
		return CredentialLinked
	case a.ExternalID != nil:
		return CredentialOAuthOnly
	default:
		return CredentialPasswordOnly
	}
}

// CreateAccountInput describes a new account. Exactly the fields a store
// persists; hashing and token verification happen before this point.
type CreateAccountInput struct {
	Email        string
	PasswordHash *string
	ExternalID   *string
	DisplayName  *string
	AvatarURL    *string
	Verified     bool
	Now          time.Time
}

// validate enforces the account invariant before any store touches it.
func (in CreateAccountInput) validate(op string) error {
	if NormalizeEmail(in.Email) == "" {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "email is required"}
	}
	if in.PasswordHash == nil && in.ExternalID == nil {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "account needs a password hash or an external identity"}
	}
	return nil
}

// Store is the account persistence boundary.
//
// Implementations must enforce uniqueness of the normalized email; a
// violation on create surfaces as a ConflictError so the resolver can treat
// "someone else just created it" as a retryable race (not a failure).
type Store interface {
	// CreateAccount inserts a new account. Conflicting normalized email
	// returns ConflictError{Field: "email"}.
	CreateAccount(ctx context.Context, in CreateAccountInput) (Account, error)

	// GetAccountByEmail looks up by normalized email. ErrNotFound if absent.
	GetAccountByEmail(ctx context.Context, email string) (Account, error)

	// GetAccountByID looks up by id. ErrNotFound if absent.
	GetAccountByID(ctx context.Context, id string) (Account, error)

	// LinkExternalIdentity attaches an external identity to an account that
	// has none yet, marking it verified and refreshing the avatar. The
	// update is guarded on external_id still being unset; losing that race
	// returns ConflictError{Field: "external_id"}.
	LinkExternalIdentity(ctx context.Context, accountID, externalID string, avatarURL *string, now time.Time) (Account, error)

	// UpdateAvatar refreshes the informational avatar URL.
	UpdateAvatar(ctx context.Context, accountID string, avatarURL *string) error

	// TouchLastLogin records a successful authentication.
	TouchLastLogin(ctx context.Context, accountID string, now time.Time) error

	// SetActive flips the active flag (deactivation is driven by the
	// surrounding CRUD layer; exposed here so it shares one store).
	SetActive(ctx context.Context, accountID string, active bool) error
}

// newAccountID generates a ULID for a new account.
func newAccountID(now time.Time) (string, error) {
	return ids.NewULID(now)
}

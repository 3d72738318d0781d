package identity

import (
	"context"
	"errors"
	"strings"
	"time"
)

// PasswordHasher is the one-way hash/verify contract used by the resolver.
// Satisfied by security/password.Config.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(encodedHash, password string) (bool, error)
}

// ExternalIdentity is the claim set extracted from a verified third-party
// identity token.
type ExternalIdentity struct {
	SubjectID     string
	Email         string
	EmailVerified bool
	GivenName     string
	FamilyName    string
	PictureURL    string
}

// TokenVerifier validates a third-party identity token. Implementations
// must collapse every verification failure to ErrInvalidToken; the resolver
// and its callers never learn which check failed.
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (ExternalIdentity, error)
}

// AttemptThrottle tracks consecutive failed password attempts per key.
// It guards the password path only.
type AttemptThrottle interface {
	CheckAllowed(key string, now time.Time) (blocked bool, retryAfter time.Duration)
	RecordFailure(key string, now time.Time)
	RecordSuccess(key string)
}

// LinkPolicy controls what happens when an identity token's verified email
// matches an existing password-only account.
type LinkPolicy string

const (
	// LinkAuto attaches the external identity to the existing account:
	// proving control of the email via the provider is accepted as
	// sufficient. This is the source system's behavior and the default.
	LinkAuto LinkPolicy = "auto"
	// LinkManual refuses the implicit attach; token login on an unlinked
	// password account fails with ErrLinkNotPermitted and does not mutate
	// the account.
	LinkManual LinkPolicy = "manual"
)

// ParseLinkPolicy maps a config string to a LinkPolicy, defaulting to auto.
func ParseLinkPolicy(s string) LinkPolicy {
	if strings.EqualFold(strings.TrimSpace(s), string(LinkManual)) {
		return LinkManual
	}
	return LinkAuto
}

// AuthResult is the success outcome of either authentication operation.
type AuthResult struct {
	Account Account
	// IsNewAccount is true when the identity-token path provisioned the
	// account during this call.
	IsNewAccount bool
}

// ResolverConfig tunes the resolver.
type ResolverConfig struct {
	LinkPolicy LinkPolicy
	// StoreTimeout bounds every store round-trip; expiry fails closed as
	// ErrTemporarilyUnavailable. Zero disables the extra deadline.
	StoreTimeout time.Duration
}

// Resolver is the account-resolution state machine. It owns no state of its
// own; all durable state lives in the Store and all throttle state in the
// injected AttemptThrottle, so a process can host exactly one resolver per
// store without global variables.
type Resolver struct {
	store    Store
	hasher   PasswordHasher
	tokens   TokenVerifier
	throttle AttemptThrottle
	cfg      ResolverConfig

	// dummyHash is verified against when the account lookup fails, so the
	// timing of "unknown email" matches "wrong password".
	dummyHash string
}

// NewResolver wires the resolver. tokens may be nil when identity-token
// login is not configured; AuthenticateWithIdentityToken then fails with
// ErrTemporarilyUnavailable.
func NewResolver(store Store, hasher PasswordHasher, tokens TokenVerifier, throttle AttemptThrottle, cfg ResolverConfig) (*Resolver, error) {
	if store == nil {
		return nil, errors.New("identity: nil store")
	}
	if hasher == nil {
		return nil, errors.New("identity: nil password hasher")
	}
	if throttle == nil {
		return nil, errors.New("identity: nil attempt throttle")
	}
	if cfg.LinkPolicy == "" {
		cfg.LinkPolicy = LinkAuto
	}

	r := &Resolver{
		store:    store,
		hasher:   hasher,
		tokens:   tokens,
		throttle: throttle,
		cfg:      cfg,
	}

	if hash, err := hasher.Hash("Decoy4timing-resistance-only"); err == nil {
		r.dummyHash = hash
	}

	return r, nil
}

// Register creates a password-based account. Signup validation counts as
// the identity proof, so the account starts verified and active.
// A taken email returns ConflictError{Field: "email"}.
func (r *Resolver) Register(ctx context.Context, email, password string, displayName *string) (Account, error) {
	const op = "identity.Register"

	email = strings.TrimSpace(email)
	if NormalizeEmail(email) == "" {
		return Account{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "email is required"}
	}

	hash, err := r.hasher.Hash(password)
	if err != nil {
		return Account{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: err.Error()}
	}

	now := time.Now().UTC()
	acct, err := r.createAccount(ctx, CreateAccountInput{
		Email:        email,
		PasswordHash: &hash,
		DisplayName:  trimPtr(displayName),
		Verified:     true,
		Now:          now,
	})
	if err != nil {
		return Account{}, err
	}
	return acct, nil
}

// AuthenticateWithPassword authenticates an (email, password) pair.
//
// Failure contract:
//   - ErrTooManyAttempts while the throttle lockout holds (store untouched);
//   - ErrInvalidCredentials for unknown email, passwordless account, and
//     wrong password — one value, one timing class;
//   - ErrAccountDeactivated only after the credential proved correct;
//   - ErrTemporarilyUnavailable when the store misses its deadline.
func (r *Resolver) AuthenticateWithPassword(ctx context.Context, email, password string) (AuthResult, error) {
	key := NormalizeEmail(email)
	now := time.Now().UTC()

	if blocked, retryAfter := r.throttle.CheckAllowed(key, now); blocked {
		return AuthResult{}, TooManyAttemptsError{RetryAfter: retryAfter}
	}

	acct, err := r.getByEmail(ctx, email)
	if err != nil {
		if IsNotFound(err) {
			r.burnVerify(password)
			r.throttle.RecordFailure(key, now)
			return AuthResult{}, invalidCredentials()
		}
		return AuthResult{}, err
	}

	if acct.PasswordHash == nil {
		// OAuth-only account: indistinguishable from a bad password so the
		// password path cannot be used to probe which accounts exist or
		// how they authenticate.
		r.burnVerify(password)
		r.throttle.RecordFailure(key, now)
		return AuthResult{}, invalidCredentials()
	}

	ok, err := r.hasher.Verify(*acct.PasswordHash, password)
	if err != nil || !ok {
		r.throttle.RecordFailure(key, now)
		return AuthResult{}, invalidCredentials()
	}

	if !acct.Active {
		// The credential was proven correct, so revealing the deactivated
		// state is permitted here and only here.
		return AuthResult{}, OpError{Op: "identity.AuthenticateWithPassword", Kind: ErrAccountDeactivated}
	}

	r.throttle.RecordSuccess(key)

	if err := r.touchLastLogin(ctx, acct.ID, now); err != nil {
		return AuthResult{}, err
	}
	acct.LastLoginAt = &now

	return AuthResult{Account: acct}, nil
}

// AuthenticateWithIdentityToken authenticates a third-party identity token,
// provisioning or linking the matching account.
//
// State machine (on the account for the token's verified email):
//   - absent            -> create OAuth-only account, IsNewAccount=true
//   - no external id    -> link per LinkPolicy (PasswordOnly -> Linked)
//   - other external id -> ErrIdentityConflict, no mutation
//   - same external id  -> refresh avatar, proceed
//
// The token path is not throttled: tokens are not guessable and the
// provider applies its own rate limits.
func (r *Resolver) AuthenticateWithIdentityToken(ctx context.Context, raw string) (AuthResult, error) {
	const op = "identity.AuthenticateWithIdentityToken"

	if r.tokens == nil {
		return AuthResult{}, OpError{Op: op, Kind: ErrTemporarilyUnavailable, Msg: "identity provider not configured"}
	}

	ext, err := r.tokens.Verify(ctx, raw)
	if err != nil {
		// The verifier already collapsed the reason; keep it collapsed.
		return AuthResult{}, OpError{Op: op, Kind: ErrInvalidToken}
	}
	if NormalizeEmail(ext.Email) == "" || ext.SubjectID == "" {
		return AuthResult{}, OpError{Op: op, Kind: ErrInvalidToken}
	}

	now := time.Now().UTC()

	res, err := r.resolveExternal(ctx, ext, now)
	if err != nil {
		// A uniqueness conflict means a concurrent request created or
		// linked the account between our lookup and our write. The row now
		// exists; retry the lookup-and-link path exactly once.
		if IsConflict(err) {
			res, err = r.resolveExternal(ctx, ext, now)
		}
		if err != nil {
			return AuthResult{}, err
		}
	}

	if !res.Account.Active {
		return AuthResult{}, OpError{Op: op, Kind: ErrAccountDeactivated}
	}

	if err := r.touchLastLogin(ctx, res.Account.ID, now); err != nil {
		return AuthResult{}, err
	}
	res.Account.LastLoginAt = &now

	return res, nil
}

// resolveExternal runs one pass of the find-or-create-or-link machine.
// Conflict errors bubble up so the caller can retry once.
func (r *Resolver) resolveExternal(ctx context.Context, ext ExternalIdentity, now time.Time) (AuthResult, error) {
	const op = "identity.AuthenticateWithIdentityToken"

	acct, err := r.getByEmail(ctx, ext.Email)
	if err != nil {
		if !IsNotFound(err) {
			return AuthResult{}, err
		}

		created, err := r.createAccount(ctx, CreateAccountInput{
			Email:       ext.Email,
			ExternalID:  &ext.SubjectID,
			DisplayName: displayNameFrom(ext),
			AvatarURL:   trimPtr(&ext.PictureURL),
			Verified:    true,
			Now:         now,
		})
		if err != nil {
			return AuthResult{}, err
		}
		return AuthResult{Account: created, IsNewAccount: true}, nil
	}

	switch {
	case acct.ExternalID == nil:
		if r.cfg.LinkPolicy == LinkManual {
			return AuthResult{}, OpError{Op: op, Kind: ErrLinkNotPermitted, Msg: "account exists; linking requires confirmation"}
		}
		linked, err := r.linkExternal(ctx, acct.ID, ext.SubjectID, trimPtr(&ext.PictureURL), now)
		if err != nil {
			return AuthResult{}, err
		}
		return AuthResult{Account: linked}, nil

	case *acct.ExternalID != ext.SubjectID:
		// The email is already bound to a different external identity.
		// Never silently relink.
		return AuthResult{}, OpError{Op: op, Kind: ErrIdentityConflict}

	default:
		if avatar := trimPtr(&ext.PictureURL); avatar != nil {
			if err := r.updateAvatar(ctx, acct.ID, avatar); err != nil {
				return AuthResult{}, err
			}
			acct.AvatarURL = avatar
		}
		return AuthResult{Account: acct}, nil
	}
}

// burnVerify performs a dummy password verification so failure timing does
// not depend on whether a real hash was available.
func (r *Resolver) burnVerify(password string) {
	if r.dummyHash == "" {
		return
	}
	_, _ = r.hasher.Verify(r.dummyHash, password)
}

// ---- store wrappers: bounded, fail-closed ----

func (r *Resolver) withDeadline(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.cfg.StoreTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.cfg.StoreTimeout)
}

// unavailableOn maps deadline expiry to the taxonomy; other store errors
// pass through untouched (the boundary reports them as internal).
func unavailableOn(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return OpError{Op: op, Kind: ErrTemporarilyUnavailable, Msg: "store deadline exceeded"}
	}
	return err
}

func (r *Resolver) getByEmail(ctx context.Context, email string) (Account, error) {
	ctx, cancel := r.withDeadline(ctx)
	defer cancel()
	acct, err := r.store.GetAccountByEmail(ctx, email)
	if err != nil {
		return Account{}, unavailableOn("identity.GetAccountByEmail", err)
	}
	return acct, nil
}

func (r *Resolver) createAccount(ctx context.Context, in CreateAccountInput) (Account, error) {
	ctx, cancel := r.withDeadline(ctx)
	defer cancel()
	acct, err := r.store.CreateAccount(ctx, in)
	if err != nil {
		return Account{}, unavailableOn("identity.CreateAccount", err)
	}
	return acct, nil
}

func (r *Resolver) linkExternal(ctx context.Context, accountID, externalID string, avatarURL *string, now time.Time) (Account, error) {
	ctx, cancel := r.withDeadline(ctx)
	defer cancel()
	acct, err := r.store.LinkExternalIdentity(ctx, accountID, externalID, avatarURL, now)
	if err != nil {
		return Account{}, unavailableOn("identity.LinkExternalIdentity", err)
	}
	return acct, nil
}

func (r *Resolver) updateAvatar(ctx context.Context, accountID string, avatarURL *string) error {
	ctx, cancel := r.withDeadline(ctx)
	defer cancel()
	if err := r.store.UpdateAvatar(ctx, accountID, avatarURL); err != nil {
		return unavailableOn("identity.UpdateAvatar", err)
	}
	return nil
}

func (r *Resolver) touchLastLogin(ctx context.Context, accountID string, now time.Time) error {
	ctx, cancel := r.withDeadline(ctx)
	defer cancel()
	if err := r.store.TouchLastLogin(ctx, accountID, now); err != nil {
		return unavailableOn("identity.TouchLastLogin", err)
	}
	return nil
}

// ---- helpers ----

func displayNameFrom(ext ExternalIdentity) *string {
	name := strings.TrimSpace(strings.TrimSpace(ext.GivenName) + " " + strings.TrimSpace(ext.FamilyName))
	if name == "" {
		return nil
	}
	return &name
}

func trimPtr(p *string) *string {
	if p == nil {
		return nil
	}
	s := strings.TrimSpace(*p)
	if s == "" {
		return nil
	}
	return &s
}

package identity

import "errors"

// Storage-level sentinel kinds (stable for errors.Is).
var (
	ErrInvalidInput = errors.New("invalid_input")
	ErrNotFound     = errors.New("not_found")
	ErrConflict     = errors.New("conflict")
)

// Authentication outcome kinds. This is a closed taxonomy: every failure of
// the two authentication operations maps to exactly one of these, and the
// HTTP layer maps each kind to a fixed response. Branch detail (which check
// failed inside a kind) must never leak to callers.
var (
	ErrInvalidCredentials     = errors.New("invalid_credentials")
	ErrTooManyAttempts        = errors.New("too_many_attempts")
	ErrAccountDeactivated     = errors.New("account_deactivated")
	ErrInvalidToken           = errors.New("invalid_token")
	ErrIdentityConflict       = errors.New("identity_conflict")
	ErrLinkNotPermitted       = errors.New("link_not_permitted")
	ErrTemporarilyUnavailable = errors.New("temporarily_unavailable")
)

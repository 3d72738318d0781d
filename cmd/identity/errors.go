package identity

import (
	"errors"
	"fmt"
	"time"
)

// OpError is a typed operation error with a stable Op + Kind contract for
// callers and tests.
// Kind MUST be one of the sentinel kinds when applicable; Msg may include
// human-readable context but never secrets or credential material.
type OpError struct {
	Op   string
	Kind error
	Msg  string
}

func (e OpError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Kind, e.Msg)
}

func (e OpError) Unwrap() error { return e.Kind }

// ConflictError reports a uniqueness/constraint conflict for a specific
// logical field. Field should be a stable logical name: "email",
// "external_id", ...
type ConflictError struct {
	Op    string
	Field string
}

func (e ConflictError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %v", e.Op, ErrConflict)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, ErrConflict, e.Field)
}

func (e ConflictError) Unwrap() error { return ErrConflict }

// NotFoundError reports a missing row or referenced resource.
type NotFoundError struct {
	Op       string
	Resource string
}

func (e NotFoundError) Error() string {
	if e.Resource == "" {
		return fmt.Sprintf("%s: %v", e.Op, ErrNotFound)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, ErrNotFound, e.Resource)
}

func (e NotFoundError) Unwrap() error { return ErrNotFound }

// TooManyAttemptsError carries the remaining lockout duration so the
// boundary can emit a Retry-After header.
type TooManyAttemptsError struct {
	RetryAfter time.Duration
}

func (e TooManyAttemptsError) Error() string {
	if e.RetryAfter <= 0 {
		return ErrTooManyAttempts.Error()
	}
	return fmt.Sprintf("%s: retry after %s", ErrTooManyAttempts.Error(), e.RetryAfter)
}

func (e TooManyAttemptsError) Unwrap() error { return ErrTooManyAttempts }

// invalidCredentials is the single value returned for every opaque
// password-path failure. Reusing one value keeps the payloads
// byte-identical whether the email is unknown, the account has no
// password, or the password is wrong.
func invalidCredentials() error {
	return OpError{
		Op:   "identity.AuthenticateWithPassword",
		Kind: ErrInvalidCredentials,
		Msg:  "invalid email or password",
	}
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var ce ConflictError
	return errors.As(err, &ce)
}

// IsNotFound reports whether err represents ErrNotFound (including NotFoundError).
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsInvalidInput reports whether err represents ErrInvalidInput.
func IsInvalidInput(err error) bool { return errors.Is(err, ErrInvalidInput) }

// IsUnavailable reports whether err represents ErrTemporarilyUnavailable.
func IsUnavailable(err error) bool { return errors.Is(err, ErrTemporarilyUnavailable) }

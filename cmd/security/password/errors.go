package password

import "errors"

// Public, stable errors for callers.
var (
	ErrPasswordTooShort  = errors.New("password too short")
	ErrPasswordTooLong   = errors.New("password too long")
	ErrMissingCharacters = errors.New("password must contain an uppercase letter, a lowercase letter, and a digit")
	ErrInvalidHash       = errors.New("invalid password hash")
)

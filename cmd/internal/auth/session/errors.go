package session

import "errors"

var (
	// ErrInvalidSession is returned when a credential fails verification
	// for any reason. Signature, issuer, lifetime, and claim failures all
	// collapse to this one value.
	ErrInvalidSession = errors.New("invalid session credential")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)

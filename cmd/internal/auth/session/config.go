package session

import (
	"os"
	"time"
)

// Config defines all runtime configuration for the session subsystem.
//
// It controls the credential lifetime, clock skew tolerance, and the
// PASETO v4 signing key. The struct is intentionally explicit and
// environment-driven so production deployments can tune security
// parameters without code changes.
type Config struct {
	// Issuer is the value set in the "iss" claim of session credentials.
	// Verification rejects credentials issued under any other name, so
	// distinct deployments sharing a key cannot accept each other's
	// sessions by accident.
	Issuer string

	// TTL defines the lifetime of a session credential. There is no
	// refresh; an expired credential means a fresh login.
	TTL time.Duration

	// ClockSkew defines the allowed time skew during validation.
	ClockSkew time.Duration

	// SecretKeyHex is the hex-encoded Ed25519 secret key used to sign
	// PASETO v4.public credentials.
	SecretKeyHex string
}

// DefaultConfig returns a secure default configuration suitable for
// development. Production environments should override values via
// environment variables.
func DefaultConfig() Config {
	return Config{
		Issuer:    "bidhub",
		TTL:       time.Hour,
		ClockSkew: 30 * time.Second,
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Required:
//   - BIDHUB_SESSION_SECRET_KEY_HEX
//
// Optional (durations must be valid Go duration strings):
//   - BIDHUB_SESSION_ISSUER
//   - BIDHUB_SESSION_TTL
//   - BIDHUB_SESSION_CLOCK_SKEW
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := os.Getenv("BIDHUB_SESSION_ISSUER"); v != "" {
		cfg.Issuer = v
	}

	if v := os.Getenv("BIDHUB_SESSION_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.TTL = d
	}

	if v := os.Getenv("BIDHUB_SESSION_CLOCK_SKEW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.ClockSkew = d
	}

	cfg.SecretKeyHex = os.Getenv("BIDHUB_SESSION_SECRET_KEY_HEX")
	if cfg.SecretKeyHex == "" {
		return Config{}, ErrConfig
	}

	return cfg, nil
}

package authapi

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config controls auth API behavior and security defaults.
type Config struct {
	// TrustProxy enables X-Forwarded-For / X-Real-IP parsing for the
	// client address used in logs. Only enable behind a trusted proxy.
	TrustProxy bool

	// MaxBodyBytes caps request bodies on every auth endpoint.
	MaxBodyBytes int64

	// LinkPolicy is the raw account-linking policy string ("auto" or
	// "manual"); the resolver parses it.
	LinkPolicy string

	// MaxFailures and Lockout tune the per-email login throttle.
	MaxFailures int
	Lockout     time.Duration

	// StoreTimeout bounds each store round-trip made by the resolver.
	StoreTimeout time.Duration

	// GoogleClientID is the OAuth client id identity tokens must be
	// issued for. Empty disables token login.
	GoogleClientID string
}

// LoadConfigFromEnv loads auth config from environment variables with safe
// defaults.
func LoadConfigFromEnv() Config {
	cfg := Config{
		TrustProxy:     envBool("BIDHUB_AUTH_TRUST_PROXY", false),
		MaxBodyBytes:   envInt64("BIDHUB_AUTH_MAX_BODY_BYTES", 1<<20), // 1 MiB
		LinkPolicy:     strings.TrimSpace(os.Getenv("BIDHUB_AUTH_LINK_POLICY")),
		MaxFailures:    envInt("BIDHUB_AUTH_MAX_FAILURES", 5),
		Lockout:        envDuration("BIDHUB_AUTH_LOCKOUT", 15*time.Minute),
		StoreTimeout:   envDuration("BIDHUB_STORE_TIMEOUT", 5*time.Second),
		GoogleClientID: strings.TrimSpace(os.Getenv("BIDHUB_GOOGLE_CLIENT_ID")),
	}

	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	return cfg
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

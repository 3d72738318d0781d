package app

import "time"

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr string
	LogLevel string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32
	DBSchema    string

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	// ThrottleSweepInterval is how often stale login-failure counters are
	// dropped from memory.
	ThrottleSweepInterval time.Duration

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr: EnvString("BIDHUB_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel: EnvString("BIDHUB_LOG_LEVEL", "info"),

		ReadHeaderTimeout: EnvDuration("BIDHUB_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("BIDHUB_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("BIDHUB_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("BIDHUB_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("BIDHUB_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("BIDHUB_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("BIDHUB_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("BIDHUB_DB_MIN_CONNS", 0),
		DBSchema:    EnvString("BIDHUB_DB_SCHEMA", "bidhub"),

		ReadinessRequireDB: EnvBool("BIDHUB_READINESS_REQUIRE_DB", false),

		ThrottleSweepInterval: EnvDuration("BIDHUB_THROTTLE_SWEEP_INTERVAL", time.Minute),

		CORSAllowedOrigins:   EnvStringList("BIDHUB_CORS_ALLOWED_ORIGINS"),
		CORSAllowCredentials: EnvBool("BIDHUB_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvInt("BIDHUB_CORS_MAX_AGE_SECONDS", 600),
	}
}

// Package app wires the bidhub auth server runtime: config, logging,
// metrics, storage, and HTTP routes.
//
// It is intentionally small and deterministic to keep CI gates strict and
// behavior predictable.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	paseto "aidanwoods.dev/go-paseto"
	"github.com/jackc/pgx/v5/pgxpool"

	"bidhub/cmd/identity"
	authapi "bidhub/cmd/internal/auth/api"
	"bidhub/cmd/internal/auth/idtoken"
	"bidhub/cmd/internal/auth/session"
	"bidhub/cmd/internal/auth/throttle"
	"bidhub/cmd/security/password"
)

// App is the bidhub server runtime.
type App struct {
	cfg Config
	log Logger

	dbPool    *pgxpool.Pool
	dbEnabled bool

	auth     *authapi.Handler
	metrics  *Metrics
	throttle *throttle.Tracker
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel)
	}

	store, dbPool, dbEnabled, err := newStore(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}

	authCfg := authapi.LoadConfigFromEnv()

	tracker := throttle.New(throttle.Config{
		MaxFailures: authCfg.MaxFailures,
		Lockout:     authCfg.Lockout,
	})
	metrics := NewMetrics(tracker.Len)

	hasher, err := password.FromEnv()
	if err != nil {
		return nil, err
	}

	var verifier identity.TokenVerifier
	if authCfg.GoogleClientID != "" {
		v, err := idtoken.NewGoogleVerifier(context.Background(), authCfg.GoogleClientID)
		if err != nil {
			return nil, err
		}
		verifier = v
		log.Info("auth.idtoken.enabled", "client_id", authCfg.GoogleClientID)
	} else {
		log.Info("auth.idtoken.disabled")
	}

	sessCfg, err := loadSessionConfig(log, dbEnabled)
	if err != nil {
		return nil, err
	}
	sessions, err := session.NewPasetoV4PublicManager(sessCfg)
	if err != nil {
		return nil, err
	}

	resolver, err := identity.NewResolver(store, hasher, verifier, tracker, identity.ResolverConfig{
		LinkPolicy:   identity.ParseLinkPolicy(authCfg.LinkPolicy),
		StoreTimeout: authCfg.StoreTimeout,
	})
	if err != nil {
		return nil, err
	}

	auth, err := authapi.NewHandler(log, authCfg, resolver, store, sessions, authapi.WithMetrics(metrics))
	if err != nil {
		return nil, err
	}

	return &App{
		cfg:       cfg,
		log:       log,
		dbPool:    dbPool,
		dbEnabled: dbEnabled,
		auth:      auth,
		metrics:   metrics,
		throttle:  tracker,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal
// server error.
func (a *App) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.dbPool, a.dbEnabled, a.auth, a.metrics)

	var handler http.Handler = mux
	handler = WithSecurityHeaders(handler)
	handler = WithCORS(handler, a.cfg, a.log)
	handler = WithRequestLogging(handler, a.log, a.metrics)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.dbEnabled)

	go a.sweepThrottle(ctx)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	if a.dbPool != nil {
		a.dbPool.Close()
	}

	a.log.Info("server.stopped")
	return nil
}

// sweepThrottle periodically drops stale login-failure counters.
func (a *App) sweepThrottle(ctx context.Context) {
	interval := nonZeroDuration(a.cfg.ThrottleSweepInterval, time.Minute)
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-t.C:
			if removed := a.throttle.Sweep(now.UTC()); removed > 0 {
				a.log.Debug("auth.throttle.sweep", "removed", removed)
			}
		}
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

// newStore decides between Postgres-backed persistence and the in-memory
// dev store.
//
// Ownership model:
// - app owns pool lifecycle
// - the identity store never closes the pool
func newStore(ctx context.Context, cfg Config, log Logger) (identity.Store, *pgxpool.Pool, bool, error) {
	if cfg.DatabaseURL == "" {
		log.Info("db.disabled.inmemory_store")
		return identity.NewMemoryStore(), nil, false, nil
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, nil, false, err
	}

	store, err := identity.NewPostgresStore(pool, identity.WithSchema(cfg.DBSchema))
	if err != nil {
		pool.Close()
		return nil, nil, false, err
	}

	log.Info("db.enabled.postgres_store", "schema", cfg.DBSchema)
	return store, pool, true, nil
}

// loadSessionConfig loads the session signing config. A missing key is
// fatal in database mode; in dev mode an ephemeral key is generated so the
// server comes up with zero configuration, at the cost of sessions dying on
// restart.
func loadSessionConfig(log Logger, dbEnabled bool) (session.Config, error) {
	cfg, err := session.LoadConfigFromEnv()
	if err == nil {
		return cfg, nil
	}
	if dbEnabled {
		return session.Config{}, errors.New("app: invalid session config; BIDHUB_SESSION_SECRET_KEY_HEX is required when the database is configured")
	}
	if EnvString("BIDHUB_SESSION_SECRET_KEY_HEX", "") != "" {
		// Key present but config still invalid: a malformed TTL or skew.
		// Surface it rather than masking the typo with dev defaults.
		return session.Config{}, errors.New("app: invalid session config; check BIDHUB_SESSION_* values")
	}

	cfg = session.DefaultConfig()
	cfg.SecretKeyHex = paseto.NewV4AsymmetricSecretKey().ExportHex()
	log.Warn("session.key.ephemeral", "reason", "BIDHUB_SESSION_SECRET_KEY_HEX not set")
	return cfg, nil
}

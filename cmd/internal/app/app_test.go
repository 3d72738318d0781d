package app

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func discardLogger() Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNew_MemoryModeComesUpWithZeroConfig(t *testing.T) {
	t.Setenv("BIDHUB_DATABASE_URL", "")
	t.Setenv("BIDHUB_SESSION_SECRET_KEY_HEX", "")
	t.Setenv("BIDHUB_GOOGLE_CLIENT_ID", "")

	a, err := New(LoadConfig(), discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.dbEnabled {
		t.Fatalf("expected in-memory mode")
	}
	if a.auth == nil {
		t.Fatalf("auth handler must be wired in memory mode")
	}
}

func TestRegisterHTTP_HealthAndMetrics(t *testing.T) {
	t.Setenv("BIDHUB_DATABASE_URL", "")
	t.Setenv("BIDHUB_SESSION_SECRET_KEY_HEX", "")
	t.Setenv("BIDHUB_GOOGLE_CLIENT_ID", "")

	cfg := LoadConfig()
	a, err := New(cfg, discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	mux := http.NewServeMux()
	registerHTTP(mux, a.log, cfg, nil, false, a.auth, a.metrics)

	for path, want := range map[string]int{
		"/healthz": http.StatusOK,
		"/readyz":  http.StatusOK,
		"/metrics": http.StatusOK,
	} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		if rec.Code != want {
			t.Fatalf("%s: status %d, want %d", path, rec.Code, want)
		}
	}

	// Signup works end to end against the in-memory store.
	req := httptest.NewRequest(http.MethodPost, "/auth/signup",
		bytes.NewReader([]byte(`{"email":"zoe@example.com","password":"Sup3rSecret"}`)))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup via app mux: status %d body %s", rec.Code, rec.Body.String())
	}
}

func TestRegisterHTTP_ReadyzRequiresDB(t *testing.T) {
	t.Setenv("BIDHUB_DATABASE_URL", "")
	t.Setenv("BIDHUB_SESSION_SECRET_KEY_HEX", "")

	cfg := LoadConfig()
	cfg.ReadinessRequireDB = true

	a, err := New(cfg, discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	mux := http.NewServeMux()
	registerHTTP(mux, a.log, cfg, nil, false, a.auth, a.metrics)

	req := httptest.NewRequest(http.MethodGet, "/readyz", nil)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz without db: status %d, want 503", rec.Code)
	}
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	t.Setenv("BIDHUB_DATABASE_URL", "")
	t.Setenv("BIDHUB_SESSION_SECRET_KEY_HEX", "")

	cfg := LoadConfig()
	cfg.HTTPAddr = "127.0.0.1:0"

	a, err := New(cfg, discardLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not stop after context cancel")
	}
}

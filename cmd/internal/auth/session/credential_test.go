package session

import (
	"errors"
	"testing"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

func testManager(t *testing.T, mutate func(*Config)) Manager {
	t.Helper()
	cfg := DefaultConfig()
	cfg.SecretKeyHex = paseto.NewV4AsymmetricSecretKey().ExportHex()
	if mutate != nil {
		mutate(&cfg)
	}
	m, err := NewPasetoV4PublicManager(cfg)
	if err != nil {
		t.Fatalf("NewPasetoV4PublicManager: %v", err)
	}
	return m
}

func TestIssueAndVerify_Roundtrip(t *testing.T) {
	t.Parallel()

	m := testManager(t, nil)
	now := time.Now().UTC()

	cred, exp, err := m.Issue("01BX5ZZKBKACTAV9WEVGEMMVS0", now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if want := now.Add(time.Hour); !exp.Equal(want) {
		t.Fatalf("exp = %v, want %v", exp, want)
	}

	claims, err := m.Verify(cred, now)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.AccountID != "01BX5ZZKBKACTAV9WEVGEMMVS0" {
		t.Fatalf("account id = %q", claims.AccountID)
	}
	if claims.Issuer != "bidhub" {
		t.Fatalf("issuer = %q", claims.Issuer)
	}
}

func TestVerify_LifetimeBoundaries(t *testing.T) {
	t.Parallel()

	m := testManager(t, nil)
	now := time.Now().UTC()

	cred, _, err := m.Issue("01BX5ZZKBKACTAV9WEVGEMMVS0", now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	// Still valid just inside the hour (skew makes the check stricter by
	// 30s, so stay clear of the edge).
	if _, err := m.Verify(cred, now.Add(59*time.Minute)); err != nil {
		t.Fatalf("credential should hold at 59m: %v", err)
	}

	// Dead just past it.
	if _, err := m.Verify(cred, now.Add(61*time.Minute)); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected ErrInvalidSession at 61m, got %v", err)
	}
}

func TestVerify_RejectsForeignIssuer(t *testing.T) {
	t.Parallel()

	key := paseto.NewV4AsymmetricSecretKey().ExportHex()
	issuerA := testManager(t, func(c *Config) { c.SecretKeyHex = key })
	issuerB := testManager(t, func(c *Config) {
		c.SecretKeyHex = key
		c.Issuer = "bidhub-staging"
	})
	now := time.Now().UTC()

	cred, _, err := issuerB.Issue("01BX5ZZKBKACTAV9WEVGEMMVS0", now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	// Same key, different issuer: must be refused.
	if _, err := issuerA.Verify(cred, now); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected ErrInvalidSession, got %v", err)
	}
}

func TestVerify_RejectsForeignKey(t *testing.T) {
	t.Parallel()

	a := testManager(t, nil)
	b := testManager(t, nil)
	now := time.Now().UTC()

	cred, _, err := b.Issue("01BX5ZZKBKACTAV9WEVGEMMVS0", now)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := a.Verify(cred, now); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected ErrInvalidSession, got %v", err)
	}
}

func TestVerify_RejectsGarbage(t *testing.T) {
	t.Parallel()

	m := testManager(t, nil)
	now := time.Now().UTC()

	for _, cred := range []string{
		"",
		"v4.public.not-a-token",
		"v2.public.AAAA",
	} {
		if _, err := m.Verify(cred, now); !errors.Is(err, ErrInvalidSession) {
			t.Fatalf("expected ErrInvalidSession for %q, got %v", cred, err)
		}
	}
}

func TestIssue_RequiresAccountID(t *testing.T) {
	t.Parallel()

	m := testManager(t, nil)
	if _, _, err := m.Issue("", time.Now().UTC()); !errors.Is(err, ErrInvalidSession) {
		t.Fatalf("expected ErrInvalidSession, got %v", err)
	}
}

func TestNewPasetoV4PublicManager_BadConfig(t *testing.T) {
	t.Parallel()

	cases := []Config{
		{},
		{SecretKeyHex: "zz", Issuer: "bidhub", TTL: time.Hour},
		{SecretKeyHex: paseto.NewV4AsymmetricSecretKey().ExportHex(), Issuer: "", TTL: time.Hour},
		{SecretKeyHex: paseto.NewV4AsymmetricSecretKey().ExportHex(), Issuer: "bidhub", TTL: 0},
	}
	for i, cfg := range cases {
		if _, err := NewPasetoV4PublicManager(cfg); !errors.Is(err, ErrConfig) {
			t.Fatalf("case %d: expected ErrConfig, got %v", i, err)
		}
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	key := paseto.NewV4AsymmetricSecretKey().ExportHex()
	t.Setenv("BIDHUB_SESSION_SECRET_KEY_HEX", key)
	t.Setenv("BIDHUB_SESSION_TTL", "30m")
	t.Setenv("BIDHUB_SESSION_ISSUER", "bidhub-test")
	t.Setenv("BIDHUB_SESSION_CLOCK_SKEW", "5s")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv: %v", err)
	}
	if cfg.TTL != 30*time.Minute || cfg.Issuer != "bidhub-test" || cfg.ClockSkew != 5*time.Second {
		t.Fatalf("unexpected config: %+v", cfg)
	}

	t.Setenv("BIDHUB_SESSION_TTL", "bogus")
	if _, err := LoadConfigFromEnv(); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for bad TTL, got %v", err)
	}

	t.Setenv("BIDHUB_SESSION_TTL", "30m")
	t.Setenv("BIDHUB_SESSION_SECRET_KEY_HEX", "")
	if _, err := LoadConfigFromEnv(); !errors.Is(err, ErrConfig) {
		t.Fatalf("expected ErrConfig for missing key, got %v", err)
	}
}

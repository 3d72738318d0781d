package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	paseto "aidanwoods.dev/go-paseto"

	"bidhub/cmd/identity"
	"bidhub/cmd/internal/auth/session"
	"bidhub/cmd/internal/auth/throttle"
	"bidhub/cmd/security/password"
)

type staticVerifier struct {
	identity identity.ExternalIdentity
	err      error
}

func (s *staticVerifier) Verify(context.Context, string) (identity.ExternalIdentity, error) {
	return s.identity, s.err
}

type testEnv struct {
	handler *Handler
	mux     *http.ServeMux
	store   *identity.MemoryStore
	tokens  *staticVerifier
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	hasher := password.DefaultConfig()
	hasher.Params.MemoryKiB = 8 * 1024
	hasher.Params.Iterations = 1
	hasher.Params.Parallelism = 1

	store := identity.NewMemoryStore()
	tokens := &staticVerifier{err: identity.ErrInvalidToken}
	tracker := throttle.New(throttle.Config{MaxFailures: 5, Lockout: 15 * time.Minute})

	resolver, err := identity.NewResolver(store, hasher, tokens, tracker, identity.ResolverConfig{})
	if err != nil {
		t.Fatalf("NewResolver: %v", err)
	}

	sessCfg := session.DefaultConfig()
	sessCfg.SecretKeyHex = paseto.NewV4AsymmetricSecretKey().ExportHex()
	sessions, err := session.NewPasetoV4PublicManager(sessCfg)
	if err != nil {
		t.Fatalf("NewPasetoV4PublicManager: %v", err)
	}

	h, err := NewHandler(nil, LoadConfigFromEnv(), resolver, store, sessions)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}

	mux := http.NewServeMux()
	h.Register(mux)

	return &testEnv{handler: h, mux: mux, store: store, tokens: tokens}
}

func (e *testEnv) post(t *testing.T, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) get(t *testing.T, path, bearer string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func decodeAuth(t *testing.T, rec *httptest.ResponseRecorder) authResponse {
	t.Helper()
	var resp authResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode auth response: %v", err)
	}
	return resp
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp errorResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return resp.Error.Code
}

func mustSignup(t *testing.T, e *testEnv, email, pw string) authResponse {
	t.Helper()
	rec := e.post(t, "/auth/signup", signupRequest{Email: email, Password: pw})
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup %s: status %d body %s", email, rec.Code, rec.Body.String())
	}
	return decodeAuth(t, rec)
}

func TestSignup(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)

	resp := mustSignup(t, e, "alice@example.com", "Sup3rSecret")
	if resp.Account.Email != "alice@example.com" || !resp.Account.Verified {
		t.Fatalf("unexpected account: %+v", resp.Account)
	}
	if resp.Session.Credential == "" {
		t.Fatalf("signup must issue a session credential")
	}

	// The issued credential works against /auth/me immediately.
	rec := e.get(t, "/auth/me", resp.Session.Credential)
	if rec.Code != http.StatusOK {
		t.Fatalf("me after signup: status %d", rec.Code)
	}

	// Duplicate email, case-insensitively.
	rec = e.post(t, "/auth/signup", signupRequest{Email: "ALICE@example.com", Password: "Sup3rSecret"})
	if rec.Code != http.StatusConflict || errorCode(t, rec) != "email_taken" {
		t.Fatalf("duplicate signup: status %d code %s", rec.Code, rec.Body.String())
	}

	// Policy violations are a client error, not a 500.
	rec = e.post(t, "/auth/signup", signupRequest{Email: "bob@example.com", Password: "weak"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("weak password: status %d", rec.Code)
	}
}

func TestLogin(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	mustSignup(t, e, "carol@example.com", "Sup3rSecret")

	rec := e.post(t, "/auth/login", loginRequest{Email: "Carol@Example.COM", Password: "Sup3rSecret"})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: status %d body %s", rec.Code, rec.Body.String())
	}
	resp := decodeAuth(t, rec)
	if resp.IsNewAccount {
		t.Fatalf("login must not report a new account")
	}
	if resp.Account.LastLoginAt == nil {
		t.Fatalf("login must record last_login_at")
	}
}

func TestLogin_OpaqueFailureBodies(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	mustSignup(t, e, "dave@example.com", "Sup3rSecret")

	wrongPw := e.post(t, "/auth/login", loginRequest{Email: "dave@example.com", Password: "Wr0ngSecret"})
	unknown := e.post(t, "/auth/login", loginRequest{Email: "nobody@example.com", Password: "Sup3rSecret"})

	if wrongPw.Code != http.StatusUnauthorized || unknown.Code != http.StatusUnauthorized {
		t.Fatalf("status codes: %d, %d", wrongPw.Code, unknown.Code)
	}
	// Byte-identical bodies: nothing distinguishes the two failures.
	if wrongPw.Body.String() != unknown.Body.String() {
		t.Fatalf("failure bodies diverge:\n%s\n%s", wrongPw.Body.String(), unknown.Body.String())
	}
}

func TestLogin_ThrottleAfterFiveFailures(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	mustSignup(t, e, "eve@example.com", "Sup3rSecret")

	for i := 0; i < 5; i++ {
		rec := e.post(t, "/auth/login", loginRequest{Email: "eve@example.com", Password: "Wr0ngSecret"})
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: status %d", i+1, rec.Code)
		}
	}

	// The sixth attempt is blocked even with the correct password.
	rec := e.post(t, "/auth/login", loginRequest{Email: "eve@example.com", Password: "Sup3rSecret"})
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatalf("429 must carry Retry-After")
	}
	if errorCode(t, rec) != "too_many_attempts" {
		t.Fatalf("unexpected code: %s", rec.Body.String())
	}
}

func TestTokenLogin(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	e.tokens.err = nil
	e.tokens.identity = identity.ExternalIdentity{
		SubjectID:     "google-sub-1",
		Email:         "grace@example.com",
		EmailVerified: true,
		GivenName:     "Grace",
	}

	// First token login provisions the account.
	rec := e.post(t, "/auth/login/token", tokenLoginRequest{IdentityToken: "raw"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("first token login: status %d body %s", rec.Code, rec.Body.String())
	}
	first := decodeAuth(t, rec)
	if !first.IsNewAccount {
		t.Fatalf("expected is_new_account on first login")
	}

	// Second one resolves the same account.
	rec = e.post(t, "/auth/login/token", tokenLoginRequest{IdentityToken: "raw"})
	if rec.Code != http.StatusOK {
		t.Fatalf("second token login: status %d", rec.Code)
	}
	second := decodeAuth(t, rec)
	if second.IsNewAccount || second.Account.ID != first.Account.ID {
		t.Fatalf("expected the same account back: %+v", second)
	}
}

func TestTokenLogin_InvalidToken(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)

	rec := e.post(t, "/auth/login/token", tokenLoginRequest{IdentityToken: "garbage"})
	if rec.Code != http.StatusUnauthorized || errorCode(t, rec) != "invalid_token" {
		t.Fatalf("status %d body %s", rec.Code, rec.Body.String())
	}
}

func TestTokenLogin_IdentityConflict(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	e.tokens.err = nil
	e.tokens.identity = identity.ExternalIdentity{
		SubjectID: "google-sub-a", Email: "heidi@example.com", EmailVerified: true,
	}
	if rec := e.post(t, "/auth/login/token", tokenLoginRequest{IdentityToken: "raw"}); rec.Code != http.StatusCreated {
		t.Fatalf("seed login: %d", rec.Code)
	}

	e.tokens.identity.SubjectID = "google-sub-b"
	rec := e.post(t, "/auth/login/token", tokenLoginRequest{IdentityToken: "raw"})
	if rec.Code != http.StatusConflict || errorCode(t, rec) != "identity_conflict" {
		t.Fatalf("status %d body %s", rec.Code, rec.Body.String())
	}
}

func TestVerify(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	resp := mustSignup(t, e, "ivan@example.com", "Sup3rSecret")

	rec := e.post(t, "/auth/verify", verifyRequest{Credential: resp.Session.Credential})
	if rec.Code != http.StatusOK {
		t.Fatalf("verify: status %d body %s", rec.Code, rec.Body.String())
	}
	var vr verifyResponse
	if err := json.NewDecoder(rec.Body).Decode(&vr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if vr.AccountID != resp.Account.ID {
		t.Fatalf("account id mismatch: %s vs %s", vr.AccountID, resp.Account.ID)
	}

	// A tampered credential is refused.
	tampered := resp.Session.Credential[:len(resp.Session.Credential)-2] + "xx"
	rec = e.post(t, "/auth/verify", verifyRequest{Credential: tampered})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("tampered credential: status %d", rec.Code)
	}
}

func TestVerify_DeactivatedAccount(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)
	resp := mustSignup(t, e, "judy@example.com", "Sup3rSecret")

	if err := e.store.SetActive(context.Background(), resp.Account.ID, false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}

	// The credential is still cryptographically valid, but the account
	// re-check refuses it.
	rec := e.post(t, "/auth/verify", verifyRequest{Credential: resp.Session.Credential})
	if rec.Code != http.StatusForbidden || errorCode(t, rec) != "account_deactivated" {
		t.Fatalf("status %d body %s", rec.Code, rec.Body.String())
	}

	rec = e.get(t, "/auth/me", resp.Session.Credential)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("me on deactivated account: status %d", rec.Code)
	}
}

func TestMe_Unauthorized(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)

	if rec := e.get(t, "/auth/me", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing bearer: status %d", rec.Code)
	}
	if rec := e.get(t, "/auth/me", "not-a-credential"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad bearer: status %d", rec.Code)
	}
}

func TestMethodAndBodyValidation(t *testing.T) {
	t.Parallel()
	e := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/auth/login", nil)
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET login: status %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader("{not json"))
	rec = httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad json: status %d", rec.Code)
	}

	// Unknown fields are rejected rather than silently dropped.
	req = httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"email":"x@example.com","password":"Sup3rSecret","admin":true}`))
	rec = httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown field: status %d", rec.Code)
	}

	// Oversized bodies are cut off by MaxBytesReader.
	huge := fmt.Sprintf(`{"email":"x@example.com","password":%q}`, strings.Repeat("A", 2<<20))
	req = httptest.NewRequest(http.MethodPost, "/auth/login", io.NopCloser(strings.NewReader(huge)))
	rec = httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("oversized body: status %d", rec.Code)
	}
}

func TestBearerToken(t *testing.T) {
	t.Parallel()

	cases := []struct {
		header string
		want   string
	}{
		{"", ""},
		{"Bearer abc", "abc"},
		{"bearer abc", "abc"},
		{"Basic abc", ""},
		{"Bearer", ""},
		{"Bearer   abc  ", "abc"},
	}
	for _, tc := range cases {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		if tc.header != "" {
			r.Header.Set("Authorization", tc.header)
		}
		if got := bearerToken(r); got != tc.want {
			t.Fatalf("bearerToken(%q) = %q, want %q", tc.header, got, tc.want)
		}
	}
}

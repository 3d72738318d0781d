// Package authapi wires the HTTP auth endpoints to the identity resolver
// and the session credential manager.
package authapi

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bidhub/cmd/identity"
	"bidhub/cmd/internal/auth/session"
)

// Metrics counts authentication outcomes. The app layer provides a
// Prometheus-backed implementation; tests use the no-op.
type Metrics interface {
	AuthOutcome(method, outcome string)
}

// NoopMetrics discards all observations.
type NoopMetrics struct{}

func (NoopMetrics) AuthOutcome(string, string) {}

// Handler wires HTTP auth endpoints to the identity resolver and session
// manager.
type Handler struct {
	log *slog.Logger
	cfg Config

	resolver *identity.Resolver
	store    identity.Store
	sessions session.Manager
	metrics  Metrics
}

// HandlerOption configures optional auth handler dependencies.
type HandlerOption func(*Handler)

// WithMetrics overrides the default no-op outcome metrics.
func WithMetrics(m Metrics) HandlerOption {
	return func(h *Handler) {
		if h == nil || m == nil {
			return
		}
		h.metrics = m
	}
}

// NewHandler constructs an auth Handler.
func NewHandler(log *slog.Logger, cfg Config, resolver *identity.Resolver, store identity.Store, sessions session.Manager, opts ...HandlerOption) (*Handler, error) {
	if log == nil {
		log = slog.Default()
	}
	if resolver == nil {
		return nil, errors.New("auth: nil resolver")
	}
	if store == nil {
		return nil, errors.New("auth: nil store")
	}
	if sessions == nil {
		return nil, errors.New("auth: nil session manager")
	}

	h := &Handler{
		log:      log,
		cfg:      cfg,
		resolver: resolver,
		store:    store,
		sessions: sessions,
		metrics:  NoopMetrics{},
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(h)
	}
	return h, nil
}

// Register wires auth routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/auth/signup", h.handleSignup)
	mux.HandleFunc("/auth/login", h.handleLogin)
	mux.HandleFunc("/auth/login/token", h.handleTokenLogin)
	mux.HandleFunc("/auth/verify", h.handleVerify)
	mux.HandleFunc("/auth/me", h.handleMe)
}

// ---- handlers ----

func (h *Handler) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req signupRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}

	acct, err := h.resolver.Register(r.Context(), req.Email, req.Password, req.DisplayName)
	if err != nil {
		h.metrics.AuthOutcome("signup", outcomeOf(err))
		h.logAuthFailure(r, "auth.signup.fail", err)
		h.writeAuthError(w, err)
		return
	}

	cred, exp, err := h.sessions.Issue(acct.ID, time.Now().UTC())
	if err != nil {
		h.log.Error("auth.signup.issue_credential.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.metrics.AuthOutcome("signup", "ok")
	h.log.Info("auth.signup.ok", "account_id", acct.ID)
	writeJSON(w, http.StatusCreated, authResponse{
		Account: toAccountResponse(acct),
		Session: sessionResponse{Credential: cred, ExpiresAt: exp},
	})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}

	res, err := h.resolver.AuthenticateWithPassword(r.Context(), req.Email, req.Password)
	if err != nil {
		h.metrics.AuthOutcome("password", outcomeOf(err))
		h.logAuthFailure(r, "auth.login.fail", err)
		h.writeAuthError(w, err)
		return
	}

	cred, exp, err := h.sessions.Issue(res.Account.ID, time.Now().UTC())
	if err != nil {
		h.log.Error("auth.login.issue_credential.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	h.metrics.AuthOutcome("password", "ok")
	h.log.Info("auth.login.ok", "account_id", res.Account.ID)
	writeJSON(w, http.StatusOK, authResponse{
		Account: toAccountResponse(res.Account),
		Session: sessionResponse{Credential: cred, ExpiresAt: exp},
	})
}

func (h *Handler) handleTokenLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req tokenLoginRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}
	if strings.TrimSpace(req.IdentityToken) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "identity_token is required")
		return
	}

	res, err := h.resolver.AuthenticateWithIdentityToken(r.Context(), req.IdentityToken)
	if err != nil {
		h.metrics.AuthOutcome("token", outcomeOf(err))
		h.logAuthFailure(r, "auth.login.token.fail", err)
		h.writeAuthError(w, err)
		return
	}

	cred, exp, err := h.sessions.Issue(res.Account.ID, time.Now().UTC())
	if err != nil {
		h.log.Error("auth.login.token.issue_credential.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}

	status := http.StatusOK
	if res.IsNewAccount {
		status = http.StatusCreated
	}
	h.metrics.AuthOutcome("token", "ok")
	h.log.Info("auth.login.token.ok", "account_id", res.Account.ID, "new_account", res.IsNewAccount)
	writeJSON(w, status, authResponse{
		Account:      toAccountResponse(res.Account),
		Session:      sessionResponse{Credential: cred, ExpiresAt: exp},
		IsNewAccount: res.IsNewAccount,
	})
}

// handleVerify checks a credential on behalf of another service. The
// signature proves the session; the store lookup re-checks that the account
// still exists and is active, so deactivation takes effect without waiting
// for the credential to expire.
func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req verifyRequest
	if err := decodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", "invalid request body")
		return
	}

	claims, _, ok := h.authenticate(r.Context(), w, req.Credential)
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, verifyResponse{
		AccountID: claims.AccountID,
		ExpiresAt: claims.ExpiresAt,
	})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	_, acct, ok := h.authenticate(r.Context(), w, bearerToken(r))
	if !ok {
		return
	}

	writeJSON(w, http.StatusOK, meResponse{Account: toAccountResponse(acct)})
}

// authenticate verifies a credential and re-checks the account. On failure
// it writes the response itself and returns ok=false.
func (h *Handler) authenticate(ctx context.Context, w http.ResponseWriter, credential string) (session.Claims, identity.Account, bool) {
	if strings.TrimSpace(credential) == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing credential")
		return session.Claims{}, identity.Account{}, false
	}

	claims, err := h.sessions.Verify(credential, time.Now().UTC())
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid credential")
		return session.Claims{}, identity.Account{}, false
	}

	acct, err := h.store.GetAccountByID(ctx, claims.AccountID)
	if err != nil {
		if identity.IsNotFound(err) {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid credential")
		} else {
			h.log.Error("auth.verify.store.fail", "err", err)
			writeError(w, http.StatusServiceUnavailable, "server_busy", "please retry later")
		}
		return session.Claims{}, identity.Account{}, false
	}
	if !acct.Active {
		writeError(w, http.StatusForbidden, "account_deactivated", "account is deactivated")
		return session.Claims{}, identity.Account{}, false
	}

	return claims, acct, true
}

// ---- error mapping ----

// writeAuthError maps resolver errors onto the wire contract. The mapping
// is fixed: clients can rely on these codes, and nothing beyond them leaks.
func (h *Handler) writeAuthError(w http.ResponseWriter, err error) {
	var tme identity.TooManyAttemptsError
	switch {
	case errors.As(err, &tme):
		if tme.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.FormatInt(int64(tme.RetryAfter.Seconds()), 10))
		}
		writeError(w, http.StatusTooManyRequests, "too_many_attempts", "too many attempts")
	case errors.Is(err, identity.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
	case errors.Is(err, identity.ErrAccountDeactivated):
		writeError(w, http.StatusForbidden, "account_deactivated", "account is deactivated")
	case errors.Is(err, identity.ErrInvalidToken):
		writeError(w, http.StatusUnauthorized, "invalid_token", "invalid identity token")
	case errors.Is(err, identity.ErrIdentityConflict):
		writeError(w, http.StatusConflict, "identity_conflict", "email is bound to a different identity")
	case errors.Is(err, identity.ErrLinkNotPermitted):
		writeError(w, http.StatusConflict, "link_not_permitted", "account exists; sign in with your password to link")
	case identity.IsConflict(err):
		writeError(w, http.StatusConflict, "email_taken", "email is already registered")
	case identity.IsInvalidInput(err):
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request")
	case identity.IsUnavailable(err):
		writeError(w, http.StatusServiceUnavailable, "server_busy", "please retry later")
	default:
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}

// outcomeOf labels an error for metrics without cardinality surprises.
func outcomeOf(err error) string {
	var tme identity.TooManyAttemptsError
	switch {
	case errors.As(err, &tme):
		return "throttled"
	case errors.Is(err, identity.ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, identity.ErrAccountDeactivated):
		return "deactivated"
	case errors.Is(err, identity.ErrInvalidToken):
		return "invalid_token"
	case errors.Is(err, identity.ErrIdentityConflict):
		return "identity_conflict"
	case errors.Is(err, identity.ErrLinkNotPermitted):
		return "link_not_permitted"
	case identity.IsConflict(err):
		return "conflict"
	case identity.IsInvalidInput(err):
		return "invalid_request"
	case identity.IsUnavailable(err):
		return "unavailable"
	default:
		return "error"
	}
}

func (h *Handler) logAuthFailure(r *http.Request, event string, err error) {
	attrs := []any{"reason", outcomeOf(err)}
	if ip := clientIP(r, h.cfg.TrustProxy); ip != nil {
		attrs = append(attrs, "ip", ip.String())
	}
	// Server faults are errors; rejected credentials are expected traffic.
	switch outcomeOf(err) {
	case "unavailable", "error":
		attrs = append(attrs, "err", err)
		h.log.Error(event, attrs...)
	default:
		h.log.Info(event, attrs...)
	}
}

// ---- helpers ----

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if raw == "" {
		return ""
	}
	parts := strings.SplitN(raw, " ", 2)
	if len(parts) != 2 {
		return ""
	}
	if !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	for _, p := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}

// Package idtoken verifies third-party identity tokens (Google ID tokens)
// and extracts the external identity claims the resolver needs.
//
// Every verification failure collapses to identity.ErrInvalidToken. Callers
// and clients never learn whether the signature, issuer, audience, or
// lifetime check failed; a token is either good or it is not.
package idtoken

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"bidhub/cmd/identity"
)

// GoogleJWKSURL is Google's published signing-key set.
const GoogleJWKSURL = "https://www.googleapis.com/oauth2/v3/certs"

// googleIssuers are the two issuer values Google emits, with and without
// the scheme. Both are accepted.
var googleIssuers = []string{"accounts.google.com", "https://accounts.google.com"}

// clockSkew absorbs small clock drift between us and the provider.
const clockSkew = 30 * time.Second

// Verifier validates RS256 identity tokens against a key set.
type Verifier struct {
	keys     jwt.Keyfunc
	clientID string
	issuers  []string
}

// New builds a Verifier from an explicit key source. Tests inject a static
// key; production uses NewGoogleVerifier.
func New(keys jwt.Keyfunc, clientID string, issuers []string) (*Verifier, error) {
	if keys == nil {
		return nil, fmt.Errorf("idtoken: nil keyfunc")
	}
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return nil, fmt.Errorf("idtoken: empty client id")
	}
	if len(issuers) == 0 {
		issuers = googleIssuers
	}
	return &Verifier{keys: keys, clientID: clientID, issuers: issuers}, nil
}

// NewGoogleVerifier wires a Verifier to Google's JWKS endpoint. The key set
// refreshes itself in the background until ctx is canceled; a fetch failure
// at verification time fails closed as an invalid token.
func NewGoogleVerifier(ctx context.Context, clientID string) (*Verifier, error) {
	kf, err := keyfunc.NewDefaultCtx(ctx, []string{GoogleJWKSURL})
	if err != nil {
		return nil, fmt.Errorf("idtoken: jwks init: %w", err)
	}
	return New(kf.Keyfunc, clientID, googleIssuers)
}

// claims is the subset of Google's ID token payload bidhub reads.
type claims struct {
	jwt.RegisteredClaims
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	GivenName     string `json:"given_name"`
	FamilyName    string `json:"family_name"`
	Picture       string `json:"picture"`
}

// Verify parses and validates raw, returning the external identity it
// asserts. Any failure returns identity.ErrInvalidToken and nothing else.
func (v *Verifier) Verify(_ context.Context, raw string) (identity.ExternalIdentity, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return identity.ExternalIdentity{}, identity.ErrInvalidToken
	}

	var c claims
	token, err := jwt.ParseWithClaims(raw, &c, v.keys,
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithAudience(v.clientID),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(clockSkew),
	)
	if err != nil || !token.Valid {
		return identity.ExternalIdentity{}, identity.ErrInvalidToken
	}

	if !v.issuerAllowed(c.Issuer) {
		return identity.ExternalIdentity{}, identity.ErrInvalidToken
	}
	if strings.TrimSpace(c.Subject) == "" {
		return identity.ExternalIdentity{}, identity.ErrInvalidToken
	}
	// The email anchors account resolution; an address the provider has
	// not verified cannot be trusted to identify its owner.
	if strings.TrimSpace(c.Email) == "" || !c.EmailVerified {
		return identity.ExternalIdentity{}, identity.ErrInvalidToken
	}

	return identity.ExternalIdentity{
		SubjectID:     c.Subject,
		Email:         c.Email,
		EmailVerified: c.EmailVerified,
		GivenName:     c.GivenName,
		FamilyName:    c.FamilyName,
		PictureURL:    c.Picture,
	}, nil
}

func (v *Verifier) issuerAllowed(iss string) bool {
	for _, want := range v.issuers {
		if iss == want {
			return true
		}
	}
	return false
}

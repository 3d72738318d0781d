// Package identity implements bidhub's identity & authentication core.
//
// It contains the Account model, the credential stores (PostgreSQL and
// in-memory), and the account resolver: the state machine that
// authenticates a user by password or by a verified third-party identity
// and reconciles accounts that exist under either method.
//
// This package is intentionally dependency-light and security-first.
package identity

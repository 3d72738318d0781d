// Package session issues and verifies bidhub's stateless session
// credentials.
//
// Credentials are PASETO v4.public tokens signed with an Ed25519 keypair.
// All session state lives inside the credential itself: holding a token
// whose signature and lifetime check out IS the session. There is no
// session store and no server-side revocation of individual credentials;
// deactivating an account is enforced by the HTTP boundary re-checking the
// account on each authenticated request.
//
// Transport integration is intentionally out of scope here.
package session

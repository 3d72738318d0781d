// Package password provides password hashing and verification for bidhub.
//
// It implements Argon2id hashing with a PHC-style encoded string format:
// - Configurable Argon2id parameters (via environment variables)
// - Password policy validation (length + character classes)
// - Strict hash decoding and verification with anti-DoS bounds
//
// Security notes:
// - Hash strings are treated as untrusted input during Verify and are validated accordingly.
// - Verification refuses hashes with parameters that exceed reasonable bounds.
// - Comparison of derived keys is constant time.
package password

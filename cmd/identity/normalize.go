package identity

import "strings"

// NormalizeEmail performs case-insensitive canonicalization. The normalized
// form is the sole natural key used to resolve accounts across both
// authentication paths, and the throttle key for password logins.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

package password

import (
	"unicode"
	"unicode/utf8"
)

// Validate checks password policy. It does not mutate input.
func (c Config) Validate(password string) error {
	// Count characters (runes), not bytes, to be user-friendly.
	n := utf8.RuneCountInString(password)

	if n < c.Policy.MinLength {
		return ErrPasswordTooShort
	}
	if n > c.Policy.MaxLength {
		return ErrPasswordTooLong
	}

	if c.Policy.RequireMixedClasses {
		if !hasMixedClasses(password) {
			return ErrMissingCharacters
		}
	}

	return nil
}

// hasMixedClasses reports whether the password contains at least one
// uppercase letter, one lowercase letter, and one digit.
func hasMixedClasses(pw string) bool {
	var upper, lower, digit bool
	for _, r := range pw {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
		if upper && lower && digit {
			return true
		}
	}
	return false
}

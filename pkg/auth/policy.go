package auth

import (
	"fmt"
	"strings"
	"unicode"
)

const (
	passwordMinLength = 8
	passwordMaxLength = 128

	// passwordSpecialSet is the fixed set of accepted special
	// characters.
	passwordSpecialSet = `!@#$%^&*()_+-=[]{}|;:,.<>?`
)

// ValidatePassword checks the password strength policy: 8-128
// characters with at least one lowercase letter, one uppercase letter,
// one digit, and one character from the fixed special set. Every
// violated rule is reported together in a single ValidationError.
func ValidatePassword(password string) error {
	var violations []string

	if len(password) < passwordMinLength {
		violations = append(violations, fmt.Sprintf("must be at least %d characters", passwordMinLength))
	}
	if len(password) > passwordMaxLength {
		violations = append(violations, fmt.Sprintf("must be at most %d characters", passwordMaxLength))
	}

	var hasLower, hasUpper, hasDigit, hasSpecial bool
	for _, r := range password {
		switch {
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsDigit(r):
			hasDigit = true
		case strings.ContainsRune(passwordSpecialSet, r):
			hasSpecial = true
		}
	}

	if !hasLower {
		violations = append(violations, "must contain a lowercase letter")
	}
	if !hasUpper {
		violations = append(violations, "must contain an uppercase letter")
	}
	if !hasDigit {
		violations = append(violations, "must contain a digit")
	}
	if !hasSpecial {
		violations = append(violations, "must contain a special character ("+passwordSpecialSet+")")
	}

	if len(violations) > 0 {
		return &ValidationError{Violations: violations}
	}
	return nil
}

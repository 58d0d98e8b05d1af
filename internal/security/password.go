package security

import (
	"crypto/subtle"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// PasswordMatches compares a supplied operator password with the configured
// one. A configured value that looks like a bcrypt hash is checked as such.
func PasswordMatches(configured, supplied string) bool {
	if configured == "" || supplied == "" {
		return false
	}
	if strings.HasPrefix(configured, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(configured), []byte(supplied)) == nil
	}
	return subtle.ConstantTimeCompare([]byte(configured), []byte(supplied)) == 1
}

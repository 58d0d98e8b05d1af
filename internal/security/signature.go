// Package security holds the request-authenticity check, the interactive-form
// cipher and the form correlation tokens.
package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/importauto/leadline/internal/core/domain"
)

// SignatureHeader carries the body HMAC on every signed webhook request.
const SignatureHeader = "X-Hub-Signature-256"

const signaturePrefix = "sha256="

var (
	ErrMissingSignature = errors.New("missing signature")
	ErrSignatureFormat  = errors.New("malformed signature")
	ErrSignatureInvalid = errors.New("signature mismatch")
)

// Sign returns the header value for body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature reports whether header is a valid signature of body.
func VerifySignature(secret string, body []byte, header string) bool {
	return VerifySignatureDetailed(secret, body, header) == nil
}

// VerifySignatureDetailed checks header against an HMAC-SHA256 of the raw body.
// Every failure wraps domain.ErrAuthentication.
func VerifySignatureDetailed(secret string, body []byte, header string) error {
	header = strings.TrimSpace(header)
	if header == "" {
		return fmt.Errorf("%w: %w", domain.ErrAuthentication, ErrMissingSignature)
	}
	if secret == "" {
		return fmt.Errorf("%w: no app secret configured", domain.ErrAuthentication)
	}
	digest, ok := strings.CutPrefix(header, signaturePrefix)
	if !ok {
		return fmt.Errorf("%w: %w", domain.ErrAuthentication, ErrSignatureFormat)
	}
	got, err := hex.DecodeString(digest)
	if err != nil {
		return fmt.Errorf("%w: %w", domain.ErrAuthentication, ErrSignatureFormat)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	if !hmac.Equal(got, mac.Sum(nil)) {
		return fmt.Errorf("%w: %w", domain.ErrAuthentication, ErrSignatureInvalid)
	}
	return nil
}

package security

import (
	"errors"
	"testing"

	"github.com/importauto/leadline/internal/core/domain"
)

func TestVerifySignature_AcceptsOwnSignature(t *testing.T) {
	bodies := [][]byte{
		[]byte(""),
		[]byte(`{"object":"whatsapp_business_account","entry":[]}`),
		[]byte("\x00\x01\x02 binary"),
	}
	for _, body := range bodies {
		if !VerifySignature("app-secret", body, Sign("app-secret", body)) {
			t.Fatalf("expected signature of %q to verify", body)
		}
	}
}

func TestVerifySignature_RejectsBitFlips(t *testing.T) {
	body := []byte(`{"hello":"world"}`)
	header := Sign("app-secret", body)

	for i := range body {
		for bit := 0; bit < 8; bit++ {
			mutated := append([]byte(nil), body...)
			mutated[i] ^= 1 << bit
			if VerifySignature("app-secret", mutated, header) {
				t.Fatalf("flipped bit %d of byte %d still verified", bit, i)
			}
		}
	}
}

func TestVerifySignature_RejectsWrongSecret(t *testing.T) {
	body := []byte("payload")
	if VerifySignature("other", body, Sign("app-secret", body)) {
		t.Fatalf("signature under a different secret verified")
	}
}

func TestVerifySignatureDetailed_Failures(t *testing.T) {
	body := []byte("payload")
	valid := Sign("app-secret", body)

	cases := []struct {
		name   string
		secret string
		header string
		want   error
	}{
		{"missing", "app-secret", "", ErrMissingSignature},
		{"no prefix", "app-secret", valid[len("sha256="):], ErrSignatureFormat},
		{"bad hex", "app-secret", "sha256=zz", ErrSignatureFormat},
		{"truncated", "app-secret", valid[:len(valid)-2], ErrSignatureInvalid},
		{"mismatch", "app-secret", "sha256=" + "00", ErrSignatureInvalid},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := VerifySignatureDetailed(tc.secret, body, tc.header)
			if !errors.Is(err, domain.ErrAuthentication) {
				t.Fatalf("expected ErrAuthentication, got %v", err)
			}
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestVerifySignatureDetailed_EmptySecret(t *testing.T) {
	body := []byte("payload")
	if err := VerifySignatureDetailed("", body, Sign("", body)); !errors.Is(err, domain.ErrAuthentication) {
		t.Fatalf("expected empty secret to be rejected, got %v", err)
	}
}

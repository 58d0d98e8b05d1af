// Package securitytest plays the platform side of the encrypted form
// exchange in tests.
package securitytest

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"testing"

	"golang.org/x/crypto/curve25519"

	"github.com/importauto/leadline/internal/security"
)

// Client encrypts requests to a server public key.
type Client struct {
	serverPublic []byte
	kdf          security.KeyDerivation
}

func NewClient(serverPublic []byte, kdf security.KeyDerivation) *Client {
	return &Client{serverPublic: serverPublic, kdf: kdf}
}

// Encrypt JSON-encodes v and seals it under a fresh ephemeral key. The
// returned SessionKey opens the server's reply.
func (c *Client) Encrypt(t testing.TB, v any) (security.EncryptedFlowRequest, security.SessionKey) {
	t.Helper()
	payload, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return c.EncryptRaw(t, payload)
}

// EncryptRaw seals payload as is.
func (c *Client) EncryptRaw(t testing.TB, payload []byte) (security.EncryptedFlowRequest, security.SessionKey) {
	t.Helper()
	priv := make([]byte, curve25519.ScalarSize)
	if _, err := rand.Read(priv); err != nil {
		t.Fatalf("rand: %v", err)
	}
	pub, err := curve25519.X25519(priv, curve25519.Basepoint)
	if err != nil {
		t.Fatalf("X25519: %v", err)
	}
	shared, err := curve25519.X25519(priv, c.serverPublic)
	if err != nil {
		t.Fatalf("shared secret: %v", err)
	}
	key, err := security.DeriveSessionKey(shared, c.kdf)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}

	block, err := aes.NewCipher(key.Bytes())
	if err != nil {
		t.Fatalf("aes: %v", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		t.Fatalf("gcm: %v", err)
	}
	iv := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		t.Fatalf("rand: %v", err)
	}
	return security.EncryptedFlowRequest{
		EncryptedAESKey:   base64.StdEncoding.EncodeToString(pub),
		InitialVector:     base64.StdEncoding.EncodeToString(iv),
		EncryptedFlowData: base64.StdEncoding.EncodeToString(gcm.Seal(nil, iv, payload, nil)),
	}, key
}

// Tamper flips one bit of the ciphertext.
func Tamper(t testing.TB, req security.EncryptedFlowRequest) security.EncryptedFlowRequest {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(req.EncryptedFlowData)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	raw[0] ^= 0x01
	req.EncryptedFlowData = base64.StdEncoding.EncodeToString(raw)
	return req
}

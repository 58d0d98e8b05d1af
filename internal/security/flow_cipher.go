package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ecdh"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"

	"github.com/importauto/leadline/internal/core/domain"
)

const (
	keySize       = 32
	responseIVLen = 12
	hkdfInfo      = "leadline-flow"
)

// KeyDerivation selects how the AES key is obtained from the X25519 shared secret.
type KeyDerivation string

const (
	// KDFRaw uses the shared secret directly as the AES-256 key.
	KDFRaw KeyDerivation = "raw"
	// KDFHKDF expands the shared secret with HKDF-SHA256.
	KDFHKDF KeyDerivation = "hkdf"
)

// ParseKeyDerivation maps a config value to a KeyDerivation.
func ParseKeyDerivation(s string) (KeyDerivation, error) {
	switch KeyDerivation(strings.ToLower(strings.TrimSpace(s))) {
	case KDFRaw, "":
		return KDFRaw, nil
	case KDFHKDF:
		return KDFHKDF, nil
	}
	return "", fmt.Errorf("unknown flow key derivation %q", s)
}

// EncryptedFlowRequest is the wire form of an encrypted interactive-form request.
type EncryptedFlowRequest struct {
	EncryptedAESKey   string `json:"encrypted_aes_key"`
	InitialVector     string `json:"initial_vector"`
	EncryptedFlowData string `json:"encrypted_flow_data"`
}

// FlowCipher decrypts form requests with the service's static X25519 key.
// It is safe for concurrent use; the key is never modified after construction.
type FlowCipher struct {
	private [keySize]byte
	public  []byte
	kdf     KeyDerivation
}

// NewFlowCipher builds a cipher around a raw 32-byte X25519 private key.
func NewFlowCipher(privateKey []byte, kdf KeyDerivation) (*FlowCipher, error) {
	if len(privateKey) != keySize {
		return nil, fmt.Errorf("flow cipher: private key must be %d bytes, got %d", keySize, len(privateKey))
	}
	pub, err := curve25519.X25519(privateKey, curve25519.Basepoint)
	if err != nil {
		return nil, fmt.Errorf("flow cipher: derive public key: %w", err)
	}
	c := &FlowCipher{public: pub, kdf: kdf}
	copy(c.private[:], privateKey)
	return c, nil
}

// PublicKey returns the X25519 public key counterparties encrypt to.
func (c *FlowCipher) PublicKey() []byte {
	out := make([]byte, len(c.public))
	copy(out, c.public)
	return out
}

// Decrypt opens an inbound request. It returns the plaintext and the
// request-scoped key used to seal the response. All failures wrap
// domain.ErrDecryptionFailed.
func (c *FlowCipher) Decrypt(req EncryptedFlowRequest) ([]byte, SessionKey, error) {
	keyBlob, err := base64.StdEncoding.DecodeString(req.EncryptedAESKey)
	if err != nil {
		return nil, SessionKey{}, decryptErr("decode key blob", err)
	}
	iv, err := base64.StdEncoding.DecodeString(req.InitialVector)
	if err != nil {
		return nil, SessionKey{}, decryptErr("decode iv", err)
	}
	data, err := base64.StdEncoding.DecodeString(req.EncryptedFlowData)
	if err != nil {
		return nil, SessionKey{}, decryptErr("decode flow data", err)
	}
	if len(keyBlob) < keySize {
		return nil, SessionKey{}, decryptErr("key blob", fmt.Errorf("need %d bytes, got %d", keySize, len(keyBlob)))
	}
	if len(iv) == 0 {
		return nil, SessionKey{}, decryptErr("iv", errors.New("empty"))
	}

	shared, err := curve25519.X25519(c.private[:], keyBlob[:keySize])
	if err != nil {
		return nil, SessionKey{}, decryptErr("key exchange", err)
	}
	key, err := deriveKey(shared, c.kdf)
	if err != nil {
		return nil, SessionKey{}, decryptErr("derive key", err)
	}

	gcm, err := newGCM(key.key[:], len(iv))
	if err != nil {
		return nil, SessionKey{}, decryptErr("cipher", err)
	}
	plain, err := gcm.Open(nil, iv, data, nil)
	if err != nil {
		return nil, SessionKey{}, decryptErr("open", err)
	}
	return plain, key, nil
}

// DecodeRequest decrypts req and parses it as a flow request. Parse failures
// after a successful decryption wrap domain.ErrMalformedPayload.
func (c *FlowCipher) DecodeRequest(req EncryptedFlowRequest) (domain.FlowRequest, SessionKey, error) {
	plain, key, err := c.Decrypt(req)
	if err != nil {
		return domain.FlowRequest{}, SessionKey{}, err
	}
	var fr domain.FlowRequest
	if err := json.Unmarshal(plain, &fr); err != nil {
		return domain.FlowRequest{}, key, fmt.Errorf("%w: %v", domain.ErrMalformedPayload, err)
	}
	return fr, key, nil
}

// SessionKey is the AES-256 key derived for a single request/response pair.
type SessionKey struct {
	key [keySize]byte
	set bool
}

// NewSessionKey wraps raw key bytes.
func NewSessionKey(raw []byte) (SessionKey, error) {
	if len(raw) != keySize {
		return SessionKey{}, fmt.Errorf("session key must be %d bytes", keySize)
	}
	var k SessionKey
	copy(k.key[:], raw)
	k.set = true
	return k, nil
}

// Seal JSON-encodes v, encrypts it under a fresh 12-byte IV and returns
// base64(IV || ciphertext).
func (k SessionKey) Seal(v any) (string, error) {
	if !k.set {
		return "", errors.New("seal: empty session key")
	}
	plain, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("seal: marshal: %w", err)
	}
	gcm, err := newGCM(k.key[:], responseIVLen)
	if err != nil {
		return "", fmt.Errorf("seal: %w", err)
	}
	iv := make([]byte, responseIVLen)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("seal: iv: %w", err)
	}
	out := gcm.Seal(iv, iv, plain, nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Open reverses Seal and returns the clear-text JSON.
func (k SessionKey) Open(sealed string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return nil, decryptErr("decode", err)
	}
	if len(raw) < responseIVLen {
		return nil, decryptErr("open", errors.New("short body"))
	}
	gcm, err := newGCM(k.key[:], responseIVLen)
	if err != nil {
		return nil, decryptErr("cipher", err)
	}
	plain, err := gcm.Open(nil, raw[:responseIVLen], raw[responseIVLen:], nil)
	if err != nil {
		return nil, decryptErr("open", err)
	}
	return plain, nil
}

// DeriveSessionKey turns an X25519 shared secret into the AES key both sides
// use for one exchange.
func DeriveSessionKey(shared []byte, kdf KeyDerivation) (SessionKey, error) {
	return deriveKey(shared, kdf)
}

// Bytes returns a copy of the raw key.
func (k SessionKey) Bytes() []byte {
	out := make([]byte, keySize)
	copy(out, k.key[:])
	return out
}

func deriveKey(shared []byte, kdf KeyDerivation) (SessionKey, error) {
	switch kdf {
	case KDFHKDF:
		raw := make([]byte, keySize)
		if _, err := io.ReadFull(hkdf.New(sha256.New, shared, nil, []byte(hkdfInfo)), raw); err != nil {
			return SessionKey{}, err
		}
		return NewSessionKey(raw)
	default:
		return NewSessionKey(shared)
	}
}

func newGCM(key []byte, nonceSize int) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	if nonceSize == responseIVLen {
		return cipher.NewGCM(block)
	}
	return cipher.NewGCMWithNonceSize(block, nonceSize)
}

func decryptErr(step string, err error) error {
	return fmt.Errorf("%w: %s: %v", domain.ErrDecryptionFailed, step, err)
}

// ParsePrivateKey accepts a PKCS#8 PEM X25519 key or the base64 encoding of
// the raw 32 key bytes.
func ParsePrivateKey(raw string) ([]byte, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("empty private key")
	}
	if block, _ := pem.Decode([]byte(raw)); block != nil {
		key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("parse pkcs8 key: %w", err)
		}
		xk, ok := key.(*ecdh.PrivateKey)
		if !ok || xk.Curve() != ecdh.X25519() {
			return nil, errors.New("private key is not an X25519 key")
		}
		return xk.Bytes(), nil
	}
	b, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("decode base64 key: %w", err)
	}
	if len(b) != keySize {
		return nil, fmt.Errorf("raw key must be %d bytes, got %d", keySize, len(b))
	}
	return b, nil
}

// GenerateKeyPair creates a new X25519 key pair and returns the PKCS#8 PEM
// private key and the base64 public key.
func GenerateKeyPair() (privatePEM string, publicB64 string, err error) {
	key, err := ecdh.X25519().GenerateKey(rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("generate key: %w", err)
	}
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return "", "", fmt.Errorf("marshal key: %w", err)
	}
	privatePEM = string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))
	publicB64 = base64.StdEncoding.EncodeToString(key.PublicKey().Bytes())
	return privatePEM, publicB64, nil
}

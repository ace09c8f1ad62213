package auth

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const sealedPrefix = "v1:"

// TokenCipher seals third-party OAuth tokens before they reach the database.
//
// Sealed form: "v1:" + base64url(nonce || ciphertext), XChaCha20-Poly1305
// with a random 24-byte nonce per value.
type TokenCipher struct {
	aead cipher.AEAD
}

// NewTokenCipher takes a 32-byte key.
func NewTokenCipher(key []byte) (*TokenCipher, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("auth: token key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("auth: creating token cipher: %w", err)
	}
	return &TokenCipher{aead: aead}, nil
}

// ParseTokenKey decodes a hex-encoded 32-byte key (TOKEN_ENCRYPTION_KEY).
func ParseTokenKey(s string) ([]byte, error) {
	key, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("auth: token key is not hex: %w", err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("auth: token key must be %d bytes, got %d", chacha20poly1305.KeySize, len(key))
	}
	return key, nil
}

// DeriveTokenKey derives a sealing key from the session secret with HKDF-SHA256,
// for deployments that do not set a dedicated key. Rotating the session
// secret then invalidates stored tokens, which forces a re-link.
func DeriveTokenKey(secret string) ([]byte, error) {
	if secret == "" {
		return nil, errors.New("auth: cannot derive token key from empty secret")
	}
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte("mochi-mirror oauth token sealing"))
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("auth: deriving token key: %w", err)
	}
	return key, nil
}

// Seal encrypts plaintext.
func (c *TokenCipher) Seal(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plaintext)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("auth: generating nonce: %w", err)
	}
	out := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return sealedPrefix + base64.RawURLEncoding.EncodeToString(out), nil
}

// Open decrypts a value produced by Seal.
func (c *TokenCipher) Open(sealed string) (string, error) {
	if !strings.HasPrefix(sealed, sealedPrefix) {
		return "", errors.New("auth: value is not a sealed token")
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(sealed, sealedPrefix))
	if err != nil {
		return "", fmt.Errorf("auth: decoding sealed token: %w", err)
	}
	if len(raw) < c.aead.NonceSize() {
		return "", errors.New("auth: sealed token too short")
	}
	nonce, ciphertext := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plain, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("auth: opening sealed token: %w", err)
	}
	return string(plain), nil
}

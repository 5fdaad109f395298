// Package secrets encrypts and hashes the designated secret fields of
// metadata documents. Both encodings are idempotent: already-encoded values
// are recognized and left alone.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const encryptedPrefix = "{aes}"

// Service holds the symmetric key for reversible secrets (provisioning
// credentials that must be replayed to downstream systems).
type Service struct {
	key []byte
}

func New(secret string) *Service {
	sum := sha256.Sum256([]byte(secret))
	return &Service{key: sum[:]}
}

// EncryptAndEncode encrypts plain with AES-GCM and marks the result so a
// later pass can detect it is already encoded.
func (s *Service) EncryptAndEncode(plain string) (string, error) {
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return "", fmt.Errorf("new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("new gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plain), nil)
	return encryptedPrefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decode reverses EncryptAndEncode.
func (s *Service) Decode(encoded string) (string, error) {
	if !IsEncryptedSecret(encoded) {
		return "", fmt.Errorf("value is not an encrypted secret")
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(encoded, encryptedPrefix))
	if err != nil {
		return "", fmt.Errorf("decode secret: %w", err)
	}
	block, err := aes.NewCipher(s.key)
	if err != nil {
		return "", fmt.Errorf("new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("new gcm: %w", err)
	}
	if len(raw) < gcm.NonceSize() {
		return "", fmt.Errorf("encrypted secret too short")
	}
	plain, err := gcm.Open(nil, raw[:gcm.NonceSize()], raw[gcm.NonceSize():], nil)
	if err != nil {
		return "", fmt.Errorf("open secret: %w", err)
	}
	return string(plain), nil
}

// IsEncryptedSecret reports whether value was produced by EncryptAndEncode.
func IsEncryptedSecret(value string) bool {
	return strings.HasPrefix(value, encryptedPrefix)
}

// HashSecret one-way hashes an OIDC client secret.
func HashSecret(plain string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash secret: %w", err)
	}
	return string(hash), nil
}

// IsHashedSecret reports whether value is already a bcrypt hash.
func IsHashedSecret(value string) bool {
	return strings.HasPrefix(value, "$2a$") ||
		strings.HasPrefix(value, "$2b$") ||
		strings.HasPrefix(value, "$2y$")
}

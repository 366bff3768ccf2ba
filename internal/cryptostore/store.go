// Package cryptostore encrypts and decrypts individual clinical fields with
// a single store-wide AES-256-GCM key.
package cryptostore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

// KeySize is the length in bytes of a store key.
const KeySize = 32

const canaryPlaintext = "clinical-records-key-canary"

var (
	ErrInvalidKey    = errors.New("invalid key: must be 32 bytes")
	ErrKeyMissing    = errors.New("key file missing while the store already holds encrypted data")
	ErrMalformed     = errors.New("ciphertext is malformed")
	ErrIntegrity     = errors.New("ciphertext failed authentication")
	ErrKeyMismatch   = errors.New("key does not match the encrypted store")
	ErrCanaryMissing = errors.New("key canary is missing")
)

// Store seals and opens field values. It is safe for concurrent use.
type Store struct {
	aead     cipher.AEAD
	indexKey []byte
}

// New builds a Store around a 32-byte key.
func New(key []byte) (*Store, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	// The blind index key is derived so the encryption key never feeds a
	// deterministic output directly.
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte("blind-index"))

	return &Store{aead: aead, indexKey: mac.Sum(nil)}, nil
}

// Encrypt seals plaintext. A nil input yields nil.
func (s *Store) Encrypt(plaintext *string) ([]byte, error) {
	if plaintext == nil {
		return nil, nil
	}
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, []byte(*plaintext), nil), nil
}

// EncryptString seals s, storing the empty string as NULL.
func (s *Store) EncryptString(v string) ([]byte, error) {
	if v == "" {
		return nil, nil
	}
	return s.Encrypt(&v)
}

// Decrypt opens a stored value. It never fails: problems are reported
// through the returned Field.
func (s *Store) Decrypt(ciphertext []byte) Field {
	if ciphertext == nil {
		return Field{}
	}
	nonceSize := s.aead.NonceSize()
	if len(ciphertext) < nonceSize+s.aead.Overhead() {
		return Field{State: Corrupt, Err: ErrMalformed}
	}
	nonce, body := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := s.aead.Open(nil, nonce, body, nil)
	if err != nil {
		return Field{State: Corrupt, Err: ErrIntegrity}
	}
	return Field{State: Valid, Value: string(plaintext)}
}

// BlindIndex returns a deterministic keyed digest of the normalized value,
// used for unique constraints and exact-match lookups on encrypted columns.
func (s *Store) BlindIndex(v string) string {
	v = strings.ToUpper(strings.TrimSpace(v))
	if v == "" {
		return ""
	}
	mac := hmac.New(sha256.New, s.indexKey)
	mac.Write([]byte(v))
	return hex.EncodeToString(mac.Sum(nil))
}

// Canary seals the fixed canary plaintext.
func (s *Store) Canary() ([]byte, error) {
	return s.EncryptString(canaryPlaintext)
}

// VerifyCanary checks that a stored canary was sealed under this key.
func (s *Store) VerifyCanary(stored []byte) error {
	if stored == nil {
		return ErrCanaryMissing
	}
	f := s.Decrypt(stored)
	if !f.Valid() || f.Value != canaryPlaintext {
		return ErrKeyMismatch
	}
	return nil
}

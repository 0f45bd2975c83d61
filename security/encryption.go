package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// KeySize is the AES-256 key size in bytes
const KeySize = 32

// ErrSealedValueInvalid is returned when a sealed value cannot be decoded or authenticated
var ErrSealedValueInvalid = errors.New("sealed value is invalid")

// Encryptor seals values using AES-256-GCM. The sealed form is
// base64(nonce || ciphertext) and is bound to the Encryptor's purpose label
// through the GCM additional data, so a value sealed for one purpose cannot be
// opened as another.
type Encryptor struct {
	aead    cipher.AEAD
	purpose []byte
}

// NewEncryptor creates a new encryptor for the given 32-byte key.
// The optional purpose label is authenticated with every sealed value.
func NewEncryptor(key []byte, purpose ...string) (*Encryptor, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("encryption key must be exactly %d bytes for AES-256, got %d", KeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	enc := &Encryptor{aead: gcm}
	if len(purpose) > 0 {
		enc.purpose = []byte(purpose[0])
	}
	return enc, nil
}

// Seal encrypts plaintext and returns the base64-encoded sealed value.
func (e *Encryptor) Seal(plaintext []byte) (string, error) {
	nonce := make([]byte, e.aead.NonceSize(), e.aead.NonceSize()+len(plaintext)+e.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	// Seal appends to the nonce slice, producing [nonce][ciphertext]
	sealed := e.aead.Seal(nonce, nonce, plaintext, e.purpose)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decodes and authenticates a value produced by Seal.
func (e *Encryptor) Open(sealed string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to decode base64: %v", ErrSealedValueInvalid, err)
	}

	nonceSize := e.aead.NonceSize()
	if len(raw) < nonceSize {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrSealedValueInvalid)
	}

	nonce, ciphertext := raw[:nonceSize], raw[nonceSize:]
	plaintext, err := e.aead.Open(nil, nonce, ciphertext, e.purpose)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSealedValueInvalid, err)
	}

	return plaintext, nil
}

// GenerateKey generates a new random 32-byte key for AES-256
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return key, nil
}

// DeriveKey derives a 32-byte key from secret with HKDF-SHA256. The salt should be
// stable for a given deployment (e.g. the OAuth client ID).
func DeriveKey(secret, salt []byte) ([]byte, error) {
	if len(secret) == 0 {
		return nil, errors.New("secret is required for key derivation")
	}

	key := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, salt, []byte("console-core credential sealing")), key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return key, nil
}

// KeyFromBase64 decodes a base64-encoded encryption key
func KeyFromBase64(s string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 key: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", KeySize, len(key))
	}
	return key, nil
}

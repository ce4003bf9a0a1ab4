package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/teemow/inboxfleet/internal/apperrors"
)

// KeySize is the required key length in bytes (AES-256).
const KeySize = 32

// Cipher encrypts credential blobs at rest with AES-256-GCM.
//
// Output format is base64 (standard encoding) of nonce || ciphertext || tag.
// A fresh random nonce is drawn for every call, so encrypting the same
// plaintext twice yields different ciphertexts.
//
// A Cipher is safe for concurrent use.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher creates a Cipher from a 32 byte key.
// An empty key is a KeyMissing error; any other length is rejected.
func NewCipher(key []byte) (*Cipher, error) {
	if len(key) == 0 {
		return nil, apperrors.New(apperrors.KindKeyMissing, "secret.new_cipher", "no encryption key configured")
	}
	if len(key) != KeySize {
		return nil, apperrors.New(apperrors.KindEncryption, "secret.new_cipher",
			fmt.Sprintf("encryption key must be exactly %d bytes, got %d", KeySize, len(key)))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindEncryption, "secret.new_cipher", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindEncryption, "secret.new_cipher", err)
	}

	return &Cipher{aead: aead}, nil
}

// Encrypt seals plaintext. The empty string is encrypted like any other
// value so stored ciphertexts never reveal emptiness.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	if c == nil || c.aead == nil {
		return "", apperrors.New(apperrors.KindKeyMissing, "secret.encrypt", "cipher not initialised")
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", apperrors.Wrap(apperrors.KindEncryption, "secret.encrypt", fmt.Errorf("generate nonce: %w", err))
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a value produced by Encrypt. Malformed input or a key
// mismatch yields a DecryptError.
func (c *Cipher) Decrypt(encoded string) (string, error) {
	if c == nil || c.aead == nil {
		return "", apperrors.New(apperrors.KindKeyMissing, "secret.decrypt", "cipher not initialised")
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", apperrors.Wrap(apperrors.KindDecrypt, "secret.decrypt", fmt.Errorf("decode base64: %w", err))
	}

	nonceSize := c.aead.NonceSize()
	if len(raw) < nonceSize+c.aead.Overhead() {
		return "", apperrors.New(apperrors.KindDecrypt, "secret.decrypt", "ciphertext too short")
	}

	nonce, sealed := raw[:nonceSize], raw[nonceSize:]
	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", apperrors.Wrap(apperrors.KindDecrypt, "secret.decrypt", err)
	}

	return string(plaintext), nil
}

// GenerateKey returns a new random key. The key must be stored and reused;
// rotating it makes every stored blob undecryptable.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("failed to generate encryption key: %w", err)
	}
	return key, nil
}

// KeyFromBase64 decodes a key supplied through configuration.
func KeyFromBase64(encoded string) ([]byte, error) {
	if encoded == "" {
		return nil, apperrors.New(apperrors.KindKeyMissing, "secret.key_from_base64", "no encryption key configured")
	}

	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid base64 key: %w", err)
	}
	if len(key) != KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d bytes", KeySize, len(key))
	}

	return key, nil
}

// KeyToBase64 encodes a key for configuration.
func KeyToBase64(key []byte) string {
	return base64.StdEncoding.EncodeToString(key)
}

// Package envelope implements the transport-level encryption applied at the
// HTTP edge: every response body is a single opaque string and every request
// may carry one in its "data" field. The scheme is AES-256-GCM with a key
// derived once from the shared secret; it is symmetric edge encryption, not
// end-to-end encryption between clients.
package envelope

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const keySize = 32

// ErrDecrypt reports a malformed or tampered envelope. The message is fixed:
// no plaintext fragment or cipher detail may leak through it.
var ErrDecrypt = errors.New("envelope: decryption failed")

// Codec encrypts and decrypts arbitrary JSON-serializable values.
type Codec struct {
	aead cipher.AEAD
}

// New derives the AES key from secret via HKDF-SHA256 and builds the codec.
// The secret is supplied once at process start.
func New(secret string) (*Codec, error) {
	if secret == "" {
		return nil, fmt.Errorf("envelope: secret required")
	}
	key := make([]byte, keySize)
	reader := hkdf.New(sha256.New, []byte(secret), nil, []byte("chatsvc transport envelope"))
	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("envelope: derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("envelope: cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("envelope: gcm: %w", err)
	}
	return &Codec{aead: aead}, nil
}

// Encrypt marshals v to JSON, seals it, and returns the nonce-prefixed
// ciphertext as a base64 string.
func (c *Codec) Encrypt(v any) (string, error) {
	plain, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("envelope: marshal: %w", err)
	}
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("envelope: nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, plain, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens an opaque string produced by Encrypt and unmarshals the
// plaintext into v. Any failure, from bad base64 to a GCM tag mismatch,
// yields ErrDecrypt.
func (c *Codec) Decrypt(opaque string, v any) error {
	raw, err := base64.StdEncoding.DecodeString(opaque)
	if err != nil {
		return ErrDecrypt
	}
	if len(raw) < c.aead.NonceSize() {
		return ErrDecrypt
	}
	nonce, sealed := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plain, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return ErrDecrypt
	}
	if err := json.Unmarshal(plain, v); err != nil {
		return ErrDecrypt
	}
	return nil
}

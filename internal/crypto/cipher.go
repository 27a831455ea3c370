// Package crypto protects token secrets at rest.
//
// Every Protect call derives a one-off AES-256 key from the master key and a
// fresh random salt (HKDF-SHA256) and seals the plaintext with AES-GCM under a
// fresh nonce, so equal plaintexts never produce equal blobs.
package crypto

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

const (
	blobVersion byte = 1
	saltSize         = 16
	nonceSize        = 12
	tagSize          = 16
	derivedKeySize   = 32
)

var hkdfInfo = []byte("go.pilab.hu/ledger token secret v1")

// ErrDecryption is matched by every *DecryptionError.
var ErrDecryption = errors.New("crypto: decryption failed")

// DecryptionError reports a malformed or tampered ciphertext blob.
type DecryptionError struct {
	Reason string
	Err    error
}

func (e *DecryptionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("crypto: decryption failed: %s: %v", e.Reason, e.Err)
	}
	return "crypto: decryption failed: " + e.Reason
}

func (e *DecryptionError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, ErrDecryption) hold for any DecryptionError.
func (e *DecryptionError) Is(target error) bool { return target == ErrDecryption }

// Cipher encrypts and decrypts opaque strings. It is stateless apart from
// the master key and safe for concurrent use.
type Cipher struct {
	master []byte
	random io.Reader
}

// NewCipher creates a Cipher for the given master key.
func NewCipher(master []byte) (*Cipher, error) {
	if len(master) < MinKeySize {
		return nil, ErrWeakKey
	}
	key := make([]byte, len(master))
	copy(key, master)
	return &Cipher{master: key, random: rand.Reader}, nil
}

// Protect encrypts plaintext into a URL-safe base64 blob.
func (c *Cipher) Protect(plaintext string) (string, error) {
	buf := make([]byte, 1+saltSize+nonceSize, 1+saltSize+nonceSize+len(plaintext)+tagSize)
	buf[0] = blobVersion
	salt := buf[1 : 1+saltSize]
	nonce := buf[1+saltSize:]
	if _, err := io.ReadFull(c.random, salt); err != nil {
		return "", fmt.Errorf("crypto: read salt: %w", err)
	}
	if _, err := io.ReadFull(c.random, nonce); err != nil {
		return "", fmt.Errorf("crypto: read nonce: %w", err)
	}

	aead, err := c.aead(salt)
	if err != nil {
		return "", err
	}
	sealed := aead.Seal(buf, nonce, []byte(plaintext), buf[:1])
	return base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Reveal decrypts a blob produced by Protect. Any malformed, truncated,
// tampered or foreign-key blob fails with a *DecryptionError.
func (c *Cipher) Reveal(blob string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(blob)
	if err != nil {
		return "", &DecryptionError{Reason: "invalid encoding", Err: err}
	}
	if len(raw) < 1+saltSize+nonceSize+tagSize {
		return "", &DecryptionError{Reason: "blob too short"}
	}
	if raw[0] != blobVersion {
		return "", &DecryptionError{Reason: fmt.Sprintf("unknown blob version %d", raw[0])}
	}
	salt := raw[1 : 1+saltSize]
	nonce := raw[1+saltSize : 1+saltSize+nonceSize]
	sealed := raw[1+saltSize+nonceSize:]

	aead, err := c.aead(salt)
	if err != nil {
		return "", &DecryptionError{Reason: "key derivation", Err: err}
	}
	plain, err := aead.Open(nil, nonce, sealed, raw[:1])
	if err != nil {
		return "", &DecryptionError{Reason: "authentication failed", Err: err}
	}
	return string(plain), nil
}

func (c *Cipher) aead(salt []byte) (cipher.AEAD, error) {
	key := make([]byte, derivedKeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, c.master, salt, hkdfInfo), key); err != nil {
		return nil, fmt.Errorf("crypto: derive key: %w", err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: new block cipher: %w", err)
	}
	return cipher.NewGCM(block)
}

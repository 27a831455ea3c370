package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
)

// MinKeySize is the minimum length in bytes of a master encryption key.
const MinKeySize = 32

// ErrWeakKey is returned when a configured master key is too short.
var ErrWeakKey = errors.New("crypto: master key must be at least 32 bytes")

// ParseKey decodes a configured master key. A 64 character hex string is
// decoded to its 32 raw bytes; anything else is used verbatim and must be at
// least MinKeySize bytes long.
func ParseKey(s string) ([]byte, error) {
	if len(s) == 2*MinKeySize {
		if b, err := hex.DecodeString(s); err == nil {
			return b, nil
		}
	}
	if len(s) < MinKeySize {
		return nil, ErrWeakKey
	}
	return []byte(s), nil
}

// GenerateKey returns a fresh random master key in hex form, suitable for
// the encryption_key setting.
func GenerateKey() (string, error) {
	b := make([]byte, MinKeySize)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("crypto: read random key: %w", err)
	}
	return hex.EncodeToString(b), nil
}

package crypto_test

import (
	"encoding/base64"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.pilab.hu/ledger/internal/crypto"
)

func newTestCipher(t *testing.T) *crypto.Cipher {
	t.Helper()
	c, err := crypto.NewCipher([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	return c
}

func TestCipher_RoundTrip(t *testing.T) {
	c := newTestCipher(t)

	inputs := []string{
		"",
		"sensitive-api-key-12345",
		"日本語のトークン",
		"emoji 🔐 and\nnewlines\t",
		strings.Repeat("x", 4096),
	}
	for _, in := range inputs {
		blob, err := c.Protect(in)
		require.NoError(t, err)

		out, err := c.Reveal(blob)
		require.NoError(t, err)
		assert.Equal(t, in, out)
	}
}

func TestCipher_NonDeterministic(t *testing.T) {
	c := newTestCipher(t)
	const secret = "sensitive-api-key-12345"

	first, err := c.Protect(secret)
	require.NoError(t, err)
	second, err := c.Protect(secret)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	for _, blob := range []string{first, second} {
		got, err := c.Reveal(blob)
		require.NoError(t, err)
		assert.Equal(t, secret, got)
	}
}

func TestCipher_RevealRejectsBadInput(t *testing.T) {
	c := newTestCipher(t)
	blob, err := c.Protect("refresh-token-value")
	require.NoError(t, err)

	raw, err := base64.RawURLEncoding.DecodeString(blob)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0x01
	tampered := base64.RawURLEncoding.EncodeToString(raw)

	other, err := crypto.NewCipher([]byte("ffffffffffffffffffffffffffffffff"))
	require.NoError(t, err)
	_, foreignErr := other.Reveal(blob)

	cases := map[string]string{
		"not base64": "%%%not-base64%%%",
		"too short":  base64.RawURLEncoding.EncodeToString([]byte{1, 2, 3}),
		"tampered":   tampered,
		"empty":      "",
	}
	for name, input := range cases {
		t.Run(name, func(t *testing.T) {
			out, err := c.Reveal(input)
			require.Error(t, err)
			assert.Empty(t, out)
			assert.True(t, errors.Is(err, crypto.ErrDecryption))
			var decErr *crypto.DecryptionError
			assert.True(t, errors.As(err, &decErr))
		})
	}

	require.Error(t, foreignErr)
	assert.ErrorIs(t, foreignErr, crypto.ErrDecryption)
}

func TestNewCipher_WeakKey(t *testing.T) {
	_, err := crypto.NewCipher([]byte("short"))
	assert.ErrorIs(t, err, crypto.ErrWeakKey)
}

func TestParseKey(t *testing.T) {
	hexKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	require.Len(t, hexKey, 64)

	key, err := crypto.ParseKey(hexKey)
	require.NoError(t, err)
	assert.Len(t, key, crypto.MinKeySize)

	raw, err := crypto.ParseKey("a-passphrase-that-is-long-enough-to-use")
	require.NoError(t, err)
	assert.Equal(t, []byte("a-passphrase-that-is-long-enough-to-use"), raw)

	_, err = crypto.ParseKey("too-short")
	assert.ErrorIs(t, err, crypto.ErrWeakKey)
}

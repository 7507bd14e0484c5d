package credentials

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() []byte {
	return bytes.Repeat([]byte{0x42}, 32)
}

func TestCipher_SealOpen(t *testing.T) {
	c, err := NewCipher(testKey())
	require.NoError(t, err)
	require.True(t, c.Enabled())

	tests := []struct {
		name      string
		plaintext string
	}{
		{"access token", "ya29.a0AfH6SMBx"},
		{"refresh token", "1//0gLongRefreshToken"},
		{"empty", ""},
		{"unicode", "token_🔐"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sealed, err := c.Seal(tt.plaintext)
			require.NoError(t, err)
			if tt.plaintext == "" {
				assert.Empty(t, sealed)
			} else {
				assert.NotEqual(t, tt.plaintext, sealed)
			}

			opened, err := c.Open(sealed)
			require.NoError(t, err)
			assert.Equal(t, tt.plaintext, opened)
		})
	}
}

func TestCipher_RandomNonce(t *testing.T) {
	c, err := NewCipher(testKey())
	require.NoError(t, err)

	a, err := c.Seal("same")
	require.NoError(t, err)
	b, err := c.Seal("same")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestCipher_Disabled(t *testing.T) {
	c, err := NewCipher(nil)
	require.NoError(t, err)
	assert.False(t, c.Enabled())

	sealed, err := c.Seal("plain")
	require.NoError(t, err)
	assert.Equal(t, "plain", sealed)

	var nilCipher *Cipher
	assert.False(t, nilCipher.Enabled())
}

func TestCipher_Errors(t *testing.T) {
	_, err := NewCipher([]byte("short"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "32 bytes")

	c, err := NewCipher(testKey())
	require.NoError(t, err)

	_, err = c.Open("not base64!")
	assert.Error(t, err)

	_, err = c.Open("AAAA")
	assert.Error(t, err)

	other, err := NewCipher(bytes.Repeat([]byte{0x01}, 32))
	require.NoError(t, err)
	sealed, err := other.Seal("secret")
	require.NoError(t, err)
	_, err = c.Open(sealed)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "failed to decrypt"))
}

package secret

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKey = "6368616e676520746869732070617373776f726420746f206120736563726574"

func TestRoundTrip(t *testing.T) {
	c, err := NewCipher(testKey)
	require.NoError(t, err)
	require.True(t, c.Enabled())

	sealed, err := c.Encrypt("hunter2")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(sealed, "enc:"))
	assert.NotContains(t, sealed, "hunter2")

	opened, err := c.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", opened)

	// Random nonces make every sealing unique.
	again, err := c.Encrypt("hunter2")
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again)
}

func TestPassthroughWithoutKey(t *testing.T) {
	c, err := NewCipher("")
	require.NoError(t, err)
	assert.False(t, c.Enabled())

	sealed, err := c.Encrypt("hunter2")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", sealed)

	opened, err := c.Decrypt("hunter2")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", opened)

	// Encrypted values cannot be opened without the key.
	_, err = c.Decrypt("enc:AAAA")
	assert.ErrorIs(t, err, ErrBadKey)
}

func TestBadInput(t *testing.T) {
	_, err := NewCipher("not-hex")
	assert.ErrorIs(t, err, ErrBadKey)

	_, err = NewCipher("abcd")
	assert.ErrorIs(t, err, ErrBadKey)

	c, err := NewCipher(testKey)
	require.NoError(t, err)

	_, err = c.Decrypt("enc:%%%")
	assert.ErrorIs(t, err, ErrBadCiphertext)

	_, err = c.Decrypt("enc:AAAA")
	assert.ErrorIs(t, err, ErrBadCiphertext)

	sealed, err := c.Encrypt("hunter2")
	require.NoError(t, err)
	other, err := NewCipher(strings.Repeat("ab", 32))
	require.NoError(t, err)
	_, err = other.Decrypt(sealed)
	assert.ErrorIs(t, err, ErrBadCiphertext)
}

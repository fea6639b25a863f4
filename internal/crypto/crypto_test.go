// internal/crypto/crypto_test.go

package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	c := NewCipher("master-password")

	for _, plain := range []string{"secret", "", "zażółć gęślą jaźń", "line\nbreaks\tand\x00nulls"} {
		sealed, err := c.Encrypt(plain)
		require.NoError(t, err)
		assert.NotEqual(t, plain, sealed)

		got, err := c.Decrypt(sealed)
		require.NoError(t, err)
		assert.Equal(t, plain, got)
	}
}

func TestEncryptIsNonDeterministic(t *testing.T) {
	c := NewCipher("master-password")
	a, err := c.Encrypt("same input")
	require.NoError(t, err)
	b, err := c.Encrypt("same input")
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "fresh nonce per encryption")
}

func TestDecryptWithWrongKey(t *testing.T) {
	sealed, err := NewCipher("right").Encrypt("payload")
	require.NoError(t, err)

	_, err = NewCipher("wrong").Decrypt(sealed)
	assert.Error(t, err)
}

func TestDecryptGarbage(t *testing.T) {
	c := NewCipher("k")
	_, err := c.Decrypt("not hex at all")
	assert.Error(t, err)
	_, err = c.Decrypt("abcd")
	assert.Error(t, err)
}

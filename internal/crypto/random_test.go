package crypto

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSecureToken(t *testing.T) {
	token, err := GenerateSecureToken(32)
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	token2, err := GenerateSecureToken(32)
	require.NoError(t, err)
	assert.NotEqual(t, token, token2)

	// 32 bytes, unpadded base64url
	assert.Len(t, token, 43)
	assert.NotContains(t, token, "=")

	decoded, err := base64.RawURLEncoding.DecodeString(token)
	require.NoError(t, err)
	assert.Len(t, decoded, 32)
}

func TestGenerateRandomBytes(t *testing.T) {
	b, err := GenerateRandomBytes(64)
	require.NoError(t, err)
	assert.Len(t, b, 64)
}

func TestDeriveKey(t *testing.T) {
	secret := []byte(strings.Repeat("s", 32))

	t.Run("deterministic per purpose", func(t *testing.T) {
		k1, err := DeriveKey(secret, "cookie-signing")
		require.NoError(t, err)
		k2, err := DeriveKey(secret, "cookie-signing")
		require.NoError(t, err)
		assert.Equal(t, k1, k2)
		assert.Len(t, k1, 32)
	})

	t.Run("purposes are independent", func(t *testing.T) {
		k1, err := DeriveKey(secret, "cookie-signing")
		require.NoError(t, err)
		k2, err := DeriveKey(secret, "something-else")
		require.NoError(t, err)
		assert.NotEqual(t, k1, k2)
	})

	t.Run("short secret rejected", func(t *testing.T) {
		_, err := DeriveKey([]byte("too-short"), "cookie-signing")
		assert.ErrorContains(t, err, "at least 32 bytes")
	})
}

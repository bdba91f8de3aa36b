package oauth

import (
	"crypto/sha256"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateCodeVerifier(t *testing.T) {
	verifier, err := GenerateCodeVerifier()
	require.NoError(t, err)

	// RFC 7636: 43..128 characters from the unreserved set
	assert.Len(t, verifier, 86)
	assert.Regexp(t, `^[A-Za-z0-9_-]+$`, verifier)

	raw, err := base64.RawURLEncoding.DecodeString(verifier)
	require.NoError(t, err)
	assert.Len(t, raw, 64)

	other, err := GenerateCodeVerifier()
	require.NoError(t, err)
	assert.NotEqual(t, verifier, other)
}

func TestGenerateCodeChallenge(t *testing.T) {
	t.Run("RFC 7636 Appendix B test vector", func(t *testing.T) {
		verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
		assert.Equal(t, "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM", GenerateCodeChallenge(verifier))
	})

	t.Run("pure function of the verifier", func(t *testing.T) {
		verifier, err := GenerateCodeVerifier()
		require.NoError(t, err)

		first := GenerateCodeChallenge(verifier)
		second := GenerateCodeChallenge(verifier)
		assert.Equal(t, first, second)
		assert.NotEqual(t, verifier, first)

		h := sha256.Sum256([]byte(verifier))
		assert.Equal(t, base64.RawURLEncoding.EncodeToString(h[:]), first)
	})
}

func TestVerifyPKCE(t *testing.T) {
	verifier := "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	challenge := GenerateCodeChallenge(verifier)

	assert.True(t, VerifyPKCE(verifier, challenge))
	assert.False(t, VerifyPKCE("wrong-verifier", challenge))
	assert.False(t, VerifyPKCE(verifier, ""))
}

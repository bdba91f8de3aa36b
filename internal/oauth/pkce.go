package oauth

import (
	"crypto/subtle"

	"github.com/dgellow/storefront-auth/internal/crypto"
	"golang.org/x/oauth2"
)

const (
	// CodeChallengeMethodS256 is the only challenge method this service sends.
	CodeChallengeMethodS256 = "S256"

	verifierBytes = 64
)

// GenerateCodeVerifier returns a PKCE code verifier: 64 random bytes,
// base64url encoded without padding (86 characters).
func GenerateCodeVerifier() (string, error) {
	return crypto.GenerateSecureToken(verifierBytes)
}

// GenerateCodeChallenge derives the S256 challenge for verifier.
func GenerateCodeChallenge(verifier string) string {
	return oauth2.S256ChallengeFromVerifier(verifier)
}

// VerifyPKCE reports whether challenge is the S256 challenge of verifier.
func VerifyPKCE(verifier, challenge string) bool {
	computed := GenerateCodeChallenge(verifier)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
}

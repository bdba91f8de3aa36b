package crypto

import (
	"errors"
	"fmt"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
)

// ErrInvalidSignature is returned when a signed value fails verification.
var ErrInvalidSignature = errors.New("invalid signature")

// ValueSigner signs opaque values as compact JWS (HS256) so they can be handed
// to the browser and verified when they come back.
type ValueSigner struct {
	key []byte
}

// NewValueSigner creates a signer whose key is derived from secret.
func NewValueSigner(secret []byte) (ValueSigner, error) {
	key, err := DeriveKey(secret, "cookie-signing")
	if err != nil {
		return ValueSigner{}, err
	}
	return ValueSigner{key: key}, nil
}

// Sign returns the compact JWS serialization of value.
func (s ValueSigner) Sign(value string) (string, error) {
	signed, err := jws.Sign([]byte(value), jws.WithKey(jwa.HS256, s.key))
	if err != nil {
		return "", fmt.Errorf("failed to sign value: %w", err)
	}
	return string(signed), nil
}

// Verify checks the signature and returns the original value.
func (s ValueSigner) Verify(signed string) (string, error) {
	if signed == "" {
		return "", ErrInvalidSignature
	}
	payload, err := jws.Verify([]byte(signed), jws.WithKey(jwa.HS256, s.key))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return string(payload), nil
}

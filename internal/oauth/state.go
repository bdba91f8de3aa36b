package oauth

import (
	"crypto/subtle"
	"errors"

	"github.com/dgellow/storefront-auth/internal/crypto"
)

const stateBytes = 32

// ErrCSRFValidation is the sentinel behind every state check failure.
var ErrCSRFValidation = errors.New("oauth state validation failed")

// CSRFValidationError records which check failed. Reason is for logs only and
// must never be shown to the user.
type CSRFValidationError struct {
	Reason string
}

func (e *CSRFValidationError) Error() string {
	return ErrCSRFValidation.Error() + ": " + e.Reason
}

func (e *CSRFValidationError) Unwrap() error {
	return ErrCSRFValidation
}

// GenerateState returns an unguessable, URL-safe state value (256 bits).
func GenerateState() (string, error) {
	return crypto.GenerateSecureToken(stateBytes)
}

// ValidateCallback checks the callback parameters against the stored state.
// States are compared for exact equality.
func ValidateCallback(code, state, storedState string) error {
	switch {
	case code == "":
		return &CSRFValidationError{Reason: "missing code"}
	case state == "":
		return &CSRFValidationError{Reason: "missing state"}
	case storedState == "":
		return &CSRFValidationError{Reason: "missing stored state"}
	case subtle.ConstantTimeCompare([]byte(state), []byte(storedState)) != 1:
		return &CSRFValidationError{Reason: "state mismatch"}
	}
	return nil
}

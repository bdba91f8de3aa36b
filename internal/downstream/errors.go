package downstream

import (
	"errors"
	"fmt"
)

var (
	// ErrNoSubject means the identity has no subject to bridge.
	ErrNoSubject = errors.New("identity has no subject")

	// ErrStorefrontNotConfigured means no storefront API URL is set.
	ErrStorefrontNotConfigured = errors.New("storefront API is not configured")
)

// DownstreamExchangeError is a non-success answer from the token service.
// Payload is the service's error body, truncated.
type DownstreamExchangeError struct {
	StatusCode int
	Payload    string
}

func (e *DownstreamExchangeError) Error() string {
	return fmt.Sprintf("storefront token request failed (%d): %s", e.StatusCode, e.Payload)
}

// StorefrontAPIError is a non-success answer from the storefront API.
type StorefrontAPIError struct {
	StatusCode int
	Payload    string
}

func (e *StorefrontAPIError) Error() string {
	return fmt.Sprintf("storefront API request failed (%d): %s", e.StatusCode, e.Payload)
}

package config

import (
	"encoding/json"
	"strings"
	"time"
)

// Secret is a string type that redacts itself when printed
type Secret string

// String implements fmt.Stringer to redact the secret
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "***"
}

// MarshalJSON implements json.Marshaler to prevent secrets in JSON logs
func (s Secret) MarshalJSON() ([]byte, error) {
	if s == "" {
		return json.Marshal("")
	}
	return json.Marshal("***")
}

// CallbackPath is where the Identity Provider sends the browser back to.
const CallbackPath = "/auth/callback"

// Config is the fully resolved, validated service configuration. It is built
// once at startup and passed by value; nothing mutates it afterwards.
type Config struct {
	Environment     string
	ListenAddr      string
	UpstreamTimeout time.Duration
	SessionSecret   Secret

	Provider   ProviderConfig
	Downstream DownstreamConfig
}

// ProviderConfig describes the customer-account Identity Provider and this
// application's client registration with it.
type ProviderConfig struct {
	AuthorizationURL string
	TokenURL         string
	LogoutURL        string
	APIURL           string
	Issuer           string
	JWKSURL          string

	ClientID     string
	ClientSecret Secret
	Scope        string

	// RedirectURI is always AppBaseURL + CallbackPath.
	RedirectURI string
	AppBaseURL  string
}

// IsPublicClient reports whether no client secret is configured, in which
// case the authorization code flow is protected with PKCE instead.
func (p ProviderConfig) IsPublicClient() bool {
	return p.ClientSecret == ""
}

// Scopes splits the configured scope string.
func (p ProviderConfig) Scopes() []string {
	return strings.Fields(p.Scope)
}

// DownstreamConfig describes the subscription-management service that
// exchanges a customer identity for a storefront token.
type DownstreamConfig struct {
	MerchantAPIURL   string
	APIKey           Secret
	StorefrontAPIURL string
	StoreName        string
}

// IsDev reports whether we're running in development mode
// where cookie security requirements can be relaxed for local testing.
func (c Config) IsDev() bool {
	env := strings.ToLower(c.Environment)
	return env == "development" || env == "dev"
}

// SecureCookies reports whether cookies carry the Secure attribute.
func (c Config) SecureCookies() bool {
	return !c.IsDev()
}

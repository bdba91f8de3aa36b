package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/dgellow/storefront-auth/internal/urlutil"
	"github.com/go-playground/validator/v10"
)

// rawEnv holds raw env values before derivation and validation.
type rawEnv struct {
	Environment     string        `env:"APP_ENV"          envDefault:"production"`
	ListenAddr      string        `env:"LISTEN_ADDR"      envDefault:":8080"      validate:"required"`
	UpstreamTimeout time.Duration `env:"UPSTREAM_TIMEOUT" envDefault:"15s"        validate:"gt=0"`
	AppBaseURL      string        `env:"APP_BASE_URL"                             validate:"required,url"`
	StoreDomain     string        `env:"STORE_DOMAIN"`
	SessionSecret   string        `env:"SESSION_SECRET"                           validate:"required,min=32"`

	AuthorizationURL string `env:"CUSTOMER_ACCOUNT_AUTH_URL"     validate:"required,url"`
	TokenURL         string `env:"CUSTOMER_ACCOUNT_TOKEN_URL"    validate:"required,url"`
	LogoutURL        string `env:"CUSTOMER_ACCOUNT_LOGOUT_URL"   validate:"omitempty,url"`
	APIURL           string `env:"CUSTOMER_ACCOUNT_API_URL"      validate:"required,url"`
	Issuer           string `env:"CUSTOMER_ACCOUNT_ISSUER"`
	JWKSURL          string `env:"CUSTOMER_ACCOUNT_JWKS_URL"     validate:"required,url"`
	ClientID         string `env:"CUSTOMER_ACCOUNT_CLIENT_ID"    validate:"required"`
	ClientSecret     string `env:"CUSTOMER_ACCOUNT_CLIENT_SECRET"`
	Scope            string `env:"CUSTOMER_ACCOUNT_SCOPE"        validate:"required"`

	DownstreamAPIURL string `env:"DOWNSTREAM_API_URL"  validate:"required,url"`
	DownstreamAPIKey string `env:"DOWNSTREAM_API_KEY"  validate:"required"`
	StorefrontAPIURL string `env:"STOREFRONT_API_URL"  validate:"omitempty,url"`
	StoreName        string `env:"STORE_NAME"          validate:"required"`
}

// Paths below https://<STORE_DOMAIN> used when an endpoint is not set explicitly.
const (
	storeAuthorizePath = "/authentication/oauth/authorize"
	storeTokenPath     = "/authentication/oauth/token"
	storeLogoutPath    = "/authentication/logout"
	storeAPIPath       = "/account/customer/api/2025-01/graphql"
	storeJWKSPath      = "/authentication/.well-known/jwks.json"
	storeIssuerPath    = "/authentication"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report fields by their environment variable name
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("env"), ",", 2)[0]
		if name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// Load resolves the configuration from the process environment.
func Load() (Config, error) {
	return LoadEnvironment(nil)
}

// LoadEnvironment resolves the configuration from vars. A nil map reads the
// process environment.
func LoadEnvironment(vars map[string]string) (Config, error) {
	var raw rawEnv
	if err := env.ParseWithOptions(&raw, env.Options{Environment: vars}); err != nil {
		return Config{}, &ConfigurationError{Invalid: []string{err.Error()}}
	}

	raw.trim()
	raw.deriveFromStoreDomain()

	if err := raw.validate(); err != nil {
		return Config{}, err
	}

	appBaseURL := strings.TrimRight(raw.AppBaseURL, "/")
	redirectURI, err := urlutil.JoinPath(appBaseURL, CallbackPath)
	if err != nil {
		return Config{}, &ConfigurationError{Invalid: []string{fmt.Sprintf("APP_BASE_URL: %v", err)}}
	}

	return Config{
		Environment:     raw.Environment,
		ListenAddr:      raw.ListenAddr,
		UpstreamTimeout: raw.UpstreamTimeout,
		SessionSecret:   Secret(raw.SessionSecret),
		Provider: ProviderConfig{
			AuthorizationURL: raw.AuthorizationURL,
			TokenURL:         raw.TokenURL,
			LogoutURL:        raw.LogoutURL,
			APIURL:           raw.APIURL,
			Issuer:           raw.Issuer,
			JWKSURL:          raw.JWKSURL,
			ClientID:         raw.ClientID,
			ClientSecret:     Secret(raw.ClientSecret),
			Scope:            raw.Scope,
			RedirectURI:      redirectURI,
			AppBaseURL:       appBaseURL,
		},
		Downstream: DownstreamConfig{
			MerchantAPIURL:   strings.TrimRight(raw.DownstreamAPIURL, "/"),
			APIKey:           Secret(raw.DownstreamAPIKey),
			StorefrontAPIURL: strings.TrimRight(raw.StorefrontAPIURL, "/"),
			StoreName:        raw.StoreName,
		},
	}, nil
}

func (r *rawEnv) trim() {
	for _, f := range []*string{
		&r.AppBaseURL, &r.StoreDomain, &r.AuthorizationURL, &r.TokenURL, &r.LogoutURL,
		&r.APIURL, &r.Issuer, &r.JWKSURL, &r.ClientID, &r.ClientSecret, &r.Scope,
		&r.DownstreamAPIURL, &r.DownstreamAPIKey, &r.StorefrontAPIURL, &r.StoreName,
	} {
		*f = strings.TrimSpace(*f)
	}
}

// deriveFromStoreDomain fills unset Identity Provider endpoints from
// STORE_DOMAIN. Explicit values always win.
func (r *rawEnv) deriveFromStoreDomain() {
	domain := strings.TrimSuffix(r.StoreDomain, "/")
	domain = strings.TrimPrefix(domain, "https://")
	domain = strings.TrimPrefix(domain, "http://")
	if domain == "" {
		return
	}
	base := "https://" + domain

	fill := func(target *string, path string) {
		if *target == "" {
			*target = base + path
		}
	}
	fill(&r.AuthorizationURL, storeAuthorizePath)
	fill(&r.TokenURL, storeTokenPath)
	fill(&r.LogoutURL, storeLogoutPath)
	fill(&r.APIURL, storeAPIPath)
	fill(&r.JWKSURL, storeJWKSPath)
	fill(&r.Issuer, storeIssuerPath)
}

func (r *rawEnv) validate() error {
	cfgErr := &ConfigurationError{}

	if err := validate.Struct(r); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return &ConfigurationError{Invalid: []string{err.Error()}}
		}
		for _, fe := range fieldErrs {
			switch fe.Tag() {
			case "required":
				cfgErr.Missing = append(cfgErr.Missing, fe.Field())
			case "url":
				cfgErr.Invalid = append(cfgErr.Invalid, fmt.Sprintf("%s must be an absolute URL", fe.Field()))
			case "min":
				cfgErr.Invalid = append(cfgErr.Invalid, fmt.Sprintf("%s must be at least %s characters", fe.Field(), fe.Param()))
			case "gt":
				cfgErr.Invalid = append(cfgErr.Invalid, fmt.Sprintf("%s must be positive", fe.Field()))
			default:
				cfgErr.Invalid = append(cfgErr.Invalid, fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag()))
			}
		}
	}

	// The login flow only works over https; an http base URL is a
	// configuration error, never a runtime one.
	if r.AppBaseURL != "" && !strings.HasPrefix(strings.ToLower(r.AppBaseURL), "https://") {
		cfgErr.Invalid = append(cfgErr.Invalid, "APP_BASE_URL must use https")
	}

	if cfgErr.empty() {
		return nil
	}
	return cfgErr
}

package idp

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/dgellow/storefront-auth/internal/config"
	"github.com/dgellow/storefront-auth/internal/log"
	"github.com/dgellow/storefront-auth/internal/oauth"
	"github.com/dgellow/storefront-auth/internal/urlutil"
	"golang.org/x/oauth2"
)

// LoginPath is the host application's login page.
const LoginPath = "/login"

// CustomerAccount talks to the customer-account Identity Provider.
type CustomerAccount struct {
	cfg        config.ProviderConfig
	oauth      oauth2.Config
	httpClient *http.Client
	timeout    time.Duration
}

// NewCustomerAccount creates a client for the provider described by cfg.
// Every call to the token endpoint is bounded by timeout.
func NewCustomerAccount(cfg config.ProviderConfig, httpClient *http.Client, timeout time.Duration) *CustomerAccount {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &CustomerAccount{
		cfg: cfg,
		oauth: oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: string(cfg.ClientSecret),
			RedirectURL:  cfg.RedirectURI,
			Scopes:       cfg.Scopes(),
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthorizationURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient: httpClient,
		timeout:    timeout,
	}
}

// IsPublicClient reports whether logins use PKCE instead of a client secret.
func (p *CustomerAccount) IsPublicClient() bool {
	return p.cfg.IsPublicClient()
}

// AuthURL builds the authorization redirect. codeChallenge is sent only when
// non-empty, returnTo only when non-empty.
func (p *CustomerAccount) AuthURL(state, codeChallenge, returnTo string) string {
	opts := []oauth2.AuthCodeOption{}
	if codeChallenge != "" {
		opts = append(opts,
			oauth2.SetAuthURLParam("code_challenge", codeChallenge),
			oauth2.SetAuthURLParam("code_challenge_method", oauth.CodeChallengeMethodS256),
		)
	}
	if returnTo != "" {
		opts = append(opts, oauth2.SetAuthURLParam("return_to", returnTo))
	}
	return p.oauth.AuthCodeURL(state, opts...)
}

// ExchangeCode trades an authorization code for tokens. Confidential clients
// authenticate with the client secret; public clients send verifier.
func (p *CustomerAccount) ExchangeCode(ctx context.Context, code, verifier string) (TokenBundle, error) {
	var opts []oauth2.AuthCodeOption
	if p.IsPublicClient() {
		if verifier == "" {
			return TokenBundle{}, &TokenExchangeError{Err: ErrNoClientCredential}
		}
		opts = append(opts, oauth2.VerifierOption(verifier))
	}

	ctx, cancel := p.requestContext(ctx)
	defer cancel()

	tok, err := p.oauth.Exchange(ctx, code, opts...)
	if err != nil {
		return TokenBundle{}, exchangeError(err)
	}

	log.LogDebugWithFields("idp", "Authorization code exchanged", map[string]any{
		"hasRefreshToken": tok.RefreshToken != "",
		"hasIDToken":      tok.Extra("id_token") != nil,
	})
	return bundleFromToken(tok), nil
}

// Refresh uses a refresh token to obtain a new access token. The previous
// refresh token is kept when the provider does not rotate it.
func (p *CustomerAccount) Refresh(ctx context.Context, refreshToken string) (TokenBundle, error) {
	ctx, cancel := p.requestContext(ctx)
	defer cancel()

	src := p.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return TokenBundle{}, exchangeError(err)
	}
	return bundleFromToken(tok), nil
}

// LogoutURL returns the provider's end-session URL, or "" when none is
// configured. idTokenHint is included when non-empty.
func (p *CustomerAccount) LogoutURL(idTokenHint string) string {
	if p.cfg.LogoutURL == "" {
		return ""
	}
	u, err := url.Parse(p.cfg.LogoutURL)
	if err != nil {
		log.LogErrorWithFields("idp", "Invalid logout URL", map[string]any{"error": err.Error()})
		return ""
	}

	q := u.Query()
	q.Set("client_id", p.cfg.ClientID)
	q.Set("post_logout_redirect_uri", p.LoginURL())
	if idTokenHint != "" {
		q.Set("id_token_hint", idTokenHint)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// LoginURL is the absolute URL of the host application's login page.
func (p *CustomerAccount) LoginURL() string {
	return urlutil.MustJoinPath(p.cfg.AppBaseURL, LoginPath)
}

func (p *CustomerAccount) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)
	if p.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.timeout)
}

func exchangeError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		exErr := &TokenExchangeError{
			Code:        re.ErrorCode,
			Description: re.ErrorDescription,
			Err:         err,
		}
		if re.Response != nil {
			exErr.StatusCode = re.Response.StatusCode
		}
		return exErr
	}
	return &TokenExchangeError{Err: err}
}

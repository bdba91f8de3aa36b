package idp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/dgellow/storefront-auth/internal/emailutil"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

// KeySource supplies the provider's published signing keys.
type KeySource interface {
	KeySet(ctx context.Context) (jwk.Set, error)
}

// StaticKeys is a KeySource over a fixed key set.
type StaticKeys struct {
	Set jwk.Set
}

func (s StaticKeys) KeySet(context.Context) (jwk.Set, error) {
	return s.Set, nil
}

// RemoteKeys fetches a JWKS document and keeps it fresh in the background.
type RemoteKeys struct {
	cache *jwk.Cache
	url   string
}

// NewRemoteKeys registers jwksURL with an auto-refreshing cache bound to ctx.
// Nothing is fetched until the first verification.
func NewRemoteKeys(ctx context.Context, jwksURL string, httpClient *http.Client) (*RemoteKeys, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	cache := jwk.NewCache(ctx)
	if err := cache.Register(jwksURL,
		jwk.WithHTTPClient(httpClient),
		jwk.WithMinRefreshInterval(15*time.Minute),
	); err != nil {
		return nil, fmt.Errorf("failed to register JWKS URL: %w", err)
	}
	return &RemoteKeys{cache: cache, url: jwksURL}, nil
}

func (r *RemoteKeys) KeySet(ctx context.Context) (jwk.Set, error) {
	set, err := r.cache.Get(ctx, r.url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	return set, nil
}

// Verifier checks identity tokens issued to this client.
type Verifier struct {
	keys     KeySource
	issuer   string
	audience string
	now      func() time.Time
}

// NewVerifier creates a verifier. An empty issuer disables the issuer check.
func NewVerifier(keys KeySource, issuer, audience string) *Verifier {
	return &Verifier{
		keys:     keys,
		issuer:   issuer,
		audience: audience,
		now:      time.Now,
	}
}

// Verify fully validates a freshly issued identity token: signature,
// issuer, audience and expiry.
func (v *Verifier) Verify(ctx context.Context, raw string) (CustomerIdentity, error) {
	set, err := v.keys.KeySet(ctx)
	if err != nil {
		return CustomerIdentity{}, &DecodeError{Err: err}
	}

	opts := []jwt.ParseOption{
		jwt.WithKeySet(set, jws.WithInferAlgorithmFromKey(true)),
		jwt.WithValidate(true),
		jwt.WithAudience(v.audience),
		jwt.WithClock(jwt.ClockFunc(v.now)),
		jwt.WithAcceptableSkew(time.Minute),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	tok, err := jwt.ParseString(raw, opts...)
	if err != nil {
		return CustomerIdentity{}, &DecodeError{Err: err}
	}
	return identityFromToken(tok), nil
}

// Decode verifies the signature, issuer and audience of a stored identity
// token. Expiry is not enforced; the session cookie's lifetime governs how
// long a stored token is honored.
func (v *Verifier) Decode(ctx context.Context, raw string) (CustomerIdentity, error) {
	set, err := v.keys.KeySet(ctx)
	if err != nil {
		return CustomerIdentity{}, &DecodeError{Err: err}
	}

	tok, err := jwt.ParseString(raw,
		jwt.WithKeySet(set, jws.WithInferAlgorithmFromKey(true)),
		jwt.WithValidate(false),
	)
	if err != nil {
		return CustomerIdentity{}, &DecodeError{Err: err}
	}
	if v.issuer != "" && tok.Issuer() != v.issuer {
		return CustomerIdentity{}, &DecodeError{Err: fmt.Errorf("unexpected issuer %q", tok.Issuer())}
	}
	if !slices.Contains(tok.Audience(), v.audience) {
		return CustomerIdentity{}, &DecodeError{Err: errors.New("audience does not include client")}
	}
	return identityFromToken(tok), nil
}

func identityFromToken(tok jwt.Token) CustomerIdentity {
	id := CustomerIdentity{
		Subject:   tok.Subject(),
		IssuedAt:  tok.IssuedAt(),
		ExpiresAt: tok.Expiration(),
		Audience:  tok.Audience(),
		Issuer:    tok.Issuer(),
	}
	if v, ok := tok.Get("email"); ok {
		email, _ := v.(string)
		id.Email = emailutil.Normalize(email)
	}
	if v, ok := tok.Get("email_verified"); ok {
		id.EmailVerified, _ = v.(bool)
	}
	if v, ok := tok.Get("sid"); ok {
		id.SessionID, _ = v.(string)
	}
	return id
}

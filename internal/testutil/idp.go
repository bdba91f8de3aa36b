package testutil

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/require"
)

// FakeIDP is an in-process customer-account Identity Provider. It serves a
// token endpoint and a JWKS document and signs identity tokens with a
// throwaway RSA key.
type FakeIDP struct {
	Server   *httptest.Server
	ClientID string
	Issuer   string
	Keys     jwk.Set

	t          testing.TB
	signingKey jwk.Key

	mu            sync.Mutex
	tokenRequests []url.Values
	tokenStatus   int
	tokenBody     map[string]any
	jwksHits      int
}

// NewFakeIDP starts a fake provider. It is closed with the test.
func NewFakeIDP(t testing.TB, clientID string) *FakeIDP {
	t.Helper()

	raw, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	key, err := jwk.FromRaw(raw)
	require.NoError(t, err)
	require.NoError(t, key.Set(jwk.KeyIDKey, "test-key"))
	require.NoError(t, key.Set(jwk.AlgorithmKey, jwa.RS256))

	pub, err := jwk.PublicKeyOf(key)
	require.NoError(t, err)
	keys := jwk.NewSet()
	require.NoError(t, keys.AddKey(pub))

	f := &FakeIDP{
		ClientID:   clientID,
		Keys:       keys,
		t:          t,
		signingKey: key,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", f.handleToken)
	mux.HandleFunc("/.well-known/jwks.json", f.handleJWKS)
	f.Server = httptest.NewServer(mux)
	f.Issuer = f.Server.URL
	t.Cleanup(f.Server.Close)

	return f
}

// TokenURL is the fake token endpoint.
func (f *FakeIDP) TokenURL() string { return f.Server.URL + "/oauth/token" }

// JWKSURL is the fake key set endpoint.
func (f *FakeIDP) JWKSURL() string { return f.Server.URL + "/.well-known/jwks.json" }

// SignIDToken mints an identity token for this provider. claims override
// the defaults; a nil value removes the claim.
func (f *FakeIDP) SignIDToken(claims map[string]any) string {
	f.t.Helper()

	now := time.Now()
	tok, err := jwt.NewBuilder().
		Issuer(f.Issuer).
		Audience([]string{f.ClientID}).
		Subject("7012345").
		IssuedAt(now).
		Expiration(now.Add(time.Hour)).
		Claim("email", "customer@example.com").
		Claim("email_verified", true).
		Claim("sid", "session-1").
		Build()
	require.NoError(f.t, err)

	for k, v := range claims {
		if v == nil {
			require.NoError(f.t, tok.Remove(k))
			continue
		}
		require.NoError(f.t, tok.Set(k, v))
	}

	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.RS256, f.signingKey))
	require.NoError(f.t, err)
	return string(signed)
}

// RespondWith makes the token endpoint answer every request with status and
// body until changed.
func (f *FakeIDP) RespondWith(status int, body map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokenStatus = status
	f.tokenBody = body
}

// TokenRequests returns the forms posted to the token endpoint so far.
func (f *FakeIDP) TokenRequests() []url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]url.Values(nil), f.tokenRequests...)
}

// LastTokenRequest returns the most recent token request, or nil.
func (f *FakeIDP) LastTokenRequest() url.Values {
	reqs := f.TokenRequests()
	if len(reqs) == 0 {
		return nil
	}
	return reqs[len(reqs)-1]
}

// JWKSHits counts fetches of the key set.
func (f *FakeIDP) JWKSHits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.jwksHits
}

func (f *FakeIDP) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.tokenRequests = append(f.tokenRequests, r.PostForm)
	status, body := f.tokenStatus, f.tokenBody
	f.mu.Unlock()

	if status == 0 {
		status = http.StatusOK
	}
	if body == nil {
		body = map[string]any{
			"access_token":  "access-" + r.PostForm.Get("grant_type"),
			"refresh_token": "refresh-token",
			"token_type":    "Bearer",
			"expires_in":    3600,
			"id_token":      f.SignIDToken(nil),
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func (f *FakeIDP) handleJWKS(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	f.jwksHits++
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(f.Keys)
}

package server

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dgellow/storefront-auth/internal/config"
	"github.com/dgellow/storefront-auth/internal/crypto"
	"github.com/dgellow/storefront-auth/internal/downstream"
	"github.com/dgellow/storefront-auth/internal/idp"
	"github.com/dgellow/storefront-auth/internal/session"
	"github.com/dgellow/storefront-auth/internal/testutil"
	"github.com/stretchr/testify/require"
)

const (
	testAppBaseURL = "https://shop.example.com"
	testClientID   = "shp_client"
	testStore      = "example-store"
	testGID        = "gid://shopify/Customer/7012345"
)

type testEnvOptions struct {
	clientSecret  string
	logoutURL     string
	storefrontURL string
	// idpTimeout bounds calls to the token endpoint. Defaults to 5s.
	idpTimeout time.Duration
}

type testEnv struct {
	idp     *testutil.FakeIDP
	idpLink *flakyTransport
	tokens  *testutil.MockTokenService
	handler http.Handler
	signer  crypto.ValueSigner
}

// flakyTransport forwards to next until taken down. After that, requests
// hang until their context ends.
type flakyTransport struct {
	next http.RoundTripper
	down atomic.Bool
}

func (f *flakyTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	if !f.down.Load() {
		return f.next.RoundTrip(r)
	}
	<-r.Context().Done()
	return nil, r.Context().Err()
}

func newTestEnv(t *testing.T, opts testEnvOptions) *testEnv {
	t.Helper()

	fake := testutil.NewFakeIDP(t, testClientID)
	signer, err := crypto.NewValueSigner([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	providerCfg := config.ProviderConfig{
		AuthorizationURL: fake.Server.URL + "/oauth/authorize",
		TokenURL:         fake.TokenURL(),
		LogoutURL:        opts.logoutURL,
		Issuer:           fake.Issuer,
		JWKSURL:          fake.JWKSURL(),
		ClientID:         testClientID,
		ClientSecret:     config.Secret(opts.clientSecret),
		Scope:            "openid email customer-account-api:full",
		RedirectURI:      testAppBaseURL + config.CallbackPath,
		AppBaseURL:       testAppBaseURL,
	}

	timeout := opts.idpTimeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	link := &flakyTransport{next: fake.Server.Client().Transport}
	provider := idp.NewCustomerAccount(providerCfg, &http.Client{Transport: link}, timeout)
	verifier := idp.NewVerifier(idp.StaticKeys{Set: fake.Keys}, fake.Issuer, testClientID)
	sessions := session.NewCookieFactory(signer, true, verifier)

	tokens := &testutil.MockTokenService{}
	broker := downstream.NewBroker(tokens, testStore)
	storefront := downstream.NewStorefrontClient(opts.storefrontURL, broker, nil, 5*time.Second)

	handler := NewHandler(Routes{
		Auth:      NewAuthHandlers(provider, verifier, broker, sessions, testAppBaseURL),
		Account:   NewAccountHandlers(broker, storefront, sessions),
		Sessions:  sessions,
		Refresher: provider,
	})

	return &testEnv{idp: fake, idpLink: link, tokens: tokens, handler: handler, signer: signer}
}

// browser replays cookies between requests the way a user agent would.
type browser struct {
	t       *testing.T
	handler http.Handler
	cookies map[string]string
}

func newBrowser(t *testing.T, h http.Handler) *browser {
	return &browser{t: t, handler: h, cookies: make(map[string]string)}
}

func (b *browser) do(req *http.Request) *httptest.ResponseRecorder {
	b.t.Helper()
	for name, value := range b.cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}

	rec := httptest.NewRecorder()
	b.handler.ServeHTTP(rec, req)

	for _, c := range rec.Result().Cookies() {
		if c.MaxAge < 0 {
			delete(b.cookies, c.Name)
			continue
		}
		b.cookies[c.Name] = c.Value
	}
	return rec
}

func (b *browser) get(target string) *httptest.ResponseRecorder {
	b.t.Helper()
	return b.do(httptest.NewRequest(http.MethodGet, target, nil))
}

func (b *browser) has(name string) bool {
	_, ok := b.cookies[name]
	return ok
}

// login runs a full start + callback round trip and returns the callback
// response.
func (b *browser) login(startTarget string) *httptest.ResponseRecorder {
	b.t.Helper()

	rec := b.get(startTarget)
	require.Equal(b.t, http.StatusFound, rec.Code)

	authURL, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(b.t, err)
	state := authURL.Query().Get("state")
	require.NotEmpty(b.t, state)

	return b.get(config.CallbackPath + "?code=auth-code&state=" + url.QueryEscape(state))
}

// seedCookies stores signed cookie values in the browser as if an earlier
// session had set them.
func seedCookies(t *testing.T, env *testEnv, b *browser, values map[string]string) {
	t.Helper()
	for name, value := range values {
		signed, err := env.signer.Sign(value)
		require.NoError(t, err)
		b.cookies[name] = signed
	}
}

// setCookies returns the cookies written by rec, keyed by name.
func setCookies(rec *httptest.ResponseRecorder) map[string]*http.Cookie {
	out := make(map[string]*http.Cookie)
	for _, c := range rec.Result().Cookies() {
		out[c.Name] = c
	}
	return out
}

func loginErrorLocation(message string) string {
	return testAppBaseURL + "/login?error=" + url.QueryEscape(message)
}

func httptestRequest(method, target, form string) *http.Request {
	var body io.Reader
	if form != "" {
		body = strings.NewReader(form)
	}
	req := httptest.NewRequest(method, target, body)
	if form != "" {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	return req
}

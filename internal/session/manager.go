package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/dgellow/storefront-auth/internal/idp"
	"github.com/dgellow/storefront-auth/internal/log"
)

// Cookie names.
const (
	AccessTokenCookie     = "customer_access_token"
	RefreshTokenCookie    = "customer_refresh_token"
	IDTokenCookie         = "customer_id_token"
	StateCookie           = "oauth_state"
	VerifierCookie        = "oauth_verifier"
	ReturnToCookie        = "oauth_return_to"
	DownstreamTokenCookie = "downstream_token"
)

// Lifetimes.
const (
	AuthRequestMaxAge          = 10 * time.Minute
	DefaultMaxAge              = 30 * 24 * time.Hour
	IDTokenMaxAge              = 30 * 24 * time.Hour
	DownstreamCredentialMaxAge = time.Hour

	// MaxCookieAge caps provider-supplied lifetimes. Browsers cap cookie
	// lifetimes at 400 days.
	MaxCookieAge = 400 * 24 * time.Hour
)

// ErrNoAccessToken is returned when a token bundle has no access token.
var ErrNoAccessToken = errors.New("token bundle has no access token")

// AuthRequestState is what a login attempt needs to remember between the
// authorization redirect and the callback.
type AuthRequestState struct {
	State        string
	CodeVerifier string
	ReturnPath   string
}

// DownstreamCredential is a storefront token minted for one customer.
type DownstreamCredential struct {
	Token       string `json:"token"`
	CustomerGID string `json:"customer_gid"`
}

// IdentityDecoder turns a stored identity token into verified claims.
type IdentityDecoder interface {
	Decode(ctx context.Context, raw string) (idp.CustomerIdentity, error)
}

// Manager implements the session operations on top of a Store.
type Manager struct {
	store Store
	ids   IdentityDecoder
	now   func() time.Time
}

// NewManager creates a manager for one session.
func NewManager(store Store, ids IdentityDecoder) *Manager {
	return &Manager{store: store, ids: ids, now: time.Now}
}

// SetSession persists the access token and, when present, the refresh token.
func (m *Manager) SetSession(b idp.TokenBundle) error {
	if b.AccessToken == "" {
		return ErrNoAccessToken
	}

	m.store.Set(AccessTokenCookie, b.AccessToken, AccessTokenMaxAge(b, m.now()))
	if b.RefreshToken != "" {
		m.store.Set(RefreshTokenCookie, b.RefreshToken, RefreshTokenMaxAge(b))
	}
	return nil
}

// AccessTokenMaxAge prefers the relative lifetime, then the absolute expiry,
// then DefaultMaxAge. The result lies in [0, MaxCookieAge]; zero stores a
// browser-session value.
func AccessTokenMaxAge(b idp.TokenBundle, now time.Time) time.Duration {
	switch {
	case b.ExpiresIn != nil:
		return lifetime(*b.ExpiresIn)
	case b.ExpiresAt != nil:
		return clampMaxAge(b.ExpiresAt.Sub(now).Truncate(time.Second))
	default:
		return DefaultMaxAge
	}
}

// RefreshTokenMaxAge prefers the provider's refresh lifetime, then DefaultMaxAge.
func RefreshTokenMaxAge(b idp.TokenBundle) time.Duration {
	if b.RefreshExpiresIn != nil {
		return lifetime(*b.RefreshExpiresIn)
	}
	return DefaultMaxAge
}

// lifetime converts a provider lifetime in seconds without overflowing.
func lifetime(seconds int64) time.Duration {
	switch {
	case seconds <= 0:
		return 0
	case seconds > int64(MaxCookieAge/time.Second):
		return MaxCookieAge
	}
	return time.Duration(seconds) * time.Second
}

func clampMaxAge(d time.Duration) time.Duration {
	switch {
	case d < 0:
		return 0
	case d > MaxCookieAge:
		return MaxCookieAge
	}
	return d
}

// ClearSession deletes every session value. Safe without a session.
func (m *Manager) ClearSession() {
	for _, name := range []string{
		AccessTokenCookie,
		RefreshTokenCookie,
		IDTokenCookie,
		StateCookie,
		VerifierCookie,
		ReturnToCookie,
		DownstreamTokenCookie,
	} {
		m.store.Delete(name)
	}
}

func (m *Manager) AccessToken() (string, bool) {
	return m.store.Get(AccessTokenCookie)
}

func (m *Manager) RefreshToken() (string, bool) {
	return m.store.Get(RefreshTokenCookie)
}

// SetIDToken stores a verified identity token.
func (m *Manager) SetIDToken(raw string) {
	m.store.Set(IDTokenCookie, raw, IDTokenMaxAge)
}

// IDToken returns the stored identity token as is.
func (m *Manager) IDToken() (string, bool) {
	return m.store.Get(IDTokenCookie)
}

// Identity decodes the stored identity token. A missing or undecodable token
// reports no identity.
func (m *Manager) Identity(ctx context.Context) (idp.CustomerIdentity, bool) {
	raw, ok := m.IDToken()
	if !ok || m.ids == nil {
		return idp.CustomerIdentity{}, false
	}

	id, err := m.ids.Decode(ctx, raw)
	if err != nil {
		log.LogDebugWithFields("session", "Stored identity token rejected", map[string]any{
			"error": err.Error(),
		})
		return idp.CustomerIdentity{}, false
	}
	return id, true
}

func (m *Manager) SetDownstreamCredential(c DownstreamCredential) {
	data, err := json.Marshal(c)
	if err != nil {
		log.LogErrorWithFields("session", "Failed to encode downstream credential", map[string]any{
			"error": err.Error(),
		})
		return
	}
	m.store.Set(DownstreamTokenCookie, string(data), DownstreamCredentialMaxAge)
}

// DownstreamCredential returns the cached credential if one is present.
func (m *Manager) DownstreamCredential() (DownstreamCredential, bool) {
	raw, ok := m.store.Get(DownstreamTokenCookie)
	if !ok {
		return DownstreamCredential{}, false
	}

	var c DownstreamCredential
	if err := json.Unmarshal([]byte(raw), &c); err != nil || c.Token == "" {
		return DownstreamCredential{}, false
	}
	return c, true
}

// SaveAuthRequest remembers a login attempt. Empty verifier or return path
// clears any stale value left by an earlier attempt.
func (m *Manager) SaveAuthRequest(a AuthRequestState) {
	m.store.Set(StateCookie, a.State, AuthRequestMaxAge)

	if a.CodeVerifier != "" {
		m.store.Set(VerifierCookie, a.CodeVerifier, AuthRequestMaxAge)
	} else {
		m.store.Delete(VerifierCookie)
	}

	if a.ReturnPath != "" {
		m.store.Set(ReturnToCookie, a.ReturnPath, AuthRequestMaxAge)
	} else {
		m.store.Delete(ReturnToCookie)
	}
}

// ConsumeAuthRequest returns the stored login attempt and deletes it. It
// deletes even when nothing was stored.
func (m *Manager) ConsumeAuthRequest() AuthRequestState {
	var a AuthRequestState
	a.State, _ = m.store.Get(StateCookie)
	a.CodeVerifier, _ = m.store.Get(VerifierCookie)
	a.ReturnPath, _ = m.store.Get(ReturnToCookie)

	m.store.Delete(StateCookie)
	m.store.Delete(VerifierCookie)
	m.store.Delete(ReturnToCookie)
	return a
}

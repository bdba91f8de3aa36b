package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/dgellow/storefront-auth/internal/downstream"
	"github.com/dgellow/storefront-auth/internal/emailutil"
	"github.com/dgellow/storefront-auth/internal/idp"
	"github.com/dgellow/storefront-auth/internal/log"
	"github.com/dgellow/storefront-auth/internal/oauth"
	"github.com/dgellow/storefront-auth/internal/session"
	"github.com/dgellow/storefront-auth/internal/urlutil"
)

// User-facing login failures. Details stay in the logs.
const (
	genericLoginError    = "We couldn’t sign you in. Please request a new login link."
	unexpectedLoginError = "Unexpected error during authentication."
)

const defaultReturnPath = "/"

var errNoRefreshToken = errors.New("no refresh token in session")

// AuthHandlers serves the customer login, callback and logout endpoints.
type AuthHandlers struct {
	provider   *idp.CustomerAccount
	verifier   *idp.Verifier
	broker     *downstream.Broker
	sessions   session.Factory
	appBaseURL string
}

// NewAuthHandlers creates the login flow handlers.
func NewAuthHandlers(
	provider *idp.CustomerAccount,
	verifier *idp.Verifier,
	broker *downstream.Broker,
	sessions session.Factory,
	appBaseURL string,
) *AuthHandlers {
	return &AuthHandlers{
		provider:   provider,
		verifier:   verifier,
		broker:     broker,
		sessions:   sessions,
		appBaseURL: appBaseURL,
	}
}

// StartHandler begins a login: it remembers state (and a PKCE verifier for
// public clients) and redirects to the Identity Provider.
func (h *AuthHandlers) StartHandler(w http.ResponseWriter, r *http.Request) {
	sess := h.sessions(w, r)

	state, err := oauth.GenerateState()
	if err != nil {
		log.LogError("Failed to generate OAuth state: %v", err)
		h.redirectToLogin(w, r, unexpectedLoginError)
		return
	}

	authReq := session.AuthRequestState{State: state}
	var challenge string
	if h.provider.IsPublicClient() {
		verifier, err := oauth.GenerateCodeVerifier()
		if err != nil {
			log.LogError("Failed to generate PKCE verifier: %v", err)
			h.redirectToLogin(w, r, unexpectedLoginError)
			return
		}
		authReq.CodeVerifier = verifier
		challenge = oauth.GenerateCodeChallenge(verifier)
	}

	if returnTo := r.FormValue("return_to"); returnTo != "" {
		if p, ok := urlutil.SafeReturnPath(returnTo); ok {
			authReq.ReturnPath = p
		} else {
			log.LogWarnWithFields("auth", "Ignoring unsafe return_to", map[string]any{
				"request_id": RequestIDFromContext(r.Context()),
			})
		}
	}

	sess.SaveAuthRequest(authReq)

	log.LogInfoWithFields("auth", "Redirecting to identity provider", map[string]any{
		"public_client": h.provider.IsPublicClient(),
		"has_return_to": authReq.ReturnPath != "",
		"request_id":    RequestIDFromContext(r.Context()),
	})
	http.Redirect(w, r, h.provider.AuthURL(state, challenge, authReq.ReturnPath), http.StatusFound)
}

// CallbackHandler completes a login started by StartHandler.
func (h *AuthHandlers) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := h.sessions(w, r)
	q := r.URL.Query()

	// Single use regardless of outcome
	stored := sess.ConsumeAuthRequest()

	if providerErr := q.Get("error"); providerErr != "" {
		log.LogWarnWithFields("auth", "Identity provider returned an error", map[string]any{
			"error":      providerErr,
			"request_id": RequestIDFromContext(ctx),
		})
		h.redirectToLogin(w, r, providerErr)
		return
	}

	code := q.Get("code")
	if err := oauth.ValidateCallback(code, q.Get("state"), stored.State); err != nil {
		log.LogWarnWithFields("auth", "Rejected OAuth callback", map[string]any{
			"error":      err.Error(),
			"request_id": RequestIDFromContext(ctx),
		})
		h.redirectToLogin(w, r, genericLoginError)
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			log.LogErrorWithFields("auth", "Panic while completing login", map[string]any{
				"panic":      rec,
				"request_id": RequestIDFromContext(ctx),
			})
			sess.ClearSession()
			h.redirectToLogin(w, r, unexpectedLoginError)
		}
	}()

	if err := h.completeLogin(ctx, sess, code, stored.CodeVerifier); err != nil {
		h.failLogin(w, r, sess, err)
		return
	}

	target := defaultReturnPath
	if p, ok := urlutil.SafeReturnPath(q.Get("return_to")); ok {
		target = p
	} else if p, ok := urlutil.SafeReturnPath(stored.ReturnPath); ok {
		target = p
	}

	dest, err := urlutil.Resolve(h.appBaseURL, target)
	if err != nil {
		h.failLogin(w, r, sess, err)
		return
	}

	log.LogInfoWithFields("auth", "Customer signed in", map[string]any{
		"return_to":  target,
		"request_id": RequestIDFromContext(ctx),
	})
	http.Redirect(w, r, dest, http.StatusFound)
}

// loginError is a failure whose message may be shown on the login page.
type loginError struct {
	message string
}

func (e *loginError) Error() string { return e.message }

func (h *AuthHandlers) completeLogin(ctx context.Context, sess *session.Manager, code, verifier string) error {
	bundle, err := h.provider.ExchangeCode(ctx, code, verifier)
	if err != nil {
		return err
	}
	if bundle.AccessToken == "" {
		return &loginError{message: genericLoginError}
	}

	if bundle.IDToken != "" {
		identity, err := h.verifier.Verify(ctx, bundle.IDToken)
		if err != nil {
			log.LogWarnWithFields("auth", "Identity token failed verification", map[string]any{
				"error":      err.Error(),
				"request_id": RequestIDFromContext(ctx),
			})
			return &loginError{message: genericLoginError}
		}
		sess.SetIDToken(bundle.IDToken)
		log.LogInfoWithFields("auth", "Identity token verified", map[string]any{
			"email":      emailutil.Redact(identity.Email),
			"request_id": RequestIDFromContext(ctx),
		})

		if identity.Subject != "" {
			h.logBridge(ctx, h.broker.Bridge(ctx, sess, identity.Subject))
		}
	}

	return sess.SetSession(bundle)
}

// logBridge records the downstream outcome. A failed bridge never fails the
// login; the credential is fetched again when first needed.
func (h *AuthHandlers) logBridge(ctx context.Context, res downstream.BridgeResult) {
	if res.OK() {
		log.LogDebugWithFields("auth", "Storefront credential cached at login", map[string]any{
			"customer":   res.Credential.CustomerGID,
			"request_id": RequestIDFromContext(ctx),
		})
		return
	}

	fields := map[string]any{
		"error":      res.Err.Error(),
		"request_id": RequestIDFromContext(ctx),
	}
	var exErr *downstream.DownstreamExchangeError
	if errors.As(res.Err, &exErr) {
		fields["status"] = exErr.StatusCode
	}
	log.LogWarnWithFields("auth", "Storefront credential unavailable after login", fields)
}

func (h *AuthHandlers) failLogin(w http.ResponseWriter, r *http.Request, sess *session.Manager, err error) {
	fields := map[string]any{
		"error":      err.Error(),
		"request_id": RequestIDFromContext(r.Context()),
	}

	var (
		exErr    *idp.TokenExchangeError
		loginErr *loginError
	)
	switch {
	case errors.As(err, &loginErr):
		log.LogWarnWithFields("auth", "Login failed", fields)
		h.redirectToLogin(w, r, loginErr.message)

	case errors.As(err, &exErr):
		message := exErr.UserMessage()
		if message == "" {
			message = genericLoginError
		}
		if exErr.StatusCode != 0 {
			fields["status"] = exErr.StatusCode
		}
		log.LogWarnWithFields("auth", "Token exchange failed", fields)
		if exErr.StatusCode == 0 {
			sess.ClearSession()
		}
		h.redirectToLogin(w, r, message)

	default:
		log.LogErrorWithFields("auth", "Unexpected error during login", fields)
		sess.ClearSession()
		h.redirectToLogin(w, r, unexpectedLoginError)
	}
}

func (h *AuthHandlers) redirectToLogin(w http.ResponseWriter, r *http.Request, message string) {
	http.Redirect(w, r, h.loginURL(message), http.StatusFound)
}

func (h *AuthHandlers) loginURL(message string) string {
	u := h.provider.LoginURL()
	if message == "" {
		return u
	}
	return fmt.Sprintf("%s?error=%s", u, url.QueryEscape(message))
}

// LogoutHandler clears the session and ends the provider session when a
// logout endpoint is configured.
func (h *AuthHandlers) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	sess := h.sessions(w, r)

	idToken, _ := sess.IDToken()
	sess.ClearSession()

	log.LogInfoWithFields("auth", "Customer signed out", map[string]any{
		"request_id": RequestIDFromContext(r.Context()),
	})

	if logoutURL := h.provider.LogoutURL(idToken); logoutURL != "" {
		http.Redirect(w, r, logoutURL, http.StatusFound)
		return
	}
	http.Redirect(w, r, h.provider.LoginURL(), http.StatusFound)
}

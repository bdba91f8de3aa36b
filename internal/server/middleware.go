package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/dgellow/storefront-auth/internal/idp"
	jsonwriter "github.com/dgellow/storefront-auth/internal/json"
	"github.com/dgellow/storefront-auth/internal/log"
	"github.com/dgellow/storefront-auth/internal/session"
	"github.com/segmentio/ksuid"
)

// MiddlewareFunc is a function that wraps an http.Handler
type MiddlewareFunc func(http.Handler) http.Handler

// ChainMiddleware chains multiple middleware functions. The last one listed
// runs first.
func ChainMiddleware(h http.Handler, middlewares ...MiddlewareFunc) http.Handler {
	for _, mw := range middlewares {
		h = mw(h)
	}
	return h
}

// responseWriterDelegator wraps http.ResponseWriter to capture status and bytes written
// while properly delegating all optional interfaces through Unwrap
type responseWriterDelegator struct {
	http.ResponseWriter
	status      int
	written     int
	wroteHeader bool
}

func wrapResponseWriter(w http.ResponseWriter) *responseWriterDelegator {
	return &responseWriterDelegator{
		ResponseWriter: w,
		status:         http.StatusOK,
	}
}

func (r *responseWriterDelegator) Status() int {
	return r.status
}

func (r *responseWriterDelegator) BytesWritten() int {
	return r.written
}

func (r *responseWriterDelegator) WriteHeader(code int) {
	if r.wroteHeader {
		return
	}
	r.status = code
	r.wroteHeader = true
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseWriterDelegator) Write(b []byte) (int, error) {
	if !r.wroteHeader {
		r.WriteHeader(http.StatusOK)
	}
	n, err := r.ResponseWriter.Write(b)
	r.written += n
	return n, err
}

// Unwrap returns the underlying ResponseWriter for interface detection
func (r *responseWriterDelegator) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

var _ http.ResponseWriter = (*responseWriterDelegator)(nil)

type requestIDKey struct{}

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-Id"

// RequestIDFromContext returns the id assigned by NewRequestIDMiddleware.
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// NewRequestIDMiddleware tags every request with a KSUID, or keeps the
// caller's id when it is a well-formed KSUID.
func NewRequestIDMiddleware() MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(RequestIDHeader)
			if _, err := ksuid.Parse(id); err != nil {
				id = ksuid.New().String()
			}
			w.Header().Set(RequestIDHeader, id)
			ctx := context.WithValue(r.Context(), requestIDKey{}, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// NewLoggerMiddleware adds request/response logging. Query strings are not
// logged because the callback carries the authorization code.
func NewLoggerMiddleware(prefix string) MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := wrapResponseWriter(w)

			next.ServeHTTP(wrapped, r)

			fields := map[string]any{
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      wrapped.Status(),
				"duration_ms": time.Since(start).Milliseconds(),
				"bytes":       wrapped.BytesWritten(),
				"remote_addr": r.RemoteAddr,
			}
			if id := RequestIDFromContext(r.Context()); id != "" {
				fields["request_id"] = id
			}

			log.LogInfoWithFields(prefix, "request", fields)
		})
	}
}

// NewRecoverMiddleware recovers from panics
func NewRecoverMiddleware(prefix string) MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.LogErrorWithFields(prefix, "Recovered from panic", map[string]any{
						"panic":      err,
						"path":       r.URL.Path,
						"request_id": RequestIDFromContext(r.Context()),
					})
					jsonwriter.WriteInternalServerError(w, "Internal Server Error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// NewNoStoreMiddleware marks responses as uncacheable.
func NewNoStoreMiddleware() MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Cache-Control", "no-store")
			next.ServeHTTP(w, r)
		})
	}
}

// TokenRefresher renews an access token from a refresh token.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (idp.TokenBundle, error)
}

// NewRequireCustomerMiddleware admits requests with a valid customer
// session. An expired access token is renewed with the refresh token; when
// the provider refuses, the session is cleared. A provider that cannot be
// reached yields 503 and the session is kept.
func NewRequireCustomerMiddleware(sessions session.Factory, refresher TokenRefresher) MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			sess := sessions(w, r)

			id, ok := sess.Identity(ctx)
			if !ok {
				jsonwriter.WriteUnauthorized(w, "Sign in required")
				return
			}

			if _, ok := sess.AccessToken(); !ok {
				if err := refreshSession(ctx, sess, refresher); err != nil {
					fields := map[string]any{
						"error":      err.Error(),
						"request_id": RequestIDFromContext(ctx),
					}
					var exErr *idp.TokenExchangeError
					if errors.As(err, &exErr) && exErr.Unreachable() {
						log.LogWarnWithFields("session", "Identity provider unreachable during renewal", fields)
						jsonwriter.WriteServiceUnavailable(w, "Identity provider unavailable")
						return
					}
					log.LogInfoWithFields("session", "Customer session could not be renewed", fields)
					sess.ClearSession()
					jsonwriter.WriteUnauthorized(w, "Session expired")
					return
				}
			}

			ctx = session.WithIdentity(ctx, id)
			ctx = session.WithManager(ctx, sess)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func refreshSession(ctx context.Context, sess *session.Manager, refresher TokenRefresher) error {
	refreshToken, ok := sess.RefreshToken()
	if !ok {
		return errNoRefreshToken
	}

	bundle, err := refresher.Refresh(ctx, refreshToken)
	if err != nil {
		return err
	}
	if err := sess.SetSession(bundle); err != nil {
		return err
	}

	log.LogDebugWithFields("session", "Customer access token refreshed", map[string]any{
		"request_id": RequestIDFromContext(ctx),
	})
	return nil
}

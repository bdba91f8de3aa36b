package server

import (
	"net/http"

	"github.com/dgellow/storefront-auth/internal/config"
	"github.com/dgellow/storefront-auth/internal/session"
)

// Routes bundles what NewHandler mounts.
type Routes struct {
	Auth      *AuthHandlers
	Account   *AccountHandlers
	Sessions  session.Factory
	Refresher TokenRefresher
}

// NewHandler builds the service's HTTP handler.
func NewHandler(routes Routes) http.Handler {
	mux := http.NewServeMux()

	base := []MiddlewareFunc{
		NewRecoverMiddleware("http"),
		NewLoggerMiddleware("http"),
		NewRequestIDMiddleware(),
	}
	authMiddleware := append([]MiddlewareFunc{NewNoStoreMiddleware()}, base...)
	accountMiddleware := append([]MiddlewareFunc{
		NewRequireCustomerMiddleware(routes.Sessions, routes.Refresher),
		NewNoStoreMiddleware(),
	}, base...)

	handle := func(pattern string, h http.HandlerFunc, mws []MiddlewareFunc) {
		mux.Handle(pattern, ChainMiddleware(h, mws...))
	}

	handle("GET /auth/start", routes.Auth.StartHandler, authMiddleware)
	handle("POST /auth/start", routes.Auth.StartHandler, authMiddleware)
	handle("GET "+config.CallbackPath, routes.Auth.CallbackHandler, authMiddleware)
	handle("GET /logout", routes.Auth.LogoutHandler, authMiddleware)
	handle("POST /logout", routes.Auth.LogoutHandler, authMiddleware)

	if routes.Account != nil {
		handle("GET /account", routes.Account.AccountHandler, accountMiddleware)
		handle("GET /account/downstream-token", routes.Account.DownstreamTokenHandler, accountMiddleware)
		handle("GET /account/subscriptions", routes.Account.ListSubscriptionsHandler, accountMiddleware)
		handle("POST /account/subscriptions/{id}/cancel", routes.Account.CancelSubscriptionHandler, accountMiddleware)
		handle("POST /account/subscriptions/{id}/reactivate", routes.Account.ReactivateSubscriptionHandler, accountMiddleware)
	}

	mux.Handle("GET /health", ChainMiddleware(NewHealthHandler(), base...))

	return mux
}

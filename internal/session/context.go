package session

import (
	"context"

	"github.com/dgellow/storefront-auth/internal/idp"
)

type contextKey string

const identityKey contextKey = "session.identity"

// WithIdentity adds the authenticated customer to the context
func WithIdentity(ctx context.Context, id idp.CustomerIdentity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// IdentityFromContext retrieves the authenticated customer from context
func IdentityFromContext(ctx context.Context) (idp.CustomerIdentity, bool) {
	id, ok := ctx.Value(identityKey).(idp.CustomerIdentity)
	return id, ok
}

const managerKey contextKey = "session.manager"

// WithManager shares one request's session manager with later handlers.
func WithManager(ctx context.Context, m *Manager) context.Context {
	return context.WithValue(ctx, managerKey, m)
}

// ManagerFromContext retrieves the request's session manager
func ManagerFromContext(ctx context.Context) (*Manager, bool) {
	m, ok := ctx.Value(managerKey).(*Manager)
	return m, ok && m != nil
}

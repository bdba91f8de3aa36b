package downstream

import (
	"context"

	"github.com/dgellow/storefront-auth/internal/log"
	"github.com/dgellow/storefront-auth/internal/session"
	"golang.org/x/sync/singleflight"
)

const customerGIDPrefix = "gid://shopify/Customer/"

// Credential is a storefront token scoped to one customer.
type Credential = session.DownstreamCredential

// CustomerGID builds the global customer id for an identity subject.
func CustomerGID(subject string) string {
	return customerGIDPrefix + subject
}

// Broker hands out storefront credentials, caching them in the session.
type Broker struct {
	tokens TokenService
	store  string
	group  singleflight.Group
}

// NewBroker creates a broker minting tokens for store.
func NewBroker(tokens TokenService, store string) *Broker {
	return &Broker{tokens: tokens, store: store}
}

// Cached returns the session's credential when it belongs to customerGID.
func (b *Broker) Cached(sess *session.Manager, customerGID string) (Credential, bool) {
	c, ok := sess.DownstreamCredential()
	if !ok || c.CustomerGID != customerGID {
		return Credential{}, false
	}
	return c, true
}

// Resolve returns the cached credential or fetches and caches a new one.
// A cached credential is trusted until its cookie expires.
func (b *Broker) Resolve(ctx context.Context, sess *session.Manager, customerGID string) (Credential, error) {
	if c, ok := b.Cached(sess, customerGID); ok {
		return c, nil
	}
	return b.Refresh(ctx, sess, customerGID)
}

// Refresh fetches a new credential regardless of the cache and stores it.
// Concurrent refreshes for the same customer share one request, which is not
// cancelled when the caller that started it goes away.
func (b *Broker) Refresh(ctx context.Context, sess *session.Manager, customerGID string) (Credential, error) {
	shared := context.WithoutCancel(ctx)
	v, err, joined := b.group.Do(b.store+"|"+customerGID, func() (any, error) {
		return b.tokens.CreateStorefrontToken(shared, b.store, customerGID)
	})
	if err != nil {
		return Credential{}, err
	}

	c := Credential{Token: v.(string), CustomerGID: customerGID}
	sess.SetDownstreamCredential(c)

	log.LogInfoWithFields("downstream", "Storefront credential issued", map[string]any{
		"customer": customerGID,
		"shared":   joined,
	})
	return c, nil
}

// BridgeResult is the outcome of bridging a fresh login to the downstream
// service. Err is set when no credential could be obtained.
type BridgeResult struct {
	Credential Credential
	Err        error
}

// OK reports whether a credential was obtained.
func (r BridgeResult) OK() bool {
	return r.Err == nil
}

// Bridge obtains a credential for the identity subject. Failures are
// reported in the result.
func (b *Broker) Bridge(ctx context.Context, sess *session.Manager, subject string) BridgeResult {
	if subject == "" {
		return BridgeResult{Err: ErrNoSubject}
	}
	c, err := b.Resolve(ctx, sess, CustomerGID(subject))
	if err != nil {
		return BridgeResult{Err: err}
	}
	return BridgeResult{Credential: c}
}

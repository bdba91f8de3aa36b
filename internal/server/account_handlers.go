package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/dgellow/storefront-auth/internal/downstream"
	jsonwriter "github.com/dgellow/storefront-auth/internal/json"
	"github.com/dgellow/storefront-auth/internal/log"
	"github.com/dgellow/storefront-auth/internal/session"
)

// AccountHandlers serves endpoints for a signed-in customer. They run behind
// NewRequireCustomerMiddleware.
type AccountHandlers struct {
	broker     *downstream.Broker
	storefront *downstream.StorefrontClient
	sessions   session.Factory
}

// NewAccountHandlers creates the account handlers.
func NewAccountHandlers(broker *downstream.Broker, storefront *downstream.StorefrontClient, sessions session.Factory) *AccountHandlers {
	return &AccountHandlers{
		broker:     broker,
		storefront: storefront,
		sessions:   sessions,
	}
}

type accountResponse struct {
	Subject       string `json:"sub"`
	Email         string `json:"email,omitempty"`
	EmailVerified bool   `json:"email_verified"`
	CustomerGID   string `json:"customer_gid"`
}

type downstreamTokenResponse struct {
	Token       string `json:"token"`
	CustomerGID string `json:"customer_gid"`
	Cached      bool   `json:"cached"`
}

// AccountHandler describes the signed-in customer.
func (h *AccountHandlers) AccountHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := session.IdentityFromContext(r.Context())
	if !ok {
		jsonwriter.WriteUnauthorized(w, "Sign in required")
		return
	}

	_ = jsonwriter.WriteNoStore(w, accountResponse{
		Subject:       id.Subject,
		Email:         id.Email,
		EmailVerified: id.EmailVerified,
		CustomerGID:   downstream.CustomerGID(id.Subject),
	})
}

// DownstreamTokenHandler returns a storefront credential for the customer,
// from the session cache unless refresh=true is given.
func (h *AccountHandlers) DownstreamTokenHandler(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	gid, ok := customerGID(r)
	if !ok {
		jsonwriter.WriteUnauthorized(w, "Sign in required")
		return
	}
	sess := h.sessions(w, r)

	if r.URL.Query().Get("refresh") != "true" {
		if c, ok := h.broker.Cached(sess, gid); ok {
			_ = jsonwriter.WriteNoStore(w, downstreamTokenResponse{Token: c.Token, CustomerGID: c.CustomerGID, Cached: true})
			return
		}
	}

	c, err := h.broker.Refresh(ctx, sess, gid)
	if err != nil {
		writeDownstreamError(w, r, err)
		return
	}
	_ = jsonwriter.WriteNoStore(w, downstreamTokenResponse{Token: c.Token, CustomerGID: c.CustomerGID})
}

// ListSubscriptionsHandler returns the customer's subscriptions.
func (h *AccountHandlers) ListSubscriptionsHandler(w http.ResponseWriter, r *http.Request) {
	gid, ok := customerGID(r)
	if !ok {
		jsonwriter.WriteUnauthorized(w, "Sign in required")
		return
	}

	subs, err := h.storefront.ListSubscriptions(r.Context(), h.sessions(w, r), gid)
	if err != nil {
		writeDownstreamError(w, r, err)
		return
	}
	_ = jsonwriter.WriteNoStore(w, map[string]json.RawMessage{"subscriptions": subs})
}

type cancelSubscriptionRequest struct {
	Reason string `json:"reason"`
}

// CancelSubscriptionHandler cancels the subscription named in the path.
func (h *AccountHandlers) CancelSubscriptionHandler(w http.ResponseWriter, r *http.Request) {
	gid, ok := customerGID(r)
	if !ok {
		jsonwriter.WriteUnauthorized(w, "Sign in required")
		return
	}
	subscriptionID := r.PathValue("id")
	if subscriptionID == "" {
		jsonwriter.WriteBadRequest(w, "Missing subscription id")
		return
	}

	var req cancelSubscriptionRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
			jsonwriter.WriteBadRequest(w, "Invalid request body")
			return
		}
	}

	sub, err := h.storefront.CancelSubscription(r.Context(), h.sessions(w, r), gid, subscriptionID, req.Reason)
	if err != nil {
		writeDownstreamError(w, r, err)
		return
	}
	_ = jsonwriter.WriteNoStore(w, map[string]json.RawMessage{"subscription": sub})
}

// ReactivateSubscriptionHandler resumes the subscription named in the path.
func (h *AccountHandlers) ReactivateSubscriptionHandler(w http.ResponseWriter, r *http.Request) {
	gid, ok := customerGID(r)
	if !ok {
		jsonwriter.WriteUnauthorized(w, "Sign in required")
		return
	}
	subscriptionID := r.PathValue("id")
	if subscriptionID == "" {
		jsonwriter.WriteBadRequest(w, "Missing subscription id")
		return
	}

	sub, err := h.storefront.ReactivateSubscription(r.Context(), h.sessions(w, r), gid, subscriptionID)
	if err != nil {
		writeDownstreamError(w, r, err)
		return
	}
	_ = jsonwriter.WriteNoStore(w, map[string]json.RawMessage{"subscription": sub})
}

func customerGID(r *http.Request) (string, bool) {
	id, ok := session.IdentityFromContext(r.Context())
	if !ok || id.Subject == "" {
		return "", false
	}
	return downstream.CustomerGID(id.Subject), true
}

func writeDownstreamError(w http.ResponseWriter, r *http.Request, err error) {
	fields := map[string]any{
		"error":      err.Error(),
		"path":       r.URL.Path,
		"request_id": RequestIDFromContext(r.Context()),
	}

	var (
		exErr  *downstream.DownstreamExchangeError
		apiErr *downstream.StorefrontAPIError
	)
	switch {
	case errors.Is(err, downstream.ErrStorefrontNotConfigured):
		jsonwriter.WriteServiceUnavailable(w, "Subscriptions are not available")
		return
	case errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 && apiErr.StatusCode != http.StatusUnauthorized:
		// Client errors from the subscriptions API are the customer's to see
		fields["status"] = apiErr.StatusCode
		log.LogInfoWithFields("account", "Storefront API rejected request", fields)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(apiErr.StatusCode)
		_, _ = w.Write([]byte(apiErr.Payload))
		return
	case errors.As(err, &exErr):
		fields["status"] = exErr.StatusCode
	}

	log.LogErrorWithFields("account", "Downstream request failed", fields)
	jsonwriter.WriteBadGateway(w, "Subscription service unavailable")
}

package downstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dgellow/storefront-auth/internal/ioutil"
	"github.com/dgellow/storefront-auth/internal/log"
	"github.com/dgellow/storefront-auth/internal/session"
	"github.com/dgellow/storefront-auth/internal/urlutil"
)

// StorefrontClient calls the customer-facing subscriptions API with a
// credential from the broker.
type StorefrontClient struct {
	baseURL    string
	broker     *Broker
	httpClient *http.Client
	timeout    time.Duration
}

// NewStorefrontClient creates a client for baseURL. An empty baseURL yields
// a client whose calls fail with ErrStorefrontNotConfigured.
func NewStorefrontClient(baseURL string, broker *Broker, httpClient *http.Client, timeout time.Duration) *StorefrontClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &StorefrontClient{
		baseURL:    baseURL,
		broker:     broker,
		httpClient: httpClient,
		timeout:    timeout,
	}
}

type cancelRequest struct {
	Reason                         string `json:"reason"`
	Permanent                      bool   `json:"permanent"`
	SubscriptionID                 string `json:"subscription_id"`
	MoveOneTimesToNextEligibleDate bool   `json:"move_one_times_to_next_eligible_date"`
}

type reactivateRequest struct {
	SubscriptionID string `json:"subscription_id"`
}

// ListSubscriptions returns the customer's subscriptions as sent by the API.
func (c *StorefrontClient) ListSubscriptions(ctx context.Context, sess *session.Manager, customerGID string) (json.RawMessage, error) {
	return c.call(ctx, sess, customerGID, http.MethodGet, "/v1/subscriptions", nil, "subscriptions")
}

// CancelSubscription pauses a subscription. It is never a permanent cancel.
func (c *StorefrontClient) CancelSubscription(ctx context.Context, sess *session.Manager, customerGID, subscriptionID, reason string) (json.RawMessage, error) {
	body := cancelRequest{
		Reason:                         reason,
		Permanent:                      false,
		SubscriptionID:                 subscriptionID,
		MoveOneTimesToNextEligibleDate: true,
	}
	return c.call(ctx, sess, customerGID, http.MethodPost, "/v1/subscriptions/cancel", body, "subscription")
}

// ReactivateSubscription resumes a cancelled subscription.
func (c *StorefrontClient) ReactivateSubscription(ctx context.Context, sess *session.Manager, customerGID, subscriptionID string) (json.RawMessage, error) {
	body := reactivateRequest{SubscriptionID: subscriptionID}
	return c.call(ctx, sess, customerGID, http.MethodPost, "/v1/subscriptions/reactivate", body, "subscription")
}

// call performs one API request. A 401 means the cached credential went
// stale; it is refreshed and the request retried once.
func (c *StorefrontClient) call(ctx context.Context, sess *session.Manager, customerGID, method, path string, body any, field string) (json.RawMessage, error) {
	if c.baseURL == "" {
		return nil, ErrStorefrontNotConfigured
	}
	endpoint, err := urlutil.JoinPath(c.baseURL, path)
	if err != nil {
		return nil, fmt.Errorf("invalid storefront API URL: %w", err)
	}

	var payload []byte
	if body != nil {
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
	}

	cred, err := c.broker.Resolve(ctx, sess, customerGID)
	if err != nil {
		return nil, err
	}

	status, respBody, err := c.do(ctx, method, endpoint, payload, cred.Token)
	if err != nil {
		return nil, err
	}

	if status == http.StatusUnauthorized {
		log.LogInfoWithFields("downstream", "Storefront credential rejected, refreshing", map[string]any{
			"customer": customerGID,
			"path":     path,
		})
		if cred, err = c.broker.Refresh(ctx, sess, customerGID); err != nil {
			return nil, err
		}
		if status, respBody, err = c.do(ctx, method, endpoint, payload, cred.Token); err != nil {
			return nil, err
		}
	}

	if status < 200 || status > 299 {
		return nil, &StorefrontAPIError{StatusCode: status, Payload: string(respBody)}
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return nil, fmt.Errorf("failed to decode storefront response: %w", err)
	}
	if v, ok := envelope[field]; ok {
		return v, nil
	}
	return json.RawMessage("null"), nil
}

func (c *StorefrontClient) do(ctx context.Context, method, endpoint string, payload []byte, token string) (int, []byte, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Storefront-API-Token", token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("storefront API request failed: %w", err)
	}
	defer resp.Body.Close()

	limit := int64(1 << 20)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		limit = ioutil.DefaultErrorBodyLimit
	}
	data, err := ioutil.ReadLimitedBytes(resp.Body, limit)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to read storefront response: %w", err)
	}
	return resp.StatusCode, data, nil
}

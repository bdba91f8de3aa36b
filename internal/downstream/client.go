package downstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/dgellow/storefront-auth/internal/config"
	"github.com/dgellow/storefront-auth/internal/ioutil"
	"github.com/dgellow/storefront-auth/internal/log"
	"github.com/dgellow/storefront-auth/internal/urlutil"
)

const storefrontTokensPath = "/v1/customers/storefront-tokens"

// TokenService mints storefront tokens for customers.
type TokenService interface {
	CreateStorefrontToken(ctx context.Context, store, customerGID string) (string, error)
}

// Client calls the merchant API of the subscription service.
type Client struct {
	baseURL    string
	apiKey     config.Secret
	httpClient *http.Client
	timeout    time.Duration
}

// NewClient creates a merchant API client. Each call is bounded by timeout.
func NewClient(cfg config.DownstreamConfig, httpClient *http.Client, timeout time.Duration) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL:    cfg.MerchantAPIURL,
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
		timeout:    timeout,
	}
}

type storefrontTokenRequest struct {
	Store      string `json:"store"`
	CustomerID string `json:"customer_id"`
}

type storefrontTokenResponse struct {
	Token string `json:"token"`
}

// CreateStorefrontToken exchanges a customer GID for a storefront token.
func (c *Client) CreateStorefrontToken(ctx context.Context, store, customerGID string) (string, error) {
	endpoint, err := urlutil.JoinPath(c.baseURL, storefrontTokensPath)
	if err != nil {
		return "", fmt.Errorf("invalid merchant API URL: %w", err)
	}

	body, err := json.Marshal(storefrontTokenRequest{Store: store, CustomerID: customerGID})
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Api-Key", string(c.apiKey))

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("storefront token request failed: %w", err)
	}
	defer resp.Body.Close()

	log.LogDebugWithFields("downstream", "Storefront token request completed", map[string]any{
		"status":   resp.StatusCode,
		"duration": time.Since(start).String(),
	})

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &DownstreamExchangeError{
			StatusCode: resp.StatusCode,
			Payload:    ioutil.ReadLimited(resp.Body, ioutil.DefaultErrorBodyLimit),
		}
	}

	var out storefrontTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode storefront token response: %w", err)
	}
	if out.Token == "" {
		return "", fmt.Errorf("storefront token response has no token")
	}
	return out.Token, nil
}

package downstream

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dgellow/storefront-auth/internal/session"
	"github.com/dgellow/storefront-auth/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestStorefrontClient_ListSubscriptions(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/v1/subscriptions", r.URL.Path)
		assert.Equal(t, "sf-1", r.Header.Get("X-Storefront-API-Token"))
		_, _ = w.Write([]byte(`{"subscriptions":[{"id":"sub_1"}],"next_cursor":null}`))
	}))
	defer server.Close()

	sess := session.NewManager(session.NewMemoryStore(nil), nil)
	tokens := &testutil.MockTokenService{}
	tokens.On("CreateStorefrontToken", mock.Anything, "example-store", testGID).Return("sf-1", nil).Once()

	client := NewStorefrontClient(server.URL, NewBroker(tokens, "example-store"), nil, 5*time.Second)

	subs, err := client.ListSubscriptions(context.Background(), sess, testGID)
	require.NoError(t, err)
	assert.JSONEq(t, `[{"id":"sub_1"}]`, string(subs))
}

func TestStorefrontClient_CancelSubscription(t *testing.T) {
	var body map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/subscriptions/cancel", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, _ = w.Write([]byte(`{"subscription":{"id":"sub_1","status":"cancelled"}}`))
	}))
	defer server.Close()

	sess := session.NewManager(session.NewMemoryStore(nil), nil)
	sess.SetDownstreamCredential(Credential{Token: "sf-1", CustomerGID: testGID})
	client := NewStorefrontClient(server.URL, NewBroker(&testutil.MockTokenService{}, "example-store"), nil, 5*time.Second)

	sub, err := client.CancelSubscription(context.Background(), sess, testGID, "sub_1", "too much coffee")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"sub_1","status":"cancelled"}`, string(sub))
	assert.Equal(t, map[string]any{
		"reason":                               "too much coffee",
		"permanent":                            false,
		"subscription_id":                      "sub_1",
		"move_one_times_to_next_eligible_date": true,
	}, body)
}

func TestStorefrontClient_RetriesOnceAfterUnauthorized(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("X-Storefront-API-Token") != "fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "sub_1", req["subscription_id"])
		_, _ = w.Write([]byte(`{"subscription":{"id":"sub_1","status":"active"}}`))
	}))
	defer server.Close()

	sess := session.NewManager(session.NewMemoryStore(nil), nil)
	sess.SetDownstreamCredential(Credential{Token: "stale", CustomerGID: testGID})

	tokens := &testutil.MockTokenService{}
	tokens.On("CreateStorefrontToken", mock.Anything, "example-store", testGID).Return("fresh", nil).Once()
	client := NewStorefrontClient(server.URL, NewBroker(tokens, "example-store"), nil, 5*time.Second)

	sub, err := client.ReactivateSubscription(context.Background(), sess, testGID, "sub_1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"sub_1","status":"active"}`, string(sub))
	assert.Equal(t, int32(2), calls.Load())
	tokens.AssertExpectations(t)
}

func TestStorefrontClient_Errors(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		client := NewStorefrontClient("", NewBroker(&testutil.MockTokenService{}, "s"), nil, time.Second)
		_, err := client.ListSubscriptions(context.Background(), session.NewManager(session.NewMemoryStore(nil), nil), testGID)
		assert.ErrorIs(t, err, ErrStorefrontNotConfigured)
	})

	t.Run("api error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			_, _ = w.Write([]byte(`{"message":"already cancelled"}`))
		}))
		defer server.Close()

		sess := session.NewManager(session.NewMemoryStore(nil), nil)
		sess.SetDownstreamCredential(Credential{Token: "sf", CustomerGID: testGID})
		client := NewStorefrontClient(server.URL, NewBroker(&testutil.MockTokenService{}, "s"), nil, time.Second)

		_, err := client.CancelSubscription(context.Background(), sess, testGID, "sub_1", "")
		var apiErr *StorefrontAPIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusUnprocessableEntity, apiErr.StatusCode)
		assert.Contains(t, apiErr.Payload, "already cancelled")
	})
}

package idp

import (
	"context"
	"testing"
	"time"

	"github.com/dgellow/storefront-auth/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifier_Verify(t *testing.T) {
	fake := testutil.NewFakeIDP(t, "shp_client")
	v := NewVerifier(StaticKeys{Set: fake.Keys}, fake.Issuer, "shp_client")
	ctx := context.Background()

	t.Run("valid token", func(t *testing.T) {
		id, err := v.Verify(ctx, fake.SignIDToken(nil))
		require.NoError(t, err)

		assert.Equal(t, "7012345", id.Subject)
		assert.Equal(t, "customer@example.com", id.Email)
		assert.True(t, id.EmailVerified)
		assert.Equal(t, "session-1", id.SessionID)
		assert.Equal(t, []string{"shp_client"}, id.Audience)
		assert.Equal(t, fake.Issuer, id.Issuer)
		assert.False(t, id.ExpiresAt.IsZero())
	})

	t.Run("email normalized", func(t *testing.T) {
		id, err := v.Verify(ctx, fake.SignIDToken(map[string]any{"email": " Customer@Example.COM"}))
		require.NoError(t, err)
		assert.Equal(t, "customer@example.com", id.Email)
	})

	tests := []struct {
		name   string
		claims map[string]any
	}{
		{name: "expired", claims: map[string]any{"exp": time.Now().Add(-time.Hour)}},
		{name: "wrong audience", claims: map[string]any{"aud": []string{"other-client"}}},
		{name: "wrong issuer", claims: map[string]any{"iss": "https://evil.example"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.Verify(ctx, fake.SignIDToken(tt.claims))
			require.Error(t, err)

			var decodeErr *DecodeError
			assert.ErrorAs(t, err, &decodeErr)
		})
	}

	t.Run("signed by another key", func(t *testing.T) {
		other := testutil.NewFakeIDP(t, "shp_client")
		_, err := v.Verify(ctx, other.SignIDToken(map[string]any{"iss": fake.Issuer}))
		require.Error(t, err)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := v.Verify(ctx, "not.a.jwt")
		require.Error(t, err)
	})
}

func TestVerifier_IssuerCheckDisabled(t *testing.T) {
	fake := testutil.NewFakeIDP(t, "shp_client")
	v := NewVerifier(StaticKeys{Set: fake.Keys}, "", "shp_client")

	_, err := v.Verify(context.Background(), fake.SignIDToken(map[string]any{"iss": "https://anything.example"}))
	assert.NoError(t, err)
}

func TestVerifier_DecodeIgnoresExpiry(t *testing.T) {
	fake := testutil.NewFakeIDP(t, "shp_client")
	v := NewVerifier(StaticKeys{Set: fake.Keys}, fake.Issuer, "shp_client")
	ctx := context.Background()

	expired := fake.SignIDToken(map[string]any{"exp": time.Now().Add(-48 * time.Hour)})
	id, err := v.Decode(ctx, expired)
	require.NoError(t, err)
	assert.Equal(t, "7012345", id.Subject)

	_, err = v.Decode(ctx, fake.SignIDToken(map[string]any{"aud": []string{"other-client"}}))
	assert.Error(t, err)

	_, err = v.Decode(ctx, fake.SignIDToken(map[string]any{"iss": "https://evil.example"}))
	assert.Error(t, err)
}

func TestRemoteKeys(t *testing.T) {
	fake := testutil.NewFakeIDP(t, "shp_client")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	keys, err := NewRemoteKeys(ctx, fake.JWKSURL(), nil)
	require.NoError(t, err)
	v := NewVerifier(keys, fake.Issuer, "shp_client")

	for range 3 {
		_, err := v.Verify(ctx, fake.SignIDToken(nil))
		require.NoError(t, err)
	}
	assert.Equal(t, 1, fake.JWKSHits())
}

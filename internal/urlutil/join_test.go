package urlutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJoinPath(t *testing.T) {
	tests := []struct {
		name    string
		base    string
		paths   []string
		want    string
		wantErr bool
	}{
		{
			name:  "callback path",
			base:  "https://shop.example.com",
			paths: []string{"auth", "callback"},
			want:  "https://shop.example.com/auth/callback",
		},
		{
			name:  "base with trailing slash",
			base:  "https://shop.example.com/",
			paths: []string{"/auth/callback"},
			want:  "https://shop.example.com/auth/callback",
		},
		{
			name:  "base with path",
			base:  "https://merchant.example.com/api",
			paths: []string{"v1", "customers", "storefront-tokens"},
			want:  "https://merchant.example.com/api/v1/customers/storefront-tokens",
		},
		{
			name:  "trailing slash preserved",
			base:  "https://shop.example.com",
			paths: []string{"account/"},
			want:  "https://shop.example.com/account/",
		},
		{
			name:    "invalid base URL",
			base:    "://invalid",
			paths:   []string{"auth"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := JoinPath(tt.base, tt.paths...)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMustJoinPath(t *testing.T) {
	assert.Equal(t, "https://shop.example.com/login", MustJoinPath("https://shop.example.com", "login"))
	assert.Panics(t, func() {
		MustJoinPath("://invalid", "login")
	})
}

func TestSafeReturnPath(t *testing.T) {
	tests := []struct {
		in   string
		safe bool
	}{
		{"/account", true},
		{"/account?tab=subscriptions", true},
		{"/", true},
		{"/account#orders", true},
		{"", false},
		{"account", false},
		{"https://evil.example", false},
		{"//evil.example", false},
		{"/\\evil.example", false},
		{"/account\\..\\evil", false},
		{"/acc\nount", false},
		{"javascript:alert(1)", false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, ok := SafeReturnPath(tt.in)
			assert.Equal(t, tt.safe, ok)
			if tt.safe {
				assert.Equal(t, tt.in, got)
			} else {
				assert.Empty(t, got)
			}
		})
	}
}

func TestResolve(t *testing.T) {
	got, err := Resolve("https://shop.example.com", "/account?tab=1")
	assert.NoError(t, err)
	assert.Equal(t, "https://shop.example.com/account?tab=1", got)

	got, err = Resolve("https://shop.example.com/base/", "/login")
	assert.NoError(t, err)
	assert.Equal(t, "https://shop.example.com/login", got)
}

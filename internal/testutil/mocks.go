package testutil

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockTokenService is a testify mock of the storefront token service.
type MockTokenService struct {
	mock.Mock
}

func (m *MockTokenService) CreateStorefrontToken(ctx context.Context, store, customerGID string) (string, error) {
	args := m.Called(ctx, store, customerGID)
	return args.String(0), args.Error(1)
}

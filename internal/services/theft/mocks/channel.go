package mocks

import (
	"context"

	"github.com/BearBump/TagGuard/internal/integrations/notify"
	"github.com/BearBump/TagGuard/internal/models"
	"github.com/stretchr/testify/mock"
)

type MockChannel struct {
	mock.Mock
}

func (m *MockChannel) Send(ctx context.Context, user *models.User, p notify.Payload) error {
	args := m.Called(ctx, user, p)
	return args.Error(0)
}

type MockCatalog struct {
	mock.Mock
}

func (m *MockCatalog) Lookup(ctx context.Context, epc string) (*models.Product, error) {
	args := m.Called(ctx, epc)
	p, _ := args.Get(0).(*models.Product)
	return p, args.Error(1)
}

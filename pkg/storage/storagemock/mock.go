package storagemock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sunwise/sunwise/pkg/storage"
	"github.com/sunwise/sunwise/pkg/types"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) ListIntegrations(ctx context.Context, userID string) ([]types.Integration, error) {
	args := m.Called(ctx, userID)
	if v := args.Get(0); v != nil {
		return v.([]types.Integration), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDatabase) GetIntegration(ctx context.Context, userID string, provider types.ProviderTag) (types.Integration, error) {
	args := m.Called(ctx, userID, provider)
	return args.Get(0).(types.Integration), args.Error(1)
}

func (m *MockDatabase) UpsertIntegration(ctx context.Context, integration types.Integration, version int) error {
	args := m.Called(ctx, integration, version)
	return args.Error(0)
}

func (m *MockDatabase) InsertQuote(ctx context.Context, quote types.Quote, version int) error {
	args := m.Called(ctx, quote, version)
	return args.Error(0)
}

func (m *MockDatabase) GetQuote(ctx context.Context, quoteID string) (types.Quote, error) {
	args := m.Called(ctx, quoteID)
	return args.Get(0).(types.Quote), args.Error(1)
}

func (m *MockDatabase) Close() error {
	return nil
}

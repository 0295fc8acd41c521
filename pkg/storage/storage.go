package storage

import (
	"context"
	"errors"

	"github.com/sunwise/sunwise/pkg/types"
)

var (
	ErrIntegrationNotFound = errors.New("integration not found")
	ErrQuoteNotFound       = errors.New("quote not found")
	ErrQuoteExists         = errors.New("quote already exists")
)

// Database defines the interface for persisting integrations and quotes.
type Database interface {
	// Integrations
	// ListIntegrations returns every integration of the user, connected or
	// not.
	ListIntegrations(ctx context.Context, userID string) ([]types.Integration, error)
	GetIntegration(ctx context.Context, userID string, provider types.ProviderTag) (types.Integration, error)
	// UpsertIntegration creates or replaces the (user, provider) record.
	UpsertIntegration(ctx context.Context, integration types.Integration, version int) error

	// Quotes
	InsertQuote(ctx context.Context, quote types.Quote, version int) error
	GetQuote(ctx context.Context, quoteID string) (types.Quote, error)

	// Lifecycle
	Close() error
}

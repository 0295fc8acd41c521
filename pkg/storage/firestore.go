package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"cloud.google.com/go/firestore"
	"github.com/levenlabs/go-lflag"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/sunwise/sunwise/pkg/log"
	"github.com/sunwise/sunwise/pkg/types"
)

// FirestoreProvider implements Database using Google Cloud Firestore.
// Integrations live under users/{userID}/integrations/{provider} and quotes
// under quotes/{quoteID}, each stored as a JSON blob plus a version.
type FirestoreProvider struct {
	client    *firestore.Client
	projectID string
	database  string
}

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")

	f := &FirestoreProvider{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// NewFirestore returns an uninitialised provider; call Init before use.
func NewFirestore(projectID, database string) *FirestoreProvider {
	return &FirestoreProvider{projectID: projectID, database: database}
}

// Validate checks if the provider is properly configured.
func (f *FirestoreProvider) Validate() error {
	// project id may be empty and inferred from the environment
	return nil
}

// Init initializes the Firestore client.
// This must be called before using the provider methods.
func (f *FirestoreProvider) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreProvider) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func (f *FirestoreProvider) integrations(userID string) (*firestore.CollectionRef, error) {
	if userID == "" {
		return nil, errors.New("userID cannot be empty")
	}
	return f.client.Collection("users").Doc(userID).Collection("integrations"), nil
}

// decodeJSONField reads the "json" string field of doc into dest.
func decodeJSONField(ctx context.Context, doc *firestore.DocumentSnapshot, dest any) error {
	val, err := doc.DataAt("json")
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "doc missing json", slog.String("path", doc.Ref.Path))
		return fmt.Errorf("document %s missing 'json' field: %w", doc.Ref.ID, err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "doc json not string", slog.String("path", doc.Ref.Path))
		return fmt.Errorf("document %s 'json' field is not a string", doc.Ref.ID)
	}
	if err := json.Unmarshal([]byte(jsonStr), dest); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal doc json", slog.String("path", doc.Ref.Path), slog.Any("err", err))
		return fmt.Errorf("failed to unmarshal document %s: %w", doc.Ref.ID, err)
	}
	return nil
}

// ListIntegrations returns every integration stored for the user.
func (f *FirestoreProvider) ListIntegrations(ctx context.Context, userID string) ([]types.Integration, error) {
	coll, err := f.integrations(userID)
	if err != nil {
		return nil, err
	}
	iter := coll.OrderBy(firestore.DocumentID, firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var integrations []types.Integration
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating integrations: %w", err)
		}
		var i types.Integration
		if err := decodeJSONField(ctx, doc, &i); err != nil {
			return nil, err
		}
		integrations = append(integrations, i)
	}
	return integrations, nil
}

// GetIntegration returns the (user, provider) integration.
func (f *FirestoreProvider) GetIntegration(ctx context.Context, userID string, provider types.ProviderTag) (types.Integration, error) {
	coll, err := f.integrations(userID)
	if err != nil {
		return types.Integration{}, err
	}
	doc, err := coll.Doc(string(provider)).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.Integration{}, fmt.Errorf("%w: %s/%s", ErrIntegrationNotFound, userID, provider)
		}
		return types.Integration{}, fmt.Errorf("failed to get integration %s/%s: %w", userID, provider, err)
	}
	var i types.Integration
	if err := decodeJSONField(ctx, doc, &i); err != nil {
		return types.Integration{}, err
	}
	return i, nil
}

// UpsertIntegration writes the integration keyed by its provider tag, so a
// reconnect replaces the previous record.
func (f *FirestoreProvider) UpsertIntegration(ctx context.Context, integration types.Integration, version int) error {
	jsonBytes, err := json.Marshal(integration)
	if err != nil {
		return fmt.Errorf("failed to marshal integration: %w", err)
	}
	coll, err := f.integrations(integration.UserID)
	if err != nil {
		return err
	}
	_, err = coll.Doc(string(integration.Provider)).Set(ctx, map[string]interface{}{
		"json":        string(jsonBytes),
		"isConnected": integration.IsConnected,
		"lastSync":    integration.LastSync,
		"version":     version,
	})
	if err != nil {
		return fmt.Errorf("failed to upsert integration: %w", err)
	}
	return nil
}

// InsertQuote creates quotes/{id}. It fails if the id is taken.
func (f *FirestoreProvider) InsertQuote(ctx context.Context, quote types.Quote, version int) error {
	if quote.ID == "" {
		return errors.New("quote id cannot be empty")
	}
	jsonBytes, err := json.Marshal(quote)
	if err != nil {
		return fmt.Errorf("failed to marshal quote: %w", err)
	}
	_, err = f.client.Collection("quotes").Doc(quote.ID).Create(ctx, map[string]interface{}{
		"json":      string(jsonBytes),
		"createdAt": quote.CreatedAt,
		"email":     quote.Intake.Email,
		"version":   version,
	})
	if err != nil {
		if status.Code(err) == codes.AlreadyExists {
			return fmt.Errorf("%w: %s", ErrQuoteExists, quote.ID)
		}
		return fmt.Errorf("failed to insert quote %s: %w", quote.ID, err)
	}
	return nil
}

// GetQuote returns quotes/{quoteID}.
func (f *FirestoreProvider) GetQuote(ctx context.Context, quoteID string) (types.Quote, error) {
	if quoteID == "" {
		return types.Quote{}, fmt.Errorf("%w: empty id", ErrQuoteNotFound)
	}
	doc, err := f.client.Collection("quotes").Doc(quoteID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.Quote{}, fmt.Errorf("%w: %s", ErrQuoteNotFound, quoteID)
		}
		return types.Quote{}, fmt.Errorf("failed to get quote %s: %w", quoteID, err)
	}
	var q types.Quote
	if err := decodeJSONField(ctx, doc, &q); err != nil {
		return types.Quote{}, err
	}
	return q, nil
}

// Package integration owns the per-user list of connected data sources.
package integration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"github.com/levenlabs/go-lflag"

	"github.com/sunwise/sunwise/pkg/log"
	"github.com/sunwise/sunwise/pkg/storage"
	"github.com/sunwise/sunwise/pkg/telemetry"
	"github.com/sunwise/sunwise/pkg/types"
)

var (
	ErrUnknownProvider   = errors.New("unknown provider")
	ErrInvalidCredential = errors.New("invalid credential")
	// ErrVerificationUnavailable means the vendor could not be asked about
	// the credential right now. The credential may well be valid.
	ErrVerificationUnavailable = errors.New("credential verification unavailable")
)

var telemetryCredentialPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{16,128}$`)

// maxOpaqueCredential bounds credentials of providers without a known format.
const maxOpaqueCredential = 1024

// Registry reads and writes integrations, encrypting their secrets at rest.
type Registry struct {
	db        storage.Database
	cipher    *Cipher
	telemetry telemetry.Provider
	now       func() time.Time
}

// New returns a Registry.
func New(db storage.Database, c *Cipher, tel telemetry.Provider) *Registry {
	return &Registry{
		db:        db,
		cipher:    c,
		telemetry: tel,
		now:       time.Now,
	}
}

// Configured registers the encryption key flag and returns a Registry.
func Configured(db storage.Database, tel telemetry.Provider) *Registry {
	r := &Registry{db: db, telemetry: tel, now: time.Now}
	key := lflag.RequiredString("credentials-encryption-key", "32 byte key for encrypting integration credentials")

	lflag.Do(func() {
		c, err := NewCipher(*key)
		if err != nil {
			panic(fmt.Sprintf("invalid credentials-encryption-key: %v", err))
		}
		r.cipher = c
	})
	return r
}

// List returns every integration of the user with its secret decrypted.
// An integration whose secret cannot be decrypted is returned without it.
func (r *Registry) List(ctx context.Context, userID string) ([]types.Integration, error) {
	integrations, err := r.db.ListIntegrations(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list integrations: %w", err)
	}
	for i := range integrations {
		secret, err := r.cipher.Decrypt(ctx, integrations[i].EncryptedSecret)
		if err != nil {
			log.Ctx(ctx).WarnContext(
				ctx,
				"dropping undecryptable integration secret",
				slog.String("provider", string(integrations[i].Provider)),
				slog.Any("error", err),
			)
			continue
		}
		integrations[i].Credential = secret.Credential
		integrations[i].Tokens = secret.Tokens
	}
	return integrations, nil
}

// ListConnected returns only the connected integrations of the user.
func (r *Registry) ListConnected(ctx context.Context, userID string) ([]types.Integration, error) {
	all, err := r.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	connected := make([]types.Integration, 0, len(all))
	for _, i := range all {
		if i.IsConnected {
			connected = append(connected, i)
		}
	}
	return connected, nil
}

// ValidateCredential checks the credential format for provider and, for
// inverter telemetry, asks the vendor. It does not persist anything.
func (r *Registry) ValidateCredential(ctx context.Context, provider types.ProviderTag, credential string) error {
	if !provider.Valid() {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
	if len(credential) > maxOpaqueCredential {
		return fmt.Errorf("%w: too long", ErrInvalidCredential)
	}
	switch provider {
	case types.ProviderTelemetry:
		if !telemetry.IsSandbox(credential) && !telemetryCredentialPattern.MatchString(credential) {
			return fmt.Errorf("%w: malformed inverter api key", ErrInvalidCredential)
		}
		if err := r.telemetry.CheckCredential(ctx, credential); err != nil {
			if errors.Is(err, telemetry.ErrCredentialRejected) {
				return fmt.Errorf("%w: rejected by inverter api", ErrInvalidCredential)
			}
			return fmt.Errorf("%w: %w", ErrVerificationUnavailable, err)
		}
	case types.ProviderForecast:
		// the weather api needs no key
	default:
		if credential == "" {
			return fmt.Errorf("%w: credential is required", ErrInvalidCredential)
		}
	}
	return nil
}

// Connect validates the credential and upserts the (user, provider)
// integration as connected.
func (r *Registry) Connect(ctx context.Context, userID string, provider types.ProviderTag, credential string, tokens *types.OAuthTokens) (types.Integration, error) {
	if userID == "" {
		return types.Integration{}, errors.New("userID cannot be empty")
	}
	if err := r.ValidateCredential(ctx, provider, credential); err != nil {
		return types.Integration{}, err
	}

	integration := types.Integration{
		UserID:      userID,
		Provider:    provider,
		IsConnected: true,
		LastSync:    r.now().UTC(),
		Credential:  credential,
		Tokens:      tokens,
	}
	if err := r.save(ctx, &integration); err != nil {
		return types.Integration{}, err
	}
	log.Ctx(ctx).InfoContext(ctx, "integration connected", slog.String("provider", string(provider)))
	return integration, nil
}

// Disconnect marks the integration as disconnected. The record and its
// secret are kept.
func (r *Registry) Disconnect(ctx context.Context, userID string, provider types.ProviderTag) error {
	if !provider.Valid() {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
	integration, err := r.db.GetIntegration(ctx, userID, provider)
	if err != nil {
		return err
	}
	if !integration.IsConnected {
		return nil
	}
	integration.IsConnected = false
	if err := r.db.UpsertIntegration(ctx, integration, types.CurrentIntegrationVersion); err != nil {
		return fmt.Errorf("failed to disconnect integration: %w", err)
	}
	log.Ctx(ctx).InfoContext(ctx, "integration disconnected", slog.String("provider", string(provider)))
	return nil
}

// UpdateTokens replaces the OAuth tokens of an existing integration.
func (r *Registry) UpdateTokens(ctx context.Context, userID string, provider types.ProviderTag, tokens *types.OAuthTokens) error {
	if !provider.Valid() {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
	integration, err := r.db.GetIntegration(ctx, userID, provider)
	if err != nil {
		return err
	}
	secret, err := r.cipher.Decrypt(ctx, integration.EncryptedSecret)
	if err != nil {
		return err
	}
	integration.Credential = secret.Credential
	integration.Tokens = tokens
	integration.LastSync = r.now().UTC()
	return r.save(ctx, &integration)
}

func (r *Registry) save(ctx context.Context, integration *types.Integration) error {
	encrypted, err := r.cipher.Encrypt(ctx, types.IntegrationSecret{
		Credential: integration.Credential,
		Tokens:     integration.Tokens,
	})
	if err != nil {
		return err
	}
	integration.EncryptedSecret = encrypted
	if err := r.db.UpsertIntegration(ctx, *integration, types.CurrentIntegrationVersion); err != nil {
		return fmt.Errorf("failed to save integration: %w", err)
	}
	return nil
}

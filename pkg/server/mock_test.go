package server

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"testing"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/go-jose/go-jose/v4"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sunwise/sunwise/pkg/notify"
	"github.com/sunwise/sunwise/pkg/types"
)

type mockDashboard struct {
	mock.Mock
}

func (m *mockDashboard) Summary(ctx context.Context, userID string) types.DashboardMetrics {
	args := m.Called(ctx, userID)
	return args.Get(0).(types.DashboardMetrics)
}

func (m *mockDashboard) History(ctx context.Context, userID string) []types.HistoryPoint {
	args := m.Called(ctx, userID)
	return args.Get(0).([]types.HistoryPoint)
}

func (m *mockDashboard) Mix(ctx context.Context, userID string) types.EnergyMix {
	args := m.Called(ctx, userID)
	return args.Get(0).(types.EnergyMix)
}

func (m *mockDashboard) Forecast(ctx context.Context, userID string) types.ForecastResponse {
	args := m.Called(ctx, userID)
	return args.Get(0).(types.ForecastResponse)
}

type mockRegistry struct {
	mock.Mock
}

func (m *mockRegistry) List(ctx context.Context, userID string) ([]types.Integration, error) {
	args := m.Called(ctx, userID)
	if v := args.Get(0); v != nil {
		return v.([]types.Integration), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockRegistry) Connect(ctx context.Context, userID string, provider types.ProviderTag, credential string, tokens *types.OAuthTokens) (types.Integration, error) {
	args := m.Called(ctx, userID, provider, credential, tokens)
	return args.Get(0).(types.Integration), args.Error(1)
}

func (m *mockRegistry) Disconnect(ctx context.Context, userID string, provider types.ProviderTag) error {
	args := m.Called(ctx, userID, provider)
	return args.Error(0)
}

type mockPublisher struct {
	mock.Mock
}

var _ notify.Publisher = (*mockPublisher)(nil)

func (m *mockPublisher) PublishQuote(ctx context.Context, quote types.Quote) error {
	args := m.Called(ctx, quote)
	return args.Error(0)
}

func (m *mockPublisher) Close() error {
	return nil
}

const (
	testIssuer   = "https://issuer.example.com"
	testAudience = "test-audience"
)

// testOIDC signs ID tokens with a throwaway RSA key and verifies them with a
// static key set, so no discovery endpoint is needed.
type testOIDC struct {
	t      *testing.T
	signer jose.Signer
	verify tokenVerifier
}

func setupOIDCTest(t *testing.T) *testOIDC {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.RS256, Key: key},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	require.NoError(t, err)

	keySet := &oidc.StaticKeySet{PublicKeys: []crypto.PublicKey{&key.PublicKey}}
	verifier := oidc.NewVerifier(testIssuer, keySet, &oidc.Config{ClientID: testAudience})
	return &testOIDC{t: t, signer: signer, verify: verifier.Verify}
}

func (o *testOIDC) token(subject, email string, expires time.Time) string {
	o.t.Helper()
	claims := map[string]any{
		"iss": testIssuer,
		"aud": testAudience,
		"sub": subject,
		"iat": time.Now().Add(-time.Minute).Unix(),
		"exp": expires.Unix(),
	}
	if email != "" {
		claims["email"] = email
	}
	payload, err := json.Marshal(claims)
	require.NoError(o.t, err)
	obj, err := o.signer.Sign(payload)
	require.NoError(o.t, err)
	raw, err := obj.CompactSerialize()
	require.NoError(o.t, err)
	return raw
}

func (o *testOIDC) server() *Server {
	return &Server{
		oidcAudiences: map[string]string{"google": testAudience},
		oidcVerifiers: map[string]tokenVerifier{"google": o.verify},
		serverName:    "sunwise-test",
		now:           time.Now,
	}
}

package types

import (
	"slices"
	"time"
)

// CurrentIntegrationVersion is stored alongside every persisted integration.
const CurrentIntegrationVersion = 1

// ProviderTag identifies the kind of external data source an integration
// connects.
type ProviderTag string

const (
	ProviderTelemetry  ProviderTag = "inverter-telemetry"
	ProviderForecast   ProviderTag = "forecast"
	ProviderBattery    ProviderTag = "battery-telemetry"
	ProviderSmartMeter ProviderTag = "smart-meter"
)

// Providers lists every supported provider tag.
var Providers = []ProviderTag{
	ProviderTelemetry,
	ProviderForecast,
	ProviderBattery,
	ProviderSmartMeter,
}

// Valid reports whether p is one of the supported provider tags.
func (p ProviderTag) Valid() bool {
	return slices.Contains(Providers, p)
}

// OAuthTokens are the optional vendor tokens attached to an integration.
type OAuthTokens struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	Expiry       time.Time `json:"expiry"`
}

// IntegrationSecret is the plaintext that gets encrypted into
// Integration.EncryptedSecret.
type IntegrationSecret struct {
	Credential string       `json:"credential"`
	Tokens     *OAuthTokens `json:"tokens,omitempty"`
}

// Integration is a per-user record of a connected external data source. There
// is at most one per (UserID, Provider).
type Integration struct {
	UserID          string      `json:"userID"`
	Provider        ProviderTag `json:"provider"`
	IsConnected     bool        `json:"isConnected"`
	LastSync        time.Time   `json:"lastSync"`
	EncryptedSecret []byte      `json:"encryptedSecret,omitempty"`

	// Filled in by the registry after decrypting EncryptedSecret, never
	// persisted in plaintext.
	Credential string       `json:"-"`
	Tokens     *OAuthTokens `json:"-"`
}

// IntegrationInfo is the public view of an integration returned by the API.
type IntegrationInfo struct {
	Provider    ProviderTag `json:"provider"`
	IsConnected bool        `json:"isConnected"`
	LastSync    time.Time   `json:"lastSync"`
	HasTokens   bool        `json:"hasTokens"`
	TokenExpiry *time.Time  `json:"tokenExpiry,omitempty"`
}

// Info returns the public view of the integration.
func (i Integration) Info() IntegrationInfo {
	info := IntegrationInfo{
		Provider:    i.Provider,
		IsConnected: i.IsConnected,
		LastSync:    i.LastSync,
	}
	if i.Tokens != nil {
		info.HasTokens = true
		if !i.Tokens.Expiry.IsZero() {
			exp := i.Tokens.Expiry
			info.TokenExpiry = &exp
		}
	}
	return info
}

// Package telemetry reads inverter production from the Enphase API and
// falls back to a simulated reading whenever a real one cannot be had.
package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/sunwise/sunwise/pkg/common"
	"github.com/sunwise/sunwise/pkg/log"
	"github.com/sunwise/sunwise/pkg/solar"
	"github.com/sunwise/sunwise/pkg/types"
)

// SandboxPrefix marks credentials that never reach the vendor API.
const SandboxPrefix = "sandbox_"

// SandboxSystemID is the single system reported for sandbox credentials.
const SandboxSystemID = "sandbox-system"

var (
	// ErrRateLimited is returned when the local quota guard refuses a call.
	ErrRateLimited = errors.New("telemetry rate limit exceeded")
	// ErrCredentialRejected is returned when the vendor refuses a credential.
	ErrCredentialRejected = errors.New("credential rejected by inverter api")
)

// IsSandbox reports whether credential is a sandbox credential.
func IsSandbox(credential string) bool {
	return strings.HasPrefix(credential, SandboxPrefix)
}

// Provider is what the aggregation engine and registry need from an
// inverter vendor.
type Provider interface {
	ValidateCredential(ctx context.Context, credential string) bool
	// CheckCredential is ValidateCredential with the reason. It returns
	// ErrCredentialRejected for a bad credential and any other error when
	// the vendor could not be asked.
	CheckCredential(ctx context.Context, credential string) error
	GetSystems(ctx context.Context, credential string) ([]string, error)
	// GetProduction never fails; a reading that could not be fetched is
	// simulated and tagged as such.
	GetProduction(ctx context.Context, systemID, credential string) types.TelemetryReading
}

var readingsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "sunwise",
		Subsystem: "telemetry",
		Name:      "readings_total",
		Help:      "Production readings by origin and fallback reason.",
	},
	[]string{"origin", "reason"},
)

func init() {
	prometheus.MustRegister(readingsTotal)
}

// Enphase implements Provider for the Enphase Enlighten v4 API.
type Enphase struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
	sim     *Simulator
}

// New returns an Enphase client. interval is the minimum average spacing
// between vendor calls; burst calls may be made back to back.
func New(baseURL string, timeout, interval time.Duration, burst int, sim *Simulator) *Enphase {
	return &Enphase{
		baseURL: baseURL,
		client:  common.HTTPClient(timeout),
		limiter: rate.NewLimiter(rate.Every(interval), burst),
		sim:     sim,
	}
}

// Configured sets up flags for the Enphase client and returns the instance.
// The simulator peaks at the configured system size.
func Configured(cfg *solar.Config) *Enphase {
	e := &Enphase{}
	apiURL := lflag.String("enphase-api-url", "https://api.enphaseenergy.com/api/v4", "Base URL for the Enphase API")
	timeout := lflag.Duration("enphase-timeout", 5*time.Second, "Timeout for a single Enphase request")
	interval := lflag.Duration("enphase-request-interval", 6*time.Second, "Minimum average interval between Enphase requests (vendor quota)")

	lflag.Do(func() {
		if _, err := url.Parse(*apiURL); err != nil || *apiURL == "" {
			panic(fmt.Sprintf("invalid enphase-api-url: %q", *apiURL))
		}
		if *interval <= 0 {
			panic("enphase-request-interval must be positive")
		}
		*e = *New(*apiURL, *timeout, *interval, 10, NewSimulator(cfg.SystemSizeKW*1000))
	})
	return e
}

// Simulator returns the fallback simulator.
func (e *Enphase) Simulator() *Simulator {
	return e.sim
}

// ValidateCredential checks a credential. Sandbox credentials are accepted
// without a network call.
func (e *Enphase) ValidateCredential(ctx context.Context, credential string) bool {
	return e.CheckCredential(ctx, credential) == nil
}

// CheckCredential asks the vendor whether credential is valid. Only a 401 or
// 403 means the credential itself is bad; the local quota guard, timeouts and
// upstream errors are returned as is so callers can retry later.
func (e *Enphase) CheckCredential(ctx context.Context, credential string) error {
	if IsSandbox(credential) {
		return nil
	}
	if credential == "" {
		return fmt.Errorf("%w: empty", ErrCredentialRejected)
	}
	_, err := e.listSystems(ctx, credential)
	switch {
	case err == nil:
		return nil
	case common.IsUnauthorized(err):
		log.Ctx(ctx).InfoContext(ctx, "enphase credential rejected", slog.Any("error", err))
		return fmt.Errorf("%w: %w", ErrCredentialRejected, err)
	default:
		log.Ctx(ctx).WarnContext(ctx, "enphase credential check unavailable", slog.Any("error", err))
		return err
	}
}

// GetSystems returns the system ids visible to credential.
func (e *Enphase) GetSystems(ctx context.Context, credential string) ([]string, error) {
	if IsSandbox(credential) {
		return []string{SandboxSystemID}, nil
	}
	return e.listSystems(ctx, credential)
}

// GetProduction returns the current production of systemID. Sandbox
// credentials, an empty system id, and any failure all yield a simulated
// reading.
func (e *Enphase) GetProduction(ctx context.Context, systemID, credential string) types.TelemetryReading {
	if IsSandbox(credential) {
		return e.simulate(ctx, "sandbox", nil)
	}
	if systemID == "" || credential == "" {
		return e.simulate(ctx, "no_system", nil)
	}

	reading, err := e.production(ctx, systemID, credential)
	if err != nil {
		reason := "error"
		switch {
		case errors.Is(err, ErrRateLimited):
			reason = "rate_limited"
		case common.IsQuotaExceeded(err):
			reason = "quota"
		case common.IsUnauthorized(err):
			reason = "unauthorized"
		case isTimeout(err):
			reason = "timeout"
		}
		return e.simulate(ctx, reason, err)
	}
	readingsTotal.WithLabelValues(string(types.OriginReal), "").Inc()
	return reading
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout())
}

func (e *Enphase) simulate(ctx context.Context, reason string, err error) types.TelemetryReading {
	readingsTotal.WithLabelValues(string(types.OriginSimulated), reason).Inc()
	if err != nil {
		log.Ctx(ctx).WarnContext(
			ctx,
			"enphase production unavailable, simulating",
			slog.String("reason", reason),
			slog.Any("error", err),
		)
	} else {
		log.Ctx(ctx).DebugContext(ctx, "simulating production", slog.String("reason", reason))
	}
	return e.sim.Reading()
}

type systemsResponse struct {
	Systems []struct {
		SystemID int64 `json:"system_id"`
	} `json:"systems"`
}

func (e *Enphase) listSystems(ctx context.Context, credential string) ([]string, error) {
	req, err := e.newGetRequest(ctx, "systems", nil)
	if err != nil {
		return nil, err
	}
	var res systemsResponse
	if err := e.doRequest(req, credential, &res); err != nil {
		return nil, fmt.Errorf("failed to list systems: %w", err)
	}
	ids := make([]string, 0, len(res.Systems))
	for _, s := range res.Systems {
		ids = append(ids, strconv.FormatInt(s.SystemID, 10))
	}
	return ids, nil
}

type productionResponse struct {
	Production *struct {
		WNow    *float64 `json:"wNow"`
		WhToday *float64 `json:"whToday"`
	} `json:"production"`
}

func (e *Enphase) production(ctx context.Context, systemID, credential string) (types.TelemetryReading, error) {
	req, err := e.newGetRequest(ctx, "systems/"+url.PathEscape(systemID)+"/telemetry/production_micro", nil)
	if err != nil {
		return types.TelemetryReading{}, err
	}
	var res productionResponse
	if err := e.doRequest(req, credential, &res); err != nil {
		return types.TelemetryReading{}, fmt.Errorf("failed to get production: %w", err)
	}
	if res.Production == nil || res.Production.WNow == nil || res.Production.WhToday == nil {
		return types.TelemetryReading{}, errors.New("malformed production payload")
	}
	return types.TelemetryReading{
		Timestamp: time.Now(),
		PowerW:    max(*res.Production.WNow, 0),
		WhToday:   max(*res.Production.WhToday, 0),
		Origin:    types.OriginReal,
	}, nil
}

func (e *Enphase) newGetRequest(ctx context.Context, endpoint string, params url.Values) (*http.Request, error) {
	u, err := url.Parse(e.baseURL)
	if err != nil {
		return nil, err
	}
	u.Path, err = url.JoinPath(u.Path, endpoint)
	if err != nil {
		return nil, err
	}

	u.RawQuery = params.Encode()
	return http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
}

func (e *Enphase) doRequest(req *http.Request, credential string, dest any) error {
	if !e.limiter.Allow() {
		return ErrRateLimited
	}
	req.Header.Set("Authorization", "Bearer "+credential)
	req.Header.Set("Accept", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := common.CheckStatus(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		log.Ctx(req.Context()).ErrorContext(req.Context(), "failed to decode enphase response", slog.Any("error", err))
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

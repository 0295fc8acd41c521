// Package forecast fetches today's hourly irradiance curve from an
// Open-Meteo compatible weather API.
package forecast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sunwise/sunwise/pkg/common"
	"github.com/sunwise/sunwise/pkg/log"
	"github.com/sunwise/sunwise/pkg/types"
)

// hourlyTimeLayout is how Open-Meteo formats hourly timestamps when a
// timezone is requested.
const hourlyTimeLayout = "2006-01-02T15:04"

// Location is a point on the globe.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// IsZero reports whether no coordinates were given.
func (l Location) IsZero() bool {
	return l.Latitude == 0 && l.Longitude == 0
}

// ReferenceCity is used when the caller has no coordinates.
var ReferenceCity = Location{Latitude: 48.8566, Longitude: 2.3522}

var requestsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "sunwise",
		Subsystem: "forecast",
		Name:      "requests_total",
		Help:      "Forecast lookups by result.",
	},
	[]string{"result"},
)

func init() {
	prometheus.MustRegister(requestsTotal)
}

// Provider is what the aggregation engine needs from a forecast source.
type Provider interface {
	// GetForecast returns false when no forecast is available.
	GetForecast(ctx context.Context, latitude, longitude float64) ([]types.IrradiancePoint, bool)
	// Reference returns the coordinates used when none are given.
	Reference() Location
}

// OpenMeteo implements Provider against the Open-Meteo forecast API.
type OpenMeteo struct {
	apiURL    string
	reference Location
	client    *http.Client
}

// New returns an OpenMeteo client. It is mostly used by tests and the seeder;
// the server uses Configured.
func New(apiURL string, reference Location, timeout time.Duration) *OpenMeteo {
	return &OpenMeteo{
		apiURL:    apiURL,
		reference: reference,
		client:    common.HTTPClient(timeout),
	}
}

// Configured sets up flags for the forecast client and returns the instance.
func Configured() *OpenMeteo {
	o := &OpenMeteo{}
	apiURL := lflag.String("forecast-api-url", "https://api.open-meteo.com", "Base URL for the Open-Meteo forecast API")
	timeout := lflag.Duration("forecast-timeout", 8*time.Second, "Timeout for a single forecast request")
	reference := ReferenceCity
	lflag.JSON(&reference, "forecast-location", reference, "JSON object with latitude/longitude used when a user has no coordinates")

	lflag.Do(func() {
		o.apiURL = *apiURL
		o.reference = reference
		o.client = common.HTTPClient(*timeout)
		if err := o.Validate(); err != nil {
			panic(fmt.Sprintf("invalid forecast config: %v", err))
		}
	})
	return o
}

// Validate ensures the configuration is valid.
func (o *OpenMeteo) Validate() error {
	if o.apiURL == "" {
		return errors.New("forecast-api-url is required")
	}
	if _, err := url.Parse(o.apiURL); err != nil {
		return fmt.Errorf("failed to parse forecast url (%s): %w", o.apiURL, err)
	}
	if o.reference.Latitude < -90 || o.reference.Latitude > 90 {
		return fmt.Errorf("invalid reference latitude: %v", o.reference.Latitude)
	}
	if o.reference.Longitude < -180 || o.reference.Longitude > 180 {
		return fmt.Errorf("invalid reference longitude: %v", o.reference.Longitude)
	}
	return nil
}

// Reference implements Provider.
func (o *OpenMeteo) Reference() Location {
	return o.reference
}

type forecastResponse struct {
	Hourly *struct {
		Time            []string   `json:"time"`
		DirectRadiation []*float64 `json:"direct_radiation"`
	} `json:"hourly"`
}

// GetForecast returns today's hourly direct radiation. Zero coordinates
// mean the reference city. Any failure is logged and reported as false.
func (o *OpenMeteo) GetForecast(ctx context.Context, latitude, longitude float64) ([]types.IrradiancePoint, bool) {
	loc := Location{Latitude: latitude, Longitude: longitude}
	if loc.IsZero() {
		loc = o.reference
	}
	points, err := o.fetch(ctx, loc)
	if err != nil && errors.Is(ctx.Err(), context.Canceled) {
		// the caller no longer needs the forecast
		requestsTotal.WithLabelValues("canceled").Inc()
		log.Ctx(ctx).DebugContext(ctx, "forecast request canceled", slog.Any("error", err))
		return nil, false
	}
	if err != nil {
		requestsTotal.WithLabelValues("error").Inc()
		log.Ctx(ctx).WarnContext(
			ctx,
			"forecast unavailable",
			slog.Float64("latitude", loc.Latitude),
			slog.Float64("longitude", loc.Longitude),
			slog.Any("error", err),
		)
		return nil, false
	}
	requestsTotal.WithLabelValues("ok").Inc()
	return points, true
}

func (o *OpenMeteo) fetch(ctx context.Context, loc Location) ([]types.IrradiancePoint, error) {
	u, err := url.Parse(o.apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid api url: %w", err)
	}
	u = u.JoinPath("v1", "forecast")

	params := url.Values{}
	params.Set("latitude", strconv.FormatFloat(loc.Latitude, 'f', -1, 64))
	params.Set("longitude", strconv.FormatFloat(loc.Longitude, 'f', -1, 64))
	params.Set("hourly", "direct_radiation,diffuse_radiation,shortwave_radiation")
	params.Set("forecast_days", "1")
	params.Set("timezone", "auto")
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	log.Ctx(ctx).DebugContext(ctx, "fetching forecast", slog.String("url", u.String()))

	resp, err := o.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch forecast: %w", err)
	}
	defer resp.Body.Close()

	if err := common.CheckStatus(resp); err != nil {
		return nil, fmt.Errorf("forecast api: %w", err)
	}

	var data forecastResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return parseHourly(data)
}

func parseHourly(data forecastResponse) ([]types.IrradiancePoint, error) {
	if data.Hourly == nil {
		return nil, errors.New("missing hourly block")
	}
	if len(data.Hourly.Time) == 0 {
		return nil, errors.New("empty hourly time series")
	}
	if len(data.Hourly.Time) != len(data.Hourly.DirectRadiation) {
		return nil, fmt.Errorf(
			"hourly series length mismatch: %d times, %d direct_radiation",
			len(data.Hourly.Time),
			len(data.Hourly.DirectRadiation),
		)
	}

	points := make([]types.IrradiancePoint, 0, len(data.Hourly.Time))
	for i, ts := range data.Hourly.Time {
		t, err := time.Parse(hourlyTimeLayout, ts)
		if err != nil {
			return nil, fmt.Errorf("failed to parse hourly time %q: %w", ts, err)
		}
		var irr float64
		if v := data.Hourly.DirectRadiation[i]; v != nil && *v > 0 {
			irr = *v
		}
		points = append(points, types.IrradiancePoint{
			Time:          t.Format("15:04"),
			IrradianceWm2: irr,
		})
	}
	return points, nil
}

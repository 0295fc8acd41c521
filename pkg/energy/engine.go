// Package energy reconciles telemetry and forecast data into the dashboard
// figures. Every operation degrades to a lower-confidence source instead of
// failing.
package energy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/sunwise/sunwise/pkg/forecast"
	"github.com/sunwise/sunwise/pkg/log"
	"github.com/sunwise/sunwise/pkg/solar"
	"github.com/sunwise/sunwise/pkg/telemetry"
	"github.com/sunwise/sunwise/pkg/types"
)

// HistoryStepHours is the spacing of the history curve.
const HistoryStepHours = 2

// Registry lists a user's connected integrations with credentials
// decrypted.
type Registry interface {
	ListConnected(ctx context.Context, userID string) ([]types.Integration, error)
}

var productionSource = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "sunwise",
		Subsystem: "energy",
		Name:      "production_source_total",
		Help:      "Resolved production values by provenance.",
	},
	[]string{"source"},
)

func init() {
	prometheus.MustRegister(productionSource)
}

// Engine computes dashboard data per request. It holds no per-request state
// and is shared by all handlers.
type Engine struct {
	cfg       Config
	model     solar.Model
	registry  Registry
	telemetry telemetry.Provider
	forecast  forecast.Provider
}

// New returns an Engine.
func New(cfg Config, model solar.Model, registry Registry, tel telemetry.Provider, fc forecast.Provider) *Engine {
	return &Engine{
		cfg:       cfg,
		model:     model,
		registry:  registry,
		telemetry: tel,
		forecast:  fc,
	}
}

// connections is what the engine derives from the integration list.
type connections struct {
	telemetryCredential string
	telemetry           bool
	meteo               bool
	battery             bool
}

func (c connections) hasProductionSource() bool {
	return c.telemetry || c.meteo
}

func (e *Engine) connections(ctx context.Context, userID string) connections {
	var c connections
	integrations, err := e.registry.ListConnected(ctx, userID)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to list integrations, assuming none", slog.Any("error", err))
		return c
	}
	for _, i := range integrations {
		if !i.IsConnected {
			continue
		}
		switch i.Provider {
		case types.ProviderTelemetry:
			c.telemetry = true
			c.telemetryCredential = i.Credential
		case types.ProviderForecast:
			c.meteo = true
		case types.ProviderBattery:
			c.battery = true
		}
	}
	return c
}

// fetchForecast returns false when the forecast is unavailable.
func (e *Engine) fetchForecast(ctx context.Context) ([]types.IrradiancePoint, bool) {
	return e.forecast.GetForecast(ctx, 0, 0)
}

// readTelemetry returns the production reading for the user's first system.
// A failed system lookup still yields a (simulated) reading.
func (e *Engine) readTelemetry(ctx context.Context, credential string) types.TelemetryReading {
	var systemID string
	systems, err := e.telemetry.GetSystems(ctx, credential)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to list telemetry systems", slog.Any("error", err))
	} else if len(systems) > 0 {
		systemID = systems[0]
	}
	return e.telemetry.GetProduction(ctx, systemID, credential)
}

// errTelemetryAnswered stops the forecast fetch once telemetry has data.
var errTelemetryAnswered = errors.New("telemetry answered")

// production resolves today's production in kWh. Telemetry and forecast are
// fetched concurrently, then the first tier with data wins: real telemetry,
// simulated telemetry, forecast, and finally a zero estimate. A telemetry
// reading with data cancels the forecast request still in flight.
func (e *Engine) production(ctx context.Context, c connections) types.Estimate {
	if !c.hasProductionSource() {
		return e.countSource(types.Estimate{Provenance: types.ProvenanceEstimated})
	}

	var (
		reading    types.TelemetryReading
		haveRead   bool
		points     []types.IrradiancePoint
		forecastOK bool
	)
	g, gctx := errgroup.WithContext(ctx)
	if c.telemetry && c.telemetryCredential != "" {
		haveRead = true
		g.Go(func() error {
			reading = e.readTelemetry(ctx, c.telemetryCredential)
			if reading.WhToday > 0 {
				return errTelemetryAnswered
			}
			return nil
		})
	}
	g.Go(func() error {
		points, forecastOK = e.fetchForecast(gctx)
		return nil
	})
	_ = g.Wait()

	if haveRead && reading.WhToday > 0 {
		est := types.Estimate{
			Value:      solar.Round(reading.WhToday/1000, 1),
			Provenance: types.ProvenanceTelemetry,
		}
		if reading.Origin == types.OriginSimulated {
			est.Provenance = types.ProvenanceTelemetrySimulated
		}
		return e.countSource(est)
	}

	if forecastOK {
		est := types.Estimate{
			Value:      solar.Round(e.model.DailyEnergyKWh(points), 1),
			Provenance: types.ProvenanceMeteo,
		}
		if c.telemetry {
			est.Provenance = types.ProvenanceTelemetrySimulated
		}
		return e.countSource(est)
	}

	log.Ctx(ctx).InfoContext(ctx, "no production source answered, reporting estimate")
	return e.countSource(types.Estimate{Provenance: types.ProvenanceEstimated})
}

func (e *Engine) countSource(est types.Estimate) types.Estimate {
	productionSource.WithLabelValues(string(est.Provenance)).Inc()
	return est
}

// autonomyPercent is the share of average consumption covered by
// self-consumed production, in whole percent within [0, 100].
func (e *Engine) autonomyPercent(productionKWh float64) int {
	cfg := e.model.Config()
	if productionKWh <= 0 || cfg.AvgDailyConsumptionKWh <= 0 {
		return 0
	}
	solarContribution := min(productionKWh*cfg.SelfConsumptionRatio, cfg.AvgDailyConsumptionKWh)
	return int(math.Round(solarContribution / cfg.AvgDailyConsumptionKWh * 100))
}

func (e *Engine) trend(v float64, src types.Provenance) float64 {
	if !src.HasData() {
		return 0
	}
	return v
}

// Summary returns the four dashboard metrics for userID.
func (e *Engine) Summary(ctx context.Context, userID string) types.DashboardMetrics {
	ctx = log.WithAttrs(ctx, slog.String("userID", userID))
	c := e.connections(ctx, userID)
	prod := e.production(ctx, c)

	consumption := types.Metric{
		Value:  e.cfg.MeterConsumptionKWh,
		Unit:   "kWh",
		Trend:  e.cfg.Trends.Consumption,
		Source: types.ProvenanceMeter,
	}
	if c.battery {
		consumption.Value = e.cfg.BatteryConsumptionKWh
		consumption.Source = types.ProvenanceBattery
	}

	return types.DashboardMetrics{
		Production: types.Metric{
			Value:  prod.Value,
			Unit:   "kWh",
			Trend:  e.trend(e.cfg.Trends.Production, prod.Provenance),
			Source: prod.Provenance,
		},
		Consumption: consumption,
		Autonomy: types.Metric{
			Value:  float64(e.autonomyPercent(prod.Value)),
			Unit:   "%",
			Trend:  e.trend(e.cfg.Trends.Autonomy, prod.Provenance),
			Source: prod.Provenance,
		},
		Savings: types.Metric{
			Value:  math.Round(prod.Value * e.model.Config().TariffPerKWh),
			Unit:   e.cfg.Currency,
			Trend:  e.trend(e.cfg.Trends.Savings, prod.Provenance),
			Source: prod.Provenance,
		},
	}
}

// Mix returns the solar/grid/battery split for userID. Grid is always the
// remainder so the three sum to 100.
func (e *Engine) Mix(ctx context.Context, userID string) types.EnergyMix {
	ctx = log.WithAttrs(ctx, slog.String("userID", userID))
	c := e.connections(ctx, userID)
	if !c.hasProductionSource() {
		return types.EnergyMix{
			Solar: e.cfg.DefaultMixSolar,
			Grid:  100 - e.cfg.DefaultMixSolar,
		}
	}

	var productionKWh float64
	if points, ok := e.fetchForecast(ctx); ok {
		productionKWh = e.model.DailyEnergyKWh(points)
	}
	return splitMix(e.autonomyPercent(productionKWh), c.battery, e.cfg.BatteryShare)
}

func splitMix(solarPct int, battery bool, batteryShare float64) types.EnergyMix {
	solarPct = min(max(solarPct, 0), 100)
	grid := 100 - solarPct
	var batteryPct int
	if battery {
		batteryPct = int(math.Round(float64(grid) * batteryShare))
	}
	return types.EnergyMix{
		Solar:   solarPct,
		Battery: batteryPct,
		Grid:    grid - batteryPct,
	}
}

// History returns the 24h production and consumption curve for userID at
// HistoryStepHours resolution.
func (e *Engine) History(ctx context.Context, userID string) []types.HistoryPoint {
	ctx = log.WithAttrs(ctx, slog.String("userID", userID))
	c := e.connections(ctx, userID)

	irradiance := map[string]float64{}
	if c.hasProductionSource() {
		if points, ok := e.fetchForecast(ctx); ok {
			for _, p := range points {
				irradiance[p.Time] = p.IrradianceWm2
			}
		}
	}

	history := make([]types.HistoryPoint, 0, 24/HistoryStepHours)
	for h := 0; h < 24; h += HistoryStepHours {
		label := fmt.Sprintf("%02d:00", h)
		history = append(history, types.HistoryPoint{
			Time:          label,
			ProductionKW:  solar.Round(e.model.EstimatePower(irradiance[label]), 3),
			ConsumptionKW: consumptionProfileKW(h),
		})
	}
	return history
}

// consumptionProfileKW is the fixed household load by time-of-day band.
func consumptionProfileKW(hour int) float64 {
	switch {
	case hour >= 7 && hour < 9:
		return 1.8
	case hour >= 9 && hour < 18:
		return 1.0
	case hour >= 18 && hour < 22:
		return 2.4
	default:
		return 0.4
	}
}

// Forecast returns the raw irradiance forecast at the reference location.
func (e *Engine) Forecast(ctx context.Context, userID string) types.ForecastResponse {
	ctx = log.WithAttrs(ctx, slog.String("userID", userID))
	ref := e.forecast.Reference()
	resp := types.ForecastResponse{
		Latitude:  ref.Latitude,
		Longitude: ref.Longitude,
		Points:    []types.IrradiancePoint{},
	}
	if points, ok := e.fetchForecast(ctx); ok {
		resp.Available = true
		resp.Points = points
	}
	return resp
}

package energy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sunwise/sunwise/pkg/forecast"
	"github.com/sunwise/sunwise/pkg/solar"
	"github.com/sunwise/sunwise/pkg/telemetry"
	"github.com/sunwise/sunwise/pkg/types"
)

type fakeRegistry struct {
	integrations []types.Integration
	err          error
}

func (r *fakeRegistry) ListConnected(ctx context.Context, userID string) ([]types.Integration, error) {
	return r.integrations, r.err
}

type fakeForecast struct {
	points []types.IrradiancePoint
	ok     bool
	calls  atomic.Int32
}

func (f *fakeForecast) GetForecast(ctx context.Context, latitude, longitude float64) ([]types.IrradiancePoint, bool) {
	f.calls.Add(1)
	if !f.ok {
		return nil, false
	}
	return f.points, true
}

// blockingForecast answers only after its context is canceled or a second
// has passed.
type blockingForecast struct {
	canceled atomic.Bool
}

func (f *blockingForecast) GetForecast(ctx context.Context, latitude, longitude float64) ([]types.IrradiancePoint, bool) {
	select {
	case <-ctx.Done():
		f.canceled.Store(true)
		return nil, false
	case <-time.After(time.Second):
		return []types.IrradiancePoint{{Time: "12:00", IrradianceWm2: 1000}}, true
	}
}

func (f *blockingForecast) Reference() forecast.Location {
	return forecast.ReferenceCity
}

func (f *fakeForecast) Reference() forecast.Location {
	return forecast.ReferenceCity
}

type fakeTelemetry struct {
	reading    types.TelemetryReading
	systemsErr error
	systemID   string
}

func (f *fakeTelemetry) ValidateCredential(ctx context.Context, credential string) bool {
	return true
}

func (f *fakeTelemetry) CheckCredential(ctx context.Context, credential string) error {
	return nil
}

func (f *fakeTelemetry) GetSystems(ctx context.Context, credential string) ([]string, error) {
	if f.systemsErr != nil {
		return nil, f.systemsErr
	}
	return []string{"42"}, nil
}

func (f *fakeTelemetry) GetProduction(ctx context.Context, systemID, credential string) types.TelemetryReading {
	f.systemID = systemID
	return f.reading
}

func constantForecast(irr float64) *fakeForecast {
	points := make([]types.IrradiancePoint, 24)
	for h := range points {
		points[h] = types.IrradiancePoint{Time: fmt.Sprintf("%02d:00", h), IrradianceWm2: irr}
	}
	return &fakeForecast{points: points, ok: true}
}

func connected(providers ...types.ProviderTag) []types.Integration {
	var out []types.Integration
	for _, p := range providers {
		i := types.Integration{UserID: "u1", Provider: p, IsConnected: true}
		if p == types.ProviderTelemetry {
			i.Credential = "abcdefghijklmnop1234"
		}
		out = append(out, i)
	}
	return out
}

func newTestEngine(reg Registry, tel telemetry.Provider, fc forecast.Provider) *Engine {
	return New(DefaultConfig(), solar.NewModel(solar.DefaultConfig()), reg, tel, fc)
}

func TestSummary(t *testing.T) {
	ctx := context.Background()

	t.Run("No Integrations", func(t *testing.T) {
		fc := constantForecast(500)
		e := newTestEngine(&fakeRegistry{}, &fakeTelemetry{}, fc)

		m := e.Summary(ctx, "u1")
		assert.Equal(t, 0.0, m.Production.Value)
		assert.Equal(t, types.ProvenanceEstimated, m.Production.Source)
		assert.Equal(t, 0.0, m.Production.Trend)
		assert.Equal(t, 0.0, m.Autonomy.Value)
		assert.Equal(t, 0.0, m.Savings.Value)
		assert.Equal(t, 12.0, m.Consumption.Value)
		assert.Equal(t, types.ProvenanceMeter, m.Consumption.Source)
		assert.Equal(t, int32(0), fc.calls.Load())
	})

	t.Run("Real Telemetry", func(t *testing.T) {
		tel := &fakeTelemetry{reading: types.TelemetryReading{PowerW: 1830, WhToday: 9120, Origin: types.OriginReal}}
		e := newTestEngine(&fakeRegistry{integrations: connected(types.ProviderTelemetry)}, tel, constantForecast(500))

		m := e.Summary(ctx, "u1")
		assert.Equal(t, "42", tel.systemID)
		assert.Equal(t, 9.1, m.Production.Value)
		assert.Equal(t, types.ProvenanceTelemetry, m.Production.Source)
		assert.Equal(t, "kWh", m.Production.Unit)
		assert.Equal(t, DefaultConfig().Trends.Production, m.Production.Trend)
		assert.Equal(t, 53.0, m.Autonomy.Value)
		assert.Equal(t, 2.0, m.Savings.Value)
		assert.Equal(t, "EUR", m.Savings.Unit)
	})

	t.Run("Telemetry Cancels Forecast", func(t *testing.T) {
		tel := &fakeTelemetry{reading: types.TelemetryReading{WhToday: 9120, Origin: types.OriginReal}}
		fc := &blockingForecast{}
		e := newTestEngine(&fakeRegistry{integrations: connected(types.ProviderTelemetry, types.ProviderForecast)}, tel, fc)

		start := time.Now()
		m := e.Summary(ctx, "u1")
		assert.Less(t, time.Since(start), 500*time.Millisecond)
		assert.True(t, fc.canceled.Load())
		assert.Equal(t, 9.1, m.Production.Value)
		assert.Equal(t, types.ProvenanceTelemetry, m.Production.Source)
	})

	t.Run("Empty Telemetry Waits For Forecast", func(t *testing.T) {
		tel := &fakeTelemetry{reading: types.TelemetryReading{Origin: types.OriginReal}}
		fc := &blockingForecast{}
		e := newTestEngine(&fakeRegistry{integrations: connected(types.ProviderTelemetry)}, tel, fc)

		m := e.Summary(ctx, "u1")
		assert.False(t, fc.canceled.Load())
		assert.Equal(t, types.ProvenanceTelemetrySimulated, m.Production.Source)
		assert.Positive(t, m.Production.Value)
	})

	t.Run("Simulated Telemetry", func(t *testing.T) {
		tel := &fakeTelemetry{reading: types.TelemetryReading{WhToday: 4000, Origin: types.OriginSimulated}}
		e := newTestEngine(&fakeRegistry{integrations: connected(types.ProviderTelemetry)}, tel, constantForecast(500))

		m := e.Summary(ctx, "u1")
		assert.Equal(t, 4.0, m.Production.Value)
		assert.Equal(t, types.ProvenanceTelemetrySimulated, m.Production.Source)
	})

	t.Run("Zero Telemetry Falls Back To Forecast", func(t *testing.T) {
		tel := &fakeTelemetry{reading: types.TelemetryReading{Origin: types.OriginReal}}
		e := newTestEngine(&fakeRegistry{integrations: connected(types.ProviderTelemetry)}, tel, constantForecast(500))

		m := e.Summary(ctx, "u1")
		assert.Equal(t, 30.6, m.Production.Value)
		assert.Equal(t, types.ProvenanceTelemetrySimulated, m.Production.Source)
	})

	t.Run("Systems Failure Still Reads", func(t *testing.T) {
		tel := &fakeTelemetry{
			reading:    types.TelemetryReading{WhToday: 1000, Origin: types.OriginSimulated},
			systemsErr: errors.New("boom"),
		}
		e := newTestEngine(&fakeRegistry{integrations: connected(types.ProviderTelemetry)}, tel, constantForecast(500))

		m := e.Summary(ctx, "u1")
		assert.Equal(t, "", tel.systemID)
		assert.Equal(t, 1.0, m.Production.Value)
		assert.Equal(t, types.ProvenanceTelemetrySimulated, m.Production.Source)
	})

	t.Run("Meteo Only", func(t *testing.T) {
		e := newTestEngine(&fakeRegistry{integrations: connected(types.ProviderForecast)}, &fakeTelemetry{}, constantForecast(500))

		m := e.Summary(ctx, "u1")
		assert.Equal(t, 30.6, m.Production.Value)
		assert.Equal(t, types.ProvenanceMeteo, m.Production.Source)
		assert.Equal(t, 100.0, m.Autonomy.Value)
		assert.Equal(t, 8.0, m.Savings.Value)
	})

	t.Run("Meteo Without Sun Is Not Estimated", func(t *testing.T) {
		e := newTestEngine(&fakeRegistry{integrations: connected(types.ProviderForecast)}, &fakeTelemetry{}, constantForecast(0))

		m := e.Summary(ctx, "u1")
		assert.Equal(t, 0.0, m.Production.Value)
		assert.Equal(t, types.ProvenanceMeteo, m.Production.Source)
		assert.NotZero(t, m.Production.Trend)
		assert.Equal(t, 0.0, m.Autonomy.Value)
	})

	t.Run("Forecast Down", func(t *testing.T) {
		e := newTestEngine(&fakeRegistry{integrations: connected(types.ProviderForecast)}, &fakeTelemetry{}, &fakeForecast{})

		m := e.Summary(ctx, "u1")
		assert.Equal(t, 0.0, m.Production.Value)
		assert.Equal(t, types.ProvenanceEstimated, m.Production.Source)
	})

	t.Run("Registry Down", func(t *testing.T) {
		e := newTestEngine(&fakeRegistry{err: errors.New("db down")}, &fakeTelemetry{}, constantForecast(500))

		m := e.Summary(ctx, "u1")
		assert.Equal(t, types.ProvenanceEstimated, m.Production.Source)
		assert.Equal(t, types.EnergyMix{Solar: 5, Grid: 95}, e.Mix(ctx, "u1"))
	})

	t.Run("Battery Consumption", func(t *testing.T) {
		e := newTestEngine(&fakeRegistry{integrations: connected(types.ProviderBattery)}, &fakeTelemetry{}, constantForecast(500))

		m := e.Summary(ctx, "u1")
		assert.Equal(t, 14.2, m.Consumption.Value)
		assert.Equal(t, types.ProvenanceBattery, m.Consumption.Source)
	})

	t.Run("Disconnected Integrations Are Ignored", func(t *testing.T) {
		integrations := connected(types.ProviderForecast, types.ProviderBattery)
		for i := range integrations {
			integrations[i].IsConnected = false
		}
		e := newTestEngine(&fakeRegistry{integrations: integrations}, &fakeTelemetry{}, constantForecast(500))

		m := e.Summary(ctx, "u1")
		assert.Equal(t, types.ProvenanceEstimated, m.Production.Source)
		assert.Equal(t, types.ProvenanceMeter, m.Consumption.Source)
	})
}

// A failing vendor API must never surface as an error or as real telemetry.
func TestSummaryTelemetryFailure(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "unavailable", http.StatusServiceUnavailable)
	}))
	defer ts.Close()

	tel := telemetry.New(ts.URL, time.Second, time.Millisecond, 100, telemetry.NewSimulator(3000))
	e := newTestEngine(&fakeRegistry{integrations: connected(types.ProviderTelemetry)}, tel, constantForecast(500))

	m := e.Summary(ctx, "u1")
	assert.NotEqual(t, types.ProvenanceTelemetry, m.Production.Source)
	assert.Equal(t, types.ProvenanceTelemetrySimulated, m.Production.Source)
	assert.Greater(t, m.Production.Value, 0.0)
	assert.Positive(t, calls.Load())
}

func TestMix(t *testing.T) {
	ctx := context.Background()

	t.Run("No Integrations", func(t *testing.T) {
		e := newTestEngine(&fakeRegistry{}, &fakeTelemetry{}, constantForecast(500))
		assert.Equal(t, types.EnergyMix{Solar: 5, Grid: 95, Battery: 0}, e.Mix(ctx, "u1"))
	})

	t.Run("Battery Takes Half Of Grid", func(t *testing.T) {
		reg := &fakeRegistry{integrations: connected(types.ProviderForecast, types.ProviderBattery)}
		e := newTestEngine(reg, &fakeTelemetry{}, constantForecast(100))
		assert.Equal(t, types.EnergyMix{Solar: 36, Grid: 32, Battery: 32}, e.Mix(ctx, "u1"))
	})

	t.Run("Forecast Down", func(t *testing.T) {
		reg := &fakeRegistry{integrations: connected(types.ProviderForecast)}
		e := newTestEngine(reg, &fakeTelemetry{}, &fakeForecast{})
		assert.Equal(t, types.EnergyMix{Solar: 0, Grid: 100}, e.Mix(ctx, "u1"))
	})

	t.Run("Always Sums To 100", func(t *testing.T) {
		combos := [][]types.ProviderTag{
			nil,
			{types.ProviderTelemetry},
			{types.ProviderForecast},
			{types.ProviderBattery},
			{types.ProviderSmartMeter},
			{types.ProviderTelemetry, types.ProviderBattery},
			{types.ProviderForecast, types.ProviderBattery},
			{types.ProviderTelemetry, types.ProviderForecast, types.ProviderBattery, types.ProviderSmartMeter},
		}
		for _, combo := range combos {
			for _, irr := range []float64{0, 10, 37, 100, 150, 333, 1000} {
				reg := &fakeRegistry{integrations: connected(combo...)}
				e := newTestEngine(reg, &fakeTelemetry{}, constantForecast(irr))
				mix := e.Mix(ctx, "u1")
				assert.Equal(t, 100, mix.Solar+mix.Grid+mix.Battery, "combo=%v irr=%v", combo, irr)
				assert.GreaterOrEqual(t, mix.Grid, 0)
				assert.GreaterOrEqual(t, mix.Battery, 0)
			}
		}
	})

	t.Run("Split Sums To 100", func(t *testing.T) {
		for s := -5; s <= 105; s++ {
			for _, battery := range []bool{false, true} {
				for _, share := range []float64{0, 0.33, 0.5, 1} {
					mix := splitMix(s, battery, share)
					require.Equal(t, 100, mix.Solar+mix.Grid+mix.Battery)
					require.GreaterOrEqual(t, mix.Grid, 0)
				}
			}
		}
	})
}

func TestAutonomyBounds(t *testing.T) {
	e := newTestEngine(&fakeRegistry{}, &fakeTelemetry{}, &fakeForecast{})
	assert.Equal(t, 0, e.autonomyPercent(0))
	assert.Equal(t, 0, e.autonomyPercent(-3))
	assert.Equal(t, 100, e.autonomyPercent(1e12))
	assert.Equal(t, 53, e.autonomyPercent(9.1))
	prev := 0
	for p := 0.0; p < 40; p += 0.25 {
		a := e.autonomyPercent(p)
		assert.GreaterOrEqual(t, a, prev)
		assert.LessOrEqual(t, a, 100)
		prev = a
	}
}

func TestHistory(t *testing.T) {
	ctx := context.Background()

	t.Run("With Forecast", func(t *testing.T) {
		fc := constantForecast(500)
		fc.points[2].IrradianceWm2 = 0
		e := newTestEngine(&fakeRegistry{integrations: connected(types.ProviderForecast)}, &fakeTelemetry{}, fc)

		history := e.History(ctx, "u1")
		require.Len(t, history, 12)
		assert.Equal(t, "00:00", history[0].Time)
		assert.Equal(t, "22:00", history[11].Time)
		assert.Equal(t, 1.275, history[0].ProductionKW)
		assert.Equal(t, 0.0, history[1].ProductionKW)
		assert.Equal(t, 0.4, history[0].ConsumptionKW)
		assert.Equal(t, 1.8, history[4].ConsumptionKW)
		assert.Equal(t, 1.0, history[6].ConsumptionKW)
		assert.Equal(t, 2.4, history[10].ConsumptionKW)
	})

	t.Run("Reproducible Without Forecast", func(t *testing.T) {
		e := newTestEngine(&fakeRegistry{}, &fakeTelemetry{}, constantForecast(500))
		first := e.History(ctx, "u1")
		assert.Equal(t, first, e.History(ctx, "u1"))
		for _, p := range first {
			assert.Equal(t, 0.0, p.ProductionKW)
		}
	})

	t.Run("Missing Samples", func(t *testing.T) {
		fc := &fakeForecast{ok: true, points: []types.IrradiancePoint{{Time: "12:00", IrradianceWm2: 1000}}}
		e := newTestEngine(&fakeRegistry{integrations: connected(types.ProviderTelemetry)}, &fakeTelemetry{}, fc)

		history := e.History(ctx, "u1")
		assert.Equal(t, 2.55, history[6].ProductionKW)
		assert.Equal(t, 0.0, history[5].ProductionKW)
	})
}

func TestForecast(t *testing.T) {
	ctx := context.Background()

	e := newTestEngine(&fakeRegistry{}, &fakeTelemetry{}, constantForecast(500))
	resp := e.Forecast(ctx, "u1")
	assert.True(t, resp.Available)
	assert.Len(t, resp.Points, 24)
	assert.Equal(t, forecast.ReferenceCity.Latitude, resp.Latitude)

	e = newTestEngine(&fakeRegistry{}, &fakeTelemetry{}, &fakeForecast{})
	resp = e.Forecast(ctx, "u1")
	assert.False(t, resp.Available)
	assert.NotNil(t, resp.Points)
	assert.Empty(t, resp.Points)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	c := DefaultConfig()
	c.BatteryShare = 2
	assert.Error(t, c.Validate())
	c = DefaultConfig()
	c.DefaultMixSolar = 101
	assert.Error(t, c.Validate())
}

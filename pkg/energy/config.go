package energy

import (
	"errors"
	"fmt"

	"github.com/levenlabs/go-lflag"

	"github.com/sunwise/sunwise/pkg/forecast"
	"github.com/sunwise/sunwise/pkg/solar"
	"github.com/sunwise/sunwise/pkg/telemetry"
)

// Trends are the week-over-week percentages shown next to each metric.
// They are not derived from history yet.
type Trends struct {
	Production  float64 `json:"production"`
	Consumption float64 `json:"consumption"`
	Autonomy    float64 `json:"autonomy"`
	Savings     float64 `json:"savings"`
}

// Config holds the dashboard constants that are not physical properties of
// the installation.
type Config struct {
	// Reported consumption when a battery integration is connected (kWh).
	BatteryConsumptionKWh float64 `json:"batteryConsumptionKWh"`
	// Reported consumption otherwise (kWh).
	MeterConsumptionKWh float64 `json:"meterConsumptionKWh"`
	// Share of the post-solar grid import covered by a battery.
	BatteryShare float64 `json:"batteryShare"`
	// Mix shown when no production source is connected.
	DefaultMixSolar int `json:"defaultMixSolar"`
	// Currency label for savings.
	Currency string `json:"currency"`
	Trends   Trends `json:"trends"`
}

// DefaultConfig returns the reference dashboard constants.
func DefaultConfig() Config {
	return Config{
		BatteryConsumptionKWh: 14.2,
		MeterConsumptionKWh:   12.0,
		BatteryShare:          0.5,
		DefaultMixSolar:       5,
		Currency:              "EUR",
		Trends: Trends{
			Production:  12.5,
			Consumption: -3.2,
			Autonomy:    8,
			Savings:     15.3,
		},
	}
}

// Configured registers the dashboard-config flag and returns an Engine that
// is built once flags are parsed.
func Configured(sc *solar.Config, registry Registry, tel telemetry.Provider, fc forecast.Provider) *Engine {
	c := DefaultConfig()
	lflag.JSON(&c, "dashboard-config", c, "JSON object overriding dashboard constants (e.g. {\"currency\":\"USD\"})")

	e := &Engine{}
	lflag.Do(func() {
		if err := c.Validate(); err != nil {
			panic(fmt.Sprintf("invalid dashboard config: %v", err))
		}
		*e = *New(c, solar.NewModel(*sc), registry, tel, fc)
	})
	return e
}

// Validate checks the constants keep the mix inside [0, 100].
func (c Config) Validate() error {
	var errs []error
	if c.BatteryConsumptionKWh < 0 || c.MeterConsumptionKWh < 0 {
		errs = append(errs, errors.New("consumption constants must not be negative"))
	}
	if c.BatteryShare < 0 || c.BatteryShare > 1 {
		errs = append(errs, errors.New("battery share must be in [0, 1]"))
	}
	if c.DefaultMixSolar < 0 || c.DefaultMixSolar > 100 {
		errs = append(errs, errors.New("default solar share must be in [0, 100]"))
	}
	return errors.Join(errs...)
}

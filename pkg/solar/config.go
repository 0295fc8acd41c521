package solar

import (
	"errors"
	"fmt"

	"github.com/levenlabs/go-lflag"
)

// Config holds every physical and commercial constant shared by the output
// model, the aggregation engine and the sizing calculator. There is exactly
// one instance per process.
type Config struct {
	// Nominal size of the reference installation used for forecasts (kW).
	SystemSizeKW float64 `json:"systemSizeKW"`
	// Fraction of standard-test-condition output realised in practice.
	PerformanceRatio float64 `json:"performanceRatio"`
	// Rated wattage of a single panel (W).
	PanelWattage float64 `json:"panelWattage"`
	// Footprint of a single panel (m²).
	PanelAreaM2 float64 `json:"panelAreaM2"`
	// Installed cost per kW of capacity.
	CostPerKW float64 `json:"costPerKW"`
	// Currency per kWh saved.
	TariffPerKWh float64 `json:"tariffPerKWh"`
	// Share of production consumed on site rather than exported.
	SelfConsumptionRatio float64 `json:"selfConsumptionRatio"`
	// Avoided emissions per kWh produced (kg).
	CO2KgPerKWh float64 `json:"co2KgPerKWh"`
	// Assumed household consumption used for autonomy (kWh/day).
	AvgDailyConsumptionKWh float64 `json:"avgDailyConsumptionKWh"`
	// Peak sun hours below this are clamped up to it.
	MinPeakSunHours float64 `json:"minPeakSunHours"`
	// Systems larger than this need a three-phase connection (kW).
	TriphaseAboveKW float64 `json:"triphaseAboveKW"`
}

// DefaultConfig returns the reference constants.
func DefaultConfig() Config {
	return Config{
		SystemSizeKW:           3,
		PerformanceRatio:       0.85,
		PanelWattage:           400,
		PanelAreaM2:            2,
		CostPerKW:              1500,
		TariffPerKWh:           0.25,
		SelfConsumptionRatio:   0.7,
		CO2KgPerKWh:            0.42,
		AvgDailyConsumptionKWh: 12,
		MinPeakSunHours:        1,
		TriphaseAboveKW:        6,
	}
}

// Configured registers the solar-config flag and returns a Config that is
// filled in once flags are parsed. Fields missing from the flag keep their
// defaults.
func Configured() *Config {
	c := DefaultConfig()
	lflag.JSON(&c, "solar-config", c, "JSON object overriding solar model constants (e.g. {\"panelWattage\":410})")

	lflag.Do(func() {
		if err := c.Validate(); err != nil {
			panic(fmt.Sprintf("invalid solar config: %v", err))
		}
	})
	return &c
}

// Validate checks that every constant is usable as a divisor or ratio.
func (c Config) Validate() error {
	var errs []error
	if c.SystemSizeKW <= 0 {
		errs = append(errs, errors.New("system size must be positive"))
	}
	if c.PerformanceRatio <= 0 || c.PerformanceRatio > 1 {
		errs = append(errs, errors.New("performance ratio must be in (0, 1]"))
	}
	if c.PanelWattage <= 0 {
		errs = append(errs, errors.New("panel wattage must be positive"))
	}
	if c.SelfConsumptionRatio <= 0 || c.SelfConsumptionRatio > 1 {
		errs = append(errs, errors.New("self-consumption ratio must be in (0, 1]"))
	}
	if c.AvgDailyConsumptionKWh <= 0 {
		errs = append(errs, errors.New("average daily consumption must be positive"))
	}
	if c.MinPeakSunHours <= 0 {
		errs = append(errs, errors.New("minimum peak sun hours must be positive"))
	}
	return errors.Join(errs...)
}

// ClampPeakSunHours applies the single peak-sun-hours policy: anything below
// MinPeakSunHours (including zero and negatives) becomes MinPeakSunHours.
func (c Config) ClampPeakSunHours(h float64) float64 {
	return max(h, c.MinPeakSunHours)
}

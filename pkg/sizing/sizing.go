// Package sizing sizes a residential PV system from a client's declared
// consumption and site parameters.
package sizing

import (
	"math"

	"github.com/levenlabs/go-lflag"

	"github.com/sunwise/sunwise/pkg/solar"
	"github.com/sunwise/sunwise/pkg/types"
)

// DaysPerMonth is the fixed month length used to turn monthly consumption
// into a daily figure.
const DaysPerMonth = 30

// MaxMonthlyConsumptionKWh bounds the consumption a quote can be sized for.
// Larger inputs are clamped so the panel count always fits an int.
const MaxMonthlyConsumptionKWh = 1e6

// panelEpsilon absorbs float noise so an exact multiple of the panel wattage
// does not round up to an extra panel.
const panelEpsilon = 1e-9

// Calculator is stateless; one instance is shared by every request.
type Calculator struct {
	model solar.Model
}

// NewCalculator returns a Calculator over the shared solar constants.
func NewCalculator(cfg solar.Config) *Calculator {
	return &Calculator{model: solar.NewModel(cfg)}
}

// Configured returns a Calculator built once flags are parsed.
func Configured(cfg *solar.Config) *Calculator {
	c := &Calculator{}
	lflag.Do(func() {
		*c = *NewCalculator(*cfg)
	})
	return c
}

// RequiredWattage returns the rated wattage (W) needed to cover the monthly
// consumption given the site's peak sun hours. Peak sun hours are clamped to
// the configured minimum.
func (c *Calculator) RequiredWattage(monthlyConsumptionKWh, peakSunHours float64) float64 {
	cfg := c.model.Config()
	daily := clampConsumption(monthlyConsumptionKWh) / DaysPerMonth
	requiredDaily := c.model.RequiredDailyProductionKWh(daily)
	return requiredDaily / cfg.ClampPeakSunHours(peakSunHours) * 1000
}

// clampConsumption maps the input into [0, MaxMonthlyConsumptionKWh]. NaN
// counts as no consumption.
func clampConsumption(monthlyConsumptionKWh float64) float64 {
	if math.IsNaN(monthlyConsumptionKWh) {
		return 0
	}
	return min(max(monthlyConsumptionKWh, 0), MaxMonthlyConsumptionKWh)
}

// panelCount is shared by both sizing variants so they always agree.
func (c *Calculator) panelCount(monthlyConsumptionKWh, peakSunHours float64) int {
	w := c.RequiredWattage(monthlyConsumptionKWh, peakSunHours)
	return int(math.Ceil(w/c.model.Config().PanelWattage - panelEpsilon))
}

func (c *Calculator) systemKW(panels int) float64 {
	return float64(panels) * c.model.Config().PanelWattage / 1000
}

// Size is the quick variant: panel count, system size and cost.
func (c *Calculator) Size(monthlyConsumptionKWh, peakSunHours float64) types.BasicSizing {
	panels := c.panelCount(monthlyConsumptionKWh, peakSunHours)
	kw := c.systemKW(panels)
	return types.BasicSizing{
		PanelCount: panels,
		SystemKW:   kw,
		SystemCost: solar.Round(kw*c.model.Config().CostPerKW, 2),
	}
}

// SizeDetailed is the full variant attached to a quote.
func (c *Calculator) SizeDetailed(monthlyConsumptionKWh, peakSunHours float64) types.SizingResult {
	cfg := c.model.Config()
	psh := cfg.ClampPeakSunHours(peakSunHours)

	basic := c.Size(monthlyConsumptionKWh, peakSunHours)
	monthlyProduction := basic.SystemKW * psh * DaysPerMonth * cfg.PerformanceRatio
	selfConsumed := min(monthlyProduction*cfg.SelfConsumptionRatio, clampConsumption(monthlyConsumptionKWh))
	annualSavings := solar.Round(selfConsumed*cfg.TariffPerKWh*12, 2)

	payback := math.Inf(1)
	if annualSavings > 0 {
		payback = solar.Round(basic.SystemCost/annualSavings, 1)
	}

	voltage := types.VoltageMonophase
	if basic.SystemKW > cfg.TriphaseAboveKW {
		voltage = types.VoltageTriphase
	}

	return types.SizingResult{
		PanelCount:            basic.PanelCount,
		SystemKW:              basic.SystemKW,
		VoltageClass:          voltage,
		InstallationAreaM2:    solar.Round(float64(basic.PanelCount)*cfg.PanelAreaM2, 2),
		SystemCost:            basic.SystemCost,
		MonthlyProductionKWh:  solar.Round(monthlyProduction, 2),
		AnnualSavings:         annualSavings,
		PaybackYears:          payback,
		CO2ReductionKgPerYear: solar.Round(monthlyProduction*12*cfg.CO2KgPerKWh, 1),
	}
}

package solar

import (
	"math"

	"github.com/sunwise/sunwise/pkg/types"
)

// StandardIrradianceWm2 is the standard test condition panels are rated at.
const StandardIrradianceWm2 = 1000.0

// Model converts irradiance into power for the configured installation.
type Model struct {
	cfg Config
}

// NewModel returns a Model over cfg.
func NewModel(cfg Config) Model {
	return Model{cfg: cfg}
}

// Config returns the constants the model was built with.
func (m Model) Config() Config {
	return m.cfg
}

// EstimatePower returns the estimated output in kW for the given irradiance
// in W/m². Negative irradiance is treated as darkness.
func (m Model) EstimatePower(irradianceWm2 float64) float64 {
	if irradianceWm2 <= 0 || math.IsNaN(irradianceWm2) {
		return 0
	}
	return m.cfg.SystemSizeKW * (irradianceWm2 / StandardIrradianceWm2) * m.cfg.PerformanceRatio
}

// PowerPoint is an estimated power sample.
type PowerPoint struct {
	Time    string  `json:"time"`
	PowerKW float64 `json:"powerKW"`
}

// EstimateCurve turns a forecast curve into a production curve.
func (m Model) EstimateCurve(points []types.IrradiancePoint) []PowerPoint {
	curve := make([]PowerPoint, len(points))
	for i, p := range points {
		curve[i] = PowerPoint{Time: p.Time, PowerKW: m.EstimatePower(p.IrradianceWm2)}
	}
	return curve
}

// DailyEnergyKWh sums the estimated power over hourly points, which
// approximates the day's energy in kWh.
func (m Model) DailyEnergyKWh(points []types.IrradiancePoint) float64 {
	var total float64
	for _, p := range points {
		total += m.EstimatePower(p.IrradianceWm2)
	}
	return total
}

// RequiredDailyProductionKWh is the inverse of the model: the rated
// production needed so that, after losses, dailyConsumptionKWh is delivered.
func (m Model) RequiredDailyProductionKWh(dailyConsumptionKWh float64) float64 {
	return dailyConsumptionKWh / m.cfg.PerformanceRatio
}

// Round rounds v to the given number of decimal places, half away from zero.
func Round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

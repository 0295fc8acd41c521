package telemetry

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/sunwise/sunwise/pkg/types"
)

const (
	daylightStartHour = 6
	daylightEndHour   = 20
	daylightHours     = daylightEndHour - daylightStartHour

	minJitter = 0.8
	maxJitter = 1.2
)

// Simulator produces plausible inverter readings from a daylight bell curve.
// It is safe for concurrent use.
type Simulator struct {
	peakW float64
	now   func() time.Time
	// rand returns a value in [0, 1).
	rand func() float64
}

// NewSimulator returns a Simulator for an installation that peaks at peakW.
func NewSimulator(peakW float64) *Simulator {
	return &Simulator{
		peakW: peakW,
		now:   time.Now,
		rand:  rand.Float64,
	}
}

// PeakW returns the configured peak capacity in watts.
func (s *Simulator) PeakW() float64 {
	return s.peakW
}

// Reading returns a simulated reading for the current time.
func (s *Simulator) Reading() types.TelemetryReading {
	now := s.now()
	hour := fractionalHour(now)
	factor := minJitter + (maxJitter-minJitter)*s.rand()
	return types.TelemetryReading{
		Timestamp: now,
		PowerW:    s.curve(hour) * factor,
		WhToday:   s.energySince6(hour),
		Origin:    types.OriginSimulated,
	}
}

// curve is the un-jittered power in W at hour h.
func (s *Simulator) curve(h float64) float64 {
	if h < daylightStartHour || h >= daylightEndHour {
		return 0
	}
	return s.peakW * math.Sin(math.Pi*(h-daylightStartHour)/daylightHours)
}

// energySince6 integrates curve from the start of the daylight window to h.
func (s *Simulator) energySince6(h float64) float64 {
	if h <= daylightStartHour {
		return 0
	}
	h = min(h, daylightEndHour)
	return s.peakW * daylightHours / math.Pi * (1 - math.Cos(math.Pi*(h-daylightStartHour)/daylightHours))
}

func fractionalHour(t time.Time) float64 {
	return float64(t.Hour()) + float64(t.Minute())/60 + float64(t.Second())/3600
}

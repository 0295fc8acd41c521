package types

import "time"

// IrradiancePoint is one hourly sample of a forecast curve.
type IrradiancePoint struct {
	Time          string  `json:"time"` // HH:mm
	IrradianceWm2 float64 `json:"irradiance"`
}

// Origin says whether a telemetry reading came from real hardware.
type Origin string

const (
	OriginReal      Origin = "real"
	OriginSimulated Origin = "simulated"
)

// TelemetryReading is an inverter production reading.
type TelemetryReading struct {
	Timestamp time.Time `json:"timestamp"`
	PowerW    float64   `json:"wNow"`
	WhToday   float64   `json:"whToday"`
	Origin    Origin    `json:"origin"`
}

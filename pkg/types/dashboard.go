package types

// Provenance labels where a dashboard value came from.
type Provenance string

const (
	ProvenanceTelemetry          Provenance = "enphase"
	ProvenanceTelemetrySimulated Provenance = "telemetry (simulated)"
	ProvenanceMeteo              Provenance = "meteo"
	ProvenanceEstimated          Provenance = "estimated"
	ProvenanceBattery            Provenance = "battery"
	ProvenanceMeter              Provenance = "meter"
)

// HasData is false only for the neutral "estimated" label, which means no
// provider produced anything. A meteo value of zero still has data (no sun).
func (p Provenance) HasData() bool {
	return p != "" && p != ProvenanceEstimated
}

// Estimate is a value tagged with where it came from.
type Estimate struct {
	Value      float64    `json:"value"`
	Provenance Provenance `json:"provenance"`
}

// Metric is one of the four dashboard figures.
type Metric struct {
	Value  float64    `json:"value"`
	Unit   string     `json:"unit"`
	Trend  float64    `json:"trend"` // percent
	Source Provenance `json:"source"`
}

// DashboardMetrics is recomputed on every request, never stored.
type DashboardMetrics struct {
	Production  Metric `json:"production"`
	Consumption Metric `json:"consumption"`
	Autonomy    Metric `json:"autonomy"`
	Savings     Metric `json:"savings"`
}

// EnergyMix is the solar/grid/battery split in whole percent. The three
// always sum to 100.
type EnergyMix struct {
	Solar   int `json:"solar"`
	Grid    int `json:"grid"`
	Battery int `json:"battery"`
}

// HistoryPoint is one sample of the 24h production/consumption curve.
type HistoryPoint struct {
	Time          string  `json:"time"`
	ProductionKW  float64 `json:"production"`
	ConsumptionKW float64 `json:"consumption"`
}

// ForecastResponse is the raw forecast as returned by the dashboard API.
type ForecastResponse struct {
	Available bool              `json:"available"`
	Latitude  float64           `json:"latitude"`
	Longitude float64           `json:"longitude"`
	Points    []IrradiancePoint `json:"points"`
}

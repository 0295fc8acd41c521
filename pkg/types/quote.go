package types

import (
	"encoding/json"
	"math"
	"time"
)

const CurrentQuoteVersion = 1

// VoltageClass is the recommended grid connection for a sized system.
type VoltageClass string

const (
	VoltageMonophase VoltageClass = "monophase-230V"
	VoltageTriphase  VoltageClass = "triphase-400V"
)

// BasicSizing is the quick sizing used by the intake form preview.
type BasicSizing struct {
	PanelCount int     `json:"panelCount"`
	SystemKW   float64 `json:"systemKW"`
	SystemCost float64 `json:"systemCost"`
}

// SizingResult is the full sizing attached to a quote.
type SizingResult struct {
	PanelCount           int          `json:"panelCount"`
	SystemKW             float64      `json:"systemKW"`
	VoltageClass         VoltageClass `json:"voltageClass"`
	InstallationAreaM2   float64      `json:"installationAreaM2"`
	SystemCost           float64      `json:"systemCost"`
	MonthlyProductionKWh float64      `json:"monthlyProductionKWh"`
	AnnualSavings        float64      `json:"annualSavings"`
	// PaybackYears is +Inf when the system never pays back.
	PaybackYears          float64 `json:"-"`
	CO2ReductionKgPerYear float64 `json:"co2ReductionKgPerYear"`
}

type sizingResultAlias SizingResult

type sizingResultJSON struct {
	sizingResultAlias
	PaybackYears *float64 `json:"paybackYears"`
	PaybackNever bool     `json:"paybackNever,omitempty"`
}

// MarshalJSON encodes an infinite payback as null with paybackNever set,
// since JSON has no infinity.
func (s SizingResult) MarshalJSON() ([]byte, error) {
	out := sizingResultJSON{sizingResultAlias: sizingResultAlias(s)}
	if math.IsInf(s.PaybackYears, 1) {
		out.PaybackNever = true
	} else {
		p := s.PaybackYears
		out.PaybackYears = &p
	}
	return json.Marshal(out)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (s *SizingResult) UnmarshalJSON(b []byte) error {
	var in sizingResultJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	*s = SizingResult(in.sizingResultAlias)
	switch {
	case in.PaybackNever:
		s.PaybackYears = math.Inf(1)
	case in.PaybackYears != nil:
		s.PaybackYears = *in.PaybackYears
	}
	return nil
}

// QuoteChannel is how the prospective client wants the quote delivered.
type QuoteChannel string

const (
	QuoteChannelEmail    QuoteChannel = "email"
	QuoteChannelWhatsApp QuoteChannel = "whatsapp"
)

// QuoteIntake is what a prospective client submits.
type QuoteIntake struct {
	Name                  string       `json:"name"`
	Email                 string       `json:"email"`
	Phone                 string       `json:"phone,omitempty"`
	Channel               QuoteChannel `json:"channel"`
	MonthlyConsumptionKWh float64      `json:"monthlyConsumptionKWh"`
	PeakSunHours          float64      `json:"peakSunHours"`
	RoofAreaM2            float64      `json:"roofAreaM2,omitempty"`
}

// Quote is a persisted intake plus its sizing.
type Quote struct {
	ID        string       `json:"id"`
	CreatedAt time.Time    `json:"createdAt"`
	Intake    QuoteIntake  `json:"intake"`
	Sizing    SizingResult `json:"sizing"`
	// FitsRoof is false when the installation area exceeds the declared roof.
	FitsRoof bool `json:"fitsRoof"`
}

package domain

import "time"

// Contaminant is one substance measured in a quality report.
// Params: name, measured concentration, and regulatory limit.
// Returns: contaminant line item for report payloads.
type Contaminant struct {
	Name          string  `json:"name"`
	Concentration float64 `json:"concentration"`
	Unit          string  `json:"unit"`
	MaxAllowed    float64 `json:"max_allowed"`
	ExceedsLimit  bool    `json:"exceeds_limit"`
}

// NewContaminant builds a contaminant finding with the limit check applied.
// Params: name, measured concentration, unit, and regulatory maximum.
// Returns: finding with ExceedsLimit derived from the measurement.
func NewContaminant(name string, concentration float64, unit string, maxAllowed float64) Contaminant {
	return Contaminant{
		Name:          name,
		Concentration: concentration,
		Unit:          unit,
		MaxAllowed:    maxAllowed,
		ExceedsLimit:  concentration > maxAllowed,
	}
}

// WaterQualityReport summarizes recent quality telemetry for one device.
// Params: identity, aggregation window results, and contaminant findings.
// Returns: report record persisted in the report store.
type WaterQualityReport struct {
	ReportID       string        `json:"report_id"`
	DeviceID       string        `json:"device_id"`
	Timestamp      time.Time     `json:"timestamp"`
	OverallQuality float64       `json:"overall_quality"`
	Temperature    float64       `json:"temperature"`
	SampleCount    int           `json:"sample_count"`
	Contaminants   []Contaminant `json:"contaminants,omitempty"`
	MeetsStandards bool          `json:"meets_standards"`
}

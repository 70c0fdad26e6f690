package domain

import "time"

// FloodSeverity orders flood event magnitude.
// Params: constant severity keys.
// Returns: comparable flood rank via Rank.
type FloodSeverity string

const (
	// FloodMinor marks localized nuisance flooding.
	FloodMinor FloodSeverity = "minor"
	// FloodModerate marks flooding affecting several stations.
	FloodModerate FloodSeverity = "moderate"
	// FloodMajor marks widespread flooding with service impact.
	FloodMajor FloodSeverity = "major"
	// FloodCatastrophic marks region-scale flooding.
	FloodCatastrophic FloodSeverity = "catastrophic"
)

// Rank returns numeric order for flood severity comparison.
// Params: none.
// Returns: 0 for minor up to 3 for catastrophic, -1 for unknown.
func (s FloodSeverity) Rank() int {
	switch s {
	case FloodMinor:
		return 0
	case FloodModerate:
		return 1
	case FloodMajor:
		return 2
	case FloodCatastrophic:
		return 3
	default:
		return -1
	}
}

// FloodEvent tracks one multi-device flood through its lifecycle.
// Params: identity, time bounds, affected devices, and regulation report fields.
// Returns: event record owned by the flood engine.
type FloodEvent struct {
	EventID                 string        `json:"event_id"`
	StartTime               time.Time     `json:"start_time"`
	EndTime                 *time.Time    `json:"end_time,omitempty"`
	Location                string        `json:"location"`
	AffectedDeviceIDs       []string      `json:"affected_device_ids"`
	Severity                FloodSeverity `json:"severity"`
	PeakWaterLevel          float64       `json:"peak_water_level"`
	EstimatedVolumeReleased float64       `json:"estimated_volume_released"`
	HasRegulationReport     bool          `json:"has_regulation_report"`
	RegulationReportAt      *time.Time    `json:"regulation_report_at,omitempty"`
	ReportSubmittedBy       string        `json:"report_submitted_by,omitempty"`
}

// Closed reports whether the event lifecycle has ended.
// Params: none.
// Returns: true when end time is set.
func (e FloodEvent) Closed() bool {
	return e.EndTime != nil
}

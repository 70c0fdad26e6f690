package domain

import (
	"time"
)

// AlertType identifies the operational condition behind an alert.
// Params: constant alert kind keys.
// Returns: normalized alert type used across stores and SCADA payloads.
type AlertType string

const (
	// AlertHighWaterLevel marks high or critical water level.
	AlertHighWaterLevel AlertType = "high_water_level"
	// AlertLowWaterLevel marks water level below the normal band.
	AlertLowWaterLevel AlertType = "low_water_level"
	// AlertHighPressure marks pressure above the configured ceiling.
	AlertHighPressure AlertType = "high_pressure"
	// AlertLowPressure marks pressure below the configured floor.
	AlertLowPressure AlertType = "low_pressure"
	// AlertPoorWaterQuality marks quality score below threshold.
	AlertPoorWaterQuality AlertType = "poor_water_quality"
	// AlertDeviceOffline marks a device silent beyond the inactivity window.
	AlertDeviceOffline AlertType = "device_offline"
	// AlertValveFailure marks a valve that did not reach commanded state.
	AlertValveFailure AlertType = "valve_failure"
	// AlertBatteryLow marks battery charge below threshold.
	AlertBatteryLow AlertType = "battery_low"
	// AlertPowerOutage marks loss of mains power at a station.
	AlertPowerOutage AlertType = "power_outage"
	// AlertUnauthorizedAccess marks tamper or enclosure breach signals.
	AlertUnauthorizedAccess AlertType = "unauthorized_access"
	// AlertCommunicationFailure marks transport-level delivery failures.
	AlertCommunicationFailure AlertType = "communication_failure"
)

// Severity orders alert urgency from informational to emergency.
// Params: constant severity keys.
// Returns: comparable severity rank via Rank.
type Severity string

const (
	// SeverityInformation marks advisory conditions.
	SeverityInformation Severity = "information"
	// SeverityWarning marks conditions that need operator attention.
	SeverityWarning Severity = "warning"
	// SeverityCritical marks conditions that degrade service.
	SeverityCritical Severity = "critical"
	// SeverityEmergency marks immediate-danger conditions.
	SeverityEmergency Severity = "emergency"
)

// Rank returns numeric order for severity comparison.
// Params: none.
// Returns: 0 for information up to 3 for emergency, -1 for unknown.
func (s Severity) Rank() int {
	switch s {
	case SeverityInformation:
		return 0
	case SeverityWarning:
		return 1
	case SeverityCritical:
		return 2
	case SeverityEmergency:
		return 3
	default:
		return -1
	}
}

// Alert is one operational alert raised against a device.
// Params: identity, classification, message, and acknowledgment fields.
// Returns: alert record persisted in the alert store.
type Alert struct {
	AlertID        string            `json:"alert_id"`
	DeviceID       string            `json:"device_id"`
	Type           AlertType         `json:"type"`
	Severity       Severity          `json:"severity"`
	Message        string            `json:"message"`
	Timestamp      time.Time         `json:"timestamp"`
	Acknowledged   bool              `json:"acknowledged"`
	AcknowledgedBy string            `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time        `json:"acknowledged_at,omitempty"`
	Annotations    map[string]string `json:"annotations,omitempty"`
}

package alerting

import (
	"fmt"
	"strconv"

	"waterops/internal/config"
	"waterops/internal/domain"
)

// Evaluate derives alerts from one reading against configured thresholds.
// Params: reading to inspect and numeric thresholds.
// Returns: zero or more alerts without IDs or timestamps assigned.
func Evaluate(reading domain.TelemetryReading, thresholds config.ThresholdsConfig) []domain.Alert {
	alerts := make([]domain.Alert, 0, 4)

	switch reading.WaterLevel {
	case domain.WaterLevelCritical:
		alerts = append(alerts, domain.Alert{
			DeviceID: reading.DeviceID,
			Type:     domain.AlertHighWaterLevel,
			Severity: domain.SeverityEmergency,
			Message:  fmt.Sprintf("critical water level at device %s", reading.DeviceID),
		})
	case domain.WaterLevelHigh:
		alerts = append(alerts, domain.Alert{
			DeviceID: reading.DeviceID,
			Type:     domain.AlertHighWaterLevel,
			Severity: domain.SeverityWarning,
			Message:  fmt.Sprintf("high water level at device %s", reading.DeviceID),
		})
	case domain.WaterLevelLow:
		alerts = append(alerts, domain.Alert{
			DeviceID: reading.DeviceID,
			Type:     domain.AlertLowWaterLevel,
			Severity: domain.SeverityWarning,
			Message:  fmt.Sprintf("low water level at device %s", reading.DeviceID),
		})
	}

	if reading.Pressure > thresholds.HighPressure {
		alerts = append(alerts, domain.Alert{
			DeviceID: reading.DeviceID,
			Type:     domain.AlertHighPressure,
			Severity: domain.SeverityWarning,
			Message: fmt.Sprintf("pressure %.1f exceeds limit %.1f at device %s",
				reading.Pressure, thresholds.HighPressure, reading.DeviceID),
		})
	} else if reading.Pressure < thresholds.LowPressure {
		alerts = append(alerts, domain.Alert{
			DeviceID: reading.DeviceID,
			Type:     domain.AlertLowPressure,
			Severity: domain.SeverityWarning,
			Message: fmt.Sprintf("pressure %.1f below limit %.1f at device %s",
				reading.Pressure, thresholds.LowPressure, reading.DeviceID),
		})
	}

	if reading.Quality < thresholds.WaterQuality {
		severity := domain.SeverityWarning
		if reading.Quality < thresholds.WaterQuality/2 {
			severity = domain.SeverityCritical
		}
		alerts = append(alerts, domain.Alert{
			DeviceID: reading.DeviceID,
			Type:     domain.AlertPoorWaterQuality,
			Severity: severity,
			Message: fmt.Sprintf("water quality %.1f below limit %.1f at device %s",
				reading.Quality, thresholds.WaterQuality, reading.DeviceID),
			Annotations: map[string]string{
				"quality_score":     strconv.FormatFloat(reading.Quality, 'f', 1, 64),
				"quality_threshold": strconv.FormatFloat(thresholds.WaterQuality, 'f', 1, 64),
			},
		})
	}

	if reading.BatteryLevel < thresholds.BatteryLow {
		severity := domain.SeverityWarning
		if reading.BatteryLevel < thresholds.BatteryLow/2 {
			severity = domain.SeverityCritical
		}
		alerts = append(alerts, domain.Alert{
			DeviceID: reading.DeviceID,
			Type:     domain.AlertBatteryLow,
			Severity: severity,
			Message: fmt.Sprintf("battery %.1f%% below limit %.1f%% at device %s",
				reading.BatteryLevel, thresholds.BatteryLow, reading.DeviceID),
		})
	}

	return alerts
}

package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ValveStatus reports valve position from a field device.
// Params: constants "open", "closed", or "partial".
// Returns: normalized valve state used across the pipeline.
type ValveStatus string

const (
	// ValveOpen marks fully opened valve.
	ValveOpen ValveStatus = "open"
	// ValveClosed marks fully closed valve.
	ValveClosed ValveStatus = "closed"
	// ValvePartial marks partially opened valve.
	ValvePartial ValveStatus = "partial"
)

// WaterLevel classifies measured water level against station bands.
// Params: constants "low", "normal", "high", or "critical".
// Returns: normalized level band used by alert rules.
type WaterLevel string

const (
	// WaterLevelLow marks level below the normal band.
	WaterLevelLow WaterLevel = "low"
	// WaterLevelNormal marks level inside the normal band.
	WaterLevelNormal WaterLevel = "normal"
	// WaterLevelHigh marks level above the normal band.
	WaterLevelHigh WaterLevel = "high"
	// WaterLevelCritical marks level at flood risk.
	WaterLevelCritical WaterLevel = "critical"
)

// TelemetryReading is one normalized sensor sample from a device.
// Params: device identity, sample time, and measured channels.
// Returns: immutable reading payload for pipeline processing.
type TelemetryReading struct {
	DeviceID     string      `json:"device_id"`
	Timestamp    time.Time   `json:"timestamp"`
	FlowRate     float64     `json:"flow_rate"`
	Pressure     float64     `json:"pressure"`
	Quality      float64     `json:"quality"`
	BatteryLevel float64     `json:"battery_level"`
	ValveStatus  ValveStatus `json:"valve_status"`
	Temperature  float64     `json:"temperature"`
	WaterLevel   WaterLevel  `json:"water_level"`
}

// DecodeReading decodes and validates one reading payload.
// Params: JSON document bytes.
// Returns: validated reading or decode/validation error.
func DecodeReading(raw []byte) (TelemetryReading, error) {
	var reading TelemetryReading
	if err := json.Unmarshal(raw, &reading); err != nil {
		return TelemetryReading{}, fmt.Errorf("decode reading: %w", err)
	}
	if err := reading.Validate(); err != nil {
		return TelemetryReading{}, err
	}
	return reading, nil
}

// DecodeReadingBatch decodes and validates one JSON array of readings.
// Params: JSON array bytes.
// Returns: validated readings slice or decode/validation error.
func DecodeReadingBatch(raw []byte) ([]TelemetryReading, error) {
	var readings []TelemetryReading
	if err := json.Unmarshal(raw, &readings); err != nil {
		return nil, fmt.Errorf("decode reading batch: %w", err)
	}
	if len(readings) == 0 {
		return nil, errors.New("reading batch must contain at least one reading")
	}
	for i := range readings {
		if err := readings[i].Validate(); err != nil {
			return nil, fmt.Errorf("reading[%d]: %w", i, err)
		}
	}
	return readings, nil
}

// Validate validates one reading against the contract.
// Params: reading fields parsed from transport.
// Returns: validation error when schema is violated.
func (r TelemetryReading) Validate() error {
	if strings.TrimSpace(r.DeviceID) == "" {
		return errors.New("device_id is required")
	}
	if r.Timestamp.IsZero() {
		return errors.New("timestamp is required")
	}
	if r.Quality < 0 || r.Quality > 100 {
		return fmt.Errorf("quality %v out of range 0-100", r.Quality)
	}
	if r.BatteryLevel < 0 || r.BatteryLevel > 100 {
		return fmt.Errorf("battery_level %v out of range 0-100", r.BatteryLevel)
	}

	switch r.ValveStatus {
	case ValveOpen, ValveClosed, ValvePartial:
	default:
		return fmt.Errorf("unsupported valve_status %q", r.ValveStatus)
	}

	switch r.WaterLevel {
	case WaterLevelLow, WaterLevelNormal, WaterLevelHigh, WaterLevelCritical:
	default:
		return fmt.Errorf("unsupported water_level %q", r.WaterLevel)
	}

	return nil
}

// CheckSkew rejects readings timestamped too far into the future.
// Params: reading, current processing time, and tolerated skew.
// Returns: error when the reading timestamp exceeds now+tolerance.
func CheckSkew(reading TelemetryReading, now time.Time, tolerance time.Duration) error {
	if tolerance <= 0 {
		return nil
	}
	if reading.Timestamp.After(now.Add(tolerance)) {
		return fmt.Errorf("reading timestamp %s exceeds skew tolerance %s", reading.Timestamp.Format(time.RFC3339), tolerance)
	}
	return nil
}

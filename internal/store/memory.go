package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"waterops/internal/domain"
)

// MemoryStore keeps telemetry, alerts, and reports in process memory for single-instance mode.
// Params: in-memory maps guarded by one RWMutex.
// Returns: store implementation without external dependencies.
type MemoryStore struct {
	mu       sync.RWMutex
	readings map[string][]domain.TelemetryReading
	alerts   map[string]memoryAlert
	reports  map[string]domain.WaterQualityReport
}

type memoryAlert struct {
	alert    domain.Alert
	revision uint64
}

// NewMemoryStore creates an in-memory store.
// Params: none.
// Returns: initialized in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		readings: make(map[string][]domain.TelemetryReading),
		alerts:   make(map[string]memoryAlert),
		reports:  make(map[string]domain.WaterQualityReport),
	}
}

// PutReading appends one reading under its device.
// Params: reading with device ID and timestamp set.
// Returns: nil (in-memory append).
func (s *MemoryStore) PutReading(_ context.Context, reading domain.TelemetryReading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readings[reading.DeviceID] = append(s.readings[reading.DeviceID], reading)
	return nil
}

// ReadingsInRange returns readings for a device within [start, end], newest first.
// Params: device ID and inclusive time bounds.
// Returns: matching readings copy.
func (s *MemoryStore) ReadingsInRange(_ context.Context, deviceID string, start, end time.Time) ([]domain.TelemetryReading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.TelemetryReading, 0)
	for _, reading := range s.readings[deviceID] {
		if reading.Timestamp.Before(start) || reading.Timestamp.After(end) {
			continue
		}
		out = append(out, reading)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out, nil
}

// PutAlert writes an alert unconditionally, advancing its revision.
// Params: alert record with ID set.
// Returns: nil (in-memory write).
func (s *MemoryStore) PutAlert(_ context.Context, alert domain.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rev := s.alerts[alert.AlertID].revision + 1
	s.alerts[alert.AlertID] = memoryAlert{alert: alert, revision: rev}
	return nil
}

// GetAlert returns one alert and its revision.
// Params: alert ID key.
// Returns: stored alert, revision, or ErrNotFound.
func (s *MemoryStore) GetAlert(_ context.Context, alertID string) (domain.Alert, uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.alerts[alertID]
	if !ok {
		return domain.Alert{}, 0, ErrNotFound
	}
	return entry.alert, entry.revision, nil
}

// UpdateAlert replaces an alert using expected revision CAS.
// Params: alert ID key, expected revision, and replacement record.
// Returns: new revision, ErrNotFound, or ErrConflict.
func (s *MemoryStore) UpdateAlert(_ context.Context, alertID string, expectedRevision uint64, alert domain.Alert) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.alerts[alertID]
	if !ok {
		return 0, ErrNotFound
	}
	if entry.revision != expectedRevision {
		return 0, ErrConflict
	}
	rev := expectedRevision + 1
	s.alerts[alertID] = memoryAlert{alert: alert, revision: rev}
	return rev, nil
}

// ActiveAlerts lists alerts that have not been acknowledged.
// Params: none.
// Returns: unacknowledged alerts, newest first.
func (s *MemoryStore) ActiveAlerts(_ context.Context) ([]domain.Alert, error) {
	return s.filterAlerts(func(alert domain.Alert) bool {
		return !alert.Acknowledged
	}), nil
}

// AlertsByDevice lists alerts raised for one device.
// Params: device ID.
// Returns: matching alerts, newest first.
func (s *MemoryStore) AlertsByDevice(_ context.Context, deviceID string) ([]domain.Alert, error) {
	return s.filterAlerts(func(alert domain.Alert) bool {
		return alert.DeviceID == deviceID
	}), nil
}

// AlertsByType lists alerts of one type.
// Params: alert type.
// Returns: matching alerts, newest first.
func (s *MemoryStore) AlertsByType(_ context.Context, alertType domain.AlertType) ([]domain.Alert, error) {
	return s.filterAlerts(func(alert domain.Alert) bool {
		return alert.Type == alertType
	}), nil
}

// AlertsInRange lists alerts raised within [start, end].
// Params: inclusive time bounds.
// Returns: matching alerts, newest first.
func (s *MemoryStore) AlertsInRange(_ context.Context, start, end time.Time) ([]domain.Alert, error) {
	return s.filterAlerts(func(alert domain.Alert) bool {
		return !alert.Timestamp.Before(start) && !alert.Timestamp.After(end)
	}), nil
}

// filterAlerts collects alerts matching keep, newest first.
// Params: keep predicate.
// Returns: sorted matching alerts.
func (s *MemoryStore) filterAlerts(keep func(domain.Alert) bool) []domain.Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Alert, 0)
	for _, entry := range s.alerts {
		if keep(entry.alert) {
			out = append(out, entry.alert)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

// PutReport writes a quality report keyed by its ID.
// Params: report with ID set.
// Returns: nil (in-memory write).
func (s *MemoryStore) PutReport(_ context.Context, report domain.WaterQualityReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports[report.ReportID] = report
	return nil
}

// Close releases memory store resources.
// Params: none.
// Returns: nil.
func (s *MemoryStore) Close() error {
	return nil
}

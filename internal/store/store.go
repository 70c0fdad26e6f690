package store

import (
	"context"
	"errors"
	"time"

	"waterops/internal/domain"
)

var (
	// ErrNotFound indicates absent key/record.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates revision mismatch for CAS update.
	ErrConflict = errors.New("revision conflict")
)

// TelemetryStore persists raw device readings.
// Params: write and range-read operations keyed by device and timestamp.
// Returns: backend persistence behavior.
type TelemetryStore interface {
	PutReading(ctx context.Context, reading domain.TelemetryReading) error
	ReadingsInRange(ctx context.Context, deviceID string, start, end time.Time) ([]domain.TelemetryReading, error)
}

// AlertStore persists alert records with optimistic concurrency.
// Params: CRUD operations for alerts plus query views.
// Returns: backend persistence behavior.
type AlertStore interface {
	PutAlert(ctx context.Context, alert domain.Alert) error
	GetAlert(ctx context.Context, alertID string) (domain.Alert, uint64, error)
	UpdateAlert(ctx context.Context, alertID string, expectedRevision uint64, alert domain.Alert) (uint64, error)
	ActiveAlerts(ctx context.Context) ([]domain.Alert, error)
	AlertsByDevice(ctx context.Context, deviceID string) ([]domain.Alert, error)
	AlertsByType(ctx context.Context, alertType domain.AlertType) ([]domain.Alert, error)
	AlertsInRange(ctx context.Context, start, end time.Time) ([]domain.Alert, error)
}

// ReportStore persists water quality compliance reports.
// Params: write operation keyed by report ID.
// Returns: backend persistence behavior.
type ReportStore interface {
	PutReport(ctx context.Context, report domain.WaterQualityReport) error
}

// Store bundles all persistence surfaces behind one backend handle.
// Params: telemetry, alert, and report operations plus Close.
// Returns: combined persistence behavior.
type Store interface {
	TelemetryStore
	AlertStore
	ReportStore
	Close() error
}

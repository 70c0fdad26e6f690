package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"waterops/internal/clock"
	"waterops/internal/domain"
	"waterops/internal/store"

	"github.com/google/uuid"
)

// casAttempts bounds acknowledge retries under concurrent updates.
const casAttempts = 3

// Manager owns alert record lifecycle on top of the alert store.
// Params: alert store, clock, and logger.
// Returns: alert create/acknowledge/query behavior.
type Manager struct {
	alerts store.AlertStore
	clk    clock.Clock
	logger *slog.Logger
}

// NewManager creates an alert manager.
// Params: alerts backing store, clk time source, logger sink.
// Returns: initialized manager.
func NewManager(alerts store.AlertStore, clk clock.Clock, logger *slog.Logger) *Manager {
	return &Manager{alerts: alerts, clk: clk, logger: logger}
}

// Create persists one alert, assigning ID and timestamp when unset.
// Params: ctx for cancellation and alert to persist.
// Returns: stored alert or persistence error.
func (m *Manager) Create(ctx context.Context, alert domain.Alert) (domain.Alert, error) {
	if alert.AlertID == "" {
		alert.AlertID = uuid.NewString()
	}
	if alert.Timestamp.IsZero() {
		alert.Timestamp = m.clk.Now()
	}
	if err := m.alerts.PutAlert(ctx, alert); err != nil {
		return domain.Alert{}, fmt.Errorf("create alert: %w", err)
	}
	m.logger.Info("alert created",
		"alert_id", alert.AlertID,
		"device_id", alert.DeviceID,
		"type", string(alert.Type),
		"severity", string(alert.Severity))
	return alert, nil
}

// Acknowledge marks one alert acknowledged by an operator.
// Re-acknowledging an already acknowledged alert is a no-op success.
// Params: ctx for cancellation, alertID key, and acknowledgedBy operator name.
// Returns: store.ErrNotFound for unknown IDs or persistence error.
func (m *Manager) Acknowledge(ctx context.Context, alertID, acknowledgedBy string) error {
	for attempt := 0; attempt < casAttempts; attempt++ {
		alert, rev, err := m.alerts.GetAlert(ctx, alertID)
		if err != nil {
			return err
		}
		if alert.Acknowledged {
			return nil
		}

		at := m.clk.Now()
		alert.Acknowledged = true
		alert.AcknowledgedBy = acknowledgedBy
		alert.AcknowledgedAt = &at

		_, err = m.alerts.UpdateAlert(ctx, alertID, rev, alert)
		if err == nil {
			m.logger.Info("alert acknowledged", "alert_id", alertID, "by", acknowledgedBy)
			return nil
		}
		if !errors.Is(err, store.ErrConflict) {
			return fmt.Errorf("acknowledge alert: %w", err)
		}
	}
	return fmt.Errorf("acknowledge alert %s: %w", alertID, store.ErrConflict)
}

// Active lists unacknowledged alerts.
// Params: ctx for cancellation.
// Returns: active alerts newest first.
func (m *Manager) Active(ctx context.Context) ([]domain.Alert, error) {
	return m.alerts.ActiveAlerts(ctx)
}

// ByDevice lists alerts for one device.
// Params: ctx for cancellation and deviceID.
// Returns: matching alerts newest first.
func (m *Manager) ByDevice(ctx context.Context, deviceID string) ([]domain.Alert, error) {
	return m.alerts.AlertsByDevice(ctx, deviceID)
}

// ByType lists alerts of one type.
// Params: ctx for cancellation and alertType.
// Returns: matching alerts newest first.
func (m *Manager) ByType(ctx context.Context, alertType domain.AlertType) ([]domain.Alert, error) {
	return m.alerts.AlertsByType(ctx, alertType)
}

// ByRange lists alerts raised within [start, end].
// Params: ctx for cancellation and inclusive time bounds.
// Returns: matching alerts newest first or range validation error.
func (m *Manager) ByRange(ctx context.Context, start, end time.Time) ([]domain.Alert, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("invalid range: end %s before start %s", end, start)
	}
	return m.alerts.AlertsInRange(ctx, start, end)
}

package alerting

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"waterops/internal/domain"
	"waterops/internal/store"
)

func newTestManager() (*Manager, *store.MemoryStore) {
	memory := store.NewMemoryStore()
	clk := &stepClock{now: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewManager(memory, clk, logger), memory
}

func TestManagerCreateAssignsIDAndTimestamp(t *testing.T) {
	t.Parallel()

	manager, _ := newTestManager()
	created, err := manager.Create(context.Background(), domain.Alert{
		DeviceID: "pump-7",
		Type:     domain.AlertHighPressure,
		Severity: domain.SeverityWarning,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.AlertID == "" {
		t.Fatalf("expected generated alert ID")
	}
	if created.Timestamp.IsZero() {
		t.Fatalf("expected assigned timestamp")
	}
}

func TestManagerAcknowledge(t *testing.T) {
	t.Parallel()

	manager, _ := newTestManager()
	created, err := manager.Create(context.Background(), domain.Alert{
		DeviceID: "pump-7",
		Type:     domain.AlertBatteryLow,
		Severity: domain.SeverityWarning,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := manager.Acknowledge(context.Background(), created.AlertID, "operator-3"); err != nil {
		t.Fatalf("acknowledge: %v", err)
	}

	active, err := manager.Active(context.Background())
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if len(active) != 0 {
		t.Fatalf("expected no active alerts, got %d", len(active))
	}

	// Second acknowledge is a no-op success.
	if err := manager.Acknowledge(context.Background(), created.AlertID, "operator-4"); err != nil {
		t.Fatalf("re-acknowledge: %v", err)
	}

	byDevice, err := manager.ByDevice(context.Background(), "pump-7")
	if err != nil {
		t.Fatalf("by device: %v", err)
	}
	if len(byDevice) != 1 || byDevice[0].AcknowledgedBy != "operator-3" {
		t.Fatalf("expected first acknowledger to stick, got %+v", byDevice)
	}
}

func TestManagerAcknowledgeUnknownAlert(t *testing.T) {
	t.Parallel()

	manager, _ := newTestManager()
	err := manager.Acknowledge(context.Background(), "missing", "operator-3")
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestManagerByRangeRejectsInvertedBounds(t *testing.T) {
	t.Parallel()

	manager, _ := newTestManager()
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	if _, err := manager.ByRange(context.Background(), start, start.Add(-time.Hour)); err == nil {
		t.Fatalf("expected inverted range to be rejected")
	}
}

package devicecomm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"waterops/internal/alerting"
	"waterops/internal/domain"
)

// Monitor raises offline alerts for devices that stop reporting.
// One alert per offline episode; the flag clears when the device reports again.
// Params: comm tracker, alert manager, logger, and per-device raised set.
// Returns: periodic scan behavior.
type Monitor struct {
	mu      sync.Mutex
	comm    *Comm
	alerts  *alerting.Manager
	logger  *slog.Logger
	flagged map[string]bool
}

// NewMonitor creates an offline monitor.
// Params: comm liveness tracker, alerts manager, logger sink.
// Returns: initialized monitor.
func NewMonitor(comm *Comm, alerts *alerting.Manager, logger *slog.Logger) *Monitor {
	return &Monitor{
		comm:    comm,
		alerts:  alerts,
		logger:  logger,
		flagged: make(map[string]bool),
	}
}

// Scan raises one offline alert per newly silent device.
// Params: ctx for cancellation.
// Returns: number of alerts raised.
func (m *Monitor) Scan(ctx context.Context) int {
	silent := m.comm.SilentDevices()

	m.mu.Lock()
	for deviceID, wasFlagged := range m.flagged {
		if _, stillSilent := silent[deviceID]; !stillSilent && wasFlagged {
			delete(m.flagged, deviceID)
		}
	}
	toRaise := make(map[string]time.Time)
	for deviceID, last := range silent {
		if m.flagged[deviceID] {
			continue
		}
		m.flagged[deviceID] = true
		toRaise[deviceID] = last
	}
	m.mu.Unlock()

	raised := 0
	for deviceID, last := range toRaise {
		_, err := m.alerts.Create(ctx, domain.Alert{
			DeviceID: deviceID,
			Type:     domain.AlertDeviceOffline,
			Severity: domain.SeverityCritical,
			Message:  fmt.Sprintf("device %s silent since %s", deviceID, last.Format(time.RFC3339)),
		})
		if err != nil {
			m.logger.Error("raise offline alert failed", "device_id", deviceID, "error", err.Error())
			m.mu.Lock()
			delete(m.flagged, deviceID)
			m.mu.Unlock()
			continue
		}
		raised++
	}
	return raised
}

// Run scans on the given interval until ctx is cancelled.
// Params: ctx for shutdown and interval between scans.
// Returns: none, exits on ctx done.
func (m *Monitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Scan(ctx)
		}
	}
}

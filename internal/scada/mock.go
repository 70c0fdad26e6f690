package scada

import (
	"context"
	"log/slog"
	"sync"

	"waterops/internal/domain"
)

// MockNotifier logs events instead of calling a live SCADA endpoint.
// It also queues valve commands so tests and bench rigs can drain them.
// Params: logger sink and pending command queue.
// Returns: Notifier implementation without network I/O.
type MockNotifier struct {
	mu      sync.Mutex
	logger  *slog.Logger
	pending []domain.ValveCommand
}

// NewMockNotifier creates a mock SCADA notifier.
// Params: logger sink.
// Returns: initialized mock.
func NewMockNotifier(logger *slog.Logger) *MockNotifier {
	return &MockNotifier{logger: logger}
}

// SendTelemetry logs the reading and succeeds.
// Params: ctx unused and reading payload.
// Returns: nil.
func (n *MockNotifier) SendTelemetry(_ context.Context, reading domain.TelemetryReading) error {
	n.logger.Debug("mock scada telemetry", "device_id", reading.DeviceID)
	return nil
}

// SendAlert logs the alert and succeeds.
// Params: ctx unused and alert payload.
// Returns: nil.
func (n *MockNotifier) SendAlert(_ context.Context, alert domain.Alert) error {
	n.logger.Info("mock scada alert",
		"alert_id", alert.AlertID, "type", string(alert.Type), "severity", string(alert.Severity))
	return nil
}

// SendFloodEvent logs the flood event and succeeds.
// Params: ctx unused and event payload.
// Returns: nil.
func (n *MockNotifier) SendFloodEvent(_ context.Context, event domain.FloodEvent) error {
	n.logger.Info("mock scada flood event",
		"event_id", event.EventID, "severity", string(event.Severity))
	return nil
}

// SendValveCommand queues the command for later inspection.
// Params: ctx unused and command payload.
// Returns: nil.
func (n *MockNotifier) SendValveCommand(_ context.Context, command domain.ValveCommand) error {
	n.mu.Lock()
	n.pending = append(n.pending, command)
	n.mu.Unlock()
	n.logger.Info("mock scada valve command",
		"device_id", command.DeviceID, "action", string(command.Action))
	return nil
}

// NextPendingCommand pops the oldest queued valve command.
// Params: none.
// Returns: oldest command and true, or zero value and false when empty.
func (n *MockNotifier) NextPendingCommand() (domain.ValveCommand, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.pending) == 0 {
		return domain.ValveCommand{}, false
	}
	command := n.pending[0]
	n.pending = n.pending[1:]
	return command, true
}

package scada

import (
	"context"

	"waterops/internal/domain"
)

// Notifier forwards pipeline events to the supervisory control system.
// Params: context and event payloads.
// Returns: transport error after retries are exhausted.
type Notifier interface {
	SendTelemetry(ctx context.Context, reading domain.TelemetryReading) error
	SendAlert(ctx context.Context, alert domain.Alert) error
	SendFloodEvent(ctx context.Context, event domain.FloodEvent) error
	SendValveCommand(ctx context.Context, command domain.ValveCommand) error
}

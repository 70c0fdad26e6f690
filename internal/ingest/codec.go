package ingest

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"waterops/internal/clock"
	"waterops/internal/domain"
)

// ReadingSink receives decoded readings from ingest interfaces.
// Params: validated reading payloads.
// Returns: processing error.
type ReadingSink interface {
	Process(ctx context.Context, reading domain.TelemetryReading) error
	ProcessBatch(ctx context.Context, readings []domain.TelemetryReading) error
}

// decodePayload auto-detects batch vs single payloads and checks clock skew.
// Params: raw JSON bytes, clk time source, and tolerated future skew.
// Returns: validated readings slice or decode/skew error.
func decodePayload(raw []byte, clk clock.Clock, skewTolerance time.Duration) ([]domain.TelemetryReading, error) {
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("empty payload")
	}

	var readings []domain.TelemetryReading
	if trimmed[0] == '[' {
		batch, err := domain.DecodeReadingBatch(raw)
		if err != nil {
			return nil, err
		}
		readings = batch
	} else {
		reading, err := domain.DecodeReading(raw)
		if err != nil {
			return nil, err
		}
		readings = []domain.TelemetryReading{reading}
	}

	now := clk.Now()
	for i := range readings {
		if err := domain.CheckSkew(readings[i], now, skewTolerance); err != nil {
			return nil, fmt.Errorf("reading[%d]: %w", i, err)
		}
	}
	return readings, nil
}

package devicecomm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"waterops/internal/clock"
	"waterops/internal/domain"
	"waterops/internal/scada"
)

// ConnectionStatus describes reachability of one field device.
type ConnectionStatus string

const (
	// StatusOnline marks a device heard from within the inactivity window.
	StatusOnline ConnectionStatus = "online"
	// StatusOffline marks a device silent beyond the inactivity window.
	StatusOffline ConnectionStatus = "offline"
	// StatusUnknown marks a device never heard from.
	StatusUnknown ConnectionStatus = "unknown"
)

// Comm tracks device liveness and routes valve commands to SCADA.
// Params: SCADA notifier, clock, inactivity window, and last-seen map.
// Returns: device communication behavior.
type Comm struct {
	mu           sync.RWMutex
	notifier     scada.Notifier
	clk          clock.Clock
	offlineAfter time.Duration
	lastSeen     map[string]time.Time
}

// New creates a device communication tracker.
// Params: notifier outbound channel, clk time source, offlineAfter silence window.
// Returns: initialized tracker.
func New(notifier scada.Notifier, clk clock.Clock, offlineAfter time.Duration) *Comm {
	return &Comm{
		notifier:     notifier,
		clk:          clk,
		offlineAfter: offlineAfter,
		lastSeen:     make(map[string]time.Time),
	}
}

// UpdateLastTelemetry records that a device reported at the reading timestamp.
// Params: reading with device ID and timestamp set.
// Returns: none.
func (c *Comm) UpdateLastTelemetry(reading domain.TelemetryReading) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if last, ok := c.lastSeen[reading.DeviceID]; ok && reading.Timestamp.Before(last) {
		return
	}
	c.lastSeen[reading.DeviceID] = reading.Timestamp
}

// LastTelemetry returns the last reported timestamp for a device.
// Params: deviceID to look up.
// Returns: last timestamp and true, or zero time and false when unseen.
func (c *Comm) LastTelemetry(deviceID string) (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	last, ok := c.lastSeen[deviceID]
	return last, ok
}

// Status reports reachability of one device.
// Params: deviceID to check.
// Returns: online/offline/unknown status.
func (c *Comm) Status(deviceID string) ConnectionStatus {
	c.mu.RLock()
	last, ok := c.lastSeen[deviceID]
	c.mu.RUnlock()
	if !ok {
		return StatusUnknown
	}
	if c.clk.Now().Sub(last) > c.offlineAfter {
		return StatusOffline
	}
	return StatusOnline
}

// SendCommand validates and forwards one valve command to SCADA.
// Params: ctx for cancellation, deviceID target, and command payload.
// Returns: validation or transport error.
func (c *Comm) SendCommand(ctx context.Context, deviceID string, command domain.ValveCommand) error {
	if err := command.Validate(deviceID); err != nil {
		return fmt.Errorf("validate valve command: %w", err)
	}
	if command.Timestamp.IsZero() {
		command.Timestamp = c.clk.Now()
	}
	if err := c.notifier.SendValveCommand(ctx, command); err != nil {
		return fmt.Errorf("send valve command to device %s: %w", deviceID, err)
	}
	return nil
}

// SilentDevices lists devices whose last report is older than the window.
// Params: none.
// Returns: device IDs with their last-seen timestamps.
func (c *Comm) SilentDevices() map[string]time.Time {
	cutoff := c.clk.Now().Add(-c.offlineAfter)
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]time.Time)
	for deviceID, last := range c.lastSeen {
		if last.Before(cutoff) {
			out[deviceID] = last
		}
	}
	return out
}

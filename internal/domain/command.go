package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ValveAction identifies a requested valve operation.
// Params: constant action keys.
// Returns: normalized action used by SCADA command payloads.
type ValveAction string

const (
	// ValveActionOpen requests fully opening the valve.
	ValveActionOpen ValveAction = "open"
	// ValveActionClose requests fully closing the valve.
	ValveActionClose ValveAction = "close"
	// ValveActionPartialOpen requests a partially opened position.
	ValveActionPartialOpen ValveAction = "partial_open"
)

// ValveCommand is one supervisory valve operation request.
// Params: target device, action, audit reason, and issuer.
// Returns: command payload validated before dispatch.
type ValveCommand struct {
	DeviceID  string      `json:"device_id"`
	Action    ValveAction `json:"action"`
	Reason    string      `json:"reason"`
	Timestamp time.Time   `json:"timestamp"`
	IssuedBy  string      `json:"issued_by"`
}

// Validate validates command fields against the target device.
// Params: device id the command is being dispatched to.
// Returns: validation error before any state mutation.
func (c ValveCommand) Validate(targetDeviceID string) error {
	if strings.TrimSpace(c.DeviceID) == "" {
		return errors.New("command device_id is required")
	}
	if c.DeviceID != targetDeviceID {
		return fmt.Errorf("command device_id %q does not match target %q", c.DeviceID, targetDeviceID)
	}
	switch c.Action {
	case ValveActionOpen, ValveActionClose, ValveActionPartialOpen:
	default:
		return fmt.Errorf("unsupported valve action %q", c.Action)
	}
	return nil
}

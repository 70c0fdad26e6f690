package alerting

import (
	"sync"
	"time"

	"waterops/internal/clock"
)

// Gate suppresses repeat alert bursts per device within a debounce window.
// Params: per-device last emission map, injected clock, and window length.
// Returns: debounce decision behavior.
type Gate struct {
	mu       sync.Mutex
	clk      clock.Clock
	period   time.Duration
	lastEmit map[string]time.Time
}

// NewGate creates a debounce gate.
// Params: clk time source and period debounce window.
// Returns: initialized gate.
func NewGate(clk clock.Clock, period time.Duration) *Gate {
	return &Gate{
		clk:      clk,
		period:   period,
		lastEmit: make(map[string]time.Time),
	}
}

// Allow reports whether the device is outside its debounce window.
// Params: deviceID to check.
// Returns: true when no alert was emitted within the window.
func (g *Gate) Allow(deviceID string) bool {
	if g.period <= 0 {
		return true
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	last, ok := g.lastEmit[deviceID]
	if !ok {
		return true
	}
	return g.clk.Now().Sub(last) >= g.period
}

// MarkEmitted records that alerts were emitted for the device now.
// Params: deviceID that produced alerts.
// Returns: none.
func (g *Gate) MarkEmitted(deviceID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.lastEmit[deviceID] = g.clk.Now()
}

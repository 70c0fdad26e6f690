package telemetrycache

import (
	"sort"
	"sync"
	"time"

	"waterops/internal/domain"
)

// Cache keeps the most recent readings per device for fast history queries.
// Params: per-device bounded slices guarded by RWMutex.
// Returns: recent-window cache behavior.
type Cache struct {
	mu       sync.RWMutex
	capacity int
	readings map[string][]domain.TelemetryReading
}

// New creates a cache bounded to capacity readings per device.
// Params: capacity maximum retained readings per device (values below 1 become 1).
// Returns: initialized cache.
func New(capacity int) *Cache {
	if capacity < 1 {
		capacity = 1
	}
	return &Cache{
		capacity: capacity,
		readings: make(map[string][]domain.TelemetryReading),
	}
}

// Add inserts one reading, evicting the device's oldest by timestamp when
// that device is at capacity. Other devices' histories are unaffected.
// Params: reading to retain.
// Returns: none.
func (c *Cache) Add(reading domain.TelemetryReading) {
	c.mu.Lock()
	defer c.mu.Unlock()

	kept := c.readings[reading.DeviceID]
	if len(kept) < c.capacity {
		c.readings[reading.DeviceID] = append(kept, reading)
		return
	}

	oldest := 0
	for i := 1; i < len(kept); i++ {
		if kept[i].Timestamp.Before(kept[oldest].Timestamp) {
			oldest = i
		}
	}
	if reading.Timestamp.Before(kept[oldest].Timestamp) {
		return
	}
	kept[oldest] = reading
}

// Range returns cached readings for a device within [start, end], newest first.
// Params: device ID and inclusive time bounds.
// Returns: copied matching readings.
func (c *Cache) Range(deviceID string, start, end time.Time) []domain.TelemetryReading {
	c.mu.RLock()
	out := make([]domain.TelemetryReading, 0)
	for _, reading := range c.readings[deviceID] {
		if reading.Timestamp.Before(start) || reading.Timestamp.After(end) {
			continue
		}
		out = append(out, reading)
	}
	c.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

// Len reports the total number of cached readings across devices.
// Params: none.
// Returns: current cache size.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	total := 0
	for _, kept := range c.readings {
		total += len(kept)
	}
	return total
}

package telemetrycache

import (
	"testing"
	"time"

	"waterops/internal/domain"
)

func TestCacheEvictsOldestAtCapacity(t *testing.T) {
	t.Parallel()

	cache := New(100)
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 101; i++ {
		cache.Add(domain.TelemetryReading{
			DeviceID:  "sensor-1",
			Timestamp: base.Add(time.Duration(i) * time.Second),
		})
	}

	if got := cache.Len(); got != 100 {
		t.Fatalf("expected 100 cached readings, got %d", got)
	}

	all := cache.Range("sensor-1", base, base.Add(time.Hour))
	if len(all) != 100 {
		t.Fatalf("expected 100 readings in range, got %d", len(all))
	}
	for _, reading := range all {
		if reading.Timestamp.Equal(base) {
			t.Fatalf("expected oldest reading to be evicted")
		}
	}
}

func TestCacheBoundsEachDeviceIndependently(t *testing.T) {
	t.Parallel()

	cache := New(100)
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 100; i++ {
		cache.Add(domain.TelemetryReading{
			DeviceID:  "sensor-1",
			Timestamp: base.Add(time.Duration(i) * time.Second),
		})
	}
	for i := 0; i < 100; i++ {
		cache.Add(domain.TelemetryReading{
			DeviceID:  "sensor-2",
			Timestamp: base.Add(time.Hour + time.Duration(i)*time.Second),
		})
	}

	end := base.Add(24 * time.Hour)
	if got := len(cache.Range("sensor-1", base, end)); got != 100 {
		t.Fatalf("sensor-1 history should survive sensor-2 traffic, got %d readings", got)
	}
	if got := len(cache.Range("sensor-2", base, end)); got != 100 {
		t.Fatalf("expected 100 sensor-2 readings, got %d", got)
	}
	if got := cache.Len(); got != 200 {
		t.Fatalf("expected 200 total cached readings, got %d", got)
	}

	cache.Add(domain.TelemetryReading{DeviceID: "sensor-1", Timestamp: base.Add(2 * time.Hour)})
	sensor1 := cache.Range("sensor-1", base, end)
	if len(sensor1) != 100 {
		t.Fatalf("sensor-1 should stay at capacity, got %d", len(sensor1))
	}
	for _, reading := range sensor1 {
		if reading.Timestamp.Equal(base) {
			t.Fatalf("expected sensor-1 oldest reading to be evicted")
		}
	}
}

func TestCacheDropsReadingOlderThanWindow(t *testing.T) {
	t.Parallel()

	cache := New(2)
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	cache.Add(domain.TelemetryReading{DeviceID: "sensor-1", Timestamp: base.Add(time.Minute)})
	cache.Add(domain.TelemetryReading{DeviceID: "sensor-1", Timestamp: base.Add(2 * time.Minute)})
	cache.Add(domain.TelemetryReading{DeviceID: "sensor-1", Timestamp: base})

	if got := cache.Len(); got != 2 {
		t.Fatalf("expected 2 cached readings, got %d", got)
	}
	all := cache.Range("sensor-1", base, base.Add(time.Hour))
	if len(all) != 2 || all[1].Timestamp.Equal(base) {
		t.Fatalf("expected stale reading to be rejected, got %+v", all)
	}
}

func TestCacheRangeFiltersDeviceAndWindow(t *testing.T) {
	t.Parallel()

	cache := New(10)
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		cache.Add(domain.TelemetryReading{
			DeviceID:  "sensor-1",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Pressure:  float64(i),
		})
	}
	cache.Add(domain.TelemetryReading{DeviceID: "sensor-2", Timestamp: base.Add(time.Minute)})

	got := cache.Range("sensor-1", base.Add(time.Minute), base.Add(3*time.Minute))
	if len(got) != 3 {
		t.Fatalf("expected 3 readings, got %d", len(got))
	}
	if got[0].Pressure != 3 {
		t.Fatalf("expected newest first, got pressure %v", got[0].Pressure)
	}

	got[0].Pressure = 99
	again := cache.Range("sensor-1", base.Add(3*time.Minute), base.Add(3*time.Minute))
	if len(again) != 1 || again[0].Pressure != 3 {
		t.Fatalf("expected copy-on-read, got %+v", again)
	}
}

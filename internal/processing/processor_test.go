package processing

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"waterops/internal/alerting"
	"waterops/internal/config"
	"waterops/internal/devicecomm"
	"waterops/internal/domain"
	"waterops/internal/scada"
	"waterops/internal/store"
	"waterops/internal/telemetrycache"
)

type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *stepClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testProcessingConfig() config.ProcessingConfig {
	return config.ProcessingConfig{
		MaxConcurrent:      10,
		CacheCapacity:      100,
		DebouncePeriodSec:  600,
		HistoryWindowHours: 24,
		Thresholds: config.ThresholdsConfig{
			HighPressure: 100,
			LowPressure:  10,
			WaterQuality: 50,
			BatteryLow:   15,
		},
	}
}

type rig struct {
	processor *Processor
	memory    *store.MemoryStore
	cache     *telemetrycache.Cache
	alerts    *alerting.Manager
	mock      *scada.MockNotifier
	clk       *stepClock
}

func newRig(telemetry store.TelemetryStore) *rig {
	cfg := testProcessingConfig()
	clk := &stepClock{now: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
	memory := store.NewMemoryStore()
	if telemetry == nil {
		telemetry = memory
	}
	logger := discardLogger()
	mock := scada.NewMockNotifier(logger)
	alerts := alerting.NewManager(memory, clk, logger)
	gate := alerting.NewGate(clk, cfg.DebouncePeriod())
	cache := telemetrycache.New(cfg.CacheCapacity)
	comm := devicecomm.New(mock, clk, time.Hour)

	return &rig{
		processor: New(cfg, telemetry, memory, alerts, gate, cache, comm, mock, clk, logger),
		memory:    memory,
		cache:     cache,
		alerts:    alerts,
		mock:      mock,
		clk:       clk,
	}
}

func faultyReading(deviceID string, at time.Time) domain.TelemetryReading {
	return domain.TelemetryReading{
		DeviceID:     deviceID,
		Timestamp:    at,
		Pressure:     150,
		Quality:      90,
		BatteryLevel: 80,
		ValveStatus:  domain.ValveOpen,
		WaterLevel:   domain.WaterLevelNormal,
	}
}

func healthyReading(deviceID string, at time.Time) domain.TelemetryReading {
	reading := faultyReading(deviceID, at)
	reading.Pressure = 55
	return reading
}

func TestProcessPersistsCachesAndAlerts(t *testing.T) {
	t.Parallel()

	r := newRig(nil)
	at := r.clk.Now()

	if err := r.processor.Process(context.Background(), faultyReading("sensor-1", at)); err != nil {
		t.Fatalf("process: %v", err)
	}

	stored, err := r.memory.ReadingsInRange(context.Background(), "sensor-1", at, at)
	if err != nil || len(stored) != 1 {
		t.Fatalf("expected persisted reading, got %d err=%v", len(stored), err)
	}
	if got := r.cache.Range("sensor-1", at, at); len(got) != 1 {
		t.Fatalf("expected cached reading, got %d", len(got))
	}

	active, err := r.alerts.Active(context.Background())
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if len(active) != 1 || active[0].Type != domain.AlertHighPressure {
		t.Fatalf("expected one high pressure alert, got %+v", active)
	}
}

func TestProcessDebouncesPerDevice(t *testing.T) {
	t.Parallel()

	r := newRig(nil)

	if err := r.processor.Process(context.Background(), faultyReading("sensor-1", r.clk.Now())); err != nil {
		t.Fatalf("first process: %v", err)
	}

	r.clk.Advance(5 * time.Minute)
	if err := r.processor.Process(context.Background(), faultyReading("sensor-1", r.clk.Now())); err != nil {
		t.Fatalf("second process: %v", err)
	}
	if err := r.processor.Process(context.Background(), faultyReading("sensor-2", r.clk.Now())); err != nil {
		t.Fatalf("other device process: %v", err)
	}

	active, err := r.alerts.Active(context.Background())
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("expected suppressed repeat for sensor-1 only, got %d alerts", len(active))
	}

	r.clk.Advance(6 * time.Minute)
	if err := r.processor.Process(context.Background(), faultyReading("sensor-1", r.clk.Now())); err != nil {
		t.Fatalf("post-window process: %v", err)
	}
	active, _ = r.alerts.Active(context.Background())
	if len(active) != 3 {
		t.Fatalf("expected alert after window, got %d", len(active))
	}
}

func TestProcessHealthyReadingDoesNotAdvanceGate(t *testing.T) {
	t.Parallel()

	r := newRig(nil)

	if err := r.processor.Process(context.Background(), healthyReading("sensor-1", r.clk.Now())); err != nil {
		t.Fatalf("healthy process: %v", err)
	}
	// A fault right after a healthy reading must still alert.
	r.clk.Advance(time.Minute)
	if err := r.processor.Process(context.Background(), faultyReading("sensor-1", r.clk.Now())); err != nil {
		t.Fatalf("faulty process: %v", err)
	}

	active, err := r.alerts.Active(context.Background())
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(active))
	}
}

type failingTelemetryStore struct {
	err error
}

func (s failingTelemetryStore) PutReading(context.Context, domain.TelemetryReading) error {
	return s.err
}

func (s failingTelemetryStore) ReadingsInRange(context.Context, string, time.Time, time.Time) ([]domain.TelemetryReading, error) {
	return nil, s.err
}

func TestProcessContinuesWhenPersistFails(t *testing.T) {
	t.Parallel()

	sentinel := errors.New("kv down")
	r := newRig(failingTelemetryStore{err: sentinel})
	at := r.clk.Now()

	err := r.processor.Process(context.Background(), faultyReading("sensor-1", at))
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected persist error to surface, got %v", err)
	}

	// Alert evaluation and caching still ran.
	active, aerr := r.alerts.Active(context.Background())
	if aerr != nil || len(active) != 1 {
		t.Fatalf("expected alert despite persist failure, got %d err=%v", len(active), aerr)
	}
	if got := r.cache.Range("sensor-1", at, at); len(got) != 1 {
		t.Fatalf("expected cached reading despite persist failure, got %d", len(got))
	}
}

type throttleProbeStore struct {
	*store.MemoryStore
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (s *throttleProbeStore) PutReading(ctx context.Context, reading domain.TelemetryReading) error {
	current := s.inFlight.Add(1)
	for {
		peak := s.peak.Load()
		if current <= peak || s.peak.CompareAndSwap(peak, current) {
			break
		}
	}
	time.Sleep(time.Millisecond)
	s.inFlight.Add(-1)
	return s.MemoryStore.PutReading(ctx, reading)
}

func TestProcessBatchHonorsConcurrencyLimit(t *testing.T) {
	t.Parallel()

	probe := &throttleProbeStore{MemoryStore: store.NewMemoryStore()}
	r := newRig(probe)
	base := r.clk.Now()

	readings := make([]domain.TelemetryReading, 0, 50)
	for i := 0; i < 50; i++ {
		readings = append(readings, healthyReading("sensor-1", base.Add(time.Duration(i)*time.Second)))
	}

	if err := r.processor.ProcessBatch(context.Background(), readings); err != nil {
		t.Fatalf("process batch: %v", err)
	}

	stored, err := probe.ReadingsInRange(context.Background(), "sensor-1", base, base.Add(time.Minute))
	if err != nil {
		t.Fatalf("readings in range: %v", err)
	}
	if len(stored) != 50 {
		t.Fatalf("expected all 50 readings persisted, got %d", len(stored))
	}
	if peak := probe.peak.Load(); peak > 10 {
		t.Fatalf("expected at most 10 concurrent readings, observed %d", peak)
	}
}

type selectiveFailStore struct {
	*store.MemoryStore
	rejectDevice string
	err          error
}

func (s *selectiveFailStore) PutReading(ctx context.Context, reading domain.TelemetryReading) error {
	if reading.DeviceID == s.rejectDevice {
		return s.err
	}
	return s.MemoryStore.PutReading(ctx, reading)
}

func TestProcessBatchFailingReadingDoesNotStopSiblings(t *testing.T) {
	t.Parallel()

	sentinel := errors.New("rejected by kv")
	selective := &selectiveFailStore{
		MemoryStore:  store.NewMemoryStore(),
		rejectDevice: "sensor-bad",
		err:          sentinel,
	}
	r := newRig(selective)
	base := r.clk.Now()

	readings := []domain.TelemetryReading{healthyReading("sensor-bad", base)}
	for i := 0; i < 20; i++ {
		readings = append(readings, healthyReading("sensor-1", base.Add(time.Duration(i+1)*time.Second)))
	}

	err := r.processor.ProcessBatch(context.Background(), readings)
	if !errors.Is(err, sentinel) {
		t.Fatalf("expected failing reading's error to surface, got %v", err)
	}

	stored, serr := selective.ReadingsInRange(context.Background(), "sensor-1", base, base.Add(time.Minute))
	if serr != nil {
		t.Fatalf("readings in range: %v", serr)
	}
	if len(stored) != 20 {
		t.Fatalf("expected all 20 sibling readings persisted, got %d", len(stored))
	}
}

func TestHistoryFallsBackToStore(t *testing.T) {
	t.Parallel()

	r := newRig(nil)
	base := r.clk.Now()

	// Persisted but not cached.
	if err := r.memory.PutReading(context.Background(), healthyReading("sensor-1", base)); err != nil {
		t.Fatalf("put reading: %v", err)
	}

	got, err := r.processor.History(context.Background(), "sensor-1", base.Add(-time.Hour), base.Add(time.Hour))
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected store fallback to return 1 reading, got %d", len(got))
	}

	if _, err := r.processor.History(context.Background(), "sensor-1", base, base.Add(-time.Hour)); err == nil {
		t.Fatalf("expected inverted range rejection")
	}
}

func TestHistoryPrefersCache(t *testing.T) {
	t.Parallel()

	sentinel := errors.New("kv down")
	r := newRig(failingTelemetryStore{err: sentinel})
	base := r.clk.Now()

	r.cache.Add(healthyReading("sensor-1", base))

	got, err := r.processor.History(context.Background(), "sensor-1", base.Add(-time.Hour), base.Add(time.Hour))
	if err != nil {
		t.Fatalf("expected cache hit to bypass store, got %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 cached reading, got %d", len(got))
	}
}

func TestQualityReportTiersAndCompliance(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name             string
		quality          float64
		wantContaminants int
		wantCompliant    bool
	}{
		{name: "pristine", quality: 98, wantContaminants: 0, wantCompliant: true},
		{name: "coliform tier", quality: 90, wantContaminants: 1, wantCompliant: true},
		{name: "lead tier", quality: 80, wantContaminants: 2, wantCompliant: true},
		{name: "all tiers non-compliant", quality: 45, wantContaminants: 3, wantCompliant: false},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			r := newRig(nil)
			base := r.clk.Now()
			for i := 0; i < 4; i++ {
				reading := healthyReading("sensor-1", base.Add(-time.Duration(i)*time.Hour))
				reading.Quality = tc.quality
				reading.Temperature = 14.5
				if err := r.memory.PutReading(context.Background(), reading); err != nil {
					t.Fatalf("put reading: %v", err)
				}
			}

			report, err := r.processor.QualityReport(context.Background(), "sensor-1")
			if err != nil {
				t.Fatalf("quality report: %v", err)
			}
			if report.SampleCount != 4 {
				t.Fatalf("expected 4 samples, got %d", report.SampleCount)
			}
			if report.OverallQuality != tc.quality {
				t.Fatalf("expected avg %v, got %v", tc.quality, report.OverallQuality)
			}
			if len(report.Contaminants) != tc.wantContaminants {
				t.Fatalf("expected %d contaminants, got %d", tc.wantContaminants, len(report.Contaminants))
			}
			if report.MeetsStandards != tc.wantCompliant {
				t.Fatalf("expected compliant=%v, got %v", tc.wantCompliant, report.MeetsStandards)
			}
			if report.Temperature != 14.5 {
				t.Fatalf("expected latest temperature, got %v", report.Temperature)
			}
			for _, contaminant := range report.Contaminants {
				exceeds := contaminant.Concentration > contaminant.MaxAllowed
				if contaminant.ExceedsLimit != exceeds {
					t.Fatalf("contaminant %s: ExceedsLimit=%v for concentration %v max %v",
						contaminant.Name, contaminant.ExceedsLimit, contaminant.Concentration, contaminant.MaxAllowed)
				}
			}
		})
	}
}

func TestContaminantPayloadCarriesLimitFlag(t *testing.T) {
	t.Parallel()

	nitrates := domain.NewContaminant("Nitrates", 11.5, "mg/L", 10.0)
	if !nitrates.ExceedsLimit {
		t.Fatalf("nitrates above limit should set the flag")
	}
	coliform := domain.NewContaminant("Total Coliform", 2.5, "cfu/100mL", 5.0)
	if coliform.ExceedsLimit {
		t.Fatalf("coliform below limit should not set the flag")
	}

	payload, err := json.Marshal(nitrates)
	if err != nil {
		t.Fatalf("marshal contaminant: %v", err)
	}
	if !strings.Contains(string(payload), `"exceeds_limit":true`) {
		t.Fatalf("payload missing limit flag: %s", payload)
	}
}

func TestQualityReportRequiresTelemetry(t *testing.T) {
	t.Parallel()

	r := newRig(nil)
	if _, err := r.processor.QualityReport(context.Background(), "sensor-9"); err == nil {
		t.Fatalf("expected error for device without telemetry")
	}
}

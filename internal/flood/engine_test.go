package flood

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"waterops/internal/domain"
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

type recordingNotifier struct {
	mu     sync.Mutex
	events []domain.FloodEvent
	err    error
}

func (n *recordingNotifier) SendTelemetry(context.Context, domain.TelemetryReading) error {
	return nil
}

func (n *recordingNotifier) SendAlert(context.Context, domain.Alert) error { return nil }

func (n *recordingNotifier) SendValveCommand(context.Context, domain.ValveCommand) error {
	return nil
}

func (n *recordingNotifier) SendFloodEvent(_ context.Context, event domain.FloodEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	return n.err
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.events)
}

func newTestEngine() (*Engine, *stepClock, *recordingNotifier) {
	clk := &stepClock{now: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
	notifier := &recordingNotifier{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewEngine(clk, notifier, logger), clk, notifier
}

func TestEngineLifecycle(t *testing.T) {
	t.Parallel()

	engine, clk, notifier := newTestEngine()

	created, err := engine.Create(context.Background(), domain.FloodEvent{
		Location:          "north basin",
		Severity:          domain.FloodModerate,
		AffectedDeviceIDs: []string{"sensor-1", "valve-3"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.EventID == "" || created.StartTime.IsZero() {
		t.Fatalf("expected ID and start time assigned, got %+v", created)
	}
	if created.Closed() {
		t.Fatalf("expected event to be open")
	}
	if len(engine.Active()) != 1 {
		t.Fatalf("expected 1 active event")
	}

	severity := domain.FloodMajor
	peak := 4.2
	updated, err := engine.ApplyUpdate(context.Background(), created.EventID, Update{
		Severity:       &severity,
		PeakWaterLevel: &peak,
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Severity != domain.FloodMajor || updated.PeakWaterLevel != 4.2 {
		t.Fatalf("unexpected update result: %+v", updated)
	}

	clk.Advance(3 * time.Hour)
	closed, err := engine.Close(context.Background(), created.EventID)
	if err != nil {
		t.Fatalf("close: %v", err)
	}
	if !closed.Closed() || !closed.EndTime.Equal(clk.Now()) {
		t.Fatalf("expected stamped end time, got %+v", closed)
	}
	if len(engine.Active()) != 0 {
		t.Fatalf("expected no active events after close")
	}

	got, err := engine.Get(created.EventID)
	if err != nil {
		t.Fatalf("get after close: %v", err)
	}
	if !got.Closed() {
		t.Fatalf("expected historical event, got %+v", got)
	}

	// Create, update, and close each forward to SCADA.
	if notifier.count() != 3 {
		t.Fatalf("expected 3 forwards, got %d", notifier.count())
	}
}

func TestEngineCloseErrors(t *testing.T) {
	t.Parallel()

	engine, _, _ := newTestEngine()

	if _, err := engine.Close(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	created, err := engine.Create(context.Background(), domain.FloodEvent{Severity: domain.FloodMinor})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := engine.Close(context.Background(), created.EventID); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := engine.Close(context.Background(), created.EventID); !errors.Is(err, ErrAlreadyClosed) {
		t.Fatalf("expected already closed, got %v", err)
	}
}

func TestEngineHistoricalEventStaysUpdatable(t *testing.T) {
	t.Parallel()

	engine, _, _ := newTestEngine()

	created, err := engine.Create(context.Background(), domain.FloodEvent{Severity: domain.FloodMinor})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := engine.Close(context.Background(), created.EventID); err != nil {
		t.Fatalf("close: %v", err)
	}

	volume := 1250.0
	updated, err := engine.ApplyUpdate(context.Background(), created.EventID, Update{
		EstimatedVolumeReleased: &volume,
	})
	if err != nil {
		t.Fatalf("update historical: %v", err)
	}
	if updated.EstimatedVolumeReleased != volume {
		t.Fatalf("expected volume update on closed event, got %+v", updated)
	}
}

func TestEngineSubmitReport(t *testing.T) {
	t.Parallel()

	engine, clk, _ := newTestEngine()

	created, err := engine.Create(context.Background(), domain.FloodEvent{Severity: domain.FloodMajor})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	first, err := engine.SubmitReport(created.EventID, "operator-1")
	if err != nil {
		t.Fatalf("submit report: %v", err)
	}
	if !first.HasRegulationReport || first.ReportSubmittedBy != "operator-1" {
		t.Fatalf("unexpected report state: %+v", first)
	}
	firstAt := *first.RegulationReportAt

	clk.Advance(time.Hour)
	second, err := engine.SubmitReport(created.EventID, "operator-2")
	if err != nil {
		t.Fatalf("resubmit report: %v", err)
	}
	if !second.HasRegulationReport {
		t.Fatalf("expected flag to stay set")
	}
	if second.ReportSubmittedBy != "operator-2" || !second.RegulationReportAt.After(firstAt) {
		t.Fatalf("expected resubmission to overwrite submitter and time, got %+v", second)
	}

	if _, err := engine.SubmitReport("missing", "operator-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestEngineRangeSpansActiveAndHistorical(t *testing.T) {
	t.Parallel()

	engine, clk, _ := newTestEngine()
	base := clk.Now()

	first, err := engine.Create(context.Background(), domain.FloodEvent{Severity: domain.FloodMinor})
	if err != nil {
		t.Fatalf("create first: %v", err)
	}
	if _, err := engine.Close(context.Background(), first.EventID); err != nil {
		t.Fatalf("close first: %v", err)
	}

	clk.Advance(time.Hour)
	if _, err := engine.Create(context.Background(), domain.FloodEvent{Severity: domain.FloodModerate}); err != nil {
		t.Fatalf("create second: %v", err)
	}

	got := engine.Range(base, base.Add(2*time.Hour))
	if len(got) != 2 {
		t.Fatalf("expected 2 events in range, got %d", len(got))
	}
	if !got[0].StartTime.After(got[1].StartTime) {
		t.Fatalf("expected newest-first ordering")
	}

	narrow := engine.Range(base.Add(30*time.Minute), base.Add(2*time.Hour))
	if len(narrow) != 1 {
		t.Fatalf("expected 1 event in narrow range, got %d", len(narrow))
	}
}

func TestEngineCreateSucceedsWhenForwardFails(t *testing.T) {
	t.Parallel()

	engine, _, notifier := newTestEngine()
	notifier.err = errors.New("scada unreachable")

	created, err := engine.Create(context.Background(), domain.FloodEvent{Severity: domain.FloodMinor})
	if err != nil {
		t.Fatalf("expected create to succeed despite forward failure, got %v", err)
	}
	if _, err := engine.Get(created.EventID); err != nil {
		t.Fatalf("expected event to be registered, got %v", err)
	}
}

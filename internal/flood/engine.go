package flood

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"waterops/internal/clock"
	"waterops/internal/domain"
	"waterops/internal/scada"

	"github.com/google/uuid"
)

var (
	// ErrNotFound indicates an unknown flood event ID.
	ErrNotFound = errors.New("flood event not found")
	// ErrAlreadyClosed indicates a close attempt on a historical event.
	ErrAlreadyClosed = errors.New("flood event already closed")
)

// Update carries optional field changes for one flood event.
// Params: nil pointers leave the current value untouched.
// Returns: patch applied under the engine lock.
type Update struct {
	Severity                *domain.FloodSeverity
	Location                *string
	AffectedDeviceIDs       []string
	PeakWaterLevel          *float64
	EstimatedVolumeReleased *float64
}

// Engine owns flood event lifecycle: creation, updates, closure, and reports.
// Active and historical sets are disjoint; an ID lives in exactly one of them.
// Params: event maps guarded by one mutex, clock, SCADA notifier, and logger.
// Returns: flood lifecycle behavior.
type Engine struct {
	mu         sync.Mutex
	active     map[string]domain.FloodEvent
	historical map[string]domain.FloodEvent
	clk        clock.Clock
	notifier   scada.Notifier
	logger     *slog.Logger
}

// NewEngine creates a flood lifecycle engine.
// Params: clk time source, notifier outbound channel, logger sink.
// Returns: initialized engine.
func NewEngine(clk clock.Clock, notifier scada.Notifier, logger *slog.Logger) *Engine {
	return &Engine{
		active:     make(map[string]domain.FloodEvent),
		historical: make(map[string]domain.FloodEvent),
		clk:        clk,
		notifier:   notifier,
		logger:     logger,
	}
}

// Create registers a new active flood event, assigning ID and start time when unset.
// Params: ctx for the SCADA forward and event seed.
// Returns: stored event or validation error.
func (e *Engine) Create(ctx context.Context, event domain.FloodEvent) (domain.FloodEvent, error) {
	if event.Severity.Rank() < 0 {
		return domain.FloodEvent{}, fmt.Errorf("unsupported flood severity %q", event.Severity)
	}
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.StartTime.IsZero() {
		event.StartTime = e.clk.Now()
	}
	event.EndTime = nil

	e.mu.Lock()
	if _, exists := e.active[event.EventID]; exists {
		e.mu.Unlock()
		return domain.FloodEvent{}, fmt.Errorf("flood event %s already active", event.EventID)
	}
	if _, exists := e.historical[event.EventID]; exists {
		e.mu.Unlock()
		return domain.FloodEvent{}, fmt.Errorf("flood event %s already closed", event.EventID)
	}
	e.active[event.EventID] = event
	e.mu.Unlock()

	e.logger.Info("flood event opened",
		"event_id", event.EventID,
		"severity", string(event.Severity),
		"location", event.Location)
	e.forward(ctx, event)
	return event, nil
}

// ApplyUpdate patches one event, active or historical.
// Params: ctx for the SCADA forward, eventID key, and patch.
// Returns: updated event or ErrNotFound.
func (e *Engine) ApplyUpdate(ctx context.Context, eventID string, patch Update) (domain.FloodEvent, error) {
	e.mu.Lock()
	event, set, ok := e.lookupLocked(eventID)
	if !ok {
		e.mu.Unlock()
		return domain.FloodEvent{}, fmt.Errorf("update flood event %s: %w", eventID, ErrNotFound)
	}

	if patch.Severity != nil {
		if patch.Severity.Rank() < 0 {
			e.mu.Unlock()
			return domain.FloodEvent{}, fmt.Errorf("unsupported flood severity %q", *patch.Severity)
		}
		event.Severity = *patch.Severity
	}
	if patch.Location != nil {
		event.Location = *patch.Location
	}
	if patch.AffectedDeviceIDs != nil {
		event.AffectedDeviceIDs = append([]string(nil), patch.AffectedDeviceIDs...)
	}
	if patch.PeakWaterLevel != nil {
		event.PeakWaterLevel = *patch.PeakWaterLevel
	}
	if patch.EstimatedVolumeReleased != nil {
		event.EstimatedVolumeReleased = *patch.EstimatedVolumeReleased
	}
	set[eventID] = event
	e.mu.Unlock()

	e.forward(ctx, event)
	return event, nil
}

// Close moves one active event to the historical set, stamping its end time.
// Params: ctx for the SCADA forward and eventID key.
// Returns: closed event, ErrAlreadyClosed, or ErrNotFound.
func (e *Engine) Close(ctx context.Context, eventID string) (domain.FloodEvent, error) {
	e.mu.Lock()
	event, ok := e.active[eventID]
	if !ok {
		if _, closed := e.historical[eventID]; closed {
			e.mu.Unlock()
			return domain.FloodEvent{}, fmt.Errorf("close flood event %s: %w", eventID, ErrAlreadyClosed)
		}
		e.mu.Unlock()
		return domain.FloodEvent{}, fmt.Errorf("close flood event %s: %w", eventID, ErrNotFound)
	}
	endTime := e.clk.Now()
	event.EndTime = &endTime
	delete(e.active, eventID)
	e.historical[eventID] = event
	e.mu.Unlock()

	e.logger.Info("flood event closed", "event_id", eventID, "end_time", endTime)
	e.forward(ctx, event)
	return event, nil
}

// SubmitReport marks the regulation report filed for one event, active or historical.
// Resubmission overwrites the submitter and timestamp; the flag stays set.
// Params: eventID key and submittedBy operator name.
// Returns: updated event or ErrNotFound.
func (e *Engine) SubmitReport(eventID, submittedBy string) (domain.FloodEvent, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	event, set, ok := e.lookupLocked(eventID)
	if !ok {
		return domain.FloodEvent{}, fmt.Errorf("submit report for flood event %s: %w", eventID, ErrNotFound)
	}
	at := e.clk.Now()
	event.HasRegulationReport = true
	event.RegulationReportAt = &at
	event.ReportSubmittedBy = submittedBy
	set[eventID] = event
	return event, nil
}

// Get returns one event from either set.
// Params: eventID key.
// Returns: event or ErrNotFound.
func (e *Engine) Get(eventID string) (domain.FloodEvent, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	event, _, ok := e.lookupLocked(eventID)
	if !ok {
		return domain.FloodEvent{}, fmt.Errorf("get flood event %s: %w", eventID, ErrNotFound)
	}
	return event, nil
}

// Active lists open events, newest first by start time.
// Params: none.
// Returns: copied active events.
func (e *Engine) Active() []domain.FloodEvent {
	e.mu.Lock()
	out := make([]domain.FloodEvent, 0, len(e.active))
	for _, event := range e.active {
		out = append(out, event)
	}
	e.mu.Unlock()
	sortByStartDesc(out)
	return out
}

// Range lists events, open or closed, that started within [start, end].
// Params: inclusive time bounds.
// Returns: copied matching events, newest first.
func (e *Engine) Range(start, end time.Time) []domain.FloodEvent {
	e.mu.Lock()
	out := make([]domain.FloodEvent, 0)
	for _, event := range e.active {
		if inRange(event.StartTime, start, end) {
			out = append(out, event)
		}
	}
	for _, event := range e.historical {
		if inRange(event.StartTime, start, end) {
			out = append(out, event)
		}
	}
	e.mu.Unlock()
	sortByStartDesc(out)
	return out
}

// lookupLocked finds one event and the set holding it. Callers hold e.mu.
// Params: eventID key.
// Returns: event copy, owning set, and presence flag.
func (e *Engine) lookupLocked(eventID string) (domain.FloodEvent, map[string]domain.FloodEvent, bool) {
	if event, ok := e.active[eventID]; ok {
		return event, e.active, true
	}
	if event, ok := e.historical[eventID]; ok {
		return event, e.historical, true
	}
	return domain.FloodEvent{}, nil, false
}

// forward notifies SCADA outside the engine lock; failures are logged, not returned.
// Params: ctx for cancellation and event snapshot.
// Returns: none.
func (e *Engine) forward(ctx context.Context, event domain.FloodEvent) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.SendFloodEvent(ctx, event); err != nil {
		e.logger.Error("scada flood forward failed", "event_id", event.EventID, "error", err.Error())
	}
}

// inRange reports whether at falls within [start, end].
// Params: at candidate and inclusive bounds.
// Returns: true when inside the window.
func inRange(at, start, end time.Time) bool {
	return !at.Before(start) && !at.After(end)
}

// sortByStartDesc orders events newest first by start time.
// Params: events slice sorted in place.
// Returns: none.
func sortByStartDesc(events []domain.FloodEvent) {
	sort.Slice(events, func(i, j int) bool {
		return events[i].StartTime.After(events[j].StartTime)
	})
}

package processing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"waterops/internal/alerting"
	"waterops/internal/clock"
	"waterops/internal/config"
	"waterops/internal/devicecomm"
	"waterops/internal/domain"
	"waterops/internal/scada"
	"waterops/internal/store"
	"waterops/internal/telemetrycache"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Processor coordinates the per-reading pipeline: persist, track liveness,
// forward to SCADA, evaluate alert rules, and cache for history queries.
// Steps are independent: a failing step is logged and the rest still run.
// Params: stores, alert manager, debounce gate, cache, comm tracker, notifier.
// Returns: telemetry processing behavior.
type Processor struct {
	cfg       config.ProcessingConfig
	telemetry store.TelemetryStore
	reports   store.ReportStore
	alerts    *alerting.Manager
	gate      *alerting.Gate
	cache     *telemetrycache.Cache
	comm      *devicecomm.Comm
	notifier  scada.Notifier
	clk       clock.Clock
	logger    *slog.Logger
}

// New creates a telemetry processor.
// Params: processing config and pipeline collaborators.
// Returns: initialized processor.
func New(
	cfg config.ProcessingConfig,
	telemetry store.TelemetryStore,
	reports store.ReportStore,
	alerts *alerting.Manager,
	gate *alerting.Gate,
	cache *telemetrycache.Cache,
	comm *devicecomm.Comm,
	notifier scada.Notifier,
	clk clock.Clock,
	logger *slog.Logger,
) *Processor {
	return &Processor{
		cfg:       cfg,
		telemetry: telemetry,
		reports:   reports,
		alerts:    alerts,
		gate:      gate,
		cache:     cache,
		comm:      comm,
		notifier:  notifier,
		clk:       clk,
		logger:    logger,
	}
}

// Process runs the full pipeline for one validated reading.
// Params: ctx for cancellation and reading to process.
// Returns: joined step errors; partial failure does not stop later steps.
func (p *Processor) Process(ctx context.Context, reading domain.TelemetryReading) error {
	var stepErrs []error

	if err := p.telemetry.PutReading(ctx, reading); err != nil {
		p.logger.Error("persist reading failed", "device_id", reading.DeviceID, "error", err.Error())
		stepErrs = append(stepErrs, fmt.Errorf("persist reading: %w", err))
	}

	p.comm.UpdateLastTelemetry(reading)

	if err := p.notifier.SendTelemetry(ctx, reading); err != nil {
		p.logger.Warn("scada telemetry forward failed", "device_id", reading.DeviceID, "error", err.Error())
	}

	if err := p.evaluateAlerts(ctx, reading); err != nil {
		stepErrs = append(stepErrs, err)
	}

	p.cache.Add(reading)

	return errors.Join(stepErrs...)
}

// evaluateAlerts applies threshold rules behind the per-device debounce gate.
// The gate advances only when at least one alert was emitted.
// Params: ctx for cancellation and reading to evaluate.
// Returns: first alert persistence error.
func (p *Processor) evaluateAlerts(ctx context.Context, reading domain.TelemetryReading) error {
	if !p.gate.Allow(reading.DeviceID) {
		return nil
	}

	candidates := alerting.Evaluate(reading, p.cfg.Thresholds)
	if len(candidates) == 0 {
		return nil
	}

	var stepErrs []error
	emitted := 0
	for _, candidate := range candidates {
		candidate.Timestamp = reading.Timestamp
		created, err := p.alerts.Create(ctx, candidate)
		if err != nil {
			p.logger.Error("create alert failed",
				"device_id", reading.DeviceID, "type", string(candidate.Type), "error", err.Error())
			stepErrs = append(stepErrs, err)
			continue
		}
		emitted++
		if err := p.notifier.SendAlert(ctx, created); err != nil {
			p.logger.Warn("scada alert forward failed", "alert_id", created.AlertID, "error", err.Error())
		}
	}
	if emitted > 0 {
		p.gate.MarkEmitted(reading.DeviceID)
	}
	return errors.Join(stepErrs...)
}

// ProcessBatch processes readings concurrently, bounded by max_concurrent.
// A failing reading never cancels its siblings; every reading runs to
// completion and all failures are reported together.
// Params: ctx for cancellation and readings batch.
// Returns: joined errors from all failed readings.
func (p *Processor) ProcessBatch(ctx context.Context, readings []domain.TelemetryReading) error {
	var group errgroup.Group
	limit := p.cfg.MaxConcurrent
	if limit < 1 {
		limit = 1
	}
	group.SetLimit(limit)

	var (
		mu       sync.Mutex
		stepErrs []error
	)
	for _, reading := range readings {
		reading := reading
		group.Go(func() error {
			if err := p.Process(ctx, reading); err != nil {
				mu.Lock()
				stepErrs = append(stepErrs, fmt.Errorf("device %s: %w", reading.DeviceID, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = group.Wait()
	return errors.Join(stepErrs...)
}

// History returns readings for a device within [start, end], cache first.
// Params: ctx for cancellation, device ID, and inclusive time bounds.
// Returns: newest-first readings or range validation error.
func (p *Processor) History(ctx context.Context, deviceID string, start, end time.Time) ([]domain.TelemetryReading, error) {
	if end.Before(start) {
		return nil, fmt.Errorf("invalid range: end %s before start %s", end, start)
	}

	if cached := p.cache.Range(deviceID, start, end); len(cached) > 0 {
		return cached, nil
	}

	readings, err := p.telemetry.ReadingsInRange(ctx, deviceID, start, end)
	if err != nil {
		return nil, fmt.Errorf("read history for device %s: %w", deviceID, err)
	}
	return readings, nil
}

// QualityReport aggregates the device's recent window into a compliance report.
// Contaminant findings are tiered on the average quality score.
// Params: ctx for cancellation and device ID.
// Returns: persisted report or error when no recent telemetry exists.
func (p *Processor) QualityReport(ctx context.Context, deviceID string) (domain.WaterQualityReport, error) {
	end := p.clk.Now()
	start := end.Add(-p.cfg.HistoryWindow())

	readings, err := p.History(ctx, deviceID, start, end)
	if err != nil {
		return domain.WaterQualityReport{}, err
	}
	if len(readings) == 0 {
		return domain.WaterQualityReport{}, fmt.Errorf("no recent telemetry for device %s", deviceID)
	}

	var sum float64
	latest := readings[0]
	for _, reading := range readings {
		sum += reading.Quality
		if reading.Timestamp.After(latest.Timestamp) {
			latest = reading
		}
	}
	avgQuality := sum / float64(len(readings))

	report := domain.WaterQualityReport{
		ReportID:       uuid.NewString(),
		DeviceID:       deviceID,
		Timestamp:      end,
		OverallQuality: avgQuality,
		Temperature:    latest.Temperature,
		SampleCount:    len(readings),
		Contaminants:   contaminantsForQuality(avgQuality),
		MeetsStandards: avgQuality >= p.cfg.Thresholds.WaterQuality,
	}

	if err := p.reports.PutReport(ctx, report); err != nil {
		return domain.WaterQualityReport{}, fmt.Errorf("persist quality report: %w", err)
	}
	p.logger.Info("quality report generated",
		"device_id", deviceID,
		"samples", report.SampleCount,
		"avg_quality", report.OverallQuality,
		"compliant", report.MeetsStandards)
	return report, nil
}

// contaminantsForQuality maps an average quality score to detected contaminants.
// Params: avgQuality score in [0, 100].
// Returns: contaminant findings, worst tiers cumulative.
func contaminantsForQuality(avgQuality float64) []domain.Contaminant {
	var found []domain.Contaminant
	if avgQuality < 95 {
		found = append(found, domain.NewContaminant("Total Coliform", 2.5, "cfu/100mL", 5.0))
	}
	if avgQuality < 85 {
		found = append(found, domain.NewContaminant("Lead", 0.011, "mg/L", 0.015))
	}
	if avgQuality < 70 {
		found = append(found, domain.NewContaminant("Nitrates", 11.5, "mg/L", 10.0))
	}
	return found
}

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"waterops/internal/alerting"
	"waterops/internal/clock"
	"waterops/internal/config"
	"waterops/internal/devicecomm"
	"waterops/internal/domain"
	"waterops/internal/flood"
	"waterops/internal/ingest"
	"waterops/internal/logging"
	"waterops/internal/processing"
	"waterops/internal/scada"
	"waterops/internal/store"
	"waterops/internal/telemetrycache"
)

// Service composes runtime dependencies and process lifecycle.
// Params: config source and shared runtime components.
// Returns: runnable telemetry service.
type Service struct {
	source    config.ConfigSource
	cfg       config.Config
	logger    *slog.Logger
	closeLog  func()
	st        store.Store
	cache     *telemetrycache.Cache
	gate      *alerting.Gate
	alerts    *alerting.Manager
	comm      *devicecomm.Comm
	monitor   *devicecomm.Monitor
	floods    *flood.Engine
	notifier  scada.Notifier
	httpSrv   *http.Server
	natsSub   interface{ Close() error }
	readyFlag atomic.Bool
	clk       clock.Clock

	mu        sync.RWMutex
	processor *processing.Processor
}

// NewService builds a service instance from a config source.
// Params: config source and clock implementation.
// Returns: initialized service or setup error.
func NewService(source config.ConfigSource, clk clock.Clock) (*Service, error) {
	cfg, err := config.LoadSnapshot(source)
	if err != nil {
		return nil, err
	}

	logger, closeLog, err := logging.New(cfg.Log)
	if err != nil {
		return nil, err
	}

	st, err := buildStore(cfg)
	if err != nil {
		closeLog()
		return nil, err
	}

	notifier := buildNotifier(cfg.Scada, logger)
	alerts := alerting.NewManager(st, clk, logger)
	gate := alerting.NewGate(clk, cfg.Processing.DebouncePeriod())
	cache := telemetrycache.New(cfg.Processing.CacheCapacity)
	comm := devicecomm.New(notifier, clk, time.Duration(cfg.Service.OfflineAfterSec)*time.Second)
	monitor := devicecomm.NewMonitor(comm, alerts, logger)
	floods := flood.NewEngine(clk, notifier, logger)

	service := &Service{
		source:   source,
		cfg:      cfg,
		logger:   logger,
		closeLog: closeLog,
		st:       st,
		cache:    cache,
		gate:     gate,
		alerts:   alerts,
		comm:     comm,
		monitor:  monitor,
		floods:   floods,
		notifier: notifier,
		clk:      clk,
	}
	service.processor = service.buildProcessor(cfg.Processing, gate)

	if err := service.buildHTTPServer(); err != nil {
		service.cleanupInitResources()
		return nil, err
	}
	if err := service.buildNATSSubscriber(); err != nil {
		service.cleanupInitResources()
		return nil, err
	}

	return service, nil
}

// Run starts the service lifecycle and blocks until a shutdown signal.
// Params: root context for service runtime.
// Returns: terminal run error.
func (s *Service) Run(ctx context.Context) error {
	shutdownCtx, shutdownCancel := context.WithCancel(ctx)
	defer shutdownCancel()

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("http server starting", "listen", s.cfg.Ingest.HTTP.Listen)
		err := s.httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	scanInterval := time.Duration(s.cfg.Service.OfflineScanSec) * time.Second
	go s.monitor.Run(shutdownCtx, scanInterval)

	if s.cfg.Service.ReloadEnabled {
		reloadInterval := time.Duration(s.cfg.Service.ReloadIntervalSec) * time.Second
		reloadTicker := time.NewTicker(reloadInterval)
		defer reloadTicker.Stop()
		go func() {
			for {
				select {
				case <-shutdownCtx.Done():
					return
				case <-reloadTicker.C:
					if err := s.reloadConfig(); err != nil {
						s.logger.Error("reload failed", "error", err.Error())
					}
				}
			}
		}()
	}

	s.readyFlag.Store(true)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case <-ctx.Done():
		return s.shutdown()
	case err := <-errChan:
		_ = s.shutdown()
		return fmt.Errorf("http server failed: %w", err)
	case <-sigChan:
		return s.shutdown()
	}
}

// Process forwards one reading to the current processor.
// Params: ctx for cancellation and validated reading.
// Returns: pipeline error.
func (s *Service) Process(ctx context.Context, reading domain.TelemetryReading) error {
	return s.currentProcessor().Process(ctx, reading)
}

// ProcessBatch forwards one batch to the current processor.
// Params: ctx for cancellation and validated readings.
// Returns: joined pipeline errors.
func (s *Service) ProcessBatch(ctx context.Context, readings []domain.TelemetryReading) error {
	return s.currentProcessor().ProcessBatch(ctx, readings)
}

// Processor returns the current telemetry processor.
// Params: none.
// Returns: active processor snapshot.
func (s *Service) Processor() *processing.Processor {
	return s.currentProcessor()
}

// Floods returns the flood lifecycle engine.
// Params: none.
// Returns: flood engine handle.
func (s *Service) Floods() *flood.Engine {
	return s.floods
}

// Alerts returns the alert manager.
// Params: none.
// Returns: alert manager handle.
func (s *Service) Alerts() *alerting.Manager {
	return s.alerts
}

// Comm returns the device communication tracker.
// Params: none.
// Returns: device comm handle.
func (s *Service) Comm() *devicecomm.Comm {
	return s.comm
}

// currentProcessor reads the processor under the swap lock.
// Params: none.
// Returns: active processor.
func (s *Service) currentProcessor() *processing.Processor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.processor
}

// buildProcessor wires one processor over the shared collaborators.
// Params: processing config snapshot and debounce gate.
// Returns: initialized processor.
func (s *Service) buildProcessor(cfg config.ProcessingConfig, gate *alerting.Gate) *processing.Processor {
	return processing.New(cfg, s.st, s.st, s.alerts, gate, s.cache, s.comm, s.notifier, s.clk, s.logger)
}

// shutdown closes runtime resources in dependency order.
// Params: none.
// Returns: first close error.
func (s *Service) shutdown() error {
	s.readyFlag.Store(false)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var firstErr error
	markErr := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("http shutdown failed", "error", err.Error())
		markErr(fmt.Errorf("http shutdown: %w", err))
	}
	if s.natsSub != nil {
		if err := s.natsSub.Close(); err != nil {
			s.logger.Error("nats subscriber close failed", "error", err.Error())
			markErr(fmt.Errorf("nats subscriber close: %w", err))
		}
	}
	if err := s.st.Close(); err != nil {
		s.logger.Error("store close failed", "error", err.Error())
		markErr(fmt.Errorf("store close: %w", err))
	}
	if s.closeLog != nil {
		s.closeLog()
	}
	return firstErr
}

// cleanupInitResources closes partially initialized resources on startup failures.
// Params: none.
// Returns: all acquired resources closed best-effort.
func (s *Service) cleanupInitResources() {
	if s.natsSub != nil {
		_ = s.natsSub.Close()
		s.natsSub = nil
	}
	if s.httpSrv != nil {
		_ = s.httpSrv.Close()
		s.httpSrv = nil
	}
	if s.st != nil {
		_ = s.st.Close()
		s.st = nil
	}
	if s.closeLog != nil {
		s.closeLog()
		s.closeLog = nil
	}
}

// buildHTTPServer wires the router with ingest and health endpoints.
// Params: none.
// Returns: setup error.
func (s *Service) buildHTTPServer() error {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.Ingest.HTTP.HealthPath, func(writer http.ResponseWriter, _ *http.Request) {
		writer.WriteHeader(http.StatusOK)
		_, _ = writer.Write([]byte("ok"))
	})
	mux.HandleFunc(s.cfg.Ingest.HTTP.ReadyPath, func(writer http.ResponseWriter, _ *http.Request) {
		if !s.readyFlag.Load() {
			writer.WriteHeader(http.StatusServiceUnavailable)
			_, _ = writer.Write([]byte("not-ready"))
			return
		}
		writer.WriteHeader(http.StatusOK)
		_, _ = writer.Write([]byte("ready"))
	})

	if s.cfg.Ingest.HTTP.Enabled {
		handler := ingest.NewHTTPHandler(s, s.clk, s.cfg.Processing.SkewTolerance(), s.cfg.Ingest.HTTP.MaxBodyBytes)
		mux.Handle(s.cfg.Ingest.HTTP.IngestPath, handler)
		batchPath := strings.TrimSuffix(s.cfg.Ingest.HTTP.IngestPath, "/") + "/batch"
		if batchPath != s.cfg.Ingest.HTTP.IngestPath {
			mux.Handle(batchPath, handler)
		}
	}

	s.httpSrv = &http.Server{
		Addr:              s.cfg.Ingest.HTTP.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return nil
}

// buildNATSSubscriber starts NATS ingest when enabled.
// Params: none.
// Returns: initialization error.
func (s *Service) buildNATSSubscriber() error {
	if isSingleMode(s.cfg) {
		return nil
	}
	if !s.cfg.Ingest.NATS.Enabled {
		return nil
	}
	subscriber, err := ingest.NewNATSSubscriber(
		s.cfg.Ingest.NATS, s, s.clk, s.cfg.Processing.SkewTolerance(), s.logger)
	if err != nil {
		return err
	}
	s.natsSub = subscriber
	return nil
}

// reloadConfig applies a new snapshot; processing settings hot-swap,
// mode/storage/scada/ingest changes require a restart.
// Params: none.
// Returns: reload or apply error.
func (s *Service) reloadConfig() error {
	nextCfg, err := config.LoadSnapshot(s.source)
	if err != nil {
		return err
	}
	if isSingleMode(nextCfg) != isSingleMode(s.cfg) {
		return fmt.Errorf("service.mode change requires restart")
	}
	if !reflect.DeepEqual(nextCfg.Storage, s.cfg.Storage) {
		return fmt.Errorf("storage change requires restart")
	}
	if nextCfg.Scada != s.cfg.Scada {
		return fmt.Errorf("scada change requires restart")
	}
	if !reflect.DeepEqual(nextCfg.Ingest, s.cfg.Ingest) {
		return fmt.Errorf("ingest change requires restart")
	}
	if reflect.DeepEqual(nextCfg.Processing, s.cfg.Processing) {
		return nil
	}

	gate := s.gate
	if nextCfg.Processing.DebouncePeriodSec != s.cfg.Processing.DebouncePeriodSec {
		gate = alerting.NewGate(s.clk, nextCfg.Processing.DebouncePeriod())
	}
	next := s.buildProcessor(nextCfg.Processing, gate)

	s.mu.Lock()
	s.gate = gate
	s.processor = next
	s.cfg = nextCfg
	s.mu.Unlock()
	s.logger.Info("configuration reloaded")
	return nil
}

// buildNotifier selects mock or live SCADA transport.
// Params: scada config and logger.
// Returns: configured notifier.
func buildNotifier(cfg config.ScadaConfig, logger *slog.Logger) scada.Notifier {
	if cfg.Mock {
		return scada.NewMockNotifier(logger)
	}
	return scada.NewHTTPNotifier(cfg, logger)
}

// buildStore creates the runtime persistence backend from config.
// Params: root config snapshot.
// Returns: selected store backend.
func buildStore(cfg config.Config) (store.Store, error) {
	if isSingleMode(cfg) {
		return store.NewMemoryStore(), nil
	}
	return store.NewNATSStore(cfg.Storage)
}

func isSingleMode(cfg config.Config) bool {
	return config.NormalizeServiceMode(cfg.Service.Mode) == config.ServiceModeSingle
}

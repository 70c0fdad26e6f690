package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	defaultHTTPListen         = ":8080"
	defaultHealthPath         = "/healthz"
	defaultReadyPath          = "/readyz"
	defaultIngestPath         = "/telemetry"
	defaultNATSURL            = "nats://127.0.0.1:4222"
	defaultNATSIngestStream   = "WATEROPS_TELEMETRY"
	defaultNATSIngestSubject  = "waterops.telemetry"
	defaultNATSIngestConsumer = "waterops-ingest"
	defaultNATSIngestGroup    = "waterops-workers"
	defaultNATSAckWaitSec     = 30
	defaultNATSNackDelayMS    = 1000
	defaultNATSMaxDeliver     = -1
	defaultNATSMaxAckPending  = 2048
	defaultTelemetryBucket    = "telemetry"
	defaultAlertBucket        = "alerts"
	defaultReportBucket       = "reports"
	defaultReloadSeconds      = 5
	defaultOfflineScanSec     = 900
	defaultOfflineAfterSec    = 3600
	defaultMaxConcurrent      = 10
	defaultCacheCapacity      = 100
	defaultDebounceSec        = 600
	defaultSkewToleranceSec   = 300
	defaultHistoryWindowHours = 24
	defaultHighPressure       = 100.0
	defaultLowPressure        = 10.0
	defaultQualityThreshold   = 50.0
	defaultBatteryThreshold   = 15.0
	defaultScadaTimeoutSec    = 30
	defaultScadaRetryCount    = 3

	// ServiceModeNATS keeps NATS-backed storage/ingest settings.
	ServiceModeNATS = "nats"
	// ServiceModeSingle keeps single-instance mode without NATS dependencies.
	ServiceModeSingle = "single"
)

// Config holds service runtime settings for the telemetry pipeline.
// Params: TOML sections from one file or a merged directory snapshot.
// Returns: validated runtime configuration.
type Config struct {
	Service    ServiceConfig    `toml:"service"`
	Log        LogConfig        `toml:"log"`
	Ingest     IngestConfig     `toml:"ingest"`
	Storage    StorageConfig    `toml:"storage"`
	Processing ProcessingConfig `toml:"processing"`
	Scada      ScadaConfig      `toml:"scada"`
}

// ServiceConfig contains process-level settings.
// Params: name, storage mode, reload, and offline-monitor timers.
// Returns: service behavior defaults.
type ServiceConfig struct {
	Name              string `toml:"name"`
	Mode              string `toml:"mode"`
	ReloadEnabled     bool   `toml:"reload_enabled"`
	ReloadIntervalSec int    `toml:"reload_interval_sec"`
	OfflineScanSec    int    `toml:"offline_scan_interval_sec"`
	OfflineAfterSec   int    `toml:"offline_after_sec"`
}

// LogConfig selects log sinks.
// Params: console and file sink settings.
// Returns: logging behavior for the process.
type LogConfig struct {
	Console LogSinkConfig `toml:"console"`
	File    LogSinkConfig `toml:"file"`
}

// LogSinkConfig configures one log sink.
// Params: enable flag, level, format, and file path for file sinks.
// Returns: sink behavior.
type LogSinkConfig struct {
	Enabled bool   `toml:"enabled"`
	Level   string `toml:"level"`
	Format  string `toml:"format"`
	Path    string `toml:"path"`
}

// IngestConfig defines inbound reading interfaces.
// Params: embedded HTTP and NATS subscription controls.
// Returns: ingestion runtime options.
type IngestConfig struct {
	HTTP HTTPIngestConfig `toml:"http"`
	NATS NATSIngestConfig `toml:"nats"`
}

// HTTPIngestConfig configures the HTTP reading ingestion endpoint.
// Params: enable flag, listen/endpoints, and optional body size limit.
// Returns: HTTP ingest behavior.
type HTTPIngestConfig struct {
	Enabled      bool   `toml:"enabled"`
	Listen       string `toml:"listen"`
	HealthPath   string `toml:"health_path"`
	ReadyPath    string `toml:"ready_path"`
	IngestPath   string `toml:"ingest_path"`
	MaxBodyBytes int64  `toml:"max_body_bytes"`
}

// NATSIngestConfig configures JetStream queue-consumer ingestion.
// Params: connection, stream routing, and worker/ack/redelivery policy.
// Returns: NATS ingest behavior.
type NATSIngestConfig struct {
	Enabled       bool     `toml:"enabled"`
	URL           []string `toml:"url"`
	Stream        string   `toml:"stream"`
	Subject       string   `toml:"subject"`
	ConsumerName  string   `toml:"consumer_name"`
	DeliverGroup  string   `toml:"deliver_group"`
	AckWaitSec    int      `toml:"ack_wait_sec"`
	NackDelayMS   int      `toml:"nack_delay_ms"`
	MaxDeliver    int      `toml:"max_deliver"`
	MaxAckPending int      `toml:"max_ack_pending"`
}

// StorageConfig configures the persistent store backend.
// Params: NATS KV connection and bucket names for each entity kind.
// Returns: storage behavior for nats mode.
type StorageConfig struct {
	URL                []string `toml:"url"`
	TelemetryBucket    string   `toml:"telemetry_bucket"`
	AlertBucket        string   `toml:"alert_bucket"`
	ReportBucket       string   `toml:"report_bucket"`
	AllowCreateBuckets bool     `toml:"allow_create_buckets"`
}

// ProcessingConfig tunes the ingestion coordinator and alert rules.
// Params: throttle, cache, debounce, skew, and threshold settings.
// Returns: processing behavior.
type ProcessingConfig struct {
	MaxConcurrent      int              `toml:"max_concurrent"`
	CacheCapacity      int              `toml:"cache_capacity"`
	DebouncePeriodSec  int              `toml:"debounce_period_sec"`
	SkewToleranceSec   int              `toml:"skew_tolerance_sec"`
	HistoryWindowHours int              `toml:"history_window_hours"`
	Thresholds         ThresholdsConfig `toml:"thresholds"`
}

// ThresholdsConfig carries numeric alert rule thresholds.
// Params: pressure band, quality minimum, and battery minimum.
// Returns: evaluator thresholds.
type ThresholdsConfig struct {
	HighPressure float64 `toml:"high_pressure"`
	LowPressure  float64 `toml:"low_pressure"`
	WaterQuality float64 `toml:"water_quality"`
	BatteryLow   float64 `toml:"battery_low"`
}

// ScadaConfig configures the supervisory outbound channel.
// Params: base URL, per-payload endpoints, auth, timeout, and retry policy.
// Returns: SCADA client behavior.
type ScadaConfig struct {
	BaseURL           string `toml:"base_url"`
	TelemetryEndpoint string `toml:"telemetry_endpoint"`
	AlertEndpoint     string `toml:"alert_endpoint"`
	ValveEndpoint     string `toml:"valve_endpoint"`
	FloodEndpoint     string `toml:"flood_endpoint"`
	APIKey            string `toml:"api_key"`
	TimeoutSec        int    `toml:"timeout_sec"`
	RetryCount        int    `toml:"retry_count"`
	Mock              bool   `toml:"mock"`
}

// ConfigSource identifies one config file or directory of fragments.
// Params: exactly one of file/dir paths.
// Returns: reusable source for load and reload.
type ConfigSource struct {
	FilePath string
	DirPath  string
}

// FromCLI builds a config source from CLI flags.
// Params: file path and directory path flag values.
// Returns: validated source or flag-usage error.
func FromCLI(filePath, dirPath string) (ConfigSource, error) {
	filePath = strings.TrimSpace(filePath)
	dirPath = strings.TrimSpace(dirPath)
	if (filePath == "") == (dirPath == "") {
		return ConfigSource{}, errors.New("exactly one of --config-file or --config-dir is required")
	}
	return ConfigSource{FilePath: filePath, DirPath: dirPath}, nil
}

// LoadSnapshot reads, merges, and validates one config snapshot.
// Params: config source from CLI.
// Returns: validated config or load/validation error.
func LoadSnapshot(src ConfigSource) (Config, error) {
	var (
		cfg Config
		err error
	)
	if src.FilePath != "" {
		cfg, err = loadFile(src.FilePath)
	} else {
		cfg, err = loadDir(src.DirPath)
	}
	if err != nil {
		return Config{}, err
	}
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DebouncePeriod returns the effective alert cool-down window.
// Params: processing config section.
// Returns: debounce duration.
func (p ProcessingConfig) DebouncePeriod() time.Duration {
	return time.Duration(p.DebouncePeriodSec) * time.Second
}

// SkewTolerance returns the tolerated future timestamp skew.
// Params: processing config section.
// Returns: skew duration (0 disables the check).
func (p ProcessingConfig) SkewTolerance() time.Duration {
	return time.Duration(p.SkewToleranceSec) * time.Second
}

// HistoryWindow returns the quality-report aggregation window.
// Params: processing config section.
// Returns: lookback duration.
func (p ProcessingConfig) HistoryWindow() time.Duration {
	return time.Duration(p.HistoryWindowHours) * time.Hour
}

// Timeout returns the per-call SCADA request timeout.
// Params: scada config section.
// Returns: timeout duration.
func (s ScadaConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSec) * time.Second
}

// loadFile decodes one TOML file into a config snapshot.
// Params: file path.
// Returns: decoded config or read/decode error.
func loadFile(path string) (Config, error) {
	var cfg Config
	if err := decodeInto(path, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// loadDir decodes all *.toml fragments in lexical order, later overlaying earlier.
// Params: directory path.
// Returns: merged config or read/decode error.
func loadDir(dir string) (Config, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Config{}, fmt.Errorf("read config dir %q: %w", dir, err)
	}
	paths := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".toml") {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	if len(paths) == 0 {
		return Config{}, fmt.Errorf("config dir %q contains no .toml files", dir)
	}
	sort.Strings(paths)

	var cfg Config
	for _, path := range paths {
		if err := decodeInto(path, &cfg); err != nil {
			return Config{}, err
		}
	}
	return cfg, nil
}

// decodeInto overlays one TOML document over an existing snapshot.
// Params: file path and mutable config pointer.
// Returns: read or strict-decode error.
func decodeInto(path string, cfg *Config) error {
	body, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %q: %w", path, err)
	}
	decoder := toml.NewDecoder(strings.NewReader(string(body)))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(cfg); err != nil {
		return fmt.Errorf("decode config %q: %w", path, err)
	}
	return nil
}

// applyDefaults fills zero-valued fields with service defaults.
// Params: mutable config pointer.
// Returns: config updated in place.
func applyDefaults(cfg *Config) {
	if cfg.Service.Name == "" {
		cfg.Service.Name = "waterops"
	}
	if cfg.Service.Mode == "" {
		cfg.Service.Mode = ServiceModeSingle
	}
	cfg.Service.Mode = NormalizeServiceMode(cfg.Service.Mode)
	if cfg.Service.ReloadIntervalSec <= 0 {
		cfg.Service.ReloadIntervalSec = defaultReloadSeconds
	}
	if cfg.Service.OfflineScanSec <= 0 {
		cfg.Service.OfflineScanSec = defaultOfflineScanSec
	}
	if cfg.Service.OfflineAfterSec <= 0 {
		cfg.Service.OfflineAfterSec = defaultOfflineAfterSec
	}

	if !cfg.Log.Console.Enabled && !cfg.Log.File.Enabled {
		cfg.Log.Console.Enabled = true
	}
	if cfg.Log.Console.Level == "" {
		cfg.Log.Console.Level = "info"
	}
	if cfg.Log.Console.Format == "" {
		cfg.Log.Console.Format = "line"
	}
	if cfg.Log.File.Level == "" {
		cfg.Log.File.Level = "info"
	}
	if cfg.Log.File.Format == "" {
		cfg.Log.File.Format = "json"
	}

	if cfg.Ingest.HTTP.Listen == "" {
		cfg.Ingest.HTTP.Listen = defaultHTTPListen
	}
	if cfg.Ingest.HTTP.HealthPath == "" {
		cfg.Ingest.HTTP.HealthPath = defaultHealthPath
	}
	if cfg.Ingest.HTTP.ReadyPath == "" {
		cfg.Ingest.HTTP.ReadyPath = defaultReadyPath
	}
	if cfg.Ingest.HTTP.IngestPath == "" {
		cfg.Ingest.HTTP.IngestPath = defaultIngestPath
	}
	if cfg.Ingest.HTTP.MaxBodyBytes <= 0 {
		cfg.Ingest.HTTP.MaxBodyBytes = 1 << 20
	}

	if len(cfg.Ingest.NATS.URL) == 0 {
		cfg.Ingest.NATS.URL = []string{defaultNATSURL}
	}
	if cfg.Ingest.NATS.Stream == "" {
		cfg.Ingest.NATS.Stream = defaultNATSIngestStream
	}
	if cfg.Ingest.NATS.Subject == "" {
		cfg.Ingest.NATS.Subject = defaultNATSIngestSubject
	}
	if cfg.Ingest.NATS.ConsumerName == "" {
		cfg.Ingest.NATS.ConsumerName = defaultNATSIngestConsumer
	}
	if cfg.Ingest.NATS.DeliverGroup == "" {
		cfg.Ingest.NATS.DeliverGroup = defaultNATSIngestGroup
	}
	if cfg.Ingest.NATS.AckWaitSec <= 0 {
		cfg.Ingest.NATS.AckWaitSec = defaultNATSAckWaitSec
	}
	if cfg.Ingest.NATS.NackDelayMS <= 0 {
		cfg.Ingest.NATS.NackDelayMS = defaultNATSNackDelayMS
	}
	if cfg.Ingest.NATS.MaxDeliver == 0 {
		cfg.Ingest.NATS.MaxDeliver = defaultNATSMaxDeliver
	}
	if cfg.Ingest.NATS.MaxAckPending <= 0 {
		cfg.Ingest.NATS.MaxAckPending = defaultNATSMaxAckPending
	}

	if len(cfg.Storage.URL) == 0 {
		cfg.Storage.URL = []string{defaultNATSURL}
	}
	if cfg.Storage.TelemetryBucket == "" {
		cfg.Storage.TelemetryBucket = defaultTelemetryBucket
	}
	if cfg.Storage.AlertBucket == "" {
		cfg.Storage.AlertBucket = defaultAlertBucket
	}
	if cfg.Storage.ReportBucket == "" {
		cfg.Storage.ReportBucket = defaultReportBucket
	}

	if cfg.Processing.MaxConcurrent <= 0 {
		cfg.Processing.MaxConcurrent = defaultMaxConcurrent
	}
	if cfg.Processing.CacheCapacity <= 0 {
		cfg.Processing.CacheCapacity = defaultCacheCapacity
	}
	if cfg.Processing.DebouncePeriodSec <= 0 {
		cfg.Processing.DebouncePeriodSec = defaultDebounceSec
	}
	if cfg.Processing.SkewToleranceSec == 0 {
		cfg.Processing.SkewToleranceSec = defaultSkewToleranceSec
	}
	if cfg.Processing.HistoryWindowHours <= 0 {
		cfg.Processing.HistoryWindowHours = defaultHistoryWindowHours
	}
	if cfg.Processing.Thresholds.HighPressure == 0 {
		cfg.Processing.Thresholds.HighPressure = defaultHighPressure
	}
	if cfg.Processing.Thresholds.LowPressure == 0 {
		cfg.Processing.Thresholds.LowPressure = defaultLowPressure
	}
	if cfg.Processing.Thresholds.WaterQuality == 0 {
		cfg.Processing.Thresholds.WaterQuality = defaultQualityThreshold
	}
	if cfg.Processing.Thresholds.BatteryLow == 0 {
		cfg.Processing.Thresholds.BatteryLow = defaultBatteryThreshold
	}

	if cfg.Scada.TelemetryEndpoint == "" {
		cfg.Scada.TelemetryEndpoint = "telemetry"
	}
	if cfg.Scada.AlertEndpoint == "" {
		cfg.Scada.AlertEndpoint = "alert"
	}
	if cfg.Scada.ValveEndpoint == "" {
		cfg.Scada.ValveEndpoint = "valve"
	}
	if cfg.Scada.FloodEndpoint == "" {
		cfg.Scada.FloodEndpoint = "flood"
	}
	if cfg.Scada.TimeoutSec <= 0 {
		cfg.Scada.TimeoutSec = defaultScadaTimeoutSec
	}
	if cfg.Scada.RetryCount <= 0 {
		cfg.Scada.RetryCount = defaultScadaRetryCount
	}
}

// NormalizeServiceMode canonicalizes the service mode value.
// Params: raw mode string from config.
// Returns: lower-case trimmed mode.
func NormalizeServiceMode(mode string) string {
	return strings.ToLower(strings.TrimSpace(mode))
}

// validateConfig checks cross-field constraints after defaults are applied.
// Params: config snapshot.
// Returns: first validation error.
func validateConfig(cfg Config) error {
	switch cfg.Service.Mode {
	case ServiceModeSingle, ServiceModeNATS:
	default:
		return fmt.Errorf("service.mode must be %q or %q, got %q", ServiceModeSingle, ServiceModeNATS, cfg.Service.Mode)
	}

	if cfg.Log.File.Enabled && strings.TrimSpace(cfg.Log.File.Path) == "" {
		return errors.New("log.file.path is required when file sink is enabled")
	}

	t := cfg.Processing.Thresholds
	if t.LowPressure >= t.HighPressure {
		return fmt.Errorf("processing.thresholds.low_pressure %v must be below high_pressure %v", t.LowPressure, t.HighPressure)
	}
	if t.WaterQuality <= 0 || t.WaterQuality > 100 {
		return fmt.Errorf("processing.thresholds.water_quality %v out of range (0,100]", t.WaterQuality)
	}
	if t.BatteryLow <= 0 || t.BatteryLow > 100 {
		return fmt.Errorf("processing.thresholds.battery_low %v out of range (0,100]", t.BatteryLow)
	}

	if !cfg.Scada.Mock && strings.TrimSpace(cfg.Scada.BaseURL) == "" {
		return errors.New("scada.base_url is required when mock mode is off")
	}

	if cfg.Ingest.NATS.Enabled && cfg.Service.Mode == ServiceModeSingle {
		return errors.New("ingest.nats requires service.mode = \"nats\"")
	}

	return nil
}

package scada

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"waterops/internal/config"
	"waterops/internal/domain"
	"waterops/internal/permanent"
)

// HTTPNotifier posts pipeline events to SCADA REST endpoints with retries.
// Params: endpoint routing from config, shared HTTP client, and sleep hook.
// Returns: Notifier implementation over HTTP.
type HTTPNotifier struct {
	cfg    config.ScadaConfig
	client *http.Client
	logger *slog.Logger

	// sleep is replaceable in tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewHTTPNotifier creates an HTTP SCADA notifier.
// Params: cfg transport settings and logger sink.
// Returns: initialized notifier.
func NewHTTPNotifier(cfg config.ScadaConfig, logger *slog.Logger) *HTTPNotifier {
	return &HTTPNotifier{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout()},
		logger: logger,
		sleep:  sleepWithContext,
	}
}

// sleepWithContext waits for d or until ctx is done.
// Params: ctx for cancellation and d wait duration.
// Returns: ctx error when cancelled during wait.
func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SendTelemetry forwards one reading to the telemetry endpoint.
// Params: ctx for cancellation and reading payload.
// Returns: transport error after retries.
func (n *HTTPNotifier) SendTelemetry(ctx context.Context, reading domain.TelemetryReading) error {
	return n.post(ctx, n.cfg.TelemetryEndpoint, reading)
}

// SendAlert forwards one alert to the alert endpoint.
// Params: ctx for cancellation and alert payload.
// Returns: transport error after retries.
func (n *HTTPNotifier) SendAlert(ctx context.Context, alert domain.Alert) error {
	return n.post(ctx, n.cfg.AlertEndpoint, alert)
}

// SendFloodEvent forwards one flood event to the flood endpoint.
// Params: ctx for cancellation and event payload.
// Returns: transport error after retries.
func (n *HTTPNotifier) SendFloodEvent(ctx context.Context, event domain.FloodEvent) error {
	return n.post(ctx, n.cfg.FloodEndpoint, event)
}

// SendValveCommand forwards one valve command to the valve endpoint.
// Params: ctx for cancellation and command payload.
// Returns: transport error after retries.
func (n *HTTPNotifier) SendValveCommand(ctx context.Context, command domain.ValveCommand) error {
	return n.post(ctx, n.cfg.ValveEndpoint, command)
}

// post delivers one JSON payload with exponential backoff retries.
// Backoff doubles per attempt: 2s, 4s, 8s.
// Params: ctx for cancellation, endpoint path, and payload to encode.
// Returns: nil on first 2xx or final error after all attempts.
func (n *HTTPNotifier) post(ctx context.Context, endpoint string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode scada payload: %w", err)
	}

	attempts := n.cfg.RetryCount
	if attempts < 1 {
		attempts = 1
	}
	target := strings.TrimRight(n.cfg.BaseURL, "/") + endpoint

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = n.postOnce(ctx, target, body)
		if lastErr == nil {
			if attempt > 1 {
				n.logger.Info("scada send recovered", "endpoint", endpoint, "attempt", attempt)
			}
			return nil
		}
		n.logger.Warn("scada send attempt failed",
			"endpoint", endpoint, "attempt", attempt, "error", lastErr.Error())

		if permanent.Is(lastErr) {
			return fmt.Errorf("scada send to %s rejected: %w", endpoint, lastErr)
		}
		if attempt == attempts {
			break
		}
		backoff := time.Duration(1<<uint(attempt)) * time.Second
		if err := n.sleep(ctx, backoff); err != nil {
			return err
		}
	}
	return fmt.Errorf("scada send to %s failed after %d attempts: %w", endpoint, attempts, lastErr)
}

// postOnce performs one HTTP POST and checks the status.
// Params: ctx for cancellation, target absolute URL, and encoded body.
// Returns: transport or non-2xx status error.
func (n *HTTPNotifier) postOnce(ctx context.Context, target string, body []byte) error {
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build scada request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	if n.cfg.APIKey != "" {
		request.Header.Set("X-API-Key", n.cfg.APIKey)
	}

	response, err := n.client.Do(request)
	if err != nil {
		return fmt.Errorf("scada send: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		rawBody, _ := io.ReadAll(response.Body)
		trimmed := strings.TrimSpace(string(rawBody))
		statusErr := fmt.Errorf("scada status=%d", response.StatusCode)
		if trimmed != "" {
			statusErr = fmt.Errorf("scada status=%d body=%s", response.StatusCode, trimmed)
		}
		// 4xx responses will not heal on retry.
		if response.StatusCode >= 400 && response.StatusCode < 500 {
			return permanent.Mark(statusErr)
		}
		return statusErr
	}
	return nil
}

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"waterops/internal/config"
	"waterops/internal/domain"

	"github.com/nats-io/nats.go"
)

// NATSStore persists telemetry, alerts, and reports in JetStream KV buckets.
// Params: NATS connection, JetStream context, and per-payload KV handles.
// Returns: KV-backed store implementation.
type NATSStore struct {
	nc          *nats.Conn
	js          nats.JetStreamContext
	telemetryKV nats.KeyValue
	alertKV     nats.KeyValue
	reportKV    nats.KeyValue
	settings    config.StorageConfig
}

// NewNATSStore connects to NATS, opens the KV buckets, and returns the store.
// Params: storage settings from config.
// Returns: initialized NATS store or setup error.
func NewNATSStore(settings config.StorageConfig) (*NATSStore, error) {
	nc, err := nats.Connect(strings.Join(settings.URL, ","))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	telemetryKV, err := openBucket(js, settings.TelemetryBucket, settings.AllowCreateBuckets)
	if err != nil {
		nc.Close()
		return nil, err
	}
	alertKV, err := openBucket(js, settings.AlertBucket, settings.AllowCreateBuckets)
	if err != nil {
		nc.Close()
		return nil, err
	}
	reportKV, err := openBucket(js, settings.ReportBucket, settings.AllowCreateBuckets)
	if err != nil {
		nc.Close()
		return nil, err
	}

	return &NATSStore{
		nc:          nc,
		js:          js,
		telemetryKV: telemetryKV,
		alertKV:     alertKV,
		reportKV:    reportKV,
		settings:    settings,
	}, nil
}

// openBucket opens one KV bucket, creating it when allowed.
// Params: JetStream context, bucket name, and create permission.
// Returns: KV handle or open error.
func openBucket(js nats.JetStreamContext, bucket string, allowCreate bool) (nats.KeyValue, error) {
	kv, err := js.KeyValue(bucket)
	if err == nil {
		return kv, nil
	}
	if !allowCreate {
		return nil, fmt.Errorf("open bucket %q: %w", bucket, err)
	}
	kv, err = js.CreateKeyValue(&nats.KeyValueConfig{Bucket: bucket})
	if err != nil {
		return nil, fmt.Errorf("create bucket %q: %w", bucket, err)
	}
	return kv, nil
}

// telemetryKey builds the KV key for one reading.
// Params: device ID and reading timestamp.
// Returns: device/<id>/<unix-ms> key.
func telemetryKey(deviceID string, at time.Time) string {
	return "device/" + deviceID + "/" + strconv.FormatInt(at.UnixMilli(), 10)
}

// PutReading writes one reading under its device/timestamp key.
// Params: reading with device ID and timestamp set.
// Returns: encode or KV write error.
func (s *NATSStore) PutReading(_ context.Context, reading domain.TelemetryReading) error {
	body, err := json.Marshal(reading)
	if err != nil {
		return fmt.Errorf("encode reading: %w", err)
	}
	if _, err := s.telemetryKV.Put(telemetryKey(reading.DeviceID, reading.Timestamp), body); err != nil {
		return fmt.Errorf("put reading: %w", err)
	}
	return nil
}

// ReadingsInRange scans one device's keys and returns readings within [start, end], newest first.
// Params: device ID and inclusive time bounds.
// Returns: matching readings or scan error.
func (s *NATSStore) ReadingsInRange(_ context.Context, deviceID string, start, end time.Time) ([]domain.TelemetryReading, error) {
	keys, err := s.telemetryKV.Keys()
	if err != nil {
		if errors.Is(err, nats.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list telemetry keys: %w", err)
	}

	prefix := "device/" + deviceID + "/"
	out := make([]domain.TelemetryReading, 0)
	for _, key := range keys {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		unixMS, err := strconv.ParseInt(strings.TrimPrefix(key, prefix), 10, 64)
		if err != nil {
			continue
		}
		at := time.UnixMilli(unixMS).UTC()
		if at.Before(start) || at.After(end) {
			continue
		}
		entry, err := s.telemetryKV.Get(key)
		if err != nil {
			if err == nats.ErrKeyNotFound {
				continue
			}
			return nil, fmt.Errorf("get reading: %w", err)
		}
		var reading domain.TelemetryReading
		if err := json.Unmarshal(entry.Value(), &reading); err != nil {
			return nil, fmt.Errorf("decode reading: %w", err)
		}
		out = append(out, reading)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out, nil
}

// PutAlert writes one alert keyed by its ID.
// Params: alert record with ID set.
// Returns: encode or KV write error.
func (s *NATSStore) PutAlert(_ context.Context, alert domain.Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("encode alert: %w", err)
	}
	if _, err := s.alertKV.Put(alert.AlertID, body); err != nil {
		return fmt.Errorf("put alert: %w", err)
	}
	return nil
}

// GetAlert reads one alert and its KV revision.
// Params: alert ID key.
// Returns: alert record, revision, or ErrNotFound.
func (s *NATSStore) GetAlert(_ context.Context, alertID string) (domain.Alert, uint64, error) {
	entry, err := s.alertKV.Get(alertID)
	if err != nil {
		if err == nats.ErrKeyNotFound {
			return domain.Alert{}, 0, ErrNotFound
		}
		return domain.Alert{}, 0, fmt.Errorf("get alert: %w", err)
	}

	var alert domain.Alert
	if err := json.Unmarshal(entry.Value(), &alert); err != nil {
		return domain.Alert{}, 0, fmt.Errorf("decode alert: %w", err)
	}
	return alert, entry.Revision(), nil
}

// UpdateAlert replaces one alert using expected revision CAS.
// Params: alert ID key, expected revision, and replacement record.
// Returns: new KV revision or ErrConflict.
func (s *NATSStore) UpdateAlert(_ context.Context, alertID string, expectedRevision uint64, alert domain.Alert) (uint64, error) {
	body, err := json.Marshal(alert)
	if err != nil {
		return 0, fmt.Errorf("encode alert: %w", err)
	}
	rev, err := s.alertKV.Update(alertID, body, expectedRevision)
	if err != nil {
		if errors.Is(err, nats.ErrKeyExists) || strings.Contains(strings.ToLower(err.Error()), "wrong last sequence") {
			return 0, ErrConflict
		}
		return 0, fmt.Errorf("update alert: %w", err)
	}
	return rev, nil
}

// ActiveAlerts lists alerts that have not been acknowledged.
// Params: none.
// Returns: unacknowledged alerts, newest first.
func (s *NATSStore) ActiveAlerts(ctx context.Context) ([]domain.Alert, error) {
	return s.scanAlerts(ctx, func(alert domain.Alert) bool {
		return !alert.Acknowledged
	})
}

// AlertsByDevice lists alerts raised for one device.
// Params: device ID.
// Returns: matching alerts, newest first.
func (s *NATSStore) AlertsByDevice(ctx context.Context, deviceID string) ([]domain.Alert, error) {
	return s.scanAlerts(ctx, func(alert domain.Alert) bool {
		return alert.DeviceID == deviceID
	})
}

// AlertsByType lists alerts of one type.
// Params: alert type.
// Returns: matching alerts, newest first.
func (s *NATSStore) AlertsByType(ctx context.Context, alertType domain.AlertType) ([]domain.Alert, error) {
	return s.scanAlerts(ctx, func(alert domain.Alert) bool {
		return alert.Type == alertType
	})
}

// AlertsInRange lists alerts raised within [start, end].
// Params: inclusive time bounds.
// Returns: matching alerts, newest first.
func (s *NATSStore) AlertsInRange(ctx context.Context, start, end time.Time) ([]domain.Alert, error) {
	return s.scanAlerts(ctx, func(alert domain.Alert) bool {
		return !alert.Timestamp.Before(start) && !alert.Timestamp.After(end)
	})
}

// scanAlerts decodes every alert key and keeps matches, newest first.
// Params: keep predicate.
// Returns: sorted matching alerts or scan error.
func (s *NATSStore) scanAlerts(_ context.Context, keep func(domain.Alert) bool) ([]domain.Alert, error) {
	keys, err := s.alertKV.Keys()
	if err != nil {
		if errors.Is(err, nats.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list alert keys: %w", err)
	}

	out := make([]domain.Alert, 0)
	for _, key := range keys {
		entry, err := s.alertKV.Get(key)
		if err != nil {
			if err == nats.ErrKeyNotFound {
				continue
			}
			return nil, fmt.Errorf("get alert: %w", err)
		}
		var alert domain.Alert
		if err := json.Unmarshal(entry.Value(), &alert); err != nil {
			return nil, fmt.Errorf("decode alert: %w", err)
		}
		if keep(alert) {
			out = append(out, alert)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out, nil
}

// PutReport writes one quality report keyed by its ID.
// Params: report with ID set.
// Returns: encode or KV write error.
func (s *NATSStore) PutReport(_ context.Context, report domain.WaterQualityReport) error {
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	if _, err := s.reportKV.Put(report.ReportID, body); err != nil {
		return fmt.Errorf("put report: %w", err)
	}
	return nil
}

// Close closes the underlying NATS connection.
// Params: none.
// Returns: nil after connection close.
func (s *NATSStore) Close() error {
	s.nc.Close()
	return nil
}

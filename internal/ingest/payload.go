package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/kiranshivaraju/tracerelay/internal/jsoncodec"
	"github.com/kiranshivaraju/tracerelay/internal/relay"
)

// Timestamp accepts an RFC 3339 string or a Unix epoch number. Epoch values above 1e12 are
// read as milliseconds, anything smaller as seconds. Fractions are kept down to the
// nanosecond. Times outside the DateTime64 range ClickHouse stores are rejected.
type Timestamp struct {
	time.Time
}

var (
	minTimestamp = time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)
	maxTimestamp = time.Date(2299, 12, 31, 23, 59, 59, 999_999_999, time.UTC)
)

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		return nil
	}
	var parsed time.Time
	if b[0] == '"' {
		var s string
		if err := jsoncodec.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			return nil
		}
		p, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("parse timestamp %q: %w", s, err)
		}
		parsed = p.UTC()
	} else {
		f, err := strconv.ParseFloat(string(b), 64)
		if err != nil {
			return fmt.Errorf("parse timestamp %s: %w", b, err)
		}
		parsed, err = epochTime(f)
		if err != nil {
			return fmt.Errorf("parse timestamp %s: %w", b, err)
		}
	}
	if parsed.Before(minTimestamp) || parsed.After(maxTimestamp) {
		return fmt.Errorf("timestamp %s outside %d-%d", parsed.Format(time.RFC3339), minTimestamp.Year(), maxTimestamp.Year())
	}
	t.Time = parsed
	return nil
}

// epochTime converts seconds or milliseconds since the epoch. Values outside the storable
// range are rejected before conversion so they cannot wrap around int64.
func epochTime(f float64) (time.Time, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return time.Time{}, fmt.Errorf("not a finite number")
	}
	secs := f
	if f > 1e12 {
		secs = f / 1e3
	}
	if secs < float64(minTimestamp.Unix()) || secs >= float64(maxTimestamp.Unix()+1) {
		return time.Time{}, fmt.Errorf("outside %d-%d", minTimestamp.Year(), maxTimestamp.Year())
	}
	whole, frac := math.Modf(f)
	if f > 1e12 {
		return time.UnixMilli(int64(whole)).Add(time.Duration(math.Round(frac * 1e6))).UTC(), nil
	}
	return time.Unix(int64(whole), int64(math.Round(frac*1e9))).UTC(), nil
}

type logPayload struct {
	Message   string          `json:"message"`
	Timestamp Timestamp       `json:"timestamp"`
	Unix      int64           `json:"unix"`
	Level     string          `json:"level"`
	Resources json.RawMessage `json:"resources"`
}

type metricPayload struct {
	Name      string    `json:"name"`
	Value     float64   `json:"value"`
	Timestamp Timestamp `json:"timestamp"`
}

type spanPayload struct {
	TraceID         string          `json:"traceId"`
	SpanID          string          `json:"spanId"`
	ParentSpanID    string          `json:"parentSpanId"`
	Name            string          `json:"name"`
	Kind            string          `json:"kind"`
	Status          string          `json:"status"`
	StatusMessage   string          `json:"statusMessage"`
	ServiceName     string          `json:"serviceName"`
	StartEpochNanos int64           `json:"startEpochNanos"`
	EndEpochNanos   int64           `json:"endEpochNanos"`
	Attributes      json.RawMessage `json:"attributes"`
}

type performancePayload struct {
	Name      string          `json:"name"`
	Value     float64         `json:"value"`
	Unit      string          `json:"unit"`
	Event     string          `json:"event"`
	Health    string          `json:"health"`
	Pathname  string          `json:"pathname"`
	Browser   json.RawMessage `json:"browser"`
	Timestamp Timestamp       `json:"timestamp"`
}

// decodeBatch decodes a JSON array of records. Anything else is malformed.
func decodeBatch[T any](route string, raw []byte) ([]T, error) {
	var out []T
	if err := jsoncodec.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w: %v", route, relay.ErrMalformedPayload, err)
	}
	return out, nil
}

func rawString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return "{}"
	}
	return string(raw)
}

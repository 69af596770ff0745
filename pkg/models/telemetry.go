package models

import (
	"time"

	"github.com/google/uuid"
)

// LogRecord is a single log line stored in the columnar store. Rows are append-only.
type LogRecord struct {
	ID               uuid.UUID `ch:"id"                json:"id"`
	ApplicationID    uuid.UUID `ch:"application_id"    json:"application_id"`
	Message          string    `ch:"message"           json:"message"`
	Timestamp        time.Time `ch:"timestamp"         json:"timestamp"`
	ReceiveTimestamp time.Time `ch:"receive_timestamp" json:"receive_timestamp"`
	PreciseTimestamp int64     `ch:"precise_timestamp" json:"precise_timestamp"`
	Level            string    `ch:"level"             json:"level"`
	Resources        string    `ch:"resources"         json:"resources"`
}

// MetricSample is one named numeric observation.
type MetricSample struct {
	ID            uuid.UUID `ch:"id"             json:"id"`
	ApplicationID uuid.UUID `ch:"application_id" json:"application_id"`
	Name          string    `ch:"name"           json:"name"`
	Value         float64   `ch:"value"          json:"value"`
	Timestamp     time.Time `ch:"timestamp"      json:"timestamp"`
}

// Span is a single tracing span reported by an SDK.
type Span struct {
	ID               uuid.UUID `ch:"id"                json:"id"`
	ApplicationID    uuid.UUID `ch:"application_id"    json:"application_id"`
	TraceID          string    `ch:"trace_id"          json:"trace_id"`
	SpanID           string    `ch:"span_id"           json:"span_id"`
	ParentSpanID     string    `ch:"parent_span_id"    json:"parent_span_id"`
	Name             string    `ch:"name"              json:"name"`
	Kind             string    `ch:"kind"              json:"kind"`
	Status           string    `ch:"status"            json:"status"`
	StatusMessage    string    `ch:"status_message"    json:"status_message"`
	ServiceName      string    `ch:"service_name"      json:"service_name"`
	StartEpochNanos  int64     `ch:"start_epoch_nanos" json:"start_epoch_nanos"`
	EndEpochNanos    int64     `ch:"end_epoch_nanos"   json:"end_epoch_nanos"`
	Duration         float64   `ch:"duration"          json:"duration"`
	Attributes       string    `ch:"attributes"        json:"attributes"`
	ReceiveTimestamp time.Time `ch:"receive_timestamp" json:"receive_timestamp"`
}

// PerformanceSample is a browser web-vital measurement (LCP, FID, CLS, ...).
type PerformanceSample struct {
	ID               uuid.UUID `ch:"id"                json:"id"`
	ApplicationID    uuid.UUID `ch:"application_id"    json:"application_id"`
	Name             string    `ch:"name"              json:"name"`
	Value            float64   `ch:"value"             json:"value"`
	Unit             string    `ch:"unit"              json:"unit"`
	Event            string    `ch:"event"             json:"event"`
	Health           string    `ch:"health"            json:"health"`
	Pathname         string    `ch:"pathname"          json:"pathname"`
	Browser          string    `ch:"browser"           json:"browser"`
	Timestamp        time.Time `ch:"timestamp"         json:"timestamp"`
	ReceiveTimestamp time.Time `ch:"receive_timestamp" json:"receive_timestamp"`
}

// Package ingest turns log, metric, span and web-vital batches into columnar rows.
package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/tracerelay/pkg/models"
)

// Sink performs one all-or-nothing bulk insert per call.
type Sink interface {
	InsertLogs(ctx context.Context, rows []models.LogRecord) error
	InsertMetrics(ctx context.Context, rows []models.MetricSample) error
	InsertSpans(ctx context.Context, rows []models.Span) error
	InsertPerformance(ctx context.Context, rows []models.PerformanceSample) error
}

type Option func(*Writer)

// WithClock replaces time.Now for receive timestamps.
func WithClock(now func() time.Time) Option {
	return func(w *Writer) { w.now = now }
}

// Writer stamps rows with an id and a receive time and hands each batch to the sink.
// Rows are never deduplicated; a redelivered batch is written again.
type Writer struct {
	sink Sink
	now  func() time.Time
}

// NewWriter creates a new Writer.
func NewWriter(sink Sink, opts ...Option) *Writer {
	w := &Writer{sink: sink, now: time.Now}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Writer) receiveTime() time.Time {
	return w.now().UTC().Truncate(time.Millisecond)
}

// WriteLogs inserts records for appID and returns how many were accepted.
func (w *Writer) WriteLogs(ctx context.Context, appID uuid.UUID, records []models.LogRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	received := w.receiveTime()
	rows := make([]models.LogRecord, len(records))
	for i, r := range records {
		r.ID = uuid.New()
		r.ApplicationID = appID
		r.ReceiveTimestamp = received
		if r.Timestamp.IsZero() {
			r.Timestamp = received
		}
		rows[i] = r
	}
	if err := w.sink.InsertLogs(ctx, rows); err != nil {
		return 0, fmt.Errorf("insert logs: %w", err)
	}
	return len(rows), nil
}

// WriteMetrics inserts samples for appID. Samples without a timestamp take the receive time.
func (w *Writer) WriteMetrics(ctx context.Context, appID uuid.UUID, samples []models.MetricSample) (int, error) {
	if len(samples) == 0 {
		return 0, nil
	}
	received := w.receiveTime()
	rows := make([]models.MetricSample, len(samples))
	for i, s := range samples {
		s.ID = uuid.New()
		s.ApplicationID = appID
		if s.Timestamp.IsZero() {
			s.Timestamp = received
		}
		rows[i] = s
	}
	if err := w.sink.InsertMetrics(ctx, rows); err != nil {
		return 0, fmt.Errorf("insert metrics: %w", err)
	}
	return len(rows), nil
}

func (w *Writer) WriteSpans(ctx context.Context, appID uuid.UUID, spans []models.Span) (int, error) {
	if len(spans) == 0 {
		return 0, nil
	}
	received := w.receiveTime()
	rows := make([]models.Span, len(spans))
	for i, s := range spans {
		s.ID = uuid.New()
		s.ApplicationID = appID
		s.ReceiveTimestamp = received
		if s.Duration == 0 && s.EndEpochNanos > s.StartEpochNanos {
			s.Duration = float64(s.EndEpochNanos-s.StartEpochNanos) / float64(time.Millisecond)
		}
		rows[i] = s
	}
	if err := w.sink.InsertSpans(ctx, rows); err != nil {
		return 0, fmt.Errorf("insert spans: %w", err)
	}
	return len(rows), nil
}

func (w *Writer) WritePerformance(ctx context.Context, appID uuid.UUID, samples []models.PerformanceSample) (int, error) {
	if len(samples) == 0 {
		return 0, nil
	}
	received := w.receiveTime()
	rows := make([]models.PerformanceSample, len(samples))
	for i, s := range samples {
		s.ID = uuid.New()
		s.ApplicationID = appID
		s.ReceiveTimestamp = received
		if s.Timestamp.IsZero() {
			s.Timestamp = received
		}
		rows[i] = s
	}
	if err := w.sink.InsertPerformance(ctx, rows); err != nil {
		return 0, fmt.Errorf("insert performance: %w", err)
	}
	return len(rows), nil
}

func logInserted(route string, env models.Envelope, n int) {
	slog.Debug("batch inserted", "route", route, "project_id", env.ProjectID, "rows", n)
}

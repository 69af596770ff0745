package ingest

import (
	"bytes"
	"context"
	"fmt"

	"github.com/kiranshivaraju/tracerelay/internal/jsoncodec"
	"github.com/kiranshivaraju/tracerelay/internal/relay"
	"github.com/kiranshivaraju/tracerelay/pkg/models"
)

// HandleLogs decodes a logs envelope and writes it.
func (w *Writer) HandleLogs(ctx context.Context, env models.Envelope) error {
	batch, err := decodeBatch[logPayload]("logs", env.Payload)
	if err != nil {
		return err
	}
	records := make([]models.LogRecord, len(batch))
	for i, l := range batch {
		records[i] = models.LogRecord{
			Message:          l.Message,
			Timestamp:        l.Timestamp.Time,
			PreciseTimestamp: l.Unix,
			Level:            l.Level,
			Resources:        rawString(l.Resources),
		}
	}
	n, err := w.WriteLogs(ctx, env.ProjectID, records)
	if err != nil {
		return err
	}
	logInserted("logs", env, n)
	return nil
}

// HandleMetrics accepts either an array of {name, value, timestamp} samples or a nested
// object whose numeric leaves become samples named by their dotted path.
func (w *Writer) HandleMetrics(ctx context.Context, env models.Envelope) error {
	var samples []models.MetricSample

	switch firstByte(env.Payload) {
	case '[':
		batch, err := decodeBatch[metricPayload]("metrics", env.Payload)
		if err != nil {
			return err
		}
		samples = make([]models.MetricSample, 0, len(batch))
		for _, m := range batch {
			if m.Name == "" {
				continue
			}
			samples = append(samples, models.MetricSample{Name: m.Name, Value: m.Value, Timestamp: m.Timestamp.Time})
		}
	case '{':
		var obj map[string]any
		if err := jsoncodec.Unmarshal(env.Payload, &obj); err != nil {
			return fmt.Errorf("decode metrics payload: %w: %v", relay.ErrMalformedPayload, err)
		}
		for _, nv := range flatten(obj) {
			samples = append(samples, models.MetricSample{Name: nv.name, Value: nv.value})
		}
	default:
		return fmt.Errorf("decode metrics payload: %w: expected array or object", relay.ErrMalformedPayload)
	}

	n, err := w.WriteMetrics(ctx, env.ProjectID, samples)
	if err != nil {
		return err
	}
	logInserted("metrics", env, n)
	return nil
}

func (w *Writer) HandleSpans(ctx context.Context, env models.Envelope) error {
	batch, err := decodeBatch[spanPayload]("tracing", env.Payload)
	if err != nil {
		return err
	}
	spans := make([]models.Span, len(batch))
	for i, s := range batch {
		spans[i] = models.Span{
			TraceID:         s.TraceID,
			SpanID:          s.SpanID,
			ParentSpanID:    s.ParentSpanID,
			Name:            s.Name,
			Kind:            s.Kind,
			Status:          s.Status,
			StatusMessage:   s.StatusMessage,
			ServiceName:     s.ServiceName,
			StartEpochNanos: s.StartEpochNanos,
			EndEpochNanos:   s.EndEpochNanos,
			Attributes:      rawString(s.Attributes),
		}
	}
	n, err := w.WriteSpans(ctx, env.ProjectID, spans)
	if err != nil {
		return err
	}
	logInserted("tracing", env, n)
	return nil
}

func (w *Writer) HandlePerformance(ctx context.Context, env models.Envelope) error {
	batch, err := decodeBatch[performancePayload]("browser-performance", env.Payload)
	if err != nil {
		return err
	}
	samples := make([]models.PerformanceSample, len(batch))
	for i, p := range batch {
		samples[i] = models.PerformanceSample{
			Name:      p.Name,
			Value:     p.Value,
			Unit:      p.Unit,
			Event:     p.Event,
			Health:    p.Health,
			Pathname:  p.Pathname,
			Browser:   rawString(p.Browser),
			Timestamp: p.Timestamp.Time,
		}
	}
	n, err := w.WritePerformance(ctx, env.ProjectID, samples)
	if err != nil {
		return err
	}
	logInserted("browser-performance", env, n)
	return nil
}

func firstByte(raw []byte) byte {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return 0
	}
	return trimmed[0]
}

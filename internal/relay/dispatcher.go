// Package relay consumes routed envelopes from the broker and hands each one to the
// handler registered for its topic.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/kiranshivaraju/tracerelay/internal/jsoncodec"
	"github.com/kiranshivaraju/tracerelay/internal/routing"
	"github.com/kiranshivaraju/tracerelay/internal/store"
	"github.com/kiranshivaraju/tracerelay/pkg/models"
)

// ErrMalformedPayload marks a message that can never be processed. It is acked and dropped.
var ErrMalformedPayload = errors.New("malformed payload")

// Handler processes one envelope. Returning nil acks the message. ErrMalformedPayload,
// store.ErrInvalidData and store.ErrNotFound also ack it; any other error nacks it for
// redelivery.
type Handler interface {
	Handle(ctx context.Context, env models.Envelope) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, env models.Envelope) error

func (f HandlerFunc) Handle(ctx context.Context, env models.Envelope) error {
	return f(ctx, env)
}

const defaultDrainTimeout = 30 * time.Second

// Dispatcher maps topics to handlers and classifies handler results.
type Dispatcher struct {
	handlers     map[string]Handler
	metrics      *Metrics
	tracer       trace.Tracer
	drainTimeout time.Duration
}

type Option func(*Dispatcher)

// WithDrainTimeout bounds how long a handler may keep running once the consumer starts
// shutting down. It should match the router's close timeout.
func WithDrainTimeout(d time.Duration) Option {
	return func(disp *Dispatcher) {
		if d > 0 {
			disp.drainTimeout = d
		}
	}
}

// NewDispatcher creates an empty Dispatcher. metrics may be nil.
func NewDispatcher(m *Metrics, opts ...Option) *Dispatcher {
	if m == nil {
		m = NewMetrics(nil)
	}
	d := &Dispatcher{
		handlers:     make(map[string]Handler),
		metrics:      m,
		tracer:       otel.Tracer("github.com/kiranshivaraju/tracerelay/internal/relay"),
		drainTimeout: defaultDrainTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register binds h to the topic of kind. Registration happens before Attach and is not
// safe to call concurrently with message processing.
func (d *Dispatcher) Register(kind routing.Kind, h Handler) error {
	topic, ok := routing.Topic(kind)
	if !ok {
		return fmt.Errorf("register handler: unknown route kind %q", kind)
	}
	if _, dup := d.handlers[topic]; dup {
		return fmt.Errorf("register handler: topic %s already has a handler", topic)
	}
	d.handlers[topic] = h
	return nil
}

// Topics lists the topics that have a handler.
func (d *Dispatcher) Topics() []string {
	topics := make([]string, 0, len(d.handlers))
	for _, k := range routing.Kinds() {
		t, _ := routing.Topic(k)
		if _, ok := d.handlers[t]; ok {
			topics = append(topics, t)
		}
	}
	return topics
}

// Attach adds one consumer handler per registered topic to r.
func (d *Dispatcher) Attach(r *message.Router, sub message.Subscriber) {
	for _, topic := range d.Topics() {
		r.AddNoPublisherHandler("relay."+topic, topic, sub, func(msg *message.Message) error {
			return d.Process(topic, msg)
		})
	}
}

// Process decodes msg and runs the topic's handler synchronously. A nil return means ack.
func (d *Dispatcher) Process(topic string, msg *message.Message) error {
	start := time.Now()
	ctx, span := d.tracer.Start(msg.Context(), "relay.process",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.destination", topic),
			attribute.String("messaging.message_id", msg.UUID),
		))
	defer span.End()

	hctx, release := d.handlerContext(ctx)
	defer release()

	outcome, err := d.process(hctx, topic, msg)
	span.SetAttributes(attribute.String("relay.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	d.metrics.observe(topic, outcome, time.Since(start).Seconds())
	return err
}

// handlerContext detaches the handler from the subscription's cancellation, which fires as
// soon as the consumer starts closing. An in-flight handler gets drainTimeout after that
// before its context is cancelled.
func (d *Dispatcher) handlerContext(ctx context.Context) (context.Context, context.CancelFunc) {
	hctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(ctx, func() {
		timer := time.NewTimer(d.drainTimeout)
		defer timer.Stop()
		select {
		case <-timer.C:
			cancel()
		case <-hctx.Done():
		}
	})
	return hctx, func() {
		stop()
		cancel()
	}
}

func (d *Dispatcher) process(ctx context.Context, topic string, msg *message.Message) (string, error) {
	h, ok := d.handlers[topic]
	if !ok {
		slog.Error("no handler for topic", "topic", topic, "message_uuid", msg.UUID)
		return OutcomeDropped, nil
	}

	var env models.Envelope
	if err := jsoncodec.Unmarshal(msg.Payload, &env); err != nil {
		slog.Warn("dropping undecodable envelope", "topic", topic, "message_uuid", msg.UUID, "error", err)
		return OutcomeMalformed, nil
	}
	if env.ProjectID == uuid.Nil {
		slog.Warn("dropping envelope without project", "topic", topic, "message_uuid", msg.UUID)
		return OutcomeMalformed, nil
	}

	err := h.Handle(ctx, env)
	switch {
	case err == nil:
		return OutcomeProcessed, nil
	case errors.Is(err, ErrMalformedPayload), errors.Is(err, store.ErrInvalidData):
		slog.Warn("dropping malformed payload", "topic", topic, "message_uuid", msg.UUID,
			"project_id", env.ProjectID, "error", err)
		return OutcomeMalformed, nil
	case errors.Is(err, store.ErrNotFound):
		slog.Warn("dropping message for unknown project", "topic", topic, "message_uuid", msg.UUID,
			"project_id", env.ProjectID, "error", err)
		return OutcomeDropped, nil
	default:
		slog.Error("handler failed, message will be redelivered", "topic", topic, "message_uuid", msg.UUID,
			"project_id", env.ProjectID, "error", err)
		return OutcomeFailed, err
	}
}

package relay_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranshivaraju/tracerelay/internal/jsoncodec"
	"github.com/kiranshivaraju/tracerelay/internal/relay"
	"github.com/kiranshivaraju/tracerelay/internal/routing"
	"github.com/kiranshivaraju/tracerelay/internal/store"
	"github.com/kiranshivaraju/tracerelay/pkg/models"
)

func envelopeMessage(t *testing.T, env models.Envelope) *message.Message {
	t.Helper()
	payload, err := jsoncodec.Marshal(env)
	require.NoError(t, err)
	return message.NewMessage(watermill.NewUUID(), payload)
}

func outcomes(m *relay.Metrics, topic, outcome string) float64 {
	return testutil.ToFloat64(m.MessagesCollector().WithLabelValues(topic, outcome))
}

func TestRegister(t *testing.T) {
	d := relay.NewDispatcher(nil)
	noop := relay.HandlerFunc(func(context.Context, models.Envelope) error { return nil })

	require.NoError(t, d.Register(routing.KindLogs, noop))
	require.NoError(t, d.Register(routing.KindIncident, noop))
	assert.Error(t, d.Register(routing.KindLogs, noop), "duplicate registration")
	assert.Error(t, d.Register(routing.Kind("profiles"), noop), "unknown kind")

	assert.Equal(t, []string{"incident-event", "logs-event"}, d.Topics())
}

func TestProcess_Outcomes(t *testing.T) {
	validEnv := models.Envelope{SDK: "node", ProjectID: uuid.New(), Payload: []byte(`{}`)}

	tests := []struct {
		name       string
		payload    func(t *testing.T) *message.Message
		handlerErr error
		wantErr    bool
		wantCalled bool
		outcome    string
	}{
		{
			name:       "processed",
			payload:    func(t *testing.T) *message.Message { return envelopeMessage(t, validEnv) },
			wantCalled: true,
			outcome:    relay.OutcomeProcessed,
		},
		{
			name:    "undecodable envelope",
			payload: func(*testing.T) *message.Message { return message.NewMessage("1", []byte(`{"projectId":`)) },
			outcome: relay.OutcomeMalformed,
		},
		{
			name: "envelope without project",
			payload: func(t *testing.T) *message.Message {
				return envelopeMessage(t, models.Envelope{SDK: "node", Payload: []byte(`{}`)})
			},
			outcome: relay.OutcomeMalformed,
		},
		{
			name:       "handler reports malformed",
			payload:    func(t *testing.T) *message.Message { return envelopeMessage(t, validEnv) },
			handlerErr: fmt.Errorf("decode incident: %w", relay.ErrMalformedPayload),
			wantCalled: true,
			outcome:    relay.OutcomeMalformed,
		},
		{
			name:       "unknown project",
			payload:    func(t *testing.T) *message.Message { return envelopeMessage(t, validEnv) },
			handlerErr: fmt.Errorf("lookup project: %w", store.ErrNotFound),
			wantCalled: true,
			outcome:    relay.OutcomeDropped,
		},
		{
			name:       "store rejects data",
			payload:    func(t *testing.T) *message.Message { return envelopeMessage(t, validEnv) },
			handlerErr: fmt.Errorf("record incident: upsert incident: %w: SQLSTATE 22P05", store.ErrInvalidData),
			wantCalled: true,
			outcome:    relay.OutcomeMalformed,
		},
		{
			name:       "transient failure",
			payload:    func(t *testing.T) *message.Message { return envelopeMessage(t, validEnv) },
			handlerErr: errors.New("connection reset by peer"),
			wantErr:    true,
			wantCalled: true,
			outcome:    relay.OutcomeFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := relay.NewMetrics(prometheus.NewRegistry())
			d := relay.NewDispatcher(m)
			var called bool
			require.NoError(t, d.Register(routing.KindIncident, relay.HandlerFunc(
				func(_ context.Context, env models.Envelope) error {
					called = true
					assert.Equal(t, validEnv.ProjectID, env.ProjectID)
					return tt.handlerErr
				})))

			err := d.Process("incident-event", tt.payload(t))
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantCalled, called)
			assert.Equal(t, 1.0, outcomes(m, "incident-event", tt.outcome))
		})
	}
}

func TestProcess_UnregisteredTopicIsDropped(t *testing.T) {
	m := relay.NewMetrics(prometheus.NewRegistry())
	d := relay.NewDispatcher(m)

	err := d.Process("tracing-event", message.NewMessage("1", []byte(`{}`)))
	assert.NoError(t, err)
	assert.Equal(t, 1.0, outcomes(m, "tracing-event", relay.OutcomeDropped))
}

// runRouter starts a router over an in-memory pub/sub and returns the publisher side.
func runRouter(t *testing.T, d *relay.Dispatcher) message.Publisher {
	t.Helper()
	logger := watermill.NopLogger{}
	pubsub := gochannel.NewGoChannel(gochannel.Config{Persistent: true}, logger)

	r, err := relay.NewRouter(5*time.Second, prometheus.NewRegistry(), logger)
	require.NoError(t, err)
	d.Attach(r, pubsub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = pubsub.Close()
	})

	select {
	case <-r.Running():
	case <-time.After(5 * time.Second):
		t.Fatal("router did not start")
	}
	return pubsub
}

func TestRouter_FailedMessageIsRedelivered(t *testing.T) {
	d := relay.NewDispatcher(relay.NewMetrics(prometheus.NewRegistry()))

	var calls atomic.Int32
	delivered := make(chan struct{})
	require.NoError(t, d.Register(routing.KindLogs, relay.HandlerFunc(func(context.Context, models.Envelope) error {
		if calls.Add(1) == 1 {
			return errors.New("clickhouse unavailable")
		}
		close(delivered)
		return nil
	})))

	pub := runRouter(t, d)
	require.NoError(t, pub.Publish("logs-event", envelopeMessage(t, models.Envelope{ProjectID: uuid.New(), Payload: []byte(`[]`)})))

	select {
	case <-delivered:
	case <-time.After(5 * time.Second):
		t.Fatal("message was not redelivered")
	}
	assert.Equal(t, int32(2), calls.Load())
}

func TestRouter_MalformedMessageIsAckedOnce(t *testing.T) {
	d := relay.NewDispatcher(relay.NewMetrics(prometheus.NewRegistry()))

	var mu sync.Mutex
	var seen []string
	require.NoError(t, d.Register(routing.KindMetrics, relay.HandlerFunc(func(_ context.Context, env models.Envelope) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, env.SDK)
		if env.SDK == "bad" {
			return relay.ErrMalformedPayload
		}
		return nil
	})))

	pub := runRouter(t, d)
	projectID := uuid.New()
	require.NoError(t, pub.Publish("metrics-event",
		envelopeMessage(t, models.Envelope{SDK: "bad", ProjectID: projectID, Payload: []byte(`{}`)}),
		envelopeMessage(t, models.Envelope{SDK: "good", ProjectID: projectID, Payload: []byte(`{}`)}),
	))

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, 5*time.Second, 10*time.Millisecond)

	// Nothing else arrives: the malformed message is not redelivered.
	time.Sleep(100 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"bad", "good"}, seen)
}

func TestRouter_PanicIsRecoveredAndRetried(t *testing.T) {
	d := relay.NewDispatcher(relay.NewMetrics(prometheus.NewRegistry()))

	var calls atomic.Int32
	delivered := make(chan struct{})
	require.NoError(t, d.Register(routing.KindIncident, relay.HandlerFunc(func(context.Context, models.Envelope) error {
		if calls.Add(1) == 1 {
			panic("nil map write")
		}
		close(delivered)
		return nil
	})))

	pub := runRouter(t, d)
	require.NoError(t, pub.Publish("incident-event", envelopeMessage(t, models.Envelope{ProjectID: uuid.New(), Payload: []byte(`{}`)})))

	select {
	case <-delivered:
	case <-time.After(5 * time.Second):
		t.Fatal("message was not retried after panic")
	}
}

type ctxKey struct{}

func TestProcess_HandlerOutlivesMessageContext(t *testing.T) {
	d := relay.NewDispatcher(relay.NewMetrics(prometheus.NewRegistry()))
	var handlerErr, value any
	require.NoError(t, d.Register(routing.KindIncident, relay.HandlerFunc(func(ctx context.Context, _ models.Envelope) error {
		handlerErr = ctx.Err()
		value = ctx.Value(ctxKey{})
		return nil
	})))

	ctx, cancel := context.WithCancel(context.WithValue(context.Background(), ctxKey{}, "corr-1"))
	cancel()
	msg := envelopeMessage(t, models.Envelope{SDK: "node", ProjectID: uuid.New(), Payload: []byte(`{}`)})
	msg.SetContext(ctx)

	require.NoError(t, d.Process("incident-event", msg))
	assert.Nil(t, handlerErr, "closing the subscription must not cancel the handler")
	assert.Equal(t, "corr-1", value)
}

func TestProcess_DrainTimeoutBoundsHandler(t *testing.T) {
	m := relay.NewMetrics(prometheus.NewRegistry())
	d := relay.NewDispatcher(m, relay.WithDrainTimeout(50*time.Millisecond))
	require.NoError(t, d.Register(routing.KindLogs, relay.HandlerFunc(func(ctx context.Context, _ models.Envelope) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Second):
			return nil
		}
	})))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	msg := envelopeMessage(t, models.Envelope{SDK: "node", ProjectID: uuid.New(), Payload: []byte(`[]`)})
	msg.SetContext(ctx)

	start := time.Now()
	err := d.Process("logs-event", msg)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, 1.0, outcomes(m, "logs-event", relay.OutcomeFailed))
}

func TestRouter_ShutdownLetsInFlightHandlerFinish(t *testing.T) {
	m := relay.NewMetrics(prometheus.NewRegistry())
	d := relay.NewDispatcher(m, relay.WithDrainTimeout(5*time.Second))

	started := make(chan struct{})
	var once sync.Once
	var result atomic.Value
	require.NoError(t, d.Register(routing.KindIncident, relay.HandlerFunc(func(ctx context.Context, _ models.Envelope) error {
		once.Do(func() { close(started) })
		select {
		case <-time.After(300 * time.Millisecond):
			result.Store("completed")
			return nil
		case <-ctx.Done():
			result.Store(ctx.Err().Error())
			return ctx.Err()
		}
	})))

	logger := watermill.NopLogger{}
	pubsub := gochannel.NewGoChannel(gochannel.Config{Persistent: true}, logger)
	t.Cleanup(func() { _ = pubsub.Close() })

	r, err := relay.NewRouter(5*time.Second, prometheus.NewRegistry(), logger)
	require.NoError(t, err)
	d.Attach(r, pubsub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = r.Run(ctx)
	}()
	select {
	case <-r.Running():
	case <-time.After(5 * time.Second):
		t.Fatal("router did not start")
	}

	require.NoError(t, pubsub.Publish("incident-event",
		envelopeMessage(t, models.Envelope{SDK: "node", ProjectID: uuid.New(), Payload: []byte(`{"type":"Error"}`)})))

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("handler did not start")
	}
	cancel()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("router did not stop")
	}
	assert.Equal(t, "completed", result.Load())
	assert.Equal(t, 1.0, outcomes(m, "incident-event", relay.OutcomeProcessed))
	assert.Equal(t, 0.0, outcomes(m, "incident-event", relay.OutcomeFailed))
}

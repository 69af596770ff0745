package incident_test

import (
	"context"
	"errors"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/tracerelay/internal/incident"
	"github.com/kiranshivaraju/tracerelay/internal/jsoncodec"
	"github.com/kiranshivaraju/tracerelay/internal/relay"
	"github.com/kiranshivaraju/tracerelay/internal/routing"
	"github.com/kiranshivaraju/tracerelay/internal/store"
	"github.com/kiranshivaraju/tracerelay/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func migrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

func setupPostgres(t *testing.T) *store.PostgresStore {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("tracerelay_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, pgContainer.Terminate(ctx)) })

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, store.RunMigrations(connStr, migrationsDir()))

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return store.NewPostgresStore(pool)
}

func seedProject(t *testing.T, s *store.PostgresStore) uuid.UUID {
	t.Helper()
	id := uuid.New()
	require.NoError(t, s.CreateProject(context.Background(), &models.Project{ID: id, APIKey: "tr_" + uuid.NewString()}))
	return id
}

func TestEngine_DedupIsIdempotent(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := setupPostgres(t)
	ctx := context.Background()
	projectID := seedProject(t, s)
	e := incident.NewEngine(s)

	var incidentID uuid.UUID
	for i := 0; i < 3; i++ {
		out, err := e.Record(ctx, projectID, "node", []byte(typeError))
		require.NoError(t, err)
		assert.Equal(t, i == 0, out.Created)
		if i == 0 {
			incidentID = out.IncidentID
		}
		assert.Equal(t, incidentID, out.IncidentID)
	}

	events, err := s.ListEvents(ctx, incidentID)
	require.NoError(t, err)
	assert.Len(t, events, 3)
}

func TestEngine_ConcurrentFirstSightingsShareOneIncident(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := setupPostgres(t)
	ctx := context.Background()
	projectID := seedProject(t, s)
	e := incident.NewEngine(s)

	const n = 16
	var wg sync.WaitGroup
	ids := make([]uuid.UUID, n)
	errs := make([]error, n)
	created := make([]bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := e.Record(ctx, projectID, "node", []byte(`{"type":"RaceError","message":"same"}`))
			errs[i] = err
			if err == nil {
				ids[i] = out.IncidentID
				created[i] = out.Created
			}
		}(i)
	}
	wg.Wait()

	var creators int
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
		if created[i] {
			creators++
		}
	}
	assert.Equal(t, 1, creators)

	events, err := s.ListEvents(ctx, ids[0])
	require.NoError(t, err)
	assert.Len(t, events, n)
}

func TestEngine_LastEventAtIsMonotonic(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := setupPostgres(t)
	ctx := context.Background()
	projectID := seedProject(t, s)

	t0 := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	now := t0
	e := incident.NewEngine(s, incident.WithClock(func() time.Time { return now }))

	out, err := e.Record(ctx, projectID, "node", []byte(typeError))
	require.NoError(t, err)

	// A report processed later but stamped earlier must not pull timestamps back.
	now = t0.Add(-time.Hour)
	_, err = e.Record(ctx, projectID, "node", []byte(typeError))
	require.NoError(t, err)

	inc, err := s.GetIncident(ctx, out.IncidentID)
	require.NoError(t, err)
	assert.True(t, inc.LastEventAt.Equal(t0))

	p, err := s.GetProject(ctx, projectID)
	require.NoError(t, err)
	require.NotNil(t, p.LastEventAt)
	assert.True(t, p.LastEventAt.Equal(t0))
}

func TestEngine_UnknownProject(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := setupPostgres(t)
	e := incident.NewEngine(s)

	_, err := e.Record(context.Background(), uuid.New(), "node", []byte(typeError))
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// brokenEvents fails every event insert after the incident upsert has run.
type brokenEvents struct {
	*store.PostgresStore
}

func (b brokenEvents) InTx(ctx context.Context, fn func(store.Tx) error) error {
	return b.PostgresStore.InTx(ctx, func(tx store.Tx) error {
		return fn(brokenEventTx{tx})
	})
}

type brokenEventTx struct {
	store.Tx
}

func (brokenEventTx) CreateEvent(context.Context, *models.Event) error {
	return errors.New("event insert failed")
}

func TestEngine_FailedEventRollsBackIncident(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := setupPostgres(t)
	ctx := context.Background()
	projectID := seedProject(t, s)

	_, err := incident.NewEngine(brokenEvents{s}).Record(ctx, projectID, "node", []byte(typeError))
	require.Error(t, err)

	// The retry sees a clean slate: it is the one that creates the incident.
	out, err := incident.NewEngine(s).Record(ctx, projectID, "node", []byte(typeError))
	require.NoError(t, err)
	assert.True(t, out.Created)

	p, err := s.GetProject(ctx, projectID)
	require.NoError(t, err)
	require.NotNil(t, p.LastEventAt)
}

func TestEngine_NULInMessageIsStored(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := setupPostgres(t)
	ctx := context.Background()
	projectID := seedProject(t, s)

	out, err := incident.NewEngine(s).Record(ctx, projectID, "node", []byte(`{"type":"Error","message":"bad\u0000byte"}`))
	require.NoError(t, err)

	inc, err := s.GetIncident(ctx, out.IncidentID)
	require.NoError(t, err)
	assert.Equal(t, "badbyte", inc.Message)
}

func TestEngine_UnstorableJSONIsInvalidData(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := setupPostgres(t)
	ctx := context.Background()
	projectID := seedProject(t, s)
	e := incident.NewEngine(s)

	// jsonb rejects \u0000 with SQLSTATE 22P05.
	_, err := e.Record(ctx, projectID, "node", []byte(`{"type":"Error","message":"m","platform":{"x":"\u0000"}}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrInvalidData)

	_, err = e.Record(ctx, projectID, "browser", []byte(`{"type":"Error","message":"m","browser":{"ua":"\u0000"}}`))
	assert.ErrorIs(t, err, store.ErrInvalidData)

	p, err := s.GetProject(ctx, projectID)
	require.NoError(t, err)
	assert.Nil(t, p.LastEventAt, "rejected reports leave no trace")
}

func TestEngine_UnstorableReportIsAckedByDispatcher(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := setupPostgres(t)
	projectID := seedProject(t, s)

	m := relay.NewMetrics(prometheus.NewRegistry())
	d := relay.NewDispatcher(m)
	require.NoError(t, d.Register(routing.KindIncident, incident.NewEngine(s)))

	payload, err := jsoncodec.Marshal(models.Envelope{
		SDK:       "node",
		ProjectID: projectID,
		Payload:   []byte(`{"type":"Error","message":"m","platform":{"x":"\u0000"}}`),
	})
	require.NoError(t, err)

	require.NoError(t, d.Process("incident-event", message.NewMessage(uuid.NewString(), payload)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.MessagesCollector().WithLabelValues("incident-event", relay.OutcomeMalformed)))
}

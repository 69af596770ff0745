package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/tracerelay/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Projects ---

func (s *PostgresStore) CreateProject(ctx context.Context, p *models.Project) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO project (id, api_key, is_integrated, last_event_at) VALUES ($1, $2, $3, $4)`,
		p.ID, p.APIKey, p.IsIntegrated, p.LastEventAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create project: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetProject(ctx context.Context, id uuid.UUID) (*models.Project, error) {
	return s.getProject(ctx, `SELECT id, api_key, is_integrated, last_event_at FROM project WHERE id = $1`, id)
}

func (s *PostgresStore) GetProjectByAPIKey(ctx context.Context, apiKey string) (*models.Project, error) {
	return s.getProject(ctx, `SELECT id, api_key, is_integrated, last_event_at FROM project WHERE api_key = $1`, apiKey)
}

func (s *PostgresStore) getProject(ctx context.Context, query string, arg any) (*models.Project, error) {
	var p models.Project
	err := s.pool.QueryRow(ctx, query, arg).Scan(&p.ID, &p.APIKey, &p.IsIntegrated, &p.LastEventAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return &p, nil
}

// MarkProjectIntegrated sets is_integrated. Repeating it is a no-op.
func (s *PostgresStore) MarkProjectIntegrated(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE project SET is_integrated = TRUE WHERE id = $1 AND is_integrated = FALSE`, id)
	if err != nil {
		return fmt.Errorf("mark project integrated: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM project WHERE id = $1)`, id).Scan(&exists); err != nil {
			return fmt.Errorf("mark project integrated: %w", err)
		}
		if !exists {
			return ErrNotFound
		}
	}
	return nil
}

// --- Incidents ---

const incidentColumns = `id, application_id, name, message, stack, status, sdk, platform, traces, fingerprint, created_at, last_event_at`

func (s *PostgresStore) GetIncident(ctx context.Context, id uuid.UUID) (*models.Incident, error) {
	inc, err := scanIncident(s.pool.QueryRow(ctx,
		`SELECT `+incidentColumns+` FROM incident WHERE id = $1`, id), nil)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get incident: %w", err)
	}
	return inc, nil
}

func (s *PostgresStore) ListEvents(ctx context.Context, incidentID uuid.UUID) ([]*models.Event, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, incident_id, application_id, date, browser FROM event
		 WHERE incident_id = $1 ORDER BY date ASC, id ASC`, incidentID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []*models.Event
	for rows.Next() {
		var ev models.Event
		if err := rows.Scan(&ev.ID, &ev.IncidentID, &ev.ApplicationID, &ev.Date, &ev.Browser); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, &ev)
	}
	return events, rows.Err()
}

func scanIncident(row pgx.Row, inserted *bool) (*models.Incident, error) {
	var inc models.Incident
	dest := []any{&inc.ID, &inc.ApplicationID, &inc.Name, &inc.Message, &inc.Stack, &inc.Status,
		&inc.SDK, &inc.Platform, &inc.Traces, &inc.Fingerprint, &inc.CreatedAt, &inc.LastEventAt}
	if inserted != nil {
		dest = append(dest, inserted)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return &inc, nil
}

// --- Transactions ---

func (s *PostgresStore) InTx(ctx context.Context, fn func(Tx) error) error {
	return pgx.BeginTxFunc(ctx, s.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		return fn(&pgTx{tx: tx})
	})
}

type pgTx struct {
	tx pgx.Tx
}

// UpsertIncident relies on the (application_id, fingerprint) unique constraint so two
// concurrent first sightings resolve to one row: the loser takes the DO UPDATE branch.
// xmax is zero only for a freshly inserted tuple.
func (t *pgTx) UpsertIncident(ctx context.Context, inc *models.Incident) (*models.Incident, bool, error) {
	var inserted bool
	stored, err := scanIncident(t.tx.QueryRow(ctx,
		`INSERT INTO incident (`+incidentColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (application_id, fingerprint) DO UPDATE SET
		   last_event_at = GREATEST(incident.last_event_at, EXCLUDED.last_event_at)
		 RETURNING `+incidentColumns+`, (xmax = 0) AS inserted`,
		inc.ID, inc.ApplicationID, inc.Name, inc.Message, inc.Stack, inc.Status, inc.SDK,
		inc.Platform, inc.Traces, inc.Fingerprint, inc.CreatedAt, inc.LastEventAt,
	), &inserted)
	if err != nil {
		if isForeignKeyError(err) {
			return nil, false, ErrNotFound
		}
		if isDataException(err) {
			return nil, false, fmt.Errorf("upsert incident: %w: %v", ErrInvalidData, err)
		}
		return nil, false, fmt.Errorf("upsert incident: %w", err)
	}
	return stored, inserted, nil
}

func (t *pgTx) CreateEvent(ctx context.Context, ev *models.Event) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO event (id, incident_id, application_id, date, browser) VALUES ($1, $2, $3, $4, $5)`,
		ev.ID, ev.IncidentID, ev.ApplicationID, ev.Date, ev.Browser)
	if err != nil {
		if isForeignKeyError(err) {
			return ErrNotFound
		}
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		if isDataException(err) {
			return fmt.Errorf("create event: %w: %v", ErrInvalidData, err)
		}
		return fmt.Errorf("create event: %w", err)
	}
	return nil
}

func (t *pgTx) TouchProject(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE project SET last_event_at = GREATEST(COALESCE(last_event_at, $2), $2) WHERE id = $1`,
		id, at)
	if err != nil {
		return fmt.Errorf("touch project: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

func isForeignKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23503" // foreign_key_violation
	}
	return false
}

// isDataException reports SQLSTATE class 22: the value itself is unacceptable
// (22021 character_not_in_repertoire, 22P05 untranslatable_character, ...).
func isDataException(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return len(pgErr.Code) == 5 && pgErr.Code[:2] == "22"
	}
	return false
}

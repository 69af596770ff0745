package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/tracerelay/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// ErrInvalidData marks a value Postgres refuses to store (SQLSTATE class 22), such as a NUL
// byte in text or jsonb. Retrying the same row can never succeed.
var ErrInvalidData = errors.New("invalid data")

// Store is the data access interface. All relational operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	CreateProject(ctx context.Context, p *models.Project) error
	GetProject(ctx context.Context, id uuid.UUID) (*models.Project, error)
	GetProjectByAPIKey(ctx context.Context, apiKey string) (*models.Project, error)
	MarkProjectIntegrated(ctx context.Context, id uuid.UUID) error

	GetIncident(ctx context.Context, id uuid.UUID) (*models.Incident, error)
	ListEvents(ctx context.Context, incidentID uuid.UUID) ([]*models.Event, error)

	// InTx runs fn inside a single transaction. A nil return commits; an error or a
	// panic rolls back. The connection goes back to the pool on every path.
	InTx(ctx context.Context, fn func(Tx) error) error
}

// Tx is the set of writes the incident engine performs atomically.
type Tx interface {
	// UpsertIncident inserts the incident or, if one with the same application and
	// fingerprint exists, advances its last_event_at. The stored row is returned with
	// inserted reporting which branch ran.
	UpsertIncident(ctx context.Context, inc *models.Incident) (stored *models.Incident, inserted bool, err error)
	CreateEvent(ctx context.Context, ev *models.Event) error
	// TouchProject moves project.last_event_at forward to at. It never moves backwards.
	TouchProject(ctx context.Context, id uuid.UUID, at time.Time) error
}

// Package incident folds incoming error reports into deduplicated incidents, recording one
// event per report.
package incident

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/tracerelay/internal/store"
	"github.com/kiranshivaraju/tracerelay/pkg/models"
)

// Store is the slice of store.Store the engine needs.
type Store interface {
	GetProject(ctx context.Context, id uuid.UUID) (*models.Project, error)
	InTx(ctx context.Context, fn func(store.Tx) error) error
}

// Outcome describes what one report did.
type Outcome struct {
	IncidentID uuid.UUID
	EventID    uuid.UUID
	Created    bool
}

type Option func(*Engine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine records incident reports.
type Engine struct {
	store Store
	now   func() time.Time
}

// NewEngine creates a new Engine.
func NewEngine(s Store, opts ...Option) *Engine {
	e := &Engine{store: s, now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Handle implements relay.Handler.
func (e *Engine) Handle(ctx context.Context, env models.Envelope) error {
	_, err := e.Record(ctx, env.ProjectID, env.SDK, env.Payload)
	return err
}

// Record upserts the incident for the report's (project, type, message) and appends an
// event to it. The upsert, the event and the project timestamp commit together or not at all.
func (e *Engine) Record(ctx context.Context, projectID uuid.UUID, sdk string, raw []byte) (*Outcome, error) {
	p, err := DecodePayload(raw)
	if err != nil {
		return nil, err
	}

	if _, err := e.store.GetProject(ctx, projectID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("lookup project %s: %w", projectID, err)
		}
		return nil, fmt.Errorf("lookup project: %w", err)
	}

	now := e.now().UTC().Truncate(time.Microsecond)
	candidate := &models.Incident{
		ID:            uuid.New(),
		ApplicationID: projectID,
		Name:          p.Type,
		Message:       p.Message,
		Stack:         p.Stack,
		Status:        models.IncidentStatusUnresolved,
		SDK:           sdk,
		Platform:      p.Platform,
		Traces:        p.Traces,
		Fingerprint:   Fingerprint(p.Type, p.Message),
		CreatedAt:     now,
		LastEventAt:   now,
	}

	out := &Outcome{EventID: uuid.New()}
	err = e.store.InTx(ctx, func(tx store.Tx) error {
		stored, inserted, err := tx.UpsertIncident(ctx, candidate)
		if err != nil {
			return err
		}
		out.IncidentID = stored.ID
		out.Created = inserted

		if err := tx.CreateEvent(ctx, &models.Event{
			ID:            out.EventID,
			IncidentID:    stored.ID,
			ApplicationID: projectID,
			Date:          now,
			Browser:       p.Browser,
		}); err != nil {
			return err
		}

		return tx.TouchProject(ctx, projectID, now)
	})
	if err != nil {
		return nil, fmt.Errorf("record incident: %w", err)
	}

	if out.Created {
		slog.Info("incident created", "project_id", projectID, "incident_id", out.IncidentID, "sdk", sdk, "name", p.Type)
	} else {
		slog.Debug("incident event recorded", "project_id", projectID, "incident_id", out.IncidentID, "event_id", out.EventID)
	}
	return out, nil
}

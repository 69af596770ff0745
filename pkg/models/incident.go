package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	IncidentStatusUnresolved = "unresolved"
	IncidentStatusResolved   = "resolved"
	IncidentStatusInProgress = "in_progress"
)

// Incident is a deduplicated error, unique per (application_id, name, message).
// Fingerprint is the hex sha256 of name and message and backs the uniqueness constraint.
type Incident struct {
	ID            uuid.UUID       `db:"id"             json:"id"`
	ApplicationID uuid.UUID       `db:"application_id" json:"application_id"`
	Name          string          `db:"name"           json:"name"`
	Message       string          `db:"message"        json:"message"`
	Stack         string          `db:"stack"          json:"stack"`
	Status        string          `db:"status"         json:"status"`
	SDK           string          `db:"sdk"            json:"sdk"`
	Platform      json.RawMessage `db:"platform"       json:"platform,omitempty"`
	Traces        json.RawMessage `db:"traces"         json:"traces,omitempty"`
	Fingerprint   string          `db:"fingerprint"    json:"fingerprint"`
	CreatedAt     time.Time       `db:"created_at"     json:"created_at"`
	LastEventAt   time.Time       `db:"last_event_at"  json:"last_event_at"`
}

// Event is one occurrence of an Incident.
type Event struct {
	ID            uuid.UUID       `db:"id"             json:"id"`
	IncidentID    uuid.UUID       `db:"incident_id"    json:"incident_id"`
	ApplicationID uuid.UUID       `db:"application_id" json:"application_id"`
	Date          time.Time       `db:"date"           json:"date"`
	Browser       json.RawMessage `db:"browser"        json:"browser,omitempty"`
}

// Package models contains shared data models used across the tracerelay codebase.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Project is the tenant that owns captured telemetry. Captures are addressed to a project
// through its API key; is_integrated flips to true on the first accepted capture.
type Project struct {
	ID           uuid.UUID  `db:"id"             json:"id"`
	APIKey       string     `db:"api_key"        json:"-"`
	IsIntegrated bool       `db:"is_integrated"  json:"is_integrated"`
	LastEventAt  *time.Time `db:"last_event_at"  json:"last_event_at,omitempty"`
}

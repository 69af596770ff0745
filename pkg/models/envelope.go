package models

import (
	"encoding/json"

	"github.com/google/uuid"
)

// Envelope is the routed message published to the broker. Payload is kept raw so each
// consumer decodes the shape of its own route.
type Envelope struct {
	SDK       string          `json:"sdk"`
	ProjectID uuid.UUID       `json:"projectId"`
	Payload   json.RawMessage `json:"payload"`
}

package incident

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kiranshivaraju/tracerelay/internal/jsoncodec"
	"github.com/kiranshivaraju/tracerelay/internal/relay"
)

// Payload is the incident body an SDK sends. Type is the error class name.
type Payload struct {
	Type     string          `json:"type"`
	Message  string          `json:"message"`
	Stack    string          `json:"stack"`
	Platform json.RawMessage `json:"platform,omitempty"`
	Browser  json.RawMessage `json:"browser,omitempty"`
	Traces   json.RawMessage `json:"traces,omitempty"`
}

// DecodePayload parses raw. A body that is not an object or has no type is malformed.
// NUL characters are removed from the text fields, which Postgres cannot store.
func DecodePayload(raw []byte) (*Payload, error) {
	var p Payload
	if err := jsoncodec.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode incident payload: %w: %v", relay.ErrMalformedPayload, err)
	}
	p.Type = stripNUL(p.Type)
	p.Message = stripNUL(p.Message)
	p.Stack = stripNUL(p.Stack)
	if p.Type == "" {
		return nil, fmt.Errorf("decode incident payload: %w: type is required", relay.ErrMalformedPayload)
	}
	p.Platform = nullToNil(p.Platform)
	p.Browser = nullToNil(p.Browser)
	p.Traces = nullToNil(p.Traces)
	return &p, nil
}

func nullToNil(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return raw
}

func stripNUL(s string) string {
	if !strings.ContainsRune(s, 0) {
		return s
	}
	return strings.ReplaceAll(s, "\x00", "")
}

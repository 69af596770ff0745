// Package capture authenticates SDK captures and routes them to a broker topic.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/tracerelay/internal/cache"
	"github.com/kiranshivaraju/tracerelay/internal/jsoncodec"
	"github.com/kiranshivaraju/tracerelay/internal/routing"
	"github.com/kiranshivaraju/tracerelay/internal/store"
	"github.com/kiranshivaraju/tracerelay/pkg/models"
)

const (
	HeaderSDKKey  = "x-sdk-key"
	HeaderSDKName = "x-sdk-name"

	defaultFlipTimeout = 5 * time.Second
)

// A key is a three character prefix followed by an RFC 4122 UUID, versions 1 to 5.
var keyPattern = regexp.MustCompile(`(?i)^.{3}[0-9a-f]{8}-[0-9a-f]{4}-[1-5][0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)

// ValidKey reports whether key has the shape of an SDK key.
func ValidKey(key string) bool {
	return keyPattern.MatchString(key)
}

var knownSDKs = map[string]struct{}{
	"node":    {},
	"react":   {},
	"vue":     {},
	"angular": {},
	"browser": {},
}

// ProjectStore is the slice of store.Store the validator needs.
type ProjectStore interface {
	GetProjectByAPIKey(ctx context.Context, apiKey string) (*models.Project, error)
	MarkProjectIntegrated(ctx context.Context, id uuid.UUID) error
}

// Request is one inbound capture.
type Request struct {
	Route   string
	Payload []byte
	Header  http.Header
}

// Routed is a capture that passed validation, ready to publish.
type Routed struct {
	Kind     routing.Kind
	Topic    string
	Envelope models.Envelope
}

type Options struct {
	Demo        bool
	CacheTTL    time.Duration
	FlipTimeout time.Duration
}

// Validator turns raw captures into routed envelopes.
type Validator struct {
	store    ProjectStore
	projects *cache.ProjectCache
	opts     Options

	// tracks detached is_integrated updates so shutdown can wait for them
	pending sync.WaitGroup
}

// NewValidator creates a new Validator. With a nil cache or a zero CacheTTL every lookup
// hits the store.
func NewValidator(s ProjectStore, c cache.Cache, opts Options) *Validator {
	if opts.FlipTimeout <= 0 {
		opts.FlipTimeout = defaultFlipTimeout
	}
	return &Validator{store: s, projects: cache.NewProjectCache(c, opts.CacheTTL), opts: opts}
}

// Validate checks the route, the key and the sdk name, then resolves the owning project.
func (v *Validator) Validate(ctx context.Context, req Request) (*Routed, error) {
	if v.opts.Demo {
		return nil, ErrDemoMode
	}

	kind := routing.Kind(req.Route)
	topic, ok := routing.Topic(kind)
	if !ok {
		return nil, ErrUnknownRoute
	}

	key := req.Header.Get(HeaderSDKKey)
	if key == "" {
		return nil, ErrMissingKey
	}
	if !ValidKey(key) {
		return nil, ErrInvalidKey
	}

	sdk := req.Header.Get(HeaderSDKName)
	if sdk == "" {
		return nil, ErrMissingSDK
	}
	if _, ok := knownSDKs[sdk]; !ok {
		return nil, ErrInvalidSDK
	}

	if len(req.Payload) == 0 || !jsoncodec.Valid(req.Payload) {
		return nil, ErrInvalidPayload
	}

	project, err := v.resolve(ctx, key)
	if err != nil {
		return nil, err
	}

	if !project.IsIntegrated {
		v.markIntegrated(ctx, key, project.ID)
	}

	return &Routed{
		Kind:  kind,
		Topic: topic,
		Envelope: models.Envelope{
			SDK:       sdk,
			ProjectID: project.ID,
			Payload:   req.Payload,
		},
	}, nil
}

// Wait blocks until every detached is_integrated update has finished.
func (v *Validator) Wait() {
	v.pending.Wait()
}

func (v *Validator) resolve(ctx context.Context, key string) (*models.Project, error) {
	if p, ok := v.projects.Get(ctx, key); ok {
		return p, nil
	}

	p, err := v.store.GetProjectByAPIKey(ctx, key)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUnknownKey
	}
	if err != nil {
		return nil, fmt.Errorf("resolving project: %w", err)
	}

	v.projects.Put(ctx, key, p)
	return p, nil
}

// markIntegrated flips is_integrated without holding up the capture. The write outlives
// the request context; failures are only logged.
func (v *Validator) markIntegrated(ctx context.Context, key string, id uuid.UUID) {
	v.pending.Add(1)
	go func() {
		defer v.pending.Done()
		defer func() {
			if r := recover(); r != nil {
				slog.Error("panic in markIntegrated", "error", r, "project_id", id)
			}
		}()

		flipCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), v.opts.FlipTimeout)
		defer cancel()

		if err := v.store.MarkProjectIntegrated(flipCtx, id); err != nil {
			slog.Error("mark project integrated failed", "error", err, "project_id", id)
			return
		}
		v.projects.Evict(flipCtx, key)
	}()
}

package cache

import (
	"context"
	"log/slog"
	"time"

	"github.com/kiranshivaraju/tracerelay/internal/jsoncodec"
	"github.com/kiranshivaraju/tracerelay/pkg/models"
)

// ProjectCache stores projects resolved from SDK keys. Cache failures degrade to a miss;
// the store stays the source of truth. A nil *ProjectCache is a valid, always-missing cache.
type ProjectCache struct {
	c   Cache
	ttl time.Duration
}

// NewProjectCache returns nil when c is nil or ttl is not positive.
func NewProjectCache(c Cache, ttl time.Duration) *ProjectCache {
	if c == nil || ttl <= 0 {
		return nil
	}
	return &ProjectCache{c: c, ttl: ttl}
}

func (p *ProjectCache) Get(ctx context.Context, apiKey string) (*models.Project, bool) {
	if p == nil {
		return nil, false
	}
	raw, found, err := p.c.Get(ctx, ProjectKey(apiKey))
	if err != nil {
		slog.Warn("project cache read failed", "error", err)
		return nil, false
	}
	if !found {
		return nil, false
	}
	var proj models.Project
	if err := jsoncodec.Unmarshal(raw, &proj); err != nil {
		slog.Warn("project cache entry unreadable", "error", err)
		return nil, false
	}
	proj.APIKey = apiKey
	return &proj, true
}

func (p *ProjectCache) Put(ctx context.Context, apiKey string, proj *models.Project) {
	if p == nil {
		return
	}
	raw, err := jsoncodec.Marshal(proj)
	if err != nil {
		return
	}
	if err := p.c.Set(ctx, ProjectKey(apiKey), raw, p.ttl); err != nil {
		slog.Warn("project cache write failed", "error", err, "project_id", proj.ID)
	}
}

// Evict drops the entry so the next capture re-reads the store.
func (p *ProjectCache) Evict(ctx context.Context, apiKey string) {
	if p == nil {
		return
	}
	if err := p.c.Delete(ctx, ProjectKey(apiKey)); err != nil {
		slog.Warn("project cache evict failed", "error", err)
	}
}

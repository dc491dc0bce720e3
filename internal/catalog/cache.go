// Package catalog exposes the video price lookups the payment authorizer
// needs from the wider platform catalog.
package catalog

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/runningoffcode/Payflix-sub002/internal/models"
)

var (
	// ErrSourceUnavailable indicates the catalog source is not configured.
	ErrSourceUnavailable = errors.New("video catalog unavailable")
)

// Source resolves catalog entries by video id.
type Source interface {
	FindByID(ctx context.Context, id string) (models.Video, error)
}

type cacheEntry struct {
	video   models.Video
	expires time.Time
}

// CachingSource wraps another Source with a TTL-based in-memory cache.
// Prices change rarely relative to purchase volume, so a short TTL keeps the
// hot path off the database.
type CachingSource struct {
	base Source
	ttl  time.Duration

	mu    sync.RWMutex
	items map[string]cacheEntry
}

// NewCachingSource returns a Source that caches lookups for the provided TTL.
func NewCachingSource(base Source, ttl time.Duration) *CachingSource {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &CachingSource{
		base:  base,
		ttl:   ttl,
		items: make(map[string]cacheEntry),
	}
}

// FindByID returns a cached entry when available, otherwise it delegates to
// the underlying source and stores the result.
func (c *CachingSource) FindByID(ctx context.Context, id string) (models.Video, error) {
	if c == nil || c.base == nil {
		return models.Video{}, ErrSourceUnavailable
	}

	now := time.Now()

	c.mu.RLock()
	entry, ok := c.items[id]
	c.mu.RUnlock()
	if ok && now.Before(entry.expires) {
		return entry.video, nil
	}

	video, err := c.base.FindByID(ctx, id)
	if err != nil {
		return models.Video{}, err
	}

	c.mu.Lock()
	c.items[id] = cacheEntry{video: video, expires: now.Add(c.ttl)}
	c.mu.Unlock()

	return video, nil
}

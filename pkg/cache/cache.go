// Package cache provides bounded key/value caches for upstream lookups.
// Two backends exist: an in-process LRU with per-entry TTL and a Redis
// backend shared between service instances.
package cache

import (
	"context"
	"time"

	"delivery-geolocation/pkg/metrics"
)

// Cache stores values of type V by string key.
// Get misses on expired entries and on backend errors.
type Cache[V any] interface {
	Get(ctx context.Context, key string) (V, bool)
	Set(ctx context.Context, key string, value V) error
	Delete(ctx context.Context, key string) error
	// Purge drops every entry owned by this cache.
	Purge(ctx context.Context) error
}

// Options shared by both backends.
type Options struct {
	Name    string        // metric prefix and redis key namespace
	MaxSize int           // LRU capacity, ignored by redis
	TTL     time.Duration // 0 = no expiry
}

type stats struct {
	hits   *metrics.Counter
	misses *metrics.Counter
	size   *metrics.Gauge
}

func newStats(name string) stats {
	if name == "" {
		name = "default"
	}
	return stats{
		hits:   metrics.Default.Counter("cache_"+name+"_hits_total", "Cache hits"),
		misses: metrics.Default.Counter("cache_"+name+"_misses_total", "Cache misses"),
		size:   metrics.Default.Gauge("cache_"+name+"_entries", "Entries held in process"),
	}
}

func (s stats) record(hit bool) {
	if hit {
		s.hits.Inc(1)
		return
	}
	s.misses.Inc(1)
}

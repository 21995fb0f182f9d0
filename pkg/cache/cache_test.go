package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type point struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

func TestLRU_EvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	c := NewLRU[int](Options{Name: "t_lru", MaxSize: 2})

	_ = c.Set(ctx, "a", 1)
	_ = c.Set(ctx, "b", 2)
	if _, ok := c.Get(ctx, "a"); !ok {
		t.Fatalf("a should be cached")
	}
	_ = c.Set(ctx, "c", 3) // evicts b, a was touched

	if _, ok := c.Get(ctx, "b"); ok {
		t.Fatalf("b should have been evicted")
	}
	if v, ok := c.Get(ctx, "a"); !ok || v != 1 {
		t.Fatalf("a = %v, %v", v, ok)
	}
	if c.Len() != 2 {
		t.Fatalf("expected len 2, got %d", c.Len())
	}
}

func TestLRU_TTL(t *testing.T) {
	ctx := context.Background()
	c := NewLRU[string](Options{Name: "t_ttl", MaxSize: 10, TTL: time.Minute})
	now := time.Unix(1_700_000_000, 0)
	c.now = func() time.Time { return now }

	_ = c.Set(ctx, "k", "v")
	now = now.Add(59 * time.Second)
	if _, ok := c.Get(ctx, "k"); !ok {
		t.Fatalf("entry expired too early")
	}
	now = now.Add(time.Second)
	if _, ok := c.Get(ctx, "k"); ok {
		t.Fatalf("entry should be expired")
	}
	if c.Len() != 0 {
		t.Fatalf("expired entry not collected")
	}
}

func TestLRU_OverwriteAndPurge(t *testing.T) {
	ctx := context.Background()
	c := NewLRU[int](Options{Name: "t_purge", MaxSize: 3})
	_ = c.Set(ctx, "k", 1)
	_ = c.Set(ctx, "k", 2)
	if v, _ := c.Get(ctx, "k"); v != 2 {
		t.Fatalf("expected overwritten value 2, got %d", v)
	}
	_ = c.Delete(ctx, "k")
	if _, ok := c.Get(ctx, "k"); ok {
		t.Fatalf("deleted key still present")
	}
	_ = c.Set(ctx, "x", 1)
	_ = c.Purge(ctx)
	if c.Len() != 0 {
		t.Fatalf("purge left %d entries", c.Len())
	}
}

func newMiniRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestRedis_RoundTripAndTTL(t *testing.T) {
	ctx := context.Background()
	mr, client := newMiniRedis(t)
	c := NewRedis[point](client, Options{Name: "addr", TTL: time.Hour}, nil)

	if err := c.Set(ctx, "calle 1|buenos aires", point{Lat: -34.6, Lon: -58.4}); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok := c.Get(ctx, "calle 1|buenos aires")
	if !ok || got.Lat != -34.6 || got.Lon != -58.4 {
		t.Fatalf("Get = %+v, %v", got, ok)
	}
	if !mr.Exists("addr:calle 1|buenos aires") {
		t.Fatalf("expected namespaced key in redis")
	}

	mr.FastForward(2 * time.Hour)
	if _, ok := c.Get(ctx, "calle 1|buenos aires"); ok {
		t.Fatalf("expected expiry after TTL")
	}
}

func TestRedis_PurgeOnlyOwnKeys(t *testing.T) {
	ctx := context.Background()
	mr, client := newMiniRedis(t)
	a := NewRedis[int](client, Options{Name: "a"}, nil)
	b := NewRedis[int](client, Options{Name: "b"}, nil)

	_ = a.Set(ctx, "1", 1)
	_ = a.Set(ctx, "2", 2)
	_ = b.Set(ctx, "1", 1)

	if err := a.Purge(ctx); err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if mr.Exists("a:1") || mr.Exists("a:2") {
		t.Fatalf("a keys survived purge")
	}
	if !mr.Exists("b:1") {
		t.Fatalf("purge removed foreign key")
	}
}

func TestRedis_UndecodableValueIsMiss(t *testing.T) {
	ctx := context.Background()
	mr, client := newMiniRedis(t)
	c := NewRedis[point](client, Options{Name: "bad"}, nil)
	_ = mr.Set("bad:k", "not json")

	if _, ok := c.Get(ctx, "k"); ok {
		t.Fatalf("expected miss for corrupt value")
	}
	if mr.Exists("bad:k") {
		t.Fatalf("corrupt value should be dropped")
	}
}

func TestRedis_ImplementsCache(t *testing.T) {
	var _ Cache[int] = (*Redis[int])(nil)
	var _ Cache[int] = (*LRU[int])(nil)
}

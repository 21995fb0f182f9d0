package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"delivery-geolocation/pkg/logging"
)

// Redis stores JSON-encoded values under "<name>:" prefixed keys so several
// caches can share one database and Purge only touches its own keys.
type Redis[V any] struct {
	client *redis.Client
	prefix string
	opts   Options
	log    *logging.ComponentLogger
	stats  stats
}

// NewRedisClient parses a redis:// URL and verifies connectivity.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

func NewRedis[V any](client *redis.Client, opts Options, log *logging.Logger) *Redis[V] {
	if opts.Name == "" {
		opts.Name = "default"
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Redis[V]{
		client: client,
		prefix: opts.Name + ":",
		opts:   opts,
		log:    log.WithComponent("cache"),
		stats:  newStats(opts.Name),
	}
}

func (c *Redis[V]) Get(ctx context.Context, key string) (V, bool) {
	var zero V
	raw, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.log.WithContext(ctx).Warn("redis get failed", logging.String("key", key), logging.Error(err))
		}
		c.stats.record(false)
		return zero, false
	}
	var v V
	if err := json.Unmarshal(raw, &v); err != nil {
		c.log.WithContext(ctx).Warn("redis value undecodable, dropping", logging.String("key", key), logging.Error(err))
		_ = c.client.Del(ctx, c.prefix+key).Err()
		c.stats.record(false)
		return zero, false
	}
	c.stats.record(true)
	return v, true
}

func (c *Redis[V]) Set(ctx context.Context, key string, value V) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cache value: %w", err)
	}
	return c.client.Set(ctx, c.prefix+key, raw, c.opts.TTL).Err()
}

func (c *Redis[V]) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.prefix+key).Err()
}

func (c *Redis[V]) Purge(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, c.prefix+"*", 200).Iterator()
	var batch []string
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == 200 {
			if err := c.client.Del(ctx, batch...).Err(); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(batch) > 0 {
		return c.client.Del(ctx, batch...).Err()
	}
	return nil
}

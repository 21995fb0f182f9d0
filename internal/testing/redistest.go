package testutil

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// RedisTest is an in-process Redis for cache-backed tests.
type RedisTest struct {
	T      *testing.T
	Server *miniredis.Miniredis
	Client *redis.Client
}

func NewRedisTest(t *testing.T) *RedisTest {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return &RedisTest{T: t, Server: mr, Client: client}
}

func (r *RedisTest) URL() string { return "redis://" + r.Server.Addr() }

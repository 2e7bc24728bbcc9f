package archive

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper reports whether an event id is being archived for the first time
type Deduper interface {
	FirstSeen(ctx context.Context, id string) (bool, error)
	// Forget clears the mark after an upload was given up on
	Forget(ctx context.Context, id string) error
}

// RedisDeduper marks ids with SET NX so that a replayed chat message is
// archived once across restarts and replicas.
type RedisDeduper struct {
	cli    redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisDeduper wraps cli. A zero ttl keeps markers for a day.
func NewRedisDeduper(cli redis.UniversalClient, prefix string, ttl time.Duration) *RedisDeduper {
	if prefix == "" {
		prefix = "streamtap:archived:"
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisDeduper{cli: cli, prefix: prefix, ttl: ttl}
}

func (d *RedisDeduper) FirstSeen(ctx context.Context, id string) (bool, error) {
	return d.cli.SetNX(ctx, d.prefix+id, "1", d.ttl).Result()
}

func (d *RedisDeduper) Forget(ctx context.Context, id string) error {
	return d.cli.Del(ctx, d.prefix+id).Err()
}

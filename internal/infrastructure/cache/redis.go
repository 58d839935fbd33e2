package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const pingTimeout = 2 * time.Second

// Redis is the optional Redis dependency. A nil *Redis means it is not
// configured.
type Redis struct {
	client *redis.Client
}

// NewRedis builds a client without dialing; connections are made lazily.
func NewRedis(addr string, db int) *Redis {
	return &Redis{client: redis.NewClient(&redis.Options{Addr: addr, DB: db})}
}

// OpenRedis builds a client and verifies it answers PING.
func OpenRedis(ctx context.Context, addr string, db int) (*Redis, error) {
	r := NewRedis(addr, db)
	if err := r.Ping(ctx); err != nil {
		_ = r.Close()
		return nil, err
	}
	return r, nil
}

func (r *Redis) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Addr() string { return r.client.Options().Addr }

func (r *Redis) Close() error { return r.client.Close() }

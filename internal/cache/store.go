package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Store is a byte-oriented key/value cache with per-entry TTL.
type Store interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Options select and configure a Store implementation.
type Options struct {
	Driver        string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// New builds the Store named by opts.Driver. A nil Store with nil error means
// caching is disabled.
func New(opts Options) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Driver)) {
	case "", "memory":
		return NewMemoryStore(), nil
	case "none":
		return nil, nil
	case "redis":
		if opts.RedisAddr == "" {
			return nil, fmt.Errorf("cache: redis address required")
		}
		return NewRedisStore(&redis.Options{
			Addr:     opts.RedisAddr,
			Password: opts.RedisPassword,
			DB:       opts.RedisDB,
		}), nil
	default:
		return nil, fmt.Errorf("cache: unknown driver %q", opts.Driver)
	}
}

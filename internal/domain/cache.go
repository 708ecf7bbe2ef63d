package domain

import (
	"context"
	"time"
)

// Cache holds windowed per-account counters.
// It backs the submission quota only. Statistics are never cached.
type Cache interface {
	// IncrementCounter adds one to the counter named key and returns the new value.
	// A counter restarts at 1 once window has elapsed since its first increment.
	IncrementCounter(ctx context.Context, accountID string, key string, window time.Duration) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

// CacheConfig selects and tunes the counter backend.
type CacheConfig struct {
	// Type is "memory" or "redis".
	Type string `mapstructure:"type"`

	// LocalMaxSize caps the number of in-process counter windows.
	LocalMaxSize int `mapstructure:"localMaxSize"`

	RedisAddr     string `mapstructure:"redisAddr"`
	RedisPassword string `mapstructure:"redisPassword"`
	RedisDB       int    `mapstructure:"redisDb"`

	// LocalFallback counts in process while Redis is unreachable.
	LocalFallback bool `mapstructure:"localFallback"`
}

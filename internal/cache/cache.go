// Package cache provides the windowed counters behind submission quotas.
package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

// New builds the counter backend named by cfg.Type.
func New(cfg domain.CacheConfig) (domain.Cache, error) {
	switch cfg.Type {
	case "memory", "":
		return NewLRUCache(cfg.LocalMaxSize), nil
	case "redis":
		remote, err := NewRedisCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		if cfg.LocalFallback {
			return NewFallbackCache(remote, NewLRUCache(cfg.LocalMaxSize)), nil
		}
		return remote, nil
	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.Type)
	}
}

func requireAccount(accountID string) error {
	if accountID == "" {
		return fmt.Errorf("cache: %w", domain.ErrAccountRequired)
	}
	return nil
}

// FallbackCache counts in a shared primary and switches to a local table while the primary errors.
// Local counts only see this node, so quotas loosen during an outage instead of blocking everyone.
type FallbackCache struct {
	primary  domain.Cache
	local    *LRUCache
	degraded atomic.Bool
}

// NewFallbackCache pairs a shared primary with a local table.
func NewFallbackCache(primary domain.Cache, local *LRUCache) *FallbackCache {
	return &FallbackCache{primary: primary, local: local}
}

func (c *FallbackCache) IncrementCounter(ctx context.Context, accountID string, key string, span time.Duration) (int64, error) {
	if err := requireAccount(accountID); err != nil {
		return 0, err
	}

	n, err := c.primary.IncrementCounter(ctx, accountID, key, span)
	if err == nil {
		if c.degraded.CompareAndSwap(true, false) {
			slog.Info("shared counters recovered")
		}
		return n, nil
	}

	if c.degraded.CompareAndSwap(false, true) {
		slog.Warn("shared counters unavailable, counting locally", "error", err)
	}
	return c.local.IncrementCounter(ctx, accountID, key, span)
}

// Degraded reports whether the last increment fell back to the local table.
func (c *FallbackCache) Degraded() bool {
	return c.degraded.Load()
}

// Ping reports the primary's health. The local table never fails.
func (c *FallbackCache) Ping(ctx context.Context) error {
	if err := c.primary.Ping(ctx); err != nil {
		return fmt.Errorf("shared counters: %w", err)
	}
	return nil
}

func (c *FallbackCache) Close() error {
	_ = c.local.Close()
	return c.primary.Close()
}

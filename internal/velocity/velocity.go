// Package velocity limits how fast an account may submit transactions.
package velocity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/opensource-finance/harrier/internal/domain"
)

const counterKey = "velocity:submissions"

// Limiter counts submissions per account in a fixed window backed by the cache.
// A nil Limiter or a zero limit allows everything.
type Limiter struct {
	cache  domain.Cache
	limit  int64
	window time.Duration
}

// NewLimiter returns nil when cfg disables the quota.
func NewLimiter(cache domain.Cache, cfg domain.QuotaConfig) *Limiter {
	if cache == nil || cfg.MaxSubmissions <= 0 {
		return nil
	}
	window := cfg.Window
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{cache: cache, limit: cfg.MaxSubmissions, window: window}
}

// Allow records one submission for accountID.
// Cache failures are logged and the submission is allowed.
func (l *Limiter) Allow(ctx context.Context, accountID string) error {
	if l == nil {
		return nil
	}

	n, err := l.cache.IncrementCounter(ctx, accountID, counterKey, l.window)
	if err != nil {
		slog.Warn("velocity counter unavailable, allowing submission",
			"account_id", accountID,
			"error", err,
		)
		return nil
	}

	if n > l.limit {
		return fmt.Errorf("%w: %d submissions in %s (limit %d)", domain.ErrQuotaExceeded, n, l.window, l.limit)
	}
	return nil
}

// Limit returns the configured maximum per window.
func (l *Limiter) Limit() int64 {
	if l == nil {
		return 0
	}
	return l.limit
}

// Window returns the counting window.
func (l *Limiter) Window() time.Duration {
	if l == nil {
		return 0
	}
	return l.window
}

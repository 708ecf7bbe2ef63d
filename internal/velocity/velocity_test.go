package velocity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/harrier/internal/cache"
	"github.com/opensource-finance/harrier/internal/domain"
)

// brokenCache fails every counter call.
type brokenCache struct{ domain.Cache }

func (brokenCache) IncrementCounter(ctx context.Context, accountID, key string, window time.Duration) (int64, error) {
	return 0, errors.New("redis down")
}

func TestLimiter(t *testing.T) {
	ctx := context.Background()
	l := NewLimiter(cache.NewLRUCache(100), domain.QuotaConfig{MaxSubmissions: 2, Window: time.Minute})
	require.NotNil(t, l)

	assert.NoError(t, l.Allow(ctx, "acct-1"))
	assert.NoError(t, l.Allow(ctx, "acct-1"))

	err := l.Allow(ctx, "acct-1")
	assert.ErrorIs(t, err, domain.ErrQuotaExceeded)

	// Quotas are per account.
	assert.NoError(t, l.Allow(ctx, "acct-2"))
}

func TestLimiterWindowResets(t *testing.T) {
	ctx := context.Background()
	l := NewLimiter(cache.NewLRUCache(100), domain.QuotaConfig{MaxSubmissions: 1, Window: 20 * time.Millisecond})

	require.NoError(t, l.Allow(ctx, "acct"))
	assert.ErrorIs(t, l.Allow(ctx, "acct"), domain.ErrQuotaExceeded)

	time.Sleep(30 * time.Millisecond)
	assert.NoError(t, l.Allow(ctx, "acct"))
}

func TestLimiterDisabled(t *testing.T) {
	ctx := context.Background()

	var l *Limiter
	assert.NoError(t, l.Allow(ctx, "acct"))
	assert.Zero(t, l.Limit())

	assert.Nil(t, NewLimiter(cache.NewLRUCache(1), domain.QuotaConfig{}))
	assert.Nil(t, NewLimiter(nil, domain.QuotaConfig{MaxSubmissions: 5}))
}

func TestLimiterFailsOpen(t *testing.T) {
	l := NewLimiter(brokenCache{}, domain.QuotaConfig{MaxSubmissions: 1})
	require.NotNil(t, l)
	assert.Equal(t, time.Minute, l.Window())

	for i := 0; i < 3; i++ {
		assert.NoError(t, l.Allow(context.Background(), "acct"))
	}
}

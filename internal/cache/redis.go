package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "harrier:quota:"

// bumpScript sets the expiry only when INCR opens the window.
var bumpScript = redis.NewScript(`
	local n = redis.call('INCR', KEYS[1])
	if n == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end
	return n
`)

// RedisCache shares counter windows between every node pointed at the same server.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache dials addr and fails if the server does not answer within five seconds.
func NewRedisCache(addr, password string, db int) (*RedisCache, error) {
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis %s: %w", addr, err)
	}
	return &RedisCache{client: client}, nil
}

// NewRedisCacheFromClient wraps client as is.
func NewRedisCacheFromClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) IncrementCounter(ctx context.Context, accountID string, key string, span time.Duration) (int64, error) {
	if err := requireAccount(accountID); err != nil {
		return 0, err
	}
	ms := span.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	n, err := bumpScript.Run(ctx, c.client, []string{counterKey(accountID, key)}, ms).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis counter: %w", err)
	}
	return n, nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

// counterKey places the account in a hash tag so cluster deployments keep one account on one slot.
func counterKey(accountID, key string) string {
	return keyPrefix + "{" + accountID + "}:" + key
}

package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const (
	cacheVersionKey = "ledger:version"
	bumpChannel     = "ledger.bump"
)

// Cache wraps Redis based caching of balance lookups with versioning
// controls. Keys carry the global version, so any balance mutation
// invalidates every cached amount with a single bump.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache instantiates the cache helper.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// Version returns the current cache version, initialising when missing.
func (c *Cache) Version(ctx context.Context) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if err == redis.Nil {
		if err := c.client.Set(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// BuildKey composes the cache key with the current version.
func (c *Cache) BuildKey(ctx context.Context, parts ...string) (string, error) {
	if c == nil || c.client == nil {
		return strings.Join(parts, ":"), nil
	}
	ver, err := c.Version(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:%d", strings.Join(parts, ":"), ver), nil
}

// FetchAmount loads a cached decimal or populates it using the loader.
func (c *Cache) FetchAmount(ctx context.Context, key string, loader func(context.Context) (decimal.Decimal, error)) (decimal.Decimal, error) {
	if loader == nil {
		return decimal.Zero, errors.New("ledger: cache loader required")
	}
	if c == nil || c.client == nil {
		return loader(ctx)
	}
	raw, err := c.client.Get(ctx, key).Result()
	if err == nil {
		return decimal.NewFromString(raw)
	}
	if err != redis.Nil {
		return decimal.Zero, err
	}
	amount, err := loader(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	if err := c.client.Set(ctx, key, amount.String(), c.ttl).Err(); err != nil {
		return decimal.Zero, err
	}
	return amount, nil
}

// Bump invalidates cached amounts by incrementing the global version and
// publishing the new version for other processes.
func (c *Cache) Bump(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	ver, err := c.client.Incr(ctx, cacheVersionKey).Result()
	if err != nil {
		return err
	}
	return c.client.Publish(ctx, bumpChannel, fmt.Sprintf("%d", ver)).Err()
}

// ListenForInvalidation subscribes to version bump notifications so a
// process keeps its version view fresh without polling.
func (c *Cache) ListenForInvalidation(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	pubsub := c.client.Subscribe(ctx, bumpChannel)
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case _, ok := <-ch:
				if !ok {
					return
				}
			}
		}
	}()
	return nil
}

func keyBalanceAsOf(accountID int64, date time.Time) []string {
	return []string{"ledger", "asof", fmt.Sprintf("%d", accountID), date.Format("2006-01-02")}
}

func keyMonthChange(accountID int64, month time.Time) []string {
	return []string{"ledger", "month", fmt.Sprintf("%d", accountID), month.Format("2006-01")}
}

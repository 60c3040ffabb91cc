package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

// BalanceCache is the read-side cache for supplier outstanding balances.
type BalanceCache interface {
	Get(ctx context.Context, supplierID int64) (decimal.Decimal, bool)
	Set(ctx context.Context, supplierID int64, balance decimal.Decimal)
	Invalidate(ctx context.Context, supplierID int64)
}

// RedisBalanceCache caches balances in Redis with a short TTL. Mutating
// ledger operations invalidate the key after commit, so a stale read lasts
// at most the TTL after a missed invalidation.
type RedisBalanceCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

// NewRedisBalanceCache constructs the cache.
func NewRedisBalanceCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *RedisBalanceCache {
	return &RedisBalanceCache{client: client, ttl: ttl, logger: logger}
}

func balanceKey(supplierID int64) string {
	return fmt.Sprintf("ledger:supplier:%d:balance", supplierID)
}

func (c *RedisBalanceCache) Get(ctx context.Context, supplierID int64) (decimal.Decimal, bool) {
	raw, err := c.client.Get(ctx, balanceKey(supplierID)).Result()
	if err != nil {
		return decimal.Zero, false
	}
	balance, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false
	}
	return balance, true
}

func (c *RedisBalanceCache) Set(ctx context.Context, supplierID int64, balance decimal.Decimal) {
	if err := c.client.Set(ctx, balanceKey(supplierID), balance.String(), c.ttl).Err(); err != nil {
		c.logger.Warn("balance cache set", slog.Int64("supplier_id", supplierID), slog.Any("error", err))
	}
}

func (c *RedisBalanceCache) Invalidate(ctx context.Context, supplierID int64) {
	if err := c.client.Del(ctx, balanceKey(supplierID)).Err(); err != nil {
		c.logger.Warn("balance cache invalidate", slog.Int64("supplier_id", supplierID), slog.Any("error", err))
	}
}

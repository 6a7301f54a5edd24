package redisclient

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	stockCacheTTL  = 30 * time.Second
	webhookSeenTTL = 48 * time.Hour
)

type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func stockKey(productID, variantID int64) string {
	if variantID != 0 {
		return fmt.Sprintf("stock:%d:%d", productID, variantID)
	}
	return fmt.Sprintf("stock:%d", productID)
}

// GetCachedStock reads the cached live stock figure for a product or variant.
// The second return value reports a cache hit; the database stays
// authoritative and callers fall back to it on a miss.
func (c *Client) GetCachedStock(ctx context.Context, productID, variantID int64) (int, bool, error) {
	val, err := c.rdb.Get(ctx, stockKey(productID, variantID)).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}

	stock, err := strconv.Atoi(val)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt stock cache entry: %w", err)
	}
	return stock, true, nil
}

// SetCachedStock caches a stock figure with a short TTL.
func (c *Client) SetCachedStock(ctx context.Context, productID, variantID int64, stock int) error {
	return c.rdb.Set(ctx, stockKey(productID, variantID), stock, stockCacheTTL).Err()
}

// InvalidateStock drops a cached stock figure after a committed deduction.
func (c *Client) InvalidateStock(ctx context.Context, productID, variantID int64) error {
	return c.rdb.Del(ctx, stockKey(productID, variantID)).Err()
}

// WebhookSeen reports whether a webhook delivery digest was already fully
// applied. Redelivery short-circuits before the database; the append-only
// event log in Postgres remains the authoritative idempotency check.
func (c *Client) WebhookSeen(ctx context.Context, source, digest string) (bool, error) {
	key := fmt.Sprintf("webhook:%s:%s", source, digest)
	n, err := c.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkWebhookSeen records a digest after its transaction committed, so a
// failed delivery is never remembered as applied.
func (c *Client) MarkWebhookSeen(ctx context.Context, source, digest string) error {
	key := fmt.Sprintf("webhook:%s:%s", source, digest)
	return c.rdb.Set(ctx, key, "1", webhookSeenTTL).Err()
}

package redisclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const statsCacheKey = "orders:stats"

type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client and verifies connectivity
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

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// EventProcessed reports whether a webhook event ID has been recorded.
func (c *Client) EventProcessed(ctx context.Context, eventID string) (bool, error) {
	n, err := c.rdb.Exists(ctx, eventKey(eventID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkEventProcessed records a webhook event ID with a TTL. Returns false if
// the event was already recorded, which means a redelivery.
func (c *Client) MarkEventProcessed(ctx context.Context, eventID string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, eventKey(eventID), "1", ttl).Result()
}

func eventKey(eventID string) string {
	return fmt.Sprintf("webhook:event:%s", eventID)
}

// CacheStats stores serialized dashboard stats with a TTL.
func (c *Client) CacheStats(ctx context.Context, stats interface{}, ttl time.Duration) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("failed to marshal stats: %w", err)
	}
	return c.rdb.Set(ctx, statsCacheKey, data, ttl).Err()
}

// GetCachedStats loads dashboard stats into dest. Returns false on cache miss.
func (c *Client) GetCachedStats(ctx context.Context, dest interface{}) (bool, error) {
	data, err := c.rdb.Get(ctx, statsCacheKey).Bytes()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("failed to unmarshal cached stats: %w", err)
	}
	return true, nil
}

// InvalidateStats drops the cached dashboard stats.
func (c *Client) InvalidateStats(ctx context.Context) error {
	return c.rdb.Del(ctx, statsCacheKey).Err()
}

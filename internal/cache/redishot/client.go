// Package redishot provides the Redis-backed exact-hash fast path used in
// front of the sqlite semantic cache.
package redishot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/fisioflow/backend/internal/storage/models"
	"github.com/fisioflow/backend/pkg/logger"
)

type Client struct {
	client *redis.Client
}

func NewClient(host string, port int, password string, db int) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	_, err := client.Ping(ctx).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis hot layer initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) Get(ctx context.Context, queryHash string) (*models.CacheEntry, bool, error) {
	data, err := c.client.Get(ctx, key(queryHash)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get cached query: %w", err)
	}

	var entry models.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal cache entry: %w", err)
	}

	logger.Debug("Hot cache hit", zap.String("query_hash", queryHash))
	return &entry, true, nil
}

func (c *Client) Set(ctx context.Context, queryHash string, e *models.CacheEntry, ttl time.Duration) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	if err := c.client.Set(ctx, key(queryHash), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cached query: %w", err)
	}

	logger.Debug("Hot cache write", zap.String("query_hash", queryHash), zap.Duration("ttl", ttl))
	return nil
}

// Flush drops every cached query, used when the knowledge base changes
// enough that cached answers may be stale.
func (c *Client) Flush(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, "query:*", 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			logger.Warn("Failed to delete cache key", zap.Error(err))
		}
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to iterate cache keys: %w", err)
	}

	logger.Info("Hot cache flushed")
	return nil
}

func key(queryHash string) string {
	return "query:" + queryHash
}

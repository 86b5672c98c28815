// Package cache keeps a capped Redis list of recently emitted signals
// so the read API can serve them without touching the store.
package cache

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/tendrel/signalforge/internal/models"
)

const recentSignalsKey = "signalforge:signals:recent"

// SignalCache is a Redis-backed LIFO of recent signals.
type SignalCache struct {
	client *redis.Client
	limit  int
}

func NewSignalCache(client *redis.Client, limit int) *SignalCache {
	if limit <= 0 {
		limit = 200
	}
	return &SignalCache{client: client, limit: limit}
}

// Push prepends a signal and trims the list to the retention cap.
func (c *SignalCache) Push(ctx context.Context, sig models.Signal) error {
	if c.client == nil {
		return nil
	}
	data, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("cache: marshal signal: %w", err)
	}

	pipe := c.client.TxPipeline()
	pipe.LPush(ctx, recentSignalsKey, data)
	pipe.LTrim(ctx, recentSignalsKey, 0, int64(c.limit-1))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache: push signal: %w", err)
	}
	return nil
}

// Recent returns up to limit signals, newest first.
func (c *SignalCache) Recent(ctx context.Context, limit int) ([]models.Signal, error) {
	if c.client == nil {
		return nil, nil
	}
	if limit <= 0 || limit > c.limit {
		limit = c.limit
	}

	raw, err := c.client.LRange(ctx, recentSignalsKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("cache: range signals: %w", err)
	}

	signals := make([]models.Signal, 0, len(raw))
	for _, item := range raw {
		var sig models.Signal
		if err := json.Unmarshal([]byte(item), &sig); err != nil {
			continue
		}
		signals = append(signals, sig)
	}
	return signals, nil
}

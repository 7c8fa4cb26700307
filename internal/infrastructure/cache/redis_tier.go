package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisTier is the distributed tier shared by all gateway instances.
// Values are stored as JSON.
type RedisTier struct {
	client redis.UniversalClient
}

// NewRedisTier creates a new RedisTier.
func NewRedisTier(client redis.UniversalClient) *RedisTier {
	return &RedisTier{client: client}
}

// Get decodes the value under key into dst.
func (r *RedisTier) Get(ctx context.Context, key string, dst any) (Outcome, error) {
	raw, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return OutcomeMiss, nil
		}
		return OutcomeError, err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return OutcomeError, fmt.Errorf("decode %s: %w", key, err)
	}
	return OutcomeHit, nil
}

// Set encodes value and stores it under key with ttl.
func (r *RedisTier) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return r.client.Set(ctx, key, raw, ttl).Err()
}

// Delete removes keys.
func (r *RedisTier) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}

// DeletePrefix removes every key starting with prefix and returns how many
// were deleted. On a cluster every master is scanned.
func (r *RedisTier) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	if cc, ok := r.client.(*redis.ClusterClient); ok {
		var total atomic.Int64
		err := cc.ForEachMaster(ctx, func(ctx context.Context, node *redis.Client) error {
			n, err := deleteScan(ctx, node, prefix)
			total.Add(int64(n))
			return err
		})
		return int(total.Load()), err
	}
	return deleteScan(ctx, r.client, prefix)
}

func deleteScan(ctx context.Context, c redis.Cmdable, prefix string) (int, error) {
	var (
		cursor  uint64
		deleted int
	)
	for {
		keys, next, err := c.Scan(ctx, cursor, prefix+"*", 200).Result()
		if err != nil {
			return deleted, err
		}
		if len(keys) > 0 {
			n, err := c.Del(ctx, keys...).Result()
			if err != nil {
				return deleted, err
			}
			deleted += int(n)
		}
		if next == 0 {
			return deleted, nil
		}
		cursor = next
	}
}

// Ping checks connectivity.
func (r *RedisTier) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

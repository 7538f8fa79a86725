package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"vitals-service/internal/models"

	"github.com/go-redis/redis/v8"
)

const (
	recentKey   = "vitals:recent"
	samplePref  = "vitals:sample:"
	DefaultTTL  = 24 * time.Hour
	DefaultKeep = 10000
)

// RedisClient mirrors ingested samples so a restarted server can warm its
// store. It is not a long-term archive: every sample expires after ttl.
type RedisClient struct {
	client *redis.Client
	ttl    time.Duration
	keep   int64
}

func NewRedisClient(ctx context.Context, addr string, ttl time.Duration) (*RedisClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		PoolSize:     100,
		MinIdleConns: 10,
		MaxRetries:   3,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", addr, err)
	}

	return newRedisClient(client, ttl), nil
}

func newRedisClient(client *redis.Client, ttl time.Duration) *RedisClient {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisClient{client: client, ttl: ttl, keep: DefaultKeep}
}

func sampleKey(id string) string {
	return samplePref + id
}

func (r *RedisClient) StoreSample(ctx context.Context, sample models.Sample) error {
	data, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("failed to marshal sample: %w", err)
	}

	key := sampleKey(sample.ID)
	pipe := r.client.TxPipeline()
	pipe.Set(ctx, key, data, r.ttl)
	pipe.LPush(ctx, recentKey, key)
	pipe.LTrim(ctx, recentKey, 0, r.keep-1)
	pipe.Expire(ctx, recentKey, r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store sample in Redis: %w", err)
	}
	return nil
}

// RecentSamples returns up to count mirrored samples, oldest first. Expired or
// undecodable entries are skipped.
func (r *RedisClient) RecentSamples(ctx context.Context, count int64) ([]models.Sample, error) {
	if count <= 0 {
		return nil, nil
	}
	keys, err := r.client.LRange(ctx, recentKey, 0, count-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get recent sample keys: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get recent samples: %w", err)
	}

	samples := make([]models.Sample, 0, len(values))
	// LPUSH keeps newest first; walk backwards to restore arrival order.
	for i := len(values) - 1; i >= 0; i-- {
		raw, ok := values[i].(string)
		if !ok {
			continue
		}
		var sample models.Sample
		if err := json.Unmarshal([]byte(raw), &sample); err != nil {
			continue
		}
		samples = append(samples, sample)
	}
	return samples, nil
}

func (r *RedisClient) Close() error {
	return r.client.Close()
}

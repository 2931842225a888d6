package fraud

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	attemptsPrefix = "paywatch:fraud:attempts:"
	failuresPrefix = "paywatch:fraud:failures:"
)

// RedisHistory stores owner timelines as sorted sets scored by unix
// milliseconds, so every instance of the service sees the same history.
type RedisHistory struct {
	client    *redis.Client
	retention time.Duration
}

// NewRedisHistory connects to redisURL and verifies the connection.
// poolSize and maxRetries override the URL's values when positive.
func NewRedisHistory(redisURL string, retention time.Duration, poolSize, maxRetries int) (*RedisHistory, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if poolSize > 0 {
		opt.PoolSize = poolSize
	}
	if maxRetries > 0 {
		opt.MaxRetries = maxRetries
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return NewRedisHistoryFromClient(client, retention), nil
}

// NewRedisHistoryFromClient wraps an existing client.
func NewRedisHistoryFromClient(client *redis.Client, retention time.Duration) *RedisHistory {
	return &RedisHistory{client: client, retention: retention}
}

func (r *RedisHistory) RecordAttempt(ctx context.Context, ownerID, key string, at time.Time) error {
	return r.record(ctx, attemptsPrefix+ownerID, key, at)
}

func (r *RedisHistory) CountAttempts(ctx context.Context, ownerID string, from, to time.Time) (int, error) {
	return r.count(ctx, attemptsPrefix+ownerID, from, to)
}

func (r *RedisHistory) RecordFailure(ctx context.Context, ownerID, key string, at time.Time) error {
	return r.record(ctx, failuresPrefix+ownerID, key, at)
}

func (r *RedisHistory) CountFailures(ctx context.Context, ownerID string, from, to time.Time) (int, error) {
	return r.count(ctx, failuresPrefix+ownerID, from, to)
}

func (r *RedisHistory) Close() error {
	return r.client.Close()
}

func (r *RedisHistory) record(ctx context.Context, key, member string, at time.Time) error {
	pipe := r.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(at.UnixMilli()), Member: member})
	if r.retention > 0 {
		cutoff := at.Add(-r.retention).UnixMilli()
		pipe.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(cutoff, 10))
		pipe.Expire(ctx, key, r.retention)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record history: %w", err)
	}
	return nil
}

func (r *RedisHistory) count(ctx context.Context, key string, from, to time.Time) (int, error) {
	n, err := r.client.ZCount(ctx, key,
		strconv.FormatInt(from.UnixMilli(), 10),
		strconv.FormatInt(to.UnixMilli(), 10),
	).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count history: %w", err)
	}
	return int(n), nil
}

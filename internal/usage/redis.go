// ABOUTME: Redis-backed sliding-window meter for multi-replica deployments
// ABOUTME: Stores consumption events in a per-subject sorted set scored by time

package usage

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RedisMeter shares a sliding window across gateway replicas. Each
// consumption is a sorted-set member scored by its timestamp; expiry keeps
// idle subjects from accumulating keys.
type RedisMeter struct {
	client *redis.Client
	window time.Duration
}

// NewRedisMeter connects to the Redis instance named by a redis:// URL.
func NewRedisMeter(redisURL string, window time.Duration) (*RedisMeter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}
	return &RedisMeter{
		client: redis.NewClient(opts),
		window: window,
	}, nil
}

// Consume implements Meter. The prune, insert, and expire run in one
// pipeline round trip; the window sum is read back afterwards.
func (m *RedisMeter) Consume(ctx context.Context, subject string, n int64) (int64, error) {
	key := "usage:" + subject
	now := time.Now()
	cutoff := now.Add(-m.window)

	pipe := m.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", strconv.FormatInt(cutoff.UnixMilli(), 10))
	if n > 0 {
		member := fmt.Sprintf("%d:%s", n, uuid.NewString())
		pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixMilli()), Member: member})
	}
	pipe.Expire(ctx, key, m.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMeterUnavailable, err)
	}

	members, err := m.client.ZRange(ctx, key, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMeterUnavailable, err)
	}

	var total int64
	for _, member := range members {
		tokens, _, ok := strings.Cut(member, ":")
		if !ok {
			continue
		}
		v, err := strconv.ParseInt(tokens, 10, 64)
		if err != nil {
			continue
		}
		total += v
	}
	return total, nil
}

// Close releases the Redis connection.
func (m *RedisMeter) Close() error {
	return m.client.Close()
}

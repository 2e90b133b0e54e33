package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "rl:"

	lockTTL      = 5 * time.Second
	lockAttempts = 50
	lockBackoff  = 20 * time.Millisecond
)

// ErrBucketLocked is returned when a bucket lock could not be acquired
// within the retry budget.
var ErrBucketLocked = errors.New("ratelimit: bucket lock timeout")

// RedisStore shares rate-limit counters across instances. Each
// (action, scope) bucket is a hash of entity -> counter JSON, and the
// transaction bracket is a SET NX lock with a bounded TTL so a crashed
// holder cannot block the bucket forever.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore returns a store backed by the given client.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func bucketKey(action, scope string) string {
	return redisKeyPrefix + action + ":" + scope
}

func (s *RedisStore) GetLimit(ctx context.Context, action, scope, entity string) (Limit, bool, error) {
	raw, err := s.client.HGet(ctx, bucketKey(action, scope), entity).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Limit{}, false, nil
		}
		return Limit{}, false, fmt.Errorf("ratelimit: redis get: %w", err)
	}
	var limit Limit
	if err := json.Unmarshal([]byte(raw), &limit); err != nil {
		return Limit{}, false, fmt.Errorf("ratelimit: corrupt counter for %q: %w", entity, err)
	}
	return limit, true, nil
}

func (s *RedisStore) UpdateLimit(ctx context.Context, action, scope, entity string, limit Limit) error {
	raw, err := json.Marshal(limit)
	if err != nil {
		return fmt.Errorf("ratelimit: encode counter: %w", err)
	}
	if err := s.client.HSet(ctx, bucketKey(action, scope), entity, string(raw)).Err(); err != nil {
		return fmt.Errorf("ratelimit: redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) Cleanup(ctx context.Context, action, scope string, olderThan int64) error {
	key := bucketKey(action, scope)
	entries, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("ratelimit: redis scan: %w", err)
	}
	var stale []string
	for entity, raw := range entries {
		var limit Limit
		if err := json.Unmarshal([]byte(raw), &limit); err != nil || limit.Timestamp <= olderThan {
			stale = append(stale, entity)
		}
	}
	if len(stale) == 0 {
		return nil
	}
	if err := s.client.HDel(ctx, key, stale...).Err(); err != nil {
		return fmt.Errorf("ratelimit: redis cleanup: %w", err)
	}
	return nil
}

func (s *RedisStore) Save(context.Context, string, string) error {
	return nil
}

func (s *RedisStore) Transaction(ctx context.Context, action, scope string, op TxOp) error {
	lockKey := bucketKey(action, scope) + ":lock"
	switch op {
	case TxBegin:
		for i := 0; i < lockAttempts; i++ {
			ok, err := s.client.SetNX(ctx, lockKey, "1", lockTTL).Result()
			if err != nil {
				return fmt.Errorf("ratelimit: redis lock: %w", err)
			}
			if ok {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(lockBackoff):
			}
		}
		return ErrBucketLocked
	case TxEnd:
		if err := s.client.Del(ctx, lockKey).Err(); err != nil {
			return fmt.Errorf("ratelimit: redis unlock: %w", err)
		}
	}
	return nil
}

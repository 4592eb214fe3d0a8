package querycache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-attempt/internal/config"
)

const scanBatch = 100

// Redis is a Cache shared by every client pointed at the same instance.
type Redis struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedis(rdb *redis.Client, ttl time.Duration) *Redis {
	return &Redis{rdb: rdb, ttl: ttl}
}

func (r *Redis) Get(ctx context.Context, scope, studentID string, dst interface{}) (bool, error) {
	data, err := r.rdb.Get(ctx, config.CacheKey.QueryKey(scope, studentID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("get %s: %w", scope, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return false, fmt.Errorf("decode cached %s: %w", scope, err)
	}
	return true, nil
}

func (r *Redis) Set(ctx context.Context, scope, studentID string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", scope, err)
	}
	if err := r.rdb.Set(ctx, config.CacheKey.QueryKey(scope, studentID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("set %s: %w", scope, err)
	}
	return nil
}

// Invalidate deletes every key of the scopes using SCAN, never KEYS.
func (r *Redis) Invalidate(ctx context.Context, scopes ...string) error {
	for _, scope := range scopes {
		iter := r.rdb.Scan(ctx, 0, config.CacheKey.QueryScopePattern(scope), scanBatch).Iterator()
		var keys []string
		for iter.Next(ctx) {
			keys = append(keys, iter.Val())
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("scan %s: %w", scope, err)
		}
		if len(keys) == 0 {
			continue
		}
		if err := r.rdb.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("invalidate %s: %w", scope, err)
		}
	}
	return nil
}

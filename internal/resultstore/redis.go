package resultstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/model"
)

// Redis stores results as JSON strings with a TTL, so a result outlives the
// process that finished the attempt.
type Redis struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedis returns a Redis-backed Store. A zero ttl keeps results forever.
func NewRedis(rdb *redis.Client, ttl time.Duration) *Redis {
	return &Redis{rdb: rdb, ttl: ttl}
}

func (r *Redis) Save(ctx context.Context, result model.TestResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}

	sessionID := result.Session.ID.String()
	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, config.CacheKey.AttemptResultKey(sessionID), data, r.ttl)
	if !result.Session.StudentID.IsZero() {
		pipe.Set(ctx, config.CacheKey.LatestResultKey(result.Session.StudentID.String()), sessionID, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, sessionID model.ID) (*model.TestResult, error) {
	data, err := r.rdb.Get(ctx, config.CacheKey.AttemptResultKey(sessionID.String())).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get result: %w", err)
	}

	var result model.TestResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("unmarshal result: %w", err)
	}
	return &result, nil
}

func (r *Redis) Latest(ctx context.Context, studentID model.ID) (*model.TestResult, error) {
	sessionID, err := r.rdb.Get(ctx, config.CacheKey.LatestResultKey(studentID.String())).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get latest result: %w", err)
	}
	return r.Get(ctx, model.ID(sessionID))
}

package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBundleStore 在 Redis 中保存 bundle 状态，供 status 子命令与外部系统查询
type RedisBundleStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// Redis key 前缀
const (
	bundlePrefix = "bundler:bundle"
	runPrefix    = "bundler:run"
)

const defaultTTL = 24 * time.Hour

// ErrNotFound 记录不存在或已过期
var ErrNotFound = errors.New("bundle record not found")

func NewRedisBundleStore(rdb *redis.Client, ttl time.Duration) *RedisBundleStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisBundleStore{rdb: rdb, ttl: ttl}
}

func bundleKey(bundleID string) string {
	return fmt.Sprintf("%s:%s", bundlePrefix, bundleID)
}

func runKey(runID string) string {
	return fmt.Sprintf("%s:%s", runPrefix, runID)
}

// Save 写入记录，并建立 run id -> bundle id 的索引
func (r *RedisBundleStore) Save(ctx context.Context, rec *BundleRecord) error {
	if rec.BundleID == "" {
		return fmt.Errorf("bundle record without bundle id")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal bundle record: %w", err)
	}

	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, bundleKey(rec.BundleID), data, r.ttl)
	if rec.RunID != "" {
		pipe.Set(ctx, runKey(rec.RunID), rec.BundleID, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis save bundle %s: %w", rec.BundleID, err)
	}
	return nil
}

// Get 按 bundle id 查询
func (r *RedisBundleStore) Get(ctx context.Context, bundleID string) (*BundleRecord, error) {
	data, err := r.rdb.Get(ctx, bundleKey(bundleID)).Bytes()
	switch {
	case err == redis.Nil:
		return nil, ErrNotFound
	case err != nil:
		return nil, fmt.Errorf("redis get error: %w", err)
	}
	var rec BundleRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode bundle record %s: %w", bundleID, err)
	}
	return &rec, nil
}

// GetByRun 按 run id 查询
func (r *RedisBundleStore) GetByRun(ctx context.Context, runID string) (*BundleRecord, error) {
	bundleID, err := r.rdb.Get(ctx, runKey(runID)).Result()
	switch {
	case err == redis.Nil:
		return nil, ErrNotFound
	case err != nil:
		return nil, fmt.Errorf("redis get error: %w", err)
	}
	return r.Get(ctx, bundleID)
}

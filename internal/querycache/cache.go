// 包 querycache：按查询入参缓存数据源结果；缓存归调用方所有，数据源本身保持无状态
package querycache

import (
	"context"
	"time"

	"overture-lists/internal/logger"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

// Cache：键值结果缓存；值为已序列化的 JSON
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, val []byte)
}

// Memory：进程内 LRU 适配
type Memory struct {
	lru *LRU[[]byte]
}

func NewMemory(capacity int, ttl time.Duration) *Memory {
	return &Memory{lru: NewLRU[[]byte](capacity, ttl)}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool) { return m.lru.Get(key) }

func (m *Memory) Set(_ context.Context, key string, val []byte) { m.lru.Set(key, val) }

func (m *Memory) Len() int { return m.lru.Len() }

// Redis：跨进程共享（服务端与 CLI 同时运行时复用结果）
// 约束：Redis 故障只降级为未命中，不向上返回错误
type Redis struct {
	rc     *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedis(rc *redis.Client, prefix string, ttl time.Duration) *Redis {
	if prefix == "" {
		prefix = "overture:q:"
	}
	return &Redis{rc: rc, prefix: prefix, ttl: ttl}
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	b, err := r.rc.Get(ctx, r.prefix+key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logger.L().Warn("query_cache_redis_get_error", "key", key, "err", err)
		}
		return nil, false
	}
	return b, true
}

func (r *Redis) Set(ctx context.Context, key string, val []byte) {
	if err := r.rc.Set(ctx, r.prefix+key, val, r.ttl).Err(); err != nil {
		logger.L().Warn("query_cache_redis_set_error", "key", key, "err", err)
	}
}

// Nop：关闭缓存
type Nop struct{}

func (Nop) Get(context.Context, string) ([]byte, bool) { return nil, false }
func (Nop) Set(context.Context, string, []byte)        {}

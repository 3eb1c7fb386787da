package ws

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tokmz/livehub/pkg/logger"
)

// RateStore 固定窗口计数存储
type RateStore interface {
	// Hit 计数加一，返回窗口内计数与窗口剩余时间
	Hit(ctx context.Context, key string, window time.Duration) (count int64, remaining time.Duration, err error)
}

// Decision 限流判定
type Decision struct {
	Allowed    bool
	Count      int64
	Limit      int
	RetryAfter time.Duration
}

// FixedWindowLimiter 固定窗口限流器
// 窗口从某个键的第一次请求开始计时，被拒绝的请求同样计数
type FixedWindowLimiter struct {
	store  RateStore
	max    int
	window time.Duration
	log    logger.Logger
}

// NewFixedWindowLimiter 创建限流器，store 为 nil 时使用内存存储
func NewFixedWindowLimiter(limit int, window time.Duration, store RateStore, log logger.Logger) *FixedWindowLimiter {
	if store == nil {
		store = NewMemoryRateStore(nil)
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &FixedWindowLimiter{store: store, max: limit, window: window, log: log}
}

// Allow 记录一次请求并判定是否放行
// 存储不可用时放行并记录日志
func (l *FixedWindowLimiter) Allow(ctx context.Context, key string) Decision {
	count, remaining, err := l.store.Hit(ctx, key, l.window)
	if err != nil {
		l.log.WarnContext(ctx, "rate store unavailable, allowing request",
			zap.String("key", key), zap.Error(err))
		return Decision{Allowed: true, Limit: l.max}
	}

	d := Decision{Allowed: count <= int64(l.max), Count: count, Limit: l.max}
	if !d.Allowed {
		d.RetryAfter = min(max(remaining, 0), l.window)
	}
	return d
}

// Store 底层存储
func (l *FixedWindowLimiter) Store() RateStore { return l.store }

type rateWindow struct {
	count   int64
	resetAt time.Time
}

type rateShard struct {
	mu      sync.Mutex
	windows map[string]*rateWindow
}

// MemoryRateStore 进程内计数存储，过期窗口惰性重置，Prune 批量清理
type MemoryRateStore struct {
	shards [shardCount]rateShard
	clock  clock.Clock
}

// NewMemoryRateStore 创建内存存储
func NewMemoryRateStore(clk clock.Clock) *MemoryRateStore {
	if clk == nil {
		clk = clock.New()
	}
	s := &MemoryRateStore{clock: clk}
	for i := range s.shards {
		s.shards[i].windows = make(map[string]*rateWindow)
	}
	return s
}

// Hit 实现 RateStore
func (s *MemoryRateStore) Hit(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	now := s.clock.Now()
	sh := &s.shards[shardIndex(key)]

	sh.mu.Lock()
	defer sh.mu.Unlock()

	w, ok := sh.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &rateWindow{resetAt: now.Add(window)}
		sh.windows[key] = w
	}
	w.count++
	return w.count, w.resetAt.Sub(now), nil
}

// Prune 删除已过期的窗口，返回删除数量
func (s *MemoryRateStore) Prune() int {
	now := s.clock.Now()
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for k, w := range sh.windows {
			if !now.Before(w.resetAt) {
				delete(sh.windows, k)
				n++
			}
		}
		sh.mu.Unlock()
	}
	return n
}

// Len 当前窗口数
func (s *MemoryRateStore) Len() int {
	n := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		n += len(sh.windows)
		sh.mu.Unlock()
	}
	return n
}

// fixedWindowScript 首次命中时设置过期，返回计数与剩余毫秒
var fixedWindowScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return {count, ttl}
`)

// RedisRateStore 多实例共享的计数存储
type RedisRateStore struct {
	client redis.Scripter
	prefix string
}

// NewRedisRateStore 创建 Redis 存储
func NewRedisRateStore(client redis.Scripter, prefix string) *RedisRateStore {
	if prefix == "" {
		prefix = "livehub:rate:"
	}
	return &RedisRateStore{client: client, prefix: prefix}
}

// Hit 实现 RateStore
func (s *RedisRateStore) Hit(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	res, err := fixedWindowScript.Run(ctx, s.client, []string{s.prefix + key}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, 0, fmt.Errorf("ws: rate store: %w", err)
	}
	if len(res) != 2 {
		return 0, 0, fmt.Errorf("ws: rate store: unexpected reply %v", res)
	}
	return res[0], time.Duration(res[1]) * time.Millisecond, nil
}

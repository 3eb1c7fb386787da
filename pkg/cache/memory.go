package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

type memoryCache struct {
	cache      *gocache.Cache
	serializer Serializer
	keyPrefix  string
	defaultTTL time.Duration
	mu         sync.Mutex // 保护 IncrBy / Expire 的读改写
}

func newMemoryCache(cfg *Config) Cache {
	if cfg.Memory == nil {
		cfg.Memory = DefaultMemoryConfig()
	}

	return &memoryCache{
		cache:      gocache.New(cfg.Memory.DefaultExpiration, cfg.Memory.CleanupInterval),
		serializer: cfg.Serializer,
		keyPrefix:  cfg.KeyPrefix,
		defaultTTL: cfg.DefaultTTL,
	}
}

func (m *memoryCache) buildKey(key string) string {
	return m.keyPrefix + key
}

// Get 获取缓存
func (m *memoryCache) Get(ctx context.Context, key string, value any) error {
	data, found := m.cache.Get(m.buildKey(key))
	if !found {
		return ErrCacheNotFound
	}

	raw, ok := data.([]byte)
	if !ok {
		return fmt.Errorf("%w: invalid cache data type", ErrCacheSerialization)
	}
	if err := m.serializer.Unmarshal(raw, value); err != nil {
		return fmt.Errorf("%w: %w", ErrCacheSerialization, err)
	}
	return nil
}

// Set 设置缓存
func (m *memoryCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := m.serializer.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCacheSerialization, err)
	}
	if ttl == 0 {
		ttl = m.defaultTTL
	}

	m.cache.Set(m.buildKey(key), raw, ttl)
	return nil
}

// Delete 删除缓存
func (m *memoryCache) Delete(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		m.cache.Delete(m.buildKey(key))
	}
	return nil
}

// Exists 检查键是否存在
func (m *memoryCache) Exists(ctx context.Context, key string) (bool, error) {
	_, found := m.cache.Get(m.buildKey(key))
	return found, nil
}

// TTL 获取键的剩余生存时间，永不过期返回 -1
func (m *memoryCache) TTL(ctx context.Context, key string) (time.Duration, error) {
	_, expiration, found := m.cache.GetWithExpiration(m.buildKey(key))
	if !found {
		return 0, ErrCacheNotFound
	}
	if expiration.IsZero() {
		return -1, nil
	}
	return time.Until(expiration), nil
}

// Expire 设置键的过期时间
func (m *memoryCache) Expire(ctx context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	full := m.buildKey(key)
	data, found := m.cache.Get(full)
	if !found {
		return ErrCacheNotFound
	}
	m.cache.Set(full, data, ttl)
	return nil
}

// Incr 自增
func (m *memoryCache) Incr(ctx context.Context, key string) (int64, error) {
	return m.IncrBy(ctx, key, 1)
}

// IncrBy 增加指定值，已存在的键保留原过期时间
func (m *memoryCache) IncrBy(ctx context.Context, key string, value int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	full := m.buildKey(key)
	ttl := m.defaultTTL

	var current int64
	if data, expiration, found := m.cache.GetWithExpiration(full); found {
		raw, ok := data.([]byte)
		if !ok {
			return 0, fmt.Errorf("%w: invalid cache data type", ErrCacheOperation)
		}
		if err := m.serializer.Unmarshal(raw, &current); err != nil {
			return 0, fmt.Errorf("%w: %w", ErrCacheSerialization, err)
		}
		if expiration.IsZero() {
			ttl = gocache.NoExpiration
		} else if remaining := time.Until(expiration); remaining > 0 {
			ttl = remaining
		}
	}

	next := current + value
	raw, err := m.serializer.Marshal(next)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrCacheSerialization, err)
	}
	m.cache.Set(full, raw, ttl)
	return next, nil
}

// Ping 内存缓存始终可用
func (m *memoryCache) Ping(ctx context.Context) error {
	return nil
}

// Close 清空缓存
func (m *memoryCache) Close() error {
	m.cache.Flush()
	return nil
}

func (m *memoryCache) String() string {
	return fmt.Sprintf("MemoryCache(prefix=%s, items=%d)", m.keyPrefix, m.cache.ItemCount())
}

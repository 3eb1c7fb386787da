package cache

import (
	"context"
	"encoding/json"
	"time"
)

// Cache 缓存接口
// livehub 用它记录短期状态：最近断开的身份、账号状态快照
type Cache interface {
	Get(ctx context.Context, key string, value any) error
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	Exists(ctx context.Context, key string) (bool, error)

	// TTL 管理
	TTL(ctx context.Context, key string) (time.Duration, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// 原子操作
	Incr(ctx context.Context, key string) (int64, error)
	IncrBy(ctx context.Context, key string, value int64) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}

// Serializer 值编码，两种驱动都按字节保存
type Serializer interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSONSerializer 默认编码，与 HTTP 账号服务的 JSON 结构保持一致
type JSONSerializer struct{}

var _ Serializer = (*JSONSerializer)(nil)

func (*JSONSerializer) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (*JSONSerializer) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

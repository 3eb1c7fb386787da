package cache

import "github.com/tokmz/livehub/pkg/errors"

// 预定义错误
var (
	ErrCacheNotFound      = errors.New(3101, 404, "cache key not found", nil)
	ErrCacheConnection    = errors.New(3103, 500, "cache connection failed", nil)
	ErrCacheSerialization = errors.New(3104, 500, "cache serialization failed", nil)
	ErrCacheInvalidConfig = errors.New(3105, 500, "cache invalid config", nil)
	ErrCacheOperation     = errors.New(3106, 500, "cache operation failed", nil)
)

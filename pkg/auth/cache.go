package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/tokmz/livehub/pkg/ws"
)

// CachingVerifier 缓存有效的校验结果
// 无效结果和错误不缓存，吊销在 ttl 内对已缓存令牌不生效；
// 带过期时间的结果在过期后不再命中
type CachingVerifier struct {
	next  ws.Verifier
	cache *expirable.LRU[string, ws.VerifyResult]
	clock clock.Clock
}

// CacheOption CachingVerifier 选项
type CacheOption func(*CachingVerifier)

// WithCacheClock 替换判断凭证过期的时钟，应与下游校验器一致
func WithCacheClock(c clock.Clock) CacheOption {
	return func(v *CachingVerifier) { v.clock = c }
}

// NewCachingVerifier size 为最大条目数，ttl 为单条有效期
func NewCachingVerifier(next ws.Verifier, size int, ttl time.Duration, opts ...CacheOption) *CachingVerifier {
	if size <= 0 {
		size = 10000
	}
	c := &CachingVerifier{
		next:  next,
		cache: expirable.NewLRU[string, ws.VerifyResult](size, nil, ttl),
		clock: clock.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Verify 实现 ws.Verifier
func (c *CachingVerifier) Verify(ctx context.Context, token string) (*ws.VerifyResult, error) {
	key := tokenKey(token)
	if res, ok := c.cache.Get(key); ok {
		if !c.expired(res) {
			r := res
			r.Roles = append([]string(nil), res.Roles...)
			return &r, nil
		}
		c.cache.Remove(key)
	}

	res, err := c.next.Verify(ctx, token)
	if err != nil || res == nil || !res.Valid || c.expired(*res) {
		return res, err
	}
	stored := *res
	stored.Roles = append([]string(nil), res.Roles...)
	c.cache.Add(key, stored)
	return res, nil
}

func (c *CachingVerifier) expired(res ws.VerifyResult) bool {
	return !res.ExpiresAt.IsZero() && !c.clock.Now().Before(res.ExpiresAt)
}

// Forget 移除单个令牌
func (c *CachingVerifier) Forget(token string) {
	c.cache.Remove(tokenKey(token))
}

// Purge 清空缓存
func (c *CachingVerifier) Purge() { c.cache.Purge() }

// Len 当前条目数
func (c *CachingVerifier) Len() int { return c.cache.Len() }

func tokenKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

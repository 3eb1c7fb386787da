package middleware

import (
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/tokmz/livehub/pkg/errors"
	"github.com/tokmz/livehub/pkg/logger"
)

// RateLimiterConfig 限流中间件配置
type RateLimiterConfig struct {
	// RequestsPerSecond 每秒补充的令牌数
	RequestsPerSecond float64

	// Burst 桶容量，<= 0 时取 RequestsPerSecond 向上取整
	Burst int

	// KeyFunc 限流 key，默认客户端 IP
	KeyFunc func(c *gin.Context) string

	Logger logger.Logger
	Clock  clock.Clock

	// BucketExpiry 空闲多久后回收桶（默认 10 分钟）
	BucketExpiry time.Duration

	// ErrorHandler 输出超限响应，err 为带 retry_after_ms 的 ErrRateLimitExceeded
	// 默认按 {code, message, details} 输出 JSON
	ErrorHandler func(c *gin.Context, err *errors.Error)
}

// abortWithError 按错误的 HTTP 状态码输出 JSON
func abortWithError(c *gin.Context, err *errors.Error) {
	c.AbortWithStatusJSON(err.HttpCode, gin.H{
		"code":    err.Code,
		"message": err.Message,
		"details": err.Details,
	})
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterStore 按 key 维护令牌桶，空闲超过 expiry 的桶惰性回收
type limiterStore struct {
	mu          sync.Mutex
	visitors    map[string]*visitor
	limit       rate.Limit
	burst       int
	expiry      time.Duration
	lastCleanup time.Time
}

// take 取一个令牌，失败时返回需要等待的时长
func (s *limiterStore) take(key string, now time.Time) (bool, time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if now.Sub(s.lastCleanup) > s.expiry {
		for k, v := range s.visitors {
			if now.Sub(v.lastSeen) > s.expiry {
				delete(s.visitors, k)
			}
		}
		s.lastCleanup = now
	}

	v, ok := s.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(s.limit, s.burst)}
		s.visitors[key] = v
	}
	v.lastSeen = now

	r := v.limiter.ReserveN(now, 1)
	if wait := r.DelayFrom(now); wait > 0 {
		r.CancelAt(now)
		return false, wait
	}
	return true, 0
}

// RateLimiter 令牌桶限流，超限返回 429 与 Retry-After
func RateLimiter(cfg RateLimiterConfig) gin.HandlerFunc {
	if cfg.RequestsPerSecond <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	if cfg.Burst <= 0 {
		cfg.Burst = int(math.Ceil(cfg.RequestsPerSecond))
	}
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = func(c *gin.Context) string { return c.ClientIP() }
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.BucketExpiry <= 0 {
		cfg.BucketExpiry = 10 * time.Minute
	}
	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = abortWithError
	}

	store := &limiterStore{
		visitors:    make(map[string]*visitor),
		limit:       rate.Limit(cfg.RequestsPerSecond),
		burst:       cfg.Burst,
		expiry:      cfg.BucketExpiry,
		lastCleanup: cfg.Clock.Now(),
	}

	return func(c *gin.Context) {
		key := cfg.KeyFunc(c)
		ok, wait := store.take(key, cfg.Clock.Now())
		if ok {
			c.Next()
			return
		}

		cfg.Logger.Warn("handshake rate limit exceeded",
			zap.String("key", key),
			zap.String("path", c.Request.URL.Path),
		)
		retry := int(math.Ceil(wait.Seconds()))
		c.Header("Retry-After", strconv.Itoa(max(retry, 1)))
		cfg.ErrorHandler(c, errors.ErrRateLimitExceeded.
			WithMessage("too many handshakes").
			WithDetails(map[string]any{"retry_after_ms": wait.Milliseconds()}))
	}
}

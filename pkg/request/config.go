package request

import (
	"net/http"
	"time"

	"github.com/tokmz/livehub/pkg/logger"
)

// Config HTTP 客户端配置
type Config struct {
	BaseURL      string
	Timeout      time.Duration // 单次请求超时，Request.SetTimeout 可覆盖
	Headers      map[string]string
	Pool         PoolConfig
	Retry        *RetryConfig // nil 不重试
	Interceptors []Interceptor
	Logger       logger.Logger
	// EnableTracing 注入 traceparent 并补充 User-Agent
	EnableTracing bool
	Transport     http.RoundTripper // 非 nil 时忽略 Pool
}

// PoolConfig 连接池配置
//
// 客户端通常只访问一个上游（账号服务），所以每 Host 空闲连接数与总数相同。
type PoolConfig struct {
	MaxIdle     int
	IdleTimeout time.Duration
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Timeout: 5 * time.Second,
		Headers: map[string]string{"Accept": "application/json"},
		Pool:    PoolConfig{MaxIdle: 32, IdleTimeout: 90 * time.Second},
	}
}

func (c *Config) transport() http.RoundTripper {
	if c.Transport != nil {
		return c.Transport
	}
	return &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        c.Pool.MaxIdle,
		MaxIdleConnsPerHost: c.Pool.MaxIdle,
		IdleConnTimeout:     c.Pool.IdleTimeout,
	}
}

// Option 配置选项函数
type Option func(*Config)

// WithBaseURL 设置基础 URL
func WithBaseURL(url string) Option { return func(c *Config) { c.BaseURL = url } }

// WithTimeout 设置请求超时
func WithTimeout(d time.Duration) Option { return func(c *Config) { c.Timeout = d } }

// WithHeader 设置默认请求头
func WithHeader(key, value string) Option {
	return func(c *Config) {
		if c.Headers == nil {
			c.Headers = make(map[string]string)
		}
		c.Headers[key] = value
	}
}

// WithPool 设置连接池
func WithPool(maxIdle int, idleTimeout time.Duration) Option {
	return func(c *Config) { c.Pool = PoolConfig{MaxIdle: maxIdle, IdleTimeout: idleTimeout} }
}

// WithRetry 设置重试配置
func WithRetry(cfg *RetryConfig) Option { return func(c *Config) { c.Retry = cfg } }

// WithInterceptor 追加拦截器
func WithInterceptor(i Interceptor) Option {
	return func(c *Config) { c.Interceptors = append(c.Interceptors, i) }
}

// WithLogger 设置日志器
func WithLogger(l logger.Logger) Option { return func(c *Config) { c.Logger = l } }

// WithTracing 启用 OpenTelemetry 追踪
func WithTracing(enable bool) Option { return func(c *Config) { c.EnableTracing = enable } }

// WithTransport 设置自定义 Transport
func WithTransport(t http.RoundTripper) Option { return func(c *Config) { c.Transport = t } }

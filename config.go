package livehub

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tokmz/livehub/pkg/bus"
	"github.com/tokmz/livehub/pkg/logger"
)

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	// Addr 监听地址，默认 ":8080"
	Addr string

	ReadHeaderTimeout time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
}

// ShutdownConfig 关机配置
type ShutdownConfig struct {
	// Timeout 关机超时时间，默认 15 秒
	Timeout time.Duration

	// BeforeShutdown 关机前回调
	BeforeShutdown func()

	// AfterShutdown 关机后回调
	AfterShutdown func()
}

// Config 服务配置
type Config struct {
	// Mode 运行模式：debug, release, test
	Mode string

	Server   ServerConfig
	Shutdown ShutdownConfig

	// TrustedProxies 信任的代理 IP
	TrustedProxies []string

	// AdminToken 管理接口令牌，为空时不注册 /admin 路由
	AdminToken string

	// HandshakeRate 每 IP 每秒握手次数，<= 0 不限流
	HandshakeRate  float64
	HandshakeBurst int

	Logger logger.Logger

	// Publisher 管理广播的出口，nil 时直接投递到本节点
	Publisher bus.Publisher

	// Gatherer /metrics 数据来源，nil 时不注册该路由
	Gatherer prometheus.Gatherer

	// Banner 启动时打印 banner 与路由表
	Banner bool
}

// Option 配置选项函数
type Option func(*Config)

func defaultConfig() *Config {
	return &Config{
		Mode: gin.ReleaseMode,
		Server: ServerConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       60 * time.Second,
			MaxHeaderBytes:    1 << 20,
		},
		Shutdown: ShutdownConfig{
			Timeout: 15 * time.Second,
		},
		HandshakeRate:  20,
		HandshakeBurst: 40,
		Banner:         true,
	}
}

// WithMode 设置运行模式
func WithMode(mode string) Option {
	return func(c *Config) {
		if mode != "" {
			c.Mode = mode
		}
	}
}

// WithAddr 设置监听地址
func WithAddr(addr string) Option {
	return func(c *Config) {
		c.Server.Addr = addr
	}
}

// WithShutdownTimeout 设置关机超时时间
func WithShutdownTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.Shutdown.Timeout = timeout
	}
}

// WithBeforeShutdown 设置关机前回调
func WithBeforeShutdown(fn func()) Option {
	return func(c *Config) {
		c.Shutdown.BeforeShutdown = fn
	}
}

// WithAfterShutdown 设置关机后回调
func WithAfterShutdown(fn func()) Option {
	return func(c *Config) {
		c.Shutdown.AfterShutdown = fn
	}
}

// WithTrustedProxies 设置信任的代理
func WithTrustedProxies(proxies ...string) Option {
	return func(c *Config) {
		c.TrustedProxies = proxies
	}
}

// WithAdminToken 启用管理接口
func WithAdminToken(token string) Option {
	return func(c *Config) {
		c.AdminToken = token
	}
}

// WithHandshakeLimit 每 IP 握手限流
func WithHandshakeLimit(rate float64, burst int) Option {
	return func(c *Config) {
		c.HandshakeRate = rate
		c.HandshakeBurst = burst
	}
}

// WithLogger 设置日志
func WithLogger(l logger.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// WithPublisher 设置管理广播出口
func WithPublisher(p bus.Publisher) Option {
	return func(c *Config) {
		c.Publisher = p
	}
}

// WithGatherer 注册 /metrics
func WithGatherer(g prometheus.Gatherer) Option {
	return func(c *Config) {
		c.Gatherer = g
	}
}

// WithBanner 是否打印启动 banner
func WithBanner(enable bool) Option {
	return func(c *Config) {
		c.Banner = enable
	}
}

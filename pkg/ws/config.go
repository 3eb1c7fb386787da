package ws

import (
	"fmt"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"

	"github.com/tokmz/livehub/pkg/cache"
	"github.com/tokmz/livehub/pkg/logger"
)

// Config 连接中心配置
type Config struct {
	// 连接配置
	MaxConnections    int           // 最大连接数，超过时拒绝握手
	MaxMessageSize    int64         // 单帧最大字节数
	SendQueueSize     int           // 每连接发送队列长度
	WriteWait         time.Duration // 单帧写超时
	InvalidFrameLimit int           // 连续无效帧上限，超过后断开

	// 心跳与清理
	HeartbeatInterval time.Duration // 服务端 ping 间隔
	StaleAfter        time.Duration // 超过该时长未活跃视为失效
	SweepInterval     time.Duration // 失效清理间隔
	MetricsInterval   time.Duration // 指标日志间隔

	// 认证
	VerifyTimeout   time.Duration // 外部校验超时
	ReconnectWindow time.Duration // 断开后该时长内同一身份再次连接计为重连

	// 关闭
	CloseGrace time.Duration // 关闭连接时等待发送完成的时长

	// 限流
	RateLimit RateLimitConfig

	// Upgrader 配置
	UpgraderConfig UpgraderConfig

	// 事件总线
	EventWorkers   int
	EventQueueSize int

	ServerID   string // 节点标识，写入 connected 帧；为空时与连接 ID 前缀相同
	Namespaces []*Namespace
	RateStore  RateStore   // 为 nil 时使用内存存储
	Departed   cache.Cache // 记录最近断开的身份，为 nil 时使用内存缓存
	Logger     logger.Logger
	Clock      clock.Clock
	Closers    []NamedCloser // 关闭时释放的外部资源
}

// RateLimitConfig 事件限流配置
type RateLimitConfig struct {
	MaxEvents int
	Window    time.Duration
}

// NamedCloser 关闭时释放的外部资源
type NamedCloser struct {
	Name  string
	Close func() error
}

// UpgraderConfig Upgrader 配置
type UpgraderConfig struct {
	ReadBufferSize    int
	WriteBufferSize   int
	HandshakeTimeout  time.Duration
	CheckOrigin       func(*http.Request) bool
	EnableCompression bool
	AllowedOrigins    []string // Origin 白名单，"*" 允许全部
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		MaxConnections:    10000,
		MaxMessageSize:    64 * 1024,
		SendQueueSize:     256,
		WriteWait:         10 * time.Second,
		InvalidFrameLimit: 10,
		HeartbeatInterval: 25 * time.Second,
		StaleAfter:        75 * time.Second,
		SweepInterval:     30 * time.Second,
		MetricsInterval:   60 * time.Second,
		VerifyTimeout:     5 * time.Second,
		ReconnectWindow:   2 * time.Minute,
		CloseGrace:        3 * time.Second,
		RateLimit: RateLimitConfig{
			MaxEvents: 30,
			Window:    10 * time.Second,
		},
		UpgraderConfig: UpgraderConfig{
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			HandshakeTimeout: 10 * time.Second,
		},
		EventWorkers:   4,
		EventQueueSize: 1024,
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.MaxConnections <= 0 {
		return fmt.Errorf("%w: MaxConnections must be positive, got %d", ErrInvalidConfig, c.MaxConnections)
	}
	if c.MaxMessageSize <= 0 {
		return fmt.Errorf("%w: MaxMessageSize must be positive, got %d", ErrInvalidConfig, c.MaxMessageSize)
	}
	if c.SendQueueSize <= 0 {
		return fmt.Errorf("%w: SendQueueSize must be positive, got %d", ErrInvalidConfig, c.SendQueueSize)
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("%w: HeartbeatInterval must be positive, got %v", ErrInvalidConfig, c.HeartbeatInterval)
	}
	if c.StaleAfter <= c.HeartbeatInterval {
		return fmt.Errorf("%w: StaleAfter (%v) must be greater than HeartbeatInterval (%v)",
			ErrInvalidConfig, c.StaleAfter, c.HeartbeatInterval)
	}
	if c.SweepInterval <= 0 || c.MetricsInterval <= 0 {
		return fmt.Errorf("%w: SweepInterval and MetricsInterval must be positive", ErrInvalidConfig)
	}
	if c.CloseGrace <= 0 {
		return fmt.Errorf("%w: CloseGrace must be positive, got %v", ErrInvalidConfig, c.CloseGrace)
	}
	if c.RateLimit.MaxEvents <= 0 || c.RateLimit.Window <= 0 {
		return fmt.Errorf("%w: RateLimit must have positive MaxEvents and Window", ErrInvalidConfig)
	}
	if len(c.Namespaces) == 0 {
		return fmt.Errorf("%w: at least one namespace is required", ErrInvalidConfig)
	}
	return nil
}

// Option 配置选项
type Option func(*Config)

// WithMaxConnections 设置最大连接数
func WithMaxConnections(max int) Option {
	return func(c *Config) { c.MaxConnections = max }
}

// WithMaxMessageSize 设置单帧大小上限
func WithMaxMessageSize(size int64) Option {
	return func(c *Config) { c.MaxMessageSize = size }
}

// WithSendQueueSize 设置发送队列长度
func WithSendQueueSize(size int) Option {
	return func(c *Config) { c.SendQueueSize = size }
}

// WithHeartbeat 设置心跳间隔与失效时长
func WithHeartbeat(interval, staleAfter time.Duration) Option {
	return func(c *Config) {
		c.HeartbeatInterval = interval
		c.StaleAfter = staleAfter
	}
}

// WithSweepInterval 设置失效清理间隔
func WithSweepInterval(d time.Duration) Option {
	return func(c *Config) { c.SweepInterval = d }
}

// WithMetricsInterval 设置指标日志间隔
func WithMetricsInterval(d time.Duration) Option {
	return func(c *Config) { c.MetricsInterval = d }
}

// WithVerifyTimeout 设置外部校验超时
func WithVerifyTimeout(d time.Duration) Option {
	return func(c *Config) { c.VerifyTimeout = d }
}

// WithReconnectWindow 设置重连判定窗口
func WithReconnectWindow(d time.Duration) Option {
	return func(c *Config) { c.ReconnectWindow = d }
}

// WithCloseGrace 设置关闭宽限期
func WithCloseGrace(d time.Duration) Option {
	return func(c *Config) { c.CloseGrace = d }
}

// WithRateLimit 设置事件限流
func WithRateLimit(maxEvents int, window time.Duration) Option {
	return func(c *Config) {
		c.RateLimit = RateLimitConfig{MaxEvents: maxEvents, Window: window}
	}
}

// WithRateStore 设置限流存储
func WithRateStore(store RateStore) Option {
	return func(c *Config) { c.RateStore = store }
}

// WithNamespaces 设置命名空间
func WithNamespaces(ns ...*Namespace) Option {
	return func(c *Config) { c.Namespaces = ns }
}

// WithDepartedCache 设置重连判定缓存
func WithDepartedCache(cc cache.Cache) Option {
	return func(c *Config) { c.Departed = cc }
}

// WithLogger 设置日志
func WithLogger(l logger.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// WithClock 设置时钟
func WithClock(clk clock.Clock) Option {
	return func(c *Config) { c.Clock = clk }
}

// WithCloser 注册关闭时释放的外部资源
func WithCloser(name string, fn func() error) Option {
	return func(c *Config) {
		c.Closers = append(c.Closers, NamedCloser{Name: name, Close: fn})
	}
}

// WithCheckOrigin 设置 Origin 检查函数
func WithCheckOrigin(fn func(*http.Request) bool) Option {
	return func(c *Config) { c.UpgraderConfig.CheckOrigin = fn }
}

// WithServerID 设置节点标识
func WithServerID(id string) Option {
	return func(c *Config) { c.ServerID = id }
}

// WithAllowedOrigins 设置 Origin 白名单
// 示例：WithAllowedOrigins("https://play.example.com")
func WithAllowedOrigins(origins ...string) Option {
	return func(c *Config) { c.UpgraderConfig.AllowedOrigins = origins }
}

// WithEnableCompression 启用压缩
func WithEnableCompression(enable bool) Option {
	return func(c *Config) { c.UpgraderConfig.EnableCompression = enable }
}

// defaultCheckOrigin 同源检查；没有 Origin 的非浏览器客户端放行
func defaultCheckOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return origin == "http://"+r.Host || origin == "https://"+r.Host
}

// whitelistChecker Origin 白名单检查
func whitelistChecker(allowed []string) func(*http.Request) bool {
	whitelist := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		whitelist[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		return whitelist[origin]
	}
}

// newUpgrader 创建升级器
func newUpgrader(cfg UpgraderConfig) websocket.Upgrader {
	check := cfg.CheckOrigin
	if check == nil {
		if len(cfg.AllowedOrigins) > 0 {
			check = whitelistChecker(cfg.AllowedOrigins)
		} else {
			check = defaultCheckOrigin
		}
	}
	return websocket.Upgrader{
		ReadBufferSize:    cfg.ReadBufferSize,
		WriteBufferSize:   cfg.WriteBufferSize,
		HandshakeTimeout:  cfg.HandshakeTimeout,
		CheckOrigin:       check,
		EnableCompression: cfg.EnableCompression,
		Subprotocols:      []string{Subprotocol},
	}
}

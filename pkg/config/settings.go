package config

import (
	"fmt"
	"strings"
	"time"
)

// Settings livehub 进程配置
type Settings struct {
	Server   ServerSettings   `mapstructure:"server"`
	Hub      HubSettings      `mapstructure:"hub"`
	Limiter  LimiterSettings  `mapstructure:"limiter"`
	Auth     AuthSettings     `mapstructure:"auth"`
	Redis    RedisSettings    `mapstructure:"redis"`
	Database DatabaseSettings `mapstructure:"database"`
	Bus      BusSettings      `mapstructure:"bus"`
	Tracing  TracingSettings  `mapstructure:"tracing"`
	Log      LogSettings      `mapstructure:"log"`
}

// ServerSettings HTTP 服务配置
type ServerSettings struct {
	Addr            string        `mapstructure:"addr"`
	Mode            string        `mapstructure:"mode"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AdminToken      string        `mapstructure:"admin_token"`
	HandshakeRate   float64       `mapstructure:"handshake_rate"`  // 每 IP 每秒握手次数
	HandshakeBurst  int           `mapstructure:"handshake_burst"` // 每 IP 突发握手次数
}

// HubSettings 连接中心配置
type HubSettings struct {
	MaxConnections    int           `mapstructure:"max_connections"`
	MaxMessageSize    int64         `mapstructure:"max_message_size"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	StaleAfter        time.Duration `mapstructure:"stale_after"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
	MetricsInterval   time.Duration `mapstructure:"metrics_interval"`
	CloseGrace        time.Duration `mapstructure:"close_grace"`
	VerifyTimeout     time.Duration `mapstructure:"verify_timeout"`
	ReconnectWindow   time.Duration `mapstructure:"reconnect_window"`
	AllowedOrigins    []string      `mapstructure:"allowed_origins"`
	NamespacesFile    string        `mapstructure:"namespaces_file"` // 命名空间策略文件（可选）
}

// LimiterSettings 事件限流配置
type LimiterSettings struct {
	MaxEvents int           `mapstructure:"max_events"`
	Window    time.Duration `mapstructure:"window"`
	Store     string        `mapstructure:"store"` // memory | redis
}

// AuthSettings 身份校验配置
type AuthSettings struct {
	JWTSecret     string        `mapstructure:"jwt_secret"`
	Issuer        string        `mapstructure:"issuer"`
	CacheTTL      time.Duration `mapstructure:"cache_ttl"`
	CacheSize     int           `mapstructure:"cache_size"`
	Accounts      string        `mapstructure:"accounts"` // static | cache | sql | http
	AccountsURL   string        `mapstructure:"accounts_url"`
	AccountsToken string        `mapstructure:"accounts_token"`
	RevokedIDs    []string      `mapstructure:"revoked_ids"`
}

// RedisSettings Redis 连接配置
type RedisSettings struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// DatabaseSettings 账号库配置
type DatabaseSettings struct {
	Type     string   `mapstructure:"type"`
	DSN      string   `mapstructure:"dsn"`
	Replicas []string `mapstructure:"replicas"`
}

// BusSettings 外部广播总线配置
type BusSettings struct {
	Kind         string   `mapstructure:"kind"` // none | redis | kafka | amqp
	RedisChannel string   `mapstructure:"redis_channel"`
	KafkaBrokers []string `mapstructure:"kafka_brokers"`
	KafkaTopic   string   `mapstructure:"kafka_topic"`
	KafkaGroup   string   `mapstructure:"kafka_group"`
	AMQPURL      string   `mapstructure:"amqp_url"`
	AMQPQueue    string   `mapstructure:"amqp_queue"`
}

// TracingSettings 链路追踪配置
type TracingSettings struct {
	Enabled      bool    `mapstructure:"enabled"`
	Exporter     string  `mapstructure:"exporter"`
	Endpoint     string  `mapstructure:"endpoint"`
	SamplingRate float64 `mapstructure:"sampling_rate"`
}

// LogSettings 日志配置
type LogSettings struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"` // 非空时按大小轮转
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	Sampling   bool   `mapstructure:"sampling"`
}

// Defaults 返回全部配置项的默认值
func Defaults() map[string]any {
	return map[string]any{
		"server.addr":             ":8080",
		"server.mode":             "release",
		"server.shutdown_timeout": 15 * time.Second,
		"server.admin_token":      "",
		"server.handshake_rate":   20.0,
		"server.handshake_burst":  40,

		"hub.max_connections":    10000,
		"hub.max_message_size":   int64(64 * 1024),
		"hub.heartbeat_interval": 25 * time.Second,
		"hub.stale_after":        75 * time.Second,
		"hub.sweep_interval":     30 * time.Second,
		"hub.metrics_interval":   60 * time.Second,
		"hub.close_grace":        3 * time.Second,
		"hub.verify_timeout":     5 * time.Second,
		"hub.reconnect_window":   2 * time.Minute,
		"hub.allowed_origins":    []string{},
		"hub.namespaces_file":    "",

		"limiter.max_events": 30,
		"limiter.window":     10 * time.Second,
		"limiter.store":      "memory",

		"auth.jwt_secret":     "",
		"auth.issuer":         "",
		"auth.cache_ttl":      30 * time.Second,
		"auth.cache_size":     10000,
		"auth.accounts":       "static",
		"auth.accounts_url":   "",
		"auth.accounts_token": "",
		"auth.revoked_ids":    []string{},

		"redis.addr":     "localhost:6379",
		"redis.password": "",
		"redis.db":       0,

		"database.type":     "postgres",
		"database.dsn":      "",
		"database.replicas": []string{},

		"bus.kind":          "none",
		"bus.redis_channel": "livehub:broadcast",
		"bus.kafka_brokers": []string{},
		"bus.kafka_topic":   "livehub.broadcast",
		"bus.kafka_group":   "livehub",
		"bus.amqp_url":      "",
		"bus.amqp_queue":    "livehub.broadcast",

		"tracing.enabled":       false,
		"tracing.exporter":      "stdout",
		"tracing.endpoint":      "",
		"tracing.sampling_rate": 1.0,

		"log.level":       "info",
		"log.format":      "json",
		"log.file":        "",
		"log.max_size_mb": 100,
		"log.max_backups": 10,
		"log.sampling":    false,
	}
}

// LoadSettings 读取配置文件（可为空）与 LIVEHUB_ 前缀环境变量
func LoadSettings(path string, opts ...Option) (*Settings, *Config, error) {
	base := []Option{
		WithDefaults(Defaults()),
		WithEnvPrefix("LIVEHUB"),
		WithEnvKeyReplacer(strings.NewReplacer(".", "_")),
	}
	if path != "" {
		base = append(base, WithConfigFile(path))
	}

	c := New(append(base, opts...)...)
	if err := c.Load(); err != nil {
		return nil, nil, err
	}

	s := &Settings{}
	if err := c.Unmarshal(s); err != nil {
		return nil, nil, err
	}
	if err := s.Validate(); err != nil {
		return nil, nil, err
	}
	return s, c, nil
}

// Validate 校验配置
func (s *Settings) Validate() error {
	var problems []string

	if s.Server.Addr == "" {
		problems = append(problems, "server.addr is required")
	}
	if s.Hub.MaxConnections <= 0 {
		problems = append(problems, "hub.max_connections must be positive")
	}
	if s.Hub.HeartbeatInterval <= 0 || s.Hub.StaleAfter <= s.Hub.HeartbeatInterval {
		problems = append(problems, "hub.stale_after must exceed hub.heartbeat_interval")
	}
	if s.Hub.SweepInterval <= 0 || s.Hub.MetricsInterval <= 0 {
		problems = append(problems, "hub.sweep_interval and hub.metrics_interval must be positive")
	}
	if s.Limiter.MaxEvents <= 0 || s.Limiter.Window <= 0 {
		problems = append(problems, "limiter.max_events and limiter.window must be positive")
	}
	switch s.Limiter.Store {
	case "memory", "redis":
	default:
		problems = append(problems, fmt.Sprintf("limiter.store %q is not supported", s.Limiter.Store))
	}
	switch s.Auth.Accounts {
	case "static", "cache", "sql", "http":
	default:
		problems = append(problems, fmt.Sprintf("auth.accounts %q is not supported", s.Auth.Accounts))
	}
	if s.Auth.Accounts == "http" && s.Auth.AccountsURL == "" {
		problems = append(problems, "auth.accounts_url is required for http accounts")
	}
	if s.Auth.Accounts == "sql" && s.Database.DSN == "" {
		problems = append(problems, "database.dsn is required for sql accounts")
	}
	switch s.Bus.Kind {
	case "none", "redis", "kafka", "amqp":
	default:
		problems = append(problems, fmt.Sprintf("bus.kind %q is not supported", s.Bus.Kind))
	}
	if s.Bus.Kind == "kafka" && len(s.Bus.KafkaBrokers) == 0 {
		problems = append(problems, "bus.kafka_brokers is required for kafka bus")
	}
	switch s.Log.Format {
	case "json", "console":
	default:
		problems = append(problems, fmt.Sprintf("log.format %q is not supported", s.Log.Format))
	}
	if s.Bus.Kind == "amqp" && s.Bus.AMQPURL == "" {
		problems = append(problems, "bus.amqp_url is required for amqp bus")
	}

	if len(problems) > 0 {
		return ErrConfigInvalid.WithMessage(strings.Join(problems, "; "))
	}
	return nil
}

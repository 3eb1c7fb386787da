package orm

import (
	"time"

	"github.com/tokmz/livehub/pkg/logger"
)

// DBType 数据库类型
type DBType string

const (
	MySQL      DBType = "mysql"
	PostgreSQL DBType = "postgres"
	SQLite     DBType = "sqlite"
	SQLServer  DBType = "sqlserver"
)

// Config 数据库配置
type Config struct {
	Type DBType // mysql, postgres, sqlite, sqlserver
	DSN  string

	// 连接池配置
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	// GORM 配置
	SkipDefaultTransaction bool
	PrepareStmt            bool
	DisableAutomaticPing   bool

	// 日志配置
	Logger        logger.Logger // 为 nil 时不输出 SQL 日志
	SlowThreshold time.Duration // 慢查询阈值

	// 命名策略
	TablePrefix   string
	SingularTable bool

	// 链路追踪
	Tracing  bool // 注册追踪插件
	TraceSQL bool // span 中记录完整 SQL

	// 读写分离配置（可选）
	ReadWriteSplit *ReadWriteSplitConfig
}

// ReadWriteSplitConfig 读写分离配置
type ReadWriteSplitConfig struct {
	Sources []string // 从库 DSN 列表
	Policy  string   // random, round_robin

	// 从库连接池配置（可选，不设置则使用主库配置）
	MaxIdleConns *int
	MaxOpenConns *int
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Type:            PostgreSQL,
		MaxIdleConns:    5,
		MaxOpenConns:    20,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
		PrepareStmt:     true,
		SlowThreshold:   200 * time.Millisecond,
		Tracing:         true,
	}
}

// Option 配置选项
type Option func(*Config)

// WithType 设置数据库类型
func WithType(t DBType) Option {
	return func(c *Config) { c.Type = t }
}

// WithDSN 设置连接串
func WithDSN(dsn string) Option {
	return func(c *Config) { c.DSN = dsn }
}

// WithLogger 设置日志
func WithLogger(l logger.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// WithReplicas 设置只读从库
func WithReplicas(policy string, dsns ...string) Option {
	return func(c *Config) {
		if len(dsns) == 0 {
			c.ReadWriteSplit = nil
			return
		}
		c.ReadWriteSplit = &ReadWriteSplitConfig{Sources: dsns, Policy: policy}
	}
}

package logger

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap/zapcore"
)

// Config 日志配置
type Config struct {
	Level  Level  // 默认 InfoLevel
	Format Format // json/console，默认 json

	Console bool          // 输出到控制台
	File    string        // 文件路径（空则不输出到文件）
	Rotate  *RotateConfig // 轮转配置（nil 则不轮转）

	// Sampling 高频日志采样（nil 则不采样），连接数大时用于压制逐连接日志
	Sampling *SamplingConfig

	EnableCaller     bool
	EnableStacktrace bool // Error 及以上记录堆栈

	EncoderConfig *zapcore.EncoderConfig
	Hooks         []Hook
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Level:            InfoLevel,
		Format:           JSONFormat,
		Console:          true,
		EnableCaller:     true,
		EnableStacktrace: true,
	}
}

// setDefaults 补全缺省值
func (c *Config) setDefaults() {
	if c.Format == "" {
		c.Format = JSONFormat
	}
	// 没有任何输出时回退到控制台
	if !c.Console && c.File == "" && c.Rotate == nil {
		c.Console = true
	}
}

// Format 日志格式
type Format string

const (
	JSONFormat    Format = "json"
	ConsoleFormat Format = "console"
)

// String 返回格式名称
func (f Format) String() string {
	return string(f)
}

// IsValid 检查格式是否有效
func (f Format) IsValid() bool {
	return f == JSONFormat || f == ConsoleFormat
}

// ParseFormat 解析格式名称，空串视为 json
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	if f == "" {
		return JSONFormat, nil
	}
	if !f.IsValid() {
		return JSONFormat, fmt.Errorf("logger: unknown format %q", s)
	}
	return f, nil
}

// RotateConfig 文件轮转配置（lumberjack）
type RotateConfig struct {
	Filename   string
	MaxSize    int // MB，默认 100
	MaxAge     int // 天，默认 30
	MaxBackups int // 默认 10
	LocalTime  bool
	Compress   bool
}

func (r *RotateConfig) setDefaults() {
	if r.MaxSize <= 0 {
		r.MaxSize = 100
	}
	if r.MaxAge <= 0 {
		r.MaxAge = 30
	}
	if r.MaxBackups <= 0 {
		r.MaxBackups = 10
	}
	r.LocalTime = true
}

// SamplingConfig 每个 Tick 内同一消息前 Initial 条必定记录，之后每 Thereafter 条记录 1 条
type SamplingConfig struct {
	Tick       time.Duration // 默认 1s
	Initial    int           // 默认 100
	Thereafter int           // 默认 100
}

func (s *SamplingConfig) setDefaults() {
	if s.Tick <= 0 {
		s.Tick = time.Second
	}
	if s.Initial <= 0 {
		s.Initial = 100
	}
	if s.Thereafter <= 0 {
		s.Thereafter = 100
	}
}

// Hook 日志钩子，在日志写入时调用
type Hook interface {
	OnWrite(entry zapcore.Entry, fields []zapcore.Field) error
}

// HookFunc 函数适配器
type HookFunc func(entry zapcore.Entry, fields []zapcore.Field) error

// OnWrite 实现 Hook
func (f HookFunc) OnWrite(entry zapcore.Entry, fields []zapcore.Field) error {
	return f(entry, fields)
}

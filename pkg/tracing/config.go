package tracing

import (
	"time"

	"github.com/tokmz/livehub/pkg/errors"
)

// ErrInvalidConfig 追踪配置无效
var ErrInvalidConfig = errors.New(3201, 500, "invalid tracing config", nil)

// Config 链路追踪配置
type Config struct {
	ServiceName    string // 服务名称（必填）
	ServiceVersion string
	Environment    string // dev/staging/prod
	InstanceID     string // 为空时每个进程随机生成

	// 导出器类型：otlp（HTTP）、otlp-grpc、stdout、noop
	ExporterType     string
	ExporterEndpoint string
	ExporterHeaders  map[string]string
	Insecure         bool // 不使用 TLS

	SamplingRate float64 // 0.0-1.0
	SamplingType string  // always/never/ratio/parent_based

	Enabled            bool
	ResourceAttributes map[string]string

	BatchTimeout       time.Duration
	MaxExportBatchSize int
	MaxQueueSize       int
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		ServiceName:        "livehub",
		ServiceVersion:     "dev",
		Environment:        "development",
		ExporterType:       "stdout",
		SamplingRate:       1.0,
		SamplingType:       "parent_based",
		Enabled:            true,
		ResourceAttributes: make(map[string]string),
		BatchTimeout:       5 * time.Second,
		MaxExportBatchSize: 512,
		MaxQueueSize:       2048,
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return ErrInvalidConfig.WithMessage("service name is required")
	}
	if c.SamplingRate < 0 || c.SamplingRate > 1 {
		return ErrInvalidConfig.WithMessage("sampling rate must be between 0.0 and 1.0")
	}
	switch c.ExporterType {
	case "otlp", "otlp-grpc", "stdout", "noop":
	default:
		return ErrInvalidConfig.WithMessage("invalid exporter type: " + c.ExporterType)
	}
	return nil
}

package tracing

import (
	"os"
	"strconv"

	"go.opentelemetry.io/otel/sdk/trace"
)

// newSampler OTEL_TRACES_SAMPLER 优先于配置
// 环境变量的采样率无效时沿用配置中的 SamplingRate
func newSampler(cfg *Config) trace.Sampler {
	name, rate := cfg.SamplingType, cfg.SamplingRate
	if env := os.Getenv("OTEL_TRACES_SAMPLER"); env != "" {
		name = env
		if v, err := strconv.ParseFloat(os.Getenv("OTEL_TRACES_SAMPLER_ARG"), 64); err == nil && v >= 0 && v <= 1 {
			rate = v
		}
	}

	switch name {
	case "always", "always_on":
		return trace.AlwaysSample()
	case "never", "always_off":
		return trace.NeverSample()
	case "ratio", "traceidratio":
		return trace.TraceIDRatioBased(rate)
	case "parentbased_always_on":
		return trace.ParentBased(trace.AlwaysSample())
	case "parentbased_always_off":
		return trace.ParentBased(trace.NeverSample())
	default:
		// parent_based / parentbased_traceidratio
		return trace.ParentBased(trace.TraceIDRatioBased(rate))
	}
}

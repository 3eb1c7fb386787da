package middleware

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// TraceIDKey gin.Context 中保存 trace_id 的键
const TraceIDKey = "trace_id"

// TracingConfig 链路追踪中间件配置
type TracingConfig struct {
	// TracerName 默认 "livehub.http"
	TracerName string

	// ExcludePaths 不追踪的路径
	ExcludePaths []string
}

// Tracing 提取上游 TraceContext 并创建 Server Span
func Tracing(cfgs ...*TracingConfig) gin.HandlerFunc {
	cfg := &TracingConfig{TracerName: "livehub.http"}
	if len(cfgs) > 0 && cfgs[0] != nil {
		cfg = cfgs[0]
		if cfg.TracerName == "" {
			cfg.TracerName = "livehub.http"
		}
	}

	skip := make(map[string]bool, len(cfg.ExcludePaths))
	for _, path := range cfg.ExcludePaths {
		skip[path] = true
	}

	return func(c *gin.Context) {
		if skip[c.Request.URL.Path] {
			c.Next()
			return
		}

		// 每次请求取 tracer，Provider 可能晚于路由注册
		tracer := otel.Tracer(cfg.TracerName)
		propagator := otel.GetTextMapPropagator()
		ctx := propagator.Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))

		route := c.FullPath()
		name := c.Request.Method + " " + route
		if route == "" {
			name = c.Request.Method + " " + c.Request.URL.Path
		}
		attrs := []attribute.KeyValue{
			semconv.HTTPRequestMethodKey.String(c.Request.Method),
			semconv.URLPath(c.Request.URL.Path),
			semconv.ServerAddress(c.Request.Host),
			semconv.UserAgentOriginalKey.String(c.Request.UserAgent()),
			attribute.String("http.client_ip", c.ClientIP()),
		}
		if route != "" {
			attrs = append(attrs, semconv.HTTPRouteKey.String(route))
		}

		ctx, span := tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindServer), trace.WithAttributes(attrs...))
		defer span.End()

		c.Set(TraceIDKey, span.SpanContext().TraceID().String())
		c.Request = c.Request.WithContext(ctx)
		// 升级后的连接无法再写响应头，提前注入
		propagator.Inject(ctx, propagation.HeaderCarrier(c.Writer.Header()))

		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(semconv.HTTPResponseStatusCodeKey.Int(status))
		if status >= 500 {
			span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", status))
		}
	}
}

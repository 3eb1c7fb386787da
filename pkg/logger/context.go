package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type contextKey string

const (
	connIDKey    contextKey = "conn_id"
	subjectIDKey contextKey = "subject_id"
)

// WithConnectionID 在 context 中记录连接 ID
func WithConnectionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, connIDKey, id)
}

// WithSubjectID 在 context 中记录身份主体 ID
func WithSubjectID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, subjectIDKey, id)
}

// ConnectionIDFrom 读取 context 中的连接 ID
func ConnectionIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(connIDKey).(string)
	return id
}

// contextFields 从 context 提取 conn_id、subject_id、trace_id、span_id
func contextFields(ctx context.Context, fields []zap.Field) []zap.Field {
	if ctx == nil {
		return fields
	}
	out := make([]zap.Field, 0, len(fields)+4)

	if id, ok := ctx.Value(connIDKey).(string); ok && id != "" {
		out = append(out, zap.String("conn_id", id))
	}
	if id, ok := ctx.Value(subjectIDKey).(string); ok && id != "" {
		out = append(out, zap.String("subject_id", id))
	}

	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		out = append(out,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}

	return append(out, fields...)
}

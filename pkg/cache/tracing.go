package cache

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const cacheTracerName = "livehub.cache"

// tracedCache 链路追踪缓存装饰器
type tracedCache struct {
	Cache
	tracer trace.Tracer
}

// NewTracing 为缓存操作创建 client span
func NewTracing(c Cache) Cache {
	return &tracedCache{
		Cache:  c,
		tracer: otel.Tracer(cacheTracerName),
	}
}

func (t *tracedCache) do(ctx context.Context, op, key string, fn func(context.Context) error) error {
	ctx, span := t.tracer.Start(ctx, "cache."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("cache.operation", op),
			attribute.String("cache.key", key),
		),
	)
	defer span.End()

	err := fn(ctx)
	switch {
	case errors.Is(err, ErrCacheNotFound):
		// 未命中不算错误
		span.SetAttributes(attribute.Bool("cache.hit", false))
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case op == "get":
		span.SetAttributes(attribute.Bool("cache.hit", true))
	}
	return err
}

func (t *tracedCache) Get(ctx context.Context, key string, value any) error {
	return t.do(ctx, "get", key, func(ctx context.Context) error {
		return t.Cache.Get(ctx, key, value)
	})
}

func (t *tracedCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	return t.do(ctx, "set", key, func(ctx context.Context) error {
		return t.Cache.Set(ctx, key, value, ttl)
	})
}

func (t *tracedCache) Exists(ctx context.Context, key string) (bool, error) {
	var found bool
	err := t.do(ctx, "exists", key, func(ctx context.Context) error {
		var err error
		found, err = t.Cache.Exists(ctx, key)
		return err
	})
	return found, err
}

func (t *tracedCache) IncrBy(ctx context.Context, key string, value int64) (int64, error) {
	var n int64
	err := t.do(ctx, "incrby", key, func(ctx context.Context) error {
		var err error
		n, err = t.Cache.IncrBy(ctx, key, value)
		return err
	})
	return n, err
}

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/tokmz/livehub/pkg/errors"
)

type accountRecord struct {
	Active   bool `json:"active"`
	Verified bool `json:"verified"`
}

func newMemory(t *testing.T) Cache {
	t.Helper()
	c, err := NewWithOptions(WithMemory(DefaultMemoryConfig()), WithKeyPrefix("test:"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestMemoryCache(t *testing.T) {
	ctx := context.Background()
	c := newMemory(t)

	t.Run("set get", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "account:1", accountRecord{Active: true}, time.Minute))

		var got accountRecord
		require.NoError(t, c.Get(ctx, "account:1", &got))
		assert.True(t, got.Active)
		assert.False(t, got.Verified)
	})

	t.Run("missing key", func(t *testing.T) {
		var got accountRecord
		err := c.Get(ctx, "account:404", &got)
		assert.True(t, errors.Is(err, ErrCacheNotFound))
	})

	t.Run("delete and exists", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "departed:7", true, time.Minute))
		ok, err := c.Exists(ctx, "departed:7")
		require.NoError(t, err)
		assert.True(t, ok)

		require.NoError(t, c.Delete(ctx, "departed:7"))
		ok, err = c.Exists(ctx, "departed:7")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("incr keeps expiration", func(t *testing.T) {
		n, err := c.IncrBy(ctx, "window:sub:1", 1)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		require.NoError(t, c.Expire(ctx, "window:sub:1", 30*time.Second))

		n, err = c.Incr(ctx, "window:sub:1")
		require.NoError(t, err)
		assert.Equal(t, int64(2), n)

		ttl, err := c.TTL(ctx, "window:sub:1")
		require.NoError(t, err)
		assert.LessOrEqual(t, ttl, 30*time.Second)
		assert.Greater(t, ttl, 20*time.Second)
	})

	t.Run("expire missing", func(t *testing.T) {
		err := c.Expire(ctx, "nope", time.Second)
		assert.True(t, errors.Is(err, ErrCacheNotFound))
	})

	t.Run("short ttl", func(t *testing.T) {
		require.NoError(t, c.Set(ctx, "flash", 1, 20*time.Millisecond))
		time.Sleep(40 * time.Millisecond)
		ok, err := c.Exists(ctx, "flash")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestTracingDecorator(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	ctx := context.Background()
	c, err := NewWithOptions(WithMemory(DefaultMemoryConfig()), WithTracing(true))
	require.NoError(t, err)
	defer c.Close()

	require.NoError(t, c.Set(ctx, "k", "v", time.Minute))
	var v string
	require.NoError(t, c.Get(ctx, "k", &v))
	assert.Equal(t, "v", v)

	err = c.Get(ctx, "missing", &v)
	assert.True(t, errors.Is(err, ErrCacheNotFound))

	spans := rec.Ended()
	require.Len(t, spans, 3)
	assert.Equal(t, "cache.set", spans[0].Name())
	assert.Equal(t, "cache.get", spans[2].Name())
	assert.Equal(t, codes.Unset, spans[2].Status().Code, "miss is not an error")
	assert.Contains(t, spans[2].Attributes(), attribute.Bool("cache.hit", false))
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		wantErr bool
	}{
		{name: "memory default", cfg: DefaultConfig()},
		{name: "memory without config", cfg: &Config{Driver: DriverMemory, Serializer: &JSONSerializer{}}, wantErr: true},
		{name: "redis without config", cfg: &Config{Driver: DriverRedis, Serializer: &JSONSerializer{}}, wantErr: true},
		{name: "redis cluster without addrs", cfg: &Config{Driver: DriverRedis, Serializer: &JSONSerializer{}, Redis: &RedisConfig{Mode: RedisCluster}}, wantErr: true},
		{name: "sentinel without master", cfg: &Config{Driver: DriverRedis, Serializer: &JSONSerializer{}, Redis: &RedisConfig{Mode: RedisSentinel, Addrs: []string{"a:26379"}}}, wantErr: true},
		{name: "unknown driver", cfg: &Config{Driver: "etcd", Serializer: &JSONSerializer{}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrCacheInvalidConfig))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

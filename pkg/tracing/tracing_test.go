package tracing

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "default", mutate: func(*Config) {}},
		{name: "otlp grpc", mutate: func(c *Config) { c.ExporterType = "otlp-grpc" }},
		{name: "missing service", mutate: func(c *Config) { c.ServiceName = "" }, wantErr: true},
		{name: "rate above one", mutate: func(c *Config) { c.SamplingRate = 1.5 }, wantErr: true},
		{name: "unknown exporter", mutate: func(c *Config) { c.ExporterType = "zipkin" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestNewTracerProvider(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	var buf bytes.Buffer
	prevWriter := stdoutWriter
	stdoutWriter = &buf
	t.Cleanup(func() { stdoutWriter = prevWriter })

	cfg := DefaultConfig()
	cfg.SamplingType = "always"
	cfg.InstanceID = "node-7"
	tp, err := NewTracerProvider(context.Background(), cfg)
	require.NoError(t, err)
	assert.Same(t, tp, GetTracerProvider())

	_, span := StartSpan(context.Background(), "ws.broadcast")
	span.End()

	require.NoError(t, Shutdown(context.Background()))
	assert.Contains(t, buf.String(), "ws.broadcast")
	assert.Contains(t, buf.String(), "node-7")

	assert.Nil(t, GetTracerProvider())
	assert.NoError(t, Shutdown(context.Background()))
}

func TestDisabledUsesNoop(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	cfg := DefaultConfig()
	cfg.Enabled = false
	cfg.ExporterType = "otlp"
	tp, err := NewTracerProvider(context.Background(), cfg)
	require.NoError(t, err)
	assert.NoError(t, tp.Shutdown(context.Background()))
	assert.Equal(t, "otlp", cfg.ExporterType)
}

func TestSamplerFromEnv(t *testing.T) {
	tests := []struct {
		env  string
		arg  string
		want string
	}{
		{env: "always_on", want: "AlwaysOnSampler"},
		{env: "always_off", want: "AlwaysOffSampler"},
		{env: "traceidratio", arg: "0.5", want: "TraceIDRatioBased{0.5}"},
		{env: "traceidratio", arg: "nope", want: "TraceIDRatioBased{1}"},
	}

	for _, tt := range tests {
		t.Run(tt.env+tt.arg, func(t *testing.T) {
			t.Setenv("OTEL_TRACES_SAMPLER", tt.env)
			t.Setenv("OTEL_TRACES_SAMPLER_ARG", tt.arg)
			assert.Contains(t, newSampler(DefaultConfig()).Description(), tt.want)
		})
	}
}

func TestRecordError(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))

	_, span := tp.Tracer("test").Start(context.Background(), "bus.deliver")
	RecordError(span, nil)
	SetAttributes(span, map[string]any{"bus.target": "room", "bus.reached": 3})
	RecordError(span, errors.New("no such room"))
	span.End()

	ended := rec.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, codes.Error, ended[0].Status().Code)
	assert.Len(t, ended[0].Attributes(), 2)
}

func TestOTLPGRPCExporter(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ExporterType = "otlp-grpc"
	cfg.ExporterEndpoint = "127.0.0.1:4317"
	cfg.Insecure = true

	exp, err := newExporter(context.Background(), cfg)
	require.NoError(t, err)
	require.NoError(t, exp.Shutdown(context.Background()))

	assert.Equal(t, "livehub/dev", userAgent(cfg))
	cfg.ServiceVersion = ""
	assert.Equal(t, "livehub", userAgent(cfg))
}

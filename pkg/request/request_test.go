package request

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/tokmz/livehub/pkg/errors"
	"github.com/tokmz/livehub/pkg/logger"
)

type accountStatus struct {
	Active   bool `json:"active"`
	Verified bool `json:"verified"`
}

func TestGet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/accounts/u1", r.URL.Path)
		assert.Equal(t, "full", r.URL.Query().Get("view"))
		json.NewEncoder(w).Encode(accountStatus{Active: true, Verified: true})
	}))
	defer srv.Close()

	client := New(WithBaseURL(srv.URL), WithLogger(logger.NewNop()))
	got, err := Do[accountStatus](client.Get("/accounts/u1").SetQuery("view", "full"))
	require.NoError(t, err)
	assert.Equal(t, accountStatus{Active: true, Verified: true}, *got)
}

func TestHeaders(t *testing.T) {
	tests := []struct {
		name   string
		opts   []Option
		build  func(*Request) *Request
		header string
		want   string
	}{
		{
			name:   "global header",
			opts:   []Option{WithHeader("X-Service", "livehub")},
			build:  func(r *Request) *Request { return r },
			header: "X-Service",
			want:   "livehub",
		},
		{
			name:   "request overrides global",
			opts:   []Option{WithHeader("X-Service", "livehub")},
			build:  func(r *Request) *Request { return r.SetHeader("X-Service", "edge") },
			header: "X-Service",
			want:   "edge",
		},
		{
			name:   "default accept",
			build:  func(r *Request) *Request { return r },
			header: "Accept",
			want:   "application/json",
		},
		{
			name:   "bearer token",
			build:  func(r *Request) *Request { return r.SetBearerToken("abc") },
			header: "Authorization",
			want:   "Bearer abc",
		},
		{
			name:   "auth interceptor",
			opts:   []Option{WithInterceptor(NewAuthInterceptor(func() string { return "svc" }))},
			build:  func(r *Request) *Request { return r },
			header: "Authorization",
			want:   "Bearer svc",
		},
		{
			name:   "interceptor keeps explicit token",
			opts:   []Option{WithInterceptor(NewAuthInterceptor(func() string { return "svc" }))},
			build:  func(r *Request) *Request { return r.SetBearerToken("mine") },
			header: "Authorization",
			want:   "Bearer mine",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got = r.Header.Get(tt.header)
			}))
			defer srv.Close()

			client := New(append([]Option{WithBaseURL(srv.URL)}, tt.opts...)...)
			_, err := tt.build(client.Get("/")).Do()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRetry(t *testing.T) {
	var attempts atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.Equal(t, `{"id":"u1"}`, string(body))
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"active":true}`))
	}))
	defer srv.Close()

	client := New(
		WithBaseURL(srv.URL),
		WithRetry(&RetryConfig{MaxAttempts: 3, InitialDelay: 10 * time.Millisecond, MaxDelay: 50 * time.Millisecond}),
	)

	resp, err := client.Post("/lookup").SetBody(map[string]string{"id": "u1"}).Do()
	require.NoError(t, err)
	assert.True(t, resp.IsSuccess())
	assert.Equal(t, int32(3), attempts.Load())
}

func TestRetryExhausted(t *testing.T) {
	var attempts atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := New(WithBaseURL(srv.URL))
	resp, err := client.Get("/").
		SetRetry(&RetryConfig{MaxAttempts: 2, InitialDelay: 5 * time.Millisecond}).
		Do()
	require.NoError(t, err)
	assert.True(t, resp.IsError())
	assert.Equal(t, int32(3), attempts.Load())
}

func TestTimeouts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	t.Run("request timeout", func(t *testing.T) {
		client := New(WithBaseURL(srv.URL), WithTimeout(5*time.Second))
		_, err := client.Get("/").SetTimeout(50 * time.Millisecond).Do()
		assert.ErrorIs(t, err, ErrRequestFailed)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		client := New(WithBaseURL(srv.URL))
		_, err := client.Get("/").SetContext(ctx).Do()
		assert.Error(t, err)
	})
}

func TestMarshalError(t *testing.T) {
	client := New(WithBaseURL("http://localhost"))
	_, err := client.Post("/").SetBody(make(chan int)).Do()
	assert.ErrorIs(t, err, ErrMarshal)
}

func TestDoHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"not found"}`))
	}))
	defer srv.Close()

	client := New(WithBaseURL(srv.URL))
	got, err := Do[accountStatus](client.Get("/accounts/missing"))
	assert.Nil(t, got)
	require.ErrorIs(t, err, ErrRequestFailed)

	var e *errors.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, http.StatusNotFound, e.Details["status"])
	assert.Equal(t, http.StatusNotFound, StatusOf(err))
	assert.Zero(t, StatusOf(ErrTimeout))
}

func TestRetryAfter(t *testing.T) {
	var attempts atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) == 1 {
			w.Header().Set("Retry-After", "30")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"active":true}`))
	}))
	defer srv.Close()

	client := New(
		WithBaseURL(srv.URL),
		WithRetry(&RetryConfig{MaxAttempts: 1, InitialDelay: time.Millisecond, MaxDelay: 20 * time.Millisecond}),
	)

	start := time.Now()
	resp, err := client.Get("/accounts/u1").Do()
	require.NoError(t, err)
	assert.True(t, resp.IsSuccess())
	assert.Equal(t, int32(2), attempts.Load())
	// Retry-After 被 MaxDelay 截断
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestTracingTransport(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() { otel.SetTextMapPropagator(prev) })

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, UserAgent, r.Header.Get("User-Agent"))
		assert.NotEmpty(t, r.Header.Get("Traceparent"))
	}))
	defer srv.Close()

	tp := sdktrace.NewTracerProvider()
	defer tp.Shutdown(context.Background())
	ctx, span := tp.Tracer("test").Start(context.Background(), "lookup")
	defer span.End()

	client := New(WithBaseURL(srv.URL), WithTracing(true))
	req := client.Get("/accounts/u1").SetContext(ctx)
	resp, err := req.Do()
	require.NoError(t, err)
	assert.True(t, resp.IsSuccess())
	assert.Empty(t, resp.Request.Header.Get("Traceparent"), "caller request must not be mutated")
}

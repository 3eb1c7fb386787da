package request

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const tracerName = "livehub.request"

// Client HTTP 客户端
type Client struct {
	cfg    *Config
	client *http.Client
}

// New 创建 HTTP 客户端
func New(opts ...Option) *Client {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return NewWithConfig(cfg)
}

// NewWithConfig 使用配置创建 HTTP 客户端
func NewWithConfig(cfg *Config) *Client {
	transport := cfg.transport()
	if cfg.EnableTracing {
		transport = newTracingTransport(transport)
	}
	return &Client{
		cfg: cfg,
		client: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
	}
}

// Get 创建 GET 请求
func (c *Client) Get(url string) *Request {
	return newRequest(c, http.MethodGet, url)
}

// Post 创建 POST 请求
func (c *Client) Post(url string) *Request {
	return newRequest(c, http.MethodPost, url)
}

func (c *Client) mergeHeaders(reqHeaders map[string]string) map[string]string {
	merged := make(map[string]string, len(c.cfg.Headers)+len(reqHeaders))
	for k, v := range c.cfg.Headers {
		merged[k] = v
	}
	for k, v := range reqHeaders {
		merged[k] = v
	}
	return merged
}

func (c *Client) execute(r *Request) (*Response, error) {
	retryCfg := r.retry
	if retryCfg == nil {
		retryCfg = c.cfg.Retry
	}
	if retryCfg == nil {
		return c.doOnce(r)
	}

	rc := *retryCfg
	rc.normalize()

	var (
		lastResp *Response
		lastErr  error
	)
	for attempt := 0; attempt <= rc.MaxAttempts; attempt++ {
		lastResp, lastErr = c.doOnce(r)
		if attempt == rc.MaxAttempts {
			break
		}

		var httpResp *http.Response
		if lastResp != nil {
			httpResp = &http.Response{StatusCode: lastResp.StatusCode, Header: lastResp.Headers}
		}
		if !rc.RetryIf(httpResp, lastErr) {
			return lastResp, lastErr
		}

		timer := time.NewTimer(rc.delay(attempt, lastResp))
		select {
		case <-r.ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%w: %w", ErrTimeout, r.ctx.Err())
		case <-timer.C:
		}
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: %w", ErrMaxRetry, lastErr)
	}
	return lastResp, nil
}

func (c *Client) doOnce(r *Request) (*Response, error) {
	httpReq, err := r.build(c.cfg.BaseURL, c.mergeHeaders(r.headers))
	if err != nil {
		return nil, err
	}

	if r.timeout > 0 {
		ctx, cancel := context.WithTimeout(r.ctx, r.timeout)
		defer cancel()
		httpReq = httpReq.WithContext(ctx)
	}

	for _, i := range c.cfg.Interceptors {
		if err := i.BeforeRequest(httpReq.Context(), httpReq); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrRequestFailed, err)
		}
	}

	var span trace.Span
	if c.cfg.EnableTracing {
		var ctx context.Context
		ctx, span = otel.Tracer(tracerName).Start(httpReq.Context(), "HTTP "+httpReq.Method,
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				attribute.String("http.method", httpReq.Method),
				attribute.String("http.url", httpReq.URL.String()),
			),
		)
		defer span.End()
		httpReq = httpReq.WithContext(ctx)
	}

	start := time.Now()
	httpResp, err := c.client.Do(httpReq)
	if err == nil {
		defer httpResp.Body.Close()
	}
	var body []byte
	if err == nil {
		body, err = io.ReadAll(httpResp.Body)
	}
	if err != nil {
		if span != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		if c.cfg.Logger != nil {
			c.cfg.Logger.WarnContext(httpReq.Context(), "upstream request failed",
				zap.String("method", httpReq.Method),
				zap.String("url", httpReq.URL.String()),
				zap.Error(err),
			)
		}
		return nil, fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}

	resp := &Response{
		StatusCode: httpResp.StatusCode,
		Headers:    httpResp.Header,
		Body:       body,
		Duration:   time.Since(start),
		Request:    httpReq,
	}
	if span != nil {
		span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
		if resp.IsError() {
			span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
		}
	}
	if c.cfg.Logger != nil {
		c.cfg.Logger.DebugContext(httpReq.Context(), "upstream request",
			zap.String("method", httpReq.Method),
			zap.String("url", httpReq.URL.String()),
			zap.Int("status", resp.StatusCode),
			zap.Duration("duration", resp.Duration),
		)
	}

	for _, i := range c.cfg.Interceptors {
		if err := i.AfterResponse(httpReq.Context(), resp); err != nil {
			return resp, fmt.Errorf("%w: %w", ErrRequestFailed, err)
		}
	}
	return resp, nil
}

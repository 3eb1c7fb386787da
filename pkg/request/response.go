package request

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/tokmz/livehub/pkg/errors"
)

// Response HTTP 响应包装
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration // 单次请求耗时（不含重试等待）
	Request    *http.Request
}

// IsSuccess 2xx
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// IsError 4xx/5xx
func (r *Response) IsError() bool {
	return r.StatusCode >= 400
}

// Unmarshal JSON 反序列化
func (r *Response) Unmarshal(v any) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return ErrUnmarshal.WithError(err)
	}
	return nil
}

// Do 发送请求并将 2xx 响应体解析为 *T
// 4xx/5xx 返回 ErrRequestFailed，状态码可用 StatusOf 取回
func Do[T any](req *Request) (*T, error) {
	resp, err := req.Do()
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, statusError(resp)
	}
	var result T
	if err := resp.Unmarshal(&result); err != nil {
		return nil, err
	}
	return &result, nil
}

const (
	maxErrorBodyLen = 512
	statusKey       = "status"
)

// statusError 错误信息只保留前 maxErrorBodyLen 字节响应体
func statusError(resp *Response) error {
	body := resp.Body
	if len(body) > maxErrorBodyLen {
		body = body[:maxErrorBodyLen]
	}
	return ErrRequestFailed.
		WithMessage("HTTP "+http.StatusText(resp.StatusCode)+": "+string(body)).
		WithDetails(map[string]any{statusKey: resp.StatusCode})
}

// StatusOf 返回 Do 因 HTTP 状态失败时的状态码，其它错误返回 0
func StatusOf(err error) int {
	e := errors.From(err, nil)
	if e == nil {
		return 0
	}
	status, _ := e.Details[statusKey].(int)
	return status
}

package request

import "github.com/tokmz/livehub/pkg/errors"

// 6000 段错误码：出站 HTTP 调用
var (
	// ErrRequestFailed 请求失败
	ErrRequestFailed = errors.New(6001, 502, "upstream request failed", nil)
	// ErrTimeout 请求超时
	ErrTimeout = errors.New(6002, 504, "upstream request timed out", nil)
	// ErrMarshal 序列化失败
	ErrMarshal = errors.New(6003, 500, "encode request body", nil)
	// ErrUnmarshal 反序列化失败
	ErrUnmarshal = errors.New(6004, 502, "decode response body", nil)
	// ErrMaxRetry 重试次数已用尽
	ErrMaxRetry = errors.New(6005, 502, "upstream retries exhausted", nil)
	// ErrInvalidURL 无效的 URL
	ErrInvalidURL = errors.New(6006, 500, "invalid upstream url", nil)
)

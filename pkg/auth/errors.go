package auth

import "github.com/tokmz/livehub/pkg/errors"

var (
	// ErrInvalidSecret 签名密钥为空
	ErrInvalidSecret = errors.New(4201, 500, "jwt secret is required", nil)
	// ErrAccountLookup 账号状态查询失败
	ErrAccountLookup = errors.New(4202, 503, "account lookup failed", nil)
)

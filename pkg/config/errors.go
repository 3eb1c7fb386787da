package config

import "github.com/tokmz/livehub/pkg/errors"

var (
	// ErrConfigNotFound 配置文件未找到
	ErrConfigNotFound = errors.New(3001, 500, "配置文件未找到", nil)
	// ErrConfigReadFailed 配置读取失败
	ErrConfigReadFailed = errors.New(3003, 500, "配置读取失败", nil)
	// ErrConfigInvalid 配置校验失败
	ErrConfigInvalid = errors.New(3004, 500, "配置无效", nil)
)

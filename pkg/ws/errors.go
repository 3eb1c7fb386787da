package ws

import "errors"

// 内部错误定义，面向客户端的错误见 pkg/errors
var (
	ErrConnectionExists   = errors.New("ws: connection id already registered")
	ErrConnectionNotFound = errors.New("ws: connection not found")
	ErrConnectionClosed   = errors.New("ws: connection closed")
	ErrSendQueueFull      = errors.New("ws: send queue full")
	ErrTooManyConnections = errors.New("ws: too many connections")
	ErrUnknownNamespace   = errors.New("ws: unknown namespace")
	ErrHandlerExists      = errors.New("ws: handler already exists")
	ErrInvalidFrame       = errors.New("ws: invalid frame")
	ErrShuttingDown       = errors.New("ws: hub is shutting down")
	ErrInvalidConfig      = errors.New("ws: invalid config")
)

package bus

import "errors"

var (
	// ErrInvalidEnvelope 消息格式错误
	ErrInvalidEnvelope = errors.New("bus: invalid envelope")
	// ErrPublisherClosed 发布者已关闭
	ErrPublisherClosed = errors.New("bus: publisher closed")
)

// Package bus 接收外部系统通过 Redis、Kafka 或 AMQP 发布的广播请求，
// 并投递给本节点的连接中心。
package bus

import (
	"context"
	"encoding/json"
	"fmt"
)

// Target 投递目标类型
type Target string

const (
	TargetRoom       Target = "room"
	TargetNamespace  Target = "namespace"
	TargetConnection Target = "connection"
)

// Envelope 总线消息
type Envelope struct {
	Target  Target          `json:"target"`
	Name    string          `json:"name"` // 房间名、命名空间名或连接 ID
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate 校验必填字段
func (e Envelope) Validate() error {
	switch e.Target {
	case TargetRoom, TargetNamespace, TargetConnection:
	default:
		return fmt.Errorf("%w: unknown target %q", ErrInvalidEnvelope, e.Target)
	}
	if e.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidEnvelope)
	}
	if e.Event == "" {
		return fmt.Errorf("%w: event is required", ErrInvalidEnvelope)
	}
	return nil
}

// Decode 解析并校验
func Decode(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", ErrInvalidEnvelope, err)
	}
	return e, e.Validate()
}

// Encode 校验并序列化
func Encode(e Envelope) ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}

// Broadcaster 投递目标，*ws.Hub 满足该接口
type Broadcaster interface {
	BroadcastToRoom(ctx context.Context, room, event string, payload any) (int, error)
	BroadcastToNamespace(ctx context.Context, namespace, event string, payload any) (int, error)
	SendToConnection(ctx context.Context, connID, event string, payload any) (int, error)
}

// Handler 处理一条原始消息
type Handler func(ctx context.Context, data []byte) error

// Source 消息来源，Run 阻塞直到 ctx 取消或出错
type Source interface {
	Name() string
	Run(ctx context.Context, h Handler) error
}

// Publisher 向总线发布消息
type Publisher interface {
	Publish(ctx context.Context, e Envelope) error
	Close() error
}

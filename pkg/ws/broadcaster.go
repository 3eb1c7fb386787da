package ws

import (
	"context"
	"encoding/json"

	"github.com/benbjohnson/clock"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/tokmz/livehub/pkg/logger"
)

// Broadcaster 向房间、命名空间或单个连接投递事件
// 负载只编码一次；成员快照在读锁下获取，投递不阻塞
type Broadcaster struct {
	reg     *Registry
	metrics *Metrics
	clock   clock.Clock
	log     logger.Logger
	tracer  trace.Tracer
}

// NewBroadcaster 创建广播器
func NewBroadcaster(reg *Registry, metrics *Metrics, clk clock.Clock, log logger.Logger) *Broadcaster {
	if clk == nil {
		clk = clock.New()
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Broadcaster{
		reg:     reg,
		metrics: metrics,
		clock:   clk,
		log:     log,
		tracer:  otel.Tracer("livehub.ws"),
	}
}

// BroadcastToRoom 投递给房间内全部连接，返回送达数
func (b *Broadcaster) BroadcastToRoom(ctx context.Context, room, event string, payload any) (int, error) {
	ctx, span := b.tracer.Start(ctx, "ws.broadcast.room",
		trace.WithAttributes(attribute.String("ws.room", room), attribute.String("ws.event", event)))
	defer span.End()

	data, err := b.encodeEvent(room, "", event, payload)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	n := b.deliver(ctx, b.reg.Members(room), data)
	span.SetAttributes(attribute.Int("ws.reached", n))
	return n, nil
}

// BroadcastToNamespace 投递给命名空间内全部连接，返回送达数
func (b *Broadcaster) BroadcastToNamespace(ctx context.Context, namespace, event string, payload any) (int, error) {
	ctx, span := b.tracer.Start(ctx, "ws.broadcast.namespace",
		trace.WithAttributes(attribute.String("ws.namespace", namespace), attribute.String("ws.event", event)))
	defer span.End()

	data, err := b.encodeEvent("", namespace, event, payload)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	n := b.deliver(ctx, b.reg.Connections(namespace), data)
	span.SetAttributes(attribute.Int("ws.reached", n))
	return n, nil
}

// SendToConnection 投递给单个连接，返回送达数（0 或 1）
func (b *Broadcaster) SendToConnection(ctx context.Context, connID, event string, payload any) (int, error) {
	c, ok := b.reg.Get(connID)
	if !ok {
		return 0, ErrConnectionNotFound
	}
	data, err := b.encodeEvent("", c.Namespace, event, payload)
	if err != nil {
		return 0, err
	}
	return b.deliver(ctx, []*Connection{c}, data), nil
}

// sendFrame 向单个连接投递控制帧
func (b *Broadcaster) sendFrame(c *Connection, out Outbound) error {
	data, err := encode(out, b.clock.Now())
	if err != nil {
		return err
	}
	if err := c.Send(data); err != nil {
		return err
	}
	b.metrics.AddSent(1)
	return nil
}

// sendError 向单个连接投递错误帧
func (b *Broadcaster) sendError(c *Connection, requestID string, cause error) {
	b.metrics.IncErrors()
	err := b.sendFrame(c, Outbound{Type: FrameError, RequestID: requestID, Error: NewErrorBody(cause)})
	if err != nil {
		b.log.Debug("error frame not delivered", zap.String("conn_id", c.ID), zap.Error(err))
	}
}

func (b *Broadcaster) encodeEvent(room, namespace, event string, payload any) ([]byte, error) {
	out := Outbound{Type: FrameEvent, Room: room, Namespace: namespace, Event: event}
	switch p := payload.(type) {
	case nil:
	case []byte:
		out.Data = json.RawMessage(p)
	default:
		out.Data = p
	}
	return encode(out, b.clock.Now())
}

func (b *Broadcaster) deliver(ctx context.Context, targets []*Connection, data []byte) int {
	reached := 0
	for _, c := range targets {
		if err := c.Send(data); err != nil {
			b.log.DebugContext(ctx, "broadcast frame dropped", zap.String("conn_id", c.ID), zap.Error(err))
			continue
		}
		reached++
	}
	b.metrics.AddSent(reached)
	return reached
}

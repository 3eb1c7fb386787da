package bus

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/tokmz/livehub/pkg/logger"
	"github.com/tokmz/livehub/pkg/tracing"
)

// Deliverer 将总线消息投递给 Broadcaster
type Deliverer struct {
	b   Broadcaster
	log logger.Logger
}

// NewDeliverer 创建投递器
func NewDeliverer(b Broadcaster, log logger.Logger) *Deliverer {
	if log == nil {
		log = logger.NewNop()
	}
	return &Deliverer{b: b, log: log.With(zap.String("component", "bus"))}
}

// Handle 实现 Handler
// 格式错误的消息记录后丢弃，不返回错误，避免来源重复投递
func (d *Deliverer) Handle(ctx context.Context, data []byte) error {
	env, err := Decode(data)
	if err != nil {
		d.log.WarnContext(ctx, "dropping bus message", zap.Error(err), zap.Int("bytes", len(data)))
		return nil
	}
	_, err = d.Deliver(ctx, env)
	return err
}

// Deliver 投递单条消息，返回送达连接数
func (d *Deliverer) Deliver(ctx context.Context, e Envelope) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "bus.deliver",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("bus.target", string(e.Target)),
			attribute.String("bus.name", e.Name),
			attribute.String("bus.event", e.Event),
		),
	)
	defer span.End()

	var payload any
	if len(e.Payload) > 0 {
		payload = e.Payload
	}

	var (
		n   int
		err error
	)
	switch e.Target {
	case TargetRoom:
		n, err = d.b.BroadcastToRoom(ctx, e.Name, e.Event, payload)
	case TargetNamespace:
		n, err = d.b.BroadcastToNamespace(ctx, e.Name, e.Event, payload)
	case TargetConnection:
		n, err = d.b.SendToConnection(ctx, e.Name, e.Event, payload)
	default:
		err = e.Validate()
	}
	tracing.SetAttributes(span, map[string]any{"bus.reached": n, "bus.delivered": err == nil})
	if err != nil {
		tracing.RecordError(span, err)
		d.log.WarnContext(ctx, "bus delivery failed",
			zap.String("target", string(e.Target)),
			zap.String("name", e.Name),
			zap.String("event", e.Event),
			zap.Error(err),
		)
		return n, err
	}
	d.log.DebugContext(ctx, "bus message delivered",
		zap.String("target", string(e.Target)),
		zap.String("name", e.Name),
		zap.Int("reached", n),
	)
	return n, nil
}

// Publish 本节点直接投递，无外部总线时作为 Publisher 使用
func (d *Deliverer) Publish(ctx context.Context, e Envelope) error {
	if err := e.Validate(); err != nil {
		return err
	}
	_, err := d.Deliver(ctx, e)
	return err
}

// Close 实现 Publisher
func (d *Deliverer) Close() error { return nil }

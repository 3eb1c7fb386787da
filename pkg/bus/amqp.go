package bus

import (
	"context"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/multierr"
)

// AMQPSource 消费 AMQP 队列
type AMQPSource struct {
	url   string
	queue string
}

// NewAMQPSource 创建 AMQP 来源，队列不存在时以持久化方式声明
func NewAMQPSource(url, queue string) *AMQPSource {
	return &AMQPSource{url: url, queue: queue}
}

// Name 来源名称
func (s *AMQPSource) Name() string { return "amqp" }

// Run 实现 Source
func (s *AMQPSource) Run(ctx context.Context, h Handler) error {
	conn, err := amqp.Dial(s.url)
	if err != nil {
		return err
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if _, err := ch.QueueDeclare(s.queue, true, false, false, false, nil); err != nil {
		return err
	}
	deliveries, err := ch.ConsumeWithContext(ctx, s.queue, "", false, false, false, false, nil)
	if err != nil {
		return err
	}
	return consumeDeliveries(ctx, deliveries, h)
}

// consumeDeliveries 逐条处理并确认，处理失败也确认，避免毒消息反复投递
func consumeDeliveries(ctx context.Context, deliveries <-chan amqp.Delivery, h Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-deliveries:
			if !ok {
				return amqp.ErrClosed
			}
			_ = h(ctx, d.Body)
			if err := d.Ack(false); err != nil {
				return err
			}
		}
	}
}

// AMQPPublisher 向交换机发布（空交换机名即直接投递到队列）
type AMQPPublisher struct {
	mu         sync.Mutex
	conn       *amqp.Connection
	ch         *amqp.Channel
	exchange   string
	routingKey string
}

// NewAMQPPublisher 建立连接与通道
func NewAMQPPublisher(url, exchange, routingKey string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	return &AMQPPublisher{conn: conn, ch: ch, exchange: exchange, routingKey: routingKey}, nil
}

// Publish 实现 Publisher
func (p *AMQPPublisher) Publish(ctx context.Context, e Envelope) error {
	data, err := Encode(e)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		return ErrPublisherClosed
	}
	return p.ch.PublishWithContext(ctx, p.exchange, p.routingKey, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         data,
	})
}

// Close 实现 Publisher
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		return nil
	}
	err := multierr.Combine(p.ch.Close(), p.conn.Close())
	p.ch, p.conn = nil, nil
	return err
}

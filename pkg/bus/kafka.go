package bus

import (
	"context"
	"sync"

	"github.com/IBM/sarama"
)

// KafkaSource 以消费组方式读取 Kafka 主题
type KafkaSource struct {
	brokers []string
	group   string
	topics  []string
	cfg     *sarama.Config
}

// NewKafkaSource cfg 为 nil 时使用默认配置，从最新位点开始消费
func NewKafkaSource(brokers []string, group string, topics []string, cfg *sarama.Config) *KafkaSource {
	if cfg == nil {
		cfg = sarama.NewConfig()
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
		cfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	}
	return &KafkaSource{brokers: brokers, group: group, topics: topics, cfg: cfg}
}

// Name 来源名称
func (s *KafkaSource) Name() string { return "kafka" }

// Run 实现 Source
func (s *KafkaSource) Run(ctx context.Context, h Handler) error {
	group, err := sarama.NewConsumerGroup(s.brokers, s.group, s.cfg)
	if err != nil {
		return err
	}
	defer group.Close()

	handler := &claimHandler{handle: h}
	for {
		// 重平衡后 Consume 返回，需要重新进入
		if err := group.Consume(ctx, s.topics, handler); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

// claimHandler 实现 sarama.ConsumerGroupHandler
type claimHandler struct {
	handle Handler
}

func (c *claimHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (c *claimHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (c *claimHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case <-sess.Context().Done():
			return nil
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			_ = c.handle(sess.Context(), msg.Value)
			sess.MarkMessage(msg, "")
		}
	}
}

// KafkaPublisher 同步写入 Kafka 主题
type KafkaPublisher struct {
	mu       sync.Mutex
	producer sarama.SyncProducer
	topic    string
	closed   bool
}

// NewKafkaPublisher 连接 brokers 创建发布者
func NewKafkaPublisher(brokers []string, topic string, cfg *sarama.Config) (*KafkaPublisher, error) {
	if cfg == nil {
		cfg = sarama.NewConfig()
	}
	cfg.Producer.Return.Successes = true
	p, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}
	return NewKafkaPublisherWithProducer(p, topic), nil
}

// NewKafkaPublisherWithProducer 使用已有 producer
func NewKafkaPublisherWithProducer(p sarama.SyncProducer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: p, topic: topic}
}

// Publish 实现 Publisher，按目标名分区保证同一房间有序
func (p *KafkaPublisher) Publish(_ context.Context, e Envelope) error {
	data, err := Encode(e)
	if err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPublisherClosed
	}
	_, _, err = p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(e.Name),
		Value: sarama.ByteEncoder(data),
	})
	return err
}

// Close 实现 Publisher
func (p *KafkaPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.producer.Close()
}

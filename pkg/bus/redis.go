package bus

import (
	"context"
	"sync/atomic"

	"github.com/redis/go-redis/v9"
)

// RedisSource 订阅 Redis 频道
type RedisSource struct {
	client   redis.UniversalClient
	channels []string
}

// NewRedisSource 创建 Redis 来源
func NewRedisSource(client redis.UniversalClient, channels ...string) *RedisSource {
	return &RedisSource{client: client, channels: channels}
}

// Name 来源名称
func (s *RedisSource) Name() string { return "redis" }

// Run 实现 Source
func (s *RedisSource) Run(ctx context.Context, h Handler) error {
	sub := s.client.Subscribe(ctx, s.channels...)
	defer sub.Close()

	// 等待订阅确认，连接失败时尽早返回
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return redis.ErrClosed
			}
			_ = h(ctx, []byte(msg.Payload))
		}
	}
}

// RedisPublisher 向 Redis 频道发布
type RedisPublisher struct {
	client  redis.UniversalClient
	channel string
	closed  atomic.Bool
}

// NewRedisPublisher 创建发布者，不负责关闭 client
func NewRedisPublisher(client redis.UniversalClient, channel string) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel}
}

// Publish 实现 Publisher
func (p *RedisPublisher) Publish(ctx context.Context, e Envelope) error {
	if p.closed.Load() {
		return ErrPublisherClosed
	}
	data, err := Encode(e)
	if err != nil {
		return err
	}
	return p.client.Publish(ctx, p.channel, data).Err()
}

// Close 实现 Publisher
func (p *RedisPublisher) Close() error {
	p.closed.Store(true)
	return nil
}

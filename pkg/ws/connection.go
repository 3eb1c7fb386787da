package ws

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Sender 传输层发送端
type Sender interface {
	// Send 非阻塞投递一帧，队列满或已关闭时返回错误
	Send(data []byte) error
	// Close 先发送已排队的数据再关闭，超过宽限期强制断开
	Close(code int, reason string) error
}

// Connection 连接记录
type Connection struct {
	ID          string
	SessionID   string
	Namespace   string
	ConnectedAt time.Time

	sender   Sender
	lastSeen atomic.Int64 // UnixNano

	// mu 保护 identity rooms closed；与房间索引同时持有时先取 mu
	mu       sync.Mutex
	identity *Identity
	rooms    map[string]struct{}
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
}

func newConnection(id, sessionID, namespace string, identity *Identity, sender Sender, now time.Time) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		ID:          id,
		SessionID:   sessionID,
		Namespace:   namespace,
		ConnectedAt: now,
		sender:      sender,
		identity:    identity,
		rooms:       make(map[string]struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}
	c.lastSeen.Store(now.UnixNano())
	return c
}

// Identity 当前身份
func (c *Connection) Identity() *Identity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

// Rooms 已加入的房间（排序）
func (c *Connection) Rooms() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.rooms))
	for r := range c.rooms {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// RoomCount 已加入房间数
func (c *Connection) RoomCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.rooms)
}

// InRoom 是否在房间内
func (c *Connection) InRoom(room string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.rooms[room]
	return ok
}

// Closed 是否已注销
func (c *Connection) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// LastSeen 最近一次活跃时间
func (c *Connection) LastSeen() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

// Context 连接生命周期上下文，注销时取消
func (c *Connection) Context() context.Context {
	return c.ctx
}

// Send 投递一帧
func (c *Connection) Send(data []byte) error {
	return c.sender.Send(data)
}

// Sender 底层发送端
func (c *Connection) Sender() Sender {
	return c.sender
}

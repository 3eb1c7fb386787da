package ws

import (
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
)

// Metrics 运行计数器
// 活跃连接数与房间数不单独计数，快照时由注册表推导
type Metrics struct {
	total         atomic.Int64
	messagesSent  atomic.Int64
	errors        atomic.Int64
	reconnections atomic.Int64

	clock     clock.Clock
	startedAt time.Time
}

// NewMetrics 创建计数器
func NewMetrics(clk clock.Clock) *Metrics {
	if clk == nil {
		clk = clock.New()
	}
	return &Metrics{clock: clk, startedAt: clk.Now()}
}

// AddSent 累加已投递消息数
func (m *Metrics) AddSent(n int) {
	if n > 0 {
		m.messagesSent.Add(int64(n))
	}
}

// IncErrors 错误数加一
func (m *Metrics) IncErrors() { m.errors.Add(1) }

// Uptime 自创建以来的运行时长
func (m *Metrics) Uptime() time.Duration { return m.clock.Now().Sub(m.startedAt) }

// IncReconnections 重连数加一
func (m *Metrics) IncReconnections() { m.reconnections.Add(1) }

// Snapshot 指标快照
type Snapshot struct {
	TotalConnections  int64         `json:"total_connections"`
	ActiveConnections int64         `json:"active_connections"`
	Rooms             int64         `json:"rooms"`
	MessagesSent      int64         `json:"messages_sent"`
	Errors            int64         `json:"errors"`
	Reconnections     int64         `json:"reconnections"`
	Uptime            time.Duration `json:"uptime_ns"`
	Timestamp         time.Time     `json:"timestamp"`
}

// snapshot 由调用方补充注册表推导项
func (m *Metrics) snapshot(active, rooms int) Snapshot {
	now := m.clock.Now()
	return Snapshot{
		TotalConnections:  m.total.Load(),
		ActiveConnections: int64(active),
		Rooms:             int64(rooms),
		MessagesSent:      m.messagesSent.Load(),
		Errors:            m.errors.Load(),
		Reconnections:     m.reconnections.Load(),
		Uptime:            now.Sub(m.startedAt),
		Timestamp:         now,
	}
}

package ws

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// shutdownReason 关闭通知与关闭帧中的原因
const shutdownReason = "server shutting down"

// terminator 支持强制断开的发送端
type terminator interface {
	Terminate()
}

// sweep 清理失效连接，顺带修复房间索引与清理限流窗口
func (h *Hub) sweep() {
	stale := h.reg.SweepStale(h.cfg.StaleAfter)
	for _, c := range stale {
		h.onDeparted(c, "stale")
		c := c
		go func() { _ = c.Sender().Close(websocket.CloseGoingAway, "stale connection") }()
	}
	if len(stale) > 0 {
		h.log.Info("stale connections swept", zap.Int("count", len(stale)))
	}

	if ms, ok := h.cfg.RateStore.(*MemoryRateStore); ok {
		if n := ms.Prune(); n > 0 {
			h.log.Debug("rate windows pruned", zap.Int("count", n))
		}
	}

	if fixed := h.reg.Repair(); fixed > 0 {
		h.log.Warn("room index repaired", zap.Int("entries", fixed))
	}
}

// logMetrics 周期输出指标
func (h *Hub) logMetrics() {
	s := h.Metrics()
	h.log.Info("hub metrics",
		zap.Int64("total_connections", s.TotalConnections),
		zap.Int64("active_connections", s.ActiveConnections),
		zap.Int64("rooms", s.Rooms),
		zap.Int64("messages_sent", s.MessagesSent),
		zap.Int64("errors", s.Errors),
		zap.Int64("reconnections", s.Reconnections),
		zap.Int64("events_dropped", h.events.Dropped()),
		zap.Duration("uptime", s.Uptime))
}

// Shutdown 优雅关闭，只执行一次
//
//  1. 停止接受新连接，停止后台任务
//  2. 向全部连接发送关闭通知
//  3. 并发关闭连接，超过宽限期或 ctx 结束时强制断开
//  4. 清空注册表，释放外部资源
func (h *Hub) Shutdown(ctx context.Context) error {
	h.shutdownOnce.Do(func() {
		h.shutdownErr = h.shutdown(ctx)
	})
	return h.shutdownErr
}

func (h *Hub) shutdown(ctx context.Context) error {
	h.shuttingDown.Store(true)
	h.cancel()
	h.wg.Wait()

	conns := h.reg.Connections("")
	h.log.Info("hub shutting down", zap.Int("connections", len(conns)))

	notice, err := encode(Outbound{Type: FrameShutdown, Data: map[string]string{"reason": shutdownReason}}, h.clock.Now())
	if err == nil {
		sent := 0
		for _, c := range conns {
			if c.Send(notice) == nil {
				sent++
			}
		}
		h.metrics.AddSent(sent)
	}

	errs := h.closeAll(ctx, conns)

	if n := h.reg.Clear(); n > 0 {
		h.log.Debug("registry cleared", zap.Int("connections", n))
	}
	h.closeEvents(ctx)

	for _, c := range h.cfg.Closers {
		if err := c.Close(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("ws: close %s: %w", c.Name, err))
		}
	}
	if h.ownsRecent {
		errs = multierr.Append(errs, h.recent.Close())
	}

	if errs != nil {
		h.log.Warn("hub stopped with errors", zap.Error(errs))
	} else {
		h.log.Info("hub stopped")
	}
	return errs
}

// closeEvents 等待事件处理器结束，最长 CloseGrace
func (h *Hub) closeEvents(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.CloseGrace)
	defer cancel()
	if err := h.events.Close(ctx); err != nil {
		h.log.Warn("event handlers still running after shutdown",
			zap.Int("workers", h.events.Busy()),
			zap.Error(err))
	}
}

// closeAll 并发关闭连接，宽限期后强制断开未完成的连接
func (h *Hub) closeAll(ctx context.Context, conns []*Connection) error {
	if len(conns) == 0 {
		return nil
	}

	done := make([]atomic.Bool, len(conns))
	var g errgroup.Group
	g.SetLimit(64)

	finished := make(chan error, 1)
	go func() {
		for i, c := range conns {
			i, c := i, c
			g.Go(func() error {
				defer done[i].Store(true)
				return c.Sender().Close(websocket.CloseGoingAway, shutdownReason)
			})
		}
		finished <- g.Wait()
	}()

	grace := time.NewTimer(h.cfg.CloseGrace + time.Second)
	defer grace.Stop()

	select {
	case err := <-finished:
		return err
	case <-grace.C:
	case <-ctx.Done():
	}

	forced := 0
	for i, c := range conns {
		if done[i].Load() {
			continue
		}
		forced++
		if t, ok := c.Sender().(terminator); ok {
			t.Terminate()
		}
	}
	h.log.Warn("connections force closed", zap.Int("count", forced))
	return fmt.Errorf("ws: %d connections did not close gracefully", forced)
}

// Metrics 指标快照
func (h *Hub) Metrics() Snapshot {
	return h.metrics.snapshot(h.reg.Count(), h.reg.RoomCount())
}

// ShuttingDown 是否正在关闭
func (h *Hub) ShuttingDown() bool {
	return h.shuttingDown.Load()
}

// BroadcastToRoom 向房间广播，返回送达数
func (h *Hub) BroadcastToRoom(ctx context.Context, room, event string, payload any) (int, error) {
	return h.bc.BroadcastToRoom(ctx, room, event, payload)
}

// BroadcastToNamespace 向命名空间广播，返回送达数
func (h *Hub) BroadcastToNamespace(ctx context.Context, namespace, event string, payload any) (int, error) {
	if _, ok := h.namespaces[namespace]; !ok {
		return 0, ErrUnknownNamespace
	}
	return h.bc.BroadcastToNamespace(ctx, namespace, event, payload)
}

// SendToConnection 向单个连接发送，返回送达数
func (h *Hub) SendToConnection(ctx context.Context, connID, event string, payload any) (int, error) {
	return h.bc.SendToConnection(ctx, connID, event, payload)
}

// Subscribe 订阅生命周期事件
func (h *Hub) Subscribe(t EventType, handler EventHandler) {
	h.events.Subscribe(t, handler)
}

// Connection 查找连接
func (h *Hub) Connection(id string) (*Connection, bool) {
	return h.reg.Get(id)
}

// Touch 刷新连接活跃时间
func (h *Hub) Touch(id string) bool {
	return h.reg.Touch(id)
}

// Namespaces 已配置的命名空间名称
func (h *Hub) Namespaces() []string {
	out := make([]string, 0, len(h.namespaces))
	for name := range h.namespaces {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// DroppedEvents 因队列满丢弃的生命周期事件数
func (h *Hub) DroppedEvents() int64 {
	return h.events.Dropped()
}

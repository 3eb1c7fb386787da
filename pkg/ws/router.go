package ws

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/tokmz/livehub/pkg/errors"
)

// EventContext 应用事件处理上下文
type EventContext struct {
	Conn      *Connection
	Identity  *Identity
	Room      string
	Event     string
	RequestID string
	Data      json.RawMessage

	hub *Hub
}

// Bind 解析事件数据
func (e *EventContext) Bind(v any) error {
	if len(e.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return errors.ErrBadRequest.WithError(err)
	}
	return nil
}

// Reply 向发送方回执
func (e *EventContext) Reply(data any) error {
	return e.hub.bc.sendFrame(e.Conn, Outbound{
		Type:      FrameAck,
		RequestID: e.RequestID,
		Event:     e.Event,
		Room:      e.Room,
		Data:      data,
	})
}

// BroadcastToRoom 向房间广播
func (e *EventContext) BroadcastToRoom(ctx context.Context, room, event string, payload any) (int, error) {
	return e.hub.BroadcastToRoom(ctx, room, event, payload)
}

// Handler 应用事件处理器
type Handler func(ctx context.Context, ev *EventContext) error

// Router 事件名到处理器的映射
type Router struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRouter 创建路由
func NewRouter() *Router {
	return &Router{handlers: make(map[string]Handler)}
}

// Register 注册处理器，重复注册返回错误
func (r *Router) Register(event string, h Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[event]; exists {
		return ErrHandlerExists
	}
	r.handlers[event] = h
	return nil
}

// Lookup 查找处理器
func (r *Router) Lookup(event string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[event]
	return h, ok
}

// Events 已注册的事件名
func (r *Router) Events() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		out = append(out, k)
	}
	return out
}

// Handle 注册带类型的处理器，返回值非 nil 时作为回执发送
func Handle[Req any, Resp any](h *Hub, event string, fn func(ctx context.Context, ev *EventContext, req *Req) (*Resp, error)) error {
	return h.router.Register(event, func(ctx context.Context, ev *EventContext) error {
		var req Req
		if err := ev.Bind(&req); err != nil {
			return err
		}
		resp, err := fn(ctx, ev, &req)
		if err != nil {
			return err
		}
		if resp != nil {
			return ev.Reply(resp)
		}
		return nil
	})
}

// HandleFunc 注册无类型的处理器
func HandleFunc(h *Hub, event string, fn Handler) error {
	return h.router.Register(event, fn)
}

// Relay 注册转发处理器：事件原样广播到发送方所在房间
// 发送方必须已在目标房间内
func Relay(h *Hub, event string) error {
	return h.router.Register(event, func(ctx context.Context, ev *EventContext) error {
		if ev.Room == "" || !ev.Conn.InRoom(ev.Room) {
			return errors.ErrRoomOperationFailed.WithMessage("not a member of room")
		}
		_, err := ev.BroadcastToRoom(ctx, ev.Room, ev.Event, []byte(ev.Data))
		return err
	})
}

package ws

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// EventType 生命周期事件类型
type EventType string

const (
	EventConnected       EventType = "connection.opened"
	EventDisconnected    EventType = "connection.closed"
	EventRoomJoined      EventType = "room.joined"
	EventRoomLeft        EventType = "room.left"
	EventIdentityRefresh EventType = "identity.refreshed"
	EventRejected        EventType = "request.rejected"
)

// Event 生命周期事件
type Event struct {
	Type         EventType
	ConnectionID string
	SubjectID    string
	Namespace    string
	Room         string
	Reason       string
	Time         time.Time
}

// EventHandler 事件处理器
type EventHandler func(Event)

// EventBus 异步事件总线，固定数量 worker 执行处理器
type EventBus struct {
	handlers map[EventType][]EventHandler
	mu       sync.RWMutex
	tasks    chan func()
	stopCh   chan struct{}
	done     chan struct{}
	wg       sync.WaitGroup
	busy     atomic.Int32
	closed   atomic.Bool
	dropped  atomic.Int64
	stopOnce sync.Once
}

// NewEventBus 创建事件总线
func NewEventBus(workers, queueSize int) *EventBus {
	if workers <= 0 {
		workers = 4
	}
	if queueSize <= 0 {
		queueSize = 1024
	}
	eb := &EventBus{
		handlers: make(map[EventType][]EventHandler),
		tasks:    make(chan func(), queueSize),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		eb.wg.Add(1)
		go eb.worker()
	}
	return eb
}

func (eb *EventBus) worker() {
	defer eb.wg.Done()
	for {
		select {
		case task := <-eb.tasks:
			eb.run(task)
		case <-eb.stopCh:
			// 处理剩余任务后退出
			for {
				select {
				case task := <-eb.tasks:
					eb.run(task)
				default:
					return
				}
			}
		}
	}
}

func (eb *EventBus) run(task func()) {
	eb.busy.Add(1)
	defer eb.busy.Add(-1)
	task()
}

// Subscribe 订阅事件
func (eb *EventBus) Subscribe(t EventType, h EventHandler) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.handlers[t] = append(eb.handlers[t], h)
}

// Publish 发布事件，队列满时丢弃
func (eb *EventBus) Publish(e Event) {
	if eb.closed.Load() {
		return
	}

	eb.mu.RLock()
	handlers := eb.handlers[e.Type]
	eb.mu.RUnlock()

	for _, h := range handlers {
		h := h
		select {
		case eb.tasks <- func() { h(e) }:
		default:
			eb.dropped.Add(1)
		}
	}
}

// Dropped 丢弃的事件数
func (eb *EventBus) Dropped() int64 {
	return eb.dropped.Load()
}

// Busy 正在执行处理器的 worker 数
func (eb *EventBus) Busy() int { return int(eb.busy.Load()) }

// Close 停止接收事件并等待 worker 处理完已入队的事件
// ctx 结束时不再等待，返回 ctx.Err()，阻塞的 worker 留在后台
func (eb *EventBus) Close(ctx context.Context) error {
	eb.stopOnce.Do(func() {
		eb.closed.Store(true)
		close(eb.stopCh)
		go func() {
			eb.wg.Wait()
			close(eb.done)
		}()
	})
	select {
	case <-eb.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package ws

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Client gorilla WebSocket 发送端
// 读协程负责分发入站帧与心跳续期，写协程独占写操作
type Client struct {
	conn *websocket.Conn
	cfg  *Config

	send      chan []byte
	quit      chan struct{} // 关闭信号，写协程收到后发送剩余数据与关闭帧
	writeDone chan struct{} // 写协程已退出

	closing     atomic.Bool
	closeOnce   sync.Once
	closeCode   int
	closeReason string
}

func newClient(conn *websocket.Conn, cfg *Config) *Client {
	return &Client{
		conn:      conn,
		cfg:       cfg,
		send:      make(chan []byte, cfg.SendQueueSize),
		quit:      make(chan struct{}),
		writeDone: make(chan struct{}),
	}
}

// Send 非阻塞投递
func (c *Client) Send(data []byte) error {
	if c.closing.Load() {
		return ErrConnectionClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Close 发送已排队数据与关闭帧，超过宽限期强制断开
func (c *Client) Close(code int, reason string) error {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeReason = reason
		c.closing.Store(true)
		close(c.quit)
	})

	t := time.NewTimer(c.cfg.CloseGrace)
	defer t.Stop()
	select {
	case <-c.writeDone:
		return nil
	case <-t.C:
		c.Terminate()
		return nil
	}
}

// Terminate 立即断开底层连接
func (c *Client) Terminate() {
	c.closing.Store(true)
	_ = c.conn.Close()
}

// RemoteAddr 远程地址
func (c *Client) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// reject 写协程启动前拒绝连接
func (c *Client) reject(code int, reason string) {
	c.closing.Store(true)
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), time.Now().Add(c.cfg.WriteWait))
	_ = c.conn.Close()
}

// run 启动写协程并在当前协程读取，读结束后注销连接
func (c *Client) run(h *Hub, conn *Connection) {
	go c.writePump()
	c.readPump(h, conn)
}

func (c *Client) readPump(h *Hub, conn *Connection) {
	reason := "client closed"
	defer func() {
		h.Disconnect(conn.ID, reason)
		_ = c.Close(websocket.CloseNormalClosure, "")
	}()

	c.conn.SetReadLimit(c.cfg.MaxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.StaleAfter))
	c.conn.SetPongHandler(func(string) error {
		h.Touch(conn.ID)
		return c.conn.SetReadDeadline(time.Now().Add(c.cfg.StaleAfter))
	})

	invalid := 0
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				reason = "read error"
				h.log.Debug("websocket read failed", zap.String("conn_id", conn.ID), zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.StaleAfter))

		if err := h.Dispatch(conn.Context(), conn, data); err != nil {
			invalid++
			if c.cfg.InvalidFrameLimit > 0 && invalid >= c.cfg.InvalidFrameLimit {
				reason = "too many invalid frames"
				_ = c.Close(websocket.ClosePolicyViolation, reason)
				return
			}
			continue
		}
		invalid = 0
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
		close(c.writeDone)
	}()

	for {
		select {
		case msg := <-c.send:
			if err := c.write(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.quit:
			// 先发送已排队的数据再发关闭帧
			for {
				select {
				case msg := <-c.send:
					if err := c.write(websocket.TextMessage, msg); err != nil {
						return
					}
				default:
					_ = c.conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(c.closeCode, c.closeReason),
						time.Now().Add(c.cfg.WriteWait))
					return
				}
			}
		}
	}
}

func (c *Client) write(messageType int, data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(messageType, data)
}

package ws

import (
	"encoding/json"
	"time"

	"github.com/tokmz/livehub/pkg/errors"
)

// FrameType 帧类型
type FrameType string

// 客户端发往服务端
const (
	FrameJoin    FrameType = "join"
	FrameLeave   FrameType = "leave"
	FrameEvent   FrameType = "event"
	FramePing    FrameType = "ping"
	FrameRefresh FrameType = "refresh"
)

// 服务端发往客户端
const (
	FrameConnected FrameType = "connected"
	FrameJoined    FrameType = "joined"
	FrameLeft      FrameType = "left"
	FramePong      FrameType = "pong"
	FrameAck       FrameType = "ack"
	FrameError     FrameType = "error"
	FrameRefreshed FrameType = "refreshed"
	FrameShutdown  FrameType = "shutdown"
)

// Inbound 入站帧
type Inbound struct {
	Type      FrameType       `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Room      string          `json:"room,omitempty"`
	Event     string          `json:"event,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Token     string          `json:"token,omitempty"`
}

// Outbound 出站帧
type Outbound struct {
	Type      FrameType  `json:"type"`
	RequestID string     `json:"request_id,omitempty"`
	Room      string     `json:"room,omitempty"`
	Event     string     `json:"event,omitempty"`
	Namespace string     `json:"namespace,omitempty"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorBody `json:"error,omitempty"`
	Timestamp int64      `json:"ts"`
}

// ErrorBody 错误帧内容
type ErrorBody struct {
	Code         int            `json:"code"`
	Message      string         `json:"message"`
	RetryAfterMs int64          `json:"retry_after_ms,omitempty"`
	Details      map[string]any `json:"details,omitempty"`
}

// ConnectedData 连接成功帧内容
type ConnectedData struct {
	ConnectionID string   `json:"connection_id"`
	SessionID    string   `json:"session_id"`
	Namespace    string   `json:"namespace"`
	ServerID     string   `json:"server_id"`
	UptimeMS     int64    `json:"uptime_ms"`
	SubjectID    string   `json:"subject_id,omitempty"`
	Anonymous    bool     `json:"anonymous"`
	Roles        []string `json:"roles,omitempty"`
}

const retryAfterKey = "retry_after_ms"

// NewErrorBody 从错误构造错误帧内容，非业务错误按服务端错误处理
func NewErrorBody(err error) *ErrorBody {
	e := errors.From(err, errors.ErrServer)
	body := &ErrorBody{Code: e.Code, Message: e.Message}
	for k, v := range e.Details {
		if k == retryAfterKey {
			if ms, ok := v.(int64); ok {
				body.RetryAfterMs = ms
			}
			continue
		}
		if body.Details == nil {
			body.Details = make(map[string]any, len(e.Details))
		}
		body.Details[k] = v
	}
	return body
}

func encode(out Outbound, now time.Time) ([]byte, error) {
	out.Timestamp = now.UnixMilli()
	return json.Marshal(out)
}

func decode(data []byte) (*Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(data, &in); err != nil {
		return nil, ErrInvalidFrame
	}
	switch in.Type {
	case FrameJoin, FrameLeave, FrameEvent, FramePing, FrameRefresh:
		return &in, nil
	default:
		return nil, ErrInvalidFrame
	}
}

package ws

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/require"
)

// frame 解码后的出站帧
type frame struct {
	Type      FrameType       `json:"type"`
	RequestID string          `json:"request_id"`
	Room      string          `json:"room"`
	Event     string          `json:"event"`
	Namespace string          `json:"namespace"`
	Data      json.RawMessage `json:"data"`
	Error     *ErrorBody      `json:"error"`
}

type fakeSender struct {
	mu          sync.Mutex
	frames      [][]byte
	full        bool
	closed      bool
	closeCode   int
	closedAfter int // 关闭时已收到的帧数

	block      chan struct{} // 非 nil 时 Close 阻塞直到 Terminate
	blockOnce  sync.Once
	terminated atomic.Bool
}

func newFakeSender() *fakeSender { return &fakeSender{} }

func (s *fakeSender) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrConnectionClosed
	}
	if s.full {
		return ErrSendQueueFull
	}
	s.frames = append(s.frames, data)
	return nil
}

func (s *fakeSender) Close(code int, _ string) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		s.closeCode = code
		s.closedAfter = len(s.frames)
	}
	return nil
}

func (s *fakeSender) Terminate() {
	s.terminated.Store(true)
	if s.block != nil {
		s.blockOnce.Do(func() { close(s.block) })
	}
}

func (s *fakeSender) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSender) setFull(full bool) {
	s.mu.Lock()
	s.full = full
	s.mu.Unlock()
}

func (s *fakeSender) decoded(t *testing.T) []frame {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]frame, 0, len(s.frames))
	for _, raw := range s.frames {
		var f frame
		require.NoError(t, json.Unmarshal(raw, &f))
		out = append(out, f)
	}
	return out
}

func (s *fakeSender) last(t *testing.T) frame {
	t.Helper()
	fs := s.decoded(t)
	require.NotEmpty(t, fs)
	return fs[len(fs)-1]
}

func (s *fakeSender) count(t *testing.T, ft FrameType) int {
	t.Helper()
	n := 0
	for _, f := range s.decoded(t) {
		if f.Type == ft {
			n++
		}
	}
	return n
}

type fakeVerifier struct {
	mu     sync.Mutex
	tokens map[string]*VerifyResult
	err    error
	gate   chan struct{} // 非 nil 时校验阻塞直到关闭
	calls  atomic.Int32
}

func (v *fakeVerifier) Verify(ctx context.Context, token string) (*VerifyResult, error) {
	v.calls.Add(1)
	if v.gate != nil {
		select {
		case <-v.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.err != nil {
		return nil, v.err
	}
	if r, ok := v.tokens[token]; ok {
		return r, nil
	}
	return &VerifyResult{Valid: false}, nil
}

type fakeAccounts struct {
	status map[string]AccountStatus
	err    error
}

func (a *fakeAccounts) AccountStatus(_ context.Context, subjectID string) (AccountStatus, error) {
	if a.err != nil {
		return AccountStatus{}, a.err
	}
	if s, ok := a.status[subjectID]; ok {
		return s, nil
	}
	return AccountStatus{Active: true}, nil
}

// 测试身份：
//
//	alice  u1 player 已验证
//	alice2 u1 player captain 已验证
//	bob    u2 无角色 已验证
//	carol  u3 admin
//	dave   u4 player 未验证
//	eve    u5 已停用
func newTestVerifier() *fakeVerifier {
	return &fakeVerifier{tokens: map[string]*VerifyResult{
		"alice":  {Valid: true, SubjectID: "u1", DisplayName: "Alice", ContactAddress: "alice@example.com", Roles: []string{"player"}},
		"alice2": {Valid: true, SubjectID: "u1", DisplayName: "Alice", Roles: []string{"player", "captain"}},
		"bob":    {Valid: true, SubjectID: "u2", DisplayName: "Bob"},
		"carol":  {Valid: true, SubjectID: "u3", Roles: []string{"admin"}},
		"dave":   {Valid: true, SubjectID: "u4", Roles: []string{"player"}},
		"eve":    {Valid: true, SubjectID: "u5"},
	}}
}

func newTestAccounts() *fakeAccounts {
	return &fakeAccounts{status: map[string]AccountStatus{
		"u1": {Active: true, Verified: true},
		"u2": {Active: true, Verified: true},
		"u3": {Active: true, Verified: true},
		"u4": {Active: true, Verified: false},
		"u5": {Active: false, Verified: true},
	}}
}

func newMockClock() *clock.Mock {
	m := clock.NewMock()
	m.Set(time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	return m
}

func newTestHub(t *testing.T, opts ...Option) (*Hub, *clock.Mock) {
	t.Helper()
	mock := newMockClock()
	h, err := NewHub(newTestVerifier(), newTestAccounts(), append([]Option{WithClock(mock)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Shutdown(context.Background()) })
	return h, mock
}

func tokenHandshake(token string) Handshake {
	hs := Handshake{}
	if token != "" {
		hs.Query = map[string][]string{TokenParam: {token}}
	}
	return hs
}

func mustAccept(t *testing.T, h *Hub, namespace, token, connID string) (*Connection, *fakeSender) {
	t.Helper()
	s := newFakeSender()
	c, err := h.Accept(context.Background(), tokenHandshake(token), namespace, connID, s)
	require.NoError(t, err)
	return c, s
}

func dispatch(t *testing.T, h *Hub, c *Connection, in Inbound) {
	t.Helper()
	raw, err := json.Marshal(in)
	require.NoError(t, err)
	require.NoError(t, h.Dispatch(context.Background(), c, raw))
}

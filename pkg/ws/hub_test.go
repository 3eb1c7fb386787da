package ws

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokmz/livehub/pkg/errors"
)

func TestNewHubValidation(t *testing.T) {
	dup := &Namespace{Name: "x"}
	tests := []struct {
		name     string
		verifier Verifier
		accounts AccountLookup
		opts     []Option
	}{
		{name: "missing verifier", accounts: newTestAccounts()},
		{name: "missing account lookup", verifier: newTestVerifier()},
		{name: "stale before heartbeat", verifier: newTestVerifier(), accounts: newTestAccounts(),
			opts: []Option{WithHeartbeat(time.Minute, time.Second)}},
		{name: "duplicate namespace", verifier: newTestVerifier(), accounts: newTestAccounts(),
			opts: []Option{WithNamespaces(dup, dup)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewHub(tt.verifier, tt.accounts, tt.opts...)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestHubAccept(t *testing.T) {
	t.Run("anonymous connection", func(t *testing.T) {
		h, _ := newTestHub(t)
		c, s := mustAccept(t, h, "leaderboard", "", "c1")

		assert.True(t, c.Identity().Anonymous())
		f := s.last(t)
		assert.Equal(t, FrameConnected, f.Type)
		assert.Contains(t, string(f.Data), `"connection_id":"c1"`)

		m := h.Metrics()
		assert.Equal(t, int64(1), m.TotalConnections)
		assert.Equal(t, int64(1), m.ActiveConnections)
		assert.Equal(t, int64(1), m.MessagesSent)
	})

	t.Run("connected frame carries server info", func(t *testing.T) {
		h, mock := newTestHub(t, WithServerID("node-a"))
		mock.Add(1500 * time.Millisecond)
		_, s := mustAccept(t, h, "leaderboard", "", "c1")

		var data ConnectedData
		require.NoError(t, json.Unmarshal(s.last(t).Data, &data))
		assert.Equal(t, "leaderboard", data.Namespace)
		assert.Equal(t, "node-a", data.ServerID)
		assert.Equal(t, int64(1500), data.UptimeMS)
	})

	rejections := []struct {
		name      string
		namespace string
		token     string
		want      *errors.Error
	}{
		{name: "missing credential", namespace: "match", want: errors.ErrMissingCredential},
		{name: "invalid credential", namespace: "match", token: "forged", want: errors.ErrInvalidCredential},
		{name: "unverified", namespace: "match", token: "dave", want: errors.ErrVerificationRequired},
		{name: "deactivated", namespace: "match", token: "eve", want: errors.ErrAccountDeactivated},
		{name: "missing role", namespace: "admin", token: "alice", want: errors.ErrInsufficientRole},
		{name: "unknown namespace", namespace: "nope", token: "alice", want: errors.ErrNotFound},
	}
	for _, tt := range rejections {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newTestHub(t)
			s := newFakeSender()
			c, err := h.Accept(context.Background(), tokenHandshake(tt.token), tt.namespace, "c1", s)
			require.Error(t, err)
			assert.Nil(t, c)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)

			_, ok := h.Connection("c1")
			assert.False(t, ok)
			assert.Empty(t, s.decoded(t))
			assert.Equal(t, int64(0), h.Metrics().TotalConnections)
			assert.Equal(t, int64(1), h.Metrics().Errors)
		})
	}

	t.Run("connection limit", func(t *testing.T) {
		h, _ := newTestHub(t, WithMaxConnections(1))
		mustAccept(t, h, "leaderboard", "", "c1")

		_, err := h.Accept(context.Background(), Handshake{}, "leaderboard", "c2", newFakeSender())
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrUnavailable))
		assert.ErrorIs(t, err, ErrTooManyConnections)
	})

	t.Run("handshake checks", func(t *testing.T) {
		ns := &Namespace{
			Name:            "ops",
			Policy:          Policy{RequireAuth: true},
			HandshakeChecks: []Check{RequireVerified()},
		}
		h, _ := newTestHub(t, WithNamespaces(ns))
		_, err := h.Accept(context.Background(), tokenHandshake("dave"), "ops", "c1", newFakeSender())
		assert.True(t, errors.Is(err, errors.ErrVerificationRequired))
	})
}

func TestHubJoinLeave(t *testing.T) {
	h, _ := newTestHub(t)
	c, s := mustAccept(t, h, "leaderboard", "", "c1")

	dispatch(t, h, c, Inbound{Type: FrameJoin, RequestID: "r1", Room: "board:global"})
	f := s.last(t)
	assert.Equal(t, FrameJoined, f.Type)
	assert.Equal(t, "r1", f.RequestID)
	assert.True(t, c.InRoom("board:global"))

	dispatch(t, h, c, Inbound{Type: FrameJoin, RequestID: "r2", Room: "admin:ops"})
	f = s.last(t)
	assert.Equal(t, FrameError, f.Type)
	assert.Equal(t, "r2", f.RequestID)
	assert.Equal(t, errors.ErrRoomOperationFailed.Code, f.Error.Code)
	assert.False(t, c.InRoom("admin:ops"))

	dispatch(t, h, c, Inbound{Type: FrameJoin, RequestID: "r3"})
	assert.Equal(t, FrameError, s.last(t).Type)

	dispatch(t, h, c, Inbound{Type: FrameLeave, RequestID: "r4", Room: "board:global"})
	assert.Equal(t, FrameLeft, s.last(t).Type)
	assert.False(t, c.InRoom("board:global"))

	dispatch(t, h, c, Inbound{Type: FrameLeave, RequestID: "r5", Room: "board:global"})
	assert.Equal(t, FrameLeft, s.last(t).Type)

	assert.Equal(t, int64(0), h.Metrics().Rooms)
}

func TestHubEvents(t *testing.T) {
	type scoreReq struct {
		Points int `json:"points"`
	}
	type scoreResp struct {
		Total int `json:"total"`
	}

	h, _ := newTestHub(t)
	require.NoError(t, Handle[scoreReq, scoreResp](h, "score.submit",
		func(_ context.Context, ev *EventContext, req *scoreReq) (*scoreResp, error) {
			return &scoreResp{Total: req.Points * 2}, nil
		}))
	require.NoError(t, Relay(h, "chat"))
	assert.ErrorIs(t, Relay(h, "chat"), ErrHandlerExists)

	alice, as := mustAccept(t, h, "match", "alice", "c1")
	bob, bs := mustAccept(t, h, "match", "bob", "c2")

	t.Run("typed handler replies", func(t *testing.T) {
		dispatch(t, h, alice, Inbound{Type: FrameEvent, RequestID: "r1", Event: "score.submit", Data: []byte(`{"points":21}`)})
		f := as.last(t)
		assert.Equal(t, FrameAck, f.Type)
		assert.Equal(t, "r1", f.RequestID)
		assert.JSONEq(t, `{"total":42}`, string(f.Data))
	})

	t.Run("bad payload", func(t *testing.T) {
		dispatch(t, h, alice, Inbound{Type: FrameEvent, RequestID: "r2", Event: "score.submit", Data: []byte(`"x"`)})
		f := as.last(t)
		assert.Equal(t, FrameError, f.Type)
		assert.Equal(t, errors.ErrBadRequest.Code, f.Error.Code)
	})

	t.Run("role required for events", func(t *testing.T) {
		dispatch(t, h, bob, Inbound{Type: FrameEvent, RequestID: "r3", Event: "score.submit"})
		f := bs.last(t)
		assert.Equal(t, FrameError, f.Type)
		assert.Equal(t, errors.ErrInsufficientRole.Code, f.Error.Code)
		_, ok := h.Connection("c2")
		assert.True(t, ok)
	})

	t.Run("relay to room members", func(t *testing.T) {
		dispatch(t, h, alice, Inbound{Type: FrameJoin, Room: "match:1"})
		dispatch(t, h, bob, Inbound{Type: FrameJoin, Room: "match:1"})
		before := bs.count(t, FrameEvent)

		dispatch(t, h, alice, Inbound{Type: FrameEvent, Event: "chat", Room: "match:1", Data: []byte(`{"text":"gl"}`)})
		assert.Equal(t, before+1, bs.count(t, FrameEvent))
		assert.JSONEq(t, `{"text":"gl"}`, string(bs.last(t).Data))
		assert.Equal(t, FrameEvent, as.last(t).Type)

		dispatch(t, h, alice, Inbound{Type: FrameEvent, Event: "chat", Room: "match:2"})
		assert.Equal(t, errors.ErrRoomOperationFailed.Code, as.last(t).Error.Code)
	})

	t.Run("unknown event", func(t *testing.T) {
		dispatch(t, h, alice, Inbound{Type: FrameEvent, RequestID: "r4", Event: "nope"})
		assert.Equal(t, errors.ErrNotFound.Code, as.last(t).Error.Code)
	})

	t.Run("ping", func(t *testing.T) {
		dispatch(t, h, alice, Inbound{Type: FramePing, RequestID: "p1"})
		f := as.last(t)
		assert.Equal(t, FramePong, f.Type)
		assert.Equal(t, "p1", f.RequestID)
	})

	t.Run("invalid frames", func(t *testing.T) {
		assert.ErrorIs(t, h.Dispatch(context.Background(), alice, []byte("{")), ErrInvalidFrame)
		assert.ErrorIs(t, h.Dispatch(context.Background(), alice, []byte(`{"type":"bogus"}`)), ErrInvalidFrame)
		assert.Equal(t, FrameError, as.last(t).Type)
	})
}

func TestHubRateLimit(t *testing.T) {
	h, clk := newTestHub(t, WithRateLimit(3, time.Second))
	require.NoError(t, HandleFunc(h, "tap", func(context.Context, *EventContext) error { return nil }))
	c, s := mustAccept(t, h, "leaderboard", "", "c1")

	for i := 0; i < 3; i++ {
		dispatch(t, h, c, Inbound{Type: FrameEvent, Event: "tap"})
	}
	assert.Equal(t, 0, s.count(t, FrameError))

	dispatch(t, h, c, Inbound{Type: FrameEvent, RequestID: "r4", Event: "tap"})
	f := s.last(t)
	require.Equal(t, FrameError, f.Type)
	assert.Equal(t, errors.ErrRateLimitExceeded.Code, f.Error.Code)
	assert.Greater(t, f.Error.RetryAfterMs, int64(0))
	assert.LessOrEqual(t, f.Error.RetryAfterMs, int64(1000))

	_, ok := h.Connection("c1")
	assert.True(t, ok)

	clk.Add(time.Second)
	dispatch(t, h, c, Inbound{Type: FrameEvent, Event: "tap"})
	assert.Equal(t, 1, s.count(t, FrameError))
}

func TestHubRefreshCredential(t *testing.T) {
	ctx := context.Background()

	t.Run("same subject gains roles", func(t *testing.T) {
		h, _ := newTestHub(t)
		c, s := mustAccept(t, h, "match", "alice", "c1")

		require.NoError(t, h.RefreshCredential(ctx, "c1", "r1", "alice2"))
		assert.True(t, c.Identity().Roles.Has("captain"))
		f := s.last(t)
		assert.Equal(t, FrameRefreshed, f.Type)
		assert.Equal(t, "r1", f.RequestID)
	})

	t.Run("anonymous upgrades", func(t *testing.T) {
		h, _ := newTestHub(t)
		c, _ := mustAccept(t, h, "leaderboard", "", "c1")

		dispatch(t, h, c, Inbound{Type: FrameRefresh, Token: "bob"})
		assert.Equal(t, "u2", c.Identity().SubjectID)
	})

	failures := []struct {
		name  string
		token string
		want  *errors.Error
	}{
		{name: "invalid token", token: "forged", want: errors.ErrInvalidCredential},
		{name: "subject change", token: "bob", want: errors.ErrInvalidCredential},
		{name: "empty token", token: "", want: errors.ErrMissingCredential},
		{name: "deactivated", token: "eve", want: errors.ErrAccountDeactivated},
	}
	for _, tt := range failures {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newTestHub(t)
			c, s := mustAccept(t, h, "match", "alice", "c1")
			_, _ = h.reg.Join("c1", "match:1")
			before := c.Identity()

			err := h.RefreshCredential(ctx, "c1", "r9", tt.token)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)

			assert.Same(t, before, c.Identity())
			assert.True(t, c.InRoom("match:1"))
			_, ok := h.Connection("c1")
			assert.True(t, ok)
			f := s.last(t)
			assert.Equal(t, FrameError, f.Type)
			assert.Equal(t, "r9", f.RequestID)
		})
	}

	t.Run("unknown connection", func(t *testing.T) {
		h, _ := newTestHub(t)
		assert.ErrorIs(t, h.RefreshCredential(ctx, "missing", "", "alice"), ErrConnectionNotFound)
	})
}

func TestHubReconnections(t *testing.T) {
	h, _ := newTestHub(t)

	mustAccept(t, h, "match", "alice", "c1")
	h.Disconnect("c1", "client closed")
	h.Disconnect("c1", "client closed")
	mustAccept(t, h, "match", "alice", "c2")
	mustAccept(t, h, "match", "bob", "c3")

	m := h.Metrics()
	assert.Equal(t, int64(1), m.Reconnections)
	assert.Equal(t, int64(3), m.TotalConnections)
	assert.Equal(t, int64(2), m.ActiveConnections)
}

func TestHubLifecycleEvents(t *testing.T) {
	h, _ := newTestHub(t)
	opened := make(chan Event, 1)
	closed := make(chan Event, 1)
	h.Subscribe(EventConnected, func(e Event) { opened <- e })
	h.Subscribe(EventDisconnected, func(e Event) { closed <- e })

	mustAccept(t, h, "match", "alice", "c1")
	h.Disconnect("c1", "bye")

	select {
	case e := <-opened:
		assert.Equal(t, "c1", e.ConnectionID)
		assert.Equal(t, "u1", e.SubjectID)
	case <-time.After(2 * time.Second):
		t.Fatal("connected event not published")
	}
	select {
	case e := <-closed:
		assert.Equal(t, "bye", e.Reason)
	case <-time.After(2 * time.Second):
		t.Fatal("disconnected event not published")
	}
}

func TestHubKick(t *testing.T) {
	h, _ := newTestHub(t)
	_, s := mustAccept(t, h, "leaderboard", "", "c1")

	assert.True(t, h.Kick("c1", "banned"))
	assert.False(t, h.Kick("c1", "banned"))
	assert.Eventually(t, s.isClosed, time.Second, 10*time.Millisecond)
}

func TestHubSweep(t *testing.T) {
	h, clk := newTestHub(t)
	c, stale := mustAccept(t, h, "leaderboard", "", "c1")
	_, fresh := mustAccept(t, h, "leaderboard", "", "c2")
	_, _ = h.reg.Join(c.ID, "board:1")

	clk.Add(50 * time.Second)
	h.Touch("c2")
	clk.Add(30 * time.Second)
	h.sweep()

	_, ok := h.Connection("c1")
	assert.False(t, ok)
	_, ok = h.Connection("c2")
	assert.True(t, ok)
	assert.Equal(t, int64(0), h.Metrics().Rooms)
	assert.Eventually(t, stale.isClosed, time.Second, 10*time.Millisecond)
	assert.False(t, fresh.isClosed())
}

func TestHubShutdown(t *testing.T) {
	var closers atomic.Int32
	h, _ := newTestHub(t,
		WithCloser("bus", func() error { closers.Add(1); return nil }),
		WithCloser("db", func() error { closers.Add(1); return stderrors.New("db busy") }),
	)

	senders := make([]*fakeSender, 0, 3)
	for _, id := range []string{"c1", "c2", "c3"} {
		c, s := mustAccept(t, h, "leaderboard", "", id)
		dispatch(t, h, c, Inbound{Type: FrameJoin, Room: "board:1"})
		senders = append(senders, s)
	}

	err := h.Shutdown(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db busy")
	assert.Equal(t, int32(2), closers.Load())

	for _, s := range senders {
		assert.True(t, s.isClosed())
		assert.Equal(t, FrameShutdown, s.last(t).Type)
		s.mu.Lock()
		assert.Equal(t, len(s.frames), s.closedAfter)
		s.mu.Unlock()
	}

	m := h.Metrics()
	assert.Equal(t, int64(0), m.ActiveConnections)
	assert.Equal(t, int64(0), m.Rooms)
	assert.True(t, h.ShuttingDown())

	_, err = h.Accept(context.Background(), Handshake{}, "leaderboard", "c4", newFakeSender())
	assert.True(t, errors.Is(err, errors.ErrUnavailable))

	assert.Equal(t, h.Shutdown(context.Background()), h.Shutdown(context.Background()))
	assert.Equal(t, int32(2), closers.Load())
}

func TestHubShutdownBlockedSubscriber(t *testing.T) {
	h, _ := newTestHub(t, WithCloseGrace(50*time.Millisecond))
	release := make(chan struct{})
	defer close(release)
	entered := make(chan struct{})
	h.Subscribe(EventConnected, func(Event) {
		close(entered)
		<-release
	})

	mustAccept(t, h, "leaderboard", "", "c1")
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("subscriber not invoked")
	}

	start := time.Now()
	require.NoError(t, h.Shutdown(context.Background()))
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, 1, h.events.Busy())
}

func TestHubShutdownForcesStragglers(t *testing.T) {
	h, _ := newTestHub(t)
	_, stubborn := mustAccept(t, h, "leaderboard", "", "c1")
	stubborn.block = make(chan struct{})
	_, polite := mustAccept(t, h, "leaderboard", "", "c2")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := h.Shutdown(ctx)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)

	assert.True(t, stubborn.terminated.Load())
	assert.True(t, polite.isClosed())
	assert.Equal(t, int64(0), h.Metrics().ActiveConnections)
}

func TestHubBroadcastNamespace(t *testing.T) {
	h, _ := newTestHub(t)
	mustAccept(t, h, "match", "alice", "c1")
	mustAccept(t, h, "leaderboard", "", "c2")

	n, err := h.BroadcastToNamespace(context.Background(), "match", "notice", "hi")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = h.BroadcastToNamespace(context.Background(), "nope", "notice", "hi")
	assert.ErrorIs(t, err, ErrUnknownNamespace)

	assert.Equal(t, []string{"admin", "leaderboard", "match"}, h.Namespaces())
}

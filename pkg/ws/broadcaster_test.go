package ws

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type broadcastFixture struct {
	reg     *Registry
	metrics *Metrics
	bc      *Broadcaster
	senders map[string]*fakeSender
}

func newBroadcastFixture(t *testing.T, conns map[string]string) *broadcastFixture {
	t.Helper()
	clk := newMockClock()
	m := NewMetrics(clk)
	reg := NewRegistry(clk, m)
	f := &broadcastFixture{reg: reg, metrics: m, bc: NewBroadcaster(reg, m, clk, nil), senders: map[string]*fakeSender{}}
	for id, ns := range conns {
		s := newFakeSender()
		_, err := reg.Register(id, ns, nil, s)
		require.NoError(t, err)
		f.senders[id] = s
	}
	return f
}

func (f *broadcastFixture) join(t *testing.T, id, room string) {
	t.Helper()
	_, err := f.reg.Join(id, room)
	require.NoError(t, err)
}

func TestBroadcastToRoom(t *testing.T) {
	t.Run("each member exactly once", func(t *testing.T) {
		f := newBroadcastFixture(t, map[string]string{"a": "match", "b": "match", "c": "match", "d": "match"})
		f.join(t, "a", "match:1")
		f.join(t, "a", "match:1")
		f.join(t, "b", "match:1")
		f.join(t, "c", "match:1")
		f.join(t, "d", "match:2")

		n, err := f.bc.BroadcastToRoom(context.Background(), "match:1", "score", map[string]int{"home": 2})
		require.NoError(t, err)
		assert.Equal(t, 3, n)
		assert.Equal(t, int64(3), f.metrics.messagesSent.Load())

		for _, id := range []string{"a", "b", "c"} {
			frames := f.senders[id].decoded(t)
			require.Len(t, frames, 1, id)
			assert.Equal(t, FrameEvent, frames[0].Type)
			assert.Equal(t, "score", frames[0].Event)
			assert.Equal(t, "match:1", frames[0].Room)
			assert.JSONEq(t, `{"home":2}`, string(frames[0].Data))
		}
		assert.Empty(t, f.senders["d"].decoded(t))
	})

	t.Run("members who left are skipped", func(t *testing.T) {
		f := newBroadcastFixture(t, map[string]string{"a": "match", "b": "match"})
		f.join(t, "a", "match:1")
		f.join(t, "b", "match:1")
		_, err := f.reg.Leave("b", "match:1")
		require.NoError(t, err)

		n, err := f.bc.BroadcastToRoom(context.Background(), "match:1", "score", nil)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Empty(t, f.senders["b"].decoded(t))
	})

	t.Run("full queues are not counted", func(t *testing.T) {
		f := newBroadcastFixture(t, map[string]string{"a": "match", "b": "match"})
		f.join(t, "a", "match:1")
		f.join(t, "b", "match:1")
		f.senders["b"].setFull(true)

		n, err := f.bc.BroadcastToRoom(context.Background(), "match:1", "score", nil)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Equal(t, int64(1), f.metrics.messagesSent.Load())
	})

	t.Run("empty room", func(t *testing.T) {
		f := newBroadcastFixture(t, map[string]string{"a": "match"})
		n, err := f.bc.BroadcastToRoom(context.Background(), "match:none", "score", nil)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("raw payload passes through", func(t *testing.T) {
		f := newBroadcastFixture(t, map[string]string{"a": "match"})
		f.join(t, "a", "match:1")

		_, err := f.bc.BroadcastToRoom(context.Background(), "match:1", "chat", []byte(`{"text":"gg"}`))
		require.NoError(t, err)
		assert.JSONEq(t, `{"text":"gg"}`, string(f.senders["a"].last(t).Data))

		_, err = f.bc.BroadcastToRoom(context.Background(), "match:1", "chat", []byte(`{not json`))
		assert.Error(t, err)
	})
}

func TestBroadcastToNamespace(t *testing.T) {
	f := newBroadcastFixture(t, map[string]string{"a": "match", "b": "match", "c": "leaderboard"})

	n, err := f.bc.BroadcastToNamespace(context.Background(), "match", "maintenance", "soon")
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "match", f.senders["a"].last(t).Namespace)
	assert.Empty(t, f.senders["c"].decoded(t))
}

func TestSendToConnection(t *testing.T) {
	f := newBroadcastFixture(t, map[string]string{"a": "match"})

	n, err := f.bc.SendToConnection(context.Background(), "a", "notice", "hi")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.JSONEq(t, `"hi"`, string(f.senders["a"].last(t).Data))

	_, err = f.bc.SendToConnection(context.Background(), "missing", "notice", "hi")
	assert.ErrorIs(t, err, ErrConnectionNotFound)
}

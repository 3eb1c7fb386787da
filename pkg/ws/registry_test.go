package ws

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// assertSymmetric 房间索引与连接房间集合互为镜像
func assertSymmetric(t *testing.T, r *Registry) {
	t.Helper()
	for i := range r.rooms {
		s := &r.rooms[i]
		s.mu.RLock()
		for room, members := range s.rooms {
			assert.NotEmpty(t, members, "empty room %s kept in index", room)
			for id, c := range members {
				assert.True(t, c.InRoom(room), "index lists %s in %s but connection disagrees", id, room)
				_, live := r.Get(id)
				assert.True(t, live, "index lists deregistered %s", id)
			}
		}
		s.mu.RUnlock()
	}
	for _, c := range r.Connections("") {
		for _, room := range c.Rooms() {
			found := false
			for _, m := range r.Members(room) {
				if m == c {
					found = true
				}
			}
			assert.True(t, found, "%s claims %s but index disagrees", c.ID, room)
		}
	}
}

func newTestRegistry() (*Registry, *Metrics) {
	clk := newMockClock()
	m := NewMetrics(clk)
	return NewRegistry(clk, m), m
}

func TestRegistryRegister(t *testing.T) {
	r, m := newTestRegistry()

	a, err := r.Register("a", "leaderboard", nil, newFakeSender())
	require.NoError(t, err)
	assert.True(t, a.Identity().Anonymous())

	b, err := r.Register("b", "leaderboard", &Identity{SubjectID: "u1"}, newFakeSender())
	require.NoError(t, err)
	assert.NotEqual(t, a.SessionID, b.SessionID)

	_, err = r.Register("a", "leaderboard", nil, newFakeSender())
	assert.ErrorIs(t, err, ErrConnectionExists)

	assert.Equal(t, 2, r.Count())
	assert.Equal(t, int64(2), m.total.Load())
}

func TestRegistryJoinLeave(t *testing.T) {
	r, _ := newTestRegistry()
	_, err := r.Register("a", "leaderboard", nil, newFakeSender())
	require.NoError(t, err)

	t.Run("join is idempotent", func(t *testing.T) {
		added, err := r.Join("a", "board:1")
		require.NoError(t, err)
		assert.True(t, added)

		added, err = r.Join("a", "board:1")
		require.NoError(t, err)
		assert.False(t, added)

		assert.Len(t, r.Members("board:1"), 1)
		assertSymmetric(t, r)
	})

	t.Run("leave is idempotent", func(t *testing.T) {
		removed, err := r.Leave("a", "board:1")
		require.NoError(t, err)
		assert.True(t, removed)

		removed, err = r.Leave("a", "board:1")
		require.NoError(t, err)
		assert.False(t, removed)

		assert.Empty(t, r.Members("board:1"))
		assert.Equal(t, 0, r.RoomCount())
		assertSymmetric(t, r)
	})

	t.Run("unknown connection", func(t *testing.T) {
		_, err := r.Join("missing", "board:1")
		assert.ErrorIs(t, err, ErrConnectionNotFound)
		_, err = r.Leave("missing", "board:1")
		assert.ErrorIs(t, err, ErrConnectionNotFound)
	})
}

func TestRegistryDeregisterCascades(t *testing.T) {
	r, _ := newTestRegistry()
	c, err := r.Register("a", "leaderboard", nil, newFakeSender())
	require.NoError(t, err)
	_, err = r.Register("b", "leaderboard", nil, newFakeSender())
	require.NoError(t, err)

	for _, room := range []string{"board:1", "board:2", "board:3"} {
		_, err := r.Join("a", room)
		require.NoError(t, err)
	}
	_, err = r.Join("b", "board:1")
	require.NoError(t, err)

	got, ok := r.Deregister("a")
	require.True(t, ok)
	assert.Same(t, c, got)
	assert.True(t, c.Closed())
	assert.Empty(t, c.Rooms())
	assert.Error(t, c.Context().Err())

	assert.Equal(t, 1, r.RoomCount())
	assert.Len(t, r.Members("board:1"), 1)
	assertSymmetric(t, r)

	_, ok = r.Deregister("a")
	assert.False(t, ok)
	assert.Equal(t, 1, r.Count())

	_, err = r.Join("a", "board:1")
	assert.ErrorIs(t, err, ErrConnectionNotFound)
}

func TestRegistryConcurrentChurn(t *testing.T) {
	r, m := newTestRegistry()

	const total, removed = 200, 120
	var wg sync.WaitGroup
	for i := 0; i < total; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("c%d", i)
			_, err := r.Register(id, "leaderboard", nil, newFakeSender())
			assert.NoError(t, err)
			for j := 0; j < 3; j++ {
				_, _ = r.Join(id, fmt.Sprintf("board:%d", (i+j)%7))
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < removed; i++ {
		wg.Add(2)
		id := fmt.Sprintf("c%d", i)
		go func() {
			defer wg.Done()
			r.Deregister(id)
		}()
		go func() {
			defer wg.Done()
			// 与注销并发的加入要么失败要么随注销被清理
			_, _ = r.Join(id, "board:late")
		}()
	}
	wg.Wait()

	assert.Equal(t, total-removed, r.Count())
	assert.Equal(t, int64(total), m.total.Load())
	assertSymmetric(t, r)
}

func TestRegistrySweepStale(t *testing.T) {
	clk := newMockClock()
	r := NewRegistry(clk, nil)

	_, err := r.Register("a", "leaderboard", nil, newFakeSender())
	require.NoError(t, err)
	_, err = r.Register("b", "leaderboard", nil, newFakeSender())
	require.NoError(t, err)
	_, err = r.Join("a", "board:1")
	require.NoError(t, err)

	clk.Add(60 * time.Second)
	assert.True(t, r.Touch("b"))
	clk.Add(30 * time.Second)

	swept := r.SweepStale(75 * time.Second)
	require.Len(t, swept, 1)
	assert.Equal(t, "a", swept[0].ID)
	assert.Equal(t, 1, r.Count())
	assert.Equal(t, 0, r.RoomCount())

	assert.Empty(t, r.SweepStale(75*time.Second))
	assert.False(t, r.Touch("a"))
}

func TestRegistryRepair(t *testing.T) {
	r, _ := newTestRegistry()
	a, err := r.Register("a", "leaderboard", nil, newFakeSender())
	require.NoError(t, err)
	_, err = r.Register("b", "leaderboard", nil, newFakeSender())
	require.NoError(t, err)
	_, err = r.Join("a", "board:1")
	require.NoError(t, err)
	_, err = r.Join("b", "board:2")
	require.NoError(t, err)

	// 索引多出一个成员，同时丢失一个成员
	ghost := r.roomShard("board:9")
	ghost.mu.Lock()
	ghost.rooms["board:9"] = map[string]*Connection{"a": a}
	ghost.mu.Unlock()

	lost := r.roomShard("board:2")
	lost.mu.Lock()
	delete(lost.rooms, "board:2")
	lost.mu.Unlock()

	assert.Equal(t, 2, r.Repair())
	assert.Empty(t, r.Members("board:9"))
	assert.Len(t, r.Members("board:2"), 1)
	assertSymmetric(t, r)

	assert.Equal(t, 0, r.Repair())
}

func TestRegistrySetIdentity(t *testing.T) {
	r, _ := newTestRegistry()
	c, err := r.Register("a", "match", &Identity{SubjectID: "u1"}, newFakeSender())
	require.NoError(t, err)

	next := &Identity{SubjectID: "u1", Roles: NewRoleSet("captain")}
	require.NoError(t, r.SetIdentity("a", next))
	assert.Same(t, next, c.Identity())

	r.Deregister("a")
	assert.ErrorIs(t, r.SetIdentity("a", next), ErrConnectionNotFound)
}

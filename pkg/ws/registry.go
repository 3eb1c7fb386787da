package ws

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

const shardCount = 32

type connShard struct {
	mu    sync.RWMutex
	conns map[string]*Connection
}

type roomShard struct {
	mu    sync.RWMutex
	rooms map[string]map[string]*Connection
}

// Registry 连接注册表与房间索引
//
// 每个连接自身的房间集合为权威视图，房间索引是它的反向映射。
// 修改二者时先持有 Connection.mu 再持有房间分片锁。
type Registry struct {
	conns   [shardCount]connShard
	rooms   [shardCount]roomShard
	clock   clock.Clock
	metrics *Metrics
}

// NewRegistry 创建注册表
func NewRegistry(clk clock.Clock, metrics *Metrics) *Registry {
	if clk == nil {
		clk = clock.New()
	}
	if metrics == nil {
		metrics = NewMetrics(clk)
	}
	r := &Registry{clock: clk, metrics: metrics}
	for i := range r.conns {
		r.conns[i].conns = make(map[string]*Connection)
		r.rooms[i].rooms = make(map[string]map[string]*Connection)
	}
	return r
}

func shardIndex(key string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return h.Sum32() % shardCount
}

func (r *Registry) connShard(id string) *connShard { return &r.conns[shardIndex(id)] }
func (r *Registry) roomShard(room string) *roomShard {
	return &r.rooms[shardIndex(room)]
}

// Register 登记新连接并分配会话 ID
func (r *Registry) Register(id, namespace string, identity *Identity, sender Sender) (*Connection, error) {
	if identity == nil {
		identity = AnonymousIdentity()
	}
	c := newConnection(id, uuid.NewString(), namespace, identity, sender, r.clock.Now())

	s := r.connShard(id)
	s.mu.Lock()
	if _, exists := s.conns[id]; exists {
		s.mu.Unlock()
		c.cancel()
		return nil, ErrConnectionExists
	}
	s.conns[id] = c
	s.mu.Unlock()

	r.metrics.total.Add(1)
	return c, nil
}

// Deregister 注销连接并移出全部房间
// 并发调用时只有一个调用方返回 true
func (r *Registry) Deregister(id string) (*Connection, bool) {
	s := r.connShard(id)
	s.mu.Lock()
	c, ok := s.conns[id]
	if ok {
		delete(s.conns, id)
	}
	s.mu.Unlock()
	if !ok {
		return nil, false
	}

	c.mu.Lock()
	c.closed = true
	for room := range c.rooms {
		r.removeMember(room, c)
	}
	c.rooms = make(map[string]struct{})
	c.mu.Unlock()

	c.cancel()
	return c, true
}

// Get 查找连接
func (r *Registry) Get(id string) (*Connection, bool) {
	s := r.connShard(id)
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.conns[id]
	return c, ok
}

// Touch 刷新活跃时间
func (r *Registry) Touch(id string) bool {
	c, ok := r.Get(id)
	if !ok {
		return false
	}
	c.lastSeen.Store(r.clock.Now().UnixNano())
	return true
}

// Join 加入房间，重复加入无副作用
// 返回 true 表示本次新加入
func (r *Registry) Join(id, room string) (bool, error) {
	c, ok := r.Get(id)
	if !ok {
		return false, ErrConnectionNotFound
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false, ErrConnectionClosed
	}
	if _, in := c.rooms[room]; in {
		return false, nil
	}
	c.rooms[room] = struct{}{}

	rs := r.roomShard(room)
	rs.mu.Lock()
	members, exists := rs.rooms[room]
	if !exists {
		members = make(map[string]*Connection)
		rs.rooms[room] = members
	}
	members[c.ID] = c
	rs.mu.Unlock()
	return true, nil
}

// Leave 离开房间，不在房间内时无副作用
// 返回 true 表示本次确实离开
func (r *Registry) Leave(id, room string) (bool, error) {
	c, ok := r.Get(id)
	if !ok {
		return false, ErrConnectionNotFound
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false, ErrConnectionClosed
	}
	if _, in := c.rooms[room]; !in {
		return false, nil
	}
	delete(c.rooms, room)
	r.removeMember(room, c)
	return true, nil
}

// removeMember 调用方需持有 c.mu
func (r *Registry) removeMember(room string, c *Connection) {
	rs := r.roomShard(room)
	rs.mu.Lock()
	if members, ok := rs.rooms[room]; ok {
		if members[c.ID] == c {
			delete(members, c.ID)
		}
		if len(members) == 0 {
			delete(rs.rooms, room)
		}
	}
	rs.mu.Unlock()
}

// SetIdentity 原子替换身份
func (r *Registry) SetIdentity(id string, identity *Identity) error {
	c, ok := r.Get(id)
	if !ok {
		return ErrConnectionNotFound
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnectionClosed
	}
	c.identity = identity
	return nil
}

// Members 房间成员快照
func (r *Registry) Members(room string) []*Connection {
	rs := r.roomShard(room)
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	members := rs.rooms[room]
	out := make([]*Connection, 0, len(members))
	for _, c := range members {
		out = append(out, c)
	}
	return out
}

// Connections 全部连接快照；namespace 非空时只返回该命名空间
func (r *Registry) Connections(namespace string) []*Connection {
	out := make([]*Connection, 0, 64)
	for i := range r.conns {
		s := &r.conns[i]
		s.mu.RLock()
		for _, c := range s.conns {
			if namespace == "" || c.Namespace == namespace {
				out = append(out, c)
			}
		}
		s.mu.RUnlock()
	}
	return out
}

// Count 当前活跃连接数，由注册表推导
func (r *Registry) Count() int {
	n := 0
	for i := range r.conns {
		s := &r.conns[i]
		s.mu.RLock()
		n += len(s.conns)
		s.mu.RUnlock()
	}
	return n
}

// RoomCount 非空房间数
func (r *Registry) RoomCount() int {
	n := 0
	for i := range r.rooms {
		s := &r.rooms[i]
		s.mu.RLock()
		n += len(s.rooms)
		s.mu.RUnlock()
	}
	return n
}

// SweepStale 注销超过 maxAge 未活跃的连接，返回被本次注销的连接
func (r *Registry) SweepStale(maxAge time.Duration) []*Connection {
	cutoff := r.clock.Now().Add(-maxAge).UnixNano()

	var stale []string
	for i := range r.conns {
		s := &r.conns[i]
		s.mu.RLock()
		for id, c := range s.conns {
			if c.lastSeen.Load() < cutoff {
				stale = append(stale, id)
			}
		}
		s.mu.RUnlock()
	}

	removed := make([]*Connection, 0, len(stale))
	for _, id := range stale {
		if c, ok := r.Deregister(id); ok {
			removed = append(removed, c)
		}
	}
	return removed
}

// Clear 注销全部连接
func (r *Registry) Clear() int {
	n := 0
	for _, c := range r.Connections("") {
		if _, ok := r.Deregister(c.ID); ok {
			n++
		}
	}
	return n
}

type membership struct {
	room string
	conn *Connection
}

// Repair 以连接自身的房间集合为准修复房间索引，返回修复条目数
func (r *Registry) Repair() int {
	var indexed []membership
	for i := range r.rooms {
		s := &r.rooms[i]
		s.mu.RLock()
		for room, members := range s.rooms {
			for _, c := range members {
				indexed = append(indexed, membership{room: room, conn: c})
			}
		}
		s.mu.RUnlock()
	}

	fixed := 0

	// 索引中多余的成员
	for _, m := range indexed {
		c := m.conn
		c.mu.Lock()
		_, in := c.rooms[m.room]
		if c.closed || !in {
			rs := r.roomShard(m.room)
			rs.mu.Lock()
			if members, ok := rs.rooms[m.room]; ok && members[c.ID] == c {
				delete(members, c.ID)
				if len(members) == 0 {
					delete(rs.rooms, m.room)
				}
				fixed++
			}
			rs.mu.Unlock()
		}
		c.mu.Unlock()
	}

	// 索引中缺失的成员
	for _, c := range r.Connections("") {
		c.mu.Lock()
		if !c.closed {
			for room := range c.rooms {
				rs := r.roomShard(room)
				rs.mu.Lock()
				members, ok := rs.rooms[room]
				if !ok {
					members = make(map[string]*Connection)
					rs.rooms[room] = members
				}
				if members[c.ID] != c {
					members[c.ID] = c
					fixed++
				}
				rs.mu.Unlock()
			}
		}
		c.mu.Unlock()
	}

	return fixed
}

package ws

import (
	"context"
	"strings"

	"github.com/tokmz/livehub/pkg/errors"
)

// Op 受检操作
type Op string

const (
	OpHandshake Op = "handshake"
	OpJoin      Op = "join"
	OpEvent     Op = "event"
	OpRefresh   Op = "refresh"
)

// Request 检查请求
type Request struct {
	Op           Op
	Namespace    string
	ConnectionID string
	Identity     *Identity
	Room         string
	Event        string
	Conn         *Connection // 握手阶段为 nil
}

// RateKey 限流键
func (r *Request) RateKey() string {
	return r.Identity.RateKey(r.ConnectionID)
}

// Check 单个检查项，返回非 nil 表示拒绝
type Check interface {
	Name() string
	Check(ctx context.Context, req *Request) error
}

type checkFunc struct {
	name string
	fn   func(ctx context.Context, req *Request) error
}

func (c checkFunc) Name() string { return c.name }

func (c checkFunc) Check(ctx context.Context, req *Request) error { return c.fn(ctx, req) }

// CheckFunc 函数适配为检查项
func CheckFunc(name string, fn func(ctx context.Context, req *Request) error) Check {
	return checkFunc{name: name, fn: fn}
}

// Chain 按顺序执行检查项，遇到第一个拒绝即停止
type Chain struct {
	checks []Check
}

// NewChain 创建检查链
func NewChain(checks ...Check) *Chain {
	c := &Chain{}
	for _, ch := range checks {
		if ch != nil {
			c.checks = append(c.checks, ch)
		}
	}
	return c
}

// Append 返回追加检查项后的新链
func (c *Chain) Append(checks ...Check) *Chain {
	all := make([]Check, 0, len(c.checks)+len(checks))
	all = append(all, c.checks...)
	all = append(all, checks...)
	return NewChain(all...)
}

// Len 检查项数量
func (c *Chain) Len() int { return len(c.checks) }

// Run 执行检查
func (c *Chain) Run(ctx context.Context, req *Request) error {
	for _, ch := range c.checks {
		if err := ch.Check(ctx, req); err != nil {
			return &Rejection{Check: ch.Name(), Err: err}
		}
	}
	return nil
}

// Rejection 检查拒绝，保留拒绝的检查项名称
type Rejection struct {
	Check string
	Err   error
}

func (r *Rejection) Error() string { return "ws: rejected by " + r.Check + ": " + r.Err.Error() }

func (r *Rejection) Unwrap() error { return r.Err }

// RoleMode 角色匹配方式
type RoleMode int

const (
	RoleModeAny RoleMode = iota // 至少持有一个
	RoleModeAll                 // 全部持有
)

// RequireRoles 角色检查
func RequireRoles(mode RoleMode, roles ...string) Check {
	return CheckFunc("roles", func(_ context.Context, req *Request) error {
		if len(roles) == 0 {
			return nil
		}
		if req.Identity.Anonymous() {
			return errors.ErrInsufficientRole
		}
		ok := req.Identity.Roles.HasAny(roles)
		if mode == RoleModeAll {
			ok = req.Identity.Roles.HasAll(roles)
		}
		if !ok {
			return errors.ErrInsufficientRole.WithDetails(map[string]any{"required": roles})
		}
		return nil
	})
}

// RequireVerified 已验证身份检查
func RequireVerified() Check {
	return CheckFunc("verified", func(_ context.Context, req *Request) error {
		if req.Identity.Anonymous() || !req.Identity.Verified {
			return errors.ErrVerificationRequired
		}
		return nil
	})
}

// RoomPrefixes 房间名前缀检查，prefixes 为空时放行
func RoomPrefixes(prefixes ...string) Check {
	return CheckFunc("room_prefix", func(_ context.Context, req *Request) error {
		if len(prefixes) == 0 {
			return nil
		}
		for _, p := range prefixes {
			if strings.HasPrefix(req.Room, p) {
				return nil
			}
		}
		return errors.ErrRoomOperationFailed.WithMessage("room not allowed in namespace")
	})
}

// MaxRooms 单连接房间数上限检查，已在房间内的重复加入放行
func MaxRooms(limit int) Check {
	return CheckFunc("max_rooms", func(_ context.Context, req *Request) error {
		if limit <= 0 || req.Conn == nil || req.Conn.InRoom(req.Room) {
			return nil
		}
		if req.Conn.RoomCount() >= limit {
			return errors.ErrRoomOperationFailed.WithMessage("room limit reached")
		}
		return nil
	})
}

// RateLimit 固定窗口限流检查
func RateLimit(l *FixedWindowLimiter) Check {
	return CheckFunc("rate_limit", func(ctx context.Context, req *Request) error {
		d := l.Allow(ctx, req.RateKey())
		if d.Allowed {
			return nil
		}
		return errors.ErrRateLimitExceeded.WithDetails(map[string]any{
			retryAfterKey: d.RetryAfter.Milliseconds(),
		})
	})
}

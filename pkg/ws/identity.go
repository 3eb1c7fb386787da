package ws

import (
	"context"
	"sort"
	"time"
)

// Identity 已认证身份，挂到连接后不可变；凭证刷新时整体替换
type Identity struct {
	SubjectID      string
	DisplayName    string
	ContactAddress string
	Verified       bool
	Roles          RoleSet

	anonymous bool
}

// AnonymousIdentity 匿名身份标记
func AnonymousIdentity() *Identity {
	return &Identity{anonymous: true, Roles: RoleSet{}}
}

// Anonymous 是否匿名
func (i *Identity) Anonymous() bool {
	return i == nil || i.anonymous
}

// RateKey 限流键：身份优先，匿名连接退回连接 ID
func (i *Identity) RateKey(connID string) string {
	if i.Anonymous() {
		return "conn:" + connID
	}
	return "sub:" + i.SubjectID
}

// RoleSet 角色集合
type RoleSet map[string]struct{}

// NewRoleSet 创建角色集合
func NewRoleSet(roles ...string) RoleSet {
	s := make(RoleSet, len(roles))
	for _, r := range roles {
		if r != "" {
			s[r] = struct{}{}
		}
	}
	return s
}

// Has 是否包含角色
func (s RoleSet) Has(role string) bool {
	_, ok := s[role]
	return ok
}

// HasAny 与 required 有交集
func (s RoleSet) HasAny(required []string) bool {
	for _, r := range required {
		if s.Has(r) {
			return true
		}
	}
	return false
}

// HasAll 是 required 的超集
func (s RoleSet) HasAll(required []string) bool {
	for _, r := range required {
		if !s.Has(r) {
			return false
		}
	}
	return true
}

// Slice 排序后的角色列表
func (s RoleSet) Slice() []string {
	out := make([]string, 0, len(s))
	for r := range s {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

// VerifyResult 凭证校验结果
type VerifyResult struct {
	Valid          bool
	SubjectID      string
	DisplayName    string
	ContactAddress string
	Roles          []string
	ExpiresAt      time.Time // 凭证过期时间，零值表示不过期
}

// AccountStatus 账号当前状态
type AccountStatus struct {
	Active   bool `json:"active"`
	Verified bool `json:"verified"`
}

// Verifier 外部身份校验服务
// 凭证本身无效时返回 Valid=false 且 err 为 nil；err 表示服务不可用
type Verifier interface {
	Verify(ctx context.Context, token string) (*VerifyResult, error)
}

// AccountLookup 外部账号状态查询
type AccountLookup interface {
	AccountStatus(ctx context.Context, subjectID string) (AccountStatus, error)
}

// VerifierFunc 函数适配器
type VerifierFunc func(ctx context.Context, token string) (*VerifyResult, error)

// Verify 实现 Verifier
func (f VerifierFunc) Verify(ctx context.Context, token string) (*VerifyResult, error) {
	return f(ctx, token)
}

// AccountLookupFunc 函数适配器
type AccountLookupFunc func(ctx context.Context, subjectID string) (AccountStatus, error)

// AccountStatus 实现 AccountLookup
func (f AccountLookupFunc) AccountStatus(ctx context.Context, subjectID string) (AccountStatus, error) {
	return f(ctx, subjectID)
}

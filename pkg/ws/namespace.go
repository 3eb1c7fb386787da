package ws

import (
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-yaml"
)

// Policy 命名空间握手准入策略
type Policy struct {
	RequireAuth     bool     `yaml:"require_auth"`
	RequireVerified bool     `yaml:"require_verified"`
	RequiredRoles   []string `yaml:"required_roles"` // 非空时要求至少持有其一
}

// Namespace 命名空间：策略与各阶段的检查项
type Namespace struct {
	Name         string
	Policy       Policy
	RoomPrefixes []string // 允许加入的房间前缀，为空不限制
	MaxRooms     int      // 单连接最多加入的房间数，0 不限制

	HandshakeChecks []Check
	JoinChecks      []Check
	EventChecks     []Check
}

// DefaultNamespaces 内置命名空间
//
//	leaderboard 匿名可读，房间以 board: 开头
//	match       需要已验证身份（Verified 取自 AccountLookup），事件要求 player 角色
//	admin       需要 admin 或 operator 角色
func DefaultNamespaces() []*Namespace {
	return []*Namespace{
		{
			Name:         "leaderboard",
			RoomPrefixes: []string{"board:"},
			MaxRooms:     16,
		},
		{
			Name:         "match",
			Policy:       Policy{RequireAuth: true, RequireVerified: true},
			RoomPrefixes: []string{"match:", "lobby:"},
			MaxRooms:     4,
			EventChecks:  []Check{RequireRoles(RoleModeAny, "player")},
		},
		{
			Name:   "admin",
			Policy: Policy{RequireAuth: true, RequiredRoles: []string{"admin", "operator"}},
		},
	}
}

// namespaceFile 命名空间文件结构
type namespaceFile struct {
	Namespaces []namespaceSpec `yaml:"namespaces"`
}

type namespaceSpec struct {
	Name           string   `yaml:"name"`
	Policy         Policy   `yaml:"policy"`
	RoomPrefixes   []string `yaml:"room_prefixes"`
	MaxRooms       int      `yaml:"max_rooms"`
	JoinRoles      []string `yaml:"join_roles"`
	EventRoles     []string `yaml:"event_roles"`
	EventRolesAll  bool     `yaml:"event_roles_all"`
	VerifiedToEmit bool     `yaml:"verified_to_emit"`
	VerifiedToJoin bool     `yaml:"verified_to_join"`
}

// LoadNamespaces 从 YAML 文件加载命名空间，未知字段视为错误
func LoadNamespaces(path string) ([]*Namespace, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ws: read namespaces: %w", err)
	}
	return ParseNamespaces(data)
}

// ParseNamespaces 解析命名空间 YAML
func ParseNamespaces(data []byte) ([]*Namespace, error) {
	var f namespaceFile
	if err := yaml.UnmarshalWithOptions(data, &f, yaml.Strict()); err != nil {
		return nil, fmt.Errorf("ws: parse namespaces: %w", err)
	}
	if len(f.Namespaces) == 0 {
		return nil, fmt.Errorf("%w: no namespaces defined", ErrInvalidConfig)
	}

	seen := make(map[string]bool, len(f.Namespaces))
	out := make([]*Namespace, 0, len(f.Namespaces))
	for _, s := range f.Namespaces {
		name := strings.TrimSpace(s.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: namespace name is required", ErrInvalidConfig)
		}
		if seen[name] {
			return nil, fmt.Errorf("%w: duplicate namespace %q", ErrInvalidConfig, name)
		}
		seen[name] = true

		ns := &Namespace{
			Name:         name,
			Policy:       s.Policy,
			RoomPrefixes: s.RoomPrefixes,
			MaxRooms:     s.MaxRooms,
		}
		if s.VerifiedToJoin {
			ns.JoinChecks = append(ns.JoinChecks, RequireVerified())
		}
		if len(s.JoinRoles) > 0 {
			ns.JoinChecks = append(ns.JoinChecks, RequireRoles(RoleModeAny, s.JoinRoles...))
		}
		if s.VerifiedToEmit {
			ns.EventChecks = append(ns.EventChecks, RequireVerified())
		}
		if len(s.EventRoles) > 0 {
			mode := RoleModeAny
			if s.EventRolesAll {
				mode = RoleModeAll
			}
			ns.EventChecks = append(ns.EventChecks, RequireRoles(mode, s.EventRoles...))
		}
		out = append(out, ns)
	}
	return out, nil
}

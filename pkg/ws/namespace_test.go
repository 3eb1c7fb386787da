package ws

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokmz/livehub/pkg/errors"
)

const namespacesYAML = `
namespaces:
  - name: spectate
    room_prefixes: ["match:"]
    max_rooms: 2
  - name: ranked
    policy:
      require_auth: true
      require_verified: true
    room_prefixes: ["ranked:"]
    join_roles: [player]
    event_roles: [player, ranked]
    event_roles_all: true
`

func TestParseNamespaces(t *testing.T) {
	ns, err := ParseNamespaces([]byte(namespacesYAML))
	require.NoError(t, err)
	require.Len(t, ns, 2)

	assert.Equal(t, "spectate", ns[0].Name)
	assert.False(t, ns[0].Policy.RequireAuth)
	assert.Equal(t, 2, ns[0].MaxRooms)

	ranked := ns[1]
	assert.True(t, ranked.Policy.RequireAuth)
	assert.True(t, ranked.Policy.RequireVerified)
	require.Len(t, ranked.JoinChecks, 1)
	require.Len(t, ranked.EventChecks, 1)

	player := &Identity{SubjectID: "u1", Roles: NewRoleSet("player")}
	err = NewChain(ranked.EventChecks...).Run(context.Background(), &Request{Identity: player})
	assert.True(t, errors.Is(err, errors.ErrInsufficientRole))
	assert.NoError(t, NewChain(ranked.JoinChecks...).Run(context.Background(), &Request{Identity: player}))
}

func TestParseNamespacesErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{name: "unknown field", yaml: "namespaces:\n  - name: a\n    max_room: 3\n"},
		{name: "duplicate", yaml: "namespaces:\n  - name: a\n  - name: a\n"},
		{name: "missing name", yaml: "namespaces:\n  - max_rooms: 3\n"},
		{name: "empty", yaml: "namespaces: []\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseNamespaces([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestLoadNamespaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "namespaces.yaml")
	require.NoError(t, os.WriteFile(path, []byte(namespacesYAML), 0644))

	ns, err := LoadNamespaces(path)
	require.NoError(t, err)
	assert.Len(t, ns, 2)

	_, err = LoadNamespaces(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDefaultNamespaces(t *testing.T) {
	names := map[string]*Namespace{}
	for _, ns := range DefaultNamespaces() {
		names[ns.Name] = ns
	}
	require.Len(t, names, 3)
	assert.False(t, names["leaderboard"].Policy.RequireAuth)
	assert.True(t, names["match"].Policy.RequireVerified)
	assert.Equal(t, []string{"admin", "operator"}, names["admin"].Policy.RequiredRoles)
}

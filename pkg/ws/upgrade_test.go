package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokmz/livehub/pkg/errors"
)

func newUpgradeServer(t *testing.T, opts ...Option) (*Hub, *httptest.Server) {
	t.Helper()
	h, err := NewHub(newTestVerifier(), newTestAccounts(), append([]Option{WithCloseGrace(time.Second)}, opts...)...)
	require.NoError(t, err)
	h.Start()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = h.HandleUpgrade(w, r, strings.TrimPrefix(r.URL.Path, "/ws/"))
	}))
	t.Cleanup(func() {
		_ = h.Shutdown(context.Background())
		srv.Close()
	})
	return h, srv
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func readFrame(t *testing.T, conn *websocket.Conn) frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(3*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var f frame
	require.NoError(t, json.Unmarshal(data, &f))
	return f
}

func TestHandleUpgradeRejects(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		header http.Header
		status int
		code   int
	}{
		{name: "missing credential", path: "/ws/match", status: http.StatusUnauthorized, code: errors.ErrMissingCredential.Code},
		{name: "invalid credential", path: "/ws/match?token=forged", status: http.StatusUnauthorized, code: errors.ErrInvalidCredential.Code},
		{name: "insufficient role", path: "/ws/admin?token=alice", status: http.StatusForbidden, code: errors.ErrInsufficientRole.Code},
		{name: "unknown namespace", path: "/ws/nope", status: http.StatusNotFound, code: errors.ErrNotFound.Code},
		{
			name:   "origin not allowed",
			path:   "/ws/leaderboard",
			header: http.Header{"Origin": {"https://evil.example"}},
			status: http.StatusForbidden,
			code:   errors.ErrForbidden.Code,
		},
	}

	h, srv := newUpgradeServer(t, WithAllowedOrigins("https://play.example.com"))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, tt.path), tt.header)
			require.ErrorIs(t, err, websocket.ErrBadHandshake)
			assert.Nil(t, conn)
			require.NotNil(t, resp)
			defer resp.Body.Close()

			assert.Equal(t, tt.status, resp.StatusCode)
			var body ErrorBody
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tt.code, body.Code)
		})
	}
	assert.Equal(t, int64(0), h.Metrics().TotalConnections)
}

func TestHandleUpgradeSession(t *testing.T) {
	h, srv := newUpgradeServer(t)

	header := http.Header{"Authorization": {"Bearer alice"}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/match"), header)
	require.NoError(t, err)
	defer conn.Close()

	f := readFrame(t, conn)
	require.Equal(t, FrameConnected, f.Type)
	var hello ConnectedData
	require.NoError(t, json.Unmarshal(f.Data, &hello))
	assert.Equal(t, "u1", hello.SubjectID)
	assert.False(t, hello.Anonymous)

	require.NoError(t, conn.WriteJSON(Inbound{Type: FrameJoin, RequestID: "j1", Room: "match:7"}))
	f = readFrame(t, conn)
	assert.Equal(t, FrameJoined, f.Type)
	assert.Equal(t, "j1", f.RequestID)

	n, err := h.BroadcastToRoom(context.Background(), "match:7", "score", map[string]int{"home": 1})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	f = readFrame(t, conn)
	assert.Equal(t, FrameEvent, f.Type)
	assert.JSONEq(t, `{"home":1}`, string(f.Data))

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	f = readFrame(t, conn)
	assert.Equal(t, FrameError, f.Type)

	require.NoError(t, h.Shutdown(context.Background()))
	f = readFrame(t, conn)
	assert.Equal(t, FrameShutdown, f.Type)

	_, _, err = conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseGoingAway), "got %v", err)
	assert.Equal(t, int64(0), h.Metrics().ActiveConnections)
}

func TestHandleUpgradeClientClose(t *testing.T) {
	h, srv := newUpgradeServer(t)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/leaderboard"), nil)
	require.NoError(t, err)
	readFrame(t, conn)
	assert.Equal(t, int64(1), h.Metrics().ActiveConnections)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	_ = conn.Close()

	assert.Eventually(t, func() bool { return h.Metrics().ActiveConnections == 0 }, 3*time.Second, 20*time.Millisecond)
}

func TestHandleUpgradeSubprotocolToken(t *testing.T) {
	_, srv := newUpgradeServer(t)

	dialer := websocket.Dialer{Subprotocols: []string{Subprotocol, SubprotocolTokenPrefix + "alice"}}
	conn, resp, err := dialer.Dial(wsURL(srv, "/ws/match"), nil)
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, Subprotocol, conn.Subprotocol())
	assert.Equal(t, Subprotocol, resp.Header.Get("Sec-WebSocket-Protocol"))

	f := readFrame(t, conn)
	require.Equal(t, FrameConnected, f.Type)
	var hello ConnectedData
	require.NoError(t, json.Unmarshal(f.Data, &hello))
	assert.Equal(t, "u1", hello.SubjectID)
}

package ws

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
)

const (
	// TokenParam 查询参数与辅助载荷中的凭证字段名
	TokenParam = "token"
	// TokenCookie 浏览器客户端携带凭证的 cookie 名
	TokenCookie = "livehub_token"
	// Subprotocol 服务端回显的子协议
	Subprotocol = "livehub"
	// SubprotocolTokenPrefix 浏览器客户端经 Sec-WebSocket-Protocol 携带凭证的条目前缀，
	// 例如 ["livehub", "livehub.token.<jwt>"]；该条目不会被回显
	SubprotocolTokenPrefix = "livehub.token."
)

// Handshake 握手元数据
type Handshake struct {
	Query      url.Values
	Header     http.Header
	Auth       map[string]any // 辅助认证载荷，部分传输层提供
	RemoteAddr string
}

// HandshakeFromRequest 从升级请求提取握手元数据
// 子协议与 cookie 中的凭证放入辅助载荷，子协议优先于 cookie
func HandshakeFromRequest(r *http.Request) Handshake {
	hs := Handshake{
		Query:      r.URL.Query(),
		Header:     r.Header,
		RemoteAddr: r.RemoteAddr,
	}
	if t := subprotocolToken(r); t != "" {
		hs.Auth = map[string]any{TokenParam: t}
	} else if c, err := r.Cookie(TokenCookie); err == nil && c.Value != "" {
		hs.Auth = map[string]any{TokenParam: c.Value}
	}
	return hs
}

// subprotocolToken 取第一个非空的凭证子协议条目
func subprotocolToken(r *http.Request) string {
	for _, p := range websocket.Subprotocols(r) {
		if t, ok := strings.CutPrefix(p, SubprotocolTokenPrefix); ok && t != "" {
			return t
		}
	}
	return ""
}

// ExtractToken 按优先级提取 bearer 凭证：查询参数、Authorization 头、辅助载荷
func ExtractToken(hs Handshake) (string, bool) {
	if t := strings.TrimSpace(hs.Query.Get(TokenParam)); t != "" {
		return t, true
	}

	if t := bearer(hs.Header.Get("Authorization")); t != "" {
		return t, true
	}

	if v, ok := hs.Auth[TokenParam].(string); ok {
		if t := strings.TrimSpace(v); t != "" {
			return t, true
		}
	}

	return "", false
}

// bearer 去掉可选的 Bearer 前缀（不区分大小写）
func bearer(v string) string {
	v = strings.TrimSpace(v)
	const scheme = "bearer"
	if len(v) >= len(scheme) && strings.EqualFold(v[:len(scheme)], scheme) {
		if len(v) == len(scheme) {
			return ""
		}
		if v[len(scheme)] == ' ' || v[len(scheme)] == '\t' {
			v = strings.TrimSpace(v[len(scheme):])
		}
	}
	return v
}

package ws

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractToken(t *testing.T) {
	tests := []struct {
		name   string
		hs     Handshake
		want   string
		wantOK bool
	}{
		{
			name:   "query parameter",
			hs:     Handshake{Query: url.Values{"token": {"q1"}}},
			want:   "q1",
			wantOK: true,
		},
		{
			name: "query wins over header and payload",
			hs: Handshake{
				Query:  url.Values{"token": {"q1"}},
				Header: http.Header{"Authorization": {"Bearer h1"}},
				Auth:   map[string]any{"token": "a1"},
			},
			want:   "q1",
			wantOK: true,
		},
		{
			name:   "bearer header",
			hs:     Handshake{Header: http.Header{"Authorization": {"Bearer h1"}}},
			want:   "h1",
			wantOK: true,
		},
		{
			name:   "lowercase scheme",
			hs:     Handshake{Header: http.Header{"Authorization": {"bearer   h2 "}}},
			want:   "h2",
			wantOK: true,
		},
		{
			name:   "header without scheme",
			hs:     Handshake{Header: http.Header{"Authorization": {"h3"}}},
			want:   "h3",
			wantOK: true,
		},
		{
			name: "header wins over payload",
			hs: Handshake{
				Header: http.Header{"Authorization": {"Bearer h1"}},
				Auth:   map[string]any{"token": "a1"},
			},
			want:   "h1",
			wantOK: true,
		},
		{
			name:   "auxiliary payload",
			hs:     Handshake{Auth: map[string]any{"token": "a1"}},
			want:   "a1",
			wantOK: true,
		},
		{
			name:   "non-string payload ignored",
			hs:     Handshake{Auth: map[string]any{"token": 42}},
			wantOK: false,
		},
		{
			name:   "blank values ignored",
			hs:     Handshake{Query: url.Values{"token": {"  "}}, Header: http.Header{"Authorization": {"Bearer "}}},
			wantOK: false,
		},
		{
			name:   "nothing present",
			hs:     Handshake{},
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractToken(tt.hs)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHandshakeFromRequest(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/ws/match?x=1", nil)
	r.AddCookie(&http.Cookie{Name: TokenCookie, Value: "c1"})

	hs := HandshakeFromRequest(r)
	assert.Equal(t, "1", hs.Query.Get("x"))
	assert.Equal(t, "c1", hs.Auth[TokenParam])

	got, ok := ExtractToken(hs)
	assert.True(t, ok)
	assert.Equal(t, "c1", got)
}

func TestHandshakeSubprotocolToken(t *testing.T) {
	tests := []struct {
		name     string
		protocol string
		cookie   string
		want     string
		wantOK   bool
	}{
		{name: "token entry", protocol: "livehub, livehub.token.s1", want: "s1", wantOK: true},
		{name: "wins over cookie", protocol: "livehub, livehub.token.s1", cookie: "c1", want: "s1", wantOK: true},
		{name: "jwt with dots", protocol: "livehub.token.aa.bb.cc", want: "aa.bb.cc", wantOK: true},
		{name: "empty entry falls back to cookie", protocol: "livehub, livehub.token.", cookie: "c1", want: "c1", wantOK: true},
		{name: "plain protocol only", protocol: "livehub", wantOK: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/ws/match", nil)
			r.Header.Set("Sec-WebSocket-Protocol", tt.protocol)
			if tt.cookie != "" {
				r.AddCookie(&http.Cookie{Name: TokenCookie, Value: tt.cookie})
			}

			got, ok := ExtractToken(HandshakeFromRequest(r))
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIdentityRateKey(t *testing.T) {
	assert.Equal(t, "conn:c1", AnonymousIdentity().RateKey("c1"))
	assert.Equal(t, "sub:u1", (&Identity{SubjectID: "u1"}).RateKey("c1"))

	var nilID *Identity
	assert.True(t, nilID.Anonymous())
}

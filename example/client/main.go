package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/spf13/pflag"

	"github.com/tokmz/livehub/pkg/auth"
	"github.com/tokmz/livehub/pkg/ws"
)

// 连接 match 命名空间，加入房间并打印收到的帧
//
//	go run ./example/client -secret dev-secret -room match:42
func main() {
	addr := pflag.String("addr", "ws://127.0.0.1:8080", "livehub address")
	secret := pflag.String("secret", "dev-secret", "jwt secret shared with the server")
	room := pflag.String("room", "match:42", "room to join")
	pflag.Parse()

	// 签发测试令牌
	issuer, err := auth.NewJWTVerifier(*secret)
	if err != nil {
		log.Fatalf("create verifier: %v", err)
	}
	token, err := issuer.Issue(auth.Claims{
		Name:             "Alice",
		Roles:            []string{"player"},
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u1"},
	}, time.Hour)
	if err != nil {
		log.Fatalf("issue token: %v", err)
	}

	header := http.Header{"Authorization": {"Bearer " + token}}
	conn, resp, err := websocket.DefaultDialer.Dial(*addr+"/ws/match", header)
	if err != nil {
		if resp != nil {
			log.Fatalf("handshake rejected: %s", resp.Status)
		}
		log.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(ws.Inbound{Type: ws.FrameJoin, RequestID: "join-1", Room: *room}); err != nil {
		log.Fatalf("join: %v", err)
	}

	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				log.Printf("connection closed: %v", err)
				os.Exit(0)
			}
			fmt.Println(string(data))
		}
	}()

	// 定时发送心跳
	ticker := time.NewTicker(20 * time.Second)
	defer ticker.Stop()
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	for {
		select {
		case <-ticker.C:
			_ = conn.WriteJSON(ws.Inbound{Type: ws.FramePing})
		case <-quit:
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
			return
		}
	}
}

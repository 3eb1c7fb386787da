package main

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/spf13/pflag"

	"github.com/tokmz/livehub/pkg/bus"
	"github.com/tokmz/livehub/pkg/cache"
)

// 通过 Redis 总线向房间广播一条比分更新（服务端需配置 bus.kind: redis）
//
//	go run ./example/publish -room match:42
func main() {
	addr := pflag.String("redis", "localhost:6379", "redis address")
	channel := pflag.String("channel", "livehub:broadcast", "bus channel")
	room := pflag.String("room", "match:42", "target room")
	pflag.Parse()

	client, err := cache.NewRedisClient(&cache.RedisConfig{Addr: *addr})
	if err != nil {
		log.Fatalf("connect redis: %v", err)
	}
	defer client.Close()

	pub := bus.NewRedisPublisher(client, *channel)
	defer pub.Close()

	payload, _ := json.Marshal(map[string]int{"home": 2, "away": 1})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = pub.Publish(ctx, bus.Envelope{
		Target:  bus.TargetRoom,
		Name:    *room,
		Event:   "score",
		Payload: payload,
	})
	if err != nil {
		log.Fatalf("publish: %v", err)
	}
	log.Printf("published score to %s", *room)
}

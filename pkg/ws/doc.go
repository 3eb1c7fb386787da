// Package ws 实时连接与房间广播。
//
// # 组成
//
//   - Authenticator 握手认证：提取凭证、外部校验、账号状态与角色检查
//   - Registry 分片连接注册表与房间索引，两者始终互为镜像
//   - Broadcaster 房间、命名空间、单连接投递，负载只编码一次
//   - Chain 加入房间与发送事件前的检查链，包含固定窗口限流
//   - Hub 组合以上部分，负责握手升级、入站帧分发、失效清理与优雅关闭
//
// # 基本用法
//
//	hub, err := ws.NewHub(verifier, accounts,
//	    ws.WithNamespaces(ws.DefaultNamespaces()...),
//	    ws.WithRateLimit(30, 10*time.Second),
//	    ws.WithLogger(log),
//	)
//	if err != nil {
//	    return err
//	}
//	hub.Start()
//
//	ws.Relay(hub, "chat")
//	ws.Handle[ScoreReq, ScoreResp](hub, "score.submit",
//	    func(ctx context.Context, ev *ws.EventContext, req *ScoreReq) (*ScoreResp, error) {
//	        return &ScoreResp{Accepted: true}, nil
//	    })
//
//	r.GET("/ws/:namespace", func(c *gin.Context) {
//	    _ = hub.HandleUpgrade(c.Writer, c.Request, c.Param("namespace"))
//	})
//
//	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
//	defer cancel()
//	hub.Shutdown(ctx)
//
// # 协议
//
// 入站帧：join、leave、event、ping、refresh。
// 出站帧：connected、joined、left、event、ack、pong、error、refreshed、shutdown。
// 所有帧均为 JSON 文本帧，错误帧携带 code、message 与可选的 retry_after_ms。
package ws

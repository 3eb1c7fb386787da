package livehub

import (
	"crypto/subtle"
	"encoding/json"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/tokmz/livehub/pkg/bus"
	"github.com/tokmz/livehub/pkg/errors"
	"github.com/tokmz/livehub/pkg/ws"
)

var (
	// ErrAdminToken 管理令牌错误
	ErrAdminToken = errors.ErrUnauthorized.WithMessage("invalid admin token")
	// ErrConnectionNotFound 踢出的连接不存在
	ErrConnectionNotFound = errors.ErrNotFound.WithMessage("connection not found")
	// ErrShuttingDown 服务正在关闭
	ErrShuttingDown = errors.ErrUnavailable.WithMessage("server shutting down")
)

// healthz 关闭期间返回 503，便于负载均衡摘除
func (s *Server) healthz(c *gin.Context) {
	if s.hub.ShuttingDown() {
		respondError(c, ErrShuttingDown)
		return
	}
	respond(c, gin.H{"status": "ok"})
}

// upgrade 升级 /ws/:namespace，拒绝响应由 hub 写出
func (s *Server) upgrade(c *gin.Context) {
	ns := c.Param("namespace")
	if err := s.hub.HandleUpgrade(c.Writer, c.Request, ns); err != nil {
		s.log.DebugContext(c.Request.Context(), "handshake rejected",
			zap.String("namespace", ns),
			zap.String("ip", c.ClientIP()),
			zap.Error(err),
		)
		_ = c.Error(err)
	}
	c.Abort()
}

// adminAuth 校验 Authorization: Bearer <token>
func adminAuth(token string) gin.HandlerFunc {
	want := []byte(token)
	return func(c *gin.Context) {
		got, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			respondError(c, ErrAdminToken)
			return
		}
		c.Next()
	}
}

// snapshot GET /admin/metrics
func (s *Server) snapshot(c *gin.Context) {
	respond(c, s.hub.Metrics())
}

// broadcast POST /admin/broadcast
// 本节点直接投递时返回送达数，经外部总线发布时只返回 published
func (s *Server) broadcast(c *gin.Context) {
	var env bus.Envelope
	if err := json.NewDecoder(c.Request.Body).Decode(&env); err != nil {
		respondError(c, errors.ErrBadRequest.WithMessage("invalid envelope").WithError(err))
		return
	}
	if err := env.Validate(); err != nil {
		respondError(c, errors.ErrBadRequest.WithMessage(err.Error()))
		return
	}

	ctx := c.Request.Context()
	if d, ok := s.publisher.(*bus.Deliverer); ok {
		n, err := d.Deliver(ctx, env)
		if errors.Is(err, ws.ErrUnknownNamespace) {
			respondError(c, errors.ErrNotFound.WithMessage("unknown namespace"))
			return
		}
		if err != nil {
			respondError(c, err)
			return
		}
		respond(c, gin.H{"reached": n})
		return
	}

	if err := s.publisher.Publish(ctx, env); err != nil {
		s.log.ErrorContext(ctx, "admin broadcast publish failed", zap.Error(err))
		respondError(c, errors.ErrServer.WithMessage("publish failed").WithError(err))
		return
	}
	respond(c, gin.H{"published": true})
}

type kickRequest struct {
	ConnectionID string `json:"connection_id"`
	Reason       string `json:"reason"`
}

// kick POST /admin/kick
func (s *Server) kick(c *gin.Context) {
	var req kickRequest
	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil || req.ConnectionID == "" {
		respondError(c, errors.ErrBadRequest.WithMessage("connection_id is required"))
		return
	}
	if req.Reason == "" {
		req.Reason = "kicked"
	}
	if !s.hub.Kick(req.ConnectionID, req.Reason) {
		respondError(c, ErrConnectionNotFound)
		return
	}
	s.log.InfoContext(c.Request.Context(), "connection kicked",
		zap.String("conn_id", req.ConnectionID),
		zap.String("reason", req.Reason),
	)
	respond(c, gin.H{"kicked": req.ConnectionID})
}

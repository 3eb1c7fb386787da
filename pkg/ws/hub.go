package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/tokmz/livehub/pkg/cache"
	"github.com/tokmz/livehub/pkg/errors"
	"github.com/tokmz/livehub/pkg/logger"
)

const departedPrefix = "departed:"

// namespaceRuntime 命名空间及其组装好的检查链
type namespaceRuntime struct {
	ns        *Namespace
	handshake *Chain
	join      *Chain
	event     *Chain
	refresh   *Chain
}

// Hub 连接中心
type Hub struct {
	cfg     *Config
	log     logger.Logger
	clock   clock.Clock
	tracer  trace.Tracer
	auth    *Authenticator
	reg     *Registry
	bc      *Broadcaster
	limiter *FixedWindowLimiter
	metrics *Metrics
	events  *EventBus
	router  *Router

	recent     cache.Cache // 最近断开的身份
	ownsRecent bool

	namespaces map[string]*namespaceRuntime
	upgrader   websocket.Upgrader

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startOnce    sync.Once
	shutdownOnce sync.Once
	shuttingDown atomic.Bool
	shutdownErr  error
}

// NewHub 创建连接中心
// 握手与凭证刷新都会重新查询账号状态，verifier 与 accounts 都不能为 nil；
// 不区分账号状态时可传入恒为 Active、Verified 的 AccountLookupFunc
func NewHub(verifier Verifier, accounts AccountLookup, opts ...Option) (*Hub, error) {
	if verifier == nil {
		return nil, fmt.Errorf("%w: verifier is required", ErrInvalidConfig)
	}
	if accounts == nil {
		return nil, fmt.Errorf("%w: account lookup is required", ErrInvalidConfig)
	}

	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if len(cfg.Namespaces) == 0 {
		cfg.Namespaces = DefaultNamespaces()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	if cfg.ServerID == "" {
		cfg.ServerID = nodePrefix
	}

	h := &Hub{
		cfg:        cfg,
		log:        cfg.Logger.With(zap.String("component", "ws.hub")),
		clock:      cfg.Clock,
		tracer:     otel.Tracer("livehub.ws"),
		router:     NewRouter(),
		namespaces: make(map[string]*namespaceRuntime, len(cfg.Namespaces)),
		upgrader:   newUpgrader(cfg.UpgraderConfig),
	}

	h.metrics = NewMetrics(cfg.Clock)
	h.reg = NewRegistry(cfg.Clock, h.metrics)
	h.bc = NewBroadcaster(h.reg, h.metrics, cfg.Clock, h.log)
	h.auth = NewAuthenticator(verifier, accounts, cfg.VerifyTimeout, h.log)
	if cfg.RateStore == nil {
		cfg.RateStore = NewMemoryRateStore(cfg.Clock)
	}
	h.limiter = NewFixedWindowLimiter(cfg.RateLimit.MaxEvents, cfg.RateLimit.Window, cfg.RateStore, h.log)

	h.recent = cfg.Departed
	if h.recent == nil {
		c, err := cache.NewWithOptions(cache.WithKeyPrefix("ws:"), cache.WithDefaultTTL(cfg.ReconnectWindow))
		if err != nil {
			return nil, err
		}
		h.recent = c
		h.ownsRecent = true
	}

	rateCheck := RateLimit(h.limiter)
	for _, ns := range cfg.Namespaces {
		if _, dup := h.namespaces[ns.Name]; dup {
			return nil, fmt.Errorf("%w: duplicate namespace %q", ErrInvalidConfig, ns.Name)
		}
		h.namespaces[ns.Name] = &namespaceRuntime{
			ns:        ns,
			handshake: NewChain(ns.HandshakeChecks...),
			join: NewChain(rateCheck, RoomPrefixes(ns.RoomPrefixes...), MaxRooms(ns.MaxRooms)).
				Append(ns.JoinChecks...),
			event:   NewChain(rateCheck).Append(ns.EventChecks...),
			refresh: NewChain(rateCheck),
		}
	}

	h.events = NewEventBus(cfg.EventWorkers, cfg.EventQueueSize)
	h.ctx, h.cancel = context.WithCancel(context.Background())
	return h, nil
}

// Start 启动失效清理与指标日志，可重复调用
func (h *Hub) Start() {
	h.startOnce.Do(func() {
		h.wg.Add(2)
		go h.loop(h.cfg.SweepInterval, h.sweep)
		go h.loop(h.cfg.MetricsInterval, h.logMetrics)
	})
}

func (h *Hub) loop(interval time.Duration, fn func()) {
	defer h.wg.Done()
	t := h.clock.Ticker(interval)
	defer t.Stop()
	for {
		select {
		case <-h.ctx.Done():
			return
		case <-t.C:
			fn()
		}
	}
}

// Accept 对握手执行认证与准入检查，通过后登记连接
// 拒绝时不会创建任何连接记录
func (h *Hub) Accept(ctx context.Context, hs Handshake, namespace, connID string, sender Sender) (*Connection, error) {
	rt, id, err := h.authorize(ctx, hs, namespace, connID)
	if err != nil {
		return nil, err
	}
	return h.admit(ctx, rt, id, connID, sender)
}

func (h *Hub) authorize(ctx context.Context, hs Handshake, namespace, connID string) (*namespaceRuntime, *Identity, error) {
	rt, id, err := h.admission(ctx, hs, namespace, connID)
	if err != nil {
		h.metrics.IncErrors()
		h.log.InfoContext(ctx, "handshake rejected",
			zap.String("namespace", namespace),
			zap.String("remote_addr", hs.RemoteAddr),
			zap.Error(err))
		h.events.Publish(Event{Type: EventRejected, ConnectionID: connID, Namespace: namespace,
			Reason: err.Error(), Time: h.clock.Now()})
		return nil, nil, err
	}
	return rt, id, nil
}

func (h *Hub) admission(ctx context.Context, hs Handshake, namespace, connID string) (*namespaceRuntime, *Identity, error) {
	if h.shuttingDown.Load() {
		return nil, nil, errors.ErrUnavailable.WithMessage("server shutting down").WithError(ErrShuttingDown)
	}
	rt, ok := h.namespaces[namespace]
	if !ok {
		return nil, nil, errors.ErrNotFound.WithMessage("unknown namespace").WithError(ErrUnknownNamespace)
	}
	if h.reg.Count() >= h.cfg.MaxConnections {
		return nil, nil, errors.ErrUnavailable.WithMessage("too many connections").WithError(ErrTooManyConnections)
	}

	id, err := h.auth.Authenticate(ctx, hs, rt.ns.Policy)
	if err != nil {
		return nil, nil, err
	}
	err = rt.handshake.Run(ctx, &Request{
		Op:           OpHandshake,
		Namespace:    namespace,
		ConnectionID: connID,
		Identity:     id,
	})
	if err != nil {
		return nil, nil, err
	}
	return rt, id, nil
}

func (h *Hub) admit(ctx context.Context, rt *namespaceRuntime, id *Identity, connID string, sender Sender) (*Connection, error) {
	c, err := h.reg.Register(connID, rt.ns.Name, id, sender)
	if err != nil {
		return nil, err
	}
	if h.shuttingDown.Load() {
		h.reg.Deregister(connID)
		return nil, errors.ErrUnavailable.WithMessage("server shutting down").WithError(ErrShuttingDown)
	}

	if !id.Anonymous() {
		key := departedPrefix + id.SubjectID
		if ok, err := h.recent.Exists(ctx, key); err == nil && ok {
			h.metrics.IncReconnections()
			_ = h.recent.Delete(ctx, key)
		}
	}

	if err := h.bc.sendFrame(c, Outbound{Type: FrameConnected, Namespace: c.Namespace, Data: h.connectedData(c, id)}); err != nil {
		h.log.WarnContext(ctx, "connected frame not delivered", zap.String("conn_id", c.ID), zap.Error(err))
	}

	h.log.InfoContext(ctx, "connection opened",
		zap.String("conn_id", c.ID),
		zap.String("session_id", c.SessionID),
		zap.String("namespace", c.Namespace),
		zap.String("subject_id", id.SubjectID),
		zap.Bool("anonymous", id.Anonymous()))
	h.events.Publish(Event{Type: EventConnected, ConnectionID: c.ID, SubjectID: id.SubjectID,
		Namespace: c.Namespace, Time: h.clock.Now()})
	return c, nil
}

func (h *Hub) connectedData(c *Connection, id *Identity) ConnectedData {
	return ConnectedData{
		ConnectionID: c.ID,
		SessionID:    c.SessionID,
		Namespace:    c.Namespace,
		ServerID:     h.cfg.ServerID,
		UptimeMS:     h.metrics.Uptime().Milliseconds(),
		SubjectID:    id.SubjectID,
		Anonymous:    id.Anonymous(),
		Roles:        id.Roles.Slice(),
	}
}

// HandleUpgrade 认证通过后升级为 WebSocket
// 拒绝在升级前以 HTTP 状态码与 JSON 错误体返回
func (h *Hub) HandleUpgrade(w http.ResponseWriter, r *http.Request, namespace string) error {
	if !h.upgrader.CheckOrigin(r) {
		err := errors.ErrForbidden.WithMessage("origin not allowed")
		writeReject(w, err)
		return err
	}

	connID := NewConnectionID()
	hs := HandshakeFromRequest(r)
	rt, id, err := h.authorize(r.Context(), hs, namespace, connID)
	if err != nil {
		writeReject(w, err)
		return err
	}

	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	client := newClient(wsConn, h.cfg)
	c, err := h.admit(r.Context(), rt, id, connID, client)
	if err != nil {
		e := errors.From(err, errors.ErrServer)
		client.reject(websocket.CloseTryAgainLater, e.Message)
		return err
	}
	go client.run(h, c)
	return nil
}

// writeReject 写出握手拒绝响应
func writeReject(w http.ResponseWriter, err error) {
	e := errors.From(err, errors.ErrServer)
	status := e.HttpCode
	if status == 0 {
		status = http.StatusInternalServerError
	}
	body := NewErrorBody(e)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if body.RetryAfterMs > 0 {
		w.Header().Set("Retry-After", fmt.Sprint((body.RetryAfterMs+999)/1000))
	}
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// Dispatch 处理一条入站帧
// 帧无法解析时返回 ErrInvalidFrame；其余错误以错误帧回复，不断开连接
func (h *Hub) Dispatch(ctx context.Context, c *Connection, raw []byte) error {
	in, err := decode(raw)
	if err != nil {
		h.bc.sendError(c, "", errors.ErrBadRequest.WithMessage("invalid frame"))
		return err
	}
	h.reg.Touch(c.ID)

	id := c.Identity()
	ctx = logger.WithConnectionID(ctx, c.ID)
	if !id.Anonymous() {
		ctx = logger.WithSubjectID(ctx, id.SubjectID)
	}

	switch in.Type {
	case FramePing:
		_ = h.bc.sendFrame(c, Outbound{Type: FramePong, RequestID: in.RequestID})
	case FrameJoin:
		h.handleJoin(ctx, c, in)
	case FrameLeave:
		h.handleLeave(ctx, c, in)
	case FrameEvent:
		h.handleEvent(ctx, c, in)
	case FrameRefresh:
		_ = h.RefreshCredential(ctx, c.ID, in.RequestID, in.Token)
	}
	return nil
}

func (h *Hub) handleJoin(ctx context.Context, c *Connection, in *Inbound) {
	if in.Room == "" {
		h.bc.sendError(c, in.RequestID, errors.ErrRoomOperationFailed.WithMessage("room is required"))
		return
	}
	rt := h.namespaces[c.Namespace]
	req := &Request{Op: OpJoin, Namespace: c.Namespace, ConnectionID: c.ID, Identity: c.Identity(), Room: in.Room, Conn: c}
	if err := rt.join.Run(ctx, req); err != nil {
		h.reject(ctx, c, in, err)
		return
	}

	added, err := h.reg.Join(c.ID, in.Room)
	if err != nil {
		h.bc.sendError(c, in.RequestID, errors.ErrRoomOperationFailed.WithError(err))
		return
	}
	_ = h.bc.sendFrame(c, Outbound{Type: FrameJoined, RequestID: in.RequestID, Room: in.Room})
	if added {
		h.log.DebugContext(ctx, "room joined", zap.String("room", in.Room))
		h.events.Publish(Event{Type: EventRoomJoined, ConnectionID: c.ID, SubjectID: req.Identity.SubjectID,
			Namespace: c.Namespace, Room: in.Room, Time: h.clock.Now()})
	}
}

func (h *Hub) handleLeave(ctx context.Context, c *Connection, in *Inbound) {
	if in.Room == "" {
		h.bc.sendError(c, in.RequestID, errors.ErrRoomOperationFailed.WithMessage("room is required"))
		return
	}
	removed, err := h.reg.Leave(c.ID, in.Room)
	if err != nil {
		h.bc.sendError(c, in.RequestID, errors.ErrRoomOperationFailed.WithError(err))
		return
	}
	_ = h.bc.sendFrame(c, Outbound{Type: FrameLeft, RequestID: in.RequestID, Room: in.Room})
	if removed {
		h.log.DebugContext(ctx, "room left", zap.String("room", in.Room))
		h.events.Publish(Event{Type: EventRoomLeft, ConnectionID: c.ID, Namespace: c.Namespace,
			Room: in.Room, Time: h.clock.Now()})
	}
}

func (h *Hub) handleEvent(ctx context.Context, c *Connection, in *Inbound) {
	ctx, span := h.tracer.Start(ctx, "ws.event",
		trace.WithAttributes(attribute.String("ws.event", in.Event), attribute.String("ws.namespace", c.Namespace)))
	defer span.End()

	if in.Event == "" {
		h.bc.sendError(c, in.RequestID, errors.ErrBadRequest.WithMessage("event is required"))
		return
	}
	id := c.Identity()
	rt := h.namespaces[c.Namespace]
	req := &Request{Op: OpEvent, Namespace: c.Namespace, ConnectionID: c.ID, Identity: id, Room: in.Room, Event: in.Event, Conn: c}
	if err := rt.event.Run(ctx, req); err != nil {
		h.reject(ctx, c, in, err)
		return
	}

	handler, ok := h.router.Lookup(in.Event)
	if !ok {
		h.bc.sendError(c, in.RequestID, errors.ErrNotFound.WithMessage("unknown event"))
		return
	}
	ev := &EventContext{Conn: c, Identity: id, Room: in.Room, Event: in.Event, RequestID: in.RequestID, Data: in.Data, hub: h}
	if err := handler(ctx, ev); err != nil {
		span.RecordError(err)
		var e *errors.Error
		if !errors.As(err, &e) {
			h.log.ErrorContext(ctx, "event handler failed", zap.String("event", in.Event), zap.Error(err))
		}
		h.bc.sendError(c, in.RequestID, err)
	}
}

// reject 检查链拒绝：回复错误帧，连接保持
func (h *Hub) reject(ctx context.Context, c *Connection, in *Inbound, err error) {
	check := ""
	var rej *Rejection
	if errors.As(err, &rej) {
		check = rej.Check
	}
	h.log.DebugContext(ctx, "request rejected",
		zap.String("op", string(in.Type)), zap.String("check", check), zap.Error(err))
	h.events.Publish(Event{Type: EventRejected, ConnectionID: c.ID, Namespace: c.Namespace,
		Room: in.Room, Reason: err.Error(), Time: h.clock.Now()})
	h.bc.sendError(c, in.RequestID, err)
}

// RefreshCredential 用新凭证重新认证连接
// 成功时原子替换身份；失败时只向该连接回复错误，原身份不变且连接保持
func (h *Hub) RefreshCredential(ctx context.Context, connID, requestID, token string) error {
	c, ok := h.reg.Get(connID)
	if !ok {
		return ErrConnectionNotFound
	}
	id, err := h.refresh(ctx, c, token)
	if err != nil {
		h.log.InfoContext(ctx, "credential refresh rejected", zap.String("conn_id", connID), zap.Error(err))
		h.bc.sendError(c, requestID, err)
		return err
	}
	_ = h.bc.sendFrame(c, Outbound{Type: FrameRefreshed, RequestID: requestID, Data: h.connectedData(c, id)})
	h.events.Publish(Event{Type: EventIdentityRefresh, ConnectionID: c.ID, SubjectID: id.SubjectID,
		Namespace: c.Namespace, Time: h.clock.Now()})
	return nil
}

func (h *Hub) refresh(ctx context.Context, c *Connection, token string) (*Identity, error) {
	rt := h.namespaces[c.Namespace]
	prev := c.Identity()
	req := &Request{Op: OpRefresh, Namespace: c.Namespace, ConnectionID: c.ID, Identity: prev, Conn: c}
	if err := rt.refresh.Run(ctx, req); err != nil {
		return nil, err
	}
	if token == "" {
		return nil, errors.ErrMissingCredential
	}

	id, err := h.auth.Resolve(ctx, token, rt.ns.Policy)
	if err != nil {
		return nil, err
	}
	if !prev.Anonymous() && id.SubjectID != prev.SubjectID {
		return nil, errors.ErrInvalidCredential.WithMessage("credential subject mismatch")
	}
	if err := h.reg.SetIdentity(c.ID, id); err != nil {
		return nil, errors.ErrInvalidCredential.WithError(err)
	}
	return id, nil
}

// Disconnect 传输层断开后注销连接，重复调用无副作用
func (h *Hub) Disconnect(connID, reason string) {
	c, ok := h.reg.Deregister(connID)
	if !ok {
		return
	}
	h.onDeparted(c, reason)
}

// Kick 主动断开连接
func (h *Hub) Kick(connID, reason string) bool {
	c, ok := h.reg.Deregister(connID)
	if !ok {
		return false
	}
	h.onDeparted(c, reason)
	go func() { _ = c.Sender().Close(websocket.ClosePolicyViolation, reason) }()
	return true
}

// onDeparted 记录已注销的连接
func (h *Hub) onDeparted(c *Connection, reason string) {
	id := c.Identity()
	if !id.Anonymous() && h.cfg.ReconnectWindow > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		if err := h.recent.Set(ctx, departedPrefix+id.SubjectID, 1, h.cfg.ReconnectWindow); err != nil {
			h.log.Warn("departed marker not stored", zap.String("subject_id", id.SubjectID), zap.Error(err))
		}
		cancel()
	}
	h.log.Info("connection closed",
		zap.String("conn_id", c.ID),
		zap.String("namespace", c.Namespace),
		zap.String("reason", reason),
		zap.Duration("duration", h.clock.Since(c.ConnectedAt)))
	h.events.Publish(Event{Type: EventDisconnected, ConnectionID: c.ID, SubjectID: id.SubjectID,
		Namespace: c.Namespace, Reason: reason, Time: h.clock.Now()})
}

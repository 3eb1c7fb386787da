package main

import (
	"context"
	"fmt"
	"os"

	"github.com/IBM/sarama"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/tokmz/livehub"
	"github.com/tokmz/livehub/pkg/auth"
	"github.com/tokmz/livehub/pkg/bus"
	"github.com/tokmz/livehub/pkg/cache"
	"github.com/tokmz/livehub/pkg/config"
	"github.com/tokmz/livehub/pkg/logger"
	"github.com/tokmz/livehub/pkg/metrics"
	"github.com/tokmz/livehub/pkg/orm"
	"github.com/tokmz/livehub/pkg/request"
	"github.com/tokmz/livehub/pkg/tracing"
	"github.com/tokmz/livehub/pkg/ws"
)

func main() {
	path := pflag.StringP("config", "c", "", "config file (yaml)")
	version := pflag.BoolP("version", "v", false, "print version")
	pflag.Parse()

	if *version {
		fmt.Println("livehub", livehub.Version)
		return
	}

	if err := run(*path); err != nil {
		fmt.Fprintln(os.Stderr, "livehub:", err)
		os.Exit(1)
	}
}

// app 进程内需要随关闭释放的资源
type app struct {
	settings *config.Settings
	log      logger.Logger
	redis    redis.UniversalClient
	closers  []closer
}

type closer struct {
	name string
	fn   func() error
}

func run(path string) error {
	s, conf, err := config.LoadSettings(path, config.WithAutoWatch(true))
	if err != nil {
		return err
	}
	defer conf.Close()

	log, err := newLogger(s.Log)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	a := &app{settings: s, log: log}
	conf.OnChange(a.reload)

	ctx := context.Background()
	if s.Tracing.Enabled {
		tc := tracing.DefaultConfig()
		tc.ServiceVersion = livehub.Version
		tc.ExporterType = s.Tracing.Exporter
		tc.ExporterEndpoint = s.Tracing.Endpoint
		tc.SamplingRate = s.Tracing.SamplingRate
		if _, err := tracing.NewTracerProvider(ctx, tc); err != nil {
			return err
		}
		defer func() { _ = tracing.Shutdown(context.Background()) }()
	}

	hub, err := a.newHub()
	if err != nil {
		a.closeAll()
		return err
	}

	reg, err := metrics.NewRegistry(hub, "")
	if err != nil {
		_ = hub.Shutdown(ctx)
		return err
	}

	publisher, sources, err := a.newBus(hub)
	if err != nil {
		_ = hub.Shutdown(ctx)
		return err
	}

	// 外部来源先于 hub 停止，避免关闭期间继续投递
	busCtx, stopBus := context.WithCancel(ctx)
	defer stopBus()

	srv := livehub.New(hub,
		livehub.WithMode(s.Server.Mode),
		livehub.WithAddr(s.Server.Addr),
		livehub.WithShutdownTimeout(s.Server.ShutdownTimeout),
		livehub.WithAdminToken(s.Server.AdminToken),
		livehub.WithHandshakeLimit(s.Server.HandshakeRate, s.Server.HandshakeBurst),
		livehub.WithLogger(log),
		livehub.WithPublisher(publisher),
		livehub.WithGatherer(reg),
		livehub.WithBeforeShutdown(stopBus),
	)

	if len(sources) > 0 {
		group := bus.NewGroup(log, sources...)
		deliverer := bus.NewDeliverer(hub, log)
		go func() {
			if err := group.Run(busCtx, deliverer.Handle); err != nil {
				log.Error("bus stopped", zap.Error(err))
			}
		}()
	}

	return srv.Run(ctx)
}

// reload 配置文件变更时只调整日志级别，其余配置需要重启
func (a *app) reload(c *config.Config) {
	level, err := logger.ParseLevel(c.GetString("log.level"))
	if err != nil {
		a.log.Warn("ignoring invalid log level", zap.Error(err))
		return
	}
	if level != a.log.Level() {
		a.log.SetLevel(level)
		a.log.Info("log level changed", zap.String("level", level.String()))
	}
}

func newLogger(s config.LogSettings) (logger.Logger, error) {
	level, err := logger.ParseLevel(s.Level)
	if err != nil {
		return nil, err
	}
	format, err := logger.ParseFormat(s.Format)
	if err != nil {
		return nil, err
	}
	opts := []logger.Option{
		logger.WithLevel(level),
		logger.WithFormat(format),
		logger.WithConsoleOutput(),
	}
	if s.File != "" {
		opts = append(opts, logger.WithRotateOutput(&logger.RotateConfig{
			Filename:   s.File,
			MaxSize:    s.MaxSizeMB,
			MaxBackups: s.MaxBackups,
			Compress:   true,
		}))
	}
	if s.Sampling {
		opts = append(opts, logger.WithSampling(&logger.SamplingConfig{}))
	}
	return logger.NewWithOptions(opts...)
}

func (a *app) redisClient() (redis.UniversalClient, error) {
	if a.redis != nil {
		return a.redis, nil
	}
	client, err := cache.NewRedisClient(&cache.RedisConfig{
		Addr:     a.settings.Redis.Addr,
		Password: a.settings.Redis.Password,
		DB:       a.settings.Redis.DB,
	})
	if err != nil {
		return nil, err
	}
	a.redis = client
	a.closers = append(a.closers, closer{name: "redis", fn: client.Close})
	return client, nil
}

func (a *app) closeAll() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		_ = a.closers[i].fn()
	}
}

func (a *app) newHub() (*ws.Hub, error) {
	s := a.settings

	verifier, err := a.newVerifier()
	if err != nil {
		return nil, err
	}
	accounts, err := a.newAccounts()
	if err != nil {
		return nil, err
	}

	opts := []ws.Option{
		ws.WithLogger(a.log),
		ws.WithMaxConnections(s.Hub.MaxConnections),
		ws.WithMaxMessageSize(s.Hub.MaxMessageSize),
		ws.WithHeartbeat(s.Hub.HeartbeatInterval, s.Hub.StaleAfter),
		ws.WithSweepInterval(s.Hub.SweepInterval),
		ws.WithMetricsInterval(s.Hub.MetricsInterval),
		ws.WithCloseGrace(s.Hub.CloseGrace),
		ws.WithVerifyTimeout(s.Hub.VerifyTimeout),
		ws.WithReconnectWindow(s.Hub.ReconnectWindow),
		ws.WithRateLimit(s.Limiter.MaxEvents, s.Limiter.Window),
	}
	if len(s.Hub.AllowedOrigins) > 0 {
		opts = append(opts, ws.WithAllowedOrigins(s.Hub.AllowedOrigins...))
	}
	if s.Hub.NamespacesFile != "" {
		ns, err := ws.LoadNamespaces(s.Hub.NamespacesFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, ws.WithNamespaces(ns...))
	}

	if s.Limiter.Store == "redis" {
		client, err := a.redisClient()
		if err != nil {
			return nil, err
		}
		opts = append(opts, ws.WithRateStore(ws.NewRedisRateStore(client, "livehub:rate:")))

		departed, err := cache.NewWithOptions(
			cache.WithRedisClient(client),
			cache.WithKeyPrefix("livehub:ws:"),
			cache.WithDefaultTTL(s.Hub.ReconnectWindow),
			cache.WithTracing(s.Tracing.Enabled),
		)
		if err != nil {
			return nil, err
		}
		opts = append(opts, ws.WithDepartedCache(departed))
	}

	// 关闭顺序与创建顺序相反，hub 关闭时一并释放
	for i := len(a.closers) - 1; i >= 0; i-- {
		opts = append(opts, ws.WithCloser(a.closers[i].name, a.closers[i].fn))
	}
	return ws.NewHub(verifier, accounts, opts...)
}

func (a *app) newVerifier() (ws.Verifier, error) {
	s := a.settings.Auth
	revoked := auth.NewRevocationList(10000, 0.001, s.RevokedIDs...)

	jwtOpts := []auth.JWTOption{auth.WithRevocation(revoked)}
	if s.Issuer != "" {
		jwtOpts = append(jwtOpts, auth.WithIssuer(s.Issuer))
	}
	v, err := auth.NewJWTVerifier(s.JWTSecret, jwtOpts...)
	if err != nil {
		return nil, err
	}
	if s.CacheTTL <= 0 {
		return v, nil
	}
	return auth.NewCachingVerifier(v, s.CacheSize, s.CacheTTL), nil
}

func (a *app) newAccounts() (ws.AccountLookup, error) {
	s := a.settings
	switch s.Auth.Accounts {
	case "cache":
		client, err := a.redisClient()
		if err != nil {
			return nil, err
		}
		c, err := cache.NewWithOptions(
			cache.WithRedisClient(client),
			cache.WithKeyPrefix("livehub:"),
			cache.WithTracing(s.Tracing.Enabled),
		)
		if err != nil {
			return nil, err
		}
		return auth.NewCacheAccounts(c), nil

	case "sql":
		opts := []orm.Option{
			orm.WithType(orm.DBType(s.Database.Type)),
			orm.WithDSN(s.Database.DSN),
			orm.WithLogger(a.log),
		}
		if len(s.Database.Replicas) > 0 {
			opts = append(opts, orm.WithReplicas("random", s.Database.Replicas...))
		}
		db, err := orm.NewWithOptions(opts...)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, closer{name: "database", fn: func() error { return orm.Close(db) }})
		accounts := auth.NewGormAccounts(db)
		if err := accounts.Migrate(context.Background()); err != nil {
			return nil, err
		}
		return accounts, nil

	case "http":
		opts := []request.Option{
			request.WithBaseURL(s.Auth.AccountsURL),
			request.WithTimeout(s.Hub.VerifyTimeout),
			request.WithLogger(a.log),
			request.WithTracing(s.Tracing.Enabled),
		}
		if token := s.Auth.AccountsToken; token != "" {
			opts = append(opts, request.WithInterceptor(request.NewAuthInterceptor(func() string { return token })))
		}
		return auth.NewHTTPAccounts(request.New(opts...)), nil

	default:
		return auth.NewStaticAccounts(ws.AccountStatus{Active: true, Verified: true}), nil
	}
}

// newBus 返回管理广播的出口与外部消息来源
func (a *app) newBus(hub *ws.Hub) (bus.Publisher, []bus.Source, error) {
	s := a.settings.Bus
	switch s.Kind {
	case "redis":
		client, err := a.redisClient()
		if err != nil {
			return nil, nil, err
		}
		return bus.NewRedisPublisher(client, s.RedisChannel),
			[]bus.Source{bus.NewRedisSource(client, s.RedisChannel)}, nil

	case "kafka":
		cfg := sarama.NewConfig()
		cfg.ClientID = "livehub"
		pub, err := bus.NewKafkaPublisher(s.KafkaBrokers, s.KafkaTopic, cfg)
		if err != nil {
			return nil, nil, err
		}
		return pub, []bus.Source{bus.NewKafkaSource(s.KafkaBrokers, s.KafkaGroup, []string{s.KafkaTopic}, cfg)}, nil

	case "amqp":
		pub, err := bus.NewAMQPPublisher(s.AMQPURL, "", s.AMQPQueue)
		if err != nil {
			return nil, nil, err
		}
		return pub, []bus.Source{bus.NewAMQPSource(s.AMQPURL, s.AMQPQueue)}, nil

	default:
		return bus.NewDeliverer(hub, a.log), nil, nil
	}
}

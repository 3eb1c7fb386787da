package bus

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/tokmz/livehub/pkg/logger"
)

// Group 并发运行多个来源，来源出错后按退避重启
type Group struct {
	sources    []Source
	log        logger.Logger
	minBackoff time.Duration
	maxBackoff time.Duration
}

// NewGroup 创建来源组
func NewGroup(log logger.Logger, sources ...Source) *Group {
	if log == nil {
		log = logger.NewNop()
	}
	return &Group{
		sources:    sources,
		log:        log.With(zap.String("component", "bus")),
		minBackoff: 500 * time.Millisecond,
		maxBackoff: 30 * time.Second,
	}
}

// Len 来源数量
func (g *Group) Len() int { return len(g.sources) }

// Run 阻塞直到 ctx 取消，返回各来源最后一次非取消错误的组合
func (g *Group) Run(ctx context.Context, h Handler) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs error
	)
	for _, src := range g.sources {
		wg.Add(1)
		go func(src Source) {
			defer wg.Done()
			if err := g.runSource(ctx, src, h); err != nil {
				mu.Lock()
				errs = multierr.Append(errs, err)
				mu.Unlock()
			}
		}(src)
	}
	wg.Wait()
	return errs
}

func (g *Group) runSource(ctx context.Context, src Source, h Handler) error {
	backoff := g.minBackoff
	var last error
	for {
		g.log.Info("bus source started", zap.String("source", src.Name()))
		err := src.Run(ctx, h)
		if ctx.Err() != nil {
			g.log.Info("bus source stopped", zap.String("source", src.Name()))
			return last
		}
		if err == nil {
			err = errors.New("source exited")
		}
		last = err
		g.log.Warn("bus source failed, restarting",
			zap.String("source", src.Name()),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return last
		case <-timer.C:
		}
		backoff = min(backoff*2, g.maxBackoff)
	}
}

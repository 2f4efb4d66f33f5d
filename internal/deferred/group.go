// Package deferred runs work after a response has already been handed back
// to the client. A Group tracks every scheduled task so the hosting process
// can drain them before exiting; task failures and panics are routed to a
// single failure channel instead of being lost.
package deferred

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
)

// ErrClosed 表示 Group 已进入关闭流程，不再接收新任务。
var ErrClosed = errors.New("deferred group closed")

// Options 控制 Group 的超时与失败回调。
type Options struct {
	Logger *logrus.Logger
	// TaskTimeout 限制单个任务的执行时间，0 表示不限制。
	TaskTimeout time.Duration
	// OnFailure 在日志之外接收每一个失败，常用于指标计数。
	OnFailure func(error)
}

// Group 的任务使用独立于请求的 context，请求结束或被取消都不会中断回写。
type Group struct {
	wg       conc.WaitGroup
	mu       sync.RWMutex
	closed   bool
	inflight atomic.Int64

	baseCtx context.Context
	cancel  context.CancelFunc
	opts    Options
}

// NewGroup creates a Group ready to accept tasks.
func NewGroup(opts Options) *Group {
	ctx, cancel := context.WithCancel(context.Background())
	return &Group{
		baseCtx: ctx,
		cancel:  cancel,
		opts:    opts,
	}
}

// Defer 立即返回；任务在后台 goroutine 中执行直到结束。
func (g *Group) Defer(task func(ctx context.Context) error) {
	if task == nil {
		return
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.closed {
		g.ReportFailure(ErrClosed)
		return
	}
	g.inflight.Add(1)
	g.wg.Go(func() {
		defer g.inflight.Add(-1)
		g.run(task)
	})
}

func (g *Group) run(task func(ctx context.Context) error) {
	ctx := g.baseCtx
	if g.opts.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.opts.TaskTimeout)
		defer cancel()
	}

	var err error
	var catcher panics.Catcher
	catcher.Try(func() { err = task(ctx) })
	if recovered := catcher.Recovered(); recovered != nil {
		err = recovered.AsError()
	}
	if err != nil {
		g.ReportFailure(err)
	}
}

// ReportFailure 是后台失败的统一出口：写日志并调用 OnFailure。
func (g *Group) ReportFailure(err error) {
	if err == nil {
		return
	}
	if g.opts.Logger != nil {
		g.opts.Logger.WithError(err).
			WithField("action", "deferred_task").
			Warn("deferred_task_failed")
	}
	if g.opts.OnFailure != nil {
		g.opts.OnFailure(err)
	}
}

// Inflight returns the number of tasks that have not settled yet.
func (g *Group) Inflight() int64 {
	return g.inflight.Load()
}

// Wait blocks until every scheduled task has settled. Callers must not Defer
// concurrently with Wait; use Close when scheduling has to stop.
func (g *Group) Wait() {
	g.wg.Wait()
}

// Close 拒绝新任务并等待已有任务结束；ctx 到期时取消剩余任务并立即返回 ctx.Err()，
// 不再等待忽略取消信号的任务。
func (g *Group) Close(ctx context.Context) error {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		g.cancel()
		return nil
	case <-ctx.Done():
		g.cancel()
		return ctx.Err()
	}
}

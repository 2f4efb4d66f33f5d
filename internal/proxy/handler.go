package proxy

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/any-hub/cachehandle/internal/cache"
	"github.com/any-hub/cachehandle/internal/logging"
	"github.com/any-hub/cachehandle/internal/route"
)

const tracerName = "github.com/any-hub/cachehandle/internal/proxy"

// Observer 接收每次请求的分支与耗时，通常由指标模块实现。
type Observer interface {
	ObserveRequest(outcome Outcome, elapsed time.Duration)
}

// Options 汇总 Handler 的依赖。Store 与 Scheduler 必须显式传入。
type Options struct {
	Routes    *route.Table
	Store     cache.Store
	Scheduler Scheduler
	// Reporter 为空时，若 Scheduler 同时实现 FailureReporter 则复用它。
	Reporter FailureReporter
	Logger   *logrus.Logger
	Observer Observer
	// WriteTimeout 限制单次延迟回写，0 表示沿用 Scheduler 给出的 context。
	WriteTimeout time.Duration
	Tracer       trace.Tracer
}

// Handler 负责 “路由解析 → 缓存查找 → 回源 → 延迟回写” 的全流程。
// 命中时不调用 Resolver；未命中时先返回响应，再由 Scheduler 完成写入。
type Handler struct {
	routes       *route.Table
	store        cache.Store
	scheduler    Scheduler
	reporter     FailureReporter
	logger       *logrus.Logger
	observer     Observer
	writeTimeout time.Duration
	tracer       trace.Tracer
}

// NewHandler validates dependencies and builds a Handler. A nil route table
// behaves like an empty one: every request bypasses the cache.
func NewHandler(opts Options) (*Handler, error) {
	if opts.Store == nil {
		return nil, errors.New("cache store is required")
	}
	if opts.Scheduler == nil {
		return nil, errors.New("deferred scheduler is required")
	}
	reporter := opts.Reporter
	if reporter == nil {
		r, ok := opts.Scheduler.(FailureReporter)
		if !ok {
			return nil, errors.New("failure reporter is required")
		}
		reporter = r
	}
	routes := opts.Routes
	if routes == nil {
		routes = route.NewTable()
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = otel.Tracer(tracerName)
	}
	return &Handler{
		routes:       routes,
		store:        opts.Store,
		scheduler:    opts.Scheduler,
		reporter:     reporter,
		logger:       opts.Logger,
		observer:     opts.Observer,
		writeTimeout: opts.WriteTimeout,
		tracer:       tracer,
	}, nil
}

// Handle is the embedder entry point: it returns the response for ev, or the
// origin's own error unchanged.
func (h *Handler) Handle(ctx context.Context, ev *Event, resolve Resolver) (*cache.Response, error) {
	result, err := h.Evaluate(ctx, ev, resolve)
	if err != nil {
		return nil, err
	}
	return result.Response, nil
}

// Evaluate 与 Handle 相同，但额外返回命中分支与缓存键，供 HTTP 层写诊断头。
func (h *Handler) Evaluate(ctx context.Context, ev *Event, resolve Resolver) (Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	started := time.Now()
	reqURL := eventURL(ev)

	ctx, span := h.tracer.Start(ctx, "cachehandle.evaluate",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.String("http.path", requestPath(reqURL))),
	)
	defer span.End()

	match, ok := h.routes.Resolve(reqURL)
	if !ok {
		resp, err := h.callOrigin(ctx, ev, resolve)
		result := Result{Response: resp, Outcome: OutcomeBypass}
		h.finish(span, ev, result, started, err)
		return result, err
	}

	result := Result{Key: match.Key}
	if cached := h.lookup(ctx, match.Key); cached != nil {
		result.Response = cached
		result.Outcome = OutcomeHit
		h.finish(span, ev, result, started, nil)
		return result, nil
	}

	result.Outcome = OutcomeMiss
	resp, err := h.callOrigin(ctx, ev, resolve)
	if err != nil {
		h.finish(span, ev, result, started, err)
		return result, err
	}
	applyCacheControl(resp, match.CacheControl)
	h.scheduleWrite(ctx, match.Key, resp.Clone())

	result.Response = resp
	h.finish(span, ev, result, started, nil)
	return result, nil
}

// lookup 把 ErrNotFound 与查找失败都视为 miss；后者上报到失败通道。
func (h *Handler) lookup(ctx context.Context, key string) *cache.Response {
	cached, err := h.store.Lookup(ctx, key)
	switch {
	case err == nil:
		return cached
	case errors.Is(err, cache.ErrNotFound):
		return nil
	default:
		h.reporter.ReportFailure(&LookupError{Key: key, Err: err})
		return nil
	}
}

func (h *Handler) callOrigin(ctx context.Context, ev *Event, resolve Resolver) (*cache.Response, error) {
	if resolve == nil {
		return nil, errors.New("origin resolver is required")
	}
	resp, err := resolve(ctx, ev)
	if err != nil {
		return nil, err
	}
	if resp == nil {
		return nil, ErrNilResponse
	}
	return resp, nil
}

// scheduleWrite 只排队不等待；任务返回的错误由 Scheduler 上报。
func (h *Handler) scheduleWrite(ctx context.Context, key string, stored *cache.Response) {
	link := trace.LinkFromContext(ctx)
	h.scheduler.Defer(func(taskCtx context.Context) error {
		if taskCtx == nil {
			taskCtx = context.Background()
		}
		if h.writeTimeout > 0 {
			var cancel context.CancelFunc
			taskCtx, cancel = context.WithTimeout(taskCtx, h.writeTimeout)
			defer cancel()
		}
		taskCtx, span := h.tracer.Start(taskCtx, "cachehandle.writeback",
			trace.WithLinks(link),
			trace.WithAttributes(attribute.String("cachehandle.key", key)),
		)
		defer span.End()

		if err := h.store.Write(taskCtx, key, stored); err != nil {
			writeErr := &WriteError{Key: key, Err: err}
			span.RecordError(writeErr)
			span.SetStatus(codes.Error, writeErr.Error())
			return writeErr
		}
		return nil
	})
}

func (h *Handler) finish(span trace.Span, ev *Event, result Result, started time.Time, err error) {
	elapsed := time.Since(started)
	span.SetAttributes(
		attribute.String("cachehandle.outcome", string(result.Outcome)),
		attribute.String("cachehandle.key", result.Key),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	if h.observer != nil {
		h.observer.ObserveRequest(result.Outcome, elapsed)
	}
	h.logResult(ev, result, elapsed, err)
}

func (h *Handler) logResult(ev *Event, result Result, elapsed time.Duration, err error) {
	if h.logger == nil {
		return
	}
	fields := logging.RequestFields(requestPath(eventURL(ev)), result.Key, string(result.Outcome))
	fields["action"] = "intercept"
	fields["elapsed_ms"] = elapsed.Milliseconds()
	if ev != nil && ev.RequestID != "" {
		fields["request_id"] = ev.RequestID
	}
	if err != nil {
		fields["error"] = err.Error()
		h.logger.WithFields(fields).Error("origin_failed")
		return
	}
	h.logger.WithFields(fields).Info("intercept_complete")
}

func applyCacheControl(resp *cache.Response, directive string) {
	if directive == "" {
		return
	}
	if resp.Header == nil {
		resp.Header = make(http.Header)
	}
	resp.Header.Set("Cache-Control", directive)
}

func eventURL(ev *Event) *url.URL {
	if ev == nil {
		return nil
	}
	return ev.URL
}

func requestPath(u *url.URL) string {
	if u == nil || u.Path == "" {
		return "/"
	}
	return u.Path
}

package proxy

import (
	"context"
	"net/http"
	"net/url"

	"github.com/any-hub/cachehandle/internal/cache"
)

// Event 描述一次入站请求。拦截逻辑只读取 URL，其余字段留给 Resolver 构造回源请求。
type Event struct {
	URL       *url.URL
	Method    string
	Header    http.Header
	Body      []byte
	Host      string
	RemoteIP  string
	Protocol  string
	RequestID string
}

// Resolver 产生当前请求的源站响应，每个请求最多调用一次。
type Resolver func(ctx context.Context, ev *Event) (*cache.Response, error)

// Scheduler 接收在响应返回之后才执行的任务；宿主负责在任务结束前保持进程存活。
type Scheduler interface {
	Defer(task func(ctx context.Context) error)
}

// FailureReporter 是后台失败的观察通道，查找失败与回写失败都从这里上报。
type FailureReporter interface {
	ReportFailure(err error)
}

// Outcome 标记一次请求走过的分支。
type Outcome string

const (
	OutcomeHit    Outcome = "hit"
	OutcomeMiss   Outcome = "miss"
	OutcomeBypass Outcome = "bypass"
)

// Result 是 Evaluate 的完整结果；Key 在 bypass 时为空。
type Result struct {
	Response *cache.Response
	Outcome  Outcome
	Key      string
}

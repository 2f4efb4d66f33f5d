package server

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/cachehandle/internal/cache"
	"github.com/any-hub/cachehandle/internal/deferred"
	"github.com/any-hub/cachehandle/internal/proxy"
	"github.com/any-hub/cachehandle/internal/route"
)

func TestRouterMissThenHit(t *testing.T) {
	app := newTestApp(t, route.MustPattern("/static/*", "", "public, max-age=60"))

	resp := app.do(t, httptest.NewRequest("GET", "http://edge.local/static/app.js?v=1", nil))
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get(HeaderCacheHandle); got != "miss" {
		t.Fatalf("expected miss, got %s", got)
	}
	if got := resp.Header.Get("Cache-Control"); got != "public, max-age=60" {
		t.Fatalf("expected route directive, got %s", got)
	}
	if body := readBody(t, resp); body != "origin:/static/app.js" {
		t.Fatalf("unexpected body %q", body)
	}
	firstID := resp.Header.Get("X-Request-ID")
	if firstID == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}

	app.group.Wait()

	resp = app.do(t, httptest.NewRequest("GET", "http://edge.local/static/app.js?v=2", nil))
	if got := resp.Header.Get(HeaderCacheHandle); got != "hit" {
		t.Fatalf("expected hit, got %s", got)
	}
	if body := readBody(t, resp); body != "origin:/static/app.js" {
		t.Fatalf("unexpected cached body %q", body)
	}
	if app.originCalls.Load() != 1 {
		t.Fatalf("origin should be called once, got %d", app.originCalls.Load())
	}
	if id := resp.Header.Get("X-Request-ID"); id == "" || id == firstID {
		t.Fatalf("hit should carry its own request id, got %q", id)
	}
}

func TestRouterBypassesUnmatchedPaths(t *testing.T) {
	app := newTestApp(t, route.MustPattern("/static/*", "", "public"))

	for i := 0; i < 2; i++ {
		resp := app.do(t, httptest.NewRequest("GET", "http://edge.local/api/items", nil))
		if got := resp.Header.Get(HeaderCacheHandle); got != "bypass" {
			t.Fatalf("expected bypass, got %s", got)
		}
		if got := resp.Header.Get("Cache-Control"); got != "no-cache" {
			t.Fatalf("bypass should keep origin headers, got %s", got)
		}
	}
	app.group.Wait()
	if app.store.Len() != 0 {
		t.Fatalf("bypass must not populate the store")
	}
	if app.originCalls.Load() != 2 {
		t.Fatalf("origin should be called for every bypass, got %d", app.originCalls.Load())
	}
}

func TestRouterMapsOriginFailureTo502(t *testing.T) {
	app := newTestApp(t, route.MustPattern("/static/*", "", "public"))
	app.originErr = errors.New("connection refused")

	resp := app.do(t, httptest.NewRequest("GET", "http://edge.local/static/app.js", nil))
	if resp.StatusCode != fiber.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.StatusCode)
	}
	if body := readBody(t, resp); !bytes.Contains([]byte(body), []byte(`"upstream_failed"`)) {
		t.Fatalf("expected upstream_failed error, got %s", body)
	}
	app.group.Wait()
	if app.store.Len() != 0 {
		t.Fatalf("failed responses must not be cached")
	}
}

func TestRouterHeadOmitsBody(t *testing.T) {
	app := newTestApp(t)

	resp := app.do(t, httptest.NewRequest("HEAD", "http://edge.local/anything", nil))
	if resp.StatusCode != fiber.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if body := readBody(t, resp); body != "" {
		t.Fatalf("HEAD should not carry a body, got %q", body)
	}
}

func TestRouterPassesEventToInterceptor(t *testing.T) {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	fake := &interceptorRecorder{}
	app, err := NewApp(AppOptions{
		Logger:      logger,
		Interceptor: fake,
		Origin:      func(context.Context, *proxy.Event) (*cache.Response, error) { return nil, nil },
		ListenPort:  5000,
	})
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}

	req := httptest.NewRequest("POST", "http://edge.local/a/b?x=1", bytes.NewBufferString("payload"))
	req.Header.Set("X-Custom", "yes")
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	ev := fake.last
	if ev == nil {
		t.Fatalf("interceptor was not called")
	}
	if ev.URL.Path != "/a/b" || ev.URL.RawQuery != "x=1" || ev.Method != "POST" {
		t.Fatalf("unexpected event: %s %s", ev.Method, ev.URL)
	}
	if string(ev.Body) != "payload" || ev.Header.Get("X-Custom") != "yes" {
		t.Fatalf("event should carry body and headers: %+v", ev)
	}
	if ev.RequestID == "" || ev.RequestID != resp.Header.Get("X-Request-ID") {
		t.Fatalf("event request id should match response header")
	}
}

func TestRouterSkipsDiagnosticsPaths(t *testing.T) {
	app := newTestApp(t)
	app.Get("/-/ping", func(c fiber.Ctx) error { return c.SendString("pong") })

	resp := app.do(t, httptest.NewRequest("GET", "http://edge.local/-/ping", nil))
	if body := readBody(t, resp); body != "pong" {
		t.Fatalf("diagnostics route should not reach the interceptor, got %q", body)
	}
	if app.originCalls.Load() != 0 {
		t.Fatalf("origin must not be called for diagnostics")
	}
}

func TestNewAppValidatesOptions(t *testing.T) {
	logger := logrus.New()
	origin := func(context.Context, *proxy.Event) (*cache.Response, error) { return nil, nil }
	cases := []AppOptions{
		{Interceptor: &interceptorRecorder{}, Origin: origin, ListenPort: 1},
		{Logger: logger, Origin: origin, ListenPort: 1},
		{Logger: logger, Interceptor: &interceptorRecorder{}, ListenPort: 1},
		{Logger: logger, Interceptor: &interceptorRecorder{}, Origin: origin},
	}
	for i, opts := range cases {
		if _, err := NewApp(opts); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}

type testApp struct {
	*fiber.App
	store       *cache.MemoryStore
	group       *deferred.Group
	originCalls atomic.Int32
	originErr   error
}

func newTestApp(t *testing.T, routes ...route.Route) *testApp {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	ta := &testApp{
		store: cache.NewMemoryStore(),
		group: deferred.NewGroup(deferred.Options{Logger: logger}),
	}
	handler, err := proxy.NewHandler(proxy.Options{
		Routes:    route.NewTable(routes...),
		Store:     ta.store,
		Scheduler: ta.group,
		Logger:    logger,
	})
	if err != nil {
		t.Fatalf("failed to create handler: %v", err)
	}

	origin := func(ctx context.Context, ev *proxy.Event) (*cache.Response, error) {
		ta.originCalls.Add(1)
		if ta.originErr != nil {
			return nil, ta.originErr
		}
		resp := cache.NewResponse(http.StatusOK, []byte("origin:"+ev.URL.Path))
		resp.Header.Set("Content-Type", "text/plain")
		resp.Header.Set("Cache-Control", "no-cache")
		return resp, nil
	}

	app, err := NewApp(AppOptions{
		Logger:      logger,
		Interceptor: handler,
		Origin:      origin,
		ListenPort:  5000,
	})
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}
	ta.App = app
	return ta
}

func (a *testApp) do(t *testing.T, req *http.Request) *http.Response {
	t.Helper()
	resp, err := a.Test(req)
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	return resp
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(body)
}

type interceptorRecorder struct {
	last *proxy.Event
}

func (r *interceptorRecorder) Evaluate(ctx context.Context, ev *proxy.Event, resolve proxy.Resolver) (proxy.Result, error) {
	r.last = ev
	resp := cache.NewResponse(http.StatusAccepted, []byte("ok"))
	return proxy.Result{Response: resp, Outcome: proxy.OutcomeBypass}, nil
}

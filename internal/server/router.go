package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/cachehandle/internal/proxy"
)

// HeaderCacheHandle 告诉客户端本次响应走了 hit/miss/bypass 哪个分支。
const HeaderCacheHandle = "X-Cache-Handle"

// Interceptor describes the component that decides hit, miss or bypass for a
// request. It allows injecting fake interceptors during tests.
type Interceptor interface {
	Evaluate(ctx context.Context, ev *proxy.Event, resolve proxy.Resolver) (proxy.Result, error)
}

// AppOptions controls how the Fiber application should behave on a specific port.
type AppOptions struct {
	Logger      *logrus.Logger
	Interceptor Interceptor
	Origin      proxy.Resolver
	ListenPort  int
	// BodyLimit 限制入站请求体，0 使用 Fiber 默认值。
	BodyLimit int
}

const contextKeyRequestID = "_cachehandle_request_id"

// NewApp builds a Fiber application with request-id middleware and a
// catch-all route that hands every non-diagnostic request to the interceptor.
func NewApp(opts AppOptions) (*fiber.App, error) {
	if opts.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if opts.Interceptor == nil {
		return nil, errors.New("interceptor is required")
	}
	if opts.Origin == nil {
		return nil, errors.New("origin resolver is required")
	}
	if opts.ListenPort <= 0 {
		return nil, fmt.Errorf("invalid listen port: %d", opts.ListenPort)
	}

	app := fiber.New(fiber.Config{
		CaseSensitive: true,
		BodyLimit:     opts.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(requestContextMiddleware())

	app.All("/*", func(c fiber.Ctx) error {
		if isDiagnosticsPath(string(c.Request().URI().Path())) {
			return c.Next()
		}
		return intercept(c, opts)
	})

	return app, nil
}

// requestContextMiddleware 负责生成请求 ID 并写回响应头。
func requestContextMiddleware() fiber.Handler {
	return func(c fiber.Ctx) error {
		reqID := uuid.NewString()
		c.Locals(contextKeyRequestID, reqID)
		c.Set("X-Request-ID", reqID)
		return c.Next()
	}
}

func intercept(c fiber.Ctx, opts AppOptions) error {
	requestID := RequestID(c)
	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	result, err := opts.Interceptor.Evaluate(ctx, buildEvent(c, requestID), opts.Origin)
	if err != nil {
		opts.Logger.WithError(err).WithFields(logrus.Fields{
			"action":     "intercept",
			"path":       requestPath(c),
			"request_id": requestID,
		}).Warn("upstream_failed")
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "upstream_failed"})
	}
	return writeResult(c, result, requestID)
}

// buildEvent 拷贝 fasthttp 复用的缓冲区，保证 Event 在 handler 返回后仍可安全读取。
func buildEvent(c fiber.Ctx, requestID string) *proxy.Event {
	uri := c.Request().URI()
	return &proxy.Event{
		URL: &url.URL{
			Path:     requestPath(c),
			RawQuery: string(uri.QueryString()),
		},
		Method:    c.Method(),
		Header:    fiberHeadersAsHTTP(c),
		Body:      append([]byte(nil), c.Body()...),
		Host:      c.Hostname(),
		RemoteIP:  c.IP(),
		Protocol:  c.Scheme(),
		RequestID: requestID,
	}
}

func writeResult(c fiber.Ctx, result proxy.Result, requestID string) error {
	resp := result.Response
	copyResponseHeaders(c, resp.Header)
	c.Set(HeaderCacheHandle, string(result.Outcome))
	if requestID != "" {
		c.Set("X-Request-ID", requestID)
	}

	status := resp.StatusCode
	if status == 0 {
		status = fiber.StatusOK
	}
	c.Status(status)
	if c.Method() == fiber.MethodHead {
		return nil
	}
	return c.Send(resp.Body)
}

func copyResponseHeaders(c fiber.Ctx, headers http.Header) {
	for key, values := range headers {
		if proxy.IsHopByHopHeader(key) || strings.EqualFold(key, fiber.HeaderContentLength) {
			continue
		}
		for i, value := range values {
			if i == 0 {
				c.Set(key, value)
				continue
			}
			c.Response().Header.Add(key, value)
		}
	}
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

func requestPath(c fiber.Ctx) string {
	pathVal := string(c.Request().URI().Path())
	if pathVal == "" {
		return "/"
	}
	return pathVal
}

// RequestID returns the request identifier stored by the router middleware.
func RequestID(c fiber.Ctx) string {
	if value := c.Locals(contextKeyRequestID); value != nil {
		if reqID, ok := value.(string); ok {
			return reqID
		}
	}
	return ""
}

func isDiagnosticsPath(path string) bool {
	return strings.HasPrefix(path, "/-/")
}

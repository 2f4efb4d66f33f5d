package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"time"

	"github.com/any-hub/cachehandle/internal/cache"
	"github.com/any-hub/cachehandle/internal/config"
)

// ErrBodyTooLarge 表示源站响应体超过 MaxBodySize，此时请求按回源失败处理。
var ErrBodyTooLarge = errors.New("upstream body exceeds limit")

// Shared HTTP transport tunings，复用长连接并集中配置超时。
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   100,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// NewUpstreamClient 返回共享 http.Client，用于所有回源请求。
func NewUpstreamClient(cfg *config.Config) *http.Client {
	timeout := 30 * time.Second
	if cfg != nil && cfg.Global.UpstreamTimeout.DurationValue() > 0 {
		timeout = cfg.Global.UpstreamTimeout.DurationValue()
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: defaultTransport.Clone(),
		// 重定向原样交给下游，由客户端决定是否跟随。
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

// Upstream 把 Event 转发到固定源站，并把完整响应读入内存供缓存使用。
type Upstream struct {
	base    *url.URL
	client  *http.Client
	maxBody int64
}

// NewUpstream validates the base URL. maxBody <= 0 disables the size limit.
func NewUpstream(base string, client *http.Client, maxBody int64) (*Upstream, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("parse upstream: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("upstream must be an absolute URL: %s", base)
	}
	if client == nil {
		client = NewUpstreamClient(nil)
	}
	return &Upstream{base: parsed, client: client, maxBody: maxBody}, nil
}

// Resolve implements Resolver. Transport errors and oversized bodies are
// returned as errors; any HTTP status the origin produces is a response.
func (u *Upstream) Resolve(ctx context.Context, ev *Event) (*cache.Response, error) {
	if ev == nil || ev.URL == nil {
		return nil, errors.New("request url required")
	}
	target := u.resolveURL(ev.URL)
	req, err := u.buildRequest(ctx, target, ev)
	if err != nil {
		return nil, err
	}

	resp, err := u.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream %s: %w", target.Redacted(), err)
	}
	defer resp.Body.Close()

	body, err := u.readBody(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("upstream %s: %w", target.Redacted(), err)
	}

	header := make(http.Header, len(resp.Header))
	CopyHeaders(header, resp.Header)
	header.Del("Content-Length")
	return &cache.Response{
		StatusCode: resp.StatusCode,
		Header:     header,
		Body:       body,
	}, nil
}

func (u *Upstream) readBody(body io.Reader) ([]byte, error) {
	if u.maxBody <= 0 {
		return io.ReadAll(body)
	}
	data, err := io.ReadAll(io.LimitReader(body, u.maxBody+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > u.maxBody {
		return nil, ErrBodyTooLarge
	}
	return data, nil
}

func (u *Upstream) resolveURL(reqURL *url.URL) *url.URL {
	clean := reqURL.Path
	if clean == "" {
		clean = "/"
	}
	relative := &url.URL{Path: clean, RawPath: reqURL.RawPath, RawQuery: reqURL.RawQuery}
	return u.base.ResolveReference(relative)
}

func (u *Upstream) buildRequest(ctx context.Context, target *url.URL, ev *Event) (*http.Request, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	method := ev.Method
	// HEAD 的空响应体可能被写入缓存，回源统一使用 GET，由 HTTP 层丢弃 body。
	if method == "" || method == http.MethodHead {
		method = http.MethodGet
	}
	var body io.Reader = http.NoBody
	if len(ev.Body) > 0 {
		body = bytes.NewReader(ev.Body)
	}

	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, err
	}

	CopyHeaders(req.Header, ev.Header)
	req.Header.Del("Accept-Encoding")
	req.Host = target.Host
	req.Header.Set("Host", target.Host)
	if ev.Host != "" {
		req.Header.Set("X-Forwarded-Host", ev.Host)
	}
	if ev.RemoteIP != "" {
		if prior := req.Header.Get("X-Forwarded-For"); prior != "" {
			req.Header.Set("X-Forwarded-For", prior+", "+ev.RemoteIP)
		} else {
			req.Header.Set("X-Forwarded-For", ev.RemoteIP)
		}
	}
	if ev.Protocol != "" {
		req.Header.Set("X-Forwarded-Proto", ev.Protocol)
	}
	if ev.RequestID != "" {
		req.Header.Set("X-Request-ID", ev.RequestID)
	}
	return req, nil
}

// hopByHopHeaders 定义 RFC 7230 中禁止代理转发的头部。
var hopByHopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
	"Proxy-Connection":    {}, // 非标准字段，但部分代理仍使用
}

// CopyHeaders 将 src 中允许透传的头复制到 dst，自动忽略 hop-by-hop 字段。
func CopyHeaders(dst, src http.Header) {
	for key, values := range src {
		if IsHopByHopHeader(key) {
			continue
		}
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

// IsHopByHopHeader reports whether the header should be stripped by proxies.
func IsHopByHopHeader(key string) bool {
	_, ok := hopByHopHeaders[textproto.CanonicalMIMEHeaderKey(key)]
	return ok
}

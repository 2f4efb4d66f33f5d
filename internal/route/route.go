// Package route resolves request URLs to cache policies. A Table holds an
// ordered list of Routes and returns the first match; specificity is decided
// purely by configuration order, never by pattern length.
package route

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Wildcard 出现在模式末尾时表示前缀匹配。
const Wildcard = "*"

// MatchResult 描述一次命中的缓存参数；Key 为空的 Route 会以请求路径作为 Key。
type MatchResult struct {
	Key          string
	CacheControl string
}

// Route 是单一方法的匹配器，Table 只依赖这一能力。
type Route interface {
	Match(u *url.URL) (MatchResult, bool)
}

// Pattern 是配置驱动的 Route 实现，支持精确匹配与 `*` 结尾的前缀匹配。
type Pattern struct {
	pattern      string
	prefix       string
	isPrefix     bool
	key          string
	cacheControl string
}

// NewPattern 校验模式并构造不可变的 Pattern。
func NewPattern(pattern, key, cacheControl string) (Pattern, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return Pattern{}, errors.New("route pattern required")
	}
	if !strings.HasPrefix(pattern, "/") {
		return Pattern{}, fmt.Errorf("route pattern %q must start with /", pattern)
	}
	if idx := strings.Index(pattern, Wildcard); idx >= 0 && idx != len(pattern)-1 {
		return Pattern{}, fmt.Errorf("route pattern %q: wildcard only allowed as last character", pattern)
	}

	p := Pattern{
		pattern:      pattern,
		key:          key,
		cacheControl: cacheControl,
	}
	if strings.HasSuffix(pattern, Wildcard) {
		p.isPrefix = true
		p.prefix = strings.TrimSuffix(pattern, Wildcard)
	}
	return p, nil
}

// MustPattern panics on an invalid pattern; intended for tests and static tables.
func MustPattern(pattern, key, cacheControl string) Pattern {
	p, err := NewPattern(pattern, key, cacheControl)
	if err != nil {
		panic(err)
	}
	return p
}

// Match 只检查 URL 路径，不看 query 与 method。
func (p Pattern) Match(u *url.URL) (MatchResult, bool) {
	if u == nil {
		return MatchResult{}, false
	}
	reqPath := u.Path
	if reqPath == "" {
		reqPath = "/"
	}

	if p.isPrefix {
		if !strings.HasPrefix(reqPath, p.prefix) {
			return MatchResult{}, false
		}
	} else if reqPath != p.pattern {
		return MatchResult{}, false
	}

	key := p.key
	if key == "" {
		key = reqPath
	}
	return MatchResult{Key: key, CacheControl: p.cacheControl}, true
}

func (p Pattern) String() string { return p.pattern }

// IsPrefix reports whether the pattern ends in the wildcard marker.
func (p Pattern) IsPrefix() bool { return p.isPrefix }

// Key returns the configured key, empty when the request path is used.
func (p Pattern) Key() string { return p.key }

// CacheControl returns the directive applied to fresh responses.
func (p Pattern) CacheControl() string { return p.cacheControl }

// covers 判断 p 是否会吞掉 other 能匹配的全部路径。
func (p Pattern) covers(other Pattern) bool {
	if !p.isPrefix {
		return !other.isPrefix && p.pattern == other.pattern
	}
	if other.isPrefix {
		return strings.HasPrefix(other.prefix, p.prefix)
	}
	return strings.HasPrefix(other.pattern, p.prefix)
}

package config

import (
	"errors"
	"fmt"
	"net/url"

	"github.com/any-hub/cachehandle/internal/route"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if err := validateUpstream(g.Upstream); err != nil {
		return fmt.Errorf("Global.Upstream: %w", err)
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}
	if g.MaxBodySize <= 0 {
		return newFieldError("Global.MaxBodySize", "必须大于 0")
	}
	if g.WriteTimeout.DurationValue() < 0 {
		return newFieldError("Global.WriteTimeout", "不能为负数")
	}
	if g.ShutdownTimeout.DurationValue() < 0 {
		return newFieldError("Global.ShutdownTimeout", "不能为负数")
	}

	if err := c.Store.validate(); err != nil {
		return err
	}

	// 空路由表合法：所有请求直接回源。
	for i, r := range c.Routes {
		if _, err := route.NewPattern(r.Pattern, r.Key, r.CacheControl); err != nil {
			return newFieldError(routeField(i, "Pattern"), err.Error())
		}
	}

	return nil
}

func (s StoreConfig) validate() error {
	switch s.Backend {
	case BackendMemory:
	case BackendDisk, BackendSQLite:
		if s.Path == "" {
			return newFieldError("Store.Path", "不能为空")
		}
	case BackendRedis:
		if s.RedisAddr == "" {
			return newFieldError("Store.RedisAddr", "redis 后端必须提供地址")
		}
		if s.RedisDB < 0 {
			return newFieldError("Store.RedisDB", "不能为负数")
		}
	default:
		return newFieldError("Store.Backend", "仅支持 memory|disk|sqlite|redis")
	}
	return nil
}

func validateUpstream(raw string) error {
	if raw == "" {
		return errors.New("缺少上游地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https，上游: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("上游缺少 Host: %s", raw)
	}
	return nil
}

// BuildRouteTable 按配置顺序构造只读路由表，假定 Validate 已经通过。
func (c *Config) BuildRouteTable() (*route.Table, error) {
	routes := make([]route.Route, 0, len(c.Routes))
	for i, r := range c.Routes {
		p, err := route.NewPattern(r.Pattern, r.Key, r.CacheControl)
		if err != nil {
			return nil, newFieldError(routeField(i, "Pattern"), err.Error())
		}
		routes = append(routes, p)
	}
	return route.NewTable(routes...), nil
}

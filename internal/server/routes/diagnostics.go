package routes

import (
	"fmt"
	"net/http"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"

	"github.com/any-hub/cachehandle/internal/route"
)

// RegisterDiagnosticRoutes 暴露 /-/ 下的诊断接口：路由表、健康检查与 Prometheus 指标。
// metrics 为空时不注册 /-/metrics。
func RegisterDiagnosticRoutes(app *fiber.App, table *route.Table, metrics http.Handler) {
	if app == nil {
		return
	}

	app.Get("/-/healthz", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	app.Get("/-/routes", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"routes":   encodeRoutes(table.Routes()),
			"shadowed": encodeShadows(table.Shadowed()),
		})
	})

	if metrics != nil {
		app.Get("/-/metrics", adaptor.HTTPHandler(metrics))
	}
}

type routePayload struct {
	Index        int    `json:"index"`
	Pattern      string `json:"pattern"`
	Prefix       bool   `json:"prefix"`
	Key          string `json:"key,omitempty"`
	CacheControl string `json:"cache_control,omitempty"`
}

type shadowPayload struct {
	Index      int    `json:"index"`
	Pattern    string `json:"pattern"`
	ShadowedBy string `json:"shadowed_by"`
	ByIndex    int    `json:"by_index"`
}

// encodeRoutes 保持配置顺序输出，顺序本身就是优先级。
func encodeRoutes(routes []route.Route) []routePayload {
	result := make([]routePayload, 0, len(routes))
	for i, r := range routes {
		item := routePayload{Index: i}
		switch p := r.(type) {
		case route.Pattern:
			item.Pattern = p.String()
			item.Prefix = p.IsPrefix()
			item.Key = p.Key()
			item.CacheControl = p.CacheControl()
		case fmt.Stringer:
			item.Pattern = p.String()
		default:
			item.Pattern = fmt.Sprintf("%T", r)
		}
		result = append(result, item)
	}
	return result
}

func encodeShadows(shadows []route.Shadow) []shadowPayload {
	result := make([]shadowPayload, 0, len(shadows))
	for _, s := range shadows {
		result = append(result, shadowPayload{
			Index:      s.Index,
			Pattern:    s.Pattern,
			ShadowedBy: s.ShadowedBy,
			ByIndex:    s.ByIndex,
		})
	}
	return result
}

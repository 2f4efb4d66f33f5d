package route

import "net/url"

// Table 是启动时构建、此后只读的有序路由表。
type Table struct {
	routes []Route
}

// NewTable copies routes so later mutation of the caller's slice has no effect.
func NewTable(routes ...Route) *Table {
	copied := make([]Route, len(routes))
	copy(copied, routes)
	return &Table{routes: copied}
}

// Resolve 按配置顺序扫描，返回第一个命中的结果；无命中不是错误。
func (t *Table) Resolve(u *url.URL) (MatchResult, bool) {
	if t == nil {
		return MatchResult{}, false
	}
	for _, r := range t.routes {
		if result, ok := r.Match(u); ok {
			return result, true
		}
	}
	return MatchResult{}, false
}

// Len returns the number of configured routes.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.routes)
}

// Routes returns the routes in configuration order.
func (t *Table) Routes() []Route {
	if t == nil {
		return nil
	}
	out := make([]Route, len(t.routes))
	copy(out, t.routes)
	return out
}

// Shadow 记录一条永远无法命中的路由：它被更早的前缀路由完全覆盖。
type Shadow struct {
	Index      int
	Pattern    string
	ShadowedBy string
	ByIndex    int
}

// Shadowed 列出被前序路由遮蔽的 Pattern，只用于告警，不改变匹配顺序。
func (t *Table) Shadowed() []Shadow {
	if t == nil {
		return nil
	}
	var result []Shadow
	for i, r := range t.routes {
		later, ok := r.(Pattern)
		if !ok {
			continue
		}
		for j := 0; j < i; j++ {
			earlier, ok := t.routes[j].(Pattern)
			if !ok {
				continue
			}
			if earlier.covers(later) {
				result = append(result, Shadow{
					Index:      i,
					Pattern:    later.String(),
					ShadowedBy: earlier.String(),
					ByIndex:    j,
				})
				break
			}
		}
	}
	return result
}

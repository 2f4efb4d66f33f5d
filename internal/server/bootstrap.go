package server

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/cachehandle/internal/cache"
	"github.com/any-hub/cachehandle/internal/config"
	"github.com/any-hub/cachehandle/internal/route"
)

// OpenStore 按 Store.Backend 打开缓存后端；返回的 closeFn 在进程退出前调用。
func OpenStore(cfg config.StoreConfig) (store cache.Store, closeFn func() error, err error) {
	noop := func() error { return nil }

	switch cfg.Backend {
	case config.BackendMemory, "":
		return cache.NewMemoryStore(), noop, nil
	case config.BackendDisk:
		fs, err := cache.NewFileStore(cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open disk store: %w", err)
		}
		return fs, noop, nil
	case config.BackendSQLite:
		db, err := cache.NewSQLiteStore(cfg.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return db, db.Close, nil
	case config.BackendRedis:
		rs, err := cache.NewRedisStore(cache.RedisOptions{
			Addr:       cfg.RedisAddr,
			Password:   cfg.RedisPassword,
			DB:         cfg.RedisDB,
			KeyPrefix:  cfg.KeyPrefix,
			Expiration: cfg.Expiration.DurationValue(),
		})
		if err != nil {
			return nil, nil, fmt.Errorf("open redis store: %w", err)
		}
		return rs, rs.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported store backend: %s", cfg.Backend)
	}
}

// WarnShadowedRoutes 对永远无法命中的路由输出告警，匹配顺序保持不变。
func WarnShadowedRoutes(logger *logrus.Logger, table *route.Table) int {
	shadows := table.Shadowed()
	if logger == nil {
		return len(shadows)
	}
	for _, s := range shadows {
		logger.WithFields(logrus.Fields{
			"action":      "route_table",
			"index":       s.Index,
			"pattern":     s.Pattern,
			"shadowed_by": s.ShadowedBy,
			"by_index":    s.ByIndex,
		}).Warn("route_shadowed")
	}
	return len(shadows)
}

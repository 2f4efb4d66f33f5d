package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// RequestFields 提供请求路径、缓存键与命中结果字段，供拦截日志复用。
// key 为空表示请求未匹配任何路由。
func RequestFields(path, key, outcome string) logrus.Fields {
	return logrus.Fields{
		"path":      path,
		"cache_key": key,
		"outcome":   outcome,
		"cache_hit": outcome == "hit",
	}
}

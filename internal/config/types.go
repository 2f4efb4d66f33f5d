package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// 缓存后端名称，对应 Store.Backend 的取值。
const (
	BackendMemory = "memory"
	BackendDisk   = "disk"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// GlobalConfig 描述进程级行为：监听端口、日志、源站与超时。
type GlobalConfig struct {
	ListenPort      int      `mapstructure:"ListenPort"`
	LogLevel        string   `mapstructure:"LogLevel"`
	LogFilePath     string   `mapstructure:"LogFilePath"`
	LogMaxSize      int      `mapstructure:"LogMaxSize"`
	LogMaxBackups   int      `mapstructure:"LogMaxBackups"`
	LogCompress     bool     `mapstructure:"LogCompress"`
	Upstream        string   `mapstructure:"Upstream"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`
	MaxBodySize     int64    `mapstructure:"MaxBodySize"`
	WriteTimeout    Duration `mapstructure:"WriteTimeout"`
	ShutdownTimeout Duration `mapstructure:"ShutdownTimeout"`
}

// StoreConfig 选择缓存后端；Path 用于 disk 目录或 sqlite DSN，Redis* 仅对 redis 生效。
type StoreConfig struct {
	Backend       string   `mapstructure:"Backend"`
	Path          string   `mapstructure:"Path"`
	RedisAddr     string   `mapstructure:"RedisAddr"`
	RedisPassword string   `mapstructure:"RedisPassword"`
	RedisDB       int      `mapstructure:"RedisDB"`
	KeyPrefix     string   `mapstructure:"KeyPrefix"`
	Expiration    Duration `mapstructure:"Expiration"`
}

// RouteConfig 是一条缓存路由；在文件中的先后顺序即匹配优先级。
type RouteConfig struct {
	Pattern      string `mapstructure:"Pattern"`
	Key          string `mapstructure:"Key"`
	CacheControl string `mapstructure:"CacheControl"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global GlobalConfig  `mapstructure:",squash"`
	Store  StoreConfig   `mapstructure:"Store"`
	Routes []RouteConfig `mapstructure:"Route"`
}

// RouteSummaries 返回 pattern=>key 形式的摘要，供启动日志使用。
func RouteSummaries(routes []RouteConfig) []string {
	if len(routes) == 0 {
		return nil
	}
	result := make([]string, len(routes))
	for i, r := range routes {
		key := r.Key
		if key == "" {
			key = "<path>"
		}
		result[i] = fmt.Sprintf("%s=>%s", r.Pattern, key)
	}
	return result
}

package main

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/cachehandle/internal/config"
)

// configFixture 指向 internal/config/testdata 下的配置样例。
func configFixture(t *testing.T, name string) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("无法定位项目根目录")
	}
	return filepath.Join(filepath.Dir(file), "internal", "config", "testdata", name)
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	file := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(file, []byte(strings.TrimSpace(content)), 0o600); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}
	return file
}

// useBufferWriters 在测试期间把 stdOut/stdErr 换成内存缓冲区。
func useBufferWriters(t *testing.T) (out, errOut *bytes.Buffer) {
	t.Helper()
	out, errOut = &bytes.Buffer{}, &bytes.Buffer{}
	prevOut, prevErr := stdOut, stdErr
	stdOut, stdErr = out, errOut
	t.Cleanup(func() {
		stdOut, stdErr = prevOut, prevErr
	})
	return out, errOut
}

// memoryConfig 返回指向 upstream 的最小配置，缓存使用内存后端。
func memoryConfig(upstream string, routes ...config.RouteConfig) *config.Config {
	return &config.Config{
		Global: config.GlobalConfig{
			ListenPort:  5000,
			LogLevel:    "info",
			Upstream:    upstream,
			MaxBodySize: 1 << 20,
		},
		Store:  config.StoreConfig{Backend: config.BackendMemory},
		Routes: routes,
	}
}

// newTestRuntime 组装完整运行时并在测试结束时关闭缓存后端。
func newTestRuntime(t *testing.T, cfg *config.Config) *appRuntime {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	rt, err := buildRuntime(cfg, logger)
	if err != nil {
		t.Fatalf("buildRuntime failed: %v", err)
	}
	t.Cleanup(func() { _ = rt.closeStore() })
	return rt
}

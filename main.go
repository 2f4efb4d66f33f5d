package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/any-hub/cachehandle/internal/config"
	"github.com/any-hub/cachehandle/internal/deferred"
	"github.com/any-hub/cachehandle/internal/logging"
	"github.com/any-hub/cachehandle/internal/metrics"
	"github.com/any-hub/cachehandle/internal/proxy"
	"github.com/any-hub/cachehandle/internal/server"
	"github.com/any-hub/cachehandle/internal/server/routes"
	"github.com/any-hub/cachehandle/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

const configEnv = "CACHEHANDLE_CONFIG"

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}
	defer logging.CloseOutput(logger)

	if opts.checkOnly {
		table, err := cfg.BuildRouteTable()
		if err != nil {
			fmt.Fprintf(stdErr, "构建路由表失败: %v\n", err)
			return 1
		}
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["routes"] = config.RouteSummaries(cfg.Routes)
		fields["store_backend"] = cfg.Store.Backend
		fields["shadowed"] = server.WarnShadowedRoutes(logger, table)
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	rt, err := buildRuntime(cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化失败: %v\n", err)
		return 1
	}
	defer rt.closeStore()

	fields := logging.BaseFields("startup", opts.configPath)
	fields["routes"] = config.RouteSummaries(cfg.Routes)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["upstream"] = cfg.Global.Upstream
	fields["store_backend"] = cfg.Store.Backend
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := startHTTPServer(ctx, cfg, rt.app, logger)
	drainErr := rt.drain(cfg)
	if serveErr != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", serveErr)
		return 1
	}
	if drainErr != nil {
		logger.WithError(drainErr).WithField("action", "shutdown").Warn("deferred_drain_incomplete")
	}
	return 0
}

// appRuntime 汇总一次启动所需的全部组件，顺序为
// “路由表 → 缓存后端 → 延迟任务组/指标 → 拦截器 → Fiber app”。
type appRuntime struct {
	app        *fiber.App
	group      *deferred.Group
	recorder   *metrics.Recorder
	closeStore func() error
}

func buildRuntime(cfg *config.Config, logger *logrus.Logger) (*appRuntime, error) {
	table, err := cfg.BuildRouteTable()
	if err != nil {
		return nil, err
	}
	server.WarnShadowedRoutes(logger, table)

	store, closeStore, err := server.OpenStore(cfg.Store)
	if err != nil {
		return nil, err
	}

	var recorder *metrics.Recorder
	group := deferred.NewGroup(deferred.Options{
		Logger: logger,
		OnFailure: func(err error) {
			if recorder != nil {
				recorder.RecordFailure(err)
			}
		},
	})
	recorder = metrics.New(metrics.DefaultNamespace, func() float64 {
		return float64(group.Inflight())
	})

	upstream, err := proxy.NewUpstream(cfg.Global.Upstream, proxy.NewUpstreamClient(cfg), cfg.Global.MaxBodySize)
	if err != nil {
		closeStore()
		return nil, err
	}

	handler, err := proxy.NewHandler(proxy.Options{
		Routes:       table,
		Store:        store,
		Scheduler:    group,
		Logger:       logger,
		Observer:     recorder,
		WriteTimeout: cfg.Global.WriteTimeout.DurationValue(),
	})
	if err != nil {
		closeStore()
		return nil, err
	}

	app, err := server.NewApp(server.AppOptions{
		Logger:      logger,
		Interceptor: handler,
		Origin:      upstream.Resolve,
		ListenPort:  cfg.Global.ListenPort,
	})
	if err != nil {
		closeStore()
		return nil, err
	}
	routes.RegisterDiagnosticRoutes(app, table, recorder.Handler())

	return &appRuntime{
		app:        app,
		group:      group,
		recorder:   recorder,
		closeStore: closeStore,
	}, nil
}

// drain 在 HTTP 停止后等待延迟回写结束，最长 ShutdownTimeout。
func (rt *appRuntime) drain(cfg *config.Config) error {
	ctx := context.Background()
	if timeout := cfg.Global.ShutdownTimeout.DurationValue(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return rt.group.Close(ctx)
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := pflag.NewFlagSet("cachehandle", pflag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 CACHEHANDLE_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv(configEnv)
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = config.DefaultPath
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

// startHTTPServer 阻塞直到监听失败或 ctx 结束；ctx 结束时按 ShutdownTimeout 优雅停止。
func startHTTPServer(ctx context.Context, cfg *config.Config, app *fiber.App, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(fmt.Sprintf(":%d", port))
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.WithField("action", "shutdown").Info("收到退出信号，停止接收新请求")
	if err := app.ShutdownWithTimeout(cfg.Global.ShutdownTimeout.DurationValue()); err != nil &&
		!errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return <-errCh
}

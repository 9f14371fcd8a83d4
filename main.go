package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/portfolio-cache/internal/cache"
	"github.com/any-hub/portfolio-cache/internal/config"
	"github.com/any-hub/portfolio-cache/internal/host"
	"github.com/any-hub/portfolio-cache/internal/logging"
	"github.com/any-hub/portfolio-cache/internal/proxy"
	"github.com/any-hub/portfolio-cache/internal/server"
	"github.com/any-hub/portfolio-cache/internal/server/routes"
	"github.com/any-hub/portfolio-cache/internal/version"
	"github.com/any-hub/portfolio-cache/internal/worker"
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

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// runtimeDeps 是一次启动构建出的全部运行期组件。
type runtimeDeps struct {
	registry      *server.OriginRegistry
	storage       cache.Storage
	worker        *worker.Worker
	clients       *host.Clients
	notifications *host.NotificationCenter
	handler       *proxy.Handler
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

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["site"] = cfg.Site.Domain
		fields["worker_version"] = cfg.Worker.Version
		fields["static_urls"] = len(cfg.Worker.StaticURLs)
		fields["dynamic_urls"] = len(cfg.Worker.DynamicURLs)
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	deps, err := buildRuntime(cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化运行组件失败: %v\n", err)
		return 1
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["site"] = cfg.Site.Domain
	fields["origin"] = cfg.Site.Origin
	fields["listen_port"] = cfg.Global.ListenPort
	fields["worker_version"] = cfg.Worker.Version
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	// 启动时先注册一次；失败不阻止服务，下一次加载 worker 脚本会重试安装。
	if err := deps.worker.Register(context.Background()); err != nil {
		logger.WithFields(logging.LifecycleFields("register", cfg.Worker.Version)).
			WithError(err).Warn("启动注册失败，等待下次加载重试")
	}

	err = startHTTPServer(cfg, deps, logger)
	deps.worker.Wait()
	if err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// buildRuntime 遵循“配置 → OriginRegistry → 磁盘缓存 → worker → 宿主适配”的顺序，
// 保证所有请求共享同一个 worker 与缓存实例。
func buildRuntime(cfg *config.Config, logger *logrus.Logger) (*runtimeDeps, error) {
	registry, err := server.NewOriginRegistry(cfg)
	if err != nil {
		return nil, fmt.Errorf("构建源站注册表失败: %w", err)
	}

	storage, err := cache.NewStorage(cfg.Global.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("初始化缓存目录失败: %w", err)
	}

	httpClient := server.NewUpstreamClient(cfg)
	clients := host.NewClients(logger)
	notifications := host.NewNotificationCenter(logger)

	w, err := worker.New(worker.ConfigFrom(cfg), worker.Options{
		Storage:  storage,
		Fetcher:  proxy.NewNetworkFetcher(httpClient),
		Clients:  clients,
		Notifier: notifications,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 worker 失败: %w", err)
	}

	return &runtimeDeps{
		registry:      registry,
		storage:       storage,
		worker:        w,
		clients:       clients,
		notifications: notifications,
		handler:       proxy.NewHandler(w, httpClient, logger, cfg.Site.WorkerPath),
	}, nil
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("portfolio-cache", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 PORTFOLIO_CACHE_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("PORTFOLIO_CACHE_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
	}, nil
}

func newHTTPApp(cfg *config.Config, deps *runtimeDeps, logger *logrus.Logger) (*fiber.App, error) {
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Registry:   deps.registry,
		Proxy:      deps.handler,
		ListenPort: cfg.Global.ListenPort,
	})
	if err != nil {
		return nil, err
	}
	routes.RegisterLifecycleRoutes(app, routes.LifecycleOptions{
		Worker:        deps.worker,
		Storage:       deps.storage,
		Clients:       deps.clients,
		Notifications: deps.notifications,
		Logger:        logger,
	})
	return app, nil
}

func startHTTPServer(cfg *config.Config, deps *runtimeDeps, logger *logrus.Logger) error {
	app, err := newHTTPApp(cfg, deps, logger)
	if err != nil {
		return err
	}

	port := cfg.Global.ListenPort
	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/nuget-hub/internal/config"
	"github.com/any-hub/nuget-hub/internal/logging"
	"github.com/any-hub/nuget-hub/internal/server"
	"github.com/any-hub/nuget-hub/internal/server/routes"
	"github.com/any-hub/nuget-hub/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
	command     []string
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

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}
	if len(opts.command) > 0 && !isImportCommand(opts.command) {
		fmt.Fprintf(stdErr, "未知命令: %s（支持: import downloads）\n", strings.Join(opts.command, " "))
		return 2
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
		fields := backendFields(logging.BaseFields("check_config", opts.configPath), cfg)
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if isImportCommand(opts.command) {
		if err := runImport(ctx, cfg, logger); err != nil {
			fmt.Fprintf(stdErr, "导入下载量失败: %v\n", err)
			return 1
		}
		return 0
	}

	// 启动顺序：配置 → 元数据/内容存储 → 状态/镜像/搜索服务 → Fiber server，
	// 所有请求共享同一组实例。
	comps, err := buildComponents(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化组件失败: %v\n", err)
		return 1
	}
	defer comps.Close()

	fields := backendFields(logging.BaseFields("startup", opts.configPath), cfg)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(ctx, cfg, comps, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("nuget-hub", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 NUGET_HUB_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("NUGET_HUB_CONFIG")
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
		command:     fs.Args(),
	}, nil
}

func isImportCommand(command []string) bool {
	return len(command) == 2 && command[0] == "import" && command[1] == "downloads"
}

func backendFields(fields logrus.Fields, cfg *config.Config) logrus.Fields {
	fields["database"] = cfg.Database.Type
	fields["storage"] = cfg.Storage.Type
	fields["search"] = cfg.Search.Type
	fields["mirror"] = cfg.Mirror.Enabled
	fields["auth"] = cfg.Global.AuthMode()
	return fields
}

func startHTTPServer(ctx context.Context, cfg *config.Config, comps *components, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Metrics:    comps.metrics,
		Gatherer:   comps.registry,
		ListenPort: port,
	})
	if err != nil {
		return err
	}
	routes.RegisterNuGetRoutes(app, routes.Dependencies{
		Logger:     logger,
		Metrics:    comps.metrics,
		State:      comps.state,
		Content:    comps.content,
		Mirror:     comps.mirror,
		Search:     comps.search,
		Auth:       comps.auth,
		HardDelete: cfg.HardDeletes(),
	})
	routes.RegisterDiagnosticsRoutes(app, cfg)

	go func() {
		<-ctx.Done()
		if err := app.Shutdown(); err != nil {
			logger.WithField("action", "shutdown").Warn(err.Error())
		}
	}()

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	err = app.Listen(fmt.Sprintf(":%d", port))
	if err != nil && errors.Is(ctx.Err(), context.Canceled) {
		return nil
	}
	return err
}

package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	glog "github.com/cloudwego/hertz/pkg/common/hlog"
	hertzadapter "github.com/hertz-contrib/logger/zerolog"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"
	"github.com/spf13/pflag"

	"resume-match-go/internal/api/router"
	"resume-match-go/internal/app"
	"resume-match-go/internal/config"
	appCoreLogger "resume-match-go/internal/logger"
)

var (
	version     = "1.0.0"            //nolint:gochecknoglobals
	serviceName = "resume-match-go" //nolint:gochecknoglobals
)

func main() {
	var (
		configPath   string
		mode         string
		writeSample  string
		printVersion bool
	)
	pflag.StringVarP(&configPath, "config", "c", "", "配置文件路径，为空时按默认路径查找")
	pflag.StringVarP(&mode, "mode", "m", "all", "运行模式: server, worker, all")
	pflag.StringVar(&writeSample, "write-sample-config", "", "写出示例配置到指定路径后退出")
	pflag.BoolVarP(&printVersion, "version", "v", false, "打印版本号")
	pflag.Parse()

	if printVersion {
		glog.Infof("%s %s", serviceName, version)
		return
	}
	if writeSample != "" {
		if err := config.CreateSampleConfig(writeSample); err != nil {
			glog.Fatalf("写出示例配置失败: %v", err)
		}
		glog.Infof("示例配置已写入 %s", writeSample)
		return
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		glog.Fatalf("加载配置失败: %v", err)
	}
	initLogger(cfg.Logger)
	if err := cfg.Validate(); err != nil {
		glog.Fatalf("配置校验失败: %v", err)
	}
	glog.Info("配置加载成功")

	runServer := mode == "server" || mode == "all"
	runWorker := mode == "worker" || mode == "all"
	if !runServer && !runWorker {
		glog.Fatalf("未知运行模式: %s", mode)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	application, err := app.New(ctx, cfg)
	if err != nil {
		glog.Fatalf("初始化应用失败: %v", err)
	}
	glog.Info("应用组件初始化成功")

	var wg sync.WaitGroup
	if runWorker {
		startWorker(ctx, &wg, application)
	}

	var h *server.Hertz
	if runServer {
		hd, err := application.Handler()
		if err != nil {
			glog.Fatalf("初始化HTTP处理器失败: %v", err)
		}

		tracer, tracerCfg := hertztracing.NewServerTracer()
		h = server.New(
			tracer,
			server.WithHostPorts(cfg.Server.Address),
			server.WithHandleMethodNotAllowed(true),
			server.WithMaxRequestBodySize(cfg.Server.MaxRequestBodyMB<<20),
		)
		h.Use(hertztracing.ServerMiddleware(tracerCfg))
		router.RegisterRoutes(h, hd, cfg.Auth)
		startRelay(ctx, &wg, application)
		glog.Info("HTTP路由注册成功")

		glog.Infof("HTTP 服务器启动中，监听地址: %s", cfg.Server.Address)
		go func() {
			if err := h.Run(); err != nil {
				glog.Errorf("HTTP服务器退出: %v", err)
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	glog.Info("接收到终止信号，正在优雅退出...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if h != nil {
		if err := h.Shutdown(shutdownCtx); err != nil {
			glog.Errorf("服务器关闭失败: %v", err)
		}
	}

	// 停止消费并等待处理中的消息结算
	cancel()
	wg.Wait()
	application.Close(shutdownCtx)
	glog.Info("优雅退出完成")
}

func startWorker(ctx context.Context, wg *sync.WaitGroup, application *app.App) {
	mq := application.Storage.RabbitMQ
	if mq == nil {
		glog.Fatal("worker 模式需要 RabbitMQ")
	}
	w, err := application.Worker()
	if err != nil {
		glog.Fatalf("初始化解析worker失败: %v", err)
	}
	rc := application.Config.RabbitMQ
	glog.Infof("启动解析消费者，队列: %s, 工作协程数: %d", rc.ParseQueue, rc.ConsumerWorkers)

	wg.Add(1)
	go func() {
		defer wg.Done()
		err := w.Run(ctx, mq, rc.ParseQueue, rc.PrefetchCount, rc.ConsumerWorkers)
		if err != nil && !errors.Is(err, context.Canceled) {
			glog.Errorf("解析消费者退出: %v", err)
		}
	}()
}

func startRelay(ctx context.Context, wg *sync.WaitGroup, application *app.App) {
	relay := application.Relay()
	if relay == nil {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			glog.Errorf("消息中继退出: %v", err)
		}
	}()
	glog.Info("发件箱消息中继已启动")
}

func initLogger(cfg config.LoggerConfig) {
	if _, err := appCoreLogger.Init(appCoreLogger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		TimeFormat:   cfg.TimeFormat,
		ReportCaller: cfg.ReportCaller,
		File:         cfg.File,
	}); err != nil {
		glog.Fatalf("初始化日志失败: %v", err)
	}

	glog.SetLogger(hertzadapter.From(appCoreLogger.Logger))
	switch cfg.Level {
	case "debug":
		glog.SetLevel(glog.LevelDebug)
	case "warn":
		glog.SetLevel(glog.LevelWarn)
	case "error":
		glog.SetLevel(glog.LevelError)
	default:
		glog.SetLevel(glog.LevelInfo)
	}
}

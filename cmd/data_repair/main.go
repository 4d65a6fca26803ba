package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"resume-match-go/internal/app"
	"resume-match-go/internal/config"
	"resume-match-go/internal/logger"
	"resume-match-go/internal/repair"
)

func main() {
	var (
		configPath  string
		limit       int
		concurrency int
		batchSize   int
	)
	pflag.StringVarP(&configPath, "config", "c", "", "配置文件路径")
	pflag.IntVar(&limit, "limit", 0, "最多修复的记录数，0 表示全部")
	pflag.IntVar(&concurrency, "concurrency", 5, "并发数")
	pflag.IntVar(&batchSize, "batch", 20, "每批读取的记录数")
	pflag.Parse()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("加载配置失败")
	}
	if _, err := logger.Init(logger.Config{
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		TimeFormat: cfg.Logger.TimeFormat,
		File:       cfg.Logger.File,
	}); err != nil {
		logger.Fatal().Err(err).Msg("初始化日志失败")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("初始化应用失败")
	}

	st := application.Storage
	if st.MySQL == nil {
		logger.Fatal().Msg("修复需要 MySQL")
	}
	var texts repair.TextStore
	if st.MinIO != nil {
		texts = st.MinIO
	} else {
		logger.Warn().Msg("MinIO 不可用，只重新生成向量")
	}

	r, err := repair.New(st.MySQL, texts, application.Pipeline,
		repair.WithConcurrency(concurrency),
		repair.WithBatchSize(batchSize),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("初始化修复器失败")
	}

	report, runErr := r.Run(ctx, limit)
	if runErr != nil {
		logger.Error().Err(runErr).Msg("修复中断")
	}
	if err := json.NewEncoder(os.Stdout).Encode(report); err != nil {
		logger.Error().Err(err).Msg("输出统计失败")
	}
	application.Close(context.Background())
	if runErr != nil {
		os.Exit(1)
	}
}

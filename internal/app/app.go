// Package app 按配置装配流水线、存储、HTTP 处理器与解析 worker。
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"resume-match-go/internal/api/handler"
	"resume-match-go/internal/config"
	"resume-match-go/internal/constants"
	"resume-match-go/internal/embedding"
	"resume-match-go/internal/extraction"
	"resume-match-go/internal/llm"
	"resume-match-go/internal/logger"
	"resume-match-go/internal/matching"
	"resume-match-go/internal/outbox"
	"resume-match-go/internal/pipeline"
	"resume-match-go/internal/requirements"
	"resume-match-go/internal/skills"
	"resume-match-go/internal/storage"
	"resume-match-go/internal/textextract"
	"resume-match-go/internal/tracing"
	"resume-match-go/internal/worker"
)

// App 装配好的应用
type App struct {
	Config    *config.Config
	Storage   *storage.Storage
	Pipeline  *pipeline.Pipeline
	Knowledge *skills.Knowledge

	shutdownTracing tracing.ShutdownFunc
	logger          zerolog.Logger
}

type options struct {
	offline bool
}

// Option 装配选项
type Option func(*options)

// Offline 不连接任何外部存储，供命令行批量解析使用
func Offline() Option {
	return func(o *options) { o.offline = true }
}

// New 按配置装配应用
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	a := &App{Config: cfg, Storage: &storage.Storage{}, logger: logger.Named("app")}

	shutdown, err := tracing.InitProvider(ctx, cfg.Tracing)
	if err != nil {
		a.logger.Warn().Err(err).Msg("链路追踪初始化失败，继续运行")
	}
	a.shutdownTracing = shutdown

	if !o.offline {
		st, err := storage.NewStorage(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("初始化存储失败: %w", err)
		}
		a.Storage = st
	}

	a.Knowledge = skills.NewKnowledge(a.skillsLoader(), skills.WithLogger(logger.Named("skills")))

	providers, err := llm.BuildProviders(ctx, cfg.LLM)
	if err != nil {
		return nil, err
	}
	if len(providers) == 0 {
		a.logger.Warn().Msg("没有可用的补全服务，简历解析将使用规则回退")
	}

	orchestrator := extraction.NewOrchestrator(providers,
		extraction.WithMaxAttempts(cfg.Extraction.MaxAttempts),
		extraction.WithBackoffUnit(cfg.Extraction.BackoffUnit()),
		extraction.WithMaxTokens(cfg.Extraction.MaxTokens),
		extraction.WithTemperature(cfg.Extraction.Temperature),
		extraction.WithVocabulary(a.Knowledge.Terms()),
	)

	generator, err := a.embeddingGenerator()
	if err != nil {
		return nil, err
	}

	reqOpts := []requirements.Option{
		requirements.WithKnowledge(a.Knowledge),
		requirements.WithMaxTurns(cfg.Chat.MaxTurns),
	}
	if cfg.Chat.Store == "redis" && a.Storage.Redis != nil {
		mem, err := requirements.NewRedisChatMemory(a.Storage.Redis.Client,
			time.Duration(cfg.Chat.HistoryTTLMinutes)*time.Minute, cfg.Chat.MaxTurns)
		if err != nil {
			return nil, err
		}
		reqOpts = append(reqOpts, requirements.WithMemory(mem))
	}
	// 需求对话只使用链上第一个服务
	var chatProvider llm.CompletionProvider
	if len(providers) > 0 {
		chatProvider = providers[0]
	}

	docs, err := textextract.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("初始化文档提取器失败: %w", err)
	}

	comps := pipeline.Components{
		Extractor:    orchestrator,
		Embeddings:   generator,
		Knowledge:    a.Knowledge,
		Requirements: requirements.NewExtractor(chatProvider, reqOpts...),
		Matcher:      matching.NewEngine(a.Knowledge, matching.WithConfig(cfg.Matching)),
		Documents:    docs,
	}
	if a.Storage.MySQL != nil {
		comps.Candidates = a.Storage.MySQL
	}
	if a.Storage.Redis != nil {
		comps.Cache = a.Storage.Redis
	}

	a.Pipeline, err = pipeline.New(comps,
		pipeline.WithParallelism(cfg.Extraction.Parallelism),
		pipeline.WithPoolLimit(cfg.Matching.PoolLimit),
		pipeline.WithSearchCacheTTL(time.Duration(cfg.Matching.CacheTTLSeconds)*time.Second),
	)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *App) skillsLoader() skills.Loader {
	switch a.Config.Skills.Source {
	case "file":
		return skills.FileLoader{Path: a.Config.Skills.SynonymsFile}
	case "redis":
		if a.Storage.Redis == nil {
			a.logger.Warn().Msg("skills.source=redis 但 Redis 不可用，使用内置同义词表")
			return nil
		}
		return skills.RedisLoader{Client: a.Storage.Redis.Client, Key: constants.KeySkillSynonyms, MergeBuiltin: true}
	default:
		return nil
	}
}

func (a *App) embeddingGenerator() (*embedding.Generator, error) {
	cfg := a.Config.Embedding
	var opts []embedding.Option
	if a.Storage.Redis != nil && cfg.CacheTTLHours > 0 {
		opts = append(opts, embedding.WithCache(a.Storage.Redis, time.Duration(cfg.CacheTTLHours)*time.Hour))
	}

	if cfg.Provider != "aliyun" || cfg.APIKey == "" {
		a.logger.Warn().Str("provider", cfg.Provider).Msg("未配置向量服务，使用回退向量")
		return embedding.NewGenerator(nil, cfg.Model, cfg.Dimensions, opts...)
	}
	embedder, err := embedding.NewAliyunEmbedder(cfg)
	if err != nil {
		return nil, fmt.Errorf("初始化向量服务失败: %w", err)
	}
	return embedding.NewGenerator(embedder, embedder.Model(), embedder.Dimensions(), opts...)
}

// Handler 创建 HTTP 处理器，未连接的存储对应的接口返回 503
func (a *App) Handler() (*handler.Handler, error) {
	deps := handler.Deps{Pipeline: a.Pipeline, Status: a.Storage.Status}
	if a.Storage.MySQL != nil {
		deps.Candidates = a.Storage.MySQL
	}
	if a.Storage.MinIO != nil {
		deps.Documents = a.Storage.MinIO
	}
	switch {
	case a.outboxEnabled():
		rc := a.Config.RabbitMQ
		deps.Publisher = outbox.NewWriter(a.Storage.MySQL.DB(), rc.Exchange, rc.ParseRoutingKey)
	case a.Storage.RabbitMQ != nil:
		deps.Publisher = a.Storage.RabbitMQ
	}
	return handler.New(deps, handler.WithMaxUploadBytes(a.Config.Server.MaxRequestBodyMB<<20))
}

func (a *App) outboxEnabled() bool {
	return a.Config.RabbitMQ.UseOutbox && a.Storage.MySQL != nil && a.Storage.RabbitMQ != nil
}

// Relay 发件箱中继，未启用发件箱时返回 nil
func (a *App) Relay() *outbox.Relay {
	if !a.outboxEnabled() {
		return nil
	}
	rc := a.Config.RabbitMQ
	return outbox.NewRelay(a.Storage.MySQL.DB(), a.Storage.RabbitMQ,
		outbox.WithPollingInterval(time.Duration(rc.OutboxPollSeconds)*time.Second),
		outbox.WithBatchSize(rc.OutboxBatchSize),
	)
}

// Worker 创建解析 worker，需要 MinIO 与 MySQL
func (a *App) Worker() (*worker.Worker, error) {
	if a.Storage.MinIO == nil || a.Storage.MySQL == nil {
		return nil, fmt.Errorf("解析 worker 需要 MinIO 与 MySQL")
	}
	var opts []worker.Option
	if a.Storage.Redis != nil {
		opts = append(opts, worker.WithLocker(a.Storage.Redis))
	}
	return worker.New(a.Pipeline, a.Storage.MinIO, a.Storage.MySQL, opts...)
}

// Close 释放资源
func (a *App) Close(ctx context.Context) {
	a.Storage.Close()
	if a.shutdownTracing != nil {
		if err := a.shutdownTracing(ctx); err != nil {
			a.logger.Warn().Err(err).Msg("关闭链路追踪失败")
		}
	}
}

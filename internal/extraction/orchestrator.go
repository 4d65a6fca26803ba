// Package extraction 把简历文本转换为结构化画像：按顺序调用补全服务，
// 每个服务带重试，全部失败时退回规则抽取。
package extraction

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"resume-match-go/internal/errs"
	"resume-match-go/internal/llm"
	"resume-match-go/internal/logger"
	"resume-match-go/internal/skills"
	"resume-match-go/internal/tracing"
	"resume-match-go/internal/types"
)

// 默认参数
const (
	DefaultMaxAttempts   = 3
	DefaultBackoffUnit   = time.Second
	DefaultMaxTokens     = 4000
	DefaultTemperature   = 0.1
	DefaultMaxInputRunes = 12000
)

// Orchestrator 结构化抽取编排器
type Orchestrator struct {
	providers     []llm.CompletionProvider
	maxAttempts   int
	backoffUnit   time.Duration
	maxTokens     int
	temperature   float64
	maxInputRunes int
	terms         *skills.TermIndex
	logger        zerolog.Logger
}

// Option 编排器配置项
type Option func(*Orchestrator)

// WithMaxAttempts 每个服务的最大尝试次数
func WithMaxAttempts(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

// WithBackoffUnit 线性退避的单位时长，第 k 次尝试前等待 (k-1) 个单位
func WithBackoffUnit(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d >= 0 {
			o.backoffUnit = d
		}
	}
}

// WithMaxTokens 单次补全的最大输出 token 数
func WithMaxTokens(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxTokens = n
		}
	}
}

// WithTemperature 采样温度
func WithTemperature(t float64) Option {
	return func(o *Orchestrator) { o.temperature = t }
}

// WithMaxInputRunes 送入补全服务的最大字符数，超出部分截断
func WithMaxInputRunes(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxInputRunes = n
		}
	}
}

// WithVocabulary 规则回退使用的技能词表：词条 -> 规范名
func WithVocabulary(terms map[string]string) Option {
	return func(o *Orchestrator) {
		if len(terms) > 0 {
			o.terms = skills.NewTermIndex(terms)
		}
	}
}

// WithLogger 设置日志器
func WithLogger(l zerolog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// NewOrchestrator 创建编排器，providers 的顺序即级联顺序
func NewOrchestrator(providers []llm.CompletionProvider, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		providers:     providers,
		maxAttempts:   DefaultMaxAttempts,
		backoffUnit:   DefaultBackoffUnit,
		maxTokens:     DefaultMaxTokens,
		temperature:   DefaultTemperature,
		maxInputRunes: DefaultMaxInputRunes,
		terms:         defaultTerms,
		logger:        logger.Named("extraction"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Providers 已配置的服务名称，按级联顺序
func (o *Orchestrator) Providers() []string {
	names := make([]string, 0, len(o.providers))
	for _, p := range o.providers {
		names = append(names, p.Name())
	}
	return names
}

// Extract 把简历文本转换为结构化画像，永远返回非空画像。
// 所有服务的所有尝试都失败（或 ctx 被取消）时返回规则回退画像，Source 为 types.SourceFallback。
func (o *Orchestrator) Extract(ctx context.Context, text string) *types.StructuredProfile {
	ctx, span := tracing.Tracer().Start(ctx, "extraction.Extract",
		trace.WithAttributes(
			attribute.Int("resume.text_runes", utf8.RuneCountInString(text)),
			attribute.Int("extraction.providers", len(o.providers)),
		))
	defer span.End()

	start := time.Now()
	input := truncateRunes(text, o.maxInputRunes)
	var lastErr error
	for _, p := range o.providers {
		if ctx.Err() != nil {
			break
		}
		profile, err := o.tryProvider(ctx, p, input)
		if err == nil {
			span.SetAttributes(attribute.String("extraction.source", p.Name()))
			o.logger.Info().
				Str("provider", p.Name()).
				Dur("duration", time.Since(start)).
				Msg("结构化抽取成功")
			return profile
		}
		lastErr = err
		o.logger.Warn().Err(err).Str("provider", p.Name()).Msg("补全服务已用尽重试次数，切换下一个服务")
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("没有可用的补全服务")
	}
	if ctx.Err() != nil {
		lastErr = fmt.Errorf("%w: %w", lastErr, ctx.Err())
	}
	tracing.RecordFallback(span, "extraction", lastErr)
	o.logger.Warn().Err(lastErr).Msg("所有补全服务均失败，使用规则回退抽取")
	span.SetAttributes(attribute.String("extraction.source", types.SourceFallback))
	return fallbackWithTerms(text, o.terms)
}

// tryProvider 对单个服务最多尝试 maxAttempts 次。
// 调用失败、解析失败、信息不足都算一次失败的尝试。
func (o *Orchestrator) tryProvider(ctx context.Context, p llm.CompletionProvider, text string) (*types.StructuredProfile, error) {
	req := llm.CompletionRequest{
		Messages:    buildMessages(text),
		JSON:        true,
		Temperature: llm.Temperature(o.temperature),
		MaxTokens:   o.maxTokens,
	}

	var lastErr error
	for attempt := 1; attempt <= o.maxAttempts; attempt++ {
		if attempt > 1 {
			if err := sleepCtx(ctx, time.Duration(attempt-1)*o.backoffUnit); err != nil {
				return nil, errs.NewProviderError(p.Name(), "等待重试时上下文已取消", err)
			}
		}

		profile, err := o.attempt(ctx, p, req)
		if err == nil {
			return profile, nil
		}
		lastErr = err
		o.logger.Warn().Err(err).Str("provider", p.Name()).Int("attempt", attempt).Msg("结构化抽取尝试失败")
		if ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

func (o *Orchestrator) attempt(ctx context.Context, p llm.CompletionProvider, req llm.CompletionRequest) (*types.StructuredProfile, error) {
	ctx, span := tracing.Tracer().Start(ctx, "extraction.attempt",
		trace.WithAttributes(attribute.String("llm.provider", p.Name())))
	defer span.End()

	reply, err := p.Complete(ctx, req)
	if err != nil {
		err = errs.NewProviderError(p.Name(), "补全调用失败", err)
		tracing.RecordError(span, err, tracing.ErrorTypeLLM)
		return nil, err
	}
	span.SetAttributes(attribute.Int("llm.reply_length", len(reply)))

	profile, err := ParseProfile(reply)
	if err != nil {
		err = errs.NewProviderError(p.Name(), "响应解析失败", err)
		tracing.RecordError(span, err, tracing.ErrorTypeParse)
		return nil, err
	}
	if !IsSufficient(profile) {
		err = errs.NewInsufficientDataError(p.Name(), "缺少联系方式、职位技能和工作经历")
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return nil, err
	}
	profile.Source = p.Name()
	return profile, nil
}

// sleepCtx 等待 d，ctx 取消时提前返回
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func truncateRunes(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

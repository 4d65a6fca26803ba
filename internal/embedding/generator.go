// Package embedding 把画像或查询文本转换为定长向量。
// 向量服务失败时使用由文本哈希生成的确定性向量，调用方不会看到服务错误。
package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"resume-match-go/internal/constants"
	"resume-match-go/internal/errs"
	"resume-match-go/internal/logger"
	"resume-match-go/internal/tracing"
	"resume-match-go/internal/types"
)

// ModelFallback 回退向量的模型名
const ModelFallback = "fallback-fnv-sine"

// Vector 一次向量化的结果
type Vector struct {
	Values     []float64 `json:"vector"`
	Dimensions int       `json:"dimensions"`
	Model      string    `json:"model"`
	Fallback   bool      `json:"fallback"`
}

// VectorCache 向量缓存，未命中时返回 (nil, nil)
type VectorCache interface {
	GetVector(ctx context.Context, key string) ([]float64, error)
	SetVector(ctx context.Context, key string, vec []float64, ttl time.Duration) error
}

// Generator 向量生成器
type Generator struct {
	embedder embedding.Embedder
	model    string
	dims     int
	cache    VectorCache
	cacheTTL time.Duration
	logger   zerolog.Logger
}

// Option 生成器配置项
type Option func(*Generator)

// WithCache 启用向量缓存，ttl <= 0 时不缓存
func WithCache(cache VectorCache, ttl time.Duration) Option {
	return func(g *Generator) {
		if cache != nil && ttl > 0 {
			g.cache = cache
			g.cacheTTL = ttl
		}
	}
}

// WithLogger 设置日志器
func WithLogger(l zerolog.Logger) Option {
	return func(g *Generator) { g.logger = l }
}

// NewGenerator 创建向量生成器。embedder 为 nil 时只使用回退向量。
// dims 是主服务的向量维度，回退向量使用相同维度。
func NewGenerator(embedder embedding.Embedder, model string, dims int, opts ...Option) (*Generator, error) {
	if dims <= 0 {
		return nil, errs.NewInvalidInputError("new_embedding_generator", fmt.Sprintf("向量维度必须为正数: %d", dims))
	}
	g := &Generator{
		embedder: embedder,
		model:    model,
		dims:     dims,
		logger:   logger.Named("embedding"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Dimensions 向量维度
func (g *Generator) Dimensions() int { return g.dims }

// Model 主服务模型名
func (g *Generator) Model() string { return g.model }

// Embed 生成文本向量。服务失败时返回回退向量；只有 ctx 被取消时返回错误。
func (g *Generator) Embed(ctx context.Context, text string) (Vector, error) {
	ctx, span := tracing.Tracer().Start(ctx, "embedding.Embed",
		trace.WithAttributes(
			attribute.String("embedding.model", g.model),
			attribute.Int("embedding.dims", g.dims),
			attribute.Int("embedding.text_length", len(text)),
		))
	defer span.End()

	text = strings.TrimSpace(text)
	if text == "" || g.embedder == nil {
		span.SetAttributes(attribute.Bool("embedding.fallback", true))
		return g.fallback(text), nil
	}

	key := g.cacheKey(text)
	if g.cache != nil {
		vec, err := g.cache.GetVector(ctx, key)
		if err != nil {
			g.logger.Warn().Err(err).Str("key", tracing.SafeRedisKey(key)).Msg("读取向量缓存失败")
		} else if len(vec) == g.dims {
			span.SetAttributes(attribute.Bool("embedding.cache_hit", true))
			return Vector{Values: vec, Dimensions: g.dims, Model: g.model}, nil
		}
	}

	vec, err := g.callProvider(ctx, text)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			tracing.RecordError(span, ctxErr, tracing.ErrorTypeTimeout)
			return Vector{}, ctxErr
		}
		tracing.RecordFallback(span, "embedding", err)
		g.logger.Warn().Err(err).Str("model", g.model).Msg("向量服务失败，使用回退向量")
		return g.fallback(text), nil
	}

	if g.cache != nil {
		if err := g.cache.SetVector(ctx, key, vec, g.cacheTTL); err != nil {
			g.logger.Warn().Err(err).Str("key", tracing.SafeRedisKey(key)).Msg("写入向量缓存失败")
		}
	}
	return Vector{Values: vec, Dimensions: g.dims, Model: g.model}, nil
}

// EmbedProfile 生成画像向量
func (g *Generator) EmbedProfile(ctx context.Context, p *types.StructuredProfile) (Vector, error) {
	return g.Embed(ctx, ProfileText(p))
}

// EmbedQuery 生成搜索需求向量
func (g *Generator) EmbedQuery(ctx context.Context, r *types.SearchRequirements) (Vector, error) {
	return g.Embed(ctx, QueryText(r))
}

func (g *Generator) callProvider(ctx context.Context, text string) ([]float64, error) {
	vectors, err := g.embedder.EmbedStrings(ctx, []string{text})
	if err != nil {
		return nil, errs.NewEmbeddingProviderError(g.model, "调用失败", err)
	}
	if len(vectors) != 1 {
		return nil, errs.NewEmbeddingProviderError(g.model, fmt.Sprintf("返回了 %d 个向量", len(vectors)), nil)
	}
	if len(vectors[0]) != g.dims {
		return nil, errs.NewEmbeddingProviderError(g.model,
			fmt.Sprintf("向量维度 %d 与配置维度 %d 不一致", len(vectors[0]), g.dims), nil)
	}
	return vectors[0], nil
}

func (g *Generator) fallback(text string) Vector {
	return Vector{Values: FallbackVector(text, g.dims), Dimensions: g.dims, Model: ModelFallback, Fallback: true}
}

func (g *Generator) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf(constants.KeyEmbeddingVector, g.model, g.dims, hex.EncodeToString(sum[:]))
}

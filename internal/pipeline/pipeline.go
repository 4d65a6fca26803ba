// Package pipeline 对外提供简历解析、质量评分、向量生成、需求对话与候选人搜索的统一入口。
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"resume-match-go/internal/constants"
	"resume-match-go/internal/embedding"
	"resume-match-go/internal/errs"
	"resume-match-go/internal/extraction"
	"resume-match-go/internal/logger"
	"resume-match-go/internal/matching"
	"resume-match-go/internal/quality"
	"resume-match-go/internal/requirements"
	"resume-match-go/internal/skills"
	"resume-match-go/internal/textnorm"
	"resume-match-go/internal/tracing"
	"resume-match-go/internal/types"
)

// candidateNamespace 候选人 ID 的 UUIDv5 命名空间
var candidateNamespace = uuid.NewV5(uuid.NamespaceURL, "https://resume-match/candidates")

// DocumentExtractor 把文件转换为纯文本
type DocumentExtractor interface {
	Extract(ctx context.Context, data []byte, mimeType, fileName string) (string, error)
}

// CandidateSource 候选人存储。候选人总数超过上限时按向量相似度召回候选池。
type CandidateSource interface {
	CountCandidates(ctx context.Context) (int64, error)
	LoadCandidates(ctx context.Context, limit int) ([]types.Candidate, error)
	ScanCandidateVectors(ctx context.Context, batchSize int, fn func([]types.CandidateVector) error) error
	LoadCandidatesByID(ctx context.Context, ids []string) ([]types.Candidate, error)
}

// SearchCache 搜索结果缓存，未命中时返回 (nil, nil)
type SearchCache interface {
	GetSearchResult(ctx context.Context, key string) (*types.SearchResult, error)
	SetSearchResult(ctx context.Context, key string, result *types.SearchResult, ttl time.Duration) error
}

// Components 流水线依赖的组件，集中管理便于测试替换
type Components struct {
	// 必需组件
	Extractor  *extraction.Orchestrator
	Embeddings *embedding.Generator
	Knowledge  *skills.Knowledge

	// 可选组件，为空时使用默认实现或关闭对应功能
	Requirements *requirements.Extractor
	Matcher      *matching.Engine
	Documents    DocumentExtractor
	Candidates   CandidateSource
	Cache        SearchCache
}

// Pipeline 简历处理与匹配流水线，可并发使用
type Pipeline struct {
	comps       Components
	parallelism int
	poolLimit   int
	cacheTTL    time.Duration
	logger      zerolog.Logger
}

// Option 流水线配置项
type Option func(*Pipeline)

// WithParallelism 批量解析的并发数
func WithParallelism(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.parallelism = n
		}
	}
}

// WithPoolLimit 从候选人存储加载候选池的上限
func WithPoolLimit(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.poolLimit = n
		}
	}
}

// WithSearchCacheTTL 搜索结果缓存时间，0 表示不缓存
func WithSearchCacheTTL(d time.Duration) Option {
	return func(p *Pipeline) { p.cacheTTL = d }
}

// WithLogger 设置日志器
func WithLogger(l zerolog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// New 创建流水线
func New(c Components, opts ...Option) (*Pipeline, error) {
	if c.Extractor == nil {
		return nil, fmt.Errorf("extraction orchestrator cannot be nil")
	}
	if c.Embeddings == nil {
		return nil, fmt.Errorf("embedding generator cannot be nil")
	}
	if c.Knowledge == nil {
		c.Knowledge = skills.NewKnowledge(nil)
	}
	if c.Requirements == nil {
		c.Requirements = requirements.NewExtractor(nil, requirements.WithKnowledge(c.Knowledge))
	}
	if c.Matcher == nil {
		c.Matcher = matching.NewEngine(c.Knowledge)
	}

	p := &Pipeline{
		comps:       c,
		parallelism: 4,
		poolLimit:   1000,
		cacheTTL:    constants.SearchCacheDuration,
		logger:      logger.Named("pipeline"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Knowledge 技能知识表
func (p *Pipeline) Knowledge() *skills.Knowledge { return p.comps.Knowledge }

// ParseDocument 规整文本并抽取结构化画像。文本过短返回 InvalidInputError；
// 补全服务全部失败时返回规则回退画像，只有 ctx 取消时才返回其他错误。
func (p *Pipeline) ParseDocument(ctx context.Context, text string) (*types.StructuredProfile, error) {
	normalized, err := textnorm.NormalizeAndValidate(text)
	if err != nil {
		return nil, err
	}
	profile := p.comps.Extractor.Extract(ctx, normalized)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.canonicalizeSkills(profile)
	return profile, nil
}

// canonicalizeSkills 技能分组统一为规范名，并去掉在前面分组中已出现的技能
func (p *Pipeline) canonicalizeSkills(profile *types.StructuredProfile) {
	k := p.comps.Knowledge
	s := &profile.Professional.Skills
	s.Primary = k.Normalize(s.Primary)
	s.Secondary = exclude(k.Normalize(s.Secondary), s.Primary)
	s.Tools = exclude(k.Normalize(s.Tools), s.Primary, s.Secondary)
}

func exclude(list []string, seen ...[]string) []string {
	if len(list) == 0 {
		return nil
	}
	skip := make(map[string]bool)
	for _, s := range seen {
		for _, v := range s {
			skip[v] = true
		}
	}
	var out []string
	for _, v := range list {
		if !skip[v] {
			out = append(out, v)
		}
	}
	return out
}

// DocumentResult 批量解析中单个文档的结果
type DocumentResult struct {
	Index   int                      `json:"index"`
	Profile *types.StructuredProfile `json:"profile,omitempty"`
	Err     error                    `json:"-"`
}

// ParseDocuments 并发解析互不相关的文档，结果顺序与输入一致。
// 单个文档的输入错误记录在结果中，不影响其他文档；只有 ctx 取消时返回错误。
func (p *Pipeline) ParseDocuments(ctx context.Context, texts []string) ([]DocumentResult, error) {
	results := make([]DocumentResult, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.parallelism)
	for i, text := range texts {
		g.Go(func() error {
			profile, err := p.ParseDocument(gctx, text)
			if err != nil && gctx.Err() != nil {
				return gctx.Err()
			}
			results[i] = DocumentResult{Index: i, Profile: profile, Err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// ExtractText 把上传的文件转换为规整后的纯文本
func (p *Pipeline) ExtractText(ctx context.Context, data []byte, mimeType, fileName string) (string, error) {
	if p.comps.Documents == nil {
		return "", errs.NewInvalidInputError("parse_file", "未配置文档提取器")
	}
	text, err := p.comps.Documents.Extract(ctx, data, mimeType, fileName)
	if err != nil {
		return "", err
	}
	return textnorm.Normalize(text), nil
}

// ParseFile 提取文件文本后解析
func (p *Pipeline) ParseFile(ctx context.Context, data []byte, mimeType, fileName string) (string, *types.StructuredProfile, error) {
	text, err := p.ExtractText(ctx, data, mimeType, fileName)
	if err != nil {
		return "", nil, err
	}
	profile, err := p.ParseDocument(ctx, text)
	if err != nil {
		return "", nil, err
	}
	return text, profile, nil
}

// ScoreProfile 画像质量分 0~100
func (p *Pipeline) ScoreProfile(profile *types.StructuredProfile) int {
	return quality.Score(profile)
}

// EmbedProfile 生成画像向量，服务失败时返回回退向量
func (p *Pipeline) EmbedProfile(ctx context.Context, profile *types.StructuredProfile) (embedding.Vector, error) {
	return p.comps.Embeddings.EmbedProfile(ctx, profile)
}

// ProcessedResume 一份简历完整处理后的结果
type ProcessedResume struct {
	CandidateID  string                   `json:"candidateId"`
	Profile      *types.StructuredProfile `json:"profile"`
	QualityScore int                      `json:"qualityScore"`
	Embedding    embedding.Vector         `json:"embedding"`
	Text         string                   `json:"-"`
	ParsedAt     time.Time                `json:"parsedAt"`
}

// Process 解析、评分并生成向量。候选人 ID 由规整后的文本确定，同一份简历重新解析得到相同 ID。
func (p *Pipeline) Process(ctx context.Context, text string) (*ProcessedResume, error) {
	ctx, span := tracing.Tracer().Start(ctx, "pipeline.Process")
	defer span.End()

	normalized := textnorm.Normalize(text)
	profile, err := p.ParseDocument(ctx, normalized)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return nil, err
	}
	vec, err := p.EmbedProfile(ctx, profile)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeTimeout)
		return nil, err
	}
	out := &ProcessedResume{
		CandidateID:  CandidateID(normalized),
		Profile:      profile,
		QualityScore: p.ScoreProfile(profile),
		Embedding:    vec,
		Text:         normalized,
		ParsedAt:     time.Now(),
	}
	span.SetAttributes(
		attribute.String("candidate.id", out.CandidateID),
		attribute.Int("candidate.quality_score", out.QualityScore),
		attribute.Bool("embedding.fallback", vec.Fallback),
	)
	span.SetAttributes(tracing.ProfileAttributes(profile)...)
	p.logger.Info().
		Str("candidate_id", out.CandidateID).
		Str("source", profile.Source).
		Int("quality", out.QualityScore).
		Bool("embedding_fallback", vec.Fallback).
		Msg("简历处理完成")
	return out, nil
}

// CandidateID 规整后文本的 UUIDv5
func CandidateID(normalizedText string) string {
	return uuid.NewV5(candidateNamespace, normalizedText).String()
}

// Chat 招聘需求对话
func (p *Pipeline) Chat(ctx context.Context, sessionID string, turns []types.ChatMessage, extract bool) (*requirements.ChatReply, error) {
	return p.comps.Requirements.Chat(ctx, sessionID, turns, extract)
}

// ExtractRequirements 从完整对话中抽取搜索需求
func (p *Pipeline) ExtractRequirements(ctx context.Context, turns []types.ChatMessage) (*types.SearchRequirements, error) {
	return p.comps.Requirements.Extract(ctx, turns)
}

// SearchCandidates 对候选池打分排序。
// pool 为 nil 表示由流水线从候选人存储加载候选池并使用搜索结果缓存，未配置存储时返回 InvalidInputError；
// 非 nil 的空切片是调用方给定的空候选池，返回空结果和放宽条件的建议。
func (p *Pipeline) SearchCandidates(ctx context.Context, req *types.SearchRequirements, pool []types.Candidate) (*types.SearchResult, error) {
	ctx, span := tracing.Tracer().Start(ctx, "pipeline.SearchCandidates",
		trace.WithAttributes(attribute.Bool("search.pool_provided", pool != nil)))
	defer span.End()

	if req == nil {
		req = &types.SearchRequirements{}
	}
	if pool != nil {
		return p.comps.Matcher.Match(ctx, pool, req), nil
	}
	if p.comps.Candidates == nil {
		err := errs.NewInvalidInputError("search", "未提供候选池，且未配置候选人存储")
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return nil, err
	}

	key, cacheable := p.searchKey(req)
	if cacheable && p.comps.Cache != nil && p.cacheTTL > 0 {
		cached, err := p.comps.Cache.GetSearchResult(ctx, key)
		if err != nil {
			p.logger.Warn().Err(err).Msg("读取搜索缓存失败")
		} else if cached != nil {
			span.SetAttributes(attribute.Bool("search.cache_hit", true))
			return cached, nil
		}
	}

	loaded, err := p.loadPool(ctx, req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			tracing.RecordError(span, ctxErr, tracing.ErrorTypeTimeout)
			return nil, ctxErr
		}
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return nil, fmt.Errorf("加载候选池失败: %w", err)
	}
	result := p.comps.Matcher.Match(ctx, loaded, req)

	if cacheable && p.comps.Cache != nil && p.cacheTTL > 0 {
		if err := p.comps.Cache.SetSearchResult(ctx, key, result, p.cacheTTL); err != nil {
			p.logger.Warn().Err(err).Msg("写入搜索缓存失败")
		}
	}
	return result, nil
}

// searchKey 需求的 JSON 摘要作为缓存键
func (p *Pipeline) searchKey(req *types.SearchRequirements) (string, bool) {
	data, err := json.Marshal(req)
	if err != nil {
		return "", false
	}
	sum := sha256.Sum256(data)
	return fmt.Sprintf(constants.KeySearchResult, hex.EncodeToString(sum[:])), true
}

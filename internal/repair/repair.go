// Package repair 重新处理画像或向量来自回退的候选人。
// 补全服务或向量服务恢复后运行，结果覆盖原记录。
package repair

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"resume-match-go/internal/embedding"
	"resume-match-go/internal/logger"
	"resume-match-go/internal/pipeline"
	"resume-match-go/internal/storage"
	"resume-match-go/internal/storage/models"
	"resume-match-go/internal/types"
)

// Store 候选人存储
type Store interface {
	ListCandidates(ctx context.Context, f storage.CandidateFilter) ([]models.CandidateRecord, error)
	SaveCandidate(ctx context.Context, rec *models.CandidateRecord) error
}

// TextStore 规整文本归档
type TextStore interface {
	GetText(ctx context.Context, objectName string) (string, error)
}

// Processor 简历处理
type Processor interface {
	Process(ctx context.Context, text string) (*pipeline.ProcessedResume, error)
	EmbedProfile(ctx context.Context, profile *types.StructuredProfile) (embedding.Vector, error)
}

// Report 一次修复的统计
type Report struct {
	Scanned    int `json:"scanned"`
	Reparsed   int `json:"reparsed"`
	Reembedded int `json:"reembedded"`
	// StillFallback 重新处理后仍为回退结果的记录数
	StillFallback int `json:"stillFallback"`
	Failed        int `json:"failed"`
}

// Repairer 批量修复器
type Repairer struct {
	store       Store
	texts       TextStore
	proc        Processor
	concurrency int
	batchSize   int
	logger      zerolog.Logger
}

// Option 配置项
type Option func(*Repairer)

// WithConcurrency 并发数
func WithConcurrency(n int) Option {
	return func(r *Repairer) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithBatchSize 每批读取的记录数
func WithBatchSize(n int) Option {
	return func(r *Repairer) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// New 创建修复器，texts 为空时只能重新生成向量
func New(store Store, texts TextStore, proc Processor, opts ...Option) (*Repairer, error) {
	if store == nil || proc == nil {
		return nil, errors.New("repair: store and processor are required")
	}
	r := &Repairer{
		store:       store,
		texts:       texts,
		proc:        proc,
		concurrency: 5,
		batchSize:   20,
		logger:      logger.Named("repair"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run 修复最多 limit 条记录（limit<=0 表示全部）。
// 先分页收集待修复记录再处理，修复后的记录离开结果集不会让分页漂移。
// 单条失败只计数；ctx 取消时停止并返回已完成部分的统计。
func (r *Repairer) Run(ctx context.Context, limit int) (Report, error) {
	recs, err := r.collect(ctx, limit)
	if err != nil {
		return Report{}, err
	}

	var (
		reparsed, reembedded, stillFallback, failed atomic.Int64
		wg                                          sync.WaitGroup
	)
	sem := make(chan struct{}, r.concurrency)
	report := Report{Scanned: len(recs)}
	for i := range recs {
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			wg.Wait()
			return fill(report, &reparsed, &reembedded, &stillFallback, &failed), ctx.Err()
		}
		rec := &recs[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			kind, fallback, err := r.repairOne(ctx, rec)
			if err != nil {
				failed.Add(1)
				r.logger.Warn().Err(err).Str("candidate_id", rec.CandidateID).Msg("修复候选人失败")
				return
			}
			if kind == kindReparse {
				reparsed.Add(1)
			} else {
				reembedded.Add(1)
			}
			if fallback {
				stillFallback.Add(1)
			}
		}()
	}
	wg.Wait()

	report = fill(report, &reparsed, &reembedded, &stillFallback, &failed)
	r.logger.Info().
		Int("scanned", report.Scanned).
		Int("reparsed", report.Reparsed).
		Int("reembedded", report.Reembedded).
		Int("still_fallback", report.StillFallback).
		Int("failed", report.Failed).
		Msg("候选人修复完成")
	return report, nil
}

func (r *Repairer) collect(ctx context.Context, limit int) ([]models.CandidateRecord, error) {
	var out []models.CandidateRecord
	for offset := 0; ; offset += r.batchSize {
		recs, err := r.store.ListCandidates(ctx, storage.CandidateFilter{NeedsRepair: true, Limit: r.batchSize, Offset: offset})
		if err != nil {
			return nil, fmt.Errorf("查询待修复候选人失败: %w", err)
		}
		out = append(out, recs...)
		if limit > 0 && len(out) >= limit {
			return out[:limit], nil
		}
		if len(recs) < r.batchSize {
			return out, nil
		}
	}
}

func fill(rep Report, reparsed, reembedded, still, failed *atomic.Int64) Report {
	rep.Reparsed = int(reparsed.Load())
	rep.Reembedded = int(reembedded.Load())
	rep.StillFallback = int(still.Load())
	rep.Failed = int(failed.Load())
	return rep
}

const (
	kindReparse = "reparse"
	kindReembed = "reembed"
)

// repairOne 有归档文本且画像来自回退时重新解析，否则只重新生成向量
func (r *Repairer) repairOne(ctx context.Context, rec *models.CandidateRecord) (string, bool, error) {
	if rec.ProfileSource == types.SourceFallback && rec.TextObject != "" && r.texts != nil {
		fallback, err := r.reparse(ctx, rec)
		return kindReparse, fallback, err
	}
	fallback, err := r.reembed(ctx, rec)
	return kindReembed, fallback, err
}

func (r *Repairer) reparse(ctx context.Context, rec *models.CandidateRecord) (bool, error) {
	text, err := r.texts.GetText(ctx, rec.TextObject)
	if err != nil {
		return false, fmt.Errorf("读取归档文本失败: %w", err)
	}
	res, err := r.proc.Process(ctx, text)
	if err != nil {
		return false, err
	}
	next, err := storage.NewCandidateRecord(storage.CandidateInput{
		CandidateID:       rec.CandidateID,
		Profile:           res.Profile,
		QualityScore:      res.QualityScore,
		MarketValue:       rec.MarketValue,
		Embedding:         res.Embedding.Values,
		EmbeddingModel:    res.Embedding.Model,
		EmbeddingFallback: res.Embedding.Fallback,
		SourceObject:      rec.SourceObject,
		TextObject:        rec.TextObject,
		ParsedAt:          res.ParsedAt,
	})
	if err != nil {
		return false, err
	}
	next.CreatedAt = rec.CreatedAt
	if err := r.store.SaveCandidate(ctx, next); err != nil {
		return false, err
	}
	return res.Profile.IsFallback() || res.Embedding.Fallback, nil
}

func (r *Repairer) reembed(ctx context.Context, rec *models.CandidateRecord) (bool, error) {
	cand, err := storage.ToCandidate(rec)
	if err != nil {
		return false, err
	}
	vec, err := r.proc.EmbedProfile(ctx, cand.Profile)
	if err != nil {
		return false, err
	}
	next, err := storage.NewCandidateRecord(storage.CandidateInput{
		CandidateID:       rec.CandidateID,
		Profile:           cand.Profile,
		QualityScore:      rec.QualityScore,
		MarketValue:       rec.MarketValue,
		Embedding:         vec.Values,
		EmbeddingModel:    vec.Model,
		EmbeddingFallback: vec.Fallback,
		SourceObject:      rec.SourceObject,
		TextObject:        rec.TextObject,
		ParsedAt:          rec.ParsedAt,
	})
	if err != nil {
		return false, err
	}
	next.CreatedAt = rec.CreatedAt
	next.UpdatedAt = time.Now()
	if err := r.store.SaveCandidate(ctx, next); err != nil {
		return false, err
	}
	return cand.Profile.IsFallback() || vec.Fallback, nil
}

package pipeline

import (
	"context"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"resume-match-go/internal/embedding"
	"resume-match-go/internal/tracing"
	"resume-match-go/internal/types"
)

const recallBatchSize = 500

// loadPool 从存储加载候选池。候选人总数不超过上限时全部参与评分；
// 超过上限时用需求向量召回最相似的 poolLimit 个候选人。
func (p *Pipeline) loadPool(ctx context.Context, req *types.SearchRequirements) ([]types.Candidate, error) {
	src := p.comps.Candidates
	total, err := src.CountCandidates(ctx)
	if err != nil {
		return nil, err
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int64("search.store_total", total))
	if total <= int64(p.poolLimit) {
		return src.LoadCandidates(ctx, p.poolLimit)
	}

	ids, err := p.recall(ctx, req)
	if err != nil {
		return nil, err
	}
	return src.LoadCandidatesByID(ctx, ids)
}

type recalled struct {
	id      string
	sim     float64
	quality int
}

// recall 按余弦相似度选出候选人 ID。只比较模型、维度和回退标记都与需求向量一致的画像向量；
// 不可比较的候选人按质量分补足剩余名额。
func (p *Pipeline) recall(ctx context.Context, req *types.SearchRequirements) ([]string, error) {
	ctx, span := tracing.Tracer().Start(ctx, "pipeline.recall")
	defer span.End()

	query, err := p.comps.Embeddings.EmbedQuery(ctx, req)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeTimeout)
		return nil, err
	}

	var similar, rest []recalled
	err = p.comps.Candidates.ScanCandidateVectors(ctx, recallBatchSize, func(batch []types.CandidateVector) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, v := range batch {
			if !sameSpace(query, v) {
				rest = append(rest, recalled{id: v.CandidateID, quality: v.QualityScore})
				continue
			}
			sim, err := embedding.CosineSimilarity(query.Values, v.Values)
			if err != nil {
				rest = append(rest, recalled{id: v.CandidateID, quality: v.QualityScore})
				continue
			}
			similar = append(similar, recalled{id: v.CandidateID, sim: sim, quality: v.QualityScore})
		}
		return nil
	})
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeDB)
		return nil, err
	}

	sort.Slice(similar, func(i, j int) bool {
		if similar[i].sim != similar[j].sim {
			return similar[i].sim > similar[j].sim
		}
		if similar[i].quality != similar[j].quality {
			return similar[i].quality > similar[j].quality
		}
		return similar[i].id < similar[j].id
	})
	sort.Slice(rest, func(i, j int) bool {
		if rest[i].quality != rest[j].quality {
			return rest[i].quality > rest[j].quality
		}
		return rest[i].id < rest[j].id
	})

	ids := make([]string, 0, p.poolLimit)
	for _, list := range [][]recalled{similar, rest} {
		for _, r := range list {
			if len(ids) == p.poolLimit {
				break
			}
			ids = append(ids, r.id)
		}
	}

	span.SetAttributes(
		attribute.String("search.query_model", query.Model),
		attribute.Bool("search.query_fallback", query.Fallback),
		attribute.Int("search.comparable", len(similar)),
		attribute.Int("search.recalled", len(ids)),
	)
	p.logger.Debug().
		Int("comparable", len(similar)).
		Int("incomparable", len(rest)).
		Int("recalled", len(ids)).
		Msg("按向量召回候选池")
	return ids, nil
}

// sameSpace 同一模型、同一维度且同为服务向量或同为回退向量时才可比较
func sameSpace(q embedding.Vector, v types.CandidateVector) bool {
	return len(v.Values) > 0 &&
		v.Model == q.Model &&
		v.Fallback == q.Fallback &&
		v.Dimensions == q.Dimensions &&
		len(v.Values) == q.Dimensions
}

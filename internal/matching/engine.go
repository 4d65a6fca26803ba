// Package matching 按加权多因子得分对候选人排序，并生成匹配理由与搜索洞察。
package matching

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"resume-match-go/internal/config"
	"resume-match-go/internal/logger"
	"resume-match-go/internal/skills"
	"resume-match-go/internal/tracing"
	"resume-match-go/internal/types"
)

// 需求某一维度为空时该维度的中性得分
const (
	neutralSkills     = 0.5
	neutralExperience = 1.0
	neutralLocation   = 1.0
)

// 地点得分
const (
	locationExact  = 1.0
	locationRemote = 0.8
	locationOther  = 0.3
)

// 超出年限区间后每多一年扣除的分数，最低不低于 overqualifiedFloor
const (
	overqualifiedStep  = 0.05
	overqualifiedFloor = 0.5
)

// Engine 候选人匹配引擎，创建后只读，可并发使用
type Engine struct {
	knowledge      *skills.Knowledge
	weights        config.MatchingWeights
	requiredShare  float64
	defaultMarket  float64
	largeThreshold int
	minScore       float64
	logger         zerolog.Logger
}

// Option 引擎配置项
type Option func(*Engine)

// WithConfig 使用配置中的权重与阈值，零值字段保留默认值
func WithConfig(cfg config.MatchingConfig) Option {
	return func(e *Engine) {
		if cfg.Weights.Sum() > 0 {
			e.weights = cfg.Weights
		}
		if cfg.RequiredSkillShare > 0 && cfg.RequiredSkillShare <= 1 {
			e.requiredShare = cfg.RequiredSkillShare
		}
		if cfg.DefaultMarketValue > 0 {
			e.defaultMarket = clamp01(cfg.DefaultMarketValue)
		}
		if cfg.LargeResultThreshold > 0 {
			e.largeThreshold = cfg.LargeResultThreshold
		}
		if cfg.MinScore > 0 {
			e.minScore = cfg.MinScore
		}
	}
}

// WithLogger 设置日志器
func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine 创建匹配引擎。knowledge 为 nil 时使用内置同义词表。
func NewEngine(knowledge *skills.Knowledge, opts ...Option) *Engine {
	if knowledge == nil {
		knowledge = skills.NewKnowledge(nil)
	}
	e := &Engine{
		knowledge:      knowledge,
		weights:        config.MatchingWeights{Skills: 0.6, Experience: 0.2, Location: 0.1, MarketValue: 0.1},
		requiredShare:  0.7,
		defaultMarket:  0.5,
		largeThreshold: 50,
		logger:         logger.Named("matching"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// query 规整后的需求
type query struct {
	required []string
	nice     []string
	min      *float64
	max      *float64
	location string
}

func (e *Engine) prepare(req *types.SearchRequirements) query {
	if req == nil {
		return query{}
	}
	return query{
		required: e.knowledge.Normalize(req.Skills),
		nice:     e.knowledge.Normalize(req.NiceToHaveSkills),
		min:      req.ExperienceYears.Min,
		max:      req.ExperienceYears.Max,
		location: strings.ToLower(strings.TrimSpace(req.Location)),
	}
}

// Match 计算每个候选人的得分，按得分降序返回；得分相同按质量分降序，再按更新时间从新到旧。
// 低于最低分的候选人不返回。候选池为空时返回空结果和"放宽条件"的建议。
func (e *Engine) Match(ctx context.Context, candidates []types.Candidate, req *types.SearchRequirements) *types.SearchResult {
	_, span := tracing.Tracer().Start(ctx, "matching.Match",
		trace.WithAttributes(attribute.Int("matching.pool_size", len(candidates))))
	defer span.End()

	q := e.prepare(req)
	scored := make([]rankedResult, 0, len(candidates))
	covered := make(map[string]bool)

	for _, c := range candidates {
		if c.Profile == nil {
			e.logger.Warn().Str("candidate_id", c.ID).Msg("候选人缺少画像，跳过")
			continue
		}
		r := e.score(c, q)
		for _, s := range r.MatchedSkills {
			covered[s] = true
		}
		if r.Score < e.minScore {
			continue
		}
		scored = append(scored, rankedResult{MatchResult: r, updatedAt: c.UpdatedAt})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.QualityScore != b.QualityScore {
			return a.QualityScore > b.QualityScore
		}
		if !a.updatedAt.Equal(b.updatedAt) {
			return a.updatedAt.After(b.updatedAt)
		}
		return a.CandidateID < b.CandidateID
	})

	results := make([]types.MatchResult, len(scored))
	for i := range scored {
		results[i] = scored[i].MatchResult
	}

	insights := e.insights(results, q, covered)
	span.SetAttributes(
		attribute.Int("matching.results", len(results)),
		attribute.Float64("matching.average_score", insights.AverageScore),
	)
	e.logger.Debug().
		Int("pool", len(candidates)).
		Int("results", len(results)).
		Float64("average", insights.AverageScore).
		Msg("候选人匹配完成")

	return &types.SearchResult{Results: results, Insights: insights}
}

// rankedResult 排序时附带候选人的更新时间
type rankedResult struct {
	types.MatchResult
	updatedAt time.Time
}

// score 单个候选人的加权得分
func (e *Engine) score(c types.Candidate, q query) types.MatchResult {
	p := c.Profile
	candSkills := e.knowledge.Normalize(p.AllSkills())

	matched, missing := overlap(q.required, candSkills)
	niceMatched, _ := overlap(q.nice, candSkills)

	b := types.ScoreBreakdown{
		Skills:      e.skillScore(len(matched), len(q.required), len(niceMatched), len(q.nice)),
		Experience:  experienceScore(p.Professional.TotalExperienceYears, q.min, q.max),
		Location:    locationScore(p.Personal.Location, q.location),
		MarketValue: e.marketValue(c.MarketValue),
	}

	w := e.weights
	total := w.Skills*b.Skills + w.Experience*b.Experience + w.Location*b.Location + w.MarketValue*b.MarketValue
	if sum := w.Sum(); sum > 0 {
		total /= sum
	}

	return types.MatchResult{
		CandidateID:   c.ID,
		Score:         round(clamp01(total)),
		Reasons:       reasons(c, q, b, matched, niceMatched),
		QualityScore:  c.QualityScore,
		Breakdown:     b,
		MatchedSkills: matched,
		MissingSkills: missing,
	}
}

// skillScore 必备技能命中率占 requiredShare，加分技能命中率占其余部分。
// 没有必备技能但有加分技能时，必备部分按中性分计算。
func (e *Engine) skillScore(matched, required, niceMatched, nice int) float64 {
	if required == 0 && nice == 0 {
		return neutralSkills
	}
	reqPart := neutralSkills
	if required > 0 {
		reqPart = float64(matched) / float64(required)
	}
	nicePart := 0.0
	if nice > 0 {
		nicePart = float64(niceMatched) / float64(nice)
	}
	return e.requiredShare*reqPart + (1-e.requiredShare)*nicePart
}

// experienceScore 区间内 1.0；低于下限按比例；高于上限每年扣 0.05，最低 0.5
func experienceScore(years float64, lo, hi *float64) float64 {
	if lo == nil && hi == nil {
		return neutralExperience
	}
	if lo != nil && years < *lo {
		if *lo <= 0 {
			return 1
		}
		return clamp01(years / *lo)
	}
	if hi != nil && years > *hi {
		return math.Max(overqualifiedFloor, 1-overqualifiedStep*(years-*hi))
	}
	return 1
}

// locationScore 包含关系视为一致；任一方为远程时 0.8
func locationScore(candidate, wanted string) float64 {
	if wanted == "" {
		return neutralLocation
	}
	candidate = strings.ToLower(strings.TrimSpace(candidate))
	if candidate != "" && (strings.Contains(candidate, wanted) || strings.Contains(wanted, candidate)) {
		return locationExact
	}
	if isRemote(candidate) || isRemote(wanted) {
		return locationRemote
	}
	return locationOther
}

var remoteMarkers = []string{"remote", "удал", "远程"}

func isRemote(location string) bool {
	for _, m := range remoteMarkers {
		if strings.Contains(location, m) {
			return true
		}
	}
	return false
}

func (e *Engine) marketValue(v *float64) float64 {
	if v == nil || math.IsNaN(*v) {
		return e.defaultMarket
	}
	return clamp01(*v)
}

// overlap 返回 wanted 中被候选人技能覆盖的项与未覆盖的项
func overlap(wanted, have []string) (matched, missing []string) {
	for _, w := range wanted {
		if covers(have, w) {
			matched = append(matched, w)
		} else {
			missing = append(missing, w)
		}
	}
	return matched, missing
}

// 被包含的一方少于该字符数时只在词边界上比较，避免 "go" 命中 "django"
const minSubstringRunes = 3

// covers 不区分大小写的双向包含，"sql" 可以命中 "postgresql"
func covers(have []string, want string) bool {
	w := words(want)
	for _, h := range have {
		hw := words(h)
		if contains(hw, w) || contains(w, hw) {
			return true
		}
	}
	return false
}

// contains 短词按词边界比较，其余按普通子串比较
func contains(s, sub string) bool {
	if strings.Contains(s, sub) {
		return true
	}
	core := strings.TrimSpace(sub)
	if utf8.RuneCountInString(core) < minSubstringRunes {
		return false
	}
	return strings.Contains(s, core)
}

var wordSeparators = strings.NewReplacer("-", " ", "_", " ", "/", " ", ",", " ")

// words 规整为 " a b " 形式，使 strings.Contains 只在词边界上命中
func words(s string) string {
	return " " + strings.Join(strings.Fields(wordSeparators.Replace(strings.ToLower(s))), " ") + " "
}

func clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

func round(v float64) float64 {
	return math.Round(v*10000) / 10000
}

package types

import (
	"strings"
	"time"
)

// 对话角色
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage 对话中的一轮消息
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ExperienceRange 期望工作年限区间，nil 表示不限
type ExperienceRange struct {
	Min *float64 `json:"min,omitempty"`
	Max *float64 `json:"max,omitempty"`
}

// IsZero 区间是否完全未指定
func (r ExperienceRange) IsZero() bool {
	return r.Min == nil && r.Max == nil
}

// SearchRequirements 招聘方的搜索需求，在多轮对话中逐步补全
type SearchRequirements struct {
	Position         string          `json:"position,omitempty"`
	Skills           []string        `json:"skills"`
	NiceToHaveSkills []string        `json:"niceToHaveSkills,omitempty"`
	ExperienceYears  ExperienceRange `json:"experienceYears"`
	Location         string          `json:"location,omitempty"`
	EducationLevel   string          `json:"educationLevel,omitempty"`
	SearchQuery      string          `json:"searchQuery"`
}

// Merge 用 next 中的非空字段补充当前需求。
// 已确认的字段不会被空值覆盖，技能列表按不区分大小写去重后合并。
func (r *SearchRequirements) Merge(next *SearchRequirements) {
	if next == nil {
		return
	}
	if strings.TrimSpace(next.Position) != "" {
		r.Position = strings.TrimSpace(next.Position)
	}
	r.Skills = unionFold(r.Skills, next.Skills)
	r.NiceToHaveSkills = unionFold(r.NiceToHaveSkills, next.NiceToHaveSkills)
	if next.ExperienceYears.Min != nil {
		r.ExperienceYears.Min = next.ExperienceYears.Min
	}
	if next.ExperienceYears.Max != nil {
		r.ExperienceYears.Max = next.ExperienceYears.Max
	}
	if strings.TrimSpace(next.Location) != "" {
		r.Location = strings.TrimSpace(next.Location)
	}
	if strings.TrimSpace(next.EducationLevel) != "" {
		r.EducationLevel = strings.TrimSpace(next.EducationLevel)
	}
	if strings.TrimSpace(next.SearchQuery) != "" {
		r.SearchQuery = strings.TrimSpace(next.SearchQuery)
	}
}

func unionFold(base, extra []string) []string {
	seen := make(map[string]struct{}, len(base)+len(extra))
	var out []string
	for _, list := range [][]string{base, extra} {
		for _, s := range list {
			s = strings.TrimSpace(s)
			key := strings.ToLower(s)
			if s == "" {
				continue
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

// Candidate 参与匹配的候选人记录
type Candidate struct {
	ID           string             `json:"id"`
	Profile      *StructuredProfile `json:"profile"`
	QualityScore int                `json:"qualityScore"`
	// MarketValue 市场价值信号 [0,1]，nil 表示未知
	MarketValue *float64  `json:"marketValue,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// CandidateVector 候选人画像向量及其来源，用于召回候选池
type CandidateVector struct {
	CandidateID  string
	QualityScore int
	Values       []float64
	Model        string
	Dimensions   int
	Fallback     bool
}

// ScoreBreakdown 各维度得分（各自 0~1，未加权）
type ScoreBreakdown struct {
	Skills      float64 `json:"skills"`
	Experience  float64 `json:"experience"`
	Location    float64 `json:"location"`
	MarketValue float64 `json:"marketValue"`
}

// MatchResult 单个候选人的匹配结果，按查询即时计算，不作为权威数据持久化
type MatchResult struct {
	CandidateID   string         `json:"candidateId"`
	Score         float64        `json:"score"`
	Reasons       []string       `json:"reasons"`
	QualityScore  int            `json:"qualityScore"`
	Breakdown     ScoreBreakdown `json:"breakdown"`
	MatchedSkills []string       `json:"matchedSkills,omitempty"`
	MissingSkills []string       `json:"missingSkills,omitempty"`
}

// SearchInsights 本次搜索的汇总洞察
type SearchInsights struct {
	TotalCandidates int      `json:"totalCandidates"`
	AverageScore    float64  `json:"averageScore"`
	SkillGaps       []string `json:"skillGaps"`
	Recommendations []string `json:"recommendations"`
}

// SearchResult 匹配结果与洞察
type SearchResult struct {
	Results  []MatchResult  `json:"results"`
	Insights SearchInsights `json:"insights"`
}

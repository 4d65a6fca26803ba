// Package quality 计算画像完整度评分（0-100），纯函数，不做任何 I/O。
package quality

import (
	"strings"

	"resume-match-go/internal/types"
)

// 各项分值
const (
	contactPoints       = 5
	professionalPoints  = 10
	experiencePoints    = 10
	multiExpPoints      = 10
	achievementPoints   = 10
	educationPoints     = 10
	languagePoints      = 5
	certOrProjectPoints = 5

	MaxScore = 100
)

// Breakdown 分项得分
type Breakdown struct {
	Contact      int `json:"contact"`
	Professional int `json:"professional"`
	Experience   int `json:"experience"`
	Education    int `json:"education"`
	Languages    int `json:"languages"`
	Additional   int `json:"additional"`
	Total        int `json:"total"`
}

// Score 返回画像的完整度评分
func Score(p *types.StructuredProfile) int {
	return Explain(p).Total
}

// Explain 返回分项得分，Total 已截断到 [0, 100]
func Explain(p *types.StructuredProfile) Breakdown {
	var b Breakdown
	if p == nil {
		return b
	}

	for _, v := range []string{p.Personal.FullName, p.Personal.Email, p.Personal.Phone, p.Personal.Location} {
		if present(v) {
			b.Contact += contactPoints
		}
	}

	if present(p.Professional.Title) {
		b.Professional += professionalPoints
	}
	if present(p.Professional.Summary) {
		b.Professional += professionalPoints
	}
	if len(p.AllSkills()) > 0 {
		b.Professional += professionalPoints
	}

	if len(p.Experience) > 0 {
		b.Experience += experiencePoints
		if len(p.Experience) >= 2 {
			b.Experience += multiExpPoints
		}
		for _, e := range p.Experience {
			if len(e.Achievements) > 0 {
				b.Experience += achievementPoints
				break
			}
		}
	}

	if len(p.Education) > 0 {
		b.Education = educationPoints
	}
	if len(p.Languages) > 0 {
		b.Languages = languagePoints
	}
	if len(p.Additional.Certifications) > 0 || len(p.Additional.Projects) > 0 {
		b.Additional = certOrProjectPoints
	}

	total := b.Contact + b.Professional + b.Experience + b.Education + b.Languages + b.Additional
	b.Total = min(max(total, 0), MaxScore)
	return b
}

func present(s string) bool {
	return strings.TrimSpace(s) != ""
}

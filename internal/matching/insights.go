package matching

import (
	"fmt"
	"strings"

	"resume-match-go/internal/types"
)

// 生成理由的阈值
const (
	highMarketValue  = 0.8
	highQualityScore = 80
	lowAverageScore  = 0.4
)

// reasons 生成人类可读的匹配理由，只用于展示，不参与打分
func reasons(c types.Candidate, q query, b types.ScoreBreakdown, matched, niceMatched []string) []string {
	var out []string
	p := c.Profile

	if len(q.required) > 0 {
		if len(matched) > 0 {
			out = append(out, fmt.Sprintf("Matches %d of %d required skills: %s",
				len(matched), len(q.required), strings.Join(matched, ", ")))
		} else {
			out = append(out, "None of the required skills found")
		}
	}
	if len(niceMatched) > 0 {
		out = append(out, "Nice-to-have skills: "+strings.Join(niceMatched, ", "))
	}

	if years := p.Professional.TotalExperienceYears; years > 0 {
		switch {
		case q.min == nil && q.max == nil:
			out = append(out, fmt.Sprintf("%s of experience", formatYears(years)))
		case b.Experience >= 1:
			out = append(out, fmt.Sprintf("%s of experience, within the requested range", formatYears(years)))
		case q.min != nil && years < *q.min:
			out = append(out, fmt.Sprintf("%s of experience, below the requested %s", formatYears(years), formatYears(*q.min)))
		default:
			out = append(out, fmt.Sprintf("%s of experience, above the requested range", formatYears(years)))
		}
	}

	if q.location != "" {
		switch b.Location {
		case locationExact:
			out = append(out, "Location matches: "+p.Personal.Location)
		case locationRemote:
			out = append(out, "Remote work is compatible with the requested location")
		}
	}

	if c.MarketValue != nil && b.MarketValue >= highMarketValue {
		out = append(out, "High market value")
	}
	if c.QualityScore >= highQualityScore {
		out = append(out, fmt.Sprintf("Detailed profile (quality %d/100)", c.QualityScore))
	}
	return out
}

func formatYears(y float64) string {
	if y == 1 {
		return "1 year"
	}
	if y == float64(int(y)) {
		return fmt.Sprintf("%d years", int(y))
	}
	return fmt.Sprintf("%.1f years", y)
}

// insights 汇总本次搜索：数量、平均分、无人具备的必备技能与建议
func (e *Engine) insights(results []types.MatchResult, q query, covered map[string]bool) types.SearchInsights {
	in := types.SearchInsights{TotalCandidates: len(results)}
	if len(results) > 0 {
		var sum float64
		for _, r := range results {
			sum += r.Score
		}
		in.AverageScore = round(sum / float64(len(results)))
	}

	for _, s := range q.required {
		if !covered[s] {
			in.SkillGaps = append(in.SkillGaps, s)
		}
	}

	switch {
	case len(results) == 0:
		in.Recommendations = append(in.Recommendations,
			"No candidates matched. Broaden criteria: relax required skills, widen the experience range or allow remote work.")
	case len(results) > e.largeThreshold:
		in.Recommendations = append(in.Recommendations,
			fmt.Sprintf("%d candidates matched. Add specificity: more required skills, a narrower experience range or a location.", len(results)))
	}
	if len(in.SkillGaps) > 0 && len(results) > 0 {
		in.Recommendations = append(in.Recommendations,
			"No candidate has "+strings.Join(in.SkillGaps, ", ")+". Consider moving it to nice-to-have skills.")
	}
	if len(results) > 0 && in.AverageScore < lowAverageScore {
		in.Recommendations = append(in.Recommendations,
			"Average match is low. Review whether all required skills are essential.")
	}
	return in
}

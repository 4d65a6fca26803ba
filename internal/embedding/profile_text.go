package embedding

import (
	"strings"

	"resume-match-go/internal/types"
)

// ProfileText 把画像拼接为用于向量化的文本，字段顺序固定，保证同一画像得到相同文本
func ProfileText(p *types.StructuredProfile) string {
	if p == nil {
		return ""
	}
	var b strings.Builder
	line := func(label, value string) {
		value = strings.TrimSpace(value)
		if value == "" {
			return
		}
		b.WriteString(label)
		b.WriteString(": ")
		b.WriteString(value)
		b.WriteByte('\n')
	}

	line("Title", p.Professional.Title)
	line("Summary", p.Professional.Summary)
	line("Skills", strings.Join(p.AllSkills(), ", "))
	line("Location", p.Personal.Location)
	for _, e := range p.Experience {
		line("Experience", strings.TrimSpace(e.Position+" @ "+e.Company+". "+e.Description))
		if len(e.Achievements) > 0 {
			line("Achievements", strings.Join(e.Achievements, "; "))
		}
	}
	for _, e := range p.Education {
		line("Education", strings.Join(nonEmpty(e.Degree, e.Field, e.Institution), ", "))
	}
	if len(p.Additional.Certifications) > 0 {
		line("Certifications", strings.Join(p.Additional.Certifications, ", "))
	}
	if len(p.Additional.Projects) > 0 {
		line("Projects", strings.Join(p.Additional.Projects, "; "))
	}
	return strings.TrimSpace(b.String())
}

// QueryText 把搜索需求拼接为查询文本
func QueryText(r *types.SearchRequirements) string {
	if r == nil {
		return ""
	}
	parts := nonEmpty(r.SearchQuery, r.Position, strings.Join(r.Skills, ", "), strings.Join(r.NiceToHaveSkills, ", "), r.Location, r.EducationLevel)
	return strings.Join(parts, "\n")
}

func nonEmpty(values ...string) []string {
	var out []string
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

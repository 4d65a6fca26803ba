package types

import "strings"

// ProfileSource 标记画像由哪种方式产生
const (
	// SourceFallback 所有补全服务失败后由规则抽取得到的画像
	SourceFallback = "fallback"
)

// PersonalInfo 候选人个人信息
type PersonalInfo struct {
	FullName string `json:"fullName"`
	Email    string `json:"email,omitempty"`
	Phone    string `json:"phone,omitempty"`
	Location string `json:"location,omitempty"`
}

// SkillGroups 技能分组
type SkillGroups struct {
	Primary   []string `json:"primary,omitempty"`
	Secondary []string `json:"secondary,omitempty"`
	Tools     []string `json:"tools,omitempty"`
}

// ProfessionalInfo 职业概况
type ProfessionalInfo struct {
	Title                string      `json:"title,omitempty"`
	Summary              string      `json:"summary,omitempty"`
	TotalExperienceYears float64     `json:"totalExperienceYears"`
	Skills               SkillGroups `json:"skills"`
}

// Experience 工作经历
type Experience struct {
	Company      string   `json:"company"`
	Position     string   `json:"position"`
	StartDate    string   `json:"startDate,omitempty"`
	EndDate      string   `json:"endDate,omitempty"`
	Description  string   `json:"description,omitempty"`
	Achievements []string `json:"achievements,omitempty"`
}

// Education 教育经历
type Education struct {
	Institution string `json:"institution"`
	Degree      string `json:"degree,omitempty"`
	Field       string `json:"field,omitempty"`
	StartDate   string `json:"startDate,omitempty"`
	EndDate     string `json:"endDate,omitempty"`
}

// Language 语言能力
type Language struct {
	Name  string `json:"name"`
	Level string `json:"level,omitempty"`
}

// AdditionalInfo 证书、项目、出版物等补充信息
type AdditionalInfo struct {
	Certifications []string `json:"certifications,omitempty"`
	Projects       []string `json:"projects,omitempty"`
	Publications   []string `json:"publications,omitempty"`
}

// StructuredProfile 候选人结构化画像。
// 列表字段要么非空，要么为 nil（表示缺失），不会出现空切片。
// 画像创建后不做原地修改，重新解析会生成新的画像替换旧版本。
type StructuredProfile struct {
	Personal     PersonalInfo     `json:"personal"`
	Professional ProfessionalInfo `json:"professional"`
	Experience   []Experience     `json:"experience,omitempty"`
	Education    []Education      `json:"education,omitempty"`
	Languages    []Language       `json:"languages,omitempty"`
	Additional   AdditionalInfo   `json:"additional"`

	// Source 产生该画像的补全服务名称，或 SourceFallback
	Source string `json:"source,omitempty"`
}

// IsFallback 画像是否来自规则回退
func (p *StructuredProfile) IsFallback() bool {
	return p != nil && p.Source == SourceFallback
}

// AllSkills 返回全部技能（主技能、次要技能、工具），保持原顺序
func (p *StructuredProfile) AllSkills() []string {
	if p == nil {
		return nil
	}
	s := p.Professional.Skills
	out := make([]string, 0, len(s.Primary)+len(s.Secondary)+len(s.Tools))
	out = append(out, s.Primary...)
	out = append(out, s.Secondary...)
	out = append(out, s.Tools...)
	return out
}

// NormalizeAbsent 把所有空列表规整为 nil，并清理列表中的空白元素
func (p *StructuredProfile) NormalizeAbsent() {
	if p == nil {
		return
	}
	p.Professional.Skills.Primary = compactStrings(p.Professional.Skills.Primary)
	p.Professional.Skills.Secondary = compactStrings(p.Professional.Skills.Secondary)
	p.Professional.Skills.Tools = compactStrings(p.Professional.Skills.Tools)
	p.Additional.Certifications = compactStrings(p.Additional.Certifications)
	p.Additional.Projects = compactStrings(p.Additional.Projects)
	p.Additional.Publications = compactStrings(p.Additional.Publications)

	var exps []Experience
	for _, e := range p.Experience {
		e.Achievements = compactStrings(e.Achievements)
		if strings.TrimSpace(e.Company) == "" && strings.TrimSpace(e.Position) == "" && strings.TrimSpace(e.Description) == "" && e.Achievements == nil {
			continue
		}
		exps = append(exps, e)
	}
	p.Experience = exps

	var edus []Education
	for _, e := range p.Education {
		if strings.TrimSpace(e.Institution) == "" && strings.TrimSpace(e.Degree) == "" && strings.TrimSpace(e.Field) == "" {
			continue
		}
		edus = append(edus, e)
	}
	p.Education = edus

	var langs []Language
	for _, l := range p.Languages {
		if strings.TrimSpace(l.Name) == "" {
			continue
		}
		langs = append(langs, l)
	}
	p.Languages = langs
}

// compactStrings 去掉空白元素，结果为空时返回 nil
func compactStrings(in []string) []string {
	var out []string
	for _, s := range in {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

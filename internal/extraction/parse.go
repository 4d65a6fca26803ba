package extraction

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"resume-match-go/internal/llm"
	"resume-match-go/internal/types"
)

// wireProfile 补全服务返回的画像结构。字段类型严格，类型不符即视为解析失败。
type wireProfile struct {
	Personal *struct {
		FullName string `json:"fullName"`
		Email    string `json:"email"`
		Phone    string `json:"phone"`
		Location string `json:"location"`
	} `json:"personal"`
	Professional *struct {
		Title                string     `json:"title"`
		Summary              string     `json:"summary"`
		TotalExperienceYears flexFloat  `json:"totalExperienceYears"`
		Skills               wireSkills `json:"skills"`
	} `json:"professional"`
	Experience []types.Experience `json:"experience"`
	Education  []types.Education  `json:"education"`
	Languages  []types.Language   `json:"languages"`
	Additional struct {
		Certifications []string `json:"certifications"`
		Projects       []string `json:"projects"`
		Publications   []string `json:"publications"`
	} `json:"additional"`
}

// flexFloat 接受数字或数字字符串（"5"、"5+"、"3.5 years"）
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = 0
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*f = flexFloat(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("工作年限类型无效: %s", string(data))
	}
	s = strings.TrimSpace(s)
	if s == "" {
		*f = 0
		return nil
	}
	end := 0
	for end < len(s) && (s[end] >= '0' && s[end] <= '9' || s[end] == '.' || s[end] == ',') {
		end++
	}
	n, err := strconv.ParseFloat(strings.ReplaceAll(s[:end], ",", "."), 64)
	if err != nil {
		return fmt.Errorf("工作年限无法解析: %q", s)
	}
	*f = flexFloat(n)
	return nil
}

// wireSkills 技能分组；模型偶尔直接返回字符串数组，此时全部视为主技能
type wireSkills types.SkillGroups

func (w *wireSkills) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var list []string
		if err := json.Unmarshal(data, &list); err != nil {
			return err
		}
		*w = wireSkills{Primary: list}
		return nil
	}
	var g types.SkillGroups
	if err := json.Unmarshal(data, &g); err != nil {
		return err
	}
	*w = wireSkills(g)
	return nil
}

// ParseProfile 把补全服务的回复解析为结构化画像。
// 先去掉代码块标记，再截取 JSON 对象并按严格结构解码；空列表统一规整为缺失。
func ParseProfile(reply string) (*types.StructuredProfile, error) {
	raw := llm.ExtractJSONObject(reply)
	if raw == "" {
		return nil, fmt.Errorf("回复中没有 JSON 对象")
	}

	var w wireProfile
	dec := json.NewDecoder(strings.NewReader(raw))
	if err := dec.Decode(&w); err != nil {
		return nil, fmt.Errorf("解析画像JSON失败: %w", err)
	}
	if w.Personal == nil && w.Professional == nil && len(w.Experience) == 0 {
		return nil, fmt.Errorf("回复缺少 personal/professional/experience 字段")
	}

	p := &types.StructuredProfile{
		Experience: w.Experience,
		Education:  w.Education,
		Languages:  w.Languages,
		Additional: types.AdditionalInfo{
			Certifications: w.Additional.Certifications,
			Projects:       w.Additional.Projects,
			Publications:   w.Additional.Publications,
		},
	}
	if w.Personal != nil {
		p.Personal = types.PersonalInfo{
			FullName: strings.TrimSpace(w.Personal.FullName),
			Email:    strings.TrimSpace(w.Personal.Email),
			Phone:    strings.TrimSpace(w.Personal.Phone),
			Location: strings.TrimSpace(w.Personal.Location),
		}
	}
	if w.Professional != nil {
		years := float64(w.Professional.TotalExperienceYears)
		if years < 0 || math.IsNaN(years) || math.IsInf(years, 0) || years > maxPlausibleYears {
			return nil, fmt.Errorf("工作年限超出合理范围: %v", years)
		}
		p.Professional = types.ProfessionalInfo{
			Title:                strings.TrimSpace(w.Professional.Title),
			Summary:              strings.TrimSpace(w.Professional.Summary),
			TotalExperienceYears: years,
			Skills:               types.SkillGroups(w.Professional.Skills),
		}
	}
	p.NormalizeAbsent()
	return p, nil
}

// maxPlausibleYears 超过该值的工作年限视为模型输出错误
const maxPlausibleYears = 70

// IsSufficient 画像是否满足最低充分性要求：
// 联系方式、职位或技能、任一工作经历，三者至少有其一。
func IsSufficient(p *types.StructuredProfile) bool {
	if p == nil {
		return false
	}
	if p.Personal.Email != "" || p.Personal.Phone != "" {
		return true
	}
	if p.Professional.Title != "" || len(p.AllSkills()) > 0 {
		return true
	}
	return len(p.Experience) > 0
}

// Package requirements 从招聘方的多轮对话中整理搜索需求：
// 先用规则逐轮提取部分需求并决定下一个追问，需要时再调用补全服务一次性抽取完整需求。
package requirements

import (
	"regexp"
	"strconv"
	"strings"

	"resume-match-go/internal/skills"
	"resume-match-go/internal/types"
)

const yearWord = `\s*\+?\s*(?:years?|yrs?|лет|года?|год|年)`

var (
	// "senior python developer"、"data scientist"
	positionEnRe = regexp.MustCompile(`(?i)\b((?:senior|junior|middle|mid-level|lead|principal|staff|head of)\s+)?((?:[a-z][a-z0-9+#.\-]*\s+){0,2})(developer|engineer|programmer|architect|analyst|designer|scientist|manager|tester|administrator|devops)s?\b`)
	positionRuRe = regexp.MustCompile(`(?i)((?:[а-яёa-z][а-яёa-z0-9+#.\-]*\s+){0,2})(разработчик|программист|инженер|аналитик|дизайнер|тестировщик|архитектор|менеджер|администратор)[а-яё]*`)
	positionZhRe = regexp.MustCompile(`[\p{Han}A-Za-z+#]{0,4}(工程师|架构师|产品经理|项目经理|分析师|设计师|测试)`)

	expRangeRe = regexp.MustCompile(`(?i)(?:^|[^\d])(\d{1,2})\s*(?:-|–|—|to|до|~)\s*(\d{1,2})` + yearWord)
	expMinRe   = regexp.MustCompile(`(?i)(?:at least|minimum|min\.?|more than|over|от|не менее|более|больше)\s*(\d{1,2})` + yearWord)
	expPlusRe  = regexp.MustCompile(`(?i)(?:^|[^\d])(\d{1,2})\s*\+\s*(?:years?|yrs?|лет|года?|год|年)|(\d{1,2})\s*年以上`)
	expMaxRe   = regexp.MustCompile(`(?i)(?:up to|less than|under|no more than|до|не более|менее)\s*(\d{1,2})` + yearWord + `|(\d{1,2})\s*年以下`)
	expPlainRe = regexp.MustCompile(`(?i)(?:^|[^\d.,])(\d{1,2})` + yearWord)
)

// 英文职位前的虚词，抽取后去掉
var positionStopWords = map[string]bool{
	"a": true, "an": true, "the": true, "for": true, "need": true, "needs": true, "hire": true,
	"hiring": true, "looking": true, "seeking": true, "we": true, "our": true, "new": true, "one": true,
	"two": true, "some": true, "to": true, "as": true, "is": true, "are": true, "и": true, "нужен": true,
	"нужна": true, "ищем": true, "требуется": true,
}

// 城市与远程关键词：词条 -> 规范名
var locationTerms = map[string]string{
	"remote": "remote", "remotely": "remote", "fully remote": "remote", "удаленно": "remote", "удалённо": "remote",
	"удаленка": "remote", "удалёнка": "remote", "远程": "remote",
	"moscow": "Moscow", "москва": "Moscow", "москве": "Moscow", "москву": "Moscow", "мск": "Moscow",
	"saint petersburg": "Saint Petersburg", "st. petersburg": "Saint Petersburg", "санкт-петербург": "Saint Petersburg",
	"санкт-петербурге": "Saint Petersburg", "спб": "Saint Petersburg", "питер": "Saint Petersburg", "питере": "Saint Petersburg",
	"novosibirsk": "Novosibirsk", "новосибирск": "Novosibirsk", "новосибирске": "Novosibirsk",
	"kazan": "Kazan", "казань": "Kazan", "казани": "Kazan",
	"almaty": "Almaty", "алматы": "Almaty", "minsk": "Minsk", "минск": "Minsk", "минске": "Minsk",
	"berlin": "Berlin", "london": "London", "paris": "Paris", "amsterdam": "Amsterdam", "warsaw": "Warsaw",
	"new york": "New York", "san francisco": "San Francisco", "seattle": "Seattle", "singapore": "Singapore",
	"dubai": "Dubai", "tbilisi": "Tbilisi", "belgrade": "Belgrade",
	"beijing": "Beijing", "北京": "Beijing", "shanghai": "Shanghai", "上海": "Shanghai",
	"shenzhen": "Shenzhen", "深圳": "Shenzhen", "hangzhou": "Hangzhou", "杭州": "Hangzhou",
	"guangzhou": "Guangzhou", "广州": "Guangzhou", "chengdu": "Chengdu", "成都": "Chengdu",
}

// 学历关键词：词条 -> 规范学历
var educationTerms = map[string]string{
	"phd": "phd", "ph.d": "phd", "ph.d.": "phd", "doctorate": "phd", "кандидат наук": "phd", "博士": "phd",
	"master's": "master", "masters": "master", "master degree": "master", "msc": "master", "m.sc": "master",
	"магистр": "master", "магистратура": "master", "硕士": "master", "研究生": "master",
	"bachelor": "bachelor", "bachelor's": "bachelor", "bsc": "bachelor", "b.sc": "bachelor", "бакалавр": "bachelor",
	"本科": "bachelor", "学士": "bachelor",
	"higher education": "higher", "university degree": "higher", "высшее": "higher", "высшее образование": "higher",
	"大专": "college",
}

var (
	locationIndex  = skills.NewTermIndex(locationTerms)
	educationIndex = skills.NewTermIndex(educationTerms)
	builtinSkills  = skills.NewKnowledge(nil)
)

// maxQueryRunes 搜索语句的最大长度
const maxQueryRunes = 500

// Analyze 用规则扫描所有用户轮次，得到部分需求。只用于决定下一个追问。
func Analyze(turns []types.ChatMessage) *types.SearchRequirements {
	return AnalyzeWith(turns, builtinSkills)
}

// AnalyzeWith 与 Analyze 相同，使用给定的技能知识表
func AnalyzeWith(turns []types.ChatMessage, k *skills.Knowledge) *types.SearchRequirements {
	if k == nil {
		k = builtinSkills
	}
	req := &types.SearchRequirements{}
	var userTexts []string
	for _, t := range turns {
		if t.Role != types.RoleUser {
			continue
		}
		text := strings.TrimSpace(t.Content)
		if text == "" {
			continue
		}
		userTexts = append(userTexts, text)
		req.Merge(analyzeTurn(text, k))
	}
	req.Skills = k.Normalize(req.Skills)
	req.SearchQuery = truncate(strings.Join(userTexts, " "), maxQueryRunes)
	return req
}

// analyzeTurn 单轮用户消息的规则提取
func analyzeTurn(text string, k *skills.Knowledge) *types.SearchRequirements {
	r := &types.SearchRequirements{}

	var qualifier string
	r.Position, qualifier = findPosition(text)
	r.Skills = k.FindInText(text)
	// "go developer" 中的 go 在自由文本里有歧义，职位中出现时才当作技能
	if qualifier != "" && k.Known(qualifier) {
		r.Skills = append([]string{k.Canonical(qualifier)}, r.Skills...)
	}

	r.ExperienceYears = findExperience(text)
	if loc := locationIndex.Find(text); len(loc) > 0 {
		r.Location = loc[0]
	}
	if edu := educationIndex.Find(text); len(edu) > 0 {
		r.EducationLevel = edu[0]
	}
	return r
}

// findPosition 返回职位以及职位中的技术限定词（如 "python developer" 中的 python）
func findPosition(text string) (string, string) {
	if m := positionEnRe.FindStringSubmatch(text); m != nil {
		words := strings.Fields(m[2])
		for len(words) > 0 && positionStopWords[strings.ToLower(words[0])] {
			words = words[1:]
		}
		parts := append([]string{}, strings.Fields(m[1])...)
		parts = append(parts, words...)
		parts = append(parts, m[3])
		qualifier := ""
		if len(words) > 0 {
			qualifier = strings.ToLower(words[len(words)-1])
		}
		return strings.ToLower(strings.Join(parts, " ")), qualifier
	}
	if m := positionRuRe.FindStringSubmatch(text); m != nil {
		words := strings.Fields(m[1])
		for len(words) > 0 && positionStopWords[strings.ToLower(words[0])] {
			words = words[1:]
		}
		qualifier := ""
		if len(words) > 0 {
			qualifier = strings.ToLower(words[len(words)-1])
		}
		return strings.ToLower(strings.TrimSpace(strings.Join(append(words, m[2]), " "))), qualifier
	}
	if m := positionZhRe.FindString(text); m != "" {
		return m, ""
	}
	return "", ""
}

// findExperience 识别 "3-5 years"、"at least 3 years"、"3+ лет"、"up to 5 years"、"5年以上" 等写法
func findExperience(text string) types.ExperienceRange {
	var r types.ExperienceRange
	if m := expRangeRe.FindStringSubmatch(text); m != nil {
		lo, hi := atof(m[1]), atof(m[2])
		if lo > hi {
			lo, hi = hi, lo
		}
		r.Min, r.Max = &lo, &hi
		return r
	}
	if m := expMinRe.FindStringSubmatch(text); m != nil {
		v := atof(m[1])
		r.Min = &v
	} else if m := expPlusRe.FindStringSubmatch(text); m != nil {
		v := atof(firstNonEmpty(m[1:]...))
		r.Min = &v
	}
	if m := expMaxRe.FindStringSubmatch(text); m != nil {
		v := atof(firstNonEmpty(m[1:]...))
		r.Max = &v
	}
	if r.IsZero() {
		if m := expPlainRe.FindStringSubmatch(text); m != nil {
			v := atof(m[1])
			r.Min = &v
		}
	}
	return r
}

func atof(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

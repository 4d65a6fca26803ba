package extraction

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"resume-match-go/internal/skills"
	"resume-match-go/internal/textnorm"
	"resume-match-go/internal/types"
)

var (
	emailRe = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	// 国际区号、括号区号、单个分隔符连接的数字
	phoneRe = regexp.MustCompile(`(?:\+\d{1,3}[\s.\-]?)?(?:\(\d{2,4}\)[\s.\-]?)?\d(?:[\s.\-]?\d){5,13}`)
	// 前面不能紧跟数字，避免把 "2019年" 识别为 19 年
	yearsRe = regexp.MustCompile(`(?i)(?:^|[^\d.,])(\d{1,2}(?:[.,]\d)?)\s*\+?\s*(?:years?|yrs?|лет|года?|год|年)`)
	// 年份开头的数字串是日期区间，不是电话
	dateLeadRe = regexp.MustCompile(`^(?:19|20)\d{2}(?:\D|$)`)
)

// 常见的标题行，不作为姓名
var headerLines = map[string]bool{
	"resume": true, "cv": true, "curriculum vitae": true, "резюме": true, "简历": true, "个人简历": true,
}

// 职位关键词，用于猜测职位行
var titleKeywords = []string{
	"engineer", "developer", "programmer", "architect", "manager", "analyst", "designer",
	"scientist", "consultant", "administrator", "tester", "team lead", "tech lead", "devops", "specialist",
	"разработчик", "инженер", "программист", "аналитик", "менеджер", "дизайнер", "тестировщик",
	"工程师", "经理", "架构师", "分析师", "设计师",
}

const maxTitleRunes = 80

// Fallback 所有补全服务都失败时，用规则从原文合成画像。该路径不会失败。
func Fallback(text string) *types.StructuredProfile {
	return fallbackWithTerms(text, defaultTerms)
}

var defaultTerms = skills.NewTermIndex(skills.FreeTextTerms())

func fallbackWithTerms(text string, terms *skills.TermIndex) *types.StructuredProfile {
	text = textnorm.Normalize(text)
	p := &types.StructuredProfile{Source: types.SourceFallback}

	p.Personal.Email = emailRe.FindString(text)
	p.Personal.Phone = findPhone(text)
	p.Personal.FullName = guessName(text)
	p.Professional.Title = guessTitle(text)
	p.Professional.TotalExperienceYears = maxYears(text)
	p.Professional.Skills.Primary = terms.Find(text)

	p.NormalizeAbsent()
	return p
}

// findPhone 返回第一个像电话号码的数字串（7-15 位数字，且不是日期区间）
func findPhone(text string) string {
	scrubbed := emailRe.ReplaceAllStringFunc(text, func(s string) string {
		return strings.Repeat(" ", len(s))
	})
	for _, c := range phoneRe.FindAllString(scrubbed, -1) {
		c = strings.TrimSpace(c)
		digits := 0
		for _, r := range c {
			if r >= '0' && r <= '9' {
				digits++
			}
		}
		if digits < 7 || digits > 15 {
			continue
		}
		if dateLeadRe.MatchString(c) {
			continue
		}
		return c
	}
	return ""
}

// guessName 取第一个非空、非标题的行，截到邮箱、电话或数字之前，最多 4 个词
func guessName(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || headerLines[strings.ToLower(strings.Trim(line, " :"))] {
			continue
		}
		cut := len(line)
		if loc := emailRe.FindStringIndex(line); loc != nil && loc[0] < cut {
			cut = loc[0]
		}
		if i := strings.IndexFunc(line, func(r rune) bool { return unicode.IsDigit(r) || r == '+' || r == '|' || r == ',' }); i >= 0 && i < cut {
			cut = i
		}
		words := strings.Fields(strings.Trim(line[:cut], " -–—:;|,"))
		if len(words) > 4 {
			words = words[:4]
		}
		name := strings.Join(words, " ")
		if !strings.ContainsFunc(name, unicode.IsLetter) {
			return ""
		}
		return name
	}
	return ""
}

// guessTitle 取第一行包含职位关键词的短行
func guessTitle(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || utf8.RuneCountInString(line) > maxTitleRunes || emailRe.MatchString(line) {
			continue
		}
		lower := strings.ToLower(line)
		for _, kw := range titleKeywords {
			if strings.Contains(lower, kw) {
				return line
			}
		}
	}
	return ""
}

// maxYears 在 "N years / N лет / N年" 中取最大值
func maxYears(text string) float64 {
	best := 0.0
	for _, m := range yearsRe.FindAllStringSubmatch(text, -1) {
		v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64)
		if err != nil || v > maxPlausibleYears {
			continue
		}
		if v > best {
			best = v
		}
	}
	return best
}

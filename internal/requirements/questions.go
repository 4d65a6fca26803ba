package requirements

import (
	"strings"
	"unicode"

	"resume-match-go/internal/types"
)

// 需求字段，按追问优先级排列
const (
	FieldPosition   = "position"
	FieldSkills     = "skills"
	FieldExperience = "experience"
	FieldLocation   = "location"
	FieldEducation  = "education"
)

// fieldPriority 追问顺序：职位、技能、经验、地点、学历
var fieldPriority = []string{FieldPosition, FieldSkills, FieldExperience, FieldLocation, FieldEducation}

// Language 回复语言
type Language string

const (
	LangEnglish Language = "en"
	LangRussian Language = "ru"
	LangChinese Language = "zh"
)

var questions = map[Language]map[string]string{
	LangEnglish: {
		FieldPosition:   "What position are you hiring for?",
		FieldSkills:     "Which skills are required for this role?",
		FieldExperience: "How many years of experience should the candidate have?",
		FieldLocation:   "Where should the candidate be located, or is remote work fine?",
		FieldEducation:  "Is there a required education level?",
	},
	LangRussian: {
		FieldPosition:   "На какую позицию вы ищете кандидата?",
		FieldSkills:     "Какие навыки обязательны для этой позиции?",
		FieldExperience: "Сколько лет опыта должно быть у кандидата?",
		FieldLocation:   "В каком городе должен находиться кандидат, или подходит удалённая работа?",
		FieldEducation:  "Есть ли требования к образованию?",
	},
	LangChinese: {
		FieldPosition:   "请问您要招聘什么职位？",
		FieldSkills:     "这个职位需要哪些必备技能？",
		FieldExperience: "候选人需要几年工作经验？",
		FieldLocation:   "候选人需要在哪个城市，还是可以远程？",
		FieldEducation:  "对学历有要求吗？",
	},
}

var readyReplies = map[Language]string{
	LangEnglish: "I have enough information to search. Ask me to extract the requirements when you are ready.",
	LangRussian: "Информации достаточно для поиска. Попросите сформировать требования, когда будете готовы.",
	LangChinese: "信息已经足够，可以开始搜索。准备好后请让我整理搜索条件。",
}

var extractedReplies = map[Language]string{
	LangEnglish: "Here are the search requirements I extracted from our conversation.",
	LangRussian: "Вот требования к поиску, которые я собрал из нашего диалога.",
	LangChinese: "已根据对话整理出搜索条件。",
}

// MissingFields 按优先级返回尚未填写的字段
func MissingFields(r *types.SearchRequirements) []string {
	var missing []string
	for _, f := range fieldPriority {
		if !hasField(r, f) {
			missing = append(missing, f)
		}
	}
	return missing
}

func hasField(r *types.SearchRequirements, field string) bool {
	if r == nil {
		return false
	}
	switch field {
	case FieldPosition:
		return strings.TrimSpace(r.Position) != ""
	case FieldSkills:
		return len(r.Skills) > 0
	case FieldExperience:
		return !r.ExperienceYears.IsZero()
	case FieldLocation:
		return strings.TrimSpace(r.Location) != ""
	case FieldEducation:
		return strings.TrimSpace(r.EducationLevel) != ""
	}
	return false
}

// NextQuestion 选出最重要的未填写字段并返回对应问题。
// 已经问过且用户已回复的字段不会再问；全部已知时返回空字段。
func NextQuestion(partial *types.SearchRequirements, turns []types.ChatMessage) (string, string) {
	lang := DetectLanguage(turns)
	asked := answeredQuestions(turns)
	for _, f := range MissingFields(partial) {
		if asked[f] {
			continue
		}
		return f, questions[lang][f]
	}
	return "", ""
}

// answeredQuestions 找出助手问过、且之后用户已经回复的字段
func answeredQuestions(turns []types.ChatMessage) map[string]bool {
	asked := make(map[string]bool)
	pending := ""
	for _, t := range turns {
		switch t.Role {
		case types.RoleAssistant:
			pending = questionField(t.Content)
		case types.RoleUser:
			if pending != "" {
				asked[pending] = true
				pending = ""
			}
		}
	}
	return asked
}

func questionField(content string) string {
	content = strings.TrimSpace(content)
	for _, byField := range questions {
		for f, q := range byField {
			if content == q {
				return f
			}
		}
	}
	return ""
}

// DetectLanguage 按最后一条用户消息的文字判断语言，默认英文
func DetectLanguage(turns []types.ChatMessage) Language {
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role != types.RoleUser {
			continue
		}
		var han, cyr int
		for _, r := range turns[i].Content {
			switch {
			case unicode.Is(unicode.Han, r):
				han++
			case unicode.Is(unicode.Cyrillic, r):
				cyr++
			}
		}
		switch {
		case han > 0 && han >= cyr:
			return LangChinese
		case cyr > 0:
			return LangRussian
		}
		return LangEnglish
	}
	return LangEnglish
}

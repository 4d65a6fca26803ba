package requirements

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resume-match-go/internal/errs"
	"resume-match-go/internal/llm/llmtest"
	"resume-match-go/internal/types"
)

func user(s string) types.ChatMessage      { return types.ChatMessage{Role: types.RoleUser, Content: s} }
func assistant(s string) types.ChatMessage { return types.ChatMessage{Role: types.RoleAssistant, Content: s} }

// TestAnalyze 规则提取职位、技能、年限、地点与学历
func TestAnalyze(t *testing.T) {
	r := Analyze([]types.ChatMessage{
		user("We are hiring a senior Python developer in Berlin"),
		user("Django and Postgres, 3-5 years, bachelor degree"),
	})
	assert.Equal(t, "senior python developer", r.Position)
	assert.Equal(t, []string{"python", "django", "postgresql"}, r.Skills)
	require.NotNil(t, r.ExperienceYears.Min)
	require.NotNil(t, r.ExperienceYears.Max)
	assert.Equal(t, 3.0, *r.ExperienceYears.Min)
	assert.Equal(t, 5.0, *r.ExperienceYears.Max)
	assert.Equal(t, "Berlin", r.Location)
	assert.Equal(t, "bachelor", r.EducationLevel)
	assert.Contains(t, r.SearchQuery, "senior Python developer")
}

// TestAnalyzeExperienceForms 各种年限写法
func TestAnalyzeExperienceForms(t *testing.T) {
	f := func(v float64) *float64 { return &v }
	cases := []struct {
		text string
		min  *float64
		max  *float64
	}{
		{"at least 4 years", f(4), nil},
		{"5+ years of experience", f(5), nil},
		{"up to 2 years", nil, f(2)},
		{"от 3 лет", f(3), nil},
		{"5年以上经验", f(5), nil},
		{"7-3 years", f(3), f(7)},
		{"no experience requirement", nil, nil},
	}
	for _, c := range cases {
		t.Run(c.text, func(t *testing.T) {
			got := findExperience(c.text)
			assert.Equal(t, c.min, got.Min)
			assert.Equal(t, c.max, got.Max)
		})
	}
}

// TestAnalyzeQualifierSkill "go developer" 中的 go 作为技能，自由文本里的 go 不算
func TestAnalyzeQualifierSkill(t *testing.T) {
	r := Analyze([]types.ChatMessage{user("Looking for a Go developer")})
	assert.Equal(t, "go developer", r.Position)
	assert.Equal(t, []string{"go"}, r.Skills)

	r = Analyze([]types.ChatMessage{user("Let's go find someone")})
	assert.Empty(t, r.Skills)
}

// TestAnalyzeIgnoresAssistant 助手消息不参与提取
func TestAnalyzeIgnoresAssistant(t *testing.T) {
	r := Analyze([]types.ChatMessage{assistant("Do you need Kubernetes?"), user("hello")})
	assert.Nil(t, r.Skills)
	assert.Equal(t, "hello", r.SearchQuery)
}

// TestNextQuestionAfterPosition 只提到职位时接着问技能，而不是地点或学历
func TestNextQuestionAfterPosition(t *testing.T) {
	turns := []types.ChatMessage{
		user("Hi, I need to hire someone"),
		assistant(questions[LangEnglish][FieldPosition]),
		user("A senior product manager"),
	}
	partial := Analyze(turns)
	assert.Equal(t, "senior product manager", partial.Position)

	field, question := NextQuestion(partial, turns)
	assert.Equal(t, FieldSkills, field)
	assert.Equal(t, questions[LangEnglish][FieldSkills], question)
}

// TestNextQuestionNoRepeat 已问过且用户已回复的字段不再追问
func TestNextQuestionNoRepeat(t *testing.T) {
	turns := []types.ChatMessage{
		user("Need a python developer"),
		assistant(questions[LangEnglish][FieldExperience]),
		user("doesn't matter"),
	}
	field, _ := NextQuestion(Analyze(turns), turns)
	assert.Equal(t, FieldLocation, field)
}

// TestNextQuestionLanguage 按最后一条用户消息的语言提问
func TestNextQuestionLanguage(t *testing.T) {
	field, q := NextQuestion(&types.SearchRequirements{}, []types.ChatMessage{user("Нужен человек")})
	assert.Equal(t, FieldPosition, field)
	assert.Equal(t, questions[LangRussian][FieldPosition], q)

	_, q = NextQuestion(&types.SearchRequirements{}, []types.ChatMessage{user("我们在招人")})
	assert.Equal(t, questions[LangChinese][FieldPosition], q)
}

// TestNextQuestionComplete 字段齐全时不再追问
func TestNextQuestionComplete(t *testing.T) {
	years := 3.0
	r := &types.SearchRequirements{
		Position: "dev", Skills: []string{"go"}, ExperienceYears: types.ExperienceRange{Min: &years},
		Location: "remote", EducationLevel: "bachelor",
	}
	field, q := NextQuestion(r, nil)
	assert.Empty(t, field)
	assert.Empty(t, q)
}

// TestParseRequirements 严格解析并交换颠倒的年限区间
func TestParseRequirements(t *testing.T) {
	r, err := ParseRequirements("```json\n" + `{"position":"Backend Engineer","skills":["Go"," "],"niceToHaveSkills":[],
		"experienceYears":{"min":6,"max":3},"location":"","educationLevel":"","searchQuery":"go backend"}` + "\n```")
	require.NoError(t, err)
	assert.Equal(t, "Backend Engineer", r.Position)
	assert.Equal(t, []string{"Go"}, r.Skills)
	assert.Nil(t, r.NiceToHaveSkills)
	assert.Equal(t, 3.0, *r.ExperienceYears.Min)
	assert.Equal(t, 6.0, *r.ExperienceYears.Max)
}

// TestParseRequirementsRejects 各类非法回复
func TestParseRequirementsRejects(t *testing.T) {
	for name, reply := range map[string]string{
		"非JSON": "sorry, I cannot help",
		"缺少字段":   `{"position":"dev"}`,
		"类型错误":   `{"skills":"go","searchQuery":""}`,
		"负数年限":   `{"skills":[],"searchQuery":"","experienceYears":{"min":-1,"max":null}}`,
		"JSON损坏": `{"skills":[,"searchQuery":""}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseRequirements(reply)
			assert.ErrorIs(t, err, errs.ErrRequirementExtractionParse)
		})
	}
}

// TestExtractFillsGaps 模型留空的职位和年限由规则结果补上，技能分类保持模型的判断
func TestExtractFillsGaps(t *testing.T) {
	mock := &llmtest.MockProvider{Responses: []llmtest.MockResponse{{Content: `{
		"position": "", "skills": ["Postgres", "Docker"], "niceToHaveSkills": ["python", "k8s"],
		"experienceYears": {"min": null, "max": null}, "location": "Remote",
		"educationLevel": "", "searchQuery": "python backend developer"}`}}}
	e := NewExtractor(mock)

	req, err := e.Extract(context.Background(), []types.ChatMessage{
		user("Need a senior Python developer with 5+ years"),
	})
	require.NoError(t, err)
	assert.Equal(t, "senior python developer", req.Position)
	assert.Equal(t, []string{"postgresql", "docker"}, req.Skills)
	assert.Equal(t, []string{"python", "kubernetes"}, req.NiceToHaveSkills, "对话中提到的 python 仍是加分项")
	assert.Equal(t, 5.0, *req.ExperienceYears.Min)
	assert.Equal(t, "Remote", req.Location)
	assert.Equal(t, "python backend developer", req.SearchQuery)

	calls := mock.Requests()
	require.Len(t, calls, 1)
	assert.True(t, calls[0].JSON)
	require.NotNil(t, calls[0].Temperature, "需求抽取必须显式下发温度")
	assert.Equal(t, 0.0, *calls[0].Temperature)
	assert.Equal(t, types.RoleSystem, calls[0].Messages[0].Role)
	assert.Equal(t, extractInstruction, calls[0].Messages[len(calls[0].Messages)-1].Content)
}

// TestExtractKeepsNiceToHave 规则识别出的技能不会把模型的加分项提升为必备
func TestExtractKeepsNiceToHave(t *testing.T) {
	mock := &llmtest.MockProvider{Responses: []llmtest.MockResponse{{Content: `{
		"position": "Go developer", "skills": ["go"], "niceToHaveSkills": ["python"],
		"experienceYears": {"min": null, "max": null}, "location": "",
		"educationLevel": "", "searchQuery": "go developer"}`}}}

	req, err := NewExtractor(mock).Extract(context.Background(), []types.ChatMessage{
		user("We need a Go developer, Python would be a plus"),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"go"}, req.Skills)
	assert.Equal(t, []string{"python"}, req.NiceToHaveSkills)
	assert.Equal(t, "Go developer", req.Position, "模型给出的职位优先")
}

// TestExtractKeepsModelRange 模型给出年限时不被规则结果覆盖
func TestExtractKeepsModelRange(t *testing.T) {
	mock := &llmtest.MockProvider{Responses: []llmtest.MockResponse{{Content: `{
		"skills": ["python"], "experienceYears": {"min": 3, "max": 5}, "searchQuery": "python"}`}}}

	req, err := NewExtractor(mock).Extract(context.Background(), []types.ChatMessage{
		user("Need a senior Python developer with 7+ years"),
	})
	require.NoError(t, err)
	require.NotNil(t, req.ExperienceYears.Min)
	require.NotNil(t, req.ExperienceYears.Max)
	assert.Equal(t, 3.0, *req.ExperienceYears.Min)
	assert.Equal(t, 5.0, *req.ExperienceYears.Max)
}

// TestSessionStripeStable 同一会话总是落到同一把锁上
func TestSessionStripeStable(t *testing.T) {
	assert.Equal(t, sessionStripe("session-a"), sessionStripe("session-a"))
	for i := 0; i < 1000; i++ {
		assert.Less(t, sessionStripe(fmt.Sprintf("s-%d", i)), uint32(sessionLockStripes))
	}
}

// TestChatConcurrentSessions 并发的多个会话互不影响
func TestChatConcurrentSessions(t *testing.T) {
	e := NewExtractor(nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("session-%d", i)
			for j := 0; j < 3; j++ {
				_, err := e.Chat(context.Background(), id, []types.ChatMessage{user("Need a python developer")}, false)
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	history, err := e.memory.GetHistory(context.Background(), "session-7")
	require.NoError(t, err)
	assert.Len(t, history, 6, "每轮保存用户消息与助手回复")
}

// TestExtractParseErrorSurfaced 解析失败直接返回错误，不重试
func TestExtractParseErrorSurfaced(t *testing.T) {
	mock := &llmtest.MockProvider{Responses: []llmtest.MockResponse{{Content: "not json"}}}
	_, err := NewExtractor(mock).Extract(context.Background(), []types.ChatMessage{user("python developer")})
	assert.ErrorIs(t, err, errs.ErrRequirementExtractionParse)
	assert.Equal(t, 1, mock.Calls())
}

// TestExtractProviderFailure 调用失败与无服务
func TestExtractProviderFailure(t *testing.T) {
	mock := &llmtest.MockProvider{Responses: []llmtest.MockResponse{{Err: errors.New("503")}}}
	_, err := NewExtractor(mock).Extract(context.Background(), []types.ChatMessage{user("python developer")})
	assert.ErrorIs(t, err, errs.ErrExtractionProvider)

	_, err = NewExtractor(nil).Extract(context.Background(), []types.ChatMessage{user("python developer")})
	assert.ErrorIs(t, err, errs.ErrExtractionProvider)

	_, err = NewExtractor(mock).Extract(context.Background(), nil)
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
}

// TestChatFlow 多轮对话：保存历史、追问、最后抽取
func TestChatFlow(t *testing.T) {
	ctx := context.Background()
	mock := &llmtest.MockProvider{Responses: []llmtest.MockResponse{{Content: `{"skills":["django"],"searchQuery":"python dev"}`}}}
	e := NewExtractor(mock)

	first, err := e.Chat(ctx, "", []types.ChatMessage{user("Hi, I need to hire someone")}, false)
	require.NoError(t, err)
	require.NotEmpty(t, first.SessionID)
	assert.Equal(t, FieldPosition, first.MissingField)
	assert.False(t, first.Extracted)

	second, err := e.Chat(ctx, first.SessionID, []types.ChatMessage{user("A senior product manager")}, false)
	require.NoError(t, err)
	assert.Equal(t, FieldSkills, second.MissingField)
	assert.Equal(t, "senior product manager", second.Requirements.Position)

	third, err := e.Chat(ctx, first.SessionID, []types.ChatMessage{user("Python please")}, true)
	require.NoError(t, err)
	assert.True(t, third.Extracted)
	assert.Equal(t, []string{"django"}, third.Requirements.Skills, "技能以模型抽取结果为准")
	assert.Equal(t, "senior product manager", third.Requirements.Position, "模型未给出职位时沿用对话中的职位")
	assert.Equal(t, extractedReplies[LangEnglish], third.Reply)
	assert.Equal(t, 1, mock.Calls())

	// 历史中包含三轮用户消息与三条助手回复
	history, err := e.memory.GetHistory(ctx, first.SessionID)
	require.NoError(t, err)
	assert.Len(t, history, 6)

	require.NoError(t, e.ResetSession(ctx, first.SessionID))
	_, err = e.Chat(ctx, first.SessionID, nil, false)
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
}

// TestChatReadyReply 需求齐全时提示可以搜索
func TestChatReadyReply(t *testing.T) {
	e := NewExtractor(nil)
	reply, err := e.Chat(context.Background(), "s1", []types.ChatMessage{
		user("Senior Go developer in Berlin, 3+ years, bachelor degree, Docker"),
	}, false)
	require.NoError(t, err)
	assert.Empty(t, reply.MissingField)
	assert.Equal(t, readyReplies[LangEnglish], reply.Reply)
}

// TestInMemoryChatMemoryTrim 超过上限时丢弃最早的消息
func TestInMemoryChatMemoryTrim(t *testing.T) {
	ctx := context.Background()
	m := NewInMemoryChatMemory(3)
	for _, c := range []string{"1", "2", "3", "4", "5"} {
		require.NoError(t, m.AddMessages(ctx, "s", []*schema.Message{schema.UserMessage(c)}))
	}
	history, err := m.GetHistory(ctx, "s")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "3", history[0].Content)

	assert.Error(t, m.AddMessages(ctx, "s", []*schema.Message{nil}))
	require.NoError(t, m.ClearHistory(ctx, "s"))
	history, _ = m.GetHistory(ctx, "s")
	assert.Empty(t, history)
}

// TestRedisChatMemory 需要本地 Redis，不可用时跳过
func TestRedisChatMemory(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis 不可用: %v", err)
	}

	m, err := NewRedisChatMemory(client, time.Minute, 2)
	require.NoError(t, err)
	session := "test-" + time.Now().Format("150405.000000")
	defer m.ClearHistory(context.Background(), session)

	require.NoError(t, m.AddMessages(ctx, session, []*schema.Message{
		schema.UserMessage("a"), schema.AssistantMessage("b", nil), schema.UserMessage("c"),
	}))
	history, err := m.GetHistory(ctx, session)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "b", history[0].Content)
	assert.Equal(t, schema.Assistant, history[0].Role)

	_, err = NewRedisChatMemory(nil, 0, 0)
	assert.Error(t, err)
}

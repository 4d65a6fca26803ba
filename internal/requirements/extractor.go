package requirements

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"resume-match-go/internal/errs"
	"resume-match-go/internal/llm"
	"resume-match-go/internal/logger"
	"resume-match-go/internal/skills"
	"resume-match-go/internal/tracing"
	"resume-match-go/internal/types"
)

const requirementsSystemPrompt = `你是一名资深招聘顾问，负责从招聘方与助手的对话中整理候选人搜索需求。

重要指令：
- 只使用对话中明确出现的信息，不要猜测。未提及的字符串字段设为空字符串，列表设为空数组，年限设为 null。
- skills 为必备技能，niceToHaveSkills 为加分技能，技能名称保持对话中的写法。
- experienceYears 的 min、max 为数字（年）。"3年以上" 对应 min=3；"3-5年" 对应 min=3, max=5。
- searchQuery 用一句话概括需求，用于全文检索。

JSON输出格式规范：
{
  "position": "string",
  "skills": ["string"],
  "niceToHaveSkills": ["string"],
  "experienceYears": {"min": null, "max": null},
  "location": "string",
  "educationLevel": "string",
  "searchQuery": "string"
}

请严格按照上述JSON格式规范输出，不要包含任何解释性文字或Markdown标记。`

const extractInstruction = "请根据以上对话输出搜索需求 JSON。"

// 默认参数
const (
	DefaultMaxTurns    = 40
	DefaultMaxTokens   = 1000
	DefaultTemperature = 0.0
)

// ChatReply 一次对话调用的结果
type ChatReply struct {
	SessionID    string                    `json:"sessionId"`
	Reply        string                    `json:"reply"`
	Requirements *types.SearchRequirements `json:"requirements,omitempty"`
	MissingField string                    `json:"missingField,omitempty"`
	Extracted    bool                      `json:"extracted"`
}

// Extractor 对话式需求抽取器
type Extractor struct {
	provider    llm.CompletionProvider
	knowledge   *skills.Knowledge
	memory      ChatMemory
	maxTurns    int
	maxTokens   int
	temperature float64
	logger      zerolog.Logger

	// 同一会话的调用串行执行，保证规则提取先于模型抽取。
	// 按会话 ID 哈希到固定数量的锁上，锁的数量不随会话增长。
	sessionLocks [sessionLockStripes]sync.Mutex
}

const sessionLockStripes = 64

// Option 抽取器配置项
type Option func(*Extractor)

// WithKnowledge 技能知识表
func WithKnowledge(k *skills.Knowledge) Option {
	return func(e *Extractor) {
		if k != nil {
			e.knowledge = k
		}
	}
}

// WithMemory 对话历史存储
func WithMemory(m ChatMemory) Option {
	return func(e *Extractor) {
		if m != nil {
			e.memory = m
		}
	}
}

// WithMaxTurns 参与分析的最大历史消息数
func WithMaxTurns(n int) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.maxTurns = n
		}
	}
}

// WithLogger 设置日志器
func WithLogger(l zerolog.Logger) Option {
	return func(e *Extractor) { e.logger = l }
}

// NewExtractor 创建抽取器。provider 为 nil 时只能做规则提取，Extract 会返回错误。
func NewExtractor(provider llm.CompletionProvider, opts ...Option) *Extractor {
	e := &Extractor{
		provider:    provider,
		knowledge:   builtinSkills,
		maxTurns:    DefaultMaxTurns,
		maxTokens:   DefaultMaxTokens,
		temperature: DefaultTemperature,
		logger:      logger.Named("requirements"),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.memory == nil {
		e.memory = NewInMemoryChatMemory(e.maxTurns)
	}
	return e
}

// Analyze 规则提取部分需求
func (e *Extractor) Analyze(turns []types.ChatMessage) *types.SearchRequirements {
	return AnalyzeWith(turns, e.knowledge)
}

// Extract 先做规则提取，再调用一次补全服务抽取完整需求。
// 回复无法解析时返回 RequirementExtractionParseError，不做回退。
func (e *Extractor) Extract(ctx context.Context, turns []types.ChatMessage) (*types.SearchRequirements, error) {
	ctx, span := tracing.Tracer().Start(ctx, "requirements.Extract",
		trace.WithAttributes(attribute.Int("chat.turns", len(turns))))
	defer span.End()

	if len(turns) == 0 {
		err := errs.NewInvalidInputError("extract_requirements", "对话为空")
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return nil, err
	}
	partial := e.Analyze(turns)

	if e.provider == nil {
		err := errs.NewProviderError("none", "没有可用的补全服务", nil)
		tracing.RecordError(span, err, tracing.ErrorTypeLLM)
		return nil, err
	}
	span.SetAttributes(attribute.String("llm.provider", e.provider.Name()))

	messages := make([]types.ChatMessage, 0, len(turns)+2)
	messages = append(messages, types.ChatMessage{Role: types.RoleSystem, Content: requirementsSystemPrompt})
	for _, t := range turns {
		if t.Role == types.RoleUser || t.Role == types.RoleAssistant {
			messages = append(messages, t)
		}
	}
	messages = append(messages, types.ChatMessage{Role: types.RoleUser, Content: extractInstruction})

	reply, err := e.provider.Complete(ctx, llm.CompletionRequest{
		Messages:    messages,
		JSON:        true,
		Temperature: llm.Temperature(e.temperature),
		MaxTokens:   e.maxTokens,
	})
	if err != nil {
		err = errs.NewProviderError(e.provider.Name(), "需求抽取调用失败", err)
		tracing.RecordError(span, err, tracing.ErrorTypeLLM)
		return nil, err
	}

	parsed, err := ParseRequirements(reply)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeParse)
		e.logger.Warn().Err(err).Str("reply", tracing.SafePrompt(reply)).Msg("需求抽取结果无法解析")
		return nil, err
	}

	fillGaps(parsed, partial)
	parsed.Skills = e.knowledge.Normalize(parsed.Skills)
	parsed.NiceToHaveSkills = withoutAny(e.knowledge.Normalize(parsed.NiceToHaveSkills), parsed.Skills)
	return parsed, nil
}

// fillGaps 模型留空的标量字段用规则提取结果补上。
// 技能分类以模型为准，规则识别出的技能只用于决定追问，不并入结果。
func fillGaps(dst, rules *types.SearchRequirements) {
	if rules == nil {
		return
	}
	if dst.Position == "" {
		dst.Position = rules.Position
	}
	if dst.Location == "" {
		dst.Location = rules.Location
	}
	if dst.EducationLevel == "" {
		dst.EducationLevel = rules.EducationLevel
	}
	if dst.ExperienceYears.IsZero() {
		dst.ExperienceYears = rules.ExperienceYears
	}
}

// Chat 处理一轮对话：保存新消息，规则提取部分需求；extract 为 true 时抽取完整需求，
// 否则追问最重要的缺失字段。sessionID 为空时创建新会话。
func (e *Extractor) Chat(ctx context.Context, sessionID string, turns []types.ChatMessage, extract bool) (*ChatReply, error) {
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	unlock := e.lockSession(sessionID)
	defer unlock()

	stored, err := e.memory.GetHistory(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("读取对话历史失败: %w", err)
	}
	newTurns := cleanTurns(turns)
	if len(stored) == 0 && len(newTurns) == 0 {
		return nil, errs.NewInvalidInputError("chat", "对话为空")
	}
	if err := e.memory.AddMessages(ctx, sessionID, toSchema(newTurns)); err != nil {
		return nil, fmt.Errorf("保存对话失败: %w", err)
	}

	history := append(fromSchema(stored), newTurns...)
	if len(history) > e.maxTurns {
		history = history[len(history)-e.maxTurns:]
	}

	partial := e.Analyze(history)
	lang := DetectLanguage(history)
	out := &ChatReply{SessionID: sessionID, Requirements: partial}

	if extract {
		req, err := e.Extract(ctx, history)
		if err != nil {
			return nil, err
		}
		out.Requirements = req
		out.Extracted = true
		out.Reply = extractedReplies[lang]
	} else {
		field, question := NextQuestion(partial, history)
		out.MissingField = field
		out.Reply = question
		if field == "" {
			out.Reply = readyReplies[lang]
		}
	}

	reply := []types.ChatMessage{{Role: types.RoleAssistant, Content: out.Reply}}
	if err := e.memory.AddMessages(ctx, sessionID, toSchema(reply)); err != nil {
		e.logger.Warn().Err(err).Str("session_id", sessionID).Msg("保存助手回复失败")
	}
	return out, nil
}

// ResetSession 清除会话历史
func (e *Extractor) ResetSession(ctx context.Context, sessionID string) error {
	return e.memory.ClearHistory(ctx, sessionID)
}

func (e *Extractor) lockSession(sessionID string) func() {
	mu := &e.sessionLocks[sessionStripe(sessionID)]
	mu.Lock()
	return mu.Unlock
}

func sessionStripe(sessionID string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(sessionID))
	return h.Sum32() % sessionLockStripes
}

// cleanTurns 只保留非空的用户与助手消息
func cleanTurns(turns []types.ChatMessage) []types.ChatMessage {
	var out []types.ChatMessage
	for _, t := range turns {
		if strings.TrimSpace(t.Content) == "" {
			continue
		}
		if t.Role != types.RoleUser && t.Role != types.RoleAssistant {
			continue
		}
		out = append(out, t)
	}
	return out
}

// wireRequirements 补全服务返回的需求结构，字段类型严格
type wireRequirements struct {
	Position         string   `json:"position"`
	Skills           []string `json:"skills"`
	NiceToHaveSkills []string `json:"niceToHaveSkills"`
	ExperienceYears  *struct {
		Min *float64 `json:"min"`
		Max *float64 `json:"max"`
	} `json:"experienceYears"`
	Location       string `json:"location"`
	EducationLevel string `json:"educationLevel"`
	SearchQuery    string `json:"searchQuery"`
}

// requiredKeys 回复中必须出现的字段
var requiredKeys = []string{"skills", "searchQuery"}

// ParseRequirements 严格解析补全服务返回的需求 JSON
func ParseRequirements(reply string) (*types.SearchRequirements, error) {
	raw := llm.ExtractJSONObject(reply)
	if raw == "" {
		return nil, errs.NewRequirementParseError("回复中没有 JSON 对象", nil)
	}

	var keys map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &keys); err != nil {
		return nil, errs.NewRequirementParseError("JSON 格式错误", err)
	}
	for _, k := range requiredKeys {
		if _, ok := keys[k]; !ok {
			return nil, errs.NewRequirementParseError("缺少字段 "+k, nil)
		}
	}

	var w wireRequirements
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return nil, errs.NewRequirementParseError("字段类型不符", err)
	}

	r := &types.SearchRequirements{
		Position:         strings.TrimSpace(w.Position),
		Skills:           compact(w.Skills),
		NiceToHaveSkills: compact(w.NiceToHaveSkills),
		Location:         strings.TrimSpace(w.Location),
		EducationLevel:   strings.TrimSpace(w.EducationLevel),
		SearchQuery:      strings.TrimSpace(w.SearchQuery),
	}
	if w.ExperienceYears != nil {
		lo, hi := w.ExperienceYears.Min, w.ExperienceYears.Max
		if (lo != nil && *lo < 0) || (hi != nil && *hi < 0) {
			return nil, errs.NewRequirementParseError("工作年限不能为负数", nil)
		}
		if lo != nil && hi != nil && *lo > *hi {
			lo, hi = hi, lo
		}
		r.ExperienceYears = types.ExperienceRange{Min: lo, Max: hi}
	}
	return r, nil
}

func compact(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// withoutAny 去掉 list 中已出现在 exclude 里的元素
func withoutAny(list, exclude []string) []string {
	if len(list) == 0 {
		return nil
	}
	skip := make(map[string]bool, len(exclude))
	for _, s := range exclude {
		skip[s] = true
	}
	var out []string
	for _, s := range list {
		if !skip[s] {
			out = append(out, s)
		}
	}
	return out
}

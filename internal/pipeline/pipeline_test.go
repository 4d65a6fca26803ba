package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resume-match-go/internal/embedding"
	"resume-match-go/internal/errs"
	"resume-match-go/internal/extraction"
	"resume-match-go/internal/llm"
	"resume-match-go/internal/llm/llmtest"
	"resume-match-go/internal/textnorm"
	"resume-match-go/internal/types"
)

const resumeText = "John Doe john@x.com +1-555-0100\nSenior Python Developer\nDjango Python PostgreSQL 5 years of experience in web development"

const providerReply = `{
  "personal": {"fullName": "John Doe", "email": "john@x.com", "phone": "+1-555-0100", "location": "Berlin"},
  "professional": {
    "title": "Senior Python Developer",
    "summary": "Backend engineer",
    "totalExperienceYears": 5,
    "skills": {"primary": ["Python", "Django", "python3"], "secondary": ["Postgres", "django"], "tools": ["k8s", "PostgreSQL"]}
  },
  "experience": [{"company": "Acme", "position": "Developer", "startDate": "2019", "endDate": "", "description": "APIs", "achievements": []}]
}`

func newPipeline(t *testing.T, providers []llm.CompletionProvider, c Components, opts ...Option) *Pipeline {
	t.Helper()
	gen, err := embedding.NewGenerator(nil, "test-model", 16)
	require.NoError(t, err)
	c.Extractor = extraction.NewOrchestrator(providers, extraction.WithBackoffUnit(time.Millisecond))
	c.Embeddings = gen
	p, err := New(c, opts...)
	require.NoError(t, err)
	return p
}

// fakeSource 测试用候选人存储
type fakeSource struct {
	mu      sync.Mutex
	pool    []types.Candidate
	vectors []types.CandidateVector
	err     error
	calls   int
	limit   int
	scanned bool
	byID    []string
}

func (f *fakeSource) CountCandidates(ctx context.Context) (int64, error) {
	return int64(len(f.pool)), nil
}

func (f *fakeSource) LoadCandidates(ctx context.Context, limit int) ([]types.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.limit = limit
	return f.pool, f.err
}

func (f *fakeSource) ScanCandidateVectors(ctx context.Context, batchSize int, fn func([]types.CandidateVector) error) error {
	f.mu.Lock()
	f.scanned = true
	f.mu.Unlock()
	// 模拟分批读取
	for start := 0; start < len(f.vectors); start += 2 {
		end := min(start+2, len(f.vectors))
		if err := fn(f.vectors[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeSource) LoadCandidatesByID(ctx context.Context, ids []string) ([]types.Candidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byID = ids
	var out []types.Candidate
	for _, id := range ids {
		for _, c := range f.pool {
			if c.ID == id {
				out = append(out, c)
			}
		}
	}
	return out, f.err
}

// memoryCache 测试用搜索缓存
type memoryCache struct {
	mu   sync.Mutex
	data map[string]*types.SearchResult
}

func (m *memoryCache) GetSearchResult(ctx context.Context, key string) (*types.SearchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.data[key], nil
}

func (m *memoryCache) SetSearchResult(ctx context.Context, key string, r *types.SearchResult, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = make(map[string]*types.SearchResult)
	}
	m.data[key] = r
	return nil
}

// TestNewRequiresComponents 缺少必需组件时报错
func TestNewRequiresComponents(t *testing.T) {
	_, err := New(Components{})
	assert.Error(t, err)
	_, err = New(Components{Extractor: extraction.NewOrchestrator(nil)})
	assert.Error(t, err)
}

// TestParseDocumentCanonicalSkills 技能分组统一为规范名并跨组去重
func TestParseDocumentCanonicalSkills(t *testing.T) {
	mock := &llmtest.MockProvider{Responses: []llmtest.MockResponse{{Content: providerReply}}}
	p := newPipeline(t, []llm.CompletionProvider{mock}, Components{})

	profile, err := p.ParseDocument(context.Background(), resumeText)
	require.NoError(t, err)
	assert.Equal(t, "mock", profile.Source)
	assert.Equal(t, []string{"python", "django"}, profile.Professional.Skills.Primary)
	assert.Equal(t, []string{"postgresql"}, profile.Professional.Skills.Secondary)
	assert.Equal(t, []string{"kubernetes"}, profile.Professional.Skills.Tools)
}

// TestParseDocumentFallback 所有服务失败时返回回退画像而不是错误
func TestParseDocumentFallback(t *testing.T) {
	mock := &llmtest.MockProvider{Responses: []llmtest.MockResponse{{Err: errors.New("503")}}}
	p := newPipeline(t, []llm.CompletionProvider{mock}, Components{})

	profile, err := p.ParseDocument(context.Background(), resumeText)
	require.NoError(t, err)
	assert.True(t, profile.IsFallback())
	assert.Equal(t, "john@x.com", profile.Personal.Email)
	assert.Contains(t, profile.Professional.Skills.Primary, "python")
	assert.Contains(t, profile.Professional.Skills.Primary, "django")
	assert.Equal(t, 5.0, profile.Professional.TotalExperienceYears)
}

// TestParseDocumentErrors 文本过短与 ctx 取消
func TestParseDocumentErrors(t *testing.T) {
	p := newPipeline(t, nil, Components{})

	_, err := p.ParseDocument(context.Background(), "too short")
	assert.ErrorIs(t, err, errs.ErrInvalidInput)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.ParseDocument(ctx, resumeText)
	assert.ErrorIs(t, err, context.Canceled)
}

// TestParseDocuments 批量解析保持输入顺序，单个文档的错误不影响其他文档
func TestParseDocuments(t *testing.T) {
	p := newPipeline(t, nil, Components{}, WithParallelism(2))
	texts := []string{resumeText, "short", resumeText + "\nGo Docker", resumeText}

	results, err := p.ParseDocuments(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, results, 4)
	for i, r := range results {
		assert.Equal(t, i, r.Index)
	}
	assert.ErrorIs(t, results[1].Err, errs.ErrInvalidInput)
	assert.Nil(t, results[1].Profile)
	require.NotNil(t, results[2].Profile)
	assert.Contains(t, results[2].Profile.Professional.Skills.Primary, "docker")
}

// TestParseDocumentsCanceled ctx 取消时整体返回错误
func TestParseDocumentsCanceled(t *testing.T) {
	p := newPipeline(t, nil, Components{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.ParseDocuments(ctx, []string{resumeText, resumeText})
	assert.ErrorIs(t, err, context.Canceled)
}

// TestProcess 处理结果包含确定性的候选人 ID、质量分与向量
func TestProcess(t *testing.T) {
	mock := &llmtest.MockProvider{Responses: []llmtest.MockResponse{{Content: providerReply}}}
	p := newPipeline(t, []llm.CompletionProvider{mock}, Components{})

	first, err := p.Process(context.Background(), resumeText)
	require.NoError(t, err)
	second, err := p.Process(context.Background(), "  "+resumeText+"\n\n")
	require.NoError(t, err)

	assert.Equal(t, first.CandidateID, second.CandidateID)
	assert.Equal(t, p.ScoreProfile(first.Profile), first.QualityScore)
	assert.Greater(t, first.QualityScore, 0)
	assert.Len(t, first.Embedding.Values, 16)
	assert.True(t, first.Embedding.Fallback)
	assert.NotEqual(t, first.CandidateID, CandidateID("other text"))
}

// TestParseFileWithoutExtractor 未配置文档提取器
func TestParseFileWithoutExtractor(t *testing.T) {
	p := newPipeline(t, nil, Components{})
	_, _, err := p.ParseFile(context.Background(), []byte(resumeText), "text/plain", "cv.txt")
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
}

type textDocuments struct{}

func (textDocuments) Extract(ctx context.Context, data []byte, mimeType, fileName string) (string, error) {
	return string(data), nil
}

// TestParseFile 提取文本后解析
func TestParseFile(t *testing.T) {
	p := newPipeline(t, nil, Components{Documents: textDocuments{}})
	text, profile, err := p.ParseFile(context.Background(), []byte(resumeText), "text/plain", "cv.txt")
	require.NoError(t, err)
	assert.Equal(t, textnorm.Normalize(resumeText), text)
	assert.Equal(t, "john@x.com", profile.Personal.Email)
}

func pool() []types.Candidate {
	return []types.Candidate{
		{ID: "a", Profile: &types.StructuredProfile{Professional: types.ProfessionalInfo{Skills: types.SkillGroups{Primary: []string{"python"}}}}},
		{ID: "b", Profile: &types.StructuredProfile{Professional: types.ProfessionalInfo{Skills: types.SkillGroups{Primary: []string{"go"}}}}},
	}
}

// TestSearchCandidatesWithPool 直接对传入的候选池打分
func TestSearchCandidatesWithPool(t *testing.T) {
	p := newPipeline(t, nil, Components{})
	res, err := p.SearchCandidates(context.Background(), &types.SearchRequirements{Skills: []string{"golang"}}, pool())
	require.NoError(t, err)
	require.Len(t, res.Results, 2)
	assert.Equal(t, "b", res.Results[0].CandidateID)

	_, err = p.SearchCandidates(context.Background(), nil, nil)
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
}

// TestSearchCandidatesFromSource 从存储加载候选池并缓存结果
func TestSearchCandidatesFromSource(t *testing.T) {
	src := &fakeSource{pool: pool()}
	cache := &memoryCache{}
	p := newPipeline(t, nil, Components{Candidates: src, Cache: cache}, WithPoolLimit(10))
	req := &types.SearchRequirements{Skills: []string{"python"}}

	first, err := p.SearchCandidates(context.Background(), req, nil)
	require.NoError(t, err)
	second, err := p.SearchCandidates(context.Background(), req, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, src.calls)
	assert.Equal(t, 10, src.limit)
	assert.Equal(t, first, second)
	assert.Equal(t, "a", first.Results[0].CandidateID)

	assert.False(t, src.scanned, "候选人总数未超过上限时不做向量召回")

	src.err = errors.New("db down")
	_, err = p.SearchCandidates(context.Background(), &types.SearchRequirements{Skills: []string{"rust"}}, nil)
	assert.Error(t, err)
}

func skilled(id string, quality int, skills ...string) types.Candidate {
	return types.Candidate{
		ID:           id,
		QualityScore: quality,
		Profile:      &types.StructuredProfile{Professional: types.ProfessionalInfo{Skills: types.SkillGroups{Primary: skills}}},
	}
}

// TestSearchCandidatesRecallsBySimilarity 候选人超过上限时按向量召回，
// 质量分最低但与需求最相似的候选人仍会参与评分
func TestSearchCandidatesRecallsBySimilarity(t *testing.T) {
	ctx := context.Background()
	gen, err := embedding.NewGenerator(nil, "test-model", 16)
	require.NoError(t, err)
	req := &types.SearchRequirements{Skills: []string{"python", "django"}, SearchQuery: "python django developer"}
	queryVec, err := gen.EmbedQuery(ctx, req)
	require.NoError(t, err)

	other := func(text string) []float64 { return embedding.FallbackVector(text, 16) }
	src := &fakeSource{
		pool: []types.Candidate{
			skilled("java", 90, "java", "spring"),
			skilled("php", 80, "php"),
			skilled("other-model", 70, "python"),
			skilled("match", 10, "python", "django"),
		},
		vectors: []types.CandidateVector{
			{CandidateID: "java", QualityScore: 90, Values: other("java spring"), Model: queryVec.Model, Dimensions: 16, Fallback: true},
			{CandidateID: "php", QualityScore: 80, Values: other("php laravel"), Model: queryVec.Model, Dimensions: 16, Fallback: true},
			// 数值相同但来自另一个模型，不可比较
			{CandidateID: "other-model", QualityScore: 70, Values: queryVec.Values, Model: "text-embedding-v3", Dimensions: 16},
			{CandidateID: "match", QualityScore: 10, Values: queryVec.Values, Model: queryVec.Model, Dimensions: 16, Fallback: true},
		},
	}
	p := newPipeline(t, nil, Components{Candidates: src}, WithPoolLimit(2))

	res, err := p.SearchCandidates(ctx, req, nil)
	require.NoError(t, err)

	assert.True(t, src.scanned)
	assert.Equal(t, 0, src.calls, "超过上限时不按质量分截断")
	require.Len(t, src.byID, 2)
	assert.Equal(t, "match", src.byID[0], "相似度最高的排在最前")
	assert.NotContains(t, src.byID, "other-model")
	require.NotEmpty(t, res.Results)
	assert.Equal(t, "match", res.Results[0].CandidateID)
}

// TestRecallFillsWithIncomparable 可比较的向量不足时按质量分补足名额
func TestRecallFillsWithIncomparable(t *testing.T) {
	ctx := context.Background()
	gen, err := embedding.NewGenerator(nil, "test-model", 16)
	require.NoError(t, err)
	req := &types.SearchRequirements{Skills: []string{"go"}}
	queryVec, err := gen.EmbedQuery(ctx, req)
	require.NoError(t, err)

	src := &fakeSource{
		pool: []types.Candidate{skilled("a", 50, "go"), skilled("b", 90, "go"), skilled("c", 70, "go"), skilled("d", 60, "go")},
		vectors: []types.CandidateVector{
			{CandidateID: "a", QualityScore: 50, Values: queryVec.Values, Model: queryVec.Model, Dimensions: 16, Fallback: true},
			{CandidateID: "b", QualityScore: 90},
			{CandidateID: "c", QualityScore: 70, Values: []float64{1, 2}, Model: queryVec.Model, Dimensions: 2, Fallback: true},
			{CandidateID: "d", QualityScore: 60, Values: queryVec.Values, Model: queryVec.Model, Dimensions: 16, Fallback: false},
		},
	}
	p := newPipeline(t, nil, Components{Candidates: src}, WithPoolLimit(3))

	ids, err := p.recall(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, ids)
}

// TestSearchCandidatesEmptyPool 调用方给定空候选池时返回空结果，不访问存储
func TestSearchCandidatesEmptyPool(t *testing.T) {
	p := newPipeline(t, nil, Components{})
	res, err := p.SearchCandidates(context.Background(), &types.SearchRequirements{Skills: []string{"go"}}, []types.Candidate{})
	require.NoError(t, err)
	assert.Empty(t, res.Results)
	require.NotEmpty(t, res.Insights.Recommendations)
	assert.Contains(t, res.Insights.Recommendations[0], "Broaden criteria")
}

// TestChat 对话透传给需求抽取器
func TestChat(t *testing.T) {
	p := newPipeline(t, nil, Components{})
	reply, err := p.Chat(context.Background(), "", []types.ChatMessage{{Role: types.RoleUser, Content: "We need a product manager"}}, false)
	require.NoError(t, err)
	assert.NotEmpty(t, reply.SessionID)
	assert.Equal(t, "skills", reply.MissingField)
}

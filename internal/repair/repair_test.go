package repair

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"resume-match-go/internal/embedding"
	"resume-match-go/internal/pipeline"
	"resume-match-go/internal/storage"
	"resume-match-go/internal/storage/models"
	"resume-match-go/internal/types"
)

type mockStore struct{ mock.Mock }

func (m *mockStore) ListCandidates(ctx context.Context, f storage.CandidateFilter) ([]models.CandidateRecord, error) {
	args := m.Called(ctx, f)
	recs, _ := args.Get(0).([]models.CandidateRecord)
	return recs, args.Error(1)
}

func (m *mockStore) SaveCandidate(ctx context.Context, rec *models.CandidateRecord) error {
	return m.Called(ctx, rec).Error(0)
}

type mockTexts struct{ mock.Mock }

func (m *mockTexts) GetText(ctx context.Context, objectName string) (string, error) {
	args := m.Called(ctx, objectName)
	return args.String(0), args.Error(1)
}

type mockProcessor struct{ mock.Mock }

func (m *mockProcessor) Process(ctx context.Context, text string) (*pipeline.ProcessedResume, error) {
	args := m.Called(ctx, text)
	res, _ := args.Get(0).(*pipeline.ProcessedResume)
	return res, args.Error(1)
}

func (m *mockProcessor) EmbedProfile(ctx context.Context, profile *types.StructuredProfile) (embedding.Vector, error) {
	args := m.Called(ctx, profile)
	return args.Get(0).(embedding.Vector), args.Error(1)
}

func record(t *testing.T, id, source string, embeddingFallback bool, textObject string) models.CandidateRecord {
	t.Helper()
	profile := &types.StructuredProfile{Source: source}
	profile.Personal.FullName = "张三"
	raw, err := json.Marshal(profile)
	require.NoError(t, err)
	return models.CandidateRecord{
		CandidateID:       id,
		ProfileJSON:       raw,
		ProfileSource:     source,
		EmbeddingFallback: embeddingFallback,
		TextObject:        textObject,
		CreatedAt:         time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestRunReparsesFallbackProfiles(t *testing.T) {
	ctx := context.Background()
	store, texts, proc := &mockStore{}, &mockTexts{}, &mockProcessor{}

	rec := record(t, "c1", types.SourceFallback, true, "resume/c1/text.txt")
	store.On("ListCandidates", ctx, storage.CandidateFilter{NeedsRepair: true, Limit: 20}).
		Return([]models.CandidateRecord{rec}, nil)
	texts.On("GetText", ctx, "resume/c1/text.txt").Return("简历全文", nil)

	profile := &types.StructuredProfile{Source: "qwen"}
	proc.On("Process", ctx, "简历全文").Return(&pipeline.ProcessedResume{
		CandidateID:  "other-id",
		Profile:      profile,
		QualityScore: 80,
		Embedding:    embedding.Vector{Values: []float64{0.1, 0.2}, Model: "text-embedding-v3"},
	}, nil)
	store.On("SaveCandidate", ctx, mock.MatchedBy(func(r *models.CandidateRecord) bool {
		// 保留原 ID、原文路径与创建时间
		return r.CandidateID == "c1" && r.TextObject == rec.TextObject &&
			r.ProfileSource == "qwen" && !r.EmbeddingFallback && r.CreatedAt.Equal(rec.CreatedAt)
	})).Return(nil)

	r, err := New(store, texts, proc)
	require.NoError(t, err)
	report, err := r.Run(ctx, 0)
	require.NoError(t, err)

	assert.Equal(t, Report{Scanned: 1, Reparsed: 1}, report)
	store.AssertExpectations(t)
	texts.AssertExpectations(t)
	proc.AssertExpectations(t)
}

func TestRunReembedsWhenNoText(t *testing.T) {
	ctx := context.Background()
	store, proc := &mockStore{}, &mockProcessor{}

	// 画像来自补全服务，只有向量是回退的
	rec := record(t, "c2", "qwen", true, "")
	store.On("ListCandidates", ctx, mock.Anything).Return([]models.CandidateRecord{rec}, nil)
	proc.On("EmbedProfile", ctx, mock.Anything).Return(embedding.Vector{Values: []float64{1, 0}, Model: "m", Fallback: true}, nil)
	store.On("SaveCandidate", ctx, mock.Anything).Return(nil)

	r, err := New(store, nil, proc)
	require.NoError(t, err)
	report, err := r.Run(ctx, 0)
	require.NoError(t, err)

	// 向量服务仍不可用，结果仍为回退
	assert.Equal(t, Report{Scanned: 1, Reembedded: 1, StillFallback: 1}, report)
	proc.AssertNotCalled(t, "Process", mock.Anything, mock.Anything)
}

func TestRunCountsFailures(t *testing.T) {
	ctx := context.Background()
	store, texts, proc := &mockStore{}, &mockTexts{}, &mockProcessor{}

	recs := []models.CandidateRecord{
		record(t, "c1", types.SourceFallback, false, "resume/c1/text.txt"),
		record(t, "c2", "qwen", true, ""),
	}
	store.On("ListCandidates", ctx, mock.Anything).Return(recs, nil)
	texts.On("GetText", ctx, "resume/c1/text.txt").Return("", errors.New("no such key"))
	proc.On("EmbedProfile", ctx, mock.Anything).Return(embedding.Vector{Values: []float64{1}, Model: "m"}, nil)
	store.On("SaveCandidate", ctx, mock.Anything).Return(nil)

	r, err := New(store, texts, proc, WithConcurrency(1))
	require.NoError(t, err)
	report, err := r.Run(ctx, 0)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Scanned)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Reembedded)
}

func TestRunPagesAndLimit(t *testing.T) {
	ctx := context.Background()
	store, proc := &mockStore{}, &mockProcessor{}

	page := func(ids ...string) []models.CandidateRecord {
		out := make([]models.CandidateRecord, 0, len(ids))
		for _, id := range ids {
			out = append(out, record(t, id, "qwen", true, ""))
		}
		return out
	}
	store.On("ListCandidates", ctx, storage.CandidateFilter{NeedsRepair: true, Limit: 2}).Return(page("a", "b"), nil)
	store.On("ListCandidates", ctx, storage.CandidateFilter{NeedsRepair: true, Limit: 2, Offset: 2}).Return(page("c", "d"), nil)
	proc.On("EmbedProfile", ctx, mock.Anything).Return(embedding.Vector{Values: []float64{1}, Model: "m"}, nil)
	store.On("SaveCandidate", ctx, mock.Anything).Return(nil)

	r, err := New(store, nil, proc, WithBatchSize(2))
	require.NoError(t, err)
	report, err := r.Run(ctx, 3)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Scanned)
	assert.Equal(t, 3, report.Reembedded)
	store.AssertNumberOfCalls(t, "SaveCandidate", 3)
}

func TestRunListError(t *testing.T) {
	store := &mockStore{}
	store.On("ListCandidates", mock.Anything, mock.Anything).Return(nil, errors.New("db down"))

	r, err := New(store, nil, &mockProcessor{})
	require.NoError(t, err)
	_, err = r.Run(context.Background(), 0)
	assert.Error(t, err)
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(nil, nil, &mockProcessor{})
	assert.Error(t, err)
	_, err = New(&mockStore{}, nil, nil)
	assert.Error(t, err)
}

package llmtest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resume-match-go/internal/llm"
)

func TestMockProviderSequence(t *testing.T) {
	m := &MockProvider{Responses: []MockResponse{{Err: errors.New("boom")}, {Content: "second"}}}
	_, err := m.Complete(context.Background(), llm.CompletionRequest{})
	assert.Error(t, err)
	out, _ := m.Complete(context.Background(), llm.CompletionRequest{})
	assert.Equal(t, "second", out)
	out, _ = m.Complete(context.Background(), llm.CompletionRequest{})
	assert.Equal(t, "second", out, "用完后重复最后一条")
	assert.Equal(t, 3, m.Calls())
	require.Len(t, m.Requests(), 3)
	assert.Equal(t, "mock", m.Name())
}

// TestMockProviderFunc 设置了 CompleteFunc 时忽略预置响应
func TestMockProviderFunc(t *testing.T) {
	m := &MockProvider{
		ProviderName: "stub",
		Responses:    []MockResponse{{Content: "ignored"}},
		CompleteFunc: func(ctx context.Context, req llm.CompletionRequest) (string, error) {
			return "from-func", nil
		},
	}
	out, err := m.Complete(context.Background(), llm.CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "from-func", out)
	assert.Equal(t, "stub", m.Name())
}

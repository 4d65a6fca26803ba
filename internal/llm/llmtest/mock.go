// Package llmtest 提供测试用的补全服务替身。
package llmtest

import (
	"context"
	"sync"

	"resume-match-go/internal/llm"
)

// MockProvider 测试用补全服务，按顺序返回预置的响应
type MockProvider struct {
	ProviderName string
	// CompleteFunc 不为空时优先使用
	CompleteFunc func(ctx context.Context, req llm.CompletionRequest) (string, error)
	Responses    []MockResponse

	mu       sync.Mutex
	calls    int
	requests []llm.CompletionRequest
}

// MockResponse 预置的一次响应
type MockResponse struct {
	Content string
	Err     error
}

var _ llm.CompletionProvider = (*MockProvider)(nil)

// Name 服务名称
func (m *MockProvider) Name() string {
	if m.ProviderName == "" {
		return "mock"
	}
	return m.ProviderName
}

// Complete 返回下一条预置响应，用完后重复最后一条
func (m *MockProvider) Complete(ctx context.Context, req llm.CompletionRequest) (string, error) {
	m.mu.Lock()
	idx := m.calls
	m.calls++
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, req)
	}
	if len(m.Responses) == 0 {
		return "", nil
	}
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	}
	r := m.Responses[idx]
	return r.Content, r.Err
}

// Calls 调用次数
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Requests 已收到的请求
func (m *MockProvider) Requests() []llm.CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]llm.CompletionRequest(nil), m.requests...)
}

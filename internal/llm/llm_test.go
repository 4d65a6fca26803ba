package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resume-match-go/internal/types"
)

// MockChatModel 模拟 eino 聊天模型
type MockChatModel struct {
	lastMessages []*schema.Message
	lastOptions  *model.Options
	reply        string
	err          error
}

func (m *MockChatModel) Generate(ctx context.Context, messages []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	m.lastMessages = messages
	m.lastOptions = model.GetCommonOptions(&model.Options{}, opts...)
	if m.err != nil {
		return nil, m.err
	}
	return schema.AssistantMessage(m.reply, nil), nil
}

func (m *MockChatModel) Stream(ctx context.Context, messages []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not implemented")
}

func (m *MockChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return m, nil
}

// TestChatModelProvider 验证消息角色和调用选项能正确传递给 eino 模型
func TestChatModelProvider(t *testing.T) {
	mockModel := &MockChatModel{reply: `{"ok":true}`}
	p := NewChatModelProvider("qwen", mockModel)

	out, err := p.Complete(context.Background(), CompletionRequest{
		Messages: []types.ChatMessage{
			{Role: types.RoleSystem, Content: "sys"},
			{Role: types.RoleUser, Content: "hello"},
			{Role: types.RoleAssistant, Content: "hi"},
		},
		Temperature: Temperature(0.2),
		MaxTokens:   100,
		JSON:        true,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, out)
	assert.Equal(t, "qwen", p.Name())

	require.Len(t, mockModel.lastMessages, 3)
	assert.Equal(t, schema.System, mockModel.lastMessages[0].Role)
	assert.Equal(t, schema.User, mockModel.lastMessages[1].Role)
	assert.Equal(t, schema.Assistant, mockModel.lastMessages[2].Role)
	require.NotNil(t, mockModel.lastOptions.MaxTokens)
	assert.Equal(t, 100, *mockModel.lastOptions.MaxTokens)
	require.NotNil(t, mockModel.lastOptions.Temperature)
	assert.InDelta(t, 0.2, *mockModel.lastOptions.Temperature, 1e-6)

	// 未设置温度时不下发，交给服务默认值
	_, err = p.Complete(context.Background(), CompletionRequest{
		Messages: []types.ChatMessage{{Role: types.RoleUser, Content: "hello"}},
	})
	require.NoError(t, err)
	assert.Nil(t, mockModel.lastOptions.Temperature)

	// 空内容视为失败
	mockModel.reply = "   "
	_, err = p.Complete(context.Background(), CompletionRequest{})
	assert.Error(t, err)
}

// TestQwenChatModelGenerate 使用本地 HTTP 服务模拟 DashScope 兼容接口
func TestQwenChatModelGenerate(t *testing.T) {
	var captured qwenChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &captured))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"1","model":"qwen-plus","choices":[{"index":0,"message":{"role":"assistant","content":"{\"a\":1}"},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":2}}`))
	}))
	defer srv.Close()

	m, err := NewQwenChatModel("test-key", "", srv.URL, time.Second)
	require.NoError(t, err)

	resp, err := m.Generate(context.Background(),
		[]*schema.Message{schema.SystemMessage("s"), schema.UserMessage("u")},
		model.WithTemperature(0.1), WithJSONResponse())
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, resp.Content)
	assert.Equal(t, schema.Assistant, resp.Role)

	assert.Equal(t, "qwen-plus", captured.Model, "未指定模型时使用默认模型")
	require.NotNil(t, captured.ResponseFormat)
	assert.Equal(t, "json_object", captured.ResponseFormat.Type)
	require.Len(t, captured.Messages, 2)
	assert.Equal(t, "system", captured.Messages[0].Role)
}

func TestQwenChatModelHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"code":"Throttling","message":"rate limit"}}`))
	}))
	defer srv.Close()

	m, err := NewQwenChatModel("k", "qwen-max", srv.URL, time.Second)
	require.NoError(t, err)
	_, err = m.Generate(context.Background(), []*schema.Message{schema.UserMessage("u")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")

	_, err = NewQwenChatModel(" ", "", "", 0)
	assert.Error(t, err, "API Key 为空时应报错")
}

// TestOpenAIProviderComplete 通过兼容地址验证 OpenAI SDK 的请求与响应处理
func TestOpenAIProviderComplete(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"c1","object":"chat.completion","created":1,"model":"gpt-4o-mini","choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":" {\"x\":1} "}}]}`))
	}))
	defer srv.Close()

	p, err := NewOpenAIProvider("", "sk-test", "", srv.URL+"/")
	require.NoError(t, err)
	out, err := p.Complete(context.Background(), CompletionRequest{
		Messages:    []types.ChatMessage{{Role: types.RoleUser, Content: "hi"}},
		JSON:        true,
		Temperature: Temperature(0),
	})
	require.NoError(t, err)
	assert.Equal(t, `{"x":1}`, out)
	// 温度为 0 时也要显式下发，否则服务端会使用默认的较高温度
	temp, ok := body["temperature"]
	require.True(t, ok, "temperature=0 应出现在请求体中")
	assert.Equal(t, float64(0), temp)
	assert.Equal(t, "openai", p.Name())
	assert.Equal(t, "gpt-4o-mini", body["model"])
	assert.NotNil(t, body["response_format"])
}

func TestAnthropicProviderComplete(t *testing.T) {
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"m1","type":"message","role":"assistant","model":"claude-3-5-haiku-latest","content":[{"type":"text","text":"{\"y\":2}"}],"stop_reason":"end_turn","usage":{"input_tokens":1,"output_tokens":1}}`))
	}))
	defer srv.Close()

	p, err := NewAnthropicProvider("claude", "sk-ant", "claude-3-5-haiku-latest", srv.URL+"/")
	require.NoError(t, err)
	out, err := p.Complete(context.Background(), CompletionRequest{
		Messages: []types.ChatMessage{
			{Role: types.RoleSystem, Content: "only json"},
			{Role: types.RoleUser, Content: "hi"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, `{"y":2}`, out)
	assert.NotNil(t, body["system"], "system 消息应放入顶层 system 字段")
	msgs, ok := body["messages"].([]any)
	require.True(t, ok)
	assert.Len(t, msgs, 1)

	_, err = NewAnthropicProvider("", "k", "", "")
	assert.Error(t, err, "未配置模型时应报错")
}

func TestTokenBucket(t *testing.T) {
	tb := NewTokenBucket(60, 2)
	now := time.Now()
	tb.now = func() time.Time { return now }
	tb.lastRefillTime = now

	assert.True(t, tb.Allow())
	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow(), "桶已空")

	// 60 QPM 即每秒 1 个令牌
	now = now.Add(time.Second)
	assert.True(t, tb.Allow())
}

func TestTokenBucketWaitHonoursContext(t *testing.T) {
	tb := NewTokenBucket(1, 1)
	require.True(t, tb.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := tb.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRateLimitedProvider(t *testing.T) {
	inner := &countingProvider{name: "inner", reply: "ok"}
	p := NewRateLimitedProvider(inner, 600)
	out, err := p.Complete(context.Background(), CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
	assert.Equal(t, "inner", p.Name())
	assert.Equal(t, 1, inner.calls)
}

func TestEffectiveQPM(t *testing.T) {
	limits := map[string]int{"qwen-plus": 100}
	assert.Equal(t, 50, EffectiveQPM("qwen-plus", limits, 50))
	assert.Equal(t, 90, EffectiveQPM("qwen-plus", limits, 0))
	assert.Equal(t, 30, EffectiveQPM("unknown", limits, 0))
}

// countingProvider 记录调用次数的最小补全服务
type countingProvider struct {
	name  string
	reply string
	calls int
}

func (p *countingProvider) Name() string { return p.name }

func (p *countingProvider) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	p.calls++
	return p.reply, nil
}

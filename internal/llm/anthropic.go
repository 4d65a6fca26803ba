package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"resume-match-go/internal/types"
)

const defaultAnthropicMaxTokens = 4096

// AnthropicProvider 基于官方 SDK 的 Claude 补全服务
type AnthropicProvider struct {
	name   string
	client *anthropic.Client
	model  string
}

// NewAnthropicProvider 创建 Anthropic 补全服务
func NewAnthropicProvider(name, apiKey, modelName, baseURL string) (*AnthropicProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic 需要 api_key")
	}
	if modelName == "" {
		return nil, fmt.Errorf("anthropic 需要 model")
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := anthropic.NewClient(opts...)
	if name == "" {
		name = "anthropic"
	}
	return &AnthropicProvider{name: name, client: &client, model: modelName}, nil
}

// Name 服务名称
func (p *AnthropicProvider) Name() string { return p.name }

// Complete 调用 Messages 接口。Claude 没有 JSON 模式，JSON 约束完全依赖提示词。
func (p *AnthropicProvider) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	system, rest := splitSystem(req.Messages)

	messages := make([]anthropic.MessageParam, 0, len(rest))
	for _, m := range rest {
		if m.Role == types.RoleAssistant {
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
			continue
		}
		messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
	}

	maxTokens := int64(defaultAnthropicMaxTokens)
	if req.MaxTokens > 0 {
		maxTokens = int64(req.MaxTokens)
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: maxTokens,
		Messages:  messages,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("anthropic 请求失败: %w", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	content := strings.TrimSpace(sb.String())
	if content == "" {
		return "", fmt.Errorf("anthropic 返回空内容")
	}
	return content, nil
}

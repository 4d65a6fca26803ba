package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"resume-match-go/internal/types"
)

// GeminiProvider 基于 genai SDK 的 Gemini 补全服务
type GeminiProvider struct {
	name   string
	client *genai.Client
	model  string
}

// NewGeminiProvider 创建 Gemini 补全服务
func NewGeminiProvider(ctx context.Context, name, apiKey, modelName string) (*GeminiProvider, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("gemini 需要 api_key")
	}
	if modelName == "" {
		modelName = "gemini-2.0-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("创建 gemini 客户端失败: %w", err)
	}
	if name == "" {
		name = "gemini"
	}
	return &GeminiProvider{name: name, client: client, model: modelName}, nil
}

// Name 服务名称
func (p *GeminiProvider) Name() string { return p.name }

// Complete 调用 GenerateContent 接口
func (p *GeminiProvider) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	system, rest := splitSystem(req.Messages)

	contents := make([]*genai.Content, 0, len(rest))
	for _, m := range rest {
		role := genai.RoleUser
		if m.Role == types.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(m.Content, genai.Role(role)))
	}

	cfg := &genai.GenerateContentConfig{}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if req.Temperature != nil {
		cfg.Temperature = genai.Ptr(float32(*req.Temperature))
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.JSON {
		cfg.ResponseMIMEType = "application/json"
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, cfg)
	if err != nil {
		return "", fmt.Errorf("gemini 请求失败: %w", err)
	}

	var builder strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil || part.Text == "" {
				continue
			}
			builder.WriteString(part.Text)
		}
		// 只取第一个有效候选
		if builder.Len() > 0 {
			break
		}
	}
	output := strings.TrimSpace(builder.String())
	if output == "" {
		return "", fmt.Errorf("gemini 返回空内容")
	}
	return output, nil
}

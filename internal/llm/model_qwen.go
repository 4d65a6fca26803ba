package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"resume-match-go/internal/logger"
	"resume-match-go/internal/tracing"
)

const (
	// DashScope 的 OpenAI 兼容接口
	openAICompatibleQwenAPIURL = "https://dashscope.aliyuncs.com/compatible-mode/v1/chat/completions"
	defaultQwenModelName       = "qwen-plus"
)

// qwenOptions 通义千问模型的专有调用选项
type qwenOptions struct {
	jsonResponse bool
}

// WithJSONResponse 要求模型以 JSON 对象格式返回
func WithJSONResponse() model.Option {
	return model.WrapImplSpecificOptFn(func(o *qwenOptions) {
		o.jsonResponse = true
	})
}

// QwenChatModel 通过 OpenAI 兼容协议调用阿里云通义千问，实现 eino 的 ToolCallingChatModel 接口
type QwenChatModel struct {
	apiKey     string
	modelName  string
	apiURL     string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewQwenChatModel 创建通义千问模型
func NewQwenChatModel(apiKey, modelName, apiURL string, timeout time.Duration) (*QwenChatModel, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("API 密钥不能为空")
	}
	if strings.TrimSpace(modelName) == "" {
		modelName = defaultQwenModelName
	}
	if strings.TrimSpace(apiURL) == "" {
		apiURL = openAICompatibleQwenAPIURL
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	l := logger.Named("qwen")
	l.Info().Str("url", apiURL).Str("model", modelName).Msg("使用阿里云通义千问 LLM 客户端")

	return &QwenChatModel{
		apiKey:     apiKey,
		modelName:  modelName,
		apiURL:     apiURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     l,
	}, nil
}

type qwenMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type qwenResponseFormat struct {
	Type string `json:"type"`
}

type qwenChatRequest struct {
	Model          string              `json:"model"`
	Messages       []qwenMessage       `json:"messages"`
	Temperature    *float32            `json:"temperature,omitempty"`
	MaxTokens      *int                `json:"max_tokens,omitempty"`
	TopP           *float32            `json:"top_p,omitempty"`
	Stop           []string            `json:"stop,omitempty"`
	ResponseFormat *qwenResponseFormat `json:"response_format,omitempty"`
}

type qwenChatChoice struct {
	Index   int `json:"index"`
	Message struct {
		Role    string  `json:"role"`
		Content *string `json:"content"`
	} `json:"message"`
	FinishReason string `json:"finish_reason"`
}

type qwenChatResponse struct {
	ID      string           `json:"id"`
	Model   string           `json:"model"`
	Choices []qwenChatChoice `json:"choices"`
	Usage   struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Generate 实现 model.ToolCallingChatModel 接口
func (q *QwenChatModel) Generate(ctx context.Context, messages []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	common := model.GetCommonOptions(&model.Options{}, opts...)
	specific := model.GetImplSpecificOptions(&qwenOptions{}, opts...)

	reqPayload := qwenChatRequest{
		Model:       q.modelName,
		Messages:    make([]qwenMessage, 0, len(messages)),
		Temperature: common.Temperature,
		MaxTokens:   common.MaxTokens,
		TopP:        common.TopP,
		Stop:        common.Stop,
	}
	if common.Model != nil && *common.Model != "" {
		reqPayload.Model = *common.Model
	}
	if specific.jsonResponse {
		reqPayload.ResponseFormat = &qwenResponseFormat{Type: "json_object"}
	}
	for _, m := range messages {
		if m == nil {
			continue
		}
		reqPayload.Messages = append(reqPayload.Messages, qwenMessage{Role: string(m.Role), Content: m.Content})
	}

	jsonData, err := json.Marshal(reqPayload)
	if err != nil {
		return nil, fmt.Errorf("序列化请求体失败: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, q.apiURL, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("创建 HTTP 请求失败: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+q.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	q.logger.Debug().Str("model", reqPayload.Model).Int("messages", len(reqPayload.Messages)).Msg("发送补全请求")

	httpResp, err := q.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("发送 HTTP 请求失败: %w", err)
	}
	defer httpResp.Body.Close()

	bodyBytes, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API 请求失败，状态 %s: %s", httpResp.Status, tracing.TruncateString(string(bodyBytes), tracing.DefaultMaxLength))
	}

	var resp qwenChatResponse
	if err := json.Unmarshal(bodyBytes, &resp); err != nil {
		return nil, fmt.Errorf("反序列化 API 响应失败: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("API 返回错误 %s: %s", resp.Error.Code, resp.Error.Message)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("从 API 收到空选项")
	}

	choice := resp.Choices[0].Message
	content := ""
	if choice.Content != nil {
		content = *choice.Content
	}
	role := schema.Assistant
	if choice.Role != "" {
		role = schema.RoleType(choice.Role)
	}

	q.logger.Debug().
		Int("prompt_tokens", resp.Usage.PromptTokens).
		Int("completion_tokens", resp.Usage.CompletionTokens).
		Msg("收到补全响应")

	return &schema.Message{Role: role, Content: content}, nil
}

// Stream 实现 model.ToolCallingChatModel 接口，简历抽取不需要流式输出
func (q *QwenChatModel) Stream(ctx context.Context, messages []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, fmt.Errorf("QwenChatModel 不支持 Stream")
}

// WithTools 实现 model.ToolCallingChatModel 接口。抽取流程不使用工具调用。
func (q *QwenChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	if len(tools) == 0 {
		return q, nil
	}
	return nil, fmt.Errorf("QwenChatModel 不支持工具调用")
}

var _ model.ToolCallingChatModel = (*QwenChatModel)(nil)

// ChatModelProvider 把任意 eino 聊天模型适配为 CompletionProvider
type ChatModelProvider struct {
	name  string
	model model.ToolCallingChatModel
}

// NewChatModelProvider 创建基于 eino 模型的补全服务
func NewChatModelProvider(name string, m model.ToolCallingChatModel) *ChatModelProvider {
	return &ChatModelProvider{name: name, model: m}
}

// Name 服务名称
func (p *ChatModelProvider) Name() string { return p.name }

// Complete 调用底层模型
func (p *ChatModelProvider) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	msgs := make([]*schema.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			msgs = append(msgs, schema.SystemMessage(m.Content))
		case "assistant":
			msgs = append(msgs, schema.AssistantMessage(m.Content, nil))
		default:
			msgs = append(msgs, schema.UserMessage(m.Content))
		}
	}

	var opts []model.Option
	if req.Temperature != nil {
		opts = append(opts, model.WithTemperature(float32(*req.Temperature)))
	}
	if req.MaxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(req.MaxTokens))
	}
	if req.JSON {
		opts = append(opts, WithJSONResponse())
	}

	resp, err := p.model.Generate(ctx, msgs, opts...)
	if err != nil {
		return "", err
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return "", fmt.Errorf("%s 返回空内容", p.name)
	}
	return resp.Content, nil
}

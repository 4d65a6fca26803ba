package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/rs/zerolog"

	"resume-match-go/internal/config"
	"resume-match-go/internal/logger"
	"resume-match-go/internal/tracing"
)

const (
	defaultAliyunModel   = "text-embedding-v3"
	defaultAliyunBaseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1/embeddings"
)

// AliyunEmbedder 通过 DashScope 的 OpenAI 兼容接口生成向量，实现 eino embedding.Embedder 接口
type AliyunEmbedder struct {
	apiKey     string
	model      string
	dimensions int
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

var _ embedding.Embedder = (*AliyunEmbedder)(nil)

// NewAliyunEmbedder 创建阿里云向量服务客户端
func NewAliyunEmbedder(cfg config.EmbeddingConfig) (*AliyunEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API密钥不能为空")
	}
	model := cfg.Model
	if model == "" {
		model = defaultAliyunModel
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultAliyunBaseURL
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &AliyunEmbedder{
		apiKey:     cfg.APIKey,
		model:      model,
		dimensions: cfg.Dimensions,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("aliyun-embedder"),
	}, nil
}

// Model 默认模型名
func (a *AliyunEmbedder) Model() string { return a.model }

// Dimensions 请求的向量维度
func (a *AliyunEmbedder) Dimensions() int { return a.dimensions }

type aliyunEmbeddingRequest struct {
	Input          interface{} `json:"input"` // string 或 []string
	Model          string      `json:"model"`
	Dimensions     int         `json:"dimensions,omitempty"`
	EncodingFormat string      `json:"encoding_format,omitempty"`
}

type aliyunEmbeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Model string `json:"model"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
	Error *aliyunError `json:"error,omitempty"`
}

type aliyunError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code"`
}

// EmbedStrings 将文本转换为向量，返回顺序与输入一致
func (a *AliyunEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	options := embedding.GetCommonOptions(&embedding.Options{}, opts...)
	model := a.model
	if options.Model != nil && *options.Model != "" {
		model = *options.Model
	}
	if len(texts) == 0 {
		return [][]float64{}, nil
	}

	var input interface{} = texts
	if len(texts) == 1 {
		input = texts[0]
	}
	body, err := json.Marshal(aliyunEmbeddingRequest{
		Input:          input,
		Model:          model,
		Dimensions:     a.dimensions,
		EncodingFormat: "float",
	})
	if err != nil {
		return nil, fmt.Errorf("序列化请求失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("创建HTTP请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("发送HTTP请求失败: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error aliyunError `json:"error"`
		}
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Message != "" {
			return nil, fmt.Errorf("API调用失败, 状态码: %d, 类型: %s, 错误: %s", resp.StatusCode, apiErr.Error.Type, apiErr.Error.Message)
		}
		return nil, fmt.Errorf("API调用失败, 状态码: %d, 响应: %s", resp.StatusCode, tracing.TruncateString(string(raw), 200))
	}

	var parsed aliyunEmbeddingResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("解析响应JSON失败: %w", err)
	}
	if parsed.Error != nil && parsed.Error.Message != "" {
		return nil, fmt.Errorf("API返回错误: 类型=%s, 消息='%s', Code=%s", parsed.Error.Type, parsed.Error.Message, parsed.Error.Code)
	}
	if len(parsed.Data) != len(texts) {
		return nil, fmt.Errorf("向量数量不匹配: 期望 %d, 实际 %d", len(texts), len(parsed.Data))
	}

	sort.Slice(parsed.Data, func(i, j int) bool { return parsed.Data[i].Index < parsed.Data[j].Index })
	out := make([][]float64, len(parsed.Data))
	for i, d := range parsed.Data {
		out[i] = d.Embedding
	}

	a.logger.Debug().
		Int("texts", len(texts)).
		Str("model", model).
		Int("dims", len(out[0])).
		Int("total_tokens", parsed.Usage.TotalTokens).
		Str("preview", tracing.VectorPreview(out[0])).
		Msg("向量生成成功")
	return out, nil
}

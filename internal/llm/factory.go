package llm

import (
	"context"
	"fmt"

	"resume-match-go/internal/config"
	"resume-match-go/internal/logger"
)

// BuildProviders 按配置顺序构建补全服务链。缺少 API Key 的服务会被跳过。
func BuildProviders(ctx context.Context, cfg config.LLMConfig) ([]CompletionProvider, error) {
	var providers []CompletionProvider
	for _, pc := range cfg.Providers {
		if pc.APIKey == "" {
			logger.Warn().Str("provider", pc.Name).Msg("未配置 API Key，跳过该补全服务")
			continue
		}
		p, err := buildProvider(ctx, pc)
		if err != nil {
			return nil, fmt.Errorf("初始化补全服务 %s 失败: %w", pc.Name, err)
		}
		qpm := EffectiveQPM(pc.Model, cfg.ModelQPMLimits, pc.QPM)
		providers = append(providers, NewRateLimitedProvider(p, qpm))
		logger.Info().Str("provider", pc.Name).Str("type", pc.Type).Str("model", pc.Model).Int("qpm", qpm).Msg("补全服务已就绪")
	}
	return providers, nil
}

func buildProvider(ctx context.Context, pc config.ProviderConfig) (CompletionProvider, error) {
	switch pc.Type {
	case config.ProviderQwen:
		m, err := NewQwenChatModel(pc.APIKey, pc.Model, pc.BaseURL, pc.Timeout())
		if err != nil {
			return nil, err
		}
		return NewChatModelProvider(pc.Name, m), nil
	case config.ProviderOpenAI:
		return NewOpenAIProvider(pc.Name, pc.APIKey, pc.Model, pc.BaseURL)
	case config.ProviderAnthropic:
		return NewAnthropicProvider(pc.Name, pc.APIKey, pc.Model, pc.BaseURL)
	case config.ProviderGemini:
		return NewGeminiProvider(ctx, pc.Name, pc.APIKey, pc.Model)
	default:
		return nil, fmt.Errorf("不支持的补全服务类型: %s", pc.Type)
	}
}

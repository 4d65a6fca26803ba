// Package llm 定义补全服务接口及各家模型的实现。
package llm

import (
	"context"
	"strings"

	"resume-match-go/internal/types"
)

// CompletionRequest 一次补全请求
type CompletionRequest struct {
	Messages    []types.ChatMessage
	JSON        bool // 要求返回机器可解析的 JSON
	Temperature *float64 // nil 时使用服务默认值，0 也会原样下发
	MaxTokens   int
}

// Temperature 构造采样温度参数
func Temperature(t float64) *float64 { return &t }

// CompletionProvider 外部补全服务。
// 返回错误即视为本次尝试失败，由调用方决定重试或级联。
type CompletionProvider interface {
	Name() string
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

// splitSystem 拆出 system 消息（多条合并），其余按原顺序返回
func splitSystem(messages []types.ChatMessage) (string, []types.ChatMessage) {
	var system []string
	rest := make([]types.ChatMessage, 0, len(messages))
	for _, m := range messages {
		if m.Role == types.RoleSystem {
			system = append(system, m.Content)
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(system, "\n\n"), rest
}

package tracing

import (
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"resume-match-go/internal/types"
)

// DefaultMaxLength 错误信息、响应体等写入 span 或错误时的默认截断长度
const DefaultMaxLength = 200

// span 属性长度上限，按字符计
const (
	maxKeyLength     = 100
	maxPromptLength  = 300
	vectorPreviewLen = 5
)

// TruncateString 超过 maxLength 个字符时保留首尾，中间用 "..." 连接
func TruncateString(s string, maxLength int) string {
	runes := []rune(s)
	if len(runes) <= maxLength {
		return s
	}
	if maxLength <= 3 {
		return string(runes[:maxLength])
	}
	head := (maxLength - 3) / 2
	tail := maxLength - 3 - head
	return string(runes[:head]) + "..." + string(runes[len(runes)-tail:])
}

// SafeRedisKey 截断过长的缓存键
func SafeRedisKey(key string) string { return TruncateString(key, maxKeyLength) }

// SafePrompt 截断提示词
func SafePrompt(prompt string) string { return TruncateString(prompt, maxPromptLength) }

// VectorPreview 向量前几个分量，用于日志
func VectorPreview(vec []float64) string {
	if len(vec) <= vectorPreviewLen {
		return fmt.Sprintf("%v", vec)
	}
	return fmt.Sprintf("%v...(共%d维)", vec[:vectorPreviewLen], len(vec))
}

// MaskPII 个人信息打码：两字保留首字，三到四字保留首尾，更长的保留首尾各两个字符。
// "张三" -> "张*"，"王小明" -> "王*明"，"john@x.com" -> "jo******om"
func MaskPII(value string) string {
	runes := []rune(value)
	n := len(runes)
	switch {
	case n == 0:
		return ""
	case n == 1:
		return "*"
	case n == 2:
		return string(runes[0]) + "*"
	case n <= 4:
		return string(runes[0]) + strings.Repeat("*", n-2) + string(runes[n-1])
	default:
		return string(runes[:2]) + strings.Repeat("*", n-4) + string(runes[n-2:])
	}
}

// ProfileAttributes 画像的 span 属性，姓名与邮箱打码后记录
func ProfileAttributes(p *types.StructuredProfile) []attribute.KeyValue {
	if p == nil {
		return nil
	}
	attrs := []attribute.KeyValue{
		attribute.String("candidate.source", p.Source),
		attribute.Int("candidate.skills", len(p.AllSkills())),
		attribute.Float64("candidate.experience_years", p.Professional.TotalExperienceYears),
	}
	if name := p.Personal.FullName; name != "" {
		attrs = append(attrs, attribute.String("candidate.name", MaskPII(name)))
	}
	if email := p.Personal.Email; email != "" {
		attrs = append(attrs, attribute.String("candidate.email", MaskPII(email)))
	}
	if title := p.Professional.Title; title != "" {
		attrs = append(attrs, attribute.String("candidate.title", TruncateString(title, maxKeyLength)))
	}
	return attrs
}

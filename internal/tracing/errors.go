package tracing

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"resume-match-go/internal/errs"
)

// ErrorType 定义错误类型，便于分类和过滤
type ErrorType string

const (
	// ErrorTypeDB 数据库错误
	ErrorTypeDB ErrorType = "db"
	// ErrorTypeRedis Redis错误
	ErrorTypeRedis ErrorType = "redis"
	// ErrorTypeObjectStore 对象存储错误
	ErrorTypeObjectStore ErrorType = "object_store"
	// ErrorTypeLLM 补全服务错误
	ErrorTypeLLM ErrorType = "llm"
	// ErrorTypeEmbedding 向量服务错误
	ErrorTypeEmbedding ErrorType = "embedding"
	// ErrorTypeValidation 验证错误
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeParse 响应解析错误
	ErrorTypeParse ErrorType = "parse"
	// ErrorTypeInternal 内部错误
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypeTimeout 超时错误
	ErrorTypeTimeout ErrorType = "timeout"
)

// ClassifyError 根据错误链推断错误类型
func ClassifyError(err error) ErrorType {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorTypeTimeout
	case errors.Is(err, errs.ErrInvalidInput), errors.Is(err, errs.ErrTextExtraction):
		return ErrorTypeValidation
	case errors.Is(err, errs.ErrRequirementExtractionParse), errors.Is(err, errs.ErrExtractionInsufficientData):
		return ErrorTypeParse
	case errors.Is(err, errs.ErrExtractionProvider):
		return ErrorTypeLLM
	case errors.Is(err, errs.ErrEmbeddingProvider):
		return ErrorTypeEmbedding
	}
	return ErrorTypeInternal
}

// RecordError 记录错误，添加统一的错误类型和详情
func RecordError(span trace.Span, err error, errorType ErrorType, attributes ...attribute.KeyValue) {
	if span == nil || err == nil {
		return
	}
	if errorType == "" {
		errorType = ClassifyError(err)
	}

	span.RecordError(err)
	span.SetAttributes(
		attribute.String("error.type", string(errorType)),
		attribute.String("error.message", TruncateString(err.Error(), DefaultMaxLength)),
	)
	if len(attributes) > 0 {
		span.SetAttributes(attributes...)
	}
	span.SetStatus(codes.Error, err.Error())
}

// RecordFallback 记录降级事件：调用失败但已被确定性回退吸收，span 不标记为错误
func RecordFallback(span trace.Span, component string, cause error) {
	if span == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.Bool("fallback.used", true),
		attribute.String("fallback.component", component),
	}
	if cause != nil {
		attrs = append(attrs, attribute.String("fallback.cause", TruncateString(cause.Error(), DefaultMaxLength)))
	}
	span.AddEvent("fallback", trace.WithAttributes(attrs...))
	span.SetAttributes(attribute.Bool("fallback.used", true))
}

// RecordHTTPError 记录返回给调用方的错误响应，4xx 与 5xx 分别归类
func RecordHTTPError(span trace.Span, err error, statusCode int) {
	if span == nil || err == nil {
		return
	}
	category := "server_error"
	if statusCode < 500 {
		category = "client_error"
	}
	RecordError(span, err, ClassifyError(err),
		attribute.Int("http.status_code", statusCode),
		attribute.String("error.category", category),
	)
}

// RecordDelivery 记录消费者对消息的处理结论。重新入队与拒绝都标记为错误。
func RecordDelivery(span trace.Span, messageID, decision, reason string) {
	if span == nil {
		return
	}
	span.SetAttributes(
		attribute.String("messaging.message_id", messageID),
		attribute.String("messaging.rabbitmq.decision", decision),
	)
	if decision == "ack" {
		return
	}
	if reason == "" {
		reason = "message not acknowledged by consumer"
	}
	span.SetAttributes(attribute.String("messaging.error_type", decision))
	span.SetStatus(codes.Error, TruncateString(reason, DefaultMaxLength))
}

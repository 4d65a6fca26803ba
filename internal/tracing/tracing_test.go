package tracing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"resume-match-go/internal/config"
	"resume-match-go/internal/errs"
	"resume-match-go/internal/types"
)

func TestMaskPII(t *testing.T) {
	assert.Equal(t, "", MaskPII(""))
	assert.Equal(t, "*", MaskPII("a"))
	assert.Equal(t, "张*", MaskPII("张三"))
	assert.Equal(t, "王*明", MaskPII("王小明"))
	assert.Equal(t, "jo******om", MaskPII("john@x.com"))
}

func TestTruncateString(t *testing.T) {
	assert.Equal(t, "abc", TruncateString("abc", 100))
	assert.Equal(t, "ab...yz", TruncateString("abcdefghijklmnopqrstuvwxyz", 7))
	assert.Equal(t, "ab", TruncateString("abcdef", 2))
	// 按字符而不是字节截断
	assert.Equal(t, "简...历", TruncateString("简历内容很长的简历", 5))

	// 默认长度截断后不超过 DefaultMaxLength 个字符
	long := strings.Repeat("错", DefaultMaxLength*2)
	assert.Len(t, []rune(TruncateString(long, DefaultMaxLength)), DefaultMaxLength)
}

func TestProfileAttributes(t *testing.T) {
	assert.Nil(t, ProfileAttributes(nil))

	p := &types.StructuredProfile{Source: "qwen"}
	p.Personal.FullName = "王小明"
	p.Personal.Email = "john@x.com"
	p.Professional.Skills.Primary = []string{"go", "redis"}

	attrs := map[string]string{}
	for _, kv := range ProfileAttributes(p) {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "王*明", attrs["candidate.name"])
	assert.Equal(t, "jo******om", attrs["candidate.email"])
	assert.Equal(t, "2", attrs["candidate.skills"])
	assert.Equal(t, "qwen", attrs["candidate.source"])
	_, hasTitle := attrs["candidate.title"]
	assert.False(t, hasTitle)
}

func TestClassifyError(t *testing.T) {
	assert.Equal(t, ErrorType(""), ClassifyError(nil))
	assert.Equal(t, ErrorTypeTimeout, ClassifyError(fmt.Errorf("call: %w", context.DeadlineExceeded)))
	assert.Equal(t, ErrorTypeValidation, ClassifyError(errs.NewInvalidInputError("embed", "维度不一致")))
	assert.Equal(t, ErrorTypeParse, ClassifyError(errs.NewRequirementParseError("非JSON", nil)))
	assert.Equal(t, ErrorTypeLLM, ClassifyError(errs.NewProviderError("qwen", "", nil)))
	assert.Equal(t, ErrorTypeInternal, ClassifyError(errors.New("boom")))
}

// TestRecordError 记录的错误应设置 span 状态和类型属性
func TestRecordError(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	_, span := tp.Tracer("test").Start(context.Background(), "op")

	RecordError(span, errs.NewEmbeddingProviderError("text-embedding-v3", "quota", nil), "")
	RecordFallback(span, "embedding", errors.New("quota"))
	span.End()

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)

	attrs := map[string]string{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, string(ErrorTypeEmbedding), attrs["error.type"])
	assert.Equal(t, "true", attrs["fallback.used"])
}

func TestInitProviderDisabled(t *testing.T) {
	shutdown, err := InitProvider(context.Background(), config.TracingConfig{Enabled: false})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestRecordDelivery(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	_, ok := tp.Tracer("test").Start(context.Background(), "ack")
	RecordDelivery(ok, "job-1", "ack", "")
	ok.End()

	_, requeued := tp.Tracer("test").Start(context.Background(), "requeue")
	RecordDelivery(requeued, "job-2", "requeue", "下载原件失败")
	requeued.End()

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Equal(t, codes.Error, spans[1].Status().Code)
	assert.Equal(t, "下载原件失败", spans[1].Status().Description)
}

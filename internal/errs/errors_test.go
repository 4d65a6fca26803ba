package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestPipelineErrorIs 验证自定义错误能被 errors.Is 正确识别
func TestPipelineErrorIs(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := NewProviderError("qwen", "第2次尝试", cause)

	assert.True(t, errors.Is(err, ErrExtractionProvider))
	assert.True(t, errors.Is(err, cause), "底层原因也应可被识别")
	assert.False(t, errors.Is(err, ErrInvalidInput))
	assert.Contains(t, err.Error(), "qwen")
	assert.Contains(t, err.Error(), "connection refused")

	// 经过 fmt.Errorf 包装后依然可识别
	wrapped := fmt.Errorf("上层调用: %w", NewInvalidInputError("cosine", "维度不一致"))
	assert.True(t, errors.Is(wrapped, ErrInvalidInput))

	var pe *PipelineError
	assert.True(t, errors.As(wrapped, &pe))
	assert.Equal(t, "cosine", pe.Op)
}

func TestErrorMessageWithoutCause(t *testing.T) {
	err := NewInsufficientDataError("openai", "缺少联系方式、职位与经历")
	assert.Equal(t, "结构化抽取结果信息不足 (操作:validate, 对象:openai): 缺少联系方式、职位与经历", err.Error())
}

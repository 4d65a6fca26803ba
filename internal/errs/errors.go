package errs

import (
	"errors"
	"fmt"
)

// 定义基础错误类型
var (
	// ErrExtractionProvider 补全服务调用失败（网络、非200、JSON格式错误），由编排器重试或级联处理
	ErrExtractionProvider = errors.New("结构化抽取服务调用失败")
	// ErrExtractionInsufficientData 解析结果不满足最低充分性要求，触发重试或级联
	ErrExtractionInsufficientData = errors.New("结构化抽取结果信息不足")
	// ErrRequirementExtractionParse 招聘需求抽取响应无法解析，直接返回给调用方
	ErrRequirementExtractionParse = errors.New("招聘需求解析失败")
	// ErrEmbeddingProvider 向量服务调用失败，由确定性回退向量吸收
	ErrEmbeddingProvider = errors.New("向量服务调用失败")
	// ErrInvalidInput 调用方输入无效（文本过短、向量维度不一致等）
	ErrInvalidInput = errors.New("输入无效")
	// ErrTextExtraction 文档无法解析或内容过短
	ErrTextExtraction = errors.New("文档文本提取失败")
)

// PipelineError 包含详细错误信息的自定义错误
type PipelineError struct {
	Op      string
	Subject string
	BaseErr error
	Detail  string
	Cause   error
}

func (e *PipelineError) Error() string {
	msg := fmt.Sprintf("%s (操作:%s", e.BaseErr, e.Op)
	if e.Subject != "" {
		msg += ", 对象:" + e.Subject
	}
	msg += ")"
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *PipelineError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.BaseErr, e.Cause}
	}
	return []error{e.BaseErr}
}

// Is 实现 errors.Is 接口以支持错误比较
func (e *PipelineError) Is(target error) bool {
	return errors.Is(e.BaseErr, target)
}

// 错误构造函数

func NewProviderError(provider, detail string, cause error) error {
	return &PipelineError{Op: "extract", Subject: provider, BaseErr: ErrExtractionProvider, Detail: detail, Cause: cause}
}

func NewInsufficientDataError(provider, detail string) error {
	return &PipelineError{Op: "validate", Subject: provider, BaseErr: ErrExtractionInsufficientData, Detail: detail}
}

func NewRequirementParseError(detail string, cause error) error {
	return &PipelineError{Op: "extract_requirements", BaseErr: ErrRequirementExtractionParse, Detail: detail, Cause: cause}
}

func NewEmbeddingProviderError(model, detail string, cause error) error {
	return &PipelineError{Op: "embed", Subject: model, BaseErr: ErrEmbeddingProvider, Detail: detail, Cause: cause}
}

func NewInvalidInputError(op, detail string) error {
	return &PipelineError{Op: op, BaseErr: ErrInvalidInput, Detail: detail}
}

func NewTextExtractionError(fileName, detail string, cause error) error {
	return &PipelineError{Op: "extract_text", Subject: fileName, BaseErr: ErrTextExtraction, Detail: detail, Cause: cause}
}

// Package handler 实现 HTTP 接口：简历解析、评分、向量、需求对话与候选人搜索。
package handler

import (
	"context"
	"errors"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"resume-match-go/internal/errs"
	"resume-match-go/internal/logger"
	"resume-match-go/internal/pipeline"
	"resume-match-go/internal/storage"
	"resume-match-go/internal/storage/models"
	"resume-match-go/internal/tracing"
)

// CandidateRepository 候选人与解析任务存储
type CandidateRepository interface {
	SaveCandidate(ctx context.Context, rec *models.CandidateRecord) error
	GetCandidate(ctx context.Context, id string) (*models.CandidateRecord, error)
	CreateParseTask(ctx context.Context, task *models.ParseTask) error
	GetParseTask(ctx context.Context, jobID string) (*models.ParseTask, error)
}

// DocumentUploader 原件归档
type DocumentUploader interface {
	UploadDocument(ctx context.Context, ownerID, fileName string, data []byte) (string, error)
}

// JobPublisher 发布异步解析任务
type JobPublisher interface {
	PublishParseJob(ctx context.Context, job *storage.ParseJob) error
}

// Deps 处理器依赖，除 Pipeline 外均可为空，为空时对应接口返回 503
type Deps struct {
	Pipeline   *pipeline.Pipeline
	Candidates CandidateRepository
	Documents  DocumentUploader
	Publisher  JobPublisher
	// Status 返回各存储组件状态，用于健康检查
	Status func(ctx context.Context) map[string]string
}

// Handler HTTP 处理器
type Handler struct {
	deps           Deps
	maxUploadBytes int
	logger         zerolog.Logger
}

// Option 处理器配置项
type Option func(*Handler)

// WithMaxUploadBytes 上传文件大小上限
func WithMaxUploadBytes(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxUploadBytes = n
		}
	}
}

// New 创建处理器
func New(deps Deps, opts ...Option) (*Handler, error) {
	if deps.Pipeline == nil {
		return nil, errors.New("pipeline cannot be nil")
	}
	h := &Handler{
		deps:           deps,
		maxUploadBytes: 10 << 20,
		logger:         logger.Named("api"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// statusFor 错误类型到 HTTP 状态码
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, errs.ErrInvalidInput):
		return consts.StatusBadRequest, "invalid_input"
	case errors.Is(err, errs.ErrTextExtraction):
		return consts.StatusBadRequest, "text_extraction"
	case errors.Is(err, errs.ErrRequirementExtractionParse):
		return consts.StatusUnprocessableEntity, "requirement_parse"
	case errors.Is(err, storage.ErrCandidateNotFound):
		return consts.StatusNotFound, "not_found"
	case errors.Is(err, context.DeadlineExceeded):
		return consts.StatusGatewayTimeout, "timeout"
	default:
		return consts.StatusInternalServerError, "internal"
	}
}

func (h *Handler) writeError(ctx context.Context, c *app.RequestContext, err error) {
	status, kind := statusFor(err)
	tracing.RecordHTTPError(trace.SpanFromContext(ctx), err, status)
	if status >= consts.StatusInternalServerError {
		h.logger.Error().Err(err).Str("path", string(c.Path())).Msg("请求处理失败")
	} else {
		h.logger.Debug().Err(err).Str("path", string(c.Path())).Msg("请求被拒绝")
	}
	c.JSON(status, ErrorResponse{Error: err.Error(), Kind: kind})
}

func (h *Handler) unavailable(c *app.RequestContext, what string) {
	c.JSON(consts.StatusServiceUnavailable, ErrorResponse{Error: what + " 未配置", Kind: "unavailable"})
}

// Health 健康检查
// GET /health
func (h *Handler) Health(ctx context.Context, c *app.RequestContext) {
	resp := utils.H{"status": "ok", "time": time.Now().UTC().Format(time.RFC3339)}
	if h.deps.Status != nil {
		resp["storage"] = h.deps.Status(ctx)
	}
	c.JSON(consts.StatusOK, resp)
}

package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/google/uuid"

	"resume-match-go/internal/errs"
	"resume-match-go/internal/pipeline"
	"resume-match-go/internal/storage"
	"resume-match-go/internal/storage/models"
	"resume-match-go/internal/types"
)

// ParseTextRequest JSON 形式的解析请求
type ParseTextRequest struct {
	Text        string   `json:"text"`
	MarketValue *float64 `json:"marketValue,omitempty"`
}

// ParseResponse 同步解析结果
type ParseResponse struct {
	CandidateID       string                   `json:"candidateId"`
	Profile           *types.StructuredProfile `json:"profile"`
	QualityScore      int                      `json:"qualityScore"`
	EmbeddingModel    string                   `json:"embeddingModel"`
	EmbeddingFallback bool                     `json:"embeddingFallback"`
	Persisted         bool                     `json:"persisted"`
}

// ParseJobResponse 异步解析受理结果
type ParseJobResponse struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
}

// upload 请求中的简历内容
type upload struct {
	data        []byte
	fileName    string
	mimeType    string
	marketValue *float64
	// plain 为 true 表示 JSON 提交的纯文本
	plain bool
}

// ParseResume 解析简历，?async=true 时存储原件并投递解析任务
// POST /api/v1/resumes/parse
func (h *Handler) ParseResume(ctx context.Context, c *app.RequestContext) {
	up, err := h.readUpload(c)
	if err != nil {
		h.writeError(ctx, c, err)
		return
	}
	if async, _ := strconv.ParseBool(c.Query("async")); async {
		h.enqueueParse(ctx, c, up)
		return
	}

	text := string(up.data)
	if !up.plain {
		text, err = h.deps.Pipeline.ExtractText(ctx, up.data, up.mimeType, up.fileName)
		if err != nil {
			h.writeError(ctx, c, err)
			return
		}
	}
	res, err := h.deps.Pipeline.Process(ctx, text)
	if err != nil {
		h.writeError(ctx, c, err)
		return
	}

	resp := ParseResponse{
		CandidateID:       res.CandidateID,
		Profile:           res.Profile,
		QualityScore:      res.QualityScore,
		EmbeddingModel:    res.Embedding.Model,
		EmbeddingFallback: res.Embedding.Fallback,
	}
	if h.deps.Candidates != nil {
		resp.Persisted = h.persist(ctx, res, up.marketValue)
	}
	c.JSON(consts.StatusOK, resp)
}

func (h *Handler) persist(ctx context.Context, res *pipeline.ProcessedResume, marketValue *float64) bool {
	rec, err := storage.NewCandidateRecord(storage.CandidateInput{
		CandidateID:       res.CandidateID,
		Profile:           res.Profile,
		QualityScore:      res.QualityScore,
		MarketValue:       marketValue,
		Embedding:         res.Embedding.Values,
		EmbeddingModel:    res.Embedding.Model,
		EmbeddingFallback: res.Embedding.Fallback,
		ParsedAt:          res.ParsedAt,
	})
	if err == nil {
		err = h.deps.Candidates.SaveCandidate(ctx, rec)
	}
	if err != nil {
		// 同步解析结果仍然返回给调用方
		h.logger.Warn().Err(err).Str("candidate_id", res.CandidateID).Msg("保存候选人失败")
		return false
	}
	return true
}

func (h *Handler) enqueueParse(ctx context.Context, c *app.RequestContext, up *upload) {
	if h.deps.Documents == nil || h.deps.Publisher == nil {
		h.unavailable(c, "对象存储或消息队列")
		return
	}

	jobID := uuid.NewString()
	fileName := up.fileName
	if up.plain {
		fileName = "resume.txt"
	}
	objectName, err := h.deps.Documents.UploadDocument(ctx, jobID, fileName, up.data)
	if err != nil {
		h.writeError(ctx, c, err)
		return
	}

	if h.deps.Candidates != nil {
		task := &models.ParseTask{JobID: jobID, FileName: fileName, ObjectName: objectName}
		if err := h.deps.Candidates.CreateParseTask(ctx, task); err != nil {
			h.logger.Warn().Err(err).Str("job_id", jobID).Msg("记录解析任务失败")
		}
	}

	job := &storage.ParseJob{
		JobID:       jobID,
		ObjectName:  objectName,
		MimeType:    up.mimeType,
		FileName:    fileName,
		MarketValue: up.marketValue,
		SubmittedAt: time.Now(),
	}
	if err := h.deps.Publisher.PublishParseJob(ctx, job); err != nil {
		h.writeError(ctx, c, fmt.Errorf("投递解析任务失败: %w", err))
		return
	}
	h.logger.Info().Str("job_id", jobID).Str("object", objectName).Msg("解析任务已投递")
	c.JSON(consts.StatusAccepted, ParseJobResponse{JobID: jobID, Status: models.StatusPendingParsing})
}

// readUpload 读取 multipart 文件或 JSON 文本
func (h *Handler) readUpload(c *app.RequestContext) (*upload, error) {
	if strings.HasPrefix(string(c.ContentType()), "multipart/form-data") {
		fh, err := c.FormFile("file")
		if err != nil {
			return nil, errs.NewInvalidInputError("parse_resume", "缺少上传文件字段 file")
		}
		if fh.Size > int64(h.maxUploadBytes) {
			return nil, errs.NewInvalidInputError("parse_resume", fmt.Sprintf("文件超过 %d 字节上限", h.maxUploadBytes))
		}
		f, err := fh.Open()
		if err != nil {
			return nil, fmt.Errorf("打开上传文件失败: %w", err)
		}
		defer f.Close()

		var buf bytes.Buffer
		if _, err := io.Copy(&buf, io.LimitReader(f, int64(h.maxUploadBytes)+1)); err != nil {
			return nil, fmt.Errorf("读取上传文件失败: %w", err)
		}
		up := &upload{
			data:     buf.Bytes(),
			fileName: fh.Filename,
			mimeType: fh.Header.Get("Content-Type"),
		}
		if mv := c.PostForm("marketValue"); mv != "" {
			v, err := strconv.ParseFloat(mv, 64)
			if err != nil {
				return nil, errs.NewInvalidInputError("parse_resume", "marketValue 不是数字")
			}
			up.marketValue = &v
		}
		return up, nil
	}

	var req ParseTextRequest
	if err := json.Unmarshal(c.Request.Body(), &req); err != nil {
		return nil, errs.NewInvalidInputError("parse_resume", "请求体不是合法的 JSON")
	}
	return &upload{data: []byte(req.Text), mimeType: "text/plain", plain: true, marketValue: req.MarketValue}, nil
}

// GetParseJob 查询异步解析任务状态
// GET /api/v1/resumes/parse/:jobId
func (h *Handler) GetParseJob(ctx context.Context, c *app.RequestContext) {
	if h.deps.Candidates == nil {
		h.unavailable(c, "候选人存储")
		return
	}
	task, err := h.deps.Candidates.GetParseTask(ctx, c.Param("jobId"))
	if err != nil {
		c.JSON(consts.StatusNotFound, ErrorResponse{Error: "解析任务不存在", Kind: "not_found"})
		return
	}
	c.JSON(consts.StatusOK, task)
}

// ScoreResume 计算画像质量分
// POST /api/v1/resumes/score
func (h *Handler) ScoreResume(ctx context.Context, c *app.RequestContext) {
	profile, err := bindProfile(c, "score_resume")
	if err != nil {
		h.writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, map[string]int{"score": h.deps.Pipeline.ScoreProfile(profile)})
}

// EmbedResume 生成画像向量
// POST /api/v1/resumes/embed
func (h *Handler) EmbedResume(ctx context.Context, c *app.RequestContext) {
	profile, err := bindProfile(c, "embed_resume")
	if err != nil {
		h.writeError(ctx, c, err)
		return
	}
	vec, err := h.deps.Pipeline.EmbedProfile(ctx, profile)
	if err != nil {
		h.writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, vec)
}

func bindProfile(c *app.RequestContext, op string) (*types.StructuredProfile, error) {
	var profile types.StructuredProfile
	if err := json.Unmarshal(c.Request.Body(), &profile); err != nil {
		return nil, errs.NewInvalidInputError(op, "请求体不是合法的画像 JSON")
	}
	profile.NormalizeAbsent()
	return &profile, nil
}

// CandidateView 候选人详情
type CandidateView struct {
	types.Candidate
	EmbeddingModel string    `json:"embeddingModel,omitempty"`
	ParsedAt       time.Time `json:"parsedAt"`
}

// GetCandidate 读取候选人
// GET /api/v1/candidates/:id
func (h *Handler) GetCandidate(ctx context.Context, c *app.RequestContext) {
	if h.deps.Candidates == nil {
		h.unavailable(c, "候选人存储")
		return
	}
	rec, err := h.deps.Candidates.GetCandidate(ctx, c.Param("id"))
	if err != nil {
		h.writeError(ctx, c, err)
		return
	}
	cand, err := storage.ToCandidate(rec)
	if err != nil {
		h.writeError(ctx, c, err)
		return
	}
	c.JSON(consts.StatusOK, CandidateView{Candidate: cand, EmbeddingModel: rec.EmbeddingModel, ParsedAt: rec.ParsedAt})
}

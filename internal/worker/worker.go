// Package worker 消费异步解析任务：下载原件、提取文本、解析评分生成向量并落库。
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"resume-match-go/internal/constants"
	"resume-match-go/internal/errs"
	"resume-match-go/internal/logger"
	"resume-match-go/internal/pipeline"
	"resume-match-go/internal/storage"
	"resume-match-go/internal/storage/models"
	"resume-match-go/internal/tracing"
)

// Processor 文本提取与简历处理
type Processor interface {
	ExtractText(ctx context.Context, data []byte, mimeType, fileName string) (string, error)
	Process(ctx context.Context, text string) (*pipeline.ProcessedResume, error)
}

// DocumentStore 原件与文本归档
type DocumentStore interface {
	DownloadDocument(ctx context.Context, objectName string) ([]byte, error)
	UploadText(ctx context.Context, candidateID, text string) (string, error)
}

// CandidateStore 候选人与任务状态持久化
type CandidateStore interface {
	SaveCandidate(ctx context.Context, rec *models.CandidateRecord) error
	UpdateParseTask(ctx context.Context, jobID, status, errMsg string) error
}

// Locker 分布式锁，获取失败时返回空字符串
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, error)
	ReleaseLock(ctx context.Context, key, value string) (bool, error)
}

// Consumer 消息来源
type Consumer interface {
	StartConsumer(ctx context.Context, queueName string, prefetchCount int, handler storage.Handler) (<-chan struct{}, error)
}

// Worker 解析任务消费者
type Worker struct {
	processor  Processor
	documents  DocumentStore
	candidates CandidateStore
	locker     Locker
	lockTTL    time.Duration
	timeout    time.Duration
	logger     zerolog.Logger
}

// Option Worker 配置项
type Option func(*Worker)

// WithLocker 启用去重锁
func WithLocker(l Locker) Option {
	return func(w *Worker) { w.locker = l }
}

// WithLockTTL 去重锁时长
func WithLockTTL(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.lockTTL = d
		}
	}
}

// WithTimeout 单个任务的处理时限
func WithTimeout(d time.Duration) Option {
	return func(w *Worker) {
		if d > 0 {
			w.timeout = d
		}
	}
}

// WithLogger 设置日志
func WithLogger(l zerolog.Logger) Option {
	return func(w *Worker) { w.logger = l }
}

// New 创建 Worker
func New(p Processor, docs DocumentStore, candidates CandidateStore, opts ...Option) (*Worker, error) {
	if p == nil || docs == nil || candidates == nil {
		return nil, fmt.Errorf("worker 依赖不完整: processor/documents/candidates 均不能为空")
	}
	w := &Worker{
		processor:  p,
		documents:  docs,
		candidates: candidates,
		lockTTL:    constants.ParseLockDuration,
		timeout:    5 * time.Minute,
		logger:     logger.Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Run 启动 n 个消费协程，ctx 取消后等待全部退出
func (w *Worker) Run(ctx context.Context, c Consumer, queue string, prefetch, n int) error {
	if n <= 0 {
		n = 1
	}
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		done, err := c.StartConsumer(ctx, queue, prefetch, w.Handle)
		if err != nil {
			return fmt.Errorf("启动第 %d 个消费者失败: %w", i+1, err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-done
		}()
	}
	w.logger.Info().Str("queue", queue).Int("consumers", n).Msg("解析 worker 已启动")
	wg.Wait()
	return ctx.Err()
}

// Handle 处理一条解析任务消息
func (w *Worker) Handle(ctx context.Context, body []byte) storage.Delivery {
	var job storage.ParseJob
	if err := json.Unmarshal(body, &job); err != nil {
		w.logger.Error().Err(err).Msg("解析任务消息格式错误，丢弃")
		return storage.Reject
	}
	if job.JobID == "" || job.ObjectName == "" {
		w.logger.Error().Str("job_id", job.JobID).Msg("解析任务缺少必要字段，丢弃")
		return storage.Reject
	}

	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	ctx, span := tracing.Tracer().Start(ctx, "worker.HandleParseJob",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("job.id", job.JobID),
			attribute.String("job.object", job.ObjectName),
		))
	defer span.End()

	log := w.logger.With().Str("job_id", job.JobID).Logger()
	result, status, err := w.process(ctx, &job, log)
	if err != nil {
		tracing.RecordError(span, err, tracing.ClassifyError(err))
	}

	msg := ""
	if err != nil {
		msg = err.Error()
	}
	tracing.RecordDelivery(span, job.JobID, deliveryName(result), msg)
	// 任务状态写失败不影响消息确认
	if uerr := w.candidates.UpdateParseTask(context.WithoutCancel(ctx), job.JobID, status, msg); uerr != nil {
		log.Warn().Err(uerr).Str("status", status).Msg("更新解析任务状态失败")
	}
	return result
}

func (w *Worker) process(ctx context.Context, job *storage.ParseJob, log zerolog.Logger) (storage.Delivery, string, error) {
	data, err := w.documents.DownloadDocument(ctx, job.ObjectName)
	if err != nil {
		log.Warn().Err(err).Msg("下载简历原件失败，重新入队")
		return storage.Requeue, models.StatusPendingParsing, err
	}

	text, err := w.processor.ExtractText(ctx, data, job.MimeType, job.FileName)
	if err != nil {
		if permanent(err) {
			log.Error().Err(err).Msg("简历文本提取失败，不再重试")
			return storage.Ack, models.StatusFailed, err
		}
		return storage.Requeue, models.StatusPendingParsing, err
	}

	candidateID := job.CandidateID
	if candidateID == "" {
		candidateID = pipeline.CandidateID(text)
	}
	log = log.With().Str("candidate_id", candidateID).Logger()

	if w.locker != nil {
		key := storage.ParseLockKey(candidateID)
		owner, err := w.locker.AcquireLock(ctx, key, w.lockTTL)
		switch {
		case err != nil:
			log.Warn().Err(err).Msg("获取去重锁失败，继续处理")
		case owner == "":
			log.Info().Msg("同一候选人正在处理中，跳过")
			return storage.Ack, models.StatusDuplicate, nil
		default:
			defer func() {
				if _, err := w.locker.ReleaseLock(context.WithoutCancel(ctx), key, owner); err != nil {
					log.Warn().Err(err).Msg("释放去重锁失败")
				}
			}()
		}
	}

	res, err := w.processor.Process(ctx, text)
	if err != nil {
		if permanent(err) {
			log.Error().Err(err).Msg("简历处理失败，不再重试")
			return storage.Ack, models.StatusFailed, err
		}
		log.Warn().Err(err).Msg("简历处理中断，重新入队")
		return storage.Requeue, models.StatusPendingParsing, err
	}

	textObject, err := w.documents.UploadText(ctx, candidateID, res.Text)
	if err != nil {
		// 文本归档失败不阻塞入库
		log.Warn().Err(err).Msg("上传规范化文本失败")
	}

	rec, err := storage.NewCandidateRecord(storage.CandidateInput{
		CandidateID:       candidateID,
		Profile:           res.Profile,
		QualityScore:      res.QualityScore,
		MarketValue:       job.MarketValue,
		Embedding:         res.Embedding.Values,
		EmbeddingModel:    res.Embedding.Model,
		EmbeddingFallback: res.Embedding.Fallback,
		SourceObject:      job.ObjectName,
		TextObject:        textObject,
		ParsedAt:          res.ParsedAt,
	})
	if err != nil {
		return storage.Ack, models.StatusFailed, err
	}
	if err := w.candidates.SaveCandidate(ctx, rec); err != nil {
		log.Warn().Err(err).Msg("保存候选人失败，重新入队")
		return storage.Requeue, models.StatusPendingParsing, err
	}

	log.Info().
		Int("quality", res.QualityScore).
		Str("source", res.Profile.Source).
		Msg("解析任务完成")
	return storage.Ack, models.StatusCompleted, nil
}

// permanent 重试也不会成功的错误
func deliveryName(d storage.Delivery) string {
	switch d {
	case storage.Ack:
		return "ack"
	case storage.Requeue:
		return "requeue"
	default:
		return "reject"
	}
}

func permanent(err error) bool {
	return errors.Is(err, errs.ErrTextExtraction) || errors.Is(err, errs.ErrInvalidInput)
}

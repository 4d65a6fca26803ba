// Package outbox 实现发件箱模式：解析任务先写入 MySQL，再由中继投递到 RabbitMQ。
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"resume-match-go/internal/logger"
	"resume-match-go/internal/storage"
	"resume-match-go/internal/storage/models"
	"resume-match-go/internal/tracing"
)

const (
	defaultPollingInterval = 5 * time.Second
	defaultBatchSize       = 10
	maxRetryCount          = 5
)

// Writer 把解析任务写入发件箱，实现与直接投递相同的 PublishParseJob
type Writer struct {
	db         *gorm.DB
	exchange   string
	routingKey string
}

// NewWriter 创建发件箱写入器
func NewWriter(db *gorm.DB, exchange, routingKey string) *Writer {
	return &Writer{db: db, exchange: exchange, routingKey: routingKey}
}

// NewParseJobMessage 构造解析任务对应的发件箱消息
func NewParseJobMessage(job *storage.ParseJob, exchange, routingKey string) (*models.OutboxMessage, error) {
	if job == nil || job.JobID == "" {
		return nil, fmt.Errorf("解析任务缺少 jobId")
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("序列化解析任务失败: %w", err)
	}
	return &models.OutboxMessage{
		AggregateID:      job.JobID,
		EventType:        models.EventParseRequested,
		Payload:          string(payload),
		TargetExchange:   exchange,
		TargetRoutingKey: routingKey,
		Status:           models.OutboxPending,
		CreatedAt:        time.Now(),
	}, nil
}

// PublishParseJob 写入发件箱，由 Relay 异步投递
func (w *Writer) PublishParseJob(ctx context.Context, job *storage.ParseJob) error {
	msg, err := NewParseJobMessage(job, w.exchange, w.routingKey)
	if err != nil {
		return err
	}
	if err := w.db.WithContext(ctx).Create(msg).Error; err != nil {
		return fmt.Errorf("写入发件箱失败: %w", err)
	}
	return nil
}

// Publisher 消息投递
type Publisher interface {
	PublishMessage(ctx context.Context, exchangeName, routingKey string, message []byte, persistent bool) error
}

// Relay 轮询 outbox 表并投递待发送的消息
type Relay struct {
	db              *gorm.DB
	publisher       Publisher
	pollingInterval time.Duration
	batchSize       int
	logger          zerolog.Logger
}

// Option 中继配置项
type Option func(*Relay)

// WithPollingInterval 轮询间隔
func WithPollingInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.pollingInterval = d
		}
	}
}

// WithBatchSize 每次轮询处理的消息数
func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// NewRelay 创建消息中继
func NewRelay(db *gorm.DB, publisher Publisher, opts ...Option) *Relay {
	r := &Relay{
		db:              db,
		publisher:       publisher,
		pollingInterval: defaultPollingInterval,
		batchSize:       defaultBatchSize,
		logger:          logger.Named("outbox"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run 阻塞轮询直到 ctx 取消
func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info().Dur("interval", r.pollingInterval).Int("batch", r.batchSize).Msg("消息中继已启动")
	ticker := time.NewTicker(r.pollingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("消息中继已停止")
			return ctx.Err()
		case <-ticker.C:
			if _, err := r.ProcessPending(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error().Err(err).Msg("处理发件箱消息失败")
			}
		}
	}
}

// ProcessPending 取一批待发送消息并投递，返回本批处理的消息数。
// 查询使用 FOR UPDATE SKIP LOCKED，多个实例可以同时运行中继。
func (r *Relay) ProcessPending(ctx context.Context) (int, error) {
	var messages []models.OutboxMessage

	tx := r.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return 0, tx.Error
	}
	defer tx.Rollback()

	err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
		Where("status = ?", models.OutboxPending).
		Order("created_at asc").
		Limit(r.batchSize).
		Find(&messages).Error
	if err != nil {
		return 0, fmt.Errorf("查询待发送消息失败: %w", err)
	}
	// 空轮询不创建 span
	if len(messages) == 0 {
		return 0, tx.Commit().Error
	}

	ctx, span := tracing.Tracer().Start(ctx, "outbox.ProcessBatch",
		trace.WithAttributes(attribute.Int("messaging.batch.message_count", len(messages))),
	)
	defer span.End()

	for i := range messages {
		msg := &messages[i]
		r.deliver(ctx, msg)
		if err := tx.Save(msg).Error; err != nil {
			// 整批回滚，下次轮询重新拾取
			tracing.RecordError(span, err, tracing.ErrorTypeDB)
			return 0, fmt.Errorf("更新发件箱消息 %d 失败: %w", msg.ID, err)
		}
	}
	if err := tx.Commit().Error; err != nil {
		return 0, err
	}
	return len(messages), nil
}

// deliver 投递单条消息并更新其状态
func (r *Relay) deliver(ctx context.Context, msg *models.OutboxMessage) {
	err := r.publisher.PublishMessage(ctx, msg.TargetExchange, msg.TargetRoutingKey, []byte(msg.Payload), true)
	if err != nil {
		msg.RetryCount++
		msg.ErrorMessage = err.Error()
		if msg.RetryCount >= maxRetryCount {
			msg.Status = models.OutboxFailed
		}
		r.logger.Warn().Err(err).
			Uint64("id", msg.ID).
			Str("job_id", msg.AggregateID).
			Int("retries", msg.RetryCount).
			Msg("投递发件箱消息失败")
		return
	}
	now := time.Now()
	msg.Status = models.OutboxSent
	msg.ProcessedAt = &now
	msg.ErrorMessage = ""
}

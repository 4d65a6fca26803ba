package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"resume-match-go/internal/storage"
	"resume-match-go/internal/storage/models"
)

type fakePublisher struct {
	err       error
	published [][]byte
}

func (p *fakePublisher) PublishMessage(ctx context.Context, exchangeName, routingKey string, message []byte, persistent bool) error {
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, message)
	return nil
}

func TestNewParseJobMessage(t *testing.T) {
	job := &storage.ParseJob{JobID: "job-1", ObjectName: "resume/job-1/original.pdf", FileName: "a.pdf"}
	msg, err := NewParseJobMessage(job, "resume.exchange", "resume.parse")
	require.NoError(t, err)

	assert.Equal(t, "job-1", msg.AggregateID)
	assert.Equal(t, models.EventParseRequested, msg.EventType)
	assert.Equal(t, models.OutboxPending, msg.Status)
	assert.Equal(t, "resume.exchange", msg.TargetExchange)
	assert.Equal(t, "resume.parse", msg.TargetRoutingKey)

	// 负载可被 worker 直接解码
	var decoded storage.ParseJob
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &decoded))
	assert.Equal(t, job.ObjectName, decoded.ObjectName)

	_, err = NewParseJobMessage(&storage.ParseJob{}, "x", "y")
	assert.Error(t, err)
	_, err = NewParseJobMessage(nil, "x", "y")
	assert.Error(t, err)
}

func TestDeliver(t *testing.T) {
	t.Run("投递成功标记为已发送", func(t *testing.T) {
		pub := &fakePublisher{}
		r := NewRelay(nil, pub)
		msg := &models.OutboxMessage{Payload: `{"jobId":"1"}`, Status: models.OutboxPending, ErrorMessage: "上次失败"}

		r.deliver(context.Background(), msg)

		assert.Equal(t, models.OutboxSent, msg.Status)
		assert.NotNil(t, msg.ProcessedAt)
		assert.Empty(t, msg.ErrorMessage)
		require.Len(t, pub.published, 1)
	})

	t.Run("投递失败累计重试次数", func(t *testing.T) {
		r := NewRelay(nil, &fakePublisher{err: errors.New("broker down")})
		msg := &models.OutboxMessage{Status: models.OutboxPending}

		r.deliver(context.Background(), msg)

		assert.Equal(t, models.OutboxPending, msg.Status)
		assert.Equal(t, 1, msg.RetryCount)
		assert.Equal(t, "broker down", msg.ErrorMessage)
		assert.Nil(t, msg.ProcessedAt)
	})

	t.Run("超过重试上限标记为失败", func(t *testing.T) {
		r := NewRelay(nil, &fakePublisher{err: errors.New("broker down")})
		msg := &models.OutboxMessage{Status: models.OutboxPending, RetryCount: maxRetryCount - 1}

		r.deliver(context.Background(), msg)

		assert.Equal(t, models.OutboxFailed, msg.Status)
	})
}

func TestRelayOptions(t *testing.T) {
	r := NewRelay(nil, &fakePublisher{}, WithPollingInterval(time.Second), WithBatchSize(50), WithBatchSize(-1))
	assert.Equal(t, time.Second, r.pollingInterval)
	assert.Equal(t, 50, r.batchSize)
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := NewRelay(nil, &fakePublisher{}, WithPollingInterval(time.Hour))
	assert.ErrorIs(t, r.Run(ctx), context.Canceled)
}

// 需要真实 MySQL，设置 MYSQL_DSN 后运行
func TestWriterAndRelayWithMySQL(t *testing.T) {
	dsn := os.Getenv("MYSQL_DSN")
	if dsn == "" {
		t.Skip("未设置 MYSQL_DSN，跳过 MySQL 集成测试")
	}
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.OutboxMessage{}))

	ctx := context.Background()
	jobID := uuid.NewString()
	w := NewWriter(db, "resume.exchange", "resume.parse")
	require.NoError(t, w.PublishParseJob(ctx, &storage.ParseJob{JobID: jobID, ObjectName: "resume/x/original.pdf"}))
	t.Cleanup(func() { db.Where("aggregate_id = ?", jobID).Delete(&models.OutboxMessage{}) })

	pub := &fakePublisher{}
	n, err := NewRelay(db, pub, WithBatchSize(100)).ProcessPending(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 1)

	var stored models.OutboxMessage
	require.NoError(t, db.Where("aggregate_id = ?", jobID).First(&stored).Error)
	assert.Equal(t, models.OutboxSent, stored.Status)
}

package models

import "time"

// 发件箱消息状态
const (
	OutboxPending = "PENDING"
	OutboxSent    = "SENT"
	OutboxFailed  = "FAILED"
)

// EventParseRequested 异步解析任务已提交
const EventParseRequested = "resume.parse.requested"

// OutboxMessage 待投递到消息队列的消息。先落库，再由中继异步投递，
// 消息队列短暂不可用时任务不会丢失。
type OutboxMessage struct {
	ID               uint64     `gorm:"primaryKey;autoIncrement"`
	AggregateID      string     `gorm:"type:varchar(36);not null;index"` // 解析任务ID
	EventType        string     `gorm:"type:varchar(64);not null"`
	Payload          string     `gorm:"type:json;not null"`
	TargetExchange   string     `gorm:"type:varchar(255);not null"`
	TargetRoutingKey string     `gorm:"type:varchar(255);not null"`
	Status           string     `gorm:"type:varchar(20);default:'PENDING';not null;index:idx_outbox_status_created_at"`
	RetryCount       int        `gorm:"default:0"`
	CreatedAt        time.Time  `gorm:"type:datetime(6);index:idx_outbox_status_created_at,sort:asc"`
	ProcessedAt      *time.Time `gorm:"type:datetime(6);null"`
	ErrorMessage     string     `gorm:"type:text"`
}

// TableName 表名
func (OutboxMessage) TableName() string {
	return "outbox_messages"
}

package models

import (
	"time"

	"gorm.io/datatypes"
)

// 解析任务状态
const (
	StatusPendingParsing = "PENDING_PARSING"
	StatusProcessing     = "PROCESSING"
	StatusCompleted      = "COMPLETED"
	StatusFailed         = "FAILED"
	// StatusDuplicate 同一候选人正在被其他任务处理
	StatusDuplicate = "DUPLICATE"
)

// CandidateRecord 候选人画像表，一个候选人只保留最新一次解析结果
type CandidateRecord struct {
	CandidateID string `gorm:"type:char(36);primaryKey"`
	FullName    string `gorm:"type:varchar(255)"`
	// EmailHash 邮箱的 sha256，用于去重，不落明文
	EmailHash            string         `gorm:"type:char(64);index:idx_candidates_email_hash"`
	Title                string         `gorm:"type:varchar(255)"`
	Location             string         `gorm:"type:varchar(255);index:idx_candidates_location"`
	TotalExperienceYears float64        `gorm:"type:decimal(5,2);default:0"`
	QualityScore         int            `gorm:"default:0;index:idx_candidates_quality"`
	MarketValue          *float64       `gorm:"type:decimal(5,4)"`
	ProfileJSON          datatypes.JSON `gorm:"type:json;not null"`
	SkillsJSON           datatypes.JSON `gorm:"type:json"`
	EmbeddingJSON        datatypes.JSON `gorm:"type:json"`
	EmbeddingModel       string         `gorm:"type:varchar(100)"`
	EmbeddingDims        int
	EmbeddingFallback    bool
	ProfileSource        string    `gorm:"type:varchar(50)"`
	SourceObject         string    `gorm:"type:varchar(1024)"`
	TextObject           string    `gorm:"type:varchar(1024)"`
	ParserVersion        string    `gorm:"type:varchar(50)"`
	ParsedAt             time.Time `gorm:"type:datetime(6)"`
	CreatedAt            time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt            time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime;index:idx_candidates_updated_at"`
}

func (CandidateRecord) TableName() string {
	return "candidates"
}

// ParseTask 异步解析任务记录
type ParseTask struct {
	JobID        string `gorm:"type:char(36);primaryKey"`
	CandidateID  string `gorm:"type:char(36);index:idx_parse_tasks_candidate_id"`
	FileName     string `gorm:"type:varchar(255)"`
	ObjectName   string `gorm:"type:varchar(1024)"`
	Status       string `gorm:"type:varchar(50);default:'PENDING_PARSING';index:idx_parse_tasks_status"`
	ErrorMessage string `gorm:"type:text"`
	// Attempts 被 worker 处理的次数，包括重新入队
	Attempts  int       `gorm:"default:0"`
	CreatedAt time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6)"`
	UpdatedAt time.Time `gorm:"type:datetime(6);default:CURRENT_TIMESTAMP(6);autoUpdateTime"`
}

func (ParseTask) TableName() string {
	return "parse_tasks"
}

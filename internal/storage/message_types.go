package storage

import "time"

// ParseJob 异步解析任务消息
type ParseJob struct {
	JobID       string `json:"jobId"`
	CandidateID string `json:"candidateId"`
	// ObjectName 原件在文档存储桶中的对象键
	ObjectName string `json:"objectName"`
	MimeType   string `json:"mimeType,omitempty"`
	FileName   string `json:"fileName"`
	// MarketValue 上游给出的市场价值信号 [0,1]，可选
	MarketValue *float64  `json:"marketValue,omitempty"`
	SubmittedAt time.Time `json:"submittedAt"`
}

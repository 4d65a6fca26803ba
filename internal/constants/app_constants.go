package constants

import "time"

const (
	// ParserVersion 写入候选人记录，画像结构变化时递增
	ParserVersion = "1.0"

	// ParseLockDuration 同一候选人解析任务的去重锁时长
	ParseLockDuration = 10 * time.Minute
	// SearchCacheDuration 搜索结果缓存时长的默认值
	SearchCacheDuration = 5 * time.Minute

	// MaxUploadSizeBytes 单个简历文件的最大字节数
	MaxUploadSizeBytes = 10 << 20
)

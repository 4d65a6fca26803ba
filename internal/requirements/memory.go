package requirements

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/redis/go-redis/v9"

	"resume-match-go/internal/constants"
	"resume-match-go/internal/types"
)

// ChatMemory 对话历史存储
type ChatMemory interface {
	// GetHistory 获取会话历史，会话不存在时返回空切片和 nil 错误
	GetHistory(ctx context.Context, sessionID string) ([]*schema.Message, error)
	// AddMessages 追加消息，超过上限时丢弃最早的消息
	AddMessages(ctx context.Context, sessionID string, messages []*schema.Message) error
	// ClearHistory 清除会话，会话不存在时静默成功
	ClearHistory(ctx context.Context, sessionID string) error
}

// InMemoryChatMemory 进程内的对话历史，用于单实例部署和测试
type InMemoryChatMemory struct {
	mu          sync.RWMutex
	histories   map[string][]*schema.Message
	maxMessages int
}

// NewInMemoryChatMemory 创建内存对话历史，maxMessages <= 0 表示不限
func NewInMemoryChatMemory(maxMessages int) *InMemoryChatMemory {
	return &InMemoryChatMemory{
		histories:   make(map[string][]*schema.Message),
		maxMessages: maxMessages,
	}
}

// GetHistory 实现 ChatMemory
func (m *InMemoryChatMemory) GetHistory(ctx context.Context, sessionID string) ([]*schema.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	history := m.histories[sessionID]
	cpy := make([]*schema.Message, len(history))
	copy(cpy, history)
	return cpy, nil
}

// AddMessages 实现 ChatMemory
func (m *InMemoryChatMemory) AddMessages(ctx context.Context, sessionID string, messages []*schema.Message) error {
	if len(messages) == 0 {
		return nil
	}
	for _, msg := range messages {
		if msg == nil {
			return fmt.Errorf("会话 %s 不能添加空消息", sessionID)
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	history := append(m.histories[sessionID], messages...)
	if m.maxMessages > 0 && len(history) > m.maxMessages {
		history = append([]*schema.Message(nil), history[len(history)-m.maxMessages:]...)
	}
	m.histories[sessionID] = history
	return nil
}

// ClearHistory 实现 ChatMemory
func (m *InMemoryChatMemory) ClearHistory(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.histories, sessionID)
	return nil
}

// RedisChatMemory 使用 Redis LIST 保存对话历史，多实例共享
type RedisChatMemory struct {
	client      redis.Cmdable
	ttl         time.Duration
	maxMessages int
}

// NewRedisChatMemory 创建 Redis 对话历史。ttl 为 0 时不过期。
func NewRedisChatMemory(client redis.Cmdable, ttl time.Duration, maxMessages int) (*RedisChatMemory, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client cannot be nil")
	}
	return &RedisChatMemory{client: client, ttl: ttl, maxMessages: maxMessages}, nil
}

func (r *RedisChatMemory) key(sessionID string) string {
	return fmt.Sprintf(constants.KeyChatSession, sessionID)
}

// GetHistory 实现 ChatMemory
func (r *RedisChatMemory) GetHistory(ctx context.Context, sessionID string) ([]*schema.Message, error) {
	items, err := r.client.LRange(ctx, r.key(sessionID), 0, -1).Result()
	if errors.Is(err, redis.Nil) {
		return []*schema.Message{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("读取会话 %s 历史失败: %w", sessionID, err)
	}
	messages := make([]*schema.Message, 0, len(items))
	for _, item := range items {
		var msg schema.Message
		if err := json.Unmarshal([]byte(item), &msg); err != nil {
			return nil, fmt.Errorf("会话 %s 历史数据损坏: %w", sessionID, err)
		}
		messages = append(messages, &msg)
	}
	return messages, nil
}

// AddMessages 实现 ChatMemory
func (r *RedisChatMemory) AddMessages(ctx context.Context, sessionID string, messages []*schema.Message) error {
	if len(messages) == 0 {
		return nil
	}
	key := r.key(sessionID)
	pipe := r.client.TxPipeline()
	for _, msg := range messages {
		if msg == nil {
			return fmt.Errorf("会话 %s 不能添加空消息", sessionID)
		}
		data, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("序列化会话 %s 消息失败: %w", sessionID, err)
		}
		pipe.RPush(ctx, key, data)
	}
	if r.maxMessages > 0 {
		pipe.LTrim(ctx, key, int64(-r.maxMessages), -1)
	}
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("写入会话 %s 历史失败: %w", sessionID, err)
	}
	return nil
}

// ClearHistory 实现 ChatMemory
func (r *RedisChatMemory) ClearHistory(ctx context.Context, sessionID string) error {
	if err := r.client.Del(ctx, r.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("清除会话 %s 历史失败: %w", sessionID, err)
	}
	return nil
}

func toSchema(turns []types.ChatMessage) []*schema.Message {
	out := make([]*schema.Message, 0, len(turns))
	for _, t := range turns {
		out = append(out, &schema.Message{Role: schema.RoleType(t.Role), Content: t.Content})
	}
	return out
}

func fromSchema(messages []*schema.Message) []types.ChatMessage {
	out := make([]types.ChatMessage, 0, len(messages))
	for _, m := range messages {
		if m == nil {
			continue
		}
		out = append(out, types.ChatMessage{Role: string(m.Role), Content: m.Content})
	}
	return out
}

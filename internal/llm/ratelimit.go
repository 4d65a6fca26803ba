package llm

import (
	"context"
	"sync"
	"time"
)

// TokenBucket 令牌桶限流器
type TokenBucket struct {
	rate           float64 // 每秒生成的令牌数
	capacity       float64 // 桶的容量
	tokens         float64 // 当前令牌数
	lastRefillTime time.Time
	mutex          sync.Mutex
	now            func() time.Time
}

// NewTokenBucket 按每分钟请求数创建令牌桶，capacity<=0 时取 QPM 的一半
func NewTokenBucket(qpm int, capacity int) *TokenBucket {
	if qpm <= 0 {
		qpm = 60
	}
	if capacity <= 0 {
		capacity = qpm / 2
		if capacity <= 0 {
			capacity = 1
		}
	}
	return &TokenBucket{
		rate:           float64(qpm) / 60.0,
		capacity:       float64(capacity),
		tokens:         float64(capacity), // 初始填满
		lastRefillTime: time.Now(),
		now:            time.Now,
	}
}

// refill 根据经过的时间填充令牌，调用方需持有锁
func (tb *TokenBucket) refill() {
	now := tb.now()
	elapsed := now.Sub(tb.lastRefillTime).Seconds()
	tb.lastRefillTime = now

	tb.tokens += elapsed * tb.rate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
}

// Allow 判断是否允许通过一个请求，消耗一个令牌
func (tb *TokenBucket) Allow() bool {
	tb.mutex.Lock()
	defer tb.mutex.Unlock()

	tb.refill()
	if tb.tokens >= 1.0 {
		tb.tokens -= 1.0
		return true
	}
	return false
}

// Wait 阻塞直到取得令牌或上下文结束
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		tb.mutex.Lock()
		tb.refill()
		if tb.tokens >= 1.0 {
			tb.tokens -= 1.0
			tb.mutex.Unlock()
			return nil
		}
		waitTime := time.Duration((1.0 - tb.tokens) / tb.rate * float64(time.Second))
		tb.mutex.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(waitTime):
		}
	}
}

// RateLimitedProvider 对补全服务调用进行限流的代理。
// 只负责限流，不做重试，重试策略由抽取编排器决定。
type RateLimitedProvider struct {
	inner   CompletionProvider
	limiter *TokenBucket
}

// NewRateLimitedProvider 创建限流代理
func NewRateLimitedProvider(inner CompletionProvider, qpm int) *RateLimitedProvider {
	return &RateLimitedProvider{
		inner:   inner,
		limiter: NewTokenBucket(qpm, qpm/2), // 容量设为QPM的一半，允许一定的突发流量
	}
}

// Name 服务名称
func (rl *RateLimitedProvider) Name() string { return rl.inner.Name() }

// Complete 等待令牌后调用下游服务
func (rl *RateLimitedProvider) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	if err := rl.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return rl.inner.Complete(ctx, req)
}

// EffectiveQPM 计算实际使用的 QPM：显式配置优先，其次取模型限额的 90%，最后使用默认值
func EffectiveQPM(modelName string, limits map[string]int, customQPM int) int {
	if customQPM > 0 {
		return customQPM
	}
	if modelQPM, ok := limits[modelName]; ok && modelQPM > 0 {
		if safe := int(float64(modelQPM) * 0.9); safe > 0 {
			return safe
		}
	}
	return 30
}

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"

	"resume-match-go/internal/config"
	"resume-match-go/internal/constants"
	"resume-match-go/internal/logger"
	"resume-match-go/internal/tracing"
	"resume-match-go/internal/types"
)

// ErrNotFound 键不存在
var ErrNotFound = redis.Nil

// 为Redis操作定义专用tracer
var redisTracer = otel.Tracer("resume-match/storage/redis")

// releaseLockScript 只有持有者才能删除锁
var releaseLockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`)

// Redis 封装 Redis 客户端：向量缓存、搜索结果缓存与分布式锁
type Redis struct {
	Client *redis.Client
	config *config.RedisConfig
	logger zerolog.Logger
}

// NewRedisAdapter 创建 Redis 客户端并检查连接
func NewRedisAdapter(cfg *config.RedisConfig) (*Redis, error) {
	if cfg == nil {
		return nil, fmt.Errorf("redis config cannot be nil")
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	opt := &redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,

		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,

		DialTimeout:  time.Duration(cfg.DialTimeoutSeconds) * time.Second,
		ReadTimeout:  time.Duration(cfg.ReadTimeoutSeconds) * time.Second,
		WriteTimeout: time.Duration(cfg.WriteTimeoutSeconds) * time.Second,

		MaxRetries:      cfg.MaxRetries,
		ConnMaxIdleTime: time.Duration(cfg.ConnMaxIdleTimeMinutes) * time.Minute,
	}
	client := redis.NewClient(opt)

	// 记录所有Redis操作
	if err := redisotel.InstrumentTracing(client); err != nil {
		return nil, fmt.Errorf("failed to instrument Redis with OpenTelemetry: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.Address, err)
	}

	return NewRedisFromClient(client, cfg), nil
}

// NewRedisFromClient 使用已有客户端创建适配器
func NewRedisFromClient(client *redis.Client, cfg *config.RedisConfig) *Redis {
	if cfg == nil {
		cfg = &config.RedisConfig{}
	}
	return &Redis{Client: client, config: cfg, logger: logger.Named("redis")}
}

// Close 关闭连接
func (r *Redis) Close() error {
	if r.Client != nil {
		return r.Client.Close()
	}
	return nil
}

// Ping 检查连接
func (r *Redis) Ping(ctx context.Context) error {
	if r.Client == nil {
		return fmt.Errorf("redis client is not initialized")
	}
	return r.Client.Ping(ctx).Err()
}

func (r *Redis) startSpan(ctx context.Context, name, operation, key string) (context.Context, trace.Span) {
	return redisTracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			semconv.DBSystemRedis,
			attribute.Int("db.redis.database_index", r.config.DB),
			attribute.String("db.operation", operation),
			attribute.String("db.redis.key", tracing.SafeRedisKey(key)),
		))
}

// GetVector 读取缓存的向量，未命中时返回 (nil, nil)
func (r *Redis) GetVector(ctx context.Context, key string) ([]float64, error) {
	ctx, span := r.startSpan(ctx, "Redis.GetVector", "GET", key)
	defer span.End()

	data, err := r.Client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		span.SetAttributes(attribute.Bool("db.redis.key_exists", false))
		return nil, nil
	}
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeRedis)
		return nil, fmt.Errorf("读取向量缓存失败: %w", err)
	}
	var vec []float64
	if err := json.Unmarshal(data, &vec); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeParse)
		return nil, fmt.Errorf("向量缓存数据损坏: %w", err)
	}
	span.SetAttributes(
		attribute.Bool("db.redis.key_exists", true),
		attribute.String("embedding.preview", tracing.VectorPreview(vec)),
	)
	span.SetStatus(codes.Ok, "")
	return vec, nil
}

// SetVector 缓存向量
func (r *Redis) SetVector(ctx context.Context, key string, vec []float64, ttl time.Duration) error {
	ctx, span := r.startSpan(ctx, "Redis.SetVector", "SET", key)
	defer span.End()

	data, err := json.Marshal(vec)
	if err != nil {
		return fmt.Errorf("序列化向量失败: %w", err)
	}
	if err := r.Client.Set(ctx, key, data, ttl).Err(); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeRedis)
		return fmt.Errorf("写入向量缓存失败: %w", err)
	}
	return nil
}

// GetSearchResult 读取缓存的搜索结果，未命中时返回 (nil, nil)
func (r *Redis) GetSearchResult(ctx context.Context, key string) (*types.SearchResult, error) {
	ctx, span := r.startSpan(ctx, "Redis.GetSearchResult", "GET", key)
	defer span.End()

	data, err := r.Client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeRedis)
		return nil, fmt.Errorf("读取搜索缓存失败: %w", err)
	}
	var res types.SearchResult
	if err := json.Unmarshal(data, &res); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeParse)
		return nil, fmt.Errorf("搜索缓存数据损坏: %w", err)
	}
	return &res, nil
}

// SetSearchResult 缓存搜索结果
func (r *Redis) SetSearchResult(ctx context.Context, key string, result *types.SearchResult, ttl time.Duration) error {
	ctx, span := r.startSpan(ctx, "Redis.SetSearchResult", "SET", key)
	defer span.End()

	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("序列化搜索结果失败: %w", err)
	}
	if err := r.Client.Set(ctx, key, data, ttl).Err(); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeRedis)
		return fmt.Errorf("写入搜索缓存失败: %w", err)
	}
	return nil
}

// AcquireLock 尝试获取分布式锁，成功时返回持有者标识，锁已被占用时返回空字符串
func (r *Redis) AcquireLock(ctx context.Context, lockKey string, expiration time.Duration) (string, error) {
	ctx, span := r.startSpan(ctx, "Redis.AcquireLock", "SETNX", lockKey)
	defer span.End()

	lockValue := uuid.NewString()
	ok, err := r.Client.SetNX(ctx, lockKey, lockValue, expiration).Result()
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeRedis)
		return "", err
	}
	span.SetAttributes(attribute.Bool("lock.acquired", ok))
	if !ok {
		return "", nil
	}
	return lockValue, nil
}

// ReleaseLock 释放分布式锁，只有持有者才能释放
func (r *Redis) ReleaseLock(ctx context.Context, lockKey string, lockValue string) (bool, error) {
	ctx, span := r.startSpan(ctx, "Redis.ReleaseLock", "EVALSHA", lockKey)
	defer span.End()

	res, err := releaseLockScript.Run(ctx, r.Client, []string{lockKey}, lockValue).Int64()
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeRedis)
		return false, fmt.Errorf("释放锁失败: %w", err)
	}
	return res == 1, nil
}

// ParseLockKey 解析任务去重锁的键
func ParseLockKey(candidateID string) string {
	return fmt.Sprintf(constants.KeyParseLock, candidateID)
}

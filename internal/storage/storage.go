package storage

import (
	"context"
	"fmt"
	"strings"

	"resume-match-go/internal/config"
	"resume-match-go/internal/logger"
)

// Storage 存储管理器，聚合所有外部存储依赖。未配置或连接失败的组件为 nil。
type Storage struct {
	// 对象存储
	MinIO *MinIO

	// 消息队列
	RabbitMQ *RabbitMQ

	// 关系型数据库
	MySQL *MySQL

	// 键值存储
	Redis *Redis
}

// NewStorage 创建存储管理器，部分组件失败时降级运行，全部失败时报错
func NewStorage(ctx context.Context, cfg *config.Config) (*Storage, error) {
	if cfg == nil {
		return nil, fmt.Errorf("配置不能为空")
	}
	log := logger.Named("storage")

	s := &Storage{}
	var err error
	var initErrors []string
	configured := 0

	if cfg.MinIO.Endpoint != "" {
		configured++
		if s.MinIO, err = NewMinIO(ctx, &cfg.MinIO); err != nil {
			log.Warn().Err(err).Msg("初始化MinIO失败")
			initErrors = append(initErrors, fmt.Sprintf("MinIO: %v", err))
		}
	}

	if cfg.RabbitMQ.URL != "" {
		configured++
		if s.RabbitMQ, err = NewRabbitMQ(&cfg.RabbitMQ); err != nil {
			log.Warn().Err(err).Msg("初始化RabbitMQ失败")
			initErrors = append(initErrors, fmt.Sprintf("RabbitMQ: %v", err))
		} else if err = s.RabbitMQ.SetupParseTopology(); err != nil {
			log.Warn().Err(err).Msg("声明解析队列失败")
			initErrors = append(initErrors, fmt.Sprintf("RabbitMQ topology: %v", err))
			s.RabbitMQ.Close()
			s.RabbitMQ = nil
		}
	}

	if cfg.MySQL.Host != "" {
		configured++
		if s.MySQL, err = NewMySQL(&cfg.MySQL); err != nil {
			log.Warn().Err(err).Msg("初始化MySQL失败")
			initErrors = append(initErrors, fmt.Sprintf("MySQL: %v", err))
		}
	}

	if cfg.Redis.Address != "" {
		configured++
		if s.Redis, err = NewRedisAdapter(&cfg.Redis); err != nil {
			log.Warn().Err(err).Msg("初始化Redis失败")
			initErrors = append(initErrors, fmt.Sprintf("Redis: %v", err))
		}
	}

	if configured > 0 && len(initErrors) == configured {
		return nil, fmt.Errorf("所有存储组件初始化失败: %s", strings.Join(initErrors, "; "))
	}
	if len(initErrors) > 0 {
		log.Warn().Str("failed", strings.Join(initErrors, "; ")).Msg("部分存储组件不可用，降级运行")
	}
	return s, nil
}

// Status 各组件是否可用，供健康检查使用
func (s *Storage) Status(ctx context.Context) map[string]string {
	status := map[string]string{}
	check := func(name string, present bool, ping func(context.Context) error) {
		switch {
		case !present:
			status[name] = "disabled"
		case ping != nil && ping(ctx) != nil:
			status[name] = "down"
		default:
			status[name] = "up"
		}
	}
	if s == nil {
		s = &Storage{}
	}
	check("mysql", s.MySQL != nil, func(ctx context.Context) error { return s.MySQL.Ping(ctx) })
	check("redis", s.Redis != nil, func(ctx context.Context) error { return s.Redis.Ping(ctx) })
	check("minio", s.MinIO != nil, nil)
	check("rabbitmq", s.RabbitMQ != nil, nil)
	return status
}

// Close 关闭所有连接
func (s *Storage) Close() {
	log := logger.Named("storage")
	if s.RabbitMQ != nil {
		if err := s.RabbitMQ.Close(); err != nil {
			log.Error().Err(err).Msg("关闭RabbitMQ连接失败")
		}
	}
	if s.MySQL != nil {
		if err := s.MySQL.Close(); err != nil {
			log.Error().Err(err).Msg("关闭MySQL连接失败")
		}
	}
	if s.Redis != nil {
		if err := s.Redis.Close(); err != nil {
			log.Error().Err(err).Msg("关闭Redis连接失败")
		}
	}
}

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"resume-match-go/internal/config"
	"resume-match-go/internal/logger"
)

// Delivery 消费者对一条消息的处理结论
type Delivery int

const (
	// Ack 处理完成，包括不再重试的失败
	Ack Delivery = iota
	// Requeue 暂时失败，重新入队
	Requeue
	// Reject 拒绝且不重新入队，进入死信队列
	Reject
)

// Handler 消息处理函数
type Handler func(ctx context.Context, body []byte) Delivery

// RabbitMQ 解析任务的投递与消费
type RabbitMQ struct {
	conn        *amqp.Connection
	channelPool sync.Pool
	mu          sync.Mutex
	// declared 已声明的交换机、队列与绑定，避免重复声明
	declared  map[string]struct{}
	publishMu sync.Mutex
	cfg       *config.RabbitMQConfig
	logger    zerolog.Logger
}

// NewRabbitMQ 连接 RabbitMQ
func NewRabbitMQ(cfg *config.RabbitMQConfig) (*RabbitMQ, error) {
	if cfg == nil {
		return nil, fmt.Errorf("RabbitMQ配置不能为空")
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("RabbitMQ URL配置不能为空")
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("无法连接到RabbitMQ服务器: %w", err)
	}

	mq := &RabbitMQ{
		conn:     conn,
		declared: make(map[string]struct{}),
		cfg:      cfg,
		logger:   logger.Named("rabbitmq"),
	}
	mq.channelPool.New = func() any {
		ch, err := conn.Channel()
		if err != nil {
			mq.logger.Error().Err(err).Msg("创建RabbitMQ通道失败")
			return nil
		}
		return ch
	}

	ch := mq.getChannel()
	if ch == nil {
		conn.Close()
		return nil, fmt.Errorf("无法创建RabbitMQ通道")
	}
	mq.putChannel(ch)

	mq.logger.Info().Msg("成功连接到RabbitMQ服务器")
	return mq, nil
}

// DeadLetterExchange 解析任务的死信交换机名
func DeadLetterExchange(cfg *config.RabbitMQConfig) string { return cfg.Exchange + ".dlx" }

// DeadLetterQueue 解析任务的死信队列名
func DeadLetterQueue(cfg *config.RabbitMQConfig) string { return cfg.ParseQueue + ".dead" }

// SetupParseTopology 声明解析任务的交换机、队列、绑定以及死信队列。
// 被 Reject 的消息经死信交换机进入 <queue>.dead，留待人工排查。
func (r *RabbitMQ) SetupParseTopology() error {
	dlx, dlq := DeadLetterExchange(r.cfg), DeadLetterQueue(r.cfg)
	if err := r.ensureExchange(dlx, "fanout"); err != nil {
		return err
	}
	if err := r.ensureQueue(dlq, nil); err != nil {
		return err
	}
	if err := r.bindQueue(dlq, dlx, ""); err != nil {
		return err
	}

	if err := r.ensureExchange(r.cfg.Exchange, "direct"); err != nil {
		return err
	}
	if err := r.ensureQueue(r.cfg.ParseQueue, amqp.Table{"x-dead-letter-exchange": dlx}); err != nil {
		return err
	}
	return r.bindQueue(r.cfg.ParseQueue, r.cfg.Exchange, r.cfg.ParseRoutingKey)
}

// PublishParseJob 直接投递解析任务
func (r *RabbitMQ) PublishParseJob(ctx context.Context, job *ParseJob) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("序列化解析任务失败: %w", err)
	}
	return r.PublishMessage(ctx, r.cfg.Exchange, r.cfg.ParseRoutingKey, body, true)
}

func (r *RabbitMQ) getChannel() *amqp.Channel {
	for {
		v := r.channelPool.Get()
		if v == nil {
			return nil
		}
		if ch := v.(*amqp.Channel); !ch.IsClosed() {
			return ch
		}
	}
}

func (r *RabbitMQ) putChannel(ch *amqp.Channel) {
	if ch != nil && !ch.IsClosed() {
		r.channelPool.Put(ch)
	}
}

// Close 关闭连接
func (r *RabbitMQ) Close() error {
	return r.conn.Close()
}

// declare 在持有锁的情况下执行一次声明，成功后记住 key
func (r *RabbitMQ) declare(key string, fn func(ch *amqp.Channel) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.declared[key]; ok {
		return nil
	}
	ch := r.getChannel()
	if ch == nil {
		return fmt.Errorf("无法获取RabbitMQ通道")
	}
	defer r.putChannel(ch)
	if err := fn(ch); err != nil {
		return err
	}
	r.declared[key] = struct{}{}
	return nil
}

func (r *RabbitMQ) ensureExchange(name, kind string) error {
	if name == "" {
		return fmt.Errorf("exchange名称不能为空")
	}
	return r.declare("exchange:"+name, func(ch *amqp.Channel) error {
		// durable, 不自动删除, 非内部, 阻塞
		if err := ch.ExchangeDeclare(name, kind, true, false, false, false, nil); err != nil {
			return fmt.Errorf("声明exchange %s 失败: %w", name, err)
		}
		r.logger.Info().Str("exchange", name).Str("type", kind).Msg("已确保exchange存在")
		return nil
	})
}

func (r *RabbitMQ) ensureQueue(name string, args amqp.Table) error {
	if name == "" {
		return fmt.Errorf("队列名称不能为空")
	}
	return r.declare("queue:"+name, func(ch *amqp.Channel) error {
		if _, err := ch.QueueDeclare(name, true, false, false, false, args); err != nil {
			return fmt.Errorf("声明队列 %s 失败: %w", name, err)
		}
		r.logger.Info().Str("queue", name).Msg("已确保队列存在")
		return nil
	})
}

func (r *RabbitMQ) bindQueue(queue, exchange, routingKey string) error {
	return r.declare(fmt.Sprintf("binding:%s:%s:%s", exchange, queue, routingKey), func(ch *amqp.Channel) error {
		if err := ch.QueueBind(queue, routingKey, exchange, false, nil); err != nil {
			return fmt.Errorf("绑定队列 %s 到 %s 失败: %w", queue, exchange, err)
		}
		return nil
	})
}

// PublishMessage 发布消息，当前 span 的上下文写入消息头，消费端据此延续链路
func (r *RabbitMQ) PublishMessage(ctx context.Context, exchangeName, routingKey string, message []byte, persistent bool) error {
	r.publishMu.Lock()
	defer r.publishMu.Unlock()

	ch := r.getChannel()
	if ch == nil {
		return fmt.Errorf("无法获取RabbitMQ通道")
	}
	defer r.putChannel(ch)

	mode := amqp.Transient
	if persistent {
		mode = amqp.Persistent
	}
	headers := amqp.Table{}
	otel.GetTextMapPropagator().Inject(ctx, headerCarrier(headers))

	return ch.PublishWithContext(ctx, exchangeName, routingKey, false, false, amqp.Publishing{
		Headers:      headers,
		DeliveryMode: mode,
		ContentType:  "application/json",
		Body:         message,
		Timestamp:    time.Now(),
	})
}

// StartConsumer 启动消费者，ctx 取消后停止。返回的通道在消费协程退出后关闭。
func (r *RabbitMQ) StartConsumer(ctx context.Context, queueName string, prefetchCount int, handler Handler) (<-chan struct{}, error) {
	ch := r.getChannel()
	if ch == nil {
		return nil, fmt.Errorf("无法获取RabbitMQ通道")
	}
	if err := ch.Qos(prefetchCount, 0, false); err != nil {
		r.putChannel(ch)
		return nil, fmt.Errorf("设置QoS失败: %w", err)
	}

	// 手动确认，消费者标签由 server 生成
	deliveries, err := ch.Consume(queueName, "", false, false, false, false, nil)
	if err != nil {
		r.putChannel(ch)
		return nil, fmt.Errorf("注册消费者失败: %w", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		// 消费通道不再复用
		defer ch.Close()
		r.logger.Info().Str("queue", queueName).Int("prefetch", prefetchCount).Msg("RabbitMQ消费者已启动")
		defer r.logger.Info().Str("queue", queueName).Msg("RabbitMQ消费者已停止")

		for {
			select {
			case <-ctx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					r.logger.Warn().Str("queue", queueName).Msg("RabbitMQ通道已关闭")
					return
				}
				msgCtx := otel.GetTextMapPropagator().Extract(ctx, headerCarrier(d.Headers))
				r.settle(d, handler(msgCtx, d.Body))
			}
		}
	}()
	return done, nil
}

func (r *RabbitMQ) settle(d amqp.Delivery, result Delivery) {
	var err error
	switch result {
	case Ack:
		err = d.Ack(false)
	case Requeue:
		err = d.Nack(false, true)
	default:
		err = d.Nack(false, false)
	}
	if err != nil {
		r.logger.Error().Err(err).Uint64("delivery_tag", d.DeliveryTag).Msg("确认消息失败")
	}
}

// headerCarrier 让 amqp 消息头满足 propagation.TextMapCarrier
type headerCarrier amqp.Table

var _ propagation.TextMapCarrier = headerCarrier(nil)

func (c headerCarrier) Get(key string) string {
	if v, ok := c[key].(string); ok {
		return v
	}
	return ""
}

func (c headerCarrier) Set(key, value string) { c[key] = value }

func (c headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	return keys
}

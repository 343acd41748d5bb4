package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	apperrors "story-summary-ai/pkg/errors"
	"story-summary-ai/pkg/logger"
	"story-summary-ai/pkg/metrics"
)

var errRetriesExceeded = errors.New("message exceeded max retries")

const (
	readBatchSize    = 10
	pendingBatchSize = 20
)

// MessageHandler 返回 nil 时消息被确认，否则留在 pending 中等待重试
type MessageHandler func(ctx context.Context, msg *Message) error

// DeadLetter 死信队列条目
type DeadLetter struct {
	OriginalStream string   `json:"original_stream"`
	Data           *Message `json:"data"`
	Error          string   `json:"error"`
	RetryCount     int      `json:"retry_count"`
	FailedAt       int64    `json:"failed_at"`
}

// ConsumerConfig 消费者配置
type ConsumerConfig struct {
	Stream        Stream
	Group         ConsumerGroup
	ConsumerName  string
	BlockTimeout  time.Duration
	ClaimInterval time.Duration
	// ReclaimIdle 其他消费者的待确认消息空闲超过该时长后被接管，0 时按退避上限推算
	ReclaimIdle time.Duration
	RetryLimit  int
	Backoff     BackoffConfig
}

func (cfg ConsumerConfig) withDefaults() ConsumerConfig {
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = 5 * time.Second
	}
	if cfg.ClaimInterval <= 0 {
		cfg.ClaimInterval = 30 * time.Second
	}
	if cfg.RetryLimit <= 0 {
		cfg.RetryLimit = 3
	}
	if cfg.Backoff.Initial <= 0 {
		cfg.Backoff = DefaultBackoffConfig()
	}
	if cfg.ReclaimIdle <= 0 {
		cfg.ReclaimIdle = max(5*time.Minute, 2*cfg.Backoff.Max)
	}
	return cfg
}

// Consumer 基于消费者组读取摘要任务流，失败消息按退避重投，超过重试上限进入死信队列
type Consumer struct {
	client *redis.Client
	cfg    ConsumerConfig

	mu       sync.RWMutex
	handlers map[string]MessageHandler
	running  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
}

func NewConsumer(client *redis.Client, cfg ConsumerConfig) *Consumer {
	return &Consumer{
		client:   client,
		cfg:      cfg.withDefaults(),
		handlers: make(map[string]MessageHandler),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// RegisterHandler 按消息类型注册处理器，重复注册时覆盖
func (c *Consumer) RegisterHandler(msgType string, handler MessageHandler) {
	c.mu.Lock()
	c.handlers[msgType] = handler
	c.mu.Unlock()
}

func (c *Consumer) handler(msgType string) (MessageHandler, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.handlers[msgType]
	return h, ok
}

// Start 创建消费者组（已存在时忽略）并在后台启动消费循环
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return apperrors.New(apperrors.CodeQueueError, "consumer already running")
	}

	err := c.client.XGroupCreateMkStream(ctx, string(c.cfg.Stream), string(c.cfg.Group), "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return apperrors.Wrap(err, apperrors.CodeQueueError, "create consumer group")
	}

	c.running = true
	go c.run(ctx)
	return nil
}

// Stop 停止消费者并等待消费循环退出
func (c *Consumer) Stop() {
	c.mu.Lock()
	wasRunning := c.running
	if wasRunning {
		close(c.stopCh)
		c.running = false
	}
	c.mu.Unlock()

	if wasRunning {
		<-c.doneCh
	}
}

// Done 消费循环退出后关闭
func (c *Consumer) Done() <-chan struct{} {
	return c.doneCh
}

func (c *Consumer) stopped(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-c.stopCh:
		return true
	default:
		return false
	}
}

func (c *Consumer) pause(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-c.stopCh:
	case <-ctx.Done():
	}
}

func (c *Consumer) run(ctx context.Context) {
	defer close(c.doneCh)

	logger.Info(ctx, "summary consumer started",
		"stream", string(c.cfg.Stream),
		"group", string(c.cfg.Group),
		"consumer", c.cfg.ConsumerName,
	)

	var lastReclaim time.Time
	for !c.stopped(ctx) {
		c.retryDue(ctx)
		if time.Since(lastReclaim) >= c.cfg.ClaimInterval {
			c.reclaimStale(ctx)
			lastReclaim = time.Now()
		}

		msgs, err := c.read(ctx)
		if err != nil {
			logger.Error(ctx, "failed to read summary stream", err)
			c.pause(ctx, time.Second)
			continue
		}
		for _, xmsg := range msgs {
			c.processMessage(ctx, xmsg)
		}
	}

	logger.Info(ctx, "summary consumer stopped", "consumer", c.cfg.ConsumerName)
}

// read 阻塞读取新消息；超时或上下文结束时返回空
func (c *Consumer) read(ctx context.Context) ([]redis.XMessage, error) {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    string(c.cfg.Group),
		Consumer: c.cfg.ConsumerName,
		Streams:  []string{string(c.cfg.Stream), ">"},
		Count:    readBatchSize,
		Block:    c.cfg.BlockTimeout,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || ctx.Err() != nil {
			return nil, nil
		}
		return nil, err
	}

	var msgs []redis.XMessage
	for _, s := range streams {
		msgs = append(msgs, s.Messages...)
	}
	return msgs, nil
}

func decodeMessage(xmsg redis.XMessage) (*Message, bool) {
	raw, ok := xmsg.Values["data"].(string)
	if !ok {
		return nil, false
	}
	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return nil, false
	}
	return &msg, true
}

type ctxLabel struct {
	key   logger.ContextKey
	value string
}

// messageContext 将故事、运行与追踪标识注入日志上下文
func messageContext(ctx context.Context, msg *Message) context.Context {
	labels := []ctxLabel{
		{logger.StoryKey, msg.Story},
		{logger.RunIDKey, msg.RunID},
		{logger.TraceIDKey, msg.GetMetadata("trace_id")},
	}
	if msg.Type == MessageTypeSummaryJob {
		labels = append(labels, ctxLabel{logger.JobIDKey, msg.ID})
	}
	for _, l := range labels {
		if l.value != "" {
			ctx = logger.WithContext(ctx, l.key, l.value)
		}
	}
	return ctx
}

func (c *Consumer) count(status string) {
	metrics.RedisStreamProcessed.WithLabelValues(string(c.cfg.Stream), status).Inc()
}

func (c *Consumer) processMessage(ctx context.Context, xmsg redis.XMessage) {
	ctx, span := otelTracer.Start(ctx, "consumer.processMessage", trace.WithAttributes(
		attribute.String("stream", string(c.cfg.Stream)),
		attribute.String("stream.message_id", xmsg.ID),
	))
	defer span.End()

	msg, ok := decodeMessage(xmsg)
	if !ok {
		logger.Warn(ctx, "discarding undecodable stream entry", "message_id", xmsg.ID)
		c.count("invalid")
		c.ack(ctx, xmsg.ID)
		return
	}

	ctx = messageContext(ctx, msg)
	span.SetAttributes(
		attribute.String("message.id", msg.ID),
		attribute.String("message.type", msg.Type),
		attribute.String("story", msg.Story),
	)

	handle, ok := c.handler(msg.Type)
	if !ok {
		logger.Warn(ctx, "no handler for message type", "type", msg.Type)
		c.count("unhandled")
		c.ack(ctx, xmsg.ID)
		return
	}

	if err := handle(ctx, msg); err != nil {
		span.RecordError(err)
		logger.Error(ctx, "summary message handler failed", err, "message_id", msg.ID)
		c.count("failed")
		c.fail(ctx, xmsg.ID, msg, err)
		return
	}

	c.count("success")
	c.ack(ctx, xmsg.ID)
}

func (c *Consumer) ack(ctx context.Context, id string) {
	if err := c.client.XAck(ctx, string(c.cfg.Stream), string(c.cfg.Group), id).Err(); err != nil {
		logger.Error(ctx, "failed to ack stream entry", err, "message_id", id)
	}
}

// fail 未达重试上限的消息留在 pending 中，由 retryDue 按退避重投
func (c *Consumer) fail(ctx context.Context, entryID string, msg *Message, err error) {
	deliveries := c.deliveries(ctx, entryID)
	if deliveries < c.cfg.RetryLimit {
		logger.Info(ctx, "summary message left pending for retry",
			"message_id", msg.ID,
			"retry_count", deliveries,
		)
		return
	}
	c.deadLetter(ctx, msg, err, deliveries)
	c.ack(ctx, entryID)
}

// deliveries 返回该条目的投递次数
func (c *Consumer) deliveries(ctx context.Context, entryID string) int {
	entries, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: string(c.cfg.Stream),
		Group:  string(c.cfg.Group),
		Start:  entryID,
		End:    entryID,
		Count:  1,
	}).Result()
	if err != nil || len(entries) == 0 {
		return 0
	}
	return int(entries[0].RetryCount)
}

func (c *Consumer) deadLetter(ctx context.Context, msg *Message, cause error, retries int) {
	data, err := json.Marshal(DeadLetter{
		OriginalStream: string(c.cfg.Stream),
		Data:           msg,
		Error:          cause.Error(),
		RetryCount:     retries,
		FailedAt:       time.Now().Unix(),
	})
	if err != nil {
		logger.Error(ctx, "failed to encode dead letter", err, "message_id", msg.ID)
		return
	}

	if err := c.client.XAdd(ctx, &redis.XAddArgs{
		Stream: c.cfg.Stream.DLQStream(),
		Values: map[string]any{"data": string(data)},
	}).Err(); err != nil {
		logger.Error(ctx, "failed to write dead letter", err, "message_id", msg.ID)
		return
	}

	logger.Warn(ctx, "summary message moved to DLQ",
		"message_id", msg.ID,
		"retry_count", retries,
	)
	c.count("dlq")
}

// pendingEntries 查询待确认条目，consumer 为空时覆盖整个消费者组
func (c *Consumer) pendingEntries(ctx context.Context, consumer string) []redis.XPendingExt {
	entries, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream:   string(c.cfg.Stream),
		Group:    string(c.cfg.Group),
		Start:    "-",
		End:      "+",
		Count:    pendingBatchSize,
		Consumer: consumer,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) && ctx.Err() == nil {
		logger.Error(ctx, "failed to query pending entries", err, "consumer", consumer)
	}
	return entries
}

func (c *Consumer) claim(ctx context.Context, entryID string, minIdle time.Duration) []redis.XMessage {
	claimed, err := c.client.XClaim(ctx, &redis.XClaimArgs{
		Stream:   string(c.cfg.Stream),
		Group:    string(c.cfg.Group),
		Consumer: c.cfg.ConsumerName,
		MinIdle:  minIdle,
		Messages: []string{entryID},
	}).Result()
	if err != nil {
		logger.Error(ctx, "failed to claim pending entry", err, "message_id", entryID)
		return nil
	}
	return claimed
}

// settle 重投空闲足够久的条目，超过重试上限的直接进入死信队列
func (c *Consumer) settle(ctx context.Context, p redis.XPendingExt, minIdle time.Duration) {
	exhausted := int(p.RetryCount) >= c.cfg.RetryLimit
	for _, xmsg := range c.claim(ctx, p.ID, minIdle) {
		if !exhausted {
			c.processMessage(ctx, xmsg)
			continue
		}
		if msg, ok := decodeMessage(xmsg); ok {
			c.deadLetter(ctx, msg, errRetriesExceeded, int(p.RetryCount))
		}
		c.ack(ctx, xmsg.ID)
	}
}

// retryDue 重投本消费者名下已过退避时间的条目
func (c *Consumer) retryDue(ctx context.Context) {
	for _, p := range c.pendingEntries(ctx, c.cfg.ConsumerName) {
		if int(p.RetryCount) >= c.cfg.RetryLimit {
			c.settle(ctx, p, 0)
			continue
		}
		if wait := c.cfg.Backoff.CalculateBackoff(int(p.RetryCount)); p.Idle >= wait {
			c.settle(ctx, p, wait)
		}
	}
}

// reclaimStale 接管其他消费者长时间未确认的条目，例如崩溃的 worker 留下的任务
func (c *Consumer) reclaimStale(ctx context.Context) {
	for _, p := range c.pendingEntries(ctx, "") {
		if p.Consumer != c.cfg.ConsumerName && p.Idle >= c.cfg.ReclaimIdle {
			c.settle(ctx, p, c.cfg.ReclaimIdle)
		}
	}
}

// MonitorDLQ 按 interval 检查死信队列长度，超过阈值时告警
func (c *Consumer) MonitorDLQ(ctx context.Context, interval time.Duration, alertThreshold int64) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
		}
		if n, err := c.DLQLength(ctx); err == nil && n > alertThreshold {
			logger.Warn(ctx, "summary DLQ above threshold",
				"stream", c.cfg.Stream.DLQStream(),
				"count", n,
				"threshold", alertThreshold,
			)
		}
	}
}

// DLQLength 返回死信队列长度
func (c *Consumer) DLQLength(ctx context.Context) (int64, error) {
	return c.client.XLen(ctx, c.cfg.Stream.DLQStream()).Result()
}

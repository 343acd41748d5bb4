// Package wire 提供依赖注入配置
package wire

import (
	"context"
	"fmt"
	"os"
	"time"

	"story-summary-ai/internal/application/quota"
	"story-summary-ai/internal/application/summary"
	"story-summary-ai/internal/config"
	"story-summary-ai/internal/infrastructure/llm"
	"story-summary-ai/internal/infrastructure/messaging"
	"story-summary-ai/internal/infrastructure/persistence/redis"
	"story-summary-ai/internal/interfaces/worker"
	"story-summary-ai/internal/workflow/chain"
	wfmodel "story-summary-ai/internal/workflow/model"
	workflowprompt "story-summary-ai/internal/workflow/prompt"
	workflowport "story-summary-ai/internal/workflow/port"
	"story-summary-ai/pkg/logger"
)

// Summarizer CLI 单次运行所需依赖
type Summarizer struct {
	Service *summary.Service
	Usage   *quota.UsageRecorder
	Results *redis.ResultStore
}

// Worker 队列消费者所需依赖
type Worker struct {
	Service  *summary.Service
	Usage    *quota.UsageRecorder
	Consumer *messaging.Consumer
	Handler  *worker.SummaryJobHandler
}

// ProvideRedisClient 提供 Redis 客户端
func ProvideRedisClient(ctx context.Context, cfg *config.Config) (*redis.Client, func(), error) {
	client, err := redis.NewClient(&cfg.Cache.Redis)
	if err != nil {
		return nil, nil, err
	}
	logger.Info(ctx, "redis connected", "host", cfg.Cache.Redis.Host, "port", cfg.Cache.Redis.Port)
	cleanup := func() {
		_ = client.Close()
	}
	return client, cleanup, nil
}

// ProvideRedisClientOptional 未启用或不可用时返回 nil，断点与广播随之关闭
func ProvideRedisClientOptional(ctx context.Context, cfg *config.Config) (*redis.Client, func(), error) {
	if !cfg.Cache.Redis.Enabled {
		return nil, func() {}, nil
	}
	client, err := redis.NewClient(&cfg.Cache.Redis)
	if err != nil {
		logger.Warn(ctx, "redis not available, checkpoints disabled", "error", err.Error())
		return nil, func() {}, nil
	}
	cleanup := func() {
		_ = client.Close()
	}
	return client, cleanup, nil
}

func ProvideCheckpointRepository(client *redis.Client) summary.CheckpointRepository {
	if client == nil {
		return nil
	}
	return redis.NewCheckpointStore(client)
}

func ProvideResultStore(client *redis.Client) *redis.ResultStore {
	if client == nil {
		return nil
	}
	return redis.NewResultStore(client)
}

func ProvideResultRepository(store *redis.ResultStore) summary.ResultRepository {
	if store == nil {
		return nil
	}
	return store
}

// ProvideStoryLock 默认过期时间按配置的整体超时加一分钟，任务级超时由处理器在加锁时传入
func ProvideStoryLock(client *redis.Client, cfg *config.Config) *redis.StoryLock {
	ttl := cfg.Summary.RunTimeout
	if ttl <= 0 {
		ttl = summary.DeriveTimeout(cfg.Summary.MaxChapters, cfg.Summary.GatherChapters, cfg.Summary.TimePerChapter)
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return redis.NewStoryLock(client, ttl+time.Minute)
}

// ProvideMessagingProducer 提供消息生产者，Redis 或 Stream 未启用时返回 nil
func ProvideMessagingProducer(client *redis.Client, cfg *config.Config) *messaging.Producer {
	if client == nil || !cfg.Messaging.RedisStream.Enabled {
		return nil
	}
	return messaging.NewProducer(client.Redis(), int64(cfg.Messaging.RedisStream.MaxLen))
}

func ProvideProgressPublisher(p *messaging.Producer) summary.ProgressPublisher {
	if p == nil {
		return nil
	}
	return p
}

// ProvideSummaryConsumer 提供摘要任务消费者
func ProvideSummaryConsumer(client *redis.Client, cfg *config.Config) *messaging.Consumer {
	rs := cfg.Messaging.RedisStream
	return messaging.NewConsumer(client.Redis(), messaging.ConsumerConfig{
		Stream:        messaging.StreamSummaryJobs,
		Group:         messaging.GroupWithPrefix(rs.ConsumerGroupPrefix, messaging.ConsumerGroupSummaryWorker),
		ConsumerName:  hostnameConsumerName(),
		BlockTimeout:  rs.BlockTimeout,
		ClaimInterval: rs.ClaimInterval,
		RetryLimit:    rs.RetryLimit,
		Backoff: messaging.BackoffConfig{
			Initial:    rs.RetryBackoff.Initial,
			Max:        rs.RetryBackoff.Max,
			Multiplier: rs.RetryBackoff.Multiplier,
		},
	})
}

func ProvideSummaryJobHandler(svc *summary.Service, lock *redis.StoryLock) *worker.SummaryJobHandler {
	return worker.NewSummaryJobHandler(svc, lock)
}

func ProvideChatModelFactory(cfg *config.Config) workflowport.ChatModelFactory {
	return llm.NewEinoFactory(&cfg.LLM)
}

func ProvideSummaryChain(factory workflowport.ChatModelFactory, cfg *config.Config) *chain.SummaryChain {
	return chain.NewSummaryChain(factory, wfmodel.SummaryOptions{Provider: cfg.LLM.DefaultProvider})
}

func ProvideSummaryOptions(cfg *config.Config) summary.Options {
	s := cfg.Summary
	return summary.Options{
		StoryRoot:          s.StoryRoot,
		OutputDir:          s.OutputDir,
		Language:           s.Language,
		GatherChapters:     s.GatherChapters,
		MaxChapters:        s.MaxChapters,
		BigSummaryInterval: s.BigSummaryInterval,
		TimePerChapter:     s.TimePerChapter,
		RunTimeout:         s.RunTimeout,
		Quota: quota.Config{
			QuotaPerMinute: s.Quota.PerMinute,
			DailyLimit:     s.Quota.DailyLimit,
			MaxAttempts:    s.Quota.MaxAttempts,
		},
	}
}

// ProvideSummaryService 提供摘要服务，可选依赖为 nil 时不启用对应能力
func ProvideSummaryService(
	model summary.SummaryModel,
	opts summary.Options,
	checkpoints summary.CheckpointRepository,
	results summary.ResultRepository,
	publisher summary.ProgressPublisher,
) *summary.Service {
	var options []summary.ServiceOption
	if checkpoints != nil {
		options = append(options, summary.WithCheckpoints(checkpoints))
	}
	if results != nil {
		options = append(options, summary.WithResults(results))
	}
	if publisher != nil {
		options = append(options, summary.WithPublisher(publisher))
	}
	return summary.NewService(model, workflowprompt.NewRegistry(), opts, options...)
}

func hostnameConsumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

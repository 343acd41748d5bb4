//go:build wireinject
// +build wireinject

package wire

import (
	"context"

	"github.com/google/wire"

	"story-summary-ai/internal/application/quota"
	"story-summary-ai/internal/application/summary"
	"story-summary-ai/internal/config"
	"story-summary-ai/internal/workflow/chain"
)

// LLMSet 模型工厂与摘要链路
var LLMSet = wire.NewSet(
	ProvideChatModelFactory,
	ProvideSummaryChain,
	wire.Bind(new(summary.SummaryModel), new(*chain.SummaryChain)),
)

// StoreSet 断点、结果与广播
var StoreSet = wire.NewSet(
	ProvideCheckpointRepository,
	ProvideResultStore,
	ProvideResultRepository,
	ProvideMessagingProducer,
	ProvideProgressPublisher,
)

// ServiceSet 摘要服务
var ServiceSet = wire.NewSet(
	LLMSet,
	StoreSet,
	ProvideSummaryOptions,
	ProvideSummaryService,
	quota.NewUsageRecorder,
)

// InitializeSummarizer 初始化 CLI 依赖，Redis 可选
func InitializeSummarizer(ctx context.Context, cfg *config.Config) (*Summarizer, func(), error) {
	wire.Build(
		ProvideRedisClientOptional,
		ServiceSet,
		wire.Struct(new(Summarizer), "*"),
	)
	return nil, nil, nil
}

// InitializeWorker 初始化队列消费者依赖，Redis 必需
func InitializeWorker(ctx context.Context, cfg *config.Config) (*Worker, func(), error) {
	wire.Build(
		ProvideRedisClient,
		ServiceSet,
		ProvideStoryLock,
		ProvideSummaryConsumer,
		ProvideSummaryJobHandler,
		wire.Struct(new(Worker), "*"),
	)
	return nil, nil, nil
}

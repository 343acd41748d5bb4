package port

import (
	"context"

	"github.com/cloudwego/eino/components/model"
)

// ChatModelFactory 摘要链路对 LLM ChatModel 的最小依赖，name 为配置中的提供商名
type ChatModelFactory interface {
	Get(ctx context.Context, name string) (model.BaseChatModel, error)
}

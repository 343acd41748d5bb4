package model

import (
	"github.com/cloudwego/eino/schema"

	workflowprompt "story-summary-ai/internal/workflow/prompt"
)

// SummaryRequest 一次摘要阶段的 LLM 请求，Messages 已由模板渲染完成
type SummaryRequest struct {
	Prompt   workflowprompt.PromptID
	Messages []*schema.Message
}

// SummaryOptions 摘要链路的模型参数，nil 字段使用提供商默认值
type SummaryOptions struct {
	Provider    string
	Model       string
	Temperature *float32
	MaxTokens   *int
}

package quota

import (
	"context"
	"sync"

	"story-summary-ai/internal/domain/service"
	"story-summary-ai/pkg/logger"
)

// UsageTotals 进程内累计的 LLM 使用量
type UsageTotals struct {
	Calls            int
	FailedCalls      int
	PromptTokens     int
	CompletionTokens int
}

// UsageRecorder 实现 service.LLMUsageRecorder，按提示词阶段累计 token 使用量
type UsageRecorder struct {
	mu         sync.Mutex
	total      UsageTotals
	byWorkflow map[string]UsageTotals
}

func NewUsageRecorder() *UsageRecorder {
	return &UsageRecorder{byWorkflow: make(map[string]UsageTotals)}
}

func (r *UsageRecorder) Record(ctx context.Context, in service.LLMUsageInput) error {
	if r == nil {
		return nil
	}

	r.mu.Lock()
	w := r.byWorkflow[in.Workflow]
	for _, t := range []*UsageTotals{&r.total, &w} {
		t.Calls++
		if in.Failed {
			t.FailedCalls++
		}
		t.PromptTokens += in.PromptTokens
		t.CompletionTokens += in.CompletionTokens
	}
	r.byWorkflow[in.Workflow] = w
	r.mu.Unlock()

	logger.Debug(ctx, "llm usage",
		"workflow", in.Workflow,
		"provider", in.Provider,
		"model", in.Model,
		"prompt_tokens", in.PromptTokens,
		"completion_tokens", in.CompletionTokens,
		"duration_ms", in.DurationMs,
		"failed", in.Failed,
	)
	return nil
}

// Totals 返回累计总量
func (r *UsageRecorder) Totals() UsageTotals {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

// WorkflowTotals 返回指定阶段的累计量
func (r *UsageRecorder) WorkflowTotals(workflow string) UsageTotals {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byWorkflow[workflow]
}

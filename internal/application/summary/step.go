package summary

import (
	"context"
	"strings"

	"story-summary-ai/internal/domain/entity"
	wfmodel "story-summary-ai/internal/workflow/model"
	workflowprompt "story-summary-ai/internal/workflow/prompt"
)

// SummaryModel 摘要流水线对 LLM 的依赖：抽取返回结构化结果，合并与重写返回纯文本
type SummaryModel interface {
	Extract(ctx context.Context, req *wfmodel.SummaryRequest) (*entity.ChapterSummary, error)
	Complete(ctx context.Context, req *wfmodel.SummaryRequest) (string, error)
}

// CallGuard 在请求预算内执行一次 LLM 调用
type CallGuard interface {
	Execute(ctx context.Context, call func(ctx context.Context) error) error
}

// Step 渲染各阶段提示词并经 CallGuard 调用模型。
// 提示词只由传入的状态决定，相同状态总是得到相同的消息。
type Step struct {
	model    SummaryModel
	guard    CallGuard
	prompts  *workflowprompt.Registry
	language string
}

func NewStep(model SummaryModel, guard CallGuard, prompts *workflowprompt.Registry, language string) *Step {
	return &Step{model: model, guard: guard, prompts: prompts, language: language}
}

// Extract 对一批章节做首批或增量抽取。状态中没有任何摘要时走首批抽取
func (s *Step) Extract(ctx context.Context, state entity.SummaryState, batch string) (*entity.ChapterSummary, workflowprompt.PromptID, error) {
	id, vars := s.extractionVars(state, batch)
	req, err := s.render(ctx, id, vars)
	if err != nil {
		return nil, id, err
	}

	var out *entity.ChapterSummary
	err = s.guard.Execute(ctx, func(ctx context.Context) error {
		var callErr error
		out, callErr = s.model.Extract(ctx, req)
		return callErr
	})
	if err != nil {
		return nil, id, err
	}
	return out, id, nil
}

// Consolidate 将短摘要合并为一条长摘要
func (s *Step) Consolidate(ctx context.Context, characters string, shortSummaries []string) (string, error) {
	return s.complete(ctx, workflowprompt.PromptConsolidation, map[string]any{
		workflowprompt.VarCharacters: characters,
		workflowprompt.VarSummaries:  strings.Join(shortSummaries, "\n"),
	})
}

// Rewrite 对累积摘要做最终重写
func (s *Step) Rewrite(ctx context.Context, combined string) (string, error) {
	return s.complete(ctx, workflowprompt.PromptRewrite, map[string]any{
		workflowprompt.VarSummary: combined,
	})
}

func (s *Step) extractionVars(state entity.SummaryState, batch string) (workflowprompt.PromptID, map[string]any) {
	if state.IsEmpty() {
		return workflowprompt.PromptFirstExtraction, map[string]any{
			workflowprompt.VarChapterText: batch,
		}
	}
	return workflowprompt.PromptIncrementalExtraction, map[string]any{
		workflowprompt.VarCharacters:      state.Characters,
		workflowprompt.VarPreviousSummary: state.Context(),
		workflowprompt.VarChapterText:     batch,
	}
}

func (s *Step) complete(ctx context.Context, id workflowprompt.PromptID, vars map[string]any) (string, error) {
	req, err := s.render(ctx, id, vars)
	if err != nil {
		return "", err
	}

	var out string
	err = s.guard.Execute(ctx, func(ctx context.Context) error {
		var callErr error
		out, callErr = s.model.Complete(ctx, req)
		return callErr
	})
	return out, err
}

func (s *Step) render(ctx context.Context, id workflowprompt.PromptID, vars map[string]any) (*wfmodel.SummaryRequest, error) {
	vars[workflowprompt.VarLanguage] = s.language
	msgs, err := s.prompts.Render(ctx, id, vars)
	if err != nil {
		return nil, err
	}
	return &wfmodel.SummaryRequest{Prompt: id, Messages: msgs}, nil
}

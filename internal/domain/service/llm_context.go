// Package service 定义跨层共享的领域契约
package service

import (
	"context"
	"strings"
)

type llmCtxKey string

const (
	llmCtxKeyWorkflow llmCtxKey = "llm_workflow"
	llmCtxKeyProvider llmCtxKey = "llm_provider"

	unknownLabel = "unknown"
)

// WithWorkflow 标记当前 LLM 调用所属的提示词阶段 (first_extraction/consolidation/...)
func WithWorkflow(ctx context.Context, workflow string) context.Context {
	return withLabel(ctx, llmCtxKeyWorkflow, workflow)
}

// WithProvider 标记当前 LLM 调用的提供商
func WithProvider(ctx context.Context, provider string) context.Context {
	return withLabel(ctx, llmCtxKeyProvider, provider)
}

func WithWorkflowProvider(ctx context.Context, workflow, provider string) context.Context {
	return WithProvider(WithWorkflow(ctx, workflow), provider)
}

func WorkflowFromContext(ctx context.Context) string {
	return labelFromContext(ctx, llmCtxKeyWorkflow)
}

func ProviderFromContext(ctx context.Context) string {
	return labelFromContext(ctx, llmCtxKeyProvider)
}

func withLabel(ctx context.Context, key llmCtxKey, value string) context.Context {
	v := strings.TrimSpace(value)
	if v == "" {
		return ctx
	}
	return context.WithValue(ctx, key, v)
}

func labelFromContext(ctx context.Context, key llmCtxKey) string {
	if ctx == nil {
		return unknownLabel
	}
	s, ok := ctx.Value(key).(string)
	if !ok || s == "" {
		return unknownLabel
	}
	return s
}

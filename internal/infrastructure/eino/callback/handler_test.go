package callback

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"story-summary-ai/internal/domain/service"
)

type recordingUsage struct {
	mu     sync.Mutex
	inputs []service.LLMUsageInput
}

func (r *recordingUsage) Record(_ context.Context, in service.LLMUsageInput) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inputs = append(r.inputs, in)
	return nil
}

func TestChatModelHandler_RecordsUsage(t *testing.T) {
	rec := &recordingUsage{}
	h := newChatModelCallbackHandler(rec)

	ctx := service.WithWorkflowProvider(context.Background(), "first_extraction", "gemini")
	ctx = h.OnStart(ctx, nil, &model.CallbackInput{Config: &model.Config{Model: "gemini-2.0-flash"}})
	h.OnEnd(ctx, nil, &model.CallbackOutput{
		Config:     &model.Config{Model: "gemini-2.0-flash"},
		TokenUsage: &model.TokenUsage{PromptTokens: 120, CompletionTokens: 30},
	})

	require.Len(t, rec.inputs, 1)
	got := rec.inputs[0]
	assert.Equal(t, "first_extraction", got.Workflow)
	assert.Equal(t, "gemini", got.Provider)
	assert.Equal(t, "gemini-2.0-flash", got.Model)
	assert.Equal(t, 120, got.PromptTokens)
	assert.Equal(t, 30, got.CompletionTokens)
	assert.False(t, got.Failed)
}

func TestChatModelHandler_RecordsFailure(t *testing.T) {
	rec := &recordingUsage{}
	h := newChatModelCallbackHandler(rec)

	ctx := service.WithWorkflowProvider(context.Background(), "rewrite", "gemini")
	ctx = h.OnStart(ctx, nil, nil)
	h.OnError(ctx, nil, errors.New("429"))

	require.Len(t, rec.inputs, 1)
	assert.True(t, rec.inputs[0].Failed)
	assert.Equal(t, "rewrite", rec.inputs[0].Workflow)
}

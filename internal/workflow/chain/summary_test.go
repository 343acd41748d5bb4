package chain

import (
	"context"
	"errors"
	"testing"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	wfmodel "story-summary-ai/internal/workflow/model"
	workflowprompt "story-summary-ai/internal/workflow/prompt"
	apperrors "story-summary-ai/pkg/errors"
)

type scriptedChatModel struct {
	replies []reply
	calls   int
	seen    [][]*schema.Message
}

type reply struct {
	content string
	err     error
}

func (m *scriptedChatModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.seen = append(m.seen, input)
	r := m.replies[m.calls]
	m.calls++
	if r.err != nil {
		return nil, r.err
	}
	return schema.AssistantMessage(r.content, nil), nil
}

func (m *scriptedChatModel) Stream(context.Context, []*schema.Message, ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("not implemented")
}

type staticFactory struct {
	model model.BaseChatModel
	names []string
}

func (f *staticFactory) Get(_ context.Context, name string) (model.BaseChatModel, error) {
	f.names = append(f.names, name)
	return f.model, nil
}

func extractRequest() *wfmodel.SummaryRequest {
	return &wfmodel.SummaryRequest{
		Prompt:   workflowprompt.PromptFirstExtraction,
		Messages: []*schema.Message{schema.SystemMessage("sys"), schema.UserMessage("chapters")},
	}
}

func TestSummaryChain_Extract(t *testing.T) {
	cm := &scriptedChatModel{replies: []reply{{content: `{"characters":"Lan: hero","summary":"Lan wins."}`}}}
	f := &staticFactory{model: cm}
	c := NewSummaryChain(f, wfmodel.SummaryOptions{Provider: "gemini"})

	out, err := c.Extract(context.Background(), extractRequest())
	require.NoError(t, err)

	assert.Equal(t, "Lan: hero", out.Characters)
	assert.Equal(t, "Lan wins.", out.Summary)
	assert.Equal(t, []string{"gemini"}, f.names)
	assert.Equal(t, 1, cm.calls)
}

func TestSummaryChain_ExtractFallsBackWithoutSchema(t *testing.T) {
	cm := &scriptedChatModel{replies: []reply{
		{err: errors.New("400 Bad Request: Unknown parameter 'response_format'")},
		{content: "## Characters\nLan: hero\n\n## Summary\nLan wins."},
	}}
	c := NewSummaryChain(&staticFactory{model: cm}, wfmodel.SummaryOptions{Provider: "gemini"})

	out, err := c.Extract(context.Background(), extractRequest())
	require.NoError(t, err)

	assert.Equal(t, 2, cm.calls)
	assert.Equal(t, "Lan: hero", out.Characters)
	assert.Equal(t, "Lan wins.", out.Summary)
}

func TestSummaryChain_ExtractPropagatesQuotaError(t *testing.T) {
	quotaErr := errors.New("429 Too Many Requests: RESOURCE_EXHAUSTED")
	cm := &scriptedChatModel{replies: []reply{{err: quotaErr}}}
	c := NewSummaryChain(&staticFactory{model: cm}, wfmodel.SummaryOptions{Provider: "gemini"})

	_, err := c.Extract(context.Background(), extractRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, quotaErr)
	assert.Equal(t, 1, cm.calls)
}

func TestSummaryChain_ExtractRejectsEmptyResponse(t *testing.T) {
	cm := &scriptedChatModel{replies: []reply{{content: "   "}}}
	c := NewSummaryChain(&staticFactory{model: cm}, wfmodel.SummaryOptions{Provider: "gemini"})

	_, err := c.Extract(context.Background(), extractRequest())
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInvalidResponse)
}

func TestSummaryChain_ExtractRejectsUnstructuredProse(t *testing.T) {
	cm := &scriptedChatModel{replies: []reply{{content: "Lan left the village and never looked back."}}}
	c := NewSummaryChain(&staticFactory{model: cm}, wfmodel.SummaryOptions{Provider: "gemini"})

	out, err := c.Extract(context.Background(), extractRequest())
	require.Error(t, err)
	assert.Nil(t, out)
	assert.ErrorIs(t, err, apperrors.ErrInvalidResponse)
	assert.Equal(t, 1, cm.calls)
}

func TestSummaryChain_Complete(t *testing.T) {
	cm := &scriptedChatModel{replies: []reply{{content: "  merged summary \n"}}}
	c := NewSummaryChain(&staticFactory{model: cm}, wfmodel.SummaryOptions{Provider: "gemini"})

	req := &wfmodel.SummaryRequest{
		Prompt:   workflowprompt.PromptConsolidation,
		Messages: []*schema.Message{schema.UserMessage("merge")},
	}
	out, err := c.Complete(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "merged summary", out)
	assert.Equal(t, req.Messages, cm.seen[0])
}

func TestSummaryChain_RejectsEmptyRequest(t *testing.T) {
	c := NewSummaryChain(&staticFactory{}, wfmodel.SummaryOptions{})
	_, err := c.Complete(context.Background(), &wfmodel.SummaryRequest{})
	require.Error(t, err)

	var nilChain *SummaryChain
	_, err = nilChain.Extract(context.Background(), extractRequest())
	require.Error(t, err)
}

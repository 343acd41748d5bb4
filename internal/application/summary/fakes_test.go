package summary

import (
	"context"
	"fmt"
	"sync"

	"story-summary-ai/internal/domain/entity"
	wfmodel "story-summary-ai/internal/workflow/model"
	workflowprompt "story-summary-ai/internal/workflow/prompt"
)

// fakeModel 按调用序号生成确定性的摘要，并记录所有请求
type fakeModel struct {
	mu        sync.Mutex
	extracts  []*wfmodel.SummaryRequest
	completes []*wfmodel.SummaryRequest

	extractFn  func(ctx context.Context, n int, req *wfmodel.SummaryRequest) (*entity.ChapterSummary, error)
	completeFn func(ctx context.Context, req *wfmodel.SummaryRequest) (string, error)
}

func (m *fakeModel) Extract(ctx context.Context, req *wfmodel.SummaryRequest) (*entity.ChapterSummary, error) {
	m.mu.Lock()
	m.extracts = append(m.extracts, req)
	n := len(m.extracts)
	m.mu.Unlock()

	if m.extractFn != nil {
		return m.extractFn(ctx, n, req)
	}
	return &entity.ChapterSummary{
		Summary:    fmt.Sprintf("summary-%d", n),
		Characters: fmt.Sprintf("characters-%d", n),
	}, nil
}

func (m *fakeModel) Complete(ctx context.Context, req *wfmodel.SummaryRequest) (string, error) {
	m.mu.Lock()
	m.completes = append(m.completes, req)
	consolidations := 0
	for _, r := range m.completes {
		if r.Prompt == workflowprompt.PromptConsolidation {
			consolidations++
		}
	}
	m.mu.Unlock()

	if m.completeFn != nil {
		return m.completeFn(ctx, req)
	}
	if req.Prompt == workflowprompt.PromptConsolidation {
		return fmt.Sprintf("long-%d", consolidations), nil
	}
	return "final summary", nil
}

func (m *fakeModel) requestsFor(id workflowprompt.PromptID) []*wfmodel.SummaryRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*wfmodel.SummaryRequest
	for _, r := range append(append([]*wfmodel.SummaryRequest{}, m.extracts...), m.completes...) {
		if r.Prompt == id {
			out = append(out, r)
		}
	}
	return out
}

func (m *fakeModel) extractPrompts() []workflowprompt.PromptID {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]workflowprompt.PromptID, 0, len(m.extracts))
	for _, r := range m.extracts {
		out = append(out, r.Prompt)
	}
	return out
}

// directGuard 不做限流，直接执行调用
type directGuard struct{}

func (directGuard) Execute(ctx context.Context, call func(ctx context.Context) error) error {
	return call(ctx)
}

// sliceSource 内存批次源
type sliceSource struct {
	batches []string
	next    int
}

func newSliceSource(n int) *sliceSource {
	s := &sliceSource{}
	for i := 1; i <= n; i++ {
		s.batches = append(s.batches, fmt.Sprintf("batch text %d", i))
	}
	return s
}

func (s *sliceSource) Next(context.Context) (string, bool) {
	if s.next >= len(s.batches) {
		return "", false
	}
	b := s.batches[s.next]
	s.next++
	return b, true
}

func (s *sliceSource) Consumed() int { return s.next }

func userContent(req *wfmodel.SummaryRequest) string {
	return req.Messages[len(req.Messages)-1].Content
}

func drain(ctx context.Context, p *ProgressChannel) []entity.ProgressEvent {
	var events []entity.ProgressEvent
	for {
		ev, ok := p.Receive(ctx)
		if !ok {
			return events
		}
		events = append(events, ev)
	}
}

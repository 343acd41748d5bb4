package summary

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"story-summary-ai/internal/application/quota"
	"story-summary-ai/internal/domain/entity"
	wfmodel "story-summary-ai/internal/workflow/model"
	workflowprompt "story-summary-ai/internal/workflow/prompt"
	apperrors "story-summary-ai/pkg/errors"
)

func newTestController(t *testing.T, cfg ControllerConfig, source BatchSource, model SummaryModel) *Controller {
	t.Helper()
	if cfg.Language == "" {
		cfg.Language = "English"
	}
	c, err := NewController(cfg, source, model, directGuard{}, workflowprompt.NewRegistry())
	require.NoError(t, err)
	return c
}

func TestController_ConsolidatesEveryInterval(t *testing.T) {
	model := &fakeModel{}
	c := newTestController(t, ControllerConfig{
		GatherChapters:     2,
		MaxChapters:        8,
		BigSummaryInterval: 4,
	}, newSliceSource(10), model)

	result, err := c.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "final summary", result)

	state := c.State()
	assert.Equal(t, []string{"long-1", "long-2"}, state.LongSummaries)
	assert.Empty(t, state.ShortSummaries)
	assert.Equal(t, 4, c.BatchesProcessed())
	assert.Equal(t, PhaseDone, c.Phase())

	assert.Equal(t, []workflowprompt.PromptID{
		workflowprompt.PromptFirstExtraction,
		workflowprompt.PromptIncrementalExtraction,
		workflowprompt.PromptIncrementalExtraction,
		workflowprompt.PromptIncrementalExtraction,
	}, model.extractPrompts())

	consolidations := model.requestsFor(workflowprompt.PromptConsolidation)
	require.Len(t, consolidations, 2)
	assert.Contains(t, userContent(consolidations[0]), "summary-1\nsummary-2")
	assert.Contains(t, userContent(consolidations[1]), "summary-3\nsummary-4")
	assert.NotContains(t, userContent(consolidations[1]), "summary-2")

	rewrites := model.requestsFor(workflowprompt.PromptRewrite)
	require.Len(t, rewrites, 1)
	assert.Contains(t, userContent(rewrites[0]), "long-1\nlong-2")
}

func TestController_ThreeChaptersGatherTwo(t *testing.T) {
	dir := t.TempDir()
	for i, body := range []string{"chapter one", "chapter two", "chapter three"} {
		name := filepath.Join(dir, []string{"001.txt", "002.txt", "003.txt"}[i])
		require.NoError(t, os.WriteFile(name, []byte(body), 0o644))
	}
	paths, err := ListChapterFiles(dir, 0)
	require.NoError(t, err)

	model := &fakeModel{}
	c := newTestController(t, ControllerConfig{
		RunID:              "run-1",
		GatherChapters:     2,
		MaxChapters:        1000,
		BigSummaryInterval: 100,
	}, NewChapterSource(paths, 2), model)

	run := c.Start(context.Background())
	events := drain(context.Background(), run.Progress())
	result, err := run.Wait()
	require.NoError(t, err)
	assert.Equal(t, "final summary", result)

	require.Len(t, model.extracts, 2)
	assert.Equal(t, workflowprompt.PromptFirstExtraction, model.extracts[0].Prompt)
	assert.Contains(t, userContent(model.extracts[0]), "chapter one\nchapter two")
	assert.Equal(t, workflowprompt.PromptIncrementalExtraction, model.extracts[1].Prompt)
	assert.Contains(t, userContent(model.extracts[1]), "chapter three")
	assert.Contains(t, userContent(model.extracts[1]), "characters-1")
	assert.Contains(t, userContent(model.extracts[1]), "summary-1")

	assert.Empty(t, model.requestsFor(workflowprompt.PromptConsolidation))
	require.Len(t, model.requestsFor(workflowprompt.PromptRewrite), 1)

	require.Len(t, events, 2)
	assert.Equal(t, 1, events[0].BatchIndex)
	assert.Equal(t, 2, events[0].ChaptersProcessed)
	assert.Equal(t, "summary-1", events[0].Summary)
	assert.Equal(t, "characters-1", events[0].Characters)
	assert.Equal(t, []string{"summary-1"}, events[0].State.ShortSummaries)
	assert.Equal(t, 2, events[1].BatchIndex)
	assert.Equal(t, 3, events[1].FilesConsumed)
	assert.Equal(t, "run-1", events[1].RunID)
	assert.Equal(t, []string{"summary-1", "summary-2"}, events[1].State.ShortSummaries)
}

func TestController_SeededStateUsesIncremental(t *testing.T) {
	model := &fakeModel{}
	c := newTestController(t, ControllerConfig{
		GatherChapters:     2,
		MaxChapters:        100,
		BigSummaryInterval: 2,
		Seed: entity.SummaryState{
			LongSummaries: []string{"earlier arc"},
			Characters:    "Lan: a swordswoman",
		},
	}, newSliceSource(2), model)

	_, err := c.Run(context.Background(), nil)
	require.NoError(t, err)

	require.Len(t, model.extracts, 2)
	first := userContent(model.extracts[0])
	assert.Equal(t, workflowprompt.PromptIncrementalExtraction, model.extracts[0].Prompt)
	assert.Contains(t, first, "earlier arc")
	assert.Contains(t, first, "Lan: a swordswoman")

	// 续跑的第一批不触发合并，第二批 (4 % 2 == 0) 触发
	consolidations := model.requestsFor(workflowprompt.PromptConsolidation)
	require.Len(t, consolidations, 1)
	assert.Contains(t, userContent(consolidations[0]), "summary-1\nsummary-2")
	assert.Equal(t, []string{"earlier arc", "long-1"}, c.State().LongSummaries)
}

func TestController_IntervalSmallerThanGather(t *testing.T) {
	model := &fakeModel{}
	c := newTestController(t, ControllerConfig{
		GatherChapters:     2,
		MaxChapters:        100,
		BigSummaryInterval: 1,
	}, newSliceSource(3), model)

	_, err := c.Run(context.Background(), nil)
	require.NoError(t, err)

	// 除第一批外每批之后都合并
	assert.Len(t, model.requestsFor(workflowprompt.PromptConsolidation), 2)
	state := c.State()
	assert.Empty(t, state.ShortSummaries)
	assert.Equal(t, []string{"long-1", "long-2"}, state.LongSummaries)
}

func TestController_StopsAtMaxChapters(t *testing.T) {
	model := &fakeModel{}
	source := newSliceSource(10)
	c := newTestController(t, ControllerConfig{
		GatherChapters:     3,
		MaxChapters:        5,
		BigSummaryInterval: 100,
	}, source, model)

	_, err := c.Run(context.Background(), nil)
	require.NoError(t, err)

	assert.Len(t, model.extracts, 2)
	assert.Equal(t, 2, source.Consumed())
}

func TestController_FinalizeIsIdempotentOnSameState(t *testing.T) {
	seed := entity.SummaryState{
		ShortSummaries: []string{"s1", "s2"},
		LongSummaries:  []string{"l1"},
		Characters:     "Minh: a scholar",
	}

	var rewrites []*wfmodel.SummaryRequest
	for i := 0; i < 2; i++ {
		model := &fakeModel{}
		c := newTestController(t, ControllerConfig{
			GatherChapters:     2,
			MaxChapters:        10,
			BigSummaryInterval: 10,
			Seed:               seed,
		}, newSliceSource(0), model)

		result, err := c.Run(context.Background(), nil)
		require.NoError(t, err)
		assert.Equal(t, "final summary", result)

		reqs := model.requestsFor(workflowprompt.PromptRewrite)
		require.Len(t, reqs, 1)
		rewrites = append(rewrites, reqs[0])
	}

	assert.Equal(t, rewrites[0].Messages, rewrites[1].Messages)
	assert.Contains(t, userContent(rewrites[0]), "l1\ns1\ns2")
}

func TestController_NothingToSummarize(t *testing.T) {
	model := &fakeModel{}
	c := newTestController(t, ControllerConfig{
		GatherChapters:     2,
		MaxChapters:        10,
		BigSummaryInterval: 10,
	}, newSliceSource(0), model)

	progress := NewProgressChannel()
	_, err := c.Run(context.Background(), progress)

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrNothingToSummarize)
	assert.Empty(t, model.completes)
	assert.Empty(t, drain(context.Background(), progress))
	assert.Equal(t, PhaseFailed, c.Phase())
}

func TestController_TimeoutAbortsRun(t *testing.T) {
	model := &fakeModel{
		extractFn: func(ctx context.Context, n int, _ *wfmodel.SummaryRequest) (*entity.ChapterSummary, error) {
			if n == 1 {
				return &entity.ChapterSummary{Summary: "s", Characters: "c"}, nil
			}
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	c := newTestController(t, ControllerConfig{
		GatherChapters:     1,
		MaxChapters:        10,
		BigSummaryInterval: 100,
		Timeout:            50 * time.Millisecond,
	}, newSliceSource(5), model)

	run := c.Start(context.Background())
	events := drain(context.Background(), run.Progress())
	_, err := run.Wait()

	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrRunTimeout)
	assert.Len(t, events, 1)
	assert.Len(t, model.extracts, 2)
	assert.Empty(t, model.completes)
	assert.Equal(t, 1, c.BatchesProcessed())
}

func TestController_PermanentErrorStopsRun(t *testing.T) {
	boom := errors.New("401 unauthorized")
	model := &fakeModel{
		extractFn: func(context.Context, int, *wfmodel.SummaryRequest) (*entity.ChapterSummary, error) {
			return nil, boom
		},
	}
	c := newTestController(t, ControllerConfig{
		GatherChapters:     2,
		MaxChapters:        10,
		BigSummaryInterval: 10,
	}, newSliceSource(3), model)

	_, err := c.Run(context.Background(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Len(t, model.extracts, 1)
	assert.Empty(t, model.completes)
}

func TestController_CharactersFollowLatestBatch(t *testing.T) {
	model := &fakeModel{
		extractFn: func(_ context.Context, n int, _ *wfmodel.SummaryRequest) (*entity.ChapterSummary, error) {
			if n == 1 {
				return &entity.ChapterSummary{Summary: "s1", Characters: "Lan: hero"}, nil
			}
			return &entity.ChapterSummary{Summary: "s2"}, nil
		},
	}
	c := newTestController(t, ControllerConfig{
		GatherChapters:     1,
		MaxChapters:        10,
		BigSummaryInterval: 100,
	}, newSliceSource(2), model)

	_, err := c.Run(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, c.State().Characters)
}

func TestController_RunsOnlyOnce(t *testing.T) {
	c := newTestController(t, ControllerConfig{
		GatherChapters:     1,
		MaxChapters:        10,
		BigSummaryInterval: 10,
	}, newSliceSource(1), &fakeModel{})

	_, err := c.Run(context.Background(), nil)
	require.NoError(t, err)

	_, err = c.Run(context.Background(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInvalidParam)
}

func TestController_WithBudgetGuard(t *testing.T) {
	model := &fakeModel{}
	guard := quota.NewBudgetGuard(quota.Config{QuotaPerMinute: 1000}, nil)
	c, err := NewController(ControllerConfig{
		GatherChapters:     1,
		MaxChapters:        10,
		BigSummaryInterval: 2,
		Language:           "Vietnamese",
	}, newSliceSource(4), model, guard, workflowprompt.NewRegistry())
	require.NoError(t, err)

	_, err = c.Run(context.Background(), nil)
	require.NoError(t, err)

	// 4 次抽取 + 2 次合并 (第 2、4 批) + 1 次重写，均计入日预算
	assert.Equal(t, len(model.extracts)+len(model.completes), guard.DailyCount())
	assert.Contains(t, model.extracts[0].Messages[0].Content, "Vietnamese")
}

func TestNewController_Validation(t *testing.T) {
	_, err := NewController(ControllerConfig{GatherChapters: 0, MaxChapters: 1, BigSummaryInterval: 1},
		newSliceSource(1), &fakeModel{}, directGuard{}, workflowprompt.NewRegistry())
	assert.ErrorIs(t, err, apperrors.ErrInvalidParam)

	_, err = NewController(ControllerConfig{GatherChapters: 1, MaxChapters: 1, BigSummaryInterval: 1},
		nil, &fakeModel{}, directGuard{}, workflowprompt.NewRegistry())
	assert.ErrorIs(t, err, apperrors.ErrInvalidParam)
}

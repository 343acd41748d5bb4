package summary

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"story-summary-ai/internal/domain/entity"
	workflowprompt "story-summary-ai/internal/workflow/prompt"
	apperrors "story-summary-ai/pkg/errors"
	"story-summary-ai/pkg/logger"
	"story-summary-ai/pkg/metrics"
	"story-summary-ai/pkg/tracer"
)

// BatchSource 章节批次来源
type BatchSource interface {
	Next(ctx context.Context) (string, bool)
	// Consumed 已消费的底层章节文件数
	Consumed() int
}

// Phase 控制器所处阶段
type Phase string

const (
	PhasePending     Phase = "pending"
	PhaseSummarizing Phase = "summarizing"
	PhaseFinalizing  Phase = "finalizing"
	PhaseDone        Phase = "done"
	PhaseFailed      Phase = "failed"
)

// ControllerConfig 单次运行参数
type ControllerConfig struct {
	RunID string
	Story string

	GatherChapters     int
	MaxChapters        int
	BigSummaryInterval int

	// Timeout 整个运行共享的超时，0 表示不限
	Timeout  time.Duration
	Language string

	// Seed 续跑时的初始状态
	Seed entity.SummaryState
}

func (c ControllerConfig) validate() error {
	switch {
	case c.GatherChapters < 1:
		return apperrors.New(apperrors.CodeInvalidParam, fmt.Sprintf("gather_chapters must be >= 1, got %d", c.GatherChapters))
	case c.MaxChapters < 1:
		return apperrors.New(apperrors.CodeInvalidParam, fmt.Sprintf("max_chapters must be >= 1, got %d", c.MaxChapters))
	case c.BigSummaryInterval < 1:
		return apperrors.New(apperrors.CodeInvalidParam, fmt.Sprintf("big_summary_interval must be >= 1, got %d", c.BigSummaryInterval))
	}
	return nil
}

// Controller 驱动 汇总 -> (合并) -> ... -> 最终重写 的状态机。
// 每个实例只能运行一次，状态只由运行所在的 goroutine 修改。
type Controller struct {
	cfg    ControllerConfig
	source BatchSource
	step   *Step

	started atomic.Bool

	mu      sync.Mutex
	phase   Phase
	state   entity.SummaryState
	batches int
}

// NewController 创建控制器
func NewController(cfg ControllerConfig, source BatchSource, model SummaryModel, guard CallGuard, prompts *workflowprompt.Registry) (*Controller, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if source == nil || model == nil || guard == nil || prompts == nil {
		return nil, apperrors.New(apperrors.CodeInvalidParam, "controller dependencies must not be nil")
	}
	return &Controller{
		cfg:    cfg,
		source: source,
		step:   NewStep(model, guard, prompts, cfg.Language),
		phase:  PhasePending,
		state:  cfg.Seed.Clone(),
	}, nil
}

// Phase 当前阶段
func (c *Controller) Phase() Phase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.phase
}

// State 当前累积状态的副本
func (c *Controller) State() entity.SummaryState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}

// BatchesProcessed 本次运行已处理的批次数
func (c *Controller) BatchesProcessed() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.batches
}

// Run 同步执行整个流水线并返回最终摘要。progress 非 nil 时每批发出一个事件，运行结束后关闭。
func (c *Controller) Run(ctx context.Context, progress *ProgressChannel) (string, error) {
	if progress != nil {
		defer progress.Close()
	}
	if !c.started.CompareAndSwap(false, true) {
		return "", apperrors.New(apperrors.CodeInvalidParam, "controller already started")
	}

	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	ctx, span := tracer.Start(ctx, "summary.run", trace.WithAttributes(
		attribute.String("summary.run_id", c.cfg.RunID),
		attribute.String("summary.story", c.cfg.Story),
		attribute.Int("summary.gather_chapters", c.cfg.GatherChapters),
		attribute.Int("summary.max_chapters", c.cfg.MaxChapters),
	))

	c.setPhase(PhaseSummarizing)
	result, err := c.run(ctx, progress)
	if err != nil {
		err = classifyRunError(ctx, err)
		c.setPhase(PhaseFailed)
	} else {
		c.setPhase(PhaseDone)
	}

	span.SetAttributes(attribute.Int("summary.batches", c.BatchesProcessed()))
	tracer.End(span, err)
	return result, err
}

func (c *Controller) run(ctx context.Context, progress *ProgressChannel) (string, error) {
	for c.BatchesProcessed()*c.cfg.GatherChapters < c.cfg.MaxChapters {
		batch, ok := c.source.Next(ctx)
		if !ok {
			break
		}
		if err := c.processBatch(ctx, batch, progress); err != nil {
			return "", err
		}
	}
	return c.finalize(ctx)
}

func (c *Controller) processBatch(ctx context.Context, batch string, progress *ProgressChannel) (err error) {
	state := c.State()
	firstOfRun := c.BatchesProcessed() == 0

	ctx, span := tracer.Start(ctx, "summary.batch", trace.WithAttributes(
		attribute.Int("summary.batch_index", c.BatchesProcessed()+1),
		attribute.Int("summary.batch_chars", len(batch)),
	))
	defer func() { tracer.End(span, err) }()

	out, promptID, err := c.step.Extract(ctx, state, batch)
	if err != nil {
		return fmt.Errorf("summarize batch %d: %w", c.BatchesProcessed()+1, err)
	}
	// 已超时的调用结果直接丢弃
	if err := ctx.Err(); err != nil {
		return err
	}

	next := state.Clone()
	next.ShortSummaries = append(next.ShortSummaries, out.Summary)
	next.Characters = out.Characters

	c.mu.Lock()
	c.batches++
	batches := c.batches
	c.mu.Unlock()
	chapters := batches * c.cfg.GatherChapters

	metrics.SummaryBatchesTotal.WithLabelValues(string(promptID)).Inc()
	logger.Info(ctx, "chapter batch summarized",
		"batch", batches,
		"chapters_processed", chapters,
		"prompt", string(promptID),
	)

	if progress != nil {
		ev := entity.ProgressEvent{
			RunID:             c.cfg.RunID,
			Story:             c.cfg.Story,
			BatchIndex:        batches,
			ChaptersProcessed: chapters,
			FilesConsumed:     c.source.Consumed(),
			Summary:           out.Summary,
			Characters:        next.Characters,
			State:             next.Clone(),
			CreatedAt:         time.Now(),
		}
		if err := progress.Send(ev); err != nil {
			logger.Warn(ctx, "progress event dropped", "batch", batches, "error", err.Error())
		}
	}

	c.mu.Lock()
	c.state = next
	c.mu.Unlock()

	if !firstOfRun && chapters%c.cfg.BigSummaryInterval == 0 {
		return c.consolidate(ctx, chapters)
	}
	return nil
}

func (c *Controller) consolidate(ctx context.Context, chapters int) (err error) {
	state := c.State()

	ctx, span := tracer.Start(ctx, "summary.consolidate", trace.WithAttributes(
		attribute.Int("summary.chapters_processed", chapters),
		attribute.Int("summary.short_summaries", len(state.ShortSummaries)),
	))
	defer func() { tracer.End(span, err) }()

	long, err := c.step.Consolidate(ctx, state.Characters, state.ShortSummaries)
	if err != nil {
		return fmt.Errorf("consolidate at chapter %d: %w", chapters, err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	c.state.LongSummaries = append(c.state.LongSummaries, long)
	c.state.ShortSummaries = nil
	longCount := len(c.state.LongSummaries)
	c.mu.Unlock()

	metrics.SummaryConsolidationsTotal.Inc()
	logger.Info(ctx, "short summaries consolidated",
		"chapters_processed", chapters,
		"long_summaries", longCount,
	)
	return nil
}

func (c *Controller) finalize(ctx context.Context) (_ string, err error) {
	c.setPhase(PhaseFinalizing)

	ctx, span := tracer.Start(ctx, "summary.finalize")
	defer func() { tracer.End(span, err) }()

	combined := c.State().Context()
	if combined == "" {
		return "", apperrors.ErrNothingToSummarize
	}

	result, err := c.step.Rewrite(ctx, combined)
	if err != nil {
		return "", fmt.Errorf("final rewrite: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	logger.Info(ctx, "summary finalized",
		"batches", c.BatchesProcessed(),
		"chars", len(result),
	)
	return result, nil
}

func (c *Controller) setPhase(p Phase) {
	c.mu.Lock()
	c.phase = p
	c.mu.Unlock()
}

// classifyRunError 将超时统一为 ErrRunTimeout
func classifyRunError(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		if errors.Is(err, apperrors.ErrRunTimeout) {
			return err
		}
		return apperrors.Wrap(err, apperrors.CodeRunTimeout, "summary run timed out")
	}
	return err
}

// Run 后台运行中的流水线
type Run struct {
	progress *ProgressChannel
	done     chan struct{}
	result   string
	err      error
}

// Start 在独立 goroutine 中运行控制器，调用方通过 Progress 消费事件、Wait 获取结果
func (c *Controller) Start(ctx context.Context) *Run {
	r := &Run{
		progress: NewProgressChannel(),
		done:     make(chan struct{}),
	}
	go func() {
		defer close(r.done)
		r.result, r.err = c.Run(ctx, r.progress)
	}()
	return r
}

// Progress 进度事件通道，运行结束后关闭
func (r *Run) Progress() *ProgressChannel {
	return r.progress
}

// Done 运行结束时关闭
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait 阻塞直到运行结束
func (r *Run) Wait() (string, error) {
	<-r.done
	return r.result, r.err
}

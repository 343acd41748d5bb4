package summary

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"story-summary-ai/internal/application/quota"
	"story-summary-ai/internal/domain/entity"
	workflowprompt "story-summary-ai/internal/workflow/prompt"
	apperrors "story-summary-ai/pkg/errors"
	"story-summary-ai/pkg/logger"
	"story-summary-ai/pkg/metrics"
)

// CheckpointRepository 断点快照存储
type CheckpointRepository interface {
	Save(ctx context.Context, cp *entity.Checkpoint) error
	// Load 不存在时返回 nil, nil
	Load(ctx context.Context, story string) (*entity.Checkpoint, error)
	Delete(ctx context.Context, story string) error
}

// ResultRepository 摘要结果存储
type ResultRepository interface {
	Save(ctx context.Context, res *entity.SummaryResult) error
}

// ProgressPublisher 将进度与结果广播给外部消费者
type ProgressPublisher interface {
	PublishProgress(ctx context.Context, ev *entity.ProgressEvent) error
	PublishResult(ctx context.Context, res *entity.SummaryResult) error
}

// Options 运行参数默认值，通常来自 config.SummaryConfig
type Options struct {
	StoryRoot string
	OutputDir string
	Language  string

	GatherChapters     int
	MaxChapters        int
	BigSummaryInterval int

	TimePerChapter time.Duration
	RunTimeout     time.Duration

	Quota quota.Config
}

// Request 一次摘要运行的输入，数值参数为 0 时使用 Options 中的默认值
type Request struct {
	Story        string
	StoryDir     string
	StartChapter int
	Resume       bool

	GatherChapters     int
	MaxChapters        int
	BigSummaryInterval int
	Timeout            time.Duration

	// SkipSave 为 true 时不写结果文件
	SkipSave bool
	// OnProgress 每批完成后在调用方 goroutine 中回调
	OnProgress func(entity.ProgressEvent)
}

// Service 组装章节源、请求预算与控制器，并处理断点、广播与结果落盘
type Service struct {
	model   SummaryModel
	prompts *workflowprompt.Registry
	opts    Options
	clock   quota.Clock

	checkpoints CheckpointRepository
	results     ResultRepository
	publisher   ProgressPublisher
}

// ServiceOption 可选依赖
type ServiceOption func(*Service)

func WithCheckpoints(repo CheckpointRepository) ServiceOption {
	return func(s *Service) { s.checkpoints = repo }
}

func WithResults(repo ResultRepository) ServiceOption {
	return func(s *Service) { s.results = repo }
}

func WithPublisher(p ProgressPublisher) ServiceOption {
	return func(s *Service) { s.publisher = p }
}

func WithClock(c quota.Clock) ServiceOption {
	return func(s *Service) { s.clock = c }
}

func NewService(model SummaryModel, prompts *workflowprompt.Registry, opts Options, options ...ServiceOption) *Service {
	s := &Service{
		model:   model,
		prompts: prompts,
		opts:    opts,
		clock:   quota.SystemClock{},
	}
	for _, o := range options {
		o(s)
	}
	return s
}

type runParams struct {
	story        string
	dir          string
	startChapter int
	gather       int
	max          int
	interval     int
	timeout      time.Duration
}

func (s *Service) resolve(req Request) (runParams, error) {
	p := runParams{
		story:        strings.TrimSpace(req.Story),
		startChapter: req.StartChapter,
		gather:       pick(req.GatherChapters, s.opts.GatherChapters),
		max:          pick(req.MaxChapters, s.opts.MaxChapters),
		interval:     pick(req.BigSummaryInterval, s.opts.BigSummaryInterval),
	}
	if p.story == "" && req.StoryDir != "" {
		p.story = filepath.Base(filepath.Clean(req.StoryDir))
	}
	if p.story == "" {
		return p, apperrors.New(apperrors.CodeInvalidParam, "story name is required")
	}
	if p.startChapter < 0 {
		return p, apperrors.New(apperrors.CodeInvalidParam, "start chapter must be >= 0")
	}
	p.dir = ResolveStoryDir(s.opts.StoryRoot, p.story, req.StoryDir)

	switch {
	case req.Timeout > 0:
		p.timeout = req.Timeout
	case s.opts.RunTimeout > 0:
		p.timeout = s.opts.RunTimeout
	case s.opts.TimePerChapter > 0 && p.gather > 0:
		p.timeout = DeriveTimeout(p.max, p.gather, s.opts.TimePerChapter)
	}
	return p, nil
}

// RunTimeout 返回该请求解析后的整体超时，未配置时为 0
func (s *Service) RunTimeout(req Request) (time.Duration, error) {
	p, err := s.resolve(req)
	if err != nil {
		return 0, err
	}
	return p.timeout, nil
}

// DeriveTimeout 按 ceil(max / gather) 个批次估算整体超时
func DeriveTimeout(maxChapters, gather int, perBatch time.Duration) time.Duration {
	if maxChapters <= 0 || gather <= 0 || perBatch <= 0 {
		return 0
	}
	batches := (maxChapters + gather - 1) / gather
	return time.Duration(batches) * perBatch
}

// Summarize 执行一次完整运行
func (s *Service) Summarize(ctx context.Context, req Request) (*entity.SummaryResult, error) {
	p, err := s.resolve(req)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	ctx = logger.WithContext(ctx, logger.RunIDKey, runID)
	ctx = logger.WithContext(ctx, logger.StoryKey, p.story)
	started := time.Now()

	result, err := s.summarize(ctx, runID, p, req)
	status := "success"
	if err != nil {
		status = string(apperrors.CodeOf(err))
		logger.Error(ctx, "summary run failed", err, "duration", time.Since(started).String())
	}
	metrics.SummaryRunTotal.WithLabelValues(status).Inc()
	metrics.SummaryRunDuration.WithLabelValues(status).Observe(time.Since(started).Seconds())
	return result, err
}

func (s *Service) summarize(ctx context.Context, runID string, p runParams, req Request) (*entity.SummaryResult, error) {
	started := time.Now()

	seed := entity.SummaryState{}
	if req.Resume {
		if cp := s.loadCheckpoint(ctx, p.story); cp != nil {
			seed = cp.State
			p.startChapter = cp.NextChapter
			logger.Info(ctx, "resuming from checkpoint",
				"previous_run_id", cp.RunID,
				"next_chapter", cp.NextChapter,
				"short_summaries", len(cp.State.ShortSummaries),
				"long_summaries", len(cp.State.LongSummaries),
			)
		}
	}

	paths, err := ListChapterFiles(p.dir, p.startChapter)
	if err != nil {
		return nil, err
	}
	logger.Info(ctx, "summary run started",
		"dir", p.dir,
		"chapter_files", len(paths),
		"start_chapter", p.startChapter,
		"gather_chapters", p.gather,
		"max_chapters", p.max,
		"big_summary_interval", p.interval,
		"timeout", p.timeout.String(),
	)

	guard := quota.NewBudgetGuard(s.opts.Quota, s.clock)
	ctrl, err := NewController(ControllerConfig{
		RunID:              runID,
		Story:              p.story,
		GatherChapters:     p.gather,
		MaxChapters:        p.max,
		BigSummaryInterval: p.interval,
		Timeout:            p.timeout,
		Language:           s.opts.Language,
		Seed:               seed,
	}, NewChapterSource(paths, p.gather), s.model, guard, s.prompts)
	if err != nil {
		return nil, err
	}

	run := ctrl.Start(ctx)
	for {
		ev, ok := run.Progress().Receive(ctx)
		if !ok {
			break
		}
		s.handleProgress(ctx, p, req, ev)
	}

	text, err := run.Wait()
	if err != nil {
		return nil, err
	}

	batches := ctrl.BatchesProcessed()
	result := &entity.SummaryResult{
		RunID:             runID,
		Story:             p.story,
		Text:              text,
		BatchesProcessed:  batches,
		ChaptersProcessed: batches * p.gather,
		Duration:          time.Since(started),
		CompletedAt:       time.Now(),
	}

	if !req.SkipSave && s.opts.OutputDir != "" {
		path, err := WriteResultFile(s.opts.OutputDir, p.story, text)
		if err != nil {
			return result, err
		}
		result.OutputPath = path
	}

	s.persistResult(ctx, result)
	logger.Info(ctx, "summary run completed",
		"batches", batches,
		"duration", result.Duration.String(),
		"output", result.OutputPath,
	)
	return result, nil
}

func (s *Service) handleProgress(ctx context.Context, p runParams, req Request, ev entity.ProgressEvent) {
	if req.OnProgress != nil {
		req.OnProgress(ev)
	}

	if s.checkpoints != nil {
		cp := &entity.Checkpoint{
			Story:       p.story,
			RunID:       ev.RunID,
			State:       ev.State,
			NextChapter: p.startChapter + ev.FilesConsumed,
			UpdatedAt:   time.Now(),
		}
		if err := s.checkpoints.Save(ctx, cp); err != nil {
			logger.Warn(ctx, "failed to save checkpoint", "batch", ev.BatchIndex, "error", err.Error())
		}
	}

	if s.publisher != nil {
		if err := s.publisher.PublishProgress(ctx, &ev); err != nil {
			logger.Warn(ctx, "failed to publish progress", "batch", ev.BatchIndex, "error", err.Error())
		}
	}
}

func (s *Service) loadCheckpoint(ctx context.Context, story string) *entity.Checkpoint {
	if s.checkpoints == nil {
		logger.Warn(ctx, "resume requested but no checkpoint store configured")
		return nil
	}
	cp, err := s.checkpoints.Load(ctx, story)
	if err != nil {
		logger.Warn(ctx, "failed to load checkpoint, starting fresh", "error", err.Error())
		return nil
	}
	return cp
}

func (s *Service) persistResult(ctx context.Context, result *entity.SummaryResult) {
	if s.checkpoints != nil {
		if err := s.checkpoints.Delete(ctx, result.Story); err != nil {
			logger.Warn(ctx, "failed to delete checkpoint", "error", err.Error())
		}
	}
	if s.results != nil {
		if err := s.results.Save(ctx, result); err != nil {
			logger.Warn(ctx, "failed to save summary result", "error", err.Error())
		}
	}
	if s.publisher != nil {
		if err := s.publisher.PublishResult(ctx, result); err != nil {
			logger.Warn(ctx, "failed to publish summary result", "error", err.Error())
		}
	}
}

func pick(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

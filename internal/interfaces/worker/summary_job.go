// Package worker 将队列中的摘要任务转换为流水线运行
package worker

import (
	"context"
	"time"

	"story-summary-ai/internal/application/summary"
	"story-summary-ai/internal/domain/entity"
	"story-summary-ai/internal/infrastructure/messaging"
	apperrors "story-summary-ai/pkg/errors"
	"story-summary-ai/pkg/logger"
)

// lockMargin 锁过期时间在运行超时之外的余量
const lockMargin = time.Minute

// Summarizer 执行一次摘要运行
type Summarizer interface {
	Summarize(ctx context.Context, req summary.Request) (*entity.SummaryResult, error)
	RunTimeout(req summary.Request) (time.Duration, error)
}

// StoryLocker 故事级互斥锁，ttl <= 0 时由实现决定过期时间
type StoryLocker interface {
	Acquire(ctx context.Context, story string, ttl time.Duration) (func(context.Context) error, error)
}

// SummaryJobHandler 处理 summary_job 消息
type SummaryJobHandler struct {
	svc  Summarizer
	lock StoryLocker
}

// NewSummaryJobHandler 创建任务处理器，lock 可为 nil
func NewSummaryJobHandler(svc Summarizer, lock StoryLocker) *SummaryJobHandler {
	return &SummaryJobHandler{svc: svc, lock: lock}
}

// Register 注册到消费者
func (h *SummaryJobHandler) Register(c *messaging.Consumer) {
	c.RegisterHandler(messaging.MessageTypeSummaryJob, h.Handle)
}

// Handle 返回 nil 时消息被确认；可重试的失败返回错误，留在 pending 中等待重新投递
func (h *SummaryJobHandler) Handle(ctx context.Context, msg *messaging.Message) error {
	var payload messaging.SummaryJobMessage
	if err := msg.UnmarshalPayload(&payload); err != nil {
		logger.Error(ctx, "discarding malformed summary job", err, "message_id", msg.ID)
		return nil
	}
	if payload.JobID == "" {
		payload.JobID = msg.ID
	}
	job := payload.ToEntity()
	ctx = logger.WithContext(ctx, logger.JobIDKey, job.ID)

	if job.Story == "" && job.StoryDir == "" {
		logger.Warn(ctx, "discarding summary job without story")
		return nil
	}

	req := summary.Request{
		Story:              job.Story,
		StoryDir:           job.StoryDir,
		StartChapter:       job.StartChapter,
		Resume:             job.Resume,
		GatherChapters:     job.GatherChapters,
		MaxChapters:        job.MaxChapters,
		BigSummaryInterval: job.BigSummaryInterval,
	}

	if h.lock != nil {
		story := job.Story
		if story == "" {
			story = job.StoryDir
		}
		timeout, err := h.svc.RunTimeout(req)
		if err != nil {
			logger.Error(ctx, "discarding summary job with invalid parameters", err)
			return nil
		}
		var ttl time.Duration
		if timeout > 0 {
			ttl = timeout + lockMargin
		}
		release, err := h.lock.Acquire(ctx, story, ttl)
		if err != nil {
			return err
		}
		defer func() {
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := release(releaseCtx); err != nil {
				logger.Warn(ctx, "failed to release story lock", "error", err.Error())
			}
		}()
	}

	job.Start()
	logger.Info(ctx, "summary job started", "story", job.Story, "resume", job.Resume)

	res, err := h.svc.Summarize(ctx, req)
	if err != nil {
		job.Fail(err.Error())
		if isPermanent(err) {
			logger.Error(ctx, "summary job failed permanently", err, "code", string(apperrors.CodeOf(err)))
			return nil
		}
		return err
	}

	job.Complete()
	logger.Info(ctx, "summary job completed",
		"run_id", res.RunID,
		"batches", res.BatchesProcessed,
		"duration", job.CompletedAt.Sub(*job.StartedAt).String(),
	)
	return nil
}

// isPermanent 重新投递无法改变结果的错误
func isPermanent(err error) bool {
	switch apperrors.CodeOf(err) {
	case apperrors.CodeInvalidParam,
		apperrors.CodeStoryNotFound,
		apperrors.CodeNothingToSummarize:
		return true
	}
	return false
}

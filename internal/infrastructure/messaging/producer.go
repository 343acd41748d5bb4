package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"story-summary-ai/internal/domain/entity"
	apperrors "story-summary-ai/pkg/errors"
	"story-summary-ai/pkg/tracer"
)

var otelTracer = otel.Tracer("messaging")

// Producer 消息生产者
type Producer struct {
	client *redis.Client
	maxLen int64
}

// NewProducer 创建消息生产者
func NewProducer(client *redis.Client, maxLen int64) *Producer {
	if maxLen <= 0 {
		maxLen = 100000
	}
	return &Producer{
		client: client,
		maxLen: maxLen,
	}
}

// Publish 发布消息到指定流
func (p *Producer) Publish(ctx context.Context, stream Stream, msg *Message) (string, error) {
	ctx, span := otelTracer.Start(ctx, "producer.Publish",
		trace.WithAttributes(
			attribute.String("stream", string(stream)),
			attribute.String("message.id", msg.ID),
			attribute.String("message.type", msg.Type),
		))
	defer span.End()

	if traceID := tracer.TraceID(ctx); traceID != "" && msg.GetMetadata("trace_id") == "" {
		msg.SetMetadata("trace_id", traceID)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		span.RecordError(err)
		return "", apperrors.Wrap(err, apperrors.CodeQueueError, "marshal message")
	}

	result, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: string(stream),
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]interface{}{
			"data": string(data),
		},
	}).Result()

	if err != nil {
		span.RecordError(err)
		return "", apperrors.Wrap(err, apperrors.CodeQueueError, fmt.Sprintf("publish to %s", stream))
	}

	span.SetAttributes(attribute.String("stream.message_id", result))
	return result, nil
}

// PublishSummaryJob 发布摘要任务
func (p *Producer) PublishSummaryJob(ctx context.Context, job *SummaryJobMessage) (string, error) {
	if job.JobID == "" {
		job.JobID = uuid.NewString()
	}
	msg, err := NewMessage(job.JobID, MessageTypeSummaryJob, job.Story, "", job)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.CodeQueueError, "build summary job message")
	}

	if job.IdempotencyKey != "" {
		msg.SetMetadata("idempotency_key", job.IdempotencyKey)
	}
	return p.Publish(ctx, StreamSummaryJobs, msg)
}

// PublishProgress 广播一批完成的进度，不携带完整状态
func (p *Producer) PublishProgress(ctx context.Context, ev *entity.ProgressEvent) error {
	payload := &ProgressMessage{
		RunID:             ev.RunID,
		Story:             ev.Story,
		BatchIndex:        ev.BatchIndex,
		ChaptersProcessed: ev.ChaptersProcessed,
		FilesConsumed:     ev.FilesConsumed,
		Summary:           ev.Summary,
		Characters:        ev.Characters,
		LongSummaries:     len(ev.State.LongSummaries),
	}
	msg, err := NewMessage(fmt.Sprintf("%s-%d", ev.RunID, ev.BatchIndex), MessageTypeSummaryProgress, ev.Story, ev.RunID, payload)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeQueueError, "build progress message")
	}
	msg.SetMetadata("batch_index", strconv.Itoa(ev.BatchIndex))

	_, err = p.Publish(ctx, StreamSummaryProgress, msg)
	return err
}

// PublishResult 广播运行结果
func (p *Producer) PublishResult(ctx context.Context, res *entity.SummaryResult) error {
	msg, err := NewMessage(res.RunID, MessageTypeSummaryResult, res.Story, res.RunID, res)
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeQueueError, "build result message")
	}
	_, err = p.Publish(ctx, StreamSummaryProgress, msg)
	return err
}

// SummaryJobMessage 摘要任务消息
type SummaryJobMessage struct {
	JobID              string `json:"job_id"`
	Story              string `json:"story"`
	StoryDir           string `json:"story_dir,omitempty"`
	StartChapter       int    `json:"start_chapter,omitempty"`
	Resume             bool   `json:"resume,omitempty"`
	GatherChapters     int    `json:"gather_chapters,omitempty"`
	MaxChapters        int    `json:"max_chapters,omitempty"`
	BigSummaryInterval int    `json:"big_summary_interval,omitempty"`
	IdempotencyKey     string `json:"idempotency_key,omitempty"`
}

// ToEntity 转换为领域任务
func (m *SummaryJobMessage) ToEntity() *entity.SummaryJob {
	job := entity.NewSummaryJob(m.JobID, m.Story)
	job.StoryDir = m.StoryDir
	job.StartChapter = m.StartChapter
	job.Resume = m.Resume
	job.GatherChapters = m.GatherChapters
	job.MaxChapters = m.MaxChapters
	job.BigSummaryInterval = m.BigSummaryInterval
	return job
}

// ProgressMessage 进度广播消息
type ProgressMessage struct {
	RunID             string `json:"run_id"`
	Story             string `json:"story"`
	BatchIndex        int    `json:"batch_index"`
	ChaptersProcessed int    `json:"chapters_processed"`
	FilesConsumed     int    `json:"files_consumed"`
	Summary           string `json:"summary"`
	Characters        string `json:"characters"`
	LongSummaries     int    `json:"long_summaries"`
}

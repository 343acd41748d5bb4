package entity

import (
	"time"
)

// JobStatus 任务状态
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// SummaryJob 异步摘要任务，由 summary-worker 消费
type SummaryJob struct {
	ID    string `json:"id"`
	Story string `json:"story"`
	// StoryDir 章节目录，为空时使用 <story_root>/<story>
	StoryDir     string `json:"story_dir,omitempty"`
	StartChapter int    `json:"start_chapter"`
	Resume       bool   `json:"resume"`

	// 以下参数为 0 时使用配置默认值
	GatherChapters     int `json:"gather_chapters,omitempty"`
	MaxChapters        int `json:"max_chapters,omitempty"`
	BigSummaryInterval int `json:"big_summary_interval,omitempty"`

	Status       JobStatus  `json:"status"`
	ErrorMessage string     `json:"error_message,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// NewSummaryJob 创建新任务
func NewSummaryJob(id, story string) *SummaryJob {
	return &SummaryJob{
		ID:        id,
		Story:     story,
		Status:    JobStatusPending,
		CreatedAt: time.Now(),
	}
}

// Start 标记任务开始
func (j *SummaryJob) Start() {
	now := time.Now()
	j.Status = JobStatusRunning
	j.StartedAt = &now
}

// Complete 标记任务完成
func (j *SummaryJob) Complete() {
	now := time.Now()
	j.Status = JobStatusCompleted
	j.CompletedAt = &now
}

// Fail 标记任务失败
func (j *SummaryJob) Fail(errMsg string) {
	now := time.Now()
	j.Status = JobStatusFailed
	j.ErrorMessage = errMsg
	j.CompletedAt = &now
}

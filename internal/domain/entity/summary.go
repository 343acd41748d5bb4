// Package entity 定义领域实体
package entity

import (
	"strings"
	"time"
)

// ChapterSummary 单批章节的摘要结果
type ChapterSummary struct {
	// Summary 本批章节的情节摘要
	Summary string `json:"summary"`
	// Characters 截至本批的完整人物介绍，覆盖旧值而非追加
	Characters string `json:"characters"`
}

// IsEmpty 摘要与人物介绍均为空
func (s *ChapterSummary) IsEmpty() bool {
	return s == nil || (strings.TrimSpace(s.Summary) == "" && strings.TrimSpace(s.Characters) == "")
}

// SummaryState 流水线累积状态的快照
// ShortSummaries 为自上次合并以来的批次摘要，LongSummaries 为合并后的长摘要
type SummaryState struct {
	ShortSummaries []string `json:"short_summaries"`
	LongSummaries  []string `json:"long_summaries"`
	Characters     string   `json:"characters"`
}

// IsEmpty 尚未产生任何摘要
func (s SummaryState) IsEmpty() bool {
	return len(s.ShortSummaries) == 0 && len(s.LongSummaries) == 0
}

// Clone 深拷贝，快照与控制器内部状态互不影响
func (s SummaryState) Clone() SummaryState {
	return SummaryState{
		ShortSummaries: append([]string(nil), s.ShortSummaries...),
		LongSummaries:  append([]string(nil), s.LongSummaries...),
		Characters:     s.Characters,
	}
}

// Context 先长后短拼接所有非空摘要
func (s SummaryState) Context() string {
	parts := make([]string, 0, len(s.LongSummaries)+len(s.ShortSummaries))
	for _, group := range [][]string{s.LongSummaries, s.ShortSummaries} {
		for _, item := range group {
			if strings.TrimSpace(item) != "" {
				parts = append(parts, item)
			}
		}
	}
	return strings.Join(parts, "\n")
}

// ProgressEvent 每完成一批章节发出的进度事件
type ProgressEvent struct {
	RunID string `json:"run_id"`
	Story string `json:"story,omitempty"`
	// BatchIndex 本次运行内的批次序号，从 1 开始
	BatchIndex int `json:"batch_index"`
	// ChaptersProcessed 本次运行已处理的章节数 (批次数 * 每批章节数)
	ChaptersProcessed int `json:"chapters_processed"`
	// FilesConsumed 本次运行已消费的章节文件数，包含被跳过的文件
	FilesConsumed int `json:"files_consumed"`

	Summary    string `json:"summary"`
	Characters string `json:"characters"`

	// State 包含本批摘要在内的累积状态
	State     SummaryState `json:"state"`
	CreatedAt time.Time    `json:"created_at"`
}

// Checkpoint 断点快照，用于中断后续跑
type Checkpoint struct {
	Story string       `json:"story"`
	RunID string       `json:"run_id"`
	State SummaryState `json:"state"`
	// NextChapter 续跑时的起始章节下标 (基于排序后的文件列表)
	NextChapter int       `json:"next_chapter"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// SummaryResult 一次完整运行的结果
type SummaryResult struct {
	RunID             string        `json:"run_id"`
	Story             string        `json:"story"`
	Text              string        `json:"text"`
	BatchesProcessed  int           `json:"batches_processed"`
	ChaptersProcessed int           `json:"chapters_processed"`
	OutputPath        string        `json:"output_path,omitempty"`
	Duration          time.Duration `json:"duration"`
	CompletedAt       time.Time     `json:"completed_at"`
}

package summary

import (
	"context"
	"os"
	"strings"

	"story-summary-ai/pkg/logger"
	"story-summary-ai/pkg/metrics"
)

// ChapterSource 按顺序将章节文件分批，每批 gather 个章节以换行拼接。
// 读取是惰性的，只在 Next 时读盘；无法读取的文件记录日志后跳过。
// 耗尽后 Next 始终返回 false，不可重置。
type ChapterSource struct {
	paths    []string
	gather   int
	next     int
	readFile func(string) ([]byte, error)
}

// NewChapterSource 创建章节批次源，gather < 1 时按 1 处理
func NewChapterSource(paths []string, gather int) *ChapterSource {
	if gather < 1 {
		gather = 1
	}
	return &ChapterSource{
		paths:    paths,
		gather:   gather,
		readFile: os.ReadFile,
	}
}

// Next 返回下一批章节文本，源耗尽时返回 false
func (s *ChapterSource) Next(ctx context.Context) (string, bool) {
	chapters := make([]string, 0, s.gather)
	for len(chapters) < s.gather && s.next < len(s.paths) {
		path := s.paths[s.next]
		s.next++

		content, err := s.readFile(path)
		if err != nil {
			metrics.SummaryChaptersSkipped.Inc()
			logger.Warn(ctx, "chapter file unreadable, skipping", "path", path, "error", err.Error())
			continue
		}
		chapters = append(chapters, string(content))
	}

	if len(chapters) == 0 {
		return "", false
	}

	text := strings.Join(chapters, "\n")
	logger.Debug(ctx, "chapter batch loaded",
		"chapters", len(chapters),
		"chars", len(text),
		"files_consumed", s.next,
	)
	return text, true
}

// Consumed 已消费的文件数，包含被跳过的文件
func (s *ChapterSource) Consumed() int {
	return s.next
}

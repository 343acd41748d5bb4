package node

import (
	"encoding/json"
	"regexp"
	"strings"

	"story-summary-ai/internal/domain/entity"
)

var sectionHeading = regexp.MustCompile(`(?im)^\s*#{1,6}\s*(characters|summary)\s*:?\s*$`)

type summaryJSON struct {
	Characters json.RawMessage `json:"characters"`
	Summary    string          `json:"summary"`
}

// ParseChapterSummary 解析抽取阶段的模型输出。
// 优先按 JSON ({"characters": ..., "summary": ...}) 解析，失败时按 "## Characters" / "## Summary" 分节解析，
// 两者都不匹配时返回 false。
func ParseChapterSummary(content string) (*entity.ChapterSummary, bool) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, false
	}

	if out, ok := parseSummaryJSON(content); ok {
		return out, true
	}
	return parseSummarySections(content)
}

func parseSummaryJSON(content string) (*entity.ChapterSummary, bool) {
	raw := ExtractJSONObject(content)
	if raw == "" || !strings.HasPrefix(raw, "{") {
		return nil, false
	}
	var parsed summaryJSON
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return nil, false
	}
	out := &entity.ChapterSummary{
		Summary:    strings.TrimSpace(parsed.Summary),
		Characters: charactersText(parsed.Characters),
	}
	if out.IsEmpty() {
		return nil, false
	}
	return out, true
}

// charactersText 兼容字符串与 [{"name","description"}] 两种人物格式
func charactersText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return strings.TrimSpace(text)
	}
	var list []struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := json.Unmarshal(raw, &list); err != nil {
		return ""
	}
	lines := make([]string, 0, len(list))
	for _, c := range list {
		name := strings.TrimSpace(c.Name)
		if name == "" {
			continue
		}
		if desc := strings.TrimSpace(c.Description); desc != "" {
			name += ": " + desc
		}
		lines = append(lines, name)
	}
	return strings.Join(lines, "\n")
}

func parseSummarySections(content string) (*entity.ChapterSummary, bool) {
	locs := sectionHeading.FindAllStringSubmatchIndex(content, -1)
	if len(locs) == 0 {
		return nil, false
	}
	out := &entity.ChapterSummary{}
	for i, loc := range locs {
		bodyEnd := len(content)
		if i+1 < len(locs) {
			bodyEnd = locs[i+1][0]
		}
		body := strings.TrimSpace(content[loc[1]:bodyEnd])
		switch strings.ToLower(content[loc[2]:loc[3]]) {
		case "characters":
			out.Characters = body
		case "summary":
			out.Summary = body
		}
	}
	if out.IsEmpty() {
		return nil, false
	}
	return out, true
}

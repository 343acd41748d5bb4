package prompt

import (
	"context"
	"embed"
	"fmt"
	"strings"
	"sync"

	einoprompt "github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/schema"
)

//go:embed templates/*.txt
var templatesFS embed.FS

type PromptID string

const (
	PromptFirstExtraction       PromptID = "first_extraction"
	PromptIncrementalExtraction PromptID = "incremental_extraction"
	PromptConsolidation         PromptID = "consolidation"
	PromptRewrite               PromptID = "rewrite"
)

// 模板变量
const (
	VarLanguage        = "language"
	VarChapterText     = "chapter_text"
	VarCharacters      = "characters"
	VarPreviousSummary = "previous_summary"
	VarSummaries       = "summaries"
	VarSummary         = "summary"
)

const systemTemplateFile = "templates/summary.system.txt"

// Registry 按 PromptID 缓存已解析的 ChatTemplate，所有阶段共用同一份系统提示词
type Registry struct {
	mu    sync.RWMutex
	cache map[PromptID]einoprompt.ChatTemplate
}

func NewRegistry() *Registry {
	return &Registry{
		cache: make(map[PromptID]einoprompt.ChatTemplate),
	}
}

func (r *Registry) ChatTemplate(id PromptID) (einoprompt.ChatTemplate, error) {
	if r == nil {
		return nil, fmt.Errorf("prompt registry is nil")
	}

	r.mu.RLock()
	if tpl, ok := r.cache[id]; ok {
		r.mu.RUnlock()
		return tpl, nil
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if tpl, ok := r.cache[id]; ok {
		return tpl, nil
	}

	userPath, err := resolveUserFile(id)
	if err != nil {
		return nil, err
	}
	system, err := readEmbeddedText(systemTemplateFile)
	if err != nil {
		return nil, err
	}
	user, err := readEmbeddedText(userPath)
	if err != nil {
		return nil, err
	}

	tpl := einoprompt.FromMessages(
		schema.FString,
		schema.SystemMessage(system),
		schema.UserMessage(user),
	)
	r.cache[id] = tpl
	return tpl, nil
}

// Render 渲染指定阶段的消息，渲染结果只取决于 vars
func (r *Registry) Render(ctx context.Context, id PromptID, vars map[string]any) ([]*schema.Message, error) {
	tpl, err := r.ChatTemplate(id)
	if err != nil {
		return nil, err
	}
	msgs, err := tpl.Format(ctx, vars)
	if err != nil {
		return nil, fmt.Errorf("format prompt %s: %w", id, err)
	}
	return msgs, nil
}

func resolveUserFile(id PromptID) (string, error) {
	switch id {
	case PromptFirstExtraction, PromptIncrementalExtraction, PromptConsolidation, PromptRewrite:
		return "templates/" + string(id) + ".user.txt", nil
	default:
		return "", fmt.Errorf("unknown prompt id: %s", id)
	}
}

func readEmbeddedText(path string) (string, error) {
	b, err := templatesFS.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

package prompt

import (
	"context"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RenderFirstExtraction(t *testing.T) {
	r := NewRegistry()

	msgs, err := r.Render(context.Background(), PromptFirstExtraction, map[string]any{
		VarLanguage:    "Vietnamese",
		VarChapterText: "Chapter 1 {not a placeholder}",
	})
	require.NoError(t, err)
	require.Len(t, msgs, 2)

	assert.Equal(t, schema.System, msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "Always write in Vietnamese")
	assert.Equal(t, schema.User, msgs[1].Role)
	assert.Contains(t, msgs[1].Content, "Chapter 1 {not a placeholder}")
	assert.Contains(t, msgs[1].Content, "## Characters")
}

func TestRegistry_RenderAllPrompts(t *testing.T) {
	r := NewRegistry()
	vars := map[string]any{
		VarLanguage:        "English",
		VarChapterText:     "text",
		VarCharacters:      "Lan: hero",
		VarPreviousSummary: "before",
		VarSummaries:       "s1\ns2",
		VarSummary:         "all",
	}

	for _, id := range []PromptID{PromptFirstExtraction, PromptIncrementalExtraction, PromptConsolidation, PromptRewrite} {
		msgs, err := r.Render(context.Background(), id, vars)
		require.NoError(t, err, id)
		require.Len(t, msgs, 2, id)
		assert.NotContains(t, msgs[1].Content, "{", id)
	}
}

func TestRegistry_CachesTemplates(t *testing.T) {
	r := NewRegistry()
	a, err := r.ChatTemplate(PromptRewrite)
	require.NoError(t, err)
	b, err := r.ChatTemplate(PromptRewrite)
	require.NoError(t, err)
	assert.Same(t, a, b)
}

func TestRegistry_UnknownPrompt(t *testing.T) {
	_, err := NewRegistry().ChatTemplate("nope")
	require.Error(t, err)
}

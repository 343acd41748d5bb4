package node

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseChapterSummary_JSON(t *testing.T) {
	out, ok := ParseChapterSummary("```json\n{\"characters\": \"Lan: a swordswoman\", \"summary\": \"Lan leaves the village.\"}\n```")
	require.True(t, ok)
	assert.Equal(t, "Lan: a swordswoman", out.Characters)
	assert.Equal(t, "Lan leaves the village.", out.Summary)
}

func TestParseChapterSummary_JSONCharacterList(t *testing.T) {
	out, ok := ParseChapterSummary(`{"characters":[{"name":"Lan","description":"a swordswoman"},{"name":"Minh"}],"summary":"They meet."}`)
	require.True(t, ok)
	assert.Equal(t, "Lan: a swordswoman\nMinh", out.Characters)
	assert.Equal(t, "They meet.", out.Summary)
}

func TestParseChapterSummary_Sections(t *testing.T) {
	content := `## Characters
Lan: a swordswoman
Minh: her brother

## Summary
Lan and Minh flee the burning village.`

	out, ok := ParseChapterSummary(content)
	require.True(t, ok)
	assert.Equal(t, "Lan: a swordswoman\nMinh: her brother", out.Characters)
	assert.Equal(t, "Lan and Minh flee the burning village.", out.Summary)
}

func TestParseChapterSummary_RejectsUnstructured(t *testing.T) {
	for _, content := range []string{
		"  Just a summary.  ",
		"",
		`{"characters": "", "summary": ""}`,
		"## Characters\n\n## Summary\n",
	} {
		out, ok := ParseChapterSummary(content)
		assert.False(t, ok, content)
		assert.Nil(t, out, content)
	}
}

func TestParseChapterSummary_SummaryWithoutCharacters(t *testing.T) {
	out, ok := ParseChapterSummary(`{"summary": "Lan leaves."}`)
	require.True(t, ok)
	assert.Equal(t, "Lan leaves.", out.Summary)
	assert.Empty(t, out.Characters)
}

func TestExtractJSONObject(t *testing.T) {
	assert.Equal(t, `{"a":1}`, ExtractJSONObject(`status 429: {"a":1}`))
	assert.Equal(t, `[{"a":1}]`, ExtractJSONObject(`[{"a":1}]`))
	assert.Equal(t, "", ExtractJSONObject(`no json {here`))
}

func TestIsResponseFormatUnsupportedError(t *testing.T) {
	assert.True(t, IsResponseFormatUnsupportedError(errors.New("Unknown parameter: 'response_format.json_schema'")))
	assert.False(t, IsResponseFormatUnsupportedError(errors.New("429 invalid response: quota exceeded")))
	assert.False(t, IsResponseFormatUnsupportedError(nil))
}

func TestExcerpt(t *testing.T) {
	assert.Equal(t, "Chươ...", Excerpt("Chương một", 4))
	assert.Equal(t, "a b c", Excerpt("a\nb\n\tc", 10))
	assert.Equal(t, "", Excerpt("abc", 0))
}

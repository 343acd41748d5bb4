package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "app:\n  env: test\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "test", cfg.App.Env)
	assert.Equal(t, 2, cfg.Summary.GatherChapters)
	assert.Equal(t, 1000, cfg.Summary.MaxChapters)
	assert.Equal(t, 100, cfg.Summary.BigSummaryInterval)
	assert.Equal(t, 15, cfg.Summary.Quota.PerMinute)
	assert.Equal(t, 1500, cfg.Summary.Quota.DailyLimit)
	assert.Equal(t, 5, cfg.Summary.Quota.MaxAttempts)
	assert.Equal(t, 20*time.Second, cfg.Summary.TimePerChapter)
	assert.Equal(t, "Vietnamese", cfg.Summary.Language)
	assert.Equal(t, "gemini-2.0-flash", cfg.LLM.Providers["gemini"].Model)
}

func TestLoad_ExpandsEnvPlaceholders(t *testing.T) {
	t.Setenv("SUMMARY_TEST_KEY", "secret-key")
	path := writeConfig(t, `
llm:
  default_provider: gemini
  providers:
    gemini:
      api_key: ${SUMMARY_TEST_KEY}
      model: ${SUMMARY_TEST_MODEL:gemini-1.5-pro}
summary:
  gather_chapters: 5
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "secret-key", cfg.LLM.Providers["gemini"].APIKey)
	assert.Equal(t, "gemini-1.5-pro", cfg.LLM.Providers["gemini"].Model)
	assert.Equal(t, 5, cfg.Summary.GatherChapters)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}

func TestLoad_RejectsInvalidSummaryParams(t *testing.T) {
	path := writeConfig(t, "summary:\n  gather_chapters: 0\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gather_chapters")
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("SUMMARY_HOST", "redis.local")

	assert.Equal(t, "redis.local:6379", expandEnv("${SUMMARY_HOST}:${SUMMARY_PORT:6379}"))
	assert.Equal(t, "${SUMMARY_UNDEFINED}", expandEnv("${SUMMARY_UNDEFINED}"))
}

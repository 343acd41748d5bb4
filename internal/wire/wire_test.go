package wire

import (
	"context"
	"strconv"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"story-summary-ai/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}

func withMiniredis(t *testing.T, cfg *config.Config) *miniredis.Miniredis {
	t.Helper()
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)
	cfg.Cache.Redis.Enabled = true
	cfg.Cache.Redis.Host = mr.Host()
	cfg.Cache.Redis.Port = port
	return mr
}

func TestProvideSummaryOptions(t *testing.T) {
	cfg := testConfig(t)
	cfg.Summary.GatherChapters = 3
	cfg.Summary.Quota.PerMinute = 30

	opts := ProvideSummaryOptions(cfg)
	assert.Equal(t, 3, opts.GatherChapters)
	assert.Equal(t, 30, opts.Quota.QuotaPerMinute)
	assert.Equal(t, cfg.Summary.Language, opts.Language)
	assert.Equal(t, cfg.Summary.Quota.DailyLimit, opts.Quota.DailyLimit)
}

func TestInitializeSummarizer_WithoutRedis(t *testing.T) {
	cfg := testConfig(t)
	cfg.Cache.Redis.Enabled = false

	app, cleanup, err := InitializeSummarizer(context.Background(), cfg)
	require.NoError(t, err)
	defer cleanup()

	assert.NotNil(t, app.Service)
	assert.NotNil(t, app.Usage)
	assert.Nil(t, app.Results)
}

func TestInitializeSummarizer_RedisUnavailableFallsBack(t *testing.T) {
	cfg := testConfig(t)
	mr := withMiniredis(t, cfg)
	mr.Close()

	app, cleanup, err := InitializeSummarizer(context.Background(), cfg)
	require.NoError(t, err)
	defer cleanup()
	assert.Nil(t, app.Results)
}

func TestInitializeWorker(t *testing.T) {
	cfg := testConfig(t)
	withMiniredis(t, cfg)
	cfg.Messaging.RedisStream.Enabled = true

	w, cleanup, err := InitializeWorker(context.Background(), cfg)
	require.NoError(t, err)
	defer cleanup()

	assert.NotNil(t, w.Service)
	assert.NotNil(t, w.Consumer)
	assert.NotNil(t, w.Handler)
}

func TestProvideOptionalStoresNil(t *testing.T) {
	assert.Nil(t, ProvideCheckpointRepository(nil))
	assert.Nil(t, ProvideResultStore(nil))
	assert.Nil(t, ProvideResultRepository(nil))
	assert.Nil(t, ProvideProgressPublisher(nil))
	assert.Nil(t, ProvideMessagingProducer(nil, testConfig(t)))
}

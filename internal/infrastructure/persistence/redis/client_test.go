package redis

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"story-summary-ai/internal/config"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	client, err := NewClient(&config.RedisConfig{
		Host:          mr.Host(),
		Port:          port,
		PoolSize:      2,
		DialTimeout:   time.Second,
		ReadTimeout:   time.Second,
		WriteTimeout:  time.Second,
		CheckpointTTL: time.Hour,
		ResultTTL:     24 * time.Hour,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client, mr
}

func TestNewClient_Ping(t *testing.T) {
	client, _ := newTestClient(t)
	require.NoError(t, client.Ping(context.Background()))
}

func TestNewClient_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	port, _ := strconv.Atoi(mr.Port())
	mr.Close()

	_, err := NewClient(&config.RedisConfig{Host: mr.Host(), Port: port, DialTimeout: 200 * time.Millisecond})
	require.Error(t, err)
}

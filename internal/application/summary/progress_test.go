package summary

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"story-summary-ai/internal/domain/entity"
)

func TestProgressChannel_OrderAndClose(t *testing.T) {
	p := NewProgressChannel()
	for i := 1; i <= 3; i++ {
		require.NoError(t, p.Send(entity.ProgressEvent{BatchIndex: i}))
	}
	assert.Equal(t, 3, p.Len())
	p.Close()
	p.Close()

	assert.ErrorIs(t, p.Send(entity.ProgressEvent{BatchIndex: 4}), ErrProgressClosed)

	events := drain(context.Background(), p)
	require.Len(t, events, 3)
	for i, ev := range events {
		assert.Equal(t, i+1, ev.BatchIndex)
	}
}

func TestProgressChannel_ReceiveBlocksUntilSend(t *testing.T) {
	p := NewProgressChannel()

	got := make(chan entity.ProgressEvent, 1)
	go func() {
		ev, ok := p.Receive(context.Background())
		if ok {
			got <- ev
		}
	}()

	time.Sleep(10 * time.Millisecond)
	require.NoError(t, p.Send(entity.ProgressEvent{BatchIndex: 7}))

	select {
	case ev := <-got:
		assert.Equal(t, 7, ev.BatchIndex)
	case <-time.After(time.Second):
		t.Fatal("receive did not wake up")
	}
}

func TestProgressChannel_ReceiveHonorsContext(t *testing.T) {
	p := NewProgressChannel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, ok := p.Receive(ctx)
	assert.False(t, ok)
}

func TestProgressChannel_ProducerNeverBlocks(t *testing.T) {
	p := NewProgressChannel()
	const n = 1000

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= n; i++ {
			_ = p.Send(entity.ProgressEvent{BatchIndex: i})
		}
		p.Close()
	}()
	wg.Wait()

	events := drain(context.Background(), p)
	require.Len(t, events, n)
	assert.Equal(t, n, events[n-1].BatchIndex)
}

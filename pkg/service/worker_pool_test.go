package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPool_BoundsConcurrency(t *testing.T) {
	p := NewWorkerPool(2)
	var running, peak atomic.Int32
	release := make(chan struct{})
	var finished atomic.Int32

	for i := 0; i < 5; i++ {
		require.NoError(t, p.Go(context.Background(), func(ctx context.Context) {
			n := running.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			<-release
			running.Add(-1)
			finished.Add(1)
		}))
	}

	require.Eventually(t, func() bool { return running.Load() == 2 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(2), peak.Load())

	close(release)
	p.Close()
	assert.Equal(t, int32(5), finished.Load())
	assert.ErrorIs(t, p.Go(context.Background(), func(context.Context) {}), ErrPoolClosed)
}

func TestWorkerPool_CancelledWhileWaiting(t *testing.T) {
	p := NewWorkerPool(1)
	block := make(chan struct{})
	require.NoError(t, p.Go(context.Background(), func(context.Context) { <-block }))

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan error, 1)
	require.NoError(t, p.Go(ctx, func(ctx context.Context) { got <- ctx.Err() }))
	cancel()

	select {
	case err := <-got:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("waiting task was not released by cancellation")
	}
	close(block)
	p.Close()
}

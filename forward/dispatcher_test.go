package forward

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcher_BoundsParallelism(t *testing.T) {
	d := NewDispatcher(2, nil)

	var running, peak atomic.Int32
	for i := 0; i < 10; i++ {
		require.NoError(t, d.Submit("t", func(ctx context.Context) {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			running.Add(-1)
		}))
	}
	require.NoError(t, d.Close(context.Background()))

	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Zero(t, running.Load())
}

func TestDispatcher_CloseWaitsForInFlight(t *testing.T) {
	d := NewDispatcher(1, nil)

	var done atomic.Bool
	require.NoError(t, d.Submit("slow", func(ctx context.Context) {
		time.Sleep(50 * time.Millisecond)
		done.Store(true)
	}))

	require.NoError(t, d.Close(context.Background()))
	assert.True(t, done.Load())
	assert.ErrorIs(t, d.Submit("late", func(context.Context) {}), ErrDispatcherClosed)
}

func TestDispatcher_CloseTimeoutCancelsTasks(t *testing.T) {
	d := NewDispatcher(1, nil)

	require.NoError(t, d.Submit("blocked", func(ctx context.Context) {
		<-ctx.Done()
	}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, d.Close(ctx), context.DeadlineExceeded)
}

func TestDispatcher_RecoversPanics(t *testing.T) {
	d := NewDispatcher(1, nil)

	var after atomic.Bool
	require.NoError(t, d.Submit("panics", func(context.Context) { panic("boom") }))
	require.NoError(t, d.Submit("after", func(context.Context) { after.Store(true) }))

	require.NoError(t, d.Close(context.Background()))
	assert.True(t, after.Load())
}

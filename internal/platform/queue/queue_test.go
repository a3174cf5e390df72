package queue

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{AddSource: false}))
}

func TestQueue_RunsEnqueuedTasks(t *testing.T) {
	q := New(2, 10, WithLogger(testLogger()))
	q.Start(context.Background())

	var done atomic.Int32
	for i := 0; i < 5; i++ {
		require.NoError(t, q.Enqueue("task", func(ctx context.Context) {
			done.Add(1)
		}))
	}

	q.Shutdown()
	assert.Equal(t, int32(5), done.Load())
}

func TestQueue_EnqueueFailsWhenFull(t *testing.T) {
	q := New(1, 1, WithLogger(testLogger()))
	// ワーカー未起動のままキューを埋める

	require.NoError(t, q.Enqueue("first", func(ctx context.Context) {}))
	err := q.Enqueue("second", func(ctx context.Context) {})
	assert.Error(t, err)
}

func TestQueue_EnqueueFailsAfterShutdown(t *testing.T) {
	q := New(1, 1, WithLogger(testLogger()))
	q.Start(context.Background())
	q.Shutdown()

	err := q.Enqueue("late", func(ctx context.Context) {})
	assert.Error(t, err)
}

func TestQueue_ShutdownWaitsForRunningTasks(t *testing.T) {
	q := New(1, 1, WithLogger(testLogger()))
	q.Start(context.Background())

	var finished atomic.Bool
	require.NoError(t, q.Enqueue("slow", func(ctx context.Context) {
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
	}))

	q.Shutdown()
	assert.True(t, finished.Load())
}

func TestQueue_ContextPropagatesToTasks(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	q := New(1, 1, WithLogger(testLogger()))
	q.Start(ctx)

	cancel()

	cancelled := make(chan bool, 1)
	require.NoError(t, q.Enqueue("check", func(taskCtx context.Context) {
		cancelled <- taskCtx.Err() != nil
	}))
	q.Shutdown()

	assert.True(t, <-cancelled)
}

package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/workorder-service/internal/config"
)

func TestPool_RunsSubmittedJobs(t *testing.T) {
	pool := NewPool(config.WorkerConfig{Concurrency: 3, QueueSize: 16, JobTimeoutSecs: 1}, zap.NewNop())
	pool.Start(context.Background())

	var ran atomic.Int32
	for range 10 {
		require.NoError(t, pool.Submit("count", func(context.Context) error {
			ran.Add(1)
			return nil
		}))
	}
	require.NoError(t, pool.Submit("fails", func(context.Context) error { return errors.New("boom") }))
	require.NoError(t, pool.Submit("panics", func(context.Context) error { panic("boom") }))

	require.NoError(t, pool.Shutdown(context.Background()))
	assert.Equal(t, int32(10), ran.Load())
}

func TestPool_RejectsWhenFull(t *testing.T) {
	pool := NewPool(config.WorkerConfig{Concurrency: 1, QueueSize: 1}, zap.NewNop())

	require.NoError(t, pool.Submit("first", func(context.Context) error { return nil }))
	assert.ErrorIs(t, pool.Submit("second", func(context.Context) error { return nil }), ErrQueueFull)
	assert.Equal(t, 1, pool.pending())

	pool.Start(context.Background())
	require.NoError(t, pool.Shutdown(context.Background()))
	assert.ErrorIs(t, pool.Submit("late", func(context.Context) error { return nil }), ErrStopped)
}

func TestPool_JobContextHasTimeoutButIgnoresParentCancel(t *testing.T) {
	pool := NewPool(config.WorkerConfig{Concurrency: 1, QueueSize: 1, JobTimeoutSecs: 1}, zap.NewNop())
	parent, cancel := context.WithCancel(context.Background())
	pool.Start(parent)
	cancel()

	result := make(chan error, 1)
	require.NoError(t, pool.Submit("deadline", func(ctx context.Context) error {
		_, hasDeadline := ctx.Deadline()
		assert.True(t, hasDeadline)
		result <- ctx.Err()
		return nil
	}))

	select {
	case err := <-result:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("job did not run")
	}
	require.NoError(t, pool.Shutdown(context.Background()))
}

package mirror

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPoolHelpRunsQueuedJobs(t *testing.T) {
	pool, err := NewWorkerPool(context.Background(), 1, 4)
	require.NoError(t, err)
	defer pool.Close()

	started := make(chan struct{})
	release := make(chan struct{})
	require.True(t, pool.TrySubmit(func(context.Context) {
		close(started)
		<-release
	}))
	<-started

	done := make(chan struct{})
	require.True(t, pool.TrySubmit(func(context.Context) { close(done) }))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, pool.Help(ctx, done))
	close(release)
}

func TestWorkerPoolRejectsWhenFullOrClosed(t *testing.T) {
	pool, err := NewWorkerPool(context.Background(), 1, 1)
	require.NoError(t, err)

	started := make(chan struct{})
	release := make(chan struct{})
	require.True(t, pool.TrySubmit(func(context.Context) {
		close(started)
		<-release
	}))
	<-started
	require.True(t, pool.TrySubmit(func(context.Context) {}))
	assert.False(t, pool.TrySubmit(func(context.Context) {}), "queue is full")

	close(release)
	pool.Close()
	assert.False(t, pool.TrySubmit(func(context.Context) {}))

	_, err = NewWorkerPool(context.Background(), 0, 1)
	assert.Error(t, err)
}

func TestWorkerPoolHelpHonoursContext(t *testing.T) {
	pool, err := NewWorkerPool(context.Background(), 1, 1)
	require.NoError(t, err)
	defer pool.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, pool.Help(ctx, make(chan struct{})), context.Canceled)
}

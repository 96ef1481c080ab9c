package service

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeploymentQueue(t *testing.T) {
	t.Run("success - task runs and releases session", func(t *testing.T) {
		// arrange
		dq := NewDeploymentQueue(1, 2)
		dq.Start()
		defer dq.Shutdown()
		done := make(chan struct{})

		// act
		err := dq.Enqueue("s-1", func(ctx context.Context) { close(done) })

		// assert
		require.NoError(t, err)
		<-done
		assert.Eventually(t, func() bool { return !dq.Active("s-1") }, time.Second, 5*time.Millisecond)
		assert.NoError(t, dq.Enqueue("s-1", func(ctx context.Context) {}))
	})
	t.Run("failure - session busy", func(t *testing.T) {
		dq := NewDeploymentQueue(1, 2)

		first := dq.Enqueue("s-1", func(ctx context.Context) {})
		second := dq.Enqueue("s-1", func(ctx context.Context) {})

		assert.NoError(t, first)
		assert.ErrorIs(t, second, ErrSessionBusy)
	})
	t.Run("failure - queue full", func(t *testing.T) {
		dq := NewDeploymentQueue(1, 1)

		first := dq.Enqueue("s-1", func(ctx context.Context) {})
		second := dq.Enqueue("s-2", func(ctx context.Context) {})

		assert.NoError(t, first)
		var queueFull *ErrDeploymentQueueFull
		assert.ErrorAs(t, second, &queueFull)
		assert.False(t, dq.Active("s-2"))
	})
	t.Run("success - stop cancels running task", func(t *testing.T) {
		// arrange
		dq := NewDeploymentQueue(1, 1)
		dq.Start()
		defer dq.Shutdown()
		started := make(chan struct{})
		stopped := make(chan error, 1)
		require.NoError(t, dq.Enqueue("s-1", func(ctx context.Context) {
			close(started)
			<-ctx.Done()
			stopped <- ctx.Err()
		}))
		<-started

		// act
		ok := dq.Stop("s-1")

		// assert
		assert.True(t, ok)
		assert.ErrorIs(t, <-stopped, context.Canceled)
		assert.False(t, dq.Stop("unknown"))
	})
	t.Run("success - task stopped while queued never runs", func(t *testing.T) {
		// arrange
		dq := NewDeploymentQueue(1, 1)
		var ran atomic.Bool
		require.NoError(t, dq.Enqueue("s-1", func(ctx context.Context) { ran.Store(true) }))
		dq.Stop("s-1")

		// act
		dq.Start()

		// assert
		assert.Eventually(t, func() bool { return !dq.Active("s-1") }, time.Second, 5*time.Millisecond)
		dq.Shutdown()
		assert.False(t, ran.Load())
	})
	t.Run("success - shutdown cancels running tasks", func(t *testing.T) {
		dq := NewDeploymentQueue(2, 2)
		dq.Start()
		started := make(chan struct{})
		require.NoError(t, dq.Enqueue("s-1", func(ctx context.Context) {
			close(started)
			<-ctx.Done()
		}))
		<-started

		dq.Shutdown()

		assert.False(t, dq.Active("s-1"))
	})
}

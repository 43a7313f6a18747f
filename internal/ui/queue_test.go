package ui

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_RunsTasksInOrder(t *testing.T) {
	q := NewQueue()

	var got []int
	for i := 0; i < 5; i++ {
		i := i
		require.NoError(t, q.Post(func() { got = append(got, i) }))
	}
	q.Close()

	require.NoError(t, q.Run(context.Background()))
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)

	stats := q.Stats()
	assert.Equal(t, uint64(5), stats.Enqueued)
	assert.Equal(t, uint64(5), stats.Processed)
}

func TestQueue_TasksRunOnRunGoroutine(t *testing.T) {
	q := NewQueue()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = q.Run(ctx) }()

	// Tasks posted concurrently never overlap.
	var (
		mu      sync.Mutex
		active  int
		overlap bool
		wg      sync.WaitGroup
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			_ = q.Post(func() {
				defer wg.Done()
				mu.Lock()
				active++
				if active > 1 {
					overlap = true
				}
				mu.Unlock()
				time.Sleep(time.Millisecond)
				mu.Lock()
				active--
				mu.Unlock()
			})
		}()
	}
	wg.Wait()
	assert.False(t, overlap)
}

func TestQueue_RecoversPanics(t *testing.T) {
	var recovered any
	q := NewQueue(WithPanicHandler(func(value any, stack []byte) {
		recovered = value
	}))

	ran := false
	require.NoError(t, q.Post(func() { panic("boom") }))
	require.NoError(t, q.Post(func() { ran = true }))
	q.Close()

	require.NoError(t, q.Run(context.Background()))
	assert.Equal(t, "boom", recovered)
	assert.True(t, ran)
	assert.Equal(t, uint64(1), q.Stats().Panicked)
}

func TestQueue_PostAfterClose(t *testing.T) {
	q := NewQueue()
	q.Close()
	q.Close()

	assert.ErrorIs(t, q.Post(func() {}), ErrQueueClosed)
	assert.NoError(t, q.Post(nil))
}

func TestQueue_Full(t *testing.T) {
	q := NewQueue(WithQueueSize(1))

	require.NoError(t, q.Post(func() {}))
	assert.ErrorIs(t, q.Post(func() {}), ErrQueueFull)
	assert.Equal(t, uint64(1), q.Stats().Dropped)
	assert.Equal(t, 1, q.Stats().Depth)
}

func TestQueue_RunTwice(t *testing.T) {
	q := NewQueue()
	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- q.Run(ctx) }()

	require.Eventually(t, func() bool { return q.running.Load() }, time.Second, time.Millisecond)
	assert.ErrorIs(t, q.Run(ctx), ErrAlreadyRunning)

	cancel()
	assert.ErrorIs(t, <-errCh, context.Canceled)

	select {
	case <-q.Done():
	case <-time.After(time.Second):
		t.Fatal("done not closed")
	}
}

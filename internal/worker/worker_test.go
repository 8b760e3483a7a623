package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cuongbtq/sof-extractor/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type handlerFunc func(ctx context.Context, task domain.Task) error

func (f handlerFunc) Process(ctx context.Context, task domain.Task) error {
	return f(ctx, task)
}

func newTestWorker(h TaskHandler, concurrency, queueSize int, timeout time.Duration) *Worker {
	return NewWorker(&Config{
		Logger:      newTestLogger(),
		Handler:     h,
		Concurrency: concurrency,
		QueueSize:   queueSize,
		JobTimeout:  timeout,
	})
}

func TestWorker_ProcessesEveryTask(t *testing.T) {
	var mu sync.Mutex
	seen := map[string]bool{}

	w := newTestWorker(handlerFunc(func(_ context.Context, task domain.Task) error {
		mu.Lock()
		defer mu.Unlock()
		seen[task.JobID] = true
		return nil
	}), 3, 4, 0)
	w.Start(context.Background())

	ids := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	for _, id := range ids {
		require.NoError(t, w.Enqueue(context.Background(), domain.Task{JobID: id}))
	}

	require.NoError(t, w.Stop(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, seen, len(ids))
}

func TestWorker_ConcurrencyIsBounded(t *testing.T) {
	var running, peak atomic.Int32

	w := newTestWorker(handlerFunc(func(_ context.Context, _ domain.Task) error {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		running.Add(-1)
		return nil
	}), 2, 10, 0)
	w.Start(context.Background())

	for i := 0; i < 10; i++ {
		require.NoError(t, w.Enqueue(context.Background(), domain.Task{JobID: "job"}))
	}
	require.NoError(t, w.Stop(context.Background()))

	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestWorker_EnqueueBackpressure(t *testing.T) {
	release := make(chan struct{})
	w := newTestWorker(handlerFunc(func(_ context.Context, _ domain.Task) error {
		<-release
		return nil
	}), 1, 1, 0)
	w.Start(context.Background())

	// One task in flight, one queued
	require.NoError(t, w.Enqueue(context.Background(), domain.Task{JobID: "1"}))
	require.Eventually(t, func() bool { return len(w.tasksChan) == 0 }, time.Second, time.Millisecond)
	require.NoError(t, w.Enqueue(context.Background(), domain.Task{JobID: "2"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := w.Enqueue(ctx, domain.Task{JobID: "3"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	require.NoError(t, w.Stop(context.Background()))
}

func TestWorker_EnqueueAfterStop(t *testing.T) {
	w := newTestWorker(handlerFunc(func(context.Context, domain.Task) error { return nil }), 1, 1, 0)
	w.Start(context.Background())
	require.NoError(t, w.Stop(context.Background()))

	err := w.Enqueue(context.Background(), domain.Task{JobID: "late"})
	assert.ErrorIs(t, err, domain.ErrQueueClosed)
}

func TestWorker_JobTimeout(t *testing.T) {
	var deadlineSet atomic.Bool
	w := newTestWorker(handlerFunc(func(ctx context.Context, _ domain.Task) error {
		_, ok := ctx.Deadline()
		deadlineSet.Store(ok)
		<-ctx.Done()
		return ctx.Err()
	}), 1, 1, 10*time.Millisecond)
	w.Start(context.Background())

	require.NoError(t, w.Enqueue(context.Background(), domain.Task{JobID: "slow"}))
	require.NoError(t, w.Stop(context.Background()))
	assert.True(t, deadlineSet.Load())
}

func TestWorker_StopTimeoutCancelsInFlight(t *testing.T) {
	started := make(chan struct{})
	w := newTestWorker(handlerFunc(func(ctx context.Context, _ domain.Task) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	}), 1, 1, 0)
	w.Start(context.Background())

	require.NoError(t, w.Enqueue(context.Background(), domain.Task{JobID: "hung"}))
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := w.Stop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWorker_TasksOutliveCallerContext(t *testing.T) {
	done := make(chan error, 1)
	w := newTestWorker(handlerFunc(func(ctx context.Context, _ domain.Task) error {
		done <- ctx.Err()
		return nil
	}), 1, 1, 0)

	startCtx, cancel := context.WithCancel(context.Background())
	w.Start(startCtx)
	cancel()

	require.NoError(t, w.Enqueue(context.Background(), domain.Task{JobID: "a"}))
	assert.NoError(t, <-done)
	require.NoError(t, w.Stop(context.Background()))
}

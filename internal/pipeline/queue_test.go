package pipeline

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type outcome struct {
	result any
	err    error
}

func track(task *Task) <-chan outcome {
	ch := make(chan outcome, 1)
	task.OnComplete = func(r any) { ch <- outcome{result: r} }
	task.OnError = func(err error) { ch <- outcome{err: err} }
	return ch
}

func wait(t *testing.T, ch <-chan outcome) outcome {
	t.Helper()
	select {
	case o := <-ch:
		return o
	case <-time.After(5 * time.Second):
		t.Fatal("task did not finish")
		return outcome{}
	}
}

func testConfig() QueueConfig {
	cfg := DefaultQueueConfig()
	cfg.WorkerCount = 2
	cfg.QueueSize = 8
	cfg.RetryDelay = time.Millisecond
	cfg.ProcessTimeout = 2 * time.Second
	return cfg
}

func TestNewJobQueueDefaults(t *testing.T) {
	q := NewJobQueue(QueueConfig{})
	assert.Greater(t, q.config.WorkerCount, 0)
	assert.Equal(t, 100, q.config.QueueSize)
	assert.Equal(t, 1, q.config.MaxRetries)
	assert.Equal(t, 5*time.Minute, q.config.ProcessTimeout)
	assert.Equal(t, 25, cap(q.urgentQueue))
	assert.Equal(t, 50, cap(q.normalQueue))
}

func TestSubmitAndComplete(t *testing.T) {
	q := NewJobQueue(testConfig())
	q.Start()
	defer q.Stop()

	task := &Task{Kind: "align", Run: func(ctx context.Context) (any, error) { return 42, nil }}
	done := track(task)
	require.NoError(t, q.Submit(task))
	assert.NotEmpty(t, task.ID)

	o := wait(t, done)
	require.NoError(t, o.err)
	assert.Equal(t, 42, o.result)

	assert.Eventually(t, func() bool {
		m := q.GetMetrics()
		return m.TasksProcessed == 1 && m.CurrentQueueDepth == 0
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), q.GetMetrics().TasksQueued)
}

func TestSubmitRejectsTaskWithoutRun(t *testing.T) {
	q := NewJobQueue(testConfig())
	assert.Error(t, q.Submit(&Task{}))
}

func TestRetryPolicy(t *testing.T) {
	errTransient := errors.New("model crashed")
	errInput := errors.New("bad input")

	tests := []struct {
		name         string
		maxRetries   int
		failures     int
		err          error
		wantAttempts int32
		wantErr      error
	}{
		{name: "single_attempt_by_default", maxRetries: 1, failures: 5, err: errTransient, wantAttempts: 1, wantErr: errTransient},
		{name: "retry_until_success", maxRetries: 3, failures: 2, err: errTransient, wantAttempts: 3},
		{name: "retries_exhausted", maxRetries: 2, failures: 5, err: errTransient, wantAttempts: 2, wantErr: errTransient},
		{name: "non_retryable_error", maxRetries: 3, failures: 5, err: errInput, wantAttempts: 1, wantErr: errInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			cfg.MaxRetries = tt.maxRetries
			cfg.Retryable = func(err error) bool { return !errors.Is(err, errInput) }
			q := NewJobQueue(cfg)
			q.Start()
			defer q.Stop()

			var attempts int32
			task := &Task{Run: func(ctx context.Context) (any, error) {
				n := atomic.AddInt32(&attempts, 1)
				if int(n) <= tt.failures {
					return nil, tt.err
				}
				return "ok", nil
			}}
			done := track(task)
			require.NoError(t, q.Submit(task))

			o := wait(t, done)
			assert.Equal(t, tt.wantAttempts, atomic.LoadInt32(&attempts))
			if tt.wantErr != nil {
				assert.ErrorIs(t, o.err, tt.wantErr)
			} else {
				assert.NoError(t, o.err)
				assert.Equal(t, "ok", o.result)
			}
		})
	}
}

func TestProcessTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.ProcessTimeout = 50 * time.Millisecond
	cfg.MaxRetries = 3
	q := NewJobQueue(cfg)
	q.Start()
	defer q.Stop()

	var attempts int32
	task := &Task{Run: func(ctx context.Context) (any, error) {
		atomic.AddInt32(&attempts, 1)
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	done := track(task)
	require.NoError(t, q.Submit(task))

	o := wait(t, done)
	assert.ErrorIs(t, o.err, ErrProcessTimeout)
	assert.Equal(t, int32(1), atomic.LoadInt32(&attempts), "timeouts are not retried")
}

func TestTaskPanicBecomesError(t *testing.T) {
	q := NewJobQueue(testConfig())
	q.Start()
	defer q.Stop()

	task := &Task{Run: func(ctx context.Context) (any, error) { panic("index out of range") }}
	done := track(task)
	require.NoError(t, q.Submit(task))

	o := wait(t, done)
	assert.ErrorContains(t, o.err, "index out of range")
}

func TestQueueFull(t *testing.T) {
	cfg := testConfig()
	cfg.QueueSize = 4 // normal queue holds 2
	cfg.SubmitTimeout = 10 * time.Millisecond
	q := NewJobQueue(cfg) // not started, nothing drains

	noop := func(ctx context.Context) (any, error) { return nil, nil }
	require.NoError(t, q.Submit(&Task{Run: noop}))
	require.NoError(t, q.Submit(&Task{Run: noop}))
	assert.ErrorIs(t, q.Submit(&Task{Run: noop}), ErrQueueFull)

	// other priorities have their own capacity
	assert.NoError(t, q.Submit(&Task{Run: noop, Priority: PriorityUrgent}))

	u, h, n := q.QueueDepths()
	assert.Equal(t, 1, u)
	assert.Equal(t, 0, h)
	assert.Equal(t, 2, n)
	assert.Equal(t, 3, q.GetQueueDepth())
	assert.Equal(t, int64(1), q.GetMetrics().TasksFailed)
}

func TestPriorityOrder(t *testing.T) {
	cfg := testConfig()
	cfg.WorkerCount = 1
	q := NewJobQueue(cfg)

	var mu sync.Mutex
	var order []string
	var wg sync.WaitGroup
	add := func(name string, p Priority) {
		wg.Add(1)
		require.NoError(t, q.Submit(&Task{
			Priority: p,
			Run: func(ctx context.Context) (any, error) {
				mu.Lock()
				order = append(order, name)
				mu.Unlock()
				return nil, nil
			},
			OnComplete: func(any) { wg.Done() },
		}))
	}
	add("normal", PriorityNormal)
	add("high", PriorityHigh)
	add("urgent", PriorityUrgent)

	q.Start()
	wg.Wait()
	q.Stop()

	assert.Equal(t, []string{"urgent", "high", "normal"}, order)
}

func TestStopFailsWaitingTasks(t *testing.T) {
	q := NewJobQueue(testConfig())
	task := &Task{Run: func(ctx context.Context) (any, error) { return nil, nil }}
	done := track(task)
	require.NoError(t, q.Submit(task))

	q.Stop()
	o := wait(t, done)
	assert.ErrorIs(t, o.err, ErrQueueStopped)
	assert.ErrorIs(t, q.Submit(&Task{Run: task.Run}), ErrQueueStopped)
}

func TestWorkerStatuses(t *testing.T) {
	cfg := testConfig()
	cfg.WorkerCount = 3
	q := NewJobQueue(cfg)
	assert.Empty(t, q.WorkerStatuses())

	q.Start()
	defer q.Stop()
	statuses := q.WorkerStatuses()
	require.Len(t, statuses, 3)
	for i, s := range statuses {
		assert.Equal(t, i, s.ID)
	}
	assert.Equal(t, 3, q.WorkerCount())
}

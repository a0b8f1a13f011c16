package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	// ErrQueueFull is returned when the queue is at capacity
	ErrQueueFull = errors.New("queue is full")

	// ErrQueueStopped is returned when the queue has been stopped
	ErrQueueStopped = errors.New("queue has been stopped")

	// ErrProcessTimeout is returned when processing exceeds timeout
	ErrProcessTimeout = errors.New("processing timeout exceeded")
)

// Worker processes tasks from the queue
type Worker struct {
	id     int
	queue  *JobQueue
	config QueueConfig
	busy   int32
	logger *logrus.Entry
}

// NewWorker creates a new worker
func NewWorker(id int, queue *JobQueue, config QueueConfig) *Worker {
	return &Worker{
		id:     id,
		queue:  queue,
		config: config,
		logger: logrus.WithFields(logrus.Fields{
			"worker_id": id,
		}),
	}
}

// Run starts the worker processing loop
func (w *Worker) Run(ctx context.Context) {
	w.logger.Debug("Worker started")
	defer w.logger.Debug("Worker stopped")

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		task := w.getNextTask(ctx)
		if task == nil {
			continue
		}

		atomic.StoreInt32(&w.busy, 1)
		atomic.AddInt32(&w.queue.metrics.ActiveWorkers, 1)
		w.processTask(task)
		atomic.AddInt32(&w.queue.metrics.ActiveWorkers, -1)
		atomic.StoreInt32(&w.busy, 0)
	}
}

// getNextTask retrieves the next task, draining higher priorities first.
func (w *Worker) getNextTask(ctx context.Context) *Task {
	select {
	case task := <-w.queue.urgentQueue:
		return task
	default:
	}
	select {
	case task := <-w.queue.urgentQueue:
		return task
	case task := <-w.queue.highQueue:
		return task
	default:
	}

	select {
	case task := <-w.queue.urgentQueue:
		return task
	case task := <-w.queue.highQueue:
		return task
	case task := <-w.queue.normalQueue:
		return task
	case <-ctx.Done():
		return nil
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// processTask runs a task with retries under one overall timeout.
func (w *Worker) processTask(task *Task) {
	startTime := time.Now()
	logger := w.logger.WithFields(logrus.Fields{
		"job_id":   task.ID,
		"kind":     task.Kind,
		"priority": task.Priority,
		"wait":     startTime.Sub(task.SubmittedAt),
	})
	logger.Debug("Processing task")

	ctx, cancel := context.WithTimeout(context.Background(), w.config.ProcessTimeout)
	defer cancel()

	var lastError error
	for attempt := 1; attempt <= w.config.MaxRetries; attempt++ {
		if attempt > 1 {
			atomic.AddInt64(&w.queue.metrics.TasksRetried, 1)
			if task.OnRetry != nil {
				task.OnRetry(lastError, attempt)
			}
			select {
			case <-time.After(w.config.RetryDelay):
			case <-ctx.Done():
				lastError = ErrProcessTimeout
			}
			if errors.Is(lastError, ErrProcessTimeout) {
				break
			}
		}

		if task.OnStart != nil {
			task.OnStart(w.id, attempt)
		}

		result, err := w.runWithTimeout(ctx, task)
		if err == nil {
			processTime := time.Since(startTime)
			w.queue.updateMetricsAfterProcess(processTime, true)

			logger.WithFields(logrus.Fields{
				"process_time": processTime,
				"attempt":      attempt,
			}).Info("Task completed successfully")

			if task.OnComplete != nil {
				task.OnComplete(result)
			}
			return
		}

		lastError = err
		if !w.shouldRetry(err) || attempt == w.config.MaxRetries {
			break
		}
		logger.WithError(err).WithField("attempt", attempt).Warn("Task failed, retrying...")
	}

	processTime := time.Since(startTime)
	w.queue.updateMetricsAfterProcess(processTime, false)

	logger.WithError(lastError).WithField("process_time", processTime).Error("Task failed")

	if task.OnError != nil {
		task.OnError(lastError)
	}
}

func (w *Worker) shouldRetry(err error) bool {
	if errors.Is(err, ErrProcessTimeout) {
		return false
	}
	if w.config.Retryable != nil {
		return w.config.Retryable(err)
	}
	return true
}

// runWithTimeout runs the task in its own goroutine so a stuck collaborator
// call cannot hold the worker past the deadline.
func (w *Worker) runWithTimeout(ctx context.Context, task *Task) (result any, err error) {
	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("task panicked: %v", r)}
			}
		}()
		res, err := task.Run(ctx)
		done <- outcome{result: res, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil && ctx.Err() != nil {
			return nil, ErrProcessTimeout
		}
		return out.result, out.err
	case <-ctx.Done():
		return nil, ErrProcessTimeout
	}
}

// GetStatus returns the worker's current status
func (w *Worker) GetStatus() WorkerStatus {
	return WorkerStatus{
		ID:       w.id,
		IsActive: atomic.LoadInt32(&w.busy) == 1,
	}
}

// WorkerStatus represents the status of a worker
type WorkerStatus struct {
	ID       int  `json:"id"`
	IsActive bool `json:"isActive"`
}

// WorkerStatuses reports the state of every worker.
func (q *JobQueue) WorkerStatuses() []WorkerStatus {
	q.startMu.Lock()
	defer q.startMu.Unlock()

	statuses := make([]WorkerStatus, len(q.workers))
	for i, w := range q.workers {
		statuses[i] = w.GetStatus()
	}
	return statuses
}

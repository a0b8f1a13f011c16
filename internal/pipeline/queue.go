// Package pipeline runs alignment jobs on a bounded pool of workers fed by
// priority queues.
package pipeline

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Priority selects the queue a task is routed to.
type Priority int

const (
	PriorityNormal Priority = iota
	PriorityHigh
	PriorityUrgent
)

// Task is one unit of work for the pool.
type Task struct {
	ID          string
	Kind        string
	Priority    Priority
	SubmittedAt time.Time

	// Run does the work. It must honor ctx for blocking collaborator calls.
	Run func(ctx context.Context) (any, error)

	// Callbacks for progress tracking
	OnStart    func(workerID, attempt int)
	OnRetry    func(err error, attempt int)
	OnComplete func(result any)
	OnError    func(err error)
}

// JobQueue manages the async processing queue
type JobQueue struct {
	urgentQueue chan *Task
	highQueue   chan *Task
	normalQueue chan *Task

	workers  []*Worker
	workerWg sync.WaitGroup
	started  bool
	startMu  sync.Mutex

	metrics *QueueMetrics

	ctx    context.Context
	cancel context.CancelFunc

	config QueueConfig
}

// QueueConfig holds queue configuration
type QueueConfig struct {
	WorkerCount    int
	QueueSize      int
	MaxRetries     int // total attempts per task
	RetryDelay     time.Duration
	ProcessTimeout time.Duration
	SubmitTimeout  time.Duration

	// Retryable decides whether a failed attempt is tried again. Timeouts
	// are never retried.
	Retryable func(error) bool
}

// DefaultQueueConfig returns default configuration
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		WorkerCount:    runtime.NumCPU(),
		QueueSize:      100,
		MaxRetries:     1,
		RetryDelay:     time.Second,
		ProcessTimeout: 5 * time.Minute,
		SubmitTimeout:  100 * time.Millisecond,
	}
}

// QueueMetrics tracks queue performance
type QueueMetrics struct {
	TasksQueued        int64
	TasksProcessed     int64
	TasksFailed        int64
	TasksRetried       int64
	TotalProcessTime   int64 // in milliseconds
	AverageProcessTime int64 // in milliseconds
	CurrentQueueDepth  int32
	ActiveWorkers      int32
}

// NewJobQueue creates a new job queue
func NewJobQueue(config QueueConfig) *JobQueue {
	defaults := DefaultQueueConfig()
	if config.WorkerCount <= 0 {
		config.WorkerCount = defaults.WorkerCount
	}
	if config.QueueSize < 4 {
		config.QueueSize = defaults.QueueSize
	}
	if config.MaxRetries < 1 {
		config.MaxRetries = 1
	}
	if config.ProcessTimeout <= 0 {
		config.ProcessTimeout = defaults.ProcessTimeout
	}
	if config.SubmitTimeout <= 0 {
		config.SubmitTimeout = defaults.SubmitTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &JobQueue{
		urgentQueue: make(chan *Task, config.QueueSize/4),
		highQueue:   make(chan *Task, config.QueueSize/4),
		normalQueue: make(chan *Task, config.QueueSize/2),
		workers:     make([]*Worker, 0, config.WorkerCount),
		metrics:     &QueueMetrics{},
		ctx:         ctx,
		cancel:      cancel,
		config:      config,
	}
}

// Start begins processing with the worker pool
func (q *JobQueue) Start() {
	q.startMu.Lock()
	defer q.startMu.Unlock()
	if q.started {
		return
	}
	q.started = true

	for i := 0; i < q.config.WorkerCount; i++ {
		worker := NewWorker(i, q, q.config)
		q.workers = append(q.workers, worker)

		q.workerWg.Add(1)
		go func(w *Worker) {
			defer q.workerWg.Done()
			w.Run(q.ctx)
		}(worker)
	}

	logrus.WithField("workers", q.config.WorkerCount).Info("Job queue started")
}

// Stop stops accepting tasks and waits for running tasks to finish.
// Tasks still waiting in the queues are failed with ErrQueueStopped.
func (q *JobQueue) Stop() {
	logrus.Info("Stopping job queue...")

	q.cancel()
	q.workerWg.Wait()

	for _, ch := range []chan *Task{q.urgentQueue, q.highQueue, q.normalQueue} {
		for {
			select {
			case task := <-ch:
				q.updateMetricsAfterProcess(0, false)
				if task.OnError != nil {
					task.OnError(ErrQueueStopped)
				}
				continue
			default:
			}
			break
		}
	}

	logrus.Info("Job queue stopped")
}

// Submit adds a task to the appropriate priority queue
func (q *JobQueue) Submit(task *Task) error {
	if task.Run == nil {
		return errors.New("task has no Run function")
	}
	if q.ctx.Err() != nil {
		return ErrQueueStopped
	}
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.SubmittedAt.IsZero() {
		task.SubmittedAt = time.Now()
	}

	atomic.AddInt64(&q.metrics.TasksQueued, 1)
	atomic.AddInt32(&q.metrics.CurrentQueueDepth, 1)

	var targetQueue chan *Task
	switch task.Priority {
	case PriorityUrgent:
		targetQueue = q.urgentQueue
	case PriorityHigh:
		targetQueue = q.highQueue
	default:
		targetQueue = q.normalQueue
	}

	timer := time.NewTimer(q.config.SubmitTimeout)
	defer timer.Stop()

	select {
	case targetQueue <- task:
		logrus.WithFields(logrus.Fields{
			"job_id":   task.ID,
			"kind":     task.Kind,
			"priority": task.Priority,
		}).Debug("Task queued")
		return nil

	case <-timer.C:
		atomic.AddInt32(&q.metrics.CurrentQueueDepth, -1)
		atomic.AddInt64(&q.metrics.TasksFailed, 1)

		logrus.WithFields(logrus.Fields{
			"job_id": task.ID,
			"kind":   task.Kind,
		}).Warn("Queue full, task rejected")
		return ErrQueueFull

	case <-q.ctx.Done():
		atomic.AddInt32(&q.metrics.CurrentQueueDepth, -1)
		return ErrQueueStopped
	}
}

// GetMetrics returns current queue metrics
func (q *JobQueue) GetMetrics() QueueMetrics {
	metrics := QueueMetrics{
		TasksQueued:       atomic.LoadInt64(&q.metrics.TasksQueued),
		TasksProcessed:    atomic.LoadInt64(&q.metrics.TasksProcessed),
		TasksFailed:       atomic.LoadInt64(&q.metrics.TasksFailed),
		TasksRetried:      atomic.LoadInt64(&q.metrics.TasksRetried),
		TotalProcessTime:  atomic.LoadInt64(&q.metrics.TotalProcessTime),
		CurrentQueueDepth: atomic.LoadInt32(&q.metrics.CurrentQueueDepth),
		ActiveWorkers:     atomic.LoadInt32(&q.metrics.ActiveWorkers),
	}

	if metrics.TasksProcessed > 0 {
		metrics.AverageProcessTime = metrics.TotalProcessTime / metrics.TasksProcessed
	}
	return metrics
}

// QueueDepths returns the number of waiting tasks per priority.
func (q *JobQueue) QueueDepths() (urgent, high, normal int) {
	return len(q.urgentQueue), len(q.highQueue), len(q.normalQueue)
}

// GetQueueDepth returns the current queue depth across all priorities
func (q *JobQueue) GetQueueDepth() int {
	u, h, n := q.QueueDepths()
	return u + h + n
}

// WorkerCount returns the size of the pool.
func (q *JobQueue) WorkerCount() int {
	return q.config.WorkerCount
}

func (q *JobQueue) updateMetricsAfterProcess(processTime time.Duration, success bool) {
	atomic.AddInt32(&q.metrics.CurrentQueueDepth, -1)

	if success {
		atomic.AddInt64(&q.metrics.TasksProcessed, 1)
		atomic.AddInt64(&q.metrics.TotalProcessTime, processTime.Milliseconds())
	} else {
		atomic.AddInt64(&q.metrics.TasksFailed, 1)
	}
}

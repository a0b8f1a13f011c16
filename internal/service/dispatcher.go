package service

import (
	"context"
	"errors"
	"io/fs"
	"time"

	"github.com/fankserver/voice-align-mcp/internal/feedback"
	"github.com/fankserver/voice-align-mcp/internal/jobs"
	"github.com/fankserver/voice-align-mcp/internal/pipeline"
	"github.com/fankserver/voice-align-mcp/pkg/align"
	"github.com/sirupsen/logrus"
)

// Retryable reports whether a failed job may succeed on another attempt.
// Input errors, missing files and unconfigured backends never do.
func Retryable(err error) bool {
	return !align.IsInputError(err) &&
		!errors.Is(err, fs.ErrNotExist) &&
		!errors.Is(err, ErrBackendUnavailable) &&
		!errors.Is(err, ErrNoWordsDetected) &&
		!errors.Is(err, context.Canceled)
}

// Dispatcher runs service requests as jobs on the worker pool, recording
// them in the job store and publishing lifecycle events.
type Dispatcher struct {
	svc    *Service
	queue  *pipeline.JobQueue
	store  *jobs.Store
	events *feedback.EventBus
	logger *logrus.Entry
}

// NewDispatcher wires the service to a started queue. events may be nil.
func NewDispatcher(svc *Service, queue *pipeline.JobQueue, store *jobs.Store, events *feedback.EventBus) *Dispatcher {
	return &Dispatcher{
		svc:    svc,
		queue:  queue,
		store:  store,
		events: events,
		logger: logrus.WithField("component", "dispatcher"),
	}
}

// Service returns the underlying service.
func (d *Dispatcher) Service() *Service { return d.svc }

// Store returns the job store.
func (d *Dispatcher) Store() *jobs.Store { return d.store }

type jobOutcome struct {
	result any
	err    error
}

// submit registers and queues a job. The returned channel receives the
// outcome exactly once.
func (d *Dispatcher) submit(kind jobs.Kind, request any, priority pipeline.Priority, run func(context.Context) (any, error)) (string, <-chan jobOutcome, error) {
	id := d.store.Create(kind, request)
	done := make(chan jobOutcome, 1)
	logger := d.logger.WithFields(logrus.Fields{"job_id": id, "kind": kind})

	task := &pipeline.Task{
		ID:       id,
		Kind:     string(kind),
		Priority: priority,
		Run:      run,
		OnStart: func(workerID, attempt int) {
			if err := d.store.MarkRunning(id); err != nil {
				logger.WithError(err).Warn("Failed to mark job running")
			}
			d.publish(func(bus *feedback.EventBus) {
				bus.PublishJobStarted(id, feedback.JobStartedData{Kind: string(kind), WorkerID: workerID, Attempt: attempt})
			})
		},
		OnRetry: func(err error, attempt int) {
			d.publish(func(bus *feedback.EventBus) {
				bus.PublishJobFailed(id, feedback.JobFailedData{Kind: string(kind), Error: err.Error(), Attempt: attempt - 1, Retrying: true})
			})
		},
		OnComplete: func(result any) {
			if err := d.store.Complete(id, result); err != nil {
				logger.WithError(err).Warn("Failed to store job result")
			}
			d.publishDiagnostics(id, result)
			d.publish(func(bus *feedback.EventBus) {
				var processTime time.Duration
				if job, err := d.store.Get(id); err == nil && job.StartedAt != nil {
					processTime = time.Since(*job.StartedAt)
				}
				bus.PublishJobCompleted(id, feedback.JobCompletedData{Kind: string(kind), ProcessTime: processTime})
			})
			done <- jobOutcome{result: result}
		},
		OnError: func(err error) {
			if storeErr := d.store.Fail(id, err); storeErr != nil {
				logger.WithError(storeErr).Warn("Failed to store job error")
			}
			d.publish(func(bus *feedback.EventBus) {
				bus.PublishJobFailed(id, feedback.JobFailedData{Kind: string(kind), Error: err.Error()})
			})
			done <- jobOutcome{err: err}
		},
	}

	if err := d.queue.Submit(task); err != nil {
		if storeErr := d.store.Fail(id, err); storeErr != nil {
			logger.WithError(storeErr).Warn("Failed to store job error")
		}
		return id, nil, err
	}

	d.publish(func(bus *feedback.EventBus) {
		urgent, high, normal := d.queue.QueueDepths()
		bus.PublishJobQueued(id, feedback.JobQueuedData{Kind: string(kind), Priority: int(priority), QueueDepth: urgent + high + normal})
		bus.PublishQueueDepthChanged(feedback.QueueDepthData{
			TotalDepth:    urgent + high + normal,
			UrgentDepth:   urgent,
			HighDepth:     high,
			NormalDepth:   normal,
			ActiveWorkers: int(d.queue.GetMetrics().ActiveWorkers),
		})
	})
	return id, done, nil
}

func (d *Dispatcher) publish(fn func(*feedback.EventBus)) {
	if d.events != nil {
		fn(d.events)
	}
}

func (d *Dispatcher) publishDiagnostics(id string, result any) {
	if d.events == nil {
		return
	}
	switch r := result.(type) {
	case *AlignResponse:
		if r.Repaired > 0 || r.Extrapolated > 0 {
			d.events.PublishWordsRepaired(id, feedback.WordsRepairedData{Words: len(r.Words), Repaired: r.Repaired, Extrapolated: r.Extrapolated})
		}
		for _, w := range r.Warnings {
			d.events.PublishAlignWarning(id, feedback.AlignWarningData{Code: string(w.Code), Message: w.Message})
		}
	case *TimestampsResponse:
		if r.Repaired > 0 {
			d.events.PublishWordsRepaired(id, feedback.WordsRepairedData{Words: len(r.Words), Repaired: r.Repaired})
		}
	}
}

// await blocks until the job finishes or ctx ends. The job keeps running
// in the background when ctx ends first.
func await[T any](ctx context.Context, id string, done <-chan jobOutcome) (T, string, error) {
	var zero T
	select {
	case out := <-done:
		if out.err != nil {
			return zero, id, out.err
		}
		return out.result.(T), id, nil
	case <-ctx.Done():
		return zero, id, ctx.Err()
	}
}

// Align queues an alignment job and waits for it.
func (d *Dispatcher) Align(ctx context.Context, req AlignRequest) (*AlignResponse, string, error) {
	id, done, err := d.submitAlign(req, pipeline.PriorityHigh)
	if err != nil {
		return nil, id, err
	}
	return await[*AlignResponse](ctx, id, done)
}

// AlignAsync queues an alignment job and returns its ID.
func (d *Dispatcher) AlignAsync(req AlignRequest) (string, error) {
	id, _, err := d.submitAlign(req, pipeline.PriorityNormal)
	return id, err
}

func (d *Dispatcher) submitAlign(req AlignRequest, p pipeline.Priority) (string, <-chan jobOutcome, error) {
	if err := req.Validate(); err != nil {
		return "", nil, err
	}
	// inline matrices are not worth keeping in the job record
	record := req
	record.Emission = nil
	return d.submit(jobs.KindAlign, record, p, func(ctx context.Context) (any, error) {
		return d.svc.Align(ctx, req)
	})
}

// Timestamps queues a timestamps job and waits for it.
func (d *Dispatcher) Timestamps(ctx context.Context, req TimestampsRequest) (*TimestampsResponse, string, error) {
	if err := req.Validate(); err != nil {
		return nil, "", err
	}
	id, done, err := d.submit(jobs.KindTimestamps, req, pipeline.PriorityUrgent, func(ctx context.Context) (any, error) {
		return d.svc.Timestamps(ctx, req)
	})
	if err != nil {
		return nil, id, err
	}
	return await[*TimestampsResponse](ctx, id, done)
}

// Speakers queues a speaker labelling job and waits for it.
func (d *Dispatcher) Speakers(ctx context.Context, req SpeakersRequest) (*SpeakersResponse, string, error) {
	id, done, err := d.submitSpeakers(req, pipeline.PriorityHigh)
	if err != nil {
		return nil, id, err
	}
	return await[*SpeakersResponse](ctx, id, done)
}

// SpeakersAsync queues a speaker labelling job and returns its ID.
func (d *Dispatcher) SpeakersAsync(req SpeakersRequest) (string, error) {
	id, _, err := d.submitSpeakers(req, pipeline.PriorityNormal)
	return id, err
}

func (d *Dispatcher) submitSpeakers(req SpeakersRequest, p pipeline.Priority) (string, <-chan jobOutcome, error) {
	if err := req.Validate(); err != nil {
		return "", nil, err
	}
	return d.submit(jobs.KindSpeakers, req, p, func(ctx context.Context) (any, error) {
		return d.svc.Speakers(ctx, req)
	})
}

// QueueStatus summarizes the worker pool and job store.
type QueueStatus struct {
	Workers            int                     `json:"workers"`
	ActiveWorkers      int32                   `json:"activeWorkers"`
	QueueDepth         int                     `json:"queueDepth"`
	UrgentDepth        int                     `json:"urgentDepth"`
	HighDepth          int                     `json:"highDepth"`
	NormalDepth        int                     `json:"normalDepth"`
	TasksQueued        int64                   `json:"tasksQueued"`
	TasksProcessed     int64                   `json:"tasksProcessed"`
	TasksFailed        int64                   `json:"tasksFailed"`
	TasksRetried       int64                   `json:"tasksRetried"`
	AverageProcessTime int64                   `json:"averageProcessTimeMs"`
	Jobs               map[jobs.Status]int     `json:"jobs"`
	WorkerStatus       []pipeline.WorkerStatus `json:"workerStatus"`
}

// Status returns the current queue status.
func (d *Dispatcher) Status() QueueStatus {
	m := d.queue.GetMetrics()
	urgent, high, normal := d.queue.QueueDepths()
	return QueueStatus{
		Workers:            d.queue.WorkerCount(),
		ActiveWorkers:      m.ActiveWorkers,
		QueueDepth:         urgent + high + normal,
		UrgentDepth:        urgent,
		HighDepth:          high,
		NormalDepth:        normal,
		TasksQueued:        m.TasksQueued,
		TasksProcessed:     m.TasksProcessed,
		TasksFailed:        m.TasksFailed,
		TasksRetried:       m.TasksRetried,
		AverageProcessTime: m.AverageProcessTime,
		Jobs:               d.store.Counts(),
		WorkerStatus:       d.queue.WorkerStatuses(),
	}
}

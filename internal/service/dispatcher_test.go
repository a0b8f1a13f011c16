package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"testing"
	"time"

	"github.com/fankserver/voice-align-mcp/internal/feedback"
	"github.com/fankserver/voice-align-mcp/internal/jobs"
	"github.com/fankserver/voice-align-mcp/internal/pipeline"
	"github.com/fankserver/voice-align-mcp/pkg/align"
	"github.com/fankserver/voice-align-mcp/pkg/emission"
	"github.com/fankserver/voice-align-mcp/pkg/transcriber"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type eventLog struct {
	mu     sync.Mutex
	events []feedback.Event
}

func (l *eventLog) add(e feedback.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
}

func (l *eventLog) has(eventType feedback.EventType, jobID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.events {
		if e.Type == eventType && e.JobID == jobID {
			return true
		}
	}
	return false
}

func newDispatcher(t *testing.T, backends Backends, maxRetries int) (*Dispatcher, *eventLog) {
	t.Helper()
	cfg := pipeline.DefaultQueueConfig()
	cfg.WorkerCount = 2
	cfg.MaxRetries = maxRetries
	cfg.RetryDelay = time.Millisecond
	cfg.ProcessTimeout = 5 * time.Second
	cfg.Retryable = Retryable
	queue := pipeline.NewJobQueue(cfg)
	queue.Start()

	bus := feedback.NewEventBus(100)
	log := &eventLog{}
	bus.SubscribeAll(log.add)

	t.Cleanup(func() {
		queue.Stop()
		bus.Stop()
	})
	return NewDispatcher(newService(backends), queue, jobs.NewStore(t.TempDir()), bus), log
}

func TestDispatcherAlign(t *testing.T) {
	d, log := newDispatcher(t, Backends{}, 1)

	resp, id, err := d.Align(context.Background(), AlignRequest{
		Words:       []string{"hi", "42"},
		Emission:    hiRows(t),
		SampleCount: 1600,
		SampleRate:  16000,
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	assert.Equal(t, 1, resp.Repaired)

	job, err := d.Store().Get(id)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusCompleted, job.Status)
	assert.Equal(t, jobs.KindAlign, job.Kind)
	assert.Equal(t, 1, job.Attempts)
	assert.Same(t, resp, job.Result)

	record, ok := job.Request.(AlignRequest)
	require.True(t, ok)
	assert.Nil(t, record.Emission, "inline matrices are not stored")

	assert.Eventually(t, func() bool {
		return log.has(feedback.EventJobQueued, id) &&
			log.has(feedback.EventJobStarted, id) &&
			log.has(feedback.EventJobCompleted, id) &&
			log.has(feedback.EventWordsRepaired, id)
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDispatcherRejectsInvalidRequestBeforeQueueing(t *testing.T) {
	d, _ := newDispatcher(t, Backends{}, 1)

	_, id, err := d.Align(context.Background(), AlignRequest{Text: "hi"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Empty(t, id)
	assert.Empty(t, d.Store().List())
}

func TestDispatcherInputErrorIsNotRetried(t *testing.T) {
	d, log := newDispatcher(t, Backends{}, 3)

	_, id, err := d.Align(context.Background(), AlignRequest{
		Text:        "42",
		Emission:    hiRows(t),
		SampleCount: 1600,
		SampleRate:  16000,
	})
	assert.ErrorIs(t, err, align.ErrNoAlignableTokens)

	job, getErr := d.Store().Get(id)
	require.NoError(t, getErr)
	assert.Equal(t, jobs.StatusFailed, job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.Contains(t, job.Error, "no characters")

	assert.Eventually(t, func() bool { return log.has(feedback.EventJobFailed, id) }, 2*time.Second, 10*time.Millisecond)
	assert.False(t, log.has(feedback.EventJobRetrying, id))
}

type flakySource struct {
	mu       sync.Mutex
	failures int
	calls    int
	result   *emission.Emissions
}

func (f *flakySource) Emissions(ctx context.Context, path string) (*emission.Emissions, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return nil, fmt.Errorf("inference attempt %d crashed", f.calls)
	}
	return f.result, nil
}

func (f *flakySource) Name() string { return "flaky" }
func (f *flakySource) Close() error { return nil }

func TestDispatcherRetriesCollaboratorFailure(t *testing.T) {
	em, err := emission.FromRows(hiRows(t), 1600, 16000, nil)
	require.NoError(t, err)
	source := &flakySource{failures: 1, result: em}
	d, log := newDispatcher(t, Backends{Emissions: source}, 2)

	resp, id, err := d.Align(context.Background(), AlignRequest{Text: "hi", AudioPath: writeWAV(t, 1600)})
	require.NoError(t, err)
	assert.Len(t, resp.Words, 1)

	job, _ := d.Store().Get(id)
	assert.Equal(t, 2, job.Attempts)
	assert.Eventually(t, func() bool { return log.has(feedback.EventJobRetrying, id) }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(1), d.Status().TasksRetried)
}

func TestDispatcherAsync(t *testing.T) {
	d, _ := newDispatcher(t, Backends{}, 1)

	id, err := d.AlignAsync(AlignRequest{Text: "hi", Emission: hiRows(t), SampleCount: 1600, SampleRate: 16000})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		job, err := d.Store().Get(id)
		return err == nil && job.Status == jobs.StatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	_, err = d.SpeakersAsync(SpeakersRequest{})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestDispatcherTimestamps(t *testing.T) {
	mock := &transcriber.MockTranscriber{Segments: []transcriber.Segment{{
		Words: []align.WordTiming{{Word: "hey", Start: 0.1, End: 0.4}},
	}}}
	d, _ := newDispatcher(t, Backends{Transcriber: mock}, 1)

	resp, id, err := d.Timestamps(context.Background(), TimestampsRequest{AudioPath: writeWAV(t, 1600), OriginalText: "Hey"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Hey"}, resp.Words)

	job, _ := d.Store().Get(id)
	assert.Equal(t, jobs.KindTimestamps, job.Kind)
}

func TestDispatcherStatus(t *testing.T) {
	d, _ := newDispatcher(t, Backends{}, 1)
	_, _, err := d.Align(context.Background(), AlignRequest{Text: "hi", Emission: hiRows(t), SampleCount: 1600, SampleRate: 16000})
	require.NoError(t, err)

	status := d.Status()
	assert.Equal(t, 2, status.Workers)
	assert.Equal(t, int64(1), status.TasksQueued)
	assert.Equal(t, 1, status.Jobs[jobs.StatusCompleted])
	assert.Len(t, status.WorkerStatus, 2)
}

func TestRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "collaborator_failure", err: errors.New("inference crashed"), want: true},
		{name: "input_error", err: align.ErrEmptyEmission, want: false},
		{name: "invalid_request", err: ErrInvalidRequest, want: false},
		{name: "missing_file", err: fmt.Errorf("audio: %w", fs.ErrNotExist), want: false},
		{name: "backend_unavailable", err: ErrBackendUnavailable, want: false},
		{name: "no_words", err: ErrNoWordsDetected, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Retryable(tt.err))
		})
	}
}

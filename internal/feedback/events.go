// Package feedback publishes job lifecycle events to in-process subscribers.
package feedback

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// EventType represents the type of event
type EventType string

const (
	// Job events
	EventJobQueued    EventType = "job.queued"
	EventJobStarted   EventType = "job.started"
	EventJobRetrying  EventType = "job.retrying"
	EventJobCompleted EventType = "job.completed"
	EventJobFailed    EventType = "job.failed"

	// Alignment diagnostics
	EventWordsRepaired EventType = "words.repaired"
	EventAlignWarning  EventType = "align.warning"

	// System events
	EventQueueDepthChanged EventType = "queue.depth.changed"
)

// Event represents a system event
type Event struct {
	Type      EventType
	Timestamp time.Time
	JobID     string
	Data      interface{}
}

// JobQueuedData contains data for job queued events
type JobQueuedData struct {
	Kind       string
	Priority   int
	QueueDepth int
}

// JobStartedData contains data for job started events
type JobStartedData struct {
	Kind     string
	WorkerID int
	Attempt  int
}

// JobCompletedData contains data for job completed events
type JobCompletedData struct {
	Kind        string
	ProcessTime time.Duration
}

// JobFailedData contains data for job failed and retrying events
type JobFailedData struct {
	Kind     string
	Error    string
	Attempt  int
	Retrying bool
}

// WordsRepairedData reports how many words needed synthetic timings.
type WordsRepairedData struct {
	Words        int
	Repaired     int
	Extrapolated int
}

// AlignWarningData carries a non-fatal alignment warning.
type AlignWarningData struct {
	Code    string
	Message string
}

// QueueDepthData contains data for queue depth change events
type QueueDepthData struct {
	TotalDepth    int
	UrgentDepth   int
	HighDepth     int
	NormalDepth   int
	ActiveWorkers int
}

// EventHandler is a function that handles events
type EventHandler func(event Event)

type subscription struct {
	id      uint64
	handler EventHandler
}

// EventBus manages event distribution
type EventBus struct {
	mu          sync.RWMutex
	handlers    map[EventType][]subscription
	allHandlers []subscription
	nextID      uint64
	buffer      chan Event
	stopCh      chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
	handlerWg   sync.WaitGroup
	metrics     *eventCounters
}

// EventMetrics is a snapshot of event statistics.
type EventMetrics struct {
	EventsPublished map[EventType]int64
	EventsDelivered int64
	EventsDropped   int64
}

type eventCounters struct {
	mu              sync.Mutex
	EventsPublished map[EventType]int64
	EventsDelivered int64
	EventsDropped   int64
}

// NewEventBus creates a new event bus
func NewEventBus(bufferSize int) *EventBus {
	eb := &EventBus{
		handlers: make(map[EventType][]subscription),
		buffer:   make(chan Event, bufferSize),
		stopCh:   make(chan struct{}),
		metrics: &eventCounters{
			EventsPublished: make(map[EventType]int64),
		},
	}

	eb.wg.Add(1)
	go eb.processEvents()

	return eb
}

// Subscribe registers a handler for a specific event type and returns its
// unsubscribe function.
func (eb *EventBus) Subscribe(eventType EventType, handler EventHandler) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.nextID++
	id := eb.nextID
	eb.handlers[eventType] = append(eb.handlers[eventType], subscription{id: id, handler: handler})

	return func() { eb.unsubscribe(eventType, id) }
}

// SubscribeAll registers a handler for all events
func (eb *EventBus) SubscribeAll(handler EventHandler) func() {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.nextID++
	id := eb.nextID
	eb.allHandlers = append(eb.allHandlers, subscription{id: id, handler: handler})

	return func() { eb.unsubscribeAll(id) }
}

func (eb *EventBus) unsubscribe(eventType EventType, id uint64) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.handlers[eventType] = removeSubscription(eb.handlers[eventType], id)
}

func (eb *EventBus) unsubscribeAll(id uint64) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.allHandlers = removeSubscription(eb.allHandlers, id)
}

func removeSubscription(subs []subscription, id uint64) []subscription {
	for i, s := range subs {
		if s.id == id {
			return append(subs[:i:i], subs[i+1:]...)
		}
	}
	return subs
}

// Publish sends an event to all subscribers. Events are dropped when the
// buffer is full or the bus is stopped.
func (eb *EventBus) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	eb.metrics.mu.Lock()
	eb.metrics.EventsPublished[event.Type]++
	eb.metrics.mu.Unlock()

	select {
	case <-eb.stopCh:
		eb.dropped(event, "Event dropped, bus stopped")
		return
	default:
	}

	select {
	case eb.buffer <- event:
	default:
		eb.dropped(event, "Event dropped, buffer full")
	}
}

func (eb *EventBus) dropped(event Event, msg string) {
	eb.metrics.mu.Lock()
	eb.metrics.EventsDropped++
	eb.metrics.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"event_type": event.Type,
		"job_id":     event.JobID,
	}).Warn(msg)
}

// processEvents handles event distribution to subscribers
func (eb *EventBus) processEvents() {
	defer eb.wg.Done()

	for {
		select {
		case event := <-eb.buffer:
			eb.deliverEvent(event)

		case <-eb.stopCh:
			// drain what was already queued
			for {
				select {
				case event := <-eb.buffer:
					eb.deliverEvent(event)
				default:
					return
				}
			}
		}
	}
}

// deliverEvent sends an event to all relevant handlers
func (eb *EventBus) deliverEvent(event Event) {
	eb.mu.RLock()
	targets := make([]EventHandler, 0, len(eb.handlers[event.Type])+len(eb.allHandlers))
	for _, s := range eb.handlers[event.Type] {
		targets = append(targets, s.handler)
	}
	for _, s := range eb.allHandlers {
		targets = append(targets, s.handler)
	}
	eb.mu.RUnlock()

	for _, handler := range targets {
		eb.handlerWg.Add(1)
		go func(h EventHandler) {
			defer eb.handlerWg.Done()
			defer func() {
				if r := recover(); r != nil {
					logrus.WithFields(logrus.Fields{
						"event_type": event.Type,
						"panic":      r,
					}).Error("Event handler panic")
				}
			}()

			h(event)

			eb.metrics.mu.Lock()
			eb.metrics.EventsDelivered++
			eb.metrics.mu.Unlock()
		}(handler)
	}
}

// Stop delivers buffered events, waits for running handlers and shuts the
// bus down. It is safe to call more than once.
func (eb *EventBus) Stop() {
	eb.stopOnce.Do(func() {
		close(eb.stopCh)
		eb.wg.Wait()
		eb.handlerWg.Wait()
	})
}

// GetMetrics returns a copy of the event bus metrics
func (eb *EventBus) GetMetrics() EventMetrics {
	eb.metrics.mu.Lock()
	defer eb.metrics.mu.Unlock()

	metrics := EventMetrics{
		EventsPublished: make(map[EventType]int64),
		EventsDelivered: eb.metrics.EventsDelivered,
		EventsDropped:   eb.metrics.EventsDropped,
	}
	for k, v := range eb.metrics.EventsPublished {
		metrics.EventsPublished[k] = v
	}
	return metrics
}

// Helper functions for common event publishing

// PublishJobQueued publishes a job queued event
func (eb *EventBus) PublishJobQueued(jobID string, data JobQueuedData) {
	eb.Publish(Event{Type: EventJobQueued, JobID: jobID, Data: data})
}

// PublishJobStarted publishes a job started event
func (eb *EventBus) PublishJobStarted(jobID string, data JobStartedData) {
	eb.Publish(Event{Type: EventJobStarted, JobID: jobID, Data: data})
}

// PublishJobCompleted publishes a job completed event
func (eb *EventBus) PublishJobCompleted(jobID string, data JobCompletedData) {
	eb.Publish(Event{Type: EventJobCompleted, JobID: jobID, Data: data})
}

// PublishJobFailed publishes a job failed event, or a retrying event when
// another attempt follows.
func (eb *EventBus) PublishJobFailed(jobID string, data JobFailedData) {
	eventType := EventJobFailed
	if data.Retrying {
		eventType = EventJobRetrying
	}
	eb.Publish(Event{Type: eventType, JobID: jobID, Data: data})
}

// PublishWordsRepaired publishes alignment repair diagnostics
func (eb *EventBus) PublishWordsRepaired(jobID string, data WordsRepairedData) {
	eb.Publish(Event{Type: EventWordsRepaired, JobID: jobID, Data: data})
}

// PublishAlignWarning publishes an alignment warning
func (eb *EventBus) PublishAlignWarning(jobID string, data AlignWarningData) {
	eb.Publish(Event{Type: EventAlignWarning, JobID: jobID, Data: data})
}

// PublishQueueDepthChanged publishes a queue depth change event
func (eb *EventBus) PublishQueueDepthChanged(data QueueDepthData) {
	eb.Publish(Event{Type: EventQueueDepthChanged, Data: data})
}

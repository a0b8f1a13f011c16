// Package jobs keeps the record of submitted alignment work.
package jobs

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrJobNotFound is returned for unknown job IDs.
var ErrJobNotFound = errors.New("job not found")

// Kind names the operation a job runs.
type Kind string

const (
	KindAlign      Kind = "align"
	KindTimestamps Kind = "timestamps"
	KindSpeakers   Kind = "speakers"
)

// Status is the lifecycle state of a job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Job is one unit of submitted work and its outcome.
type Job struct {
	ID          string     `json:"id"`
	Kind        Kind       `json:"kind"`
	Status      Status     `json:"status"`
	Request     any        `json:"request,omitempty"`
	Result      any        `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	Attempts    int        `json:"attempts"`
	SubmittedAt time.Time  `json:"submittedAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	FinishedAt  *time.Time `json:"finishedAt,omitempty"`
}

// Done reports whether the job reached a terminal state.
func (j Job) Done() bool {
	return j.Status == StatusCompleted || j.Status == StatusFailed
}

// Store is an in-memory job registry.
type Store struct {
	jobs      map[string]*Job
	mu        sync.RWMutex
	exportDir string
}

// NewStore creates a store exporting into exportDir ("exports" when empty).
func NewStore(exportDir string) *Store {
	if exportDir == "" {
		exportDir = "exports"
	}
	return &Store{
		jobs:      make(map[string]*Job),
		exportDir: exportDir,
	}
}

// Create registers a queued job and returns its ID.
func (s *Store) Create(kind Kind, request any) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	job := &Job{
		ID:          uuid.New().String(),
		Kind:        kind,
		Status:      StatusQueued,
		Request:     request,
		SubmittedAt: time.Now(),
	}
	s.jobs[job.ID] = job
	return job.ID
}

// MarkRunning records the start of an attempt.
func (s *Store) MarkRunning(id string) error {
	return s.update(id, func(job *Job) {
		now := time.Now()
		if job.StartedAt == nil {
			job.StartedAt = &now
		}
		job.Status = StatusRunning
		job.Attempts++
	})
}

// Complete stores the result of a successful job.
func (s *Store) Complete(id string, result any) error {
	return s.update(id, func(job *Job) {
		now := time.Now()
		job.Status = StatusCompleted
		job.Result = result
		job.Error = ""
		job.FinishedAt = &now
	})
}

// Fail records the final error of a job.
func (s *Store) Fail(id string, err error) error {
	return s.update(id, func(job *Job) {
		now := time.Now()
		job.Status = StatusFailed
		job.Error = err.Error()
		job.FinishedAt = &now
	})
}

func (s *Store) update(id string, fn func(*Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	fn(job)
	return nil
}

// Get returns a snapshot of a job.
func (s *Store) Get(id string) (Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.jobs[id]
	if !exists {
		return Job{}, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return *job, nil
}

// List returns snapshots of all jobs, oldest first.
func (s *Store) List() []Job {
	s.mu.RLock()
	list := make([]Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		list = append(list, *job)
	}
	s.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		if list[i].SubmittedAt.Equal(list[j].SubmittedAt) {
			return list[i].ID < list[j].ID
		}
		return list[i].SubmittedAt.Before(list[j].SubmittedAt)
	})
	return list
}

// Counts returns the number of jobs per status.
func (s *Store) Counts() map[Status]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[Status]int)
	for _, job := range s.jobs {
		counts[job.Status]++
	}
	return counts
}

// Prune drops finished jobs older than maxAge and returns how many were removed.
func (s *Store) Prune(maxAge time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for id, job := range s.jobs {
		if job.Done() && job.FinishedAt != nil && job.FinishedAt.Before(cutoff) {
			delete(s.jobs, id)
			removed++
		}
	}
	return removed
}

// Export writes a job to a JSON file in the export directory.
func (s *Store) Export(id string) (string, error) {
	job, err := s.Get(id)
	if err != nil {
		return "", err
	}

	// #nosec G301 - Export directory needs to be readable for serving files
	if err := os.MkdirAll(s.exportDir, 0750); err != nil {
		return "", fmt.Errorf("error creating export directory: %w", err)
	}

	filename := fmt.Sprintf("job_%s_%s_%s.json", job.Kind, job.ID, job.SubmittedAt.Format("20060102_150405"))
	path := filepath.Join(s.exportDir, filename)

	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return "", fmt.Errorf("error marshaling job: %w", err)
	}

	// #nosec G306 - Export files need to be readable by the user
	if err := os.WriteFile(path, data, 0640); err != nil {
		return "", fmt.Errorf("error writing file: %w", err)
	}
	return path, nil
}

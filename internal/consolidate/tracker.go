package consolidate

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/veldt/crystal-backend/internal/platform/logger"
)

type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// Job is one tracked consolidation run. Terminal state is queryable
// until the process exits; consolidation is never fire-and-forget.
type Job struct {
	ID         uuid.UUID     `json:"id"`
	SessionID  uuid.UUID     `json:"session_id"`
	Status     JobStatus     `json:"status"`
	Result     *CommitResult `json:"result,omitempty"`
	Error      string        `json:"error,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
}

// Tracker runs commit work on background goroutines and keeps their
// terminal status for polling.
type Tracker struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]*Job
	log  *logger.Logger
}

func NewTracker(log *logger.Logger) *Tracker {
	return &Tracker{
		jobs: map[uuid.UUID]*Job{},
		log:  log.With("service", "ConsolidationTracker"),
	}
}

// Launch starts fn on its own goroutine, detached from the caller's
// request context, and returns the job handle immediately.
func (t *Tracker) Launch(sessionID uuid.UUID, fn func(ctx context.Context) (*CommitResult, error)) *Job {
	job := &Job{
		ID:        uuid.New(),
		SessionID: sessionID,
		Status:    JobRunning,
		StartedAt: time.Now().UTC(),
	}
	t.mu.Lock()
	t.jobs[job.ID] = job
	t.mu.Unlock()

	go func() {
		result, err := fn(context.Background())
		now := time.Now().UTC()

		t.mu.Lock()
		defer t.mu.Unlock()
		job.FinishedAt = &now
		job.Result = result
		if err != nil {
			job.Status = JobFailed
			job.Error = err.Error()
			t.log.Warn("Consolidation job failed",
				"job_id", job.ID.String(),
				"session_id", sessionID.String(),
				"error", err.Error(),
			)
			return
		}
		job.Status = JobSucceeded
		t.log.Info("Consolidation job finished",
			"job_id", job.ID.String(),
			"session_id", sessionID.String(),
		)
	}()

	t.mu.RLock()
	cp := *job
	t.mu.RUnlock()
	return &cp
}

func (t *Tracker) Get(id uuid.UUID) (*Job, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	job, ok := t.jobs[id]
	if !ok {
		return nil, false
	}
	cp := *job
	return &cp, true
}

// Running reports whether the session has a commit job still in flight.
func (t *Tracker) Running(sessionID uuid.UUID) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, job := range t.jobs {
		if job.SessionID == sessionID && job.Status == JobRunning {
			return true
		}
	}
	return false
}

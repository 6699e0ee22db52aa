// Package queue provides a time-priority job queue with idempotency-keyed
// enqueue collapsing and atomic due-job pulls.
package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Job is one queued unit of work. Jobs are transient and not user-visible.
type Job struct {
	ID             string    `json:"id"`
	Type           string    `json:"type"`
	Payload        []byte    `json:"payload"`
	RunAt          time.Time `json:"run_at"`
	IdempotencyKey string    `json:"idempotency_key,omitempty"`
	Attempt        int       `json:"attempt"`
	EnqueuedAt     time.Time `json:"enqueued_at"`
}

// NewJob creates a job due at runAt. A zero runAt means due immediately.
func NewJob(jobType string, payload []byte, runAt time.Time, idempotencyKey string) *Job {
	if runAt.IsZero() {
		runAt = time.Now()
	}
	return &Job{
		ID:             uuid.NewString(),
		Type:           jobType,
		Payload:        payload,
		RunAt:          runAt,
		IdempotencyKey: idempotencyKey,
		EnqueuedAt:     time.Now(),
	}
}

// Queue is the shared work queue contract. Delivery is at-most-once: PullDue
// removes jobs at pull time and there is no ack, so a crash between pull and
// processing loses the job. Idempotent downstream upserts make re-ingestion
// after such a loss safe.
type Queue interface {
	// Enqueue inserts job sorted by run time. When job.IdempotencyKey matches
	// an already-pending job the enqueue is a no-op.
	Enqueue(ctx context.Context, job *Job) error

	// PullDue atomically removes and returns up to limit jobs whose run time
	// is at or before now. Each job is handed to exactly one caller even
	// under concurrent pulls.
	PullDue(ctx context.Context, now time.Time, limit int) ([]*Job, error)

	// Len reports the number of pending jobs.
	Len(ctx context.Context) (int, error)
}

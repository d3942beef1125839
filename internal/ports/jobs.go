package ports

import (
	"context"

	"pyro/internal/models"
)

type ListJobsFilter struct {
	Status models.JobStatus
	Limit  int
}

// JobStore persists async render jobs.
type JobStore interface {
	Create(ctx context.Context, j *models.Job) error
	Get(ctx context.Context, id string) (*models.Job, error)
	List(ctx context.Context, f ListJobsFilter) ([]models.Job, error)

	MarkRunning(ctx context.Context, id string) error
	MarkDone(ctx context.Context, id string, out models.JobOutput) error
	MarkFailed(ctx context.Context, id string, code, text string) error
	// Requeue puts a running job back to QUEUED after the renderer refused it.
	Requeue(ctx context.Context, id string) error

	Ping(ctx context.Context) error
}

// JobQueue carries job ids from the API to the intake workers.
type JobQueue interface {
	Push(ctx context.Context, jobID string) error
	Pop(ctx context.Context) (string, error)
	Len(ctx context.Context) (int64, error)
	Ping(ctx context.Context) error
}

// Package storage defines the persistence interface for scheduled restart
// jobs, the only durable state in the bridge. The server registry is
// intentionally volatile and rebuilt from live connections.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrJobNotFound indicates a requested job record is missing.
var ErrJobNotFound = errors.New("restart job not found")

// RestartJob is one durable recurring restart schedule. The id is a
// deterministic function of the server id, so re-scheduling the same server
// updates the existing row.
type RestartJob struct {
	ID            string
	ServerID      string
	CronExpr      string
	NextExecution time.Time
}

// JobStore persists restart jobs across process restarts.
type JobStore interface {
	// UpsertJob inserts the job or replaces the row with the same id.
	UpsertJob(ctx context.Context, job RestartJob) error
	// DeleteJob removes the job. Deleting an absent id returns ErrJobNotFound.
	DeleteJob(ctx context.Context, id string) error
	// GetJob fetches one job by id.
	GetJob(ctx context.Context, id string) (RestartJob, error)
	// ListJobs returns every job whose id starts with idPrefix, ordered by
	// next execution time.
	ListJobs(ctx context.Context, idPrefix string) ([]RestartJob, error)
	// ListDueJobs returns jobs with idPrefix whose next execution is at or
	// before cutoff, ordered by next execution time.
	ListDueJobs(ctx context.Context, idPrefix string, cutoff time.Time) ([]RestartJob, error)
	// SetNextExecution updates one job's next execution time.
	SetNextExecution(ctx context.Context, id string, next time.Time) error
}

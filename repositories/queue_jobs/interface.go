package queue_jobs

import (
	"context"
	"time"

	"recipe_image_bot/entities"
)

// FailureStats summarizes terminal outcomes inside a trailing window.
type FailureStats struct {
	Total  int
	Failed int
}

type Repository interface {
	Create(ctx context.Context, job *entities.QueueJob) (*entities.QueueJob, error)
	GetByID(ctx context.Context, id string) (*entities.QueueJob, error)
	// GetActiveByRecipe returns the queued or processing job for a recipe,
	// or a NotFoundError when the recipe has no active job.
	GetActiveByRecipe(ctx context.Context, recipeID int64) (*entities.QueueJob, error)
	// ClaimNextQueued atomically moves the oldest queued job to processing.
	// Returns nil, nil when the queue is empty.
	ClaimNextQueued(ctx context.Context) (*entities.QueueJob, error)
	MarkCompleted(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, errMsg string) error
	MarkCancelled(ctx context.Context, id string) error
	ListForUser(ctx context.Context, userID, organizationID string, limit int) ([]*entities.QueueJob, error)
	CountByStatus(ctx context.Context, status entities.JobStatus) (int, error)
	// RecomputePositions renumbers queued jobs 1..N in FIFO order and
	// refreshes their estimated completion times.
	RecomputePositions(ctx context.Context, avgJobDuration time.Duration) error
	// RetryFailed moves the given failed jobs back to queued at the tail of
	// the queue, incrementing their retry count. Returns how many changed.
	RetryFailed(ctx context.Context, ids []string, organizationID string) (int, error)
	ClearFailed(ctx context.Context, organizationID string, olderThan time.Duration) (int64, error)
	ClearCompleted(ctx context.Context, organizationID string, olderThan time.Duration) (int64, error)
	// CountStuck counts processing jobs that started more than olderThan ago.
	CountStuck(ctx context.Context, olderThan time.Duration) (int, error)
	FailureStats(ctx context.Context, window time.Duration) (*FailureStats, error)
}

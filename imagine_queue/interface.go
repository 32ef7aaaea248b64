package imagine_queue

import (
	"context"
	"time"

	"recipe_image_bot/entities"
)

type EnqueueRequest struct {
	RecipeID       int64
	UserID         string
	OrganizationID string
	WebsiteID      string
	CustomPrompt   string
	// RendererConfig is snapshotted onto the job; later settings edits do
	// not affect jobs already in the queue.
	RendererConfig entities.RendererConfig
}

// EnqueueResult is returned for every accepted enqueue call, including the
// two non-error rejections: a duplicate active job (Conflict, carrying the
// existing job's position and ETA) and a recipe that already has a completed
// image (AlreadyCompleted, carrying the existing record).
type EnqueueResult struct {
	JobID               string
	Position            int
	EstimatedCompletion time.Time
	QueueLength         int
	Conflict            bool
	AlreadyCompleted    bool
	ExistingRecord      *entities.GenerationRecord
	Message             string
}

type CancelResult struct {
	Success bool
	Message string
}

type StatusSnapshot struct {
	QueueLength int
	UserJobs    []*entities.QueueJob
}

type Queue interface {
	Enqueue(ctx context.Context, req EnqueueRequest) (*EnqueueResult, error)
	Cancel(ctx context.Context, jobID, userID string) (*CancelResult, error)
	Status(ctx context.Context, userID, organizationID string) (*StatusSnapshot, error)
	RetryFailed(ctx context.Context, jobIDs []string, organizationID string) (int, error)
	ClearFailed(ctx context.Context, organizationID string) (int64, error)
	ClearCompleted(ctx context.Context, organizationID string) (int64, error)
	// StartPolling runs the single active worker loop until ctx is
	// cancelled. Cancellation stops new claims; an in-flight render
	// observes it through its own context.
	StartPolling(ctx context.Context)
	// ProcessNext claims and processes one queued job synchronously,
	// returning false when the queue was empty.
	ProcessNext(ctx context.Context) (bool, error)
}

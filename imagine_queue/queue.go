package imagine_queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"recipe_image_bot/clock"
	"recipe_image_bot/entities"
	"recipe_image_bot/image_reconciler"
	"recipe_image_bot/midjourney_api"
	"recipe_image_bot/prompt_filter"
	"recipe_image_bot/repositories"
	"recipe_image_bot/repositories/generation_records"
	"recipe_image_bot/repositories/queue_jobs"
	"recipe_image_bot/repositories/recipes"

	"github.com/google/uuid"
)

const (
	// DefaultAvgJobDuration is the fixed per-job estimate used for ETAs.
	DefaultAvgJobDuration = 90 * time.Second

	defaultPollInterval = time.Second

	// Terminal jobs younger than these are kept for operator review when
	// bulk-clearing the queue.
	clearFailedAge    = 24 * time.Hour
	clearCompletedAge = 7 * 24 * time.Hour
)

// ErrRecipeNotFound rejects enqueue requests for unknown recipes.
var ErrRecipeNotFound = errors.New("recipe not found")

// ErrInvalidRecipeID rejects enqueue requests with a missing recipe ID.
var ErrInvalidRecipeID = errors.New("recipe ID is required")

type queueImpl struct {
	queueRepo      queue_jobs.Repository
	worker         *worker
	avgJobDuration time.Duration
	pollInterval   time.Duration
	clock          clock.Clock
}

type Config struct {
	GenerationRepo  generation_records.Repository
	QueueRepo       queue_jobs.Repository
	RecipeRepo      recipes.Repository
	PromptFilter    prompt_filter.Filter
	RendererFactory midjourney_api.ClientFactory
	Reconciler      image_reconciler.Reconciler
	OutputDir       string
	AvgJobDuration  time.Duration
	PollInterval    time.Duration
	// PreDispatchDelayMin/Max bound the randomized wait before each render.
	// Zero values disable the delay (used by tests).
	PreDispatchDelayMin time.Duration
	PreDispatchDelayMax time.Duration
	Clock               clock.Clock
}

func New(cfg Config) (Queue, error) {
	if cfg.GenerationRepo == nil {
		return nil, errors.New("missing generation record repository")
	}

	if cfg.QueueRepo == nil {
		return nil, errors.New("missing queue job repository")
	}

	if cfg.RecipeRepo == nil {
		return nil, errors.New("missing recipe repository")
	}

	if cfg.PromptFilter == nil {
		return nil, errors.New("missing prompt filter")
	}

	if cfg.RendererFactory == nil {
		return nil, errors.New("missing renderer factory")
	}

	if cfg.Reconciler == nil {
		return nil, errors.New("missing reconciler")
	}

	if cfg.OutputDir == "" {
		return nil, errors.New("missing output directory")
	}

	avgJobDuration := cfg.AvgJobDuration
	if avgJobDuration <= 0 {
		avgJobDuration = DefaultAvgJobDuration
	}

	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	queueClock := cfg.Clock
	if queueClock == nil {
		queueClock = clock.NewClock()
	}

	return &queueImpl{
		queueRepo: cfg.QueueRepo,
		worker: &worker{
			generationRepo:  cfg.GenerationRepo,
			recipeRepo:      cfg.RecipeRepo,
			promptFilter:    cfg.PromptFilter,
			rendererFactory: cfg.RendererFactory,
			reconciler:      cfg.Reconciler,
			outputDir:       cfg.OutputDir,
			delayMin:        cfg.PreDispatchDelayMin,
			delayMax:        cfg.PreDispatchDelayMax,
			newID:           uuid.NewString,
		},
		avgJobDuration: avgJobDuration,
		pollInterval:   pollInterval,
		clock:          queueClock,
	}, nil
}

func (q *queueImpl) Enqueue(ctx context.Context, req EnqueueRequest) (*EnqueueResult, error) {
	if req.RecipeID <= 0 {
		return nil, ErrInvalidRecipeID
	}

	_, err := q.worker.recipeRepo.GetByID(ctx, req.RecipeID)
	if repositories.IsNotFound(err) {
		return nil, ErrRecipeNotFound
	}

	if err != nil {
		return nil, err
	}

	// Idempotent short-circuit: a recipe that already has a completed image
	// gets that record back without a new attempt.
	completed, err := q.worker.generationRepo.GetLatestCompletedForRecipe(ctx, req.RecipeID)
	if err != nil && !repositories.IsNotFound(err) {
		return nil, err
	}

	if completed != nil {
		return &EnqueueResult{
			AlreadyCompleted: true,
			ExistingRecord:   completed,
			Message:          "recipe already has a generated image",
		}, nil
	}

	existing, err := q.queueRepo.GetActiveByRecipe(ctx, req.RecipeID)
	if err != nil && !repositories.IsNotFound(err) {
		return nil, err
	}

	if existing != nil {
		return &EnqueueResult{
			JobID:               existing.ID,
			Position:            existing.Position,
			EstimatedCompletion: existing.EstimatedCompletion,
			Conflict:            true,
			Message:             "this recipe already has a pending image generation",
		}, nil
	}

	queuedCount, err := q.queueRepo.CountByStatus(ctx, entities.JobStatusQueued)
	if err != nil {
		return nil, err
	}

	processingCount, err := q.queueRepo.CountByStatus(ctx, entities.JobStatusProcessing)
	if err != nil {
		return nil, err
	}

	// Position counts every non-terminal job ahead of this one, including
	// an in-flight render.
	position := queuedCount + processingCount + 1

	job := &entities.QueueJob{
		ID:                  uuid.NewString(),
		RecipeID:            req.RecipeID,
		UserID:              req.UserID,
		OrganizationID:      req.OrganizationID,
		WebsiteID:           req.WebsiteID,
		CustomPrompt:        req.CustomPrompt,
		RendererConfig:      req.RendererConfig,
		Status:              entities.JobStatusQueued,
		Position:            position,
		EstimatedCompletion: q.clock.Now().UTC().Add(time.Duration(position) * q.avgJobDuration),
	}

	_, err = q.queueRepo.Create(ctx, job)
	if err != nil {
		return nil, err
	}

	log.Printf("Enqueued image generation job %s for recipe %d at position %d\n", job.ID, job.RecipeID, position)

	return &EnqueueResult{
		JobID:               job.ID,
		Position:            job.Position,
		EstimatedCompletion: job.EstimatedCompletion,
		QueueLength:         queuedCount + 1,
		Message:             "recipe added to image generation queue",
	}, nil
}

func (q *queueImpl) Cancel(ctx context.Context, jobID, userID string) (*CancelResult, error) {
	job, err := q.queueRepo.GetByID(ctx, jobID)
	if repositories.IsNotFound(err) {
		return &CancelResult{Success: false, Message: "job not found"}, nil
	}

	if err != nil {
		return nil, err
	}

	if job.UserID != userID {
		return &CancelResult{Success: false, Message: "you can only cancel your own jobs"}, nil
	}

	switch job.Status {
	case entities.JobStatusQueued:
		// fall through to cancellation
	case entities.JobStatusProcessing:
		// The external channel has no cancel primitive, so an in-flight
		// render can only run to completion.
		return &CancelResult{Success: false, Message: "job is already being processed and cannot be cancelled"}, nil
	default:
		return &CancelResult{Success: false, Message: fmt.Sprintf("job is already %s", job.Status)}, nil
	}

	err = q.queueRepo.MarkCancelled(ctx, jobID)
	if repositories.IsNotFound(err) {
		// Lost the race with the worker claiming the job.
		return &CancelResult{Success: false, Message: "job is already being processed and cannot be cancelled"}, nil
	}

	if err != nil {
		return nil, err
	}

	err = q.queueRepo.RecomputePositions(ctx, q.avgJobDuration)
	if err != nil {
		return nil, err
	}

	log.Printf("Cancelled queued job %s\n", jobID)

	return &CancelResult{Success: true, Message: "job cancelled"}, nil
}

func (q *queueImpl) Status(ctx context.Context, userID, organizationID string) (*StatusSnapshot, error) {
	queueLength, err := q.queueRepo.CountByStatus(ctx, entities.JobStatusQueued)
	if err != nil {
		return nil, err
	}

	userJobs, err := q.queueRepo.ListForUser(ctx, userID, organizationID, 0)
	if err != nil {
		return nil, err
	}

	return &StatusSnapshot{
		QueueLength: queueLength,
		UserJobs:    userJobs,
	}, nil
}

func (q *queueImpl) RetryFailed(ctx context.Context, jobIDs []string, organizationID string) (int, error) {
	retried, err := q.queueRepo.RetryFailed(ctx, jobIDs, organizationID)
	if err != nil {
		return 0, err
	}

	if retried > 0 {
		err = q.queueRepo.RecomputePositions(ctx, q.avgJobDuration)
		if err != nil {
			return retried, err
		}
	}

	return retried, nil
}

func (q *queueImpl) ClearFailed(ctx context.Context, organizationID string) (int64, error) {
	return q.queueRepo.ClearFailed(ctx, organizationID, clearFailedAge)
}

func (q *queueImpl) ClearCompleted(ctx context.Context, organizationID string) (int64, error) {
	return q.queueRepo.ClearCompleted(ctx, organizationID, clearCompletedAge)
}

func (q *queueImpl) StartPolling(ctx context.Context) {
	log.Println("Image queue polling started")

	for {
		if ctx.Err() != nil {
			break
		}

		processed, err := q.ProcessNext(ctx)
		if err != nil {
			log.Printf("Error processing queue job: %v", err)
		}

		if processed {
			continue
		}

		select {
		case <-ctx.Done():
		case <-time.After(q.pollInterval):
		}

		if ctx.Err() != nil {
			break
		}
	}

	log.Println("Image queue polling stopped")
}

// ProcessNext claims the oldest queued job and runs it to a terminal state.
// Only the polling loop calls this in production, which is what keeps a
// single render in flight at a time.
func (q *queueImpl) ProcessNext(ctx context.Context) (bool, error) {
	job, err := q.queueRepo.ClaimNextQueued(ctx)
	if err != nil {
		return false, err
	}

	if job == nil {
		return false, nil
	}

	err = q.queueRepo.RecomputePositions(ctx, q.avgJobDuration)
	if err != nil {
		log.Printf("Error recomputing queue positions: %v", err)
	}

	log.Printf("Processing job %s for recipe %d\n", job.ID, job.RecipeID)

	outcome := q.worker.generateForJob(ctx, job)

	if outcome.Success {
		err = q.queueRepo.MarkCompleted(ctx, job.ID)
		if err != nil {
			return true, fmt.Errorf("marking job %s completed: %w", job.ID, err)
		}

		log.Printf("Job %s completed, image: %s\n", job.ID, outcome.ImagePath)

		return true, nil
	}

	err = q.queueRepo.MarkFailed(ctx, job.ID, outcome.ErrorMessage)
	if err != nil {
		return true, fmt.Errorf("marking job %s failed: %w", job.ID, err)
	}

	log.Printf("Job %s failed: %s\n", job.ID, outcome.ErrorMessage)

	return true, nil
}

package imagine_queue

import (
	"context"
	"database/sql"
	"testing"

	"recipe_image_bot/databases/sqlite"
	"recipe_image_bot/entities"
	"recipe_image_bot/image_reconciler"
	"recipe_image_bot/midjourney_api"
	"recipe_image_bot/prompt_filter"
	"recipe_image_bot/repositories/generation_records"
	"recipe_image_bot/repositories/queue_jobs"
	"recipe_image_bot/repositories/recipes"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClient struct {
	result  *midjourney_api.ImageResult
	err     error
	calls   int
	prompts []string
	// onCreate runs at the start of each CreateImage call, letting tests
	// mutate storage while a render is in flight.
	onCreate func()
}

func (c *fakeClient) Initialize() error {
	return nil
}

func (c *fakeClient) CreateImage(_ context.Context, prompt string, _ string, _ *int) (*midjourney_api.ImageResult, error) {
	c.calls++
	c.prompts = append(c.prompts, prompt)

	if c.onCreate != nil {
		c.onCreate()
	}

	if c.err != nil {
		return nil, c.err
	}

	return c.result, nil
}

func (c *fakeClient) Close() error {
	return nil
}

type fakeFactory struct {
	client     *fakeClient
	resets     int
	resetPanic bool
}

func (f *fakeFactory) GetInstance(_ entities.RendererConfig) (midjourney_api.Client, error) {
	return f.client, nil
}

func (f *fakeFactory) ResetInstance() {
	f.resets++

	if f.resetPanic {
		panic("renderer session state corrupted")
	}
}

type testEnv struct {
	db        *sql.DB
	queue     Queue
	genRepo   generation_records.Repository
	jobRepo   queue_jobs.Repository
	client    *fakeClient
	factory   *fakeFactory
	outputDir string
}

func newTestEnv(t *testing.T, client *fakeClient) *testEnv {
	t.Helper()

	ctx := context.Background()

	db, err := sqlite.New(ctx, sqlite.InMemoryDSN)
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })

	genRepo, err := generation_records.NewRepository(&generation_records.Config{DB: db})
	require.NoError(t, err)

	jobRepo, err := queue_jobs.NewRepository(&queue_jobs.Config{DB: db})
	require.NoError(t, err)

	recipeRepo, err := recipes.NewRepository(&recipes.Config{DB: db})
	require.NoError(t, err)

	filter, err := prompt_filter.New(prompt_filter.Config{})
	require.NoError(t, err)

	outputDir := t.TempDir()

	reconciler, err := image_reconciler.New(image_reconciler.Config{})
	require.NoError(t, err)

	factory := &fakeFactory{client: client}

	queue, err := New(Config{
		GenerationRepo:  genRepo,
		QueueRepo:       jobRepo,
		RecipeRepo:      recipeRepo,
		PromptFilter:    filter,
		RendererFactory: factory,
		Reconciler:      reconciler,
		OutputDir:       outputDir,
	})
	require.NoError(t, err)

	return &testEnv{
		db:        db,
		queue:     queue,
		genRepo:   genRepo,
		jobRepo:   jobRepo,
		client:    client,
		factory:   factory,
		outputDir: outputDir,
	}
}

func (env *testEnv) seedRecipe(t *testing.T, id int64, idea string) {
	t.Helper()

	_, err := env.db.Exec(
		`INSERT INTO recipes (id, recipe_idea, ingredients, organization_id, owner_id) VALUES (?, ?, '', 'org-1', 'user-1')`,
		id, idea)
	require.NoError(t, err)
}

func enqueueRequest(recipeID int64) EnqueueRequest {
	return EnqueueRequest{
		RecipeID:       recipeID,
		UserID:         "user-1",
		OrganizationID: "org-1",
		RendererConfig: entities.RendererConfig{UserToken: "tok", ChannelID: "chan"},
	}
}

func TestEnqueueAssignsFIFOPositions(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, &fakeClient{})

	env.seedRecipe(t, 1, "Lemon Tart")
	env.seedRecipe(t, 2, "Beef Stew")
	env.seedRecipe(t, 3, "Pad Thai")

	for i, recipeID := range []int64{1, 2, 3} {
		result, err := env.queue.Enqueue(ctx, enqueueRequest(recipeID))
		require.NoError(t, err)
		assert.Equal(t, i+1, result.Position)
		assert.Equal(t, i+1, result.QueueLength)
		assert.NotEmpty(t, result.JobID)
		assert.False(t, result.Conflict)
		assert.False(t, result.EstimatedCompletion.IsZero())
	}
}

func TestEnqueueBehindProcessingJob(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, &fakeClient{})

	env.seedRecipe(t, 1, "Lemon Tart")
	env.seedRecipe(t, 2, "Beef Stew")

	_, err := env.queue.Enqueue(ctx, enqueueRequest(1))
	require.NoError(t, err)

	claimed, err := env.jobRepo.ClaimNextQueued(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	// The in-flight render still counts toward the wait.
	result, err := env.queue.Enqueue(ctx, enqueueRequest(2))
	require.NoError(t, err)
	assert.Equal(t, 2, result.Position)
	assert.Equal(t, 1, result.QueueLength)
}

func TestEnqueueValidation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, &fakeClient{})

	_, err := env.queue.Enqueue(ctx, enqueueRequest(0))
	assert.ErrorIs(t, err, ErrInvalidRecipeID)

	_, err = env.queue.Enqueue(ctx, enqueueRequest(999))
	assert.ErrorIs(t, err, ErrRecipeNotFound)
}

func TestEnqueueDuplicateActiveJob(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, &fakeClient{})

	env.seedRecipe(t, 1, "Lemon Tart")

	first, err := env.queue.Enqueue(ctx, enqueueRequest(1))
	require.NoError(t, err)

	second, err := env.queue.Enqueue(ctx, enqueueRequest(1))
	require.NoError(t, err)
	assert.True(t, second.Conflict)
	assert.Equal(t, first.JobID, second.JobID)

	count, err := env.jobRepo.CountByStatus(ctx, entities.JobStatusQueued)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestEnqueueAlreadyCompletedRecipe(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, &fakeClient{})

	env.seedRecipe(t, 1, "Lemon Tart")

	_, err := env.genRepo.Create(ctx, &entities.GenerationRecord{
		ID:        "rec-1",
		RecipeID:  1,
		Prompt:    "p",
		Status:    entities.GenerationStatusCompleted,
		ImagePath: "grid_1.png",
	})
	require.NoError(t, err)

	result, err := env.queue.Enqueue(ctx, enqueueRequest(1))
	require.NoError(t, err)
	assert.True(t, result.AlreadyCompleted)
	require.NotNil(t, result.ExistingRecord)
	assert.Equal(t, "grid_1.png", result.ExistingRecord.ImagePath)
	assert.Empty(t, result.JobID)
}

func TestCancelRenumbersQueue(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, &fakeClient{})

	env.seedRecipe(t, 1, "Lemon Tart")
	env.seedRecipe(t, 2, "Beef Stew")
	env.seedRecipe(t, 3, "Pad Thai")

	first, err := env.queue.Enqueue(ctx, enqueueRequest(1))
	require.NoError(t, err)

	second, err := env.queue.Enqueue(ctx, enqueueRequest(2))
	require.NoError(t, err)

	third, err := env.queue.Enqueue(ctx, enqueueRequest(3))
	require.NoError(t, err)

	result, err := env.queue.Cancel(ctx, first.JobID, "user-1")
	require.NoError(t, err)
	assert.True(t, result.Success)

	got, err := env.jobRepo.GetByID(ctx, second.JobID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Position)

	got, err = env.jobRepo.GetByID(ctx, third.JobID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.Position)
}

func TestCancelRejectsOtherUsersJob(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, &fakeClient{})

	env.seedRecipe(t, 1, "Lemon Tart")

	enqueued, err := env.queue.Enqueue(ctx, enqueueRequest(1))
	require.NoError(t, err)

	result, err := env.queue.Cancel(ctx, enqueued.JobID, "someone-else")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "your own jobs")
}

func TestCancelRejectsProcessingJob(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, &fakeClient{})

	env.seedRecipe(t, 1, "Lemon Tart")

	enqueued, err := env.queue.Enqueue(ctx, enqueueRequest(1))
	require.NoError(t, err)

	claimed, err := env.jobRepo.ClaimNextQueued(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	result, err := env.queue.Cancel(ctx, enqueued.JobID, "user-1")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Contains(t, result.Message, "already being processed")
}

func TestCancelMissingJob(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, &fakeClient{})

	result, err := env.queue.Cancel(ctx, "missing", "user-1")
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "job not found", result.Message)
}

func TestStatus(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, &fakeClient{})

	env.seedRecipe(t, 1, "Lemon Tart")
	env.seedRecipe(t, 2, "Beef Stew")

	_, err := env.queue.Enqueue(ctx, enqueueRequest(1))
	require.NoError(t, err)

	_, err = env.queue.Enqueue(ctx, enqueueRequest(2))
	require.NoError(t, err)

	snapshot, err := env.queue.Status(ctx, "user-1", "org-1")
	require.NoError(t, err)
	assert.Equal(t, 2, snapshot.QueueLength)
	assert.Len(t, snapshot.UserJobs, 2)

	snapshot, err = env.queue.Status(ctx, "someone-else", "org-1")
	require.NoError(t, err)
	assert.Equal(t, 2, snapshot.QueueLength)
	assert.Empty(t, snapshot.UserJobs)
}

func TestRetryFailedRequeuesJob(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t, &fakeClient{err: assert.AnError})

	env.seedRecipe(t, 1, "Lemon Tart")

	enqueued, err := env.queue.Enqueue(ctx, enqueueRequest(1))
	require.NoError(t, err)

	processed, err := env.queue.ProcessNext(ctx)
	require.NoError(t, err)
	require.True(t, processed)

	got, err := env.jobRepo.GetByID(ctx, enqueued.JobID)
	require.NoError(t, err)
	require.Equal(t, entities.JobStatusFailed, got.Status)

	retried, err := env.queue.RetryFailed(ctx, []string{enqueued.JobID}, "org-1")
	require.NoError(t, err)
	assert.Equal(t, 1, retried)

	got, err = env.jobRepo.GetByID(ctx, enqueued.JobID)
	require.NoError(t, err)
	assert.Equal(t, entities.JobStatusQueued, got.Status)
	assert.Equal(t, 1, got.Position)
	assert.Equal(t, 1, got.RetryCount)
}

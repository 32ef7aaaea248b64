package health_monitor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"recipe_image_bot/databases/sqlite"
	"recipe_image_bot/entities"
	"recipe_image_bot/repositories/queue_jobs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.now = c.now.Add(d)
}

func newTestMonitor(t *testing.T) (Monitor, queue_jobs.Repository, *fakeClock) {
	t.Helper()

	ctx := context.Background()

	db, err := sqlite.New(ctx, sqlite.InMemoryDSN)
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })

	testClock := &fakeClock{now: time.Date(2026, 9, 1, 10, 0, 0, 123456789, time.UTC)}

	repo, err := queue_jobs.NewRepository(&queue_jobs.Config{DB: db, Clock: testClock})
	require.NoError(t, err)

	monitor, err := New(Config{QueueRepo: repo})
	require.NoError(t, err)

	return monitor, repo, testClock
}

func seedJob(t *testing.T, repo queue_jobs.Repository, testClock *fakeClock, id string, recipeID int64) {
	t.Helper()

	_, err := repo.Create(context.Background(), &entities.QueueJob{
		ID:             id,
		RecipeID:       recipeID,
		UserID:         "user-1",
		OrganizationID: "org-1",
	})
	require.NoError(t, err)

	testClock.advance(time.Second)
}

func TestCheckHealthyQueue(t *testing.T) {
	ctx := context.Background()
	monitor, repo, testClock := newTestMonitor(t)

	seedJob(t, repo, testClock, "job-1", 1)

	report, err := monitor.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusHealthy, report.Status)
	assert.Empty(t, report.Issues)
	assert.Equal(t, 1, report.Metrics.QueueSize)
	assert.Equal(t, 0, report.Metrics.StuckJobs)
	assert.Zero(t, report.Metrics.RecentFailureRate)
}

func TestCheckStuckJobWarning(t *testing.T) {
	ctx := context.Background()
	monitor, repo, testClock := newTestMonitor(t)

	seedJob(t, repo, testClock, "job-1", 1)

	claimed, err := repo.ClaimNextQueued(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	testClock.advance(11 * time.Minute)

	report, err := monitor.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusWarning, report.Status)
	assert.Equal(t, 1, report.Metrics.StuckJobs)
	require.Len(t, report.Issues, 1)
	assert.Contains(t, report.Issues[0], "processing for more than")
}

func TestCheckDeepQueueWarning(t *testing.T) {
	ctx := context.Background()
	monitor, repo, testClock := newTestMonitor(t)

	for i := 1; i <= 21; i++ {
		seedJob(t, repo, testClock, fmt.Sprintf("job-%d", i), int64(i))
	}

	report, err := monitor.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusWarning, report.Status)
	assert.Equal(t, 21, report.Metrics.QueueSize)
	require.Len(t, report.Issues, 1)
	assert.Contains(t, report.Issues[0], "queue depth")
}

func TestCheckFailureRateCritical(t *testing.T) {
	ctx := context.Background()
	monitor, repo, testClock := newTestMonitor(t)

	seedJob(t, repo, testClock, "job-1", 1)
	seedJob(t, repo, testClock, "job-2", 2)
	seedJob(t, repo, testClock, "job-3", 3)

	require.NoError(t, repo.MarkFailed(ctx, "job-1", "boom"))
	require.NoError(t, repo.MarkFailed(ctx, "job-2", "boom"))
	require.NoError(t, repo.MarkCompleted(ctx, "job-3"))

	report, err := monitor.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusCritical, report.Status)
	assert.InDelta(t, 2.0/3.0, report.Metrics.RecentFailureRate, 0.001)
}

func TestCheckFailureRateAtThresholdIsNotCritical(t *testing.T) {
	ctx := context.Background()
	monitor, repo, testClock := newTestMonitor(t)

	seedJob(t, repo, testClock, "job-1", 1)
	seedJob(t, repo, testClock, "job-2", 2)

	require.NoError(t, repo.MarkFailed(ctx, "job-1", "boom"))
	require.NoError(t, repo.MarkCompleted(ctx, "job-2"))

	report, err := monitor.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusHealthy, report.Status)
}

func TestCheckCriticalOutranksWarning(t *testing.T) {
	ctx := context.Background()
	monitor, repo, testClock := newTestMonitor(t)

	seedJob(t, repo, testClock, "stuck", 1)

	claimed, err := repo.ClaimNextQueued(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)

	seedJob(t, repo, testClock, "failed", 2)
	require.NoError(t, repo.MarkFailed(ctx, "failed", "boom"))

	testClock.advance(11 * time.Minute)

	report, err := monitor.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, StatusCritical, report.Status)
	assert.Len(t, report.Issues, 2)
}

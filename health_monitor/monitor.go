package health_monitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"recipe_image_bot/entities"
	"recipe_image_bot/repositories/queue_jobs"
)

const (
	// DefaultStuckAfter marks a processing job as stuck once it has run
	// longer than any plausible render.
	DefaultStuckAfter = 10 * time.Minute

	// DefaultQueueWarningDepth is the queue length past which wait times
	// become unreasonable at the fixed per-job estimate.
	DefaultQueueWarningDepth = 20

	// DefaultFailureRateCritical is the terminal-failure ratio over the
	// trailing window that indicates a systemic renderer problem.
	DefaultFailureRateCritical = 0.5

	DefaultFailureWindow = time.Hour
)

type monitorImpl struct {
	queueRepo           queue_jobs.Repository
	stuckAfter          time.Duration
	queueWarningDepth   int
	failureRateCritical float64
	failureWindow       time.Duration
}

type Config struct {
	QueueRepo           queue_jobs.Repository
	StuckAfter          time.Duration
	QueueWarningDepth   int
	FailureRateCritical float64
	FailureWindow       time.Duration
}

func New(cfg Config) (Monitor, error) {
	if cfg.QueueRepo == nil {
		return nil, errors.New("missing queue job repository")
	}

	stuckAfter := cfg.StuckAfter
	if stuckAfter <= 0 {
		stuckAfter = DefaultStuckAfter
	}

	queueWarningDepth := cfg.QueueWarningDepth
	if queueWarningDepth <= 0 {
		queueWarningDepth = DefaultQueueWarningDepth
	}

	failureRateCritical := cfg.FailureRateCritical
	if failureRateCritical <= 0 {
		failureRateCritical = DefaultFailureRateCritical
	}

	failureWindow := cfg.FailureWindow
	if failureWindow <= 0 {
		failureWindow = DefaultFailureWindow
	}

	return &monitorImpl{
		queueRepo:           cfg.QueueRepo,
		stuckAfter:          stuckAfter,
		queueWarningDepth:   queueWarningDepth,
		failureRateCritical: failureRateCritical,
		failureWindow:       failureWindow,
	}, nil
}

func (m *monitorImpl) Check(ctx context.Context) (*Report, error) {
	report := &Report{
		Status: StatusHealthy,
		Issues: []string{},
	}

	stuck, err := m.queueRepo.CountStuck(ctx, m.stuckAfter)
	if err != nil {
		return nil, fmt.Errorf("counting stuck jobs: %w", err)
	}

	report.Metrics.StuckJobs = stuck

	if stuck > 0 {
		report.raise(StatusWarning,
			fmt.Sprintf("%d job(s) have been processing for more than %s", stuck, m.stuckAfter))
	}

	queueSize, err := m.queueRepo.CountByStatus(ctx, entities.JobStatusQueued)
	if err != nil {
		return nil, fmt.Errorf("counting queued jobs: %w", err)
	}

	report.Metrics.QueueSize = queueSize

	if queueSize > m.queueWarningDepth {
		report.raise(StatusWarning,
			fmt.Sprintf("queue depth %d exceeds %d, expect long wait times", queueSize, m.queueWarningDepth))
	}

	stats, err := m.queueRepo.FailureStats(ctx, m.failureWindow)
	if err != nil {
		return nil, fmt.Errorf("reading failure stats: %w", err)
	}

	if stats.Total > 0 {
		report.Metrics.RecentFailureRate = float64(stats.Failed) / float64(stats.Total)
	}

	if stats.Total > 0 && report.Metrics.RecentFailureRate > m.failureRateCritical {
		report.raise(StatusCritical,
			fmt.Sprintf("%d of %d jobs failed in the last %s", stats.Failed, stats.Total, m.failureWindow))
	}

	return report, nil
}

// raise records an issue and escalates the overall status, never downgrading.
func (r *Report) raise(status HealthStatus, issue string) {
	r.Issues = append(r.Issues, issue)

	if r.Status == StatusCritical {
		return
	}

	if status == StatusCritical || r.Status == StatusHealthy {
		r.Status = status
	}
}

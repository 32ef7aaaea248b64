package queue_jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"recipe_image_bot/clock"
	"recipe_image_bot/entities"
	"recipe_image_bot/repositories"
)

const insertJobQuery string = `
INSERT INTO image_queue (id, recipe_id, user_id, organization_id, website_id, custom_prompt, renderer_config, status, position, estimated_completion, retry_count, error_message, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`

const selectJobColumns string = `id, recipe_id, user_id, organization_id, website_id, custom_prompt, renderer_config, status, position, estimated_completion, retry_count, error_message, created_at, started_at, completed_at`

type sqliteRepo struct {
	dbConn *sql.DB
	clock  clock.Clock
}

type Config struct {
	DB    *sql.DB
	Clock clock.Clock
}

func NewRepository(cfg *Config) (Repository, error) {
	if cfg.DB == nil {
		return nil, errors.New("missing DB parameter")
	}

	repoClock := cfg.Clock
	if repoClock == nil {
		repoClock = clock.NewClock()
	}

	return &sqliteRepo{
		dbConn: cfg.DB,
		clock:  repoClock,
	}, nil
}

func (repo *sqliteRepo) Create(ctx context.Context, job *entities.QueueJob) (*entities.QueueJob, error) {
	if job.ID == "" {
		return nil, errors.New("missing job ID")
	}

	configJSON, err := json.Marshal(job.RendererConfig)
	if err != nil {
		return nil, err
	}

	now := repo.clock.Now().UTC()
	job.CreatedAt = now

	if job.Status == "" {
		job.Status = entities.JobStatusQueued
	}

	_, err = repo.dbConn.ExecContext(ctx, insertJobQuery,
		job.ID, job.RecipeID, job.UserID, job.OrganizationID, job.WebsiteID,
		job.CustomPrompt, string(configJSON), string(job.Status), job.Position,
		formatTime(job.EstimatedCompletion), job.RetryCount, job.ErrorMessage,
		now.Format(repositories.TimeFormat))
	if err != nil {
		return nil, err
	}

	return job, nil
}

func (repo *sqliteRepo) GetByID(ctx context.Context, id string) (*entities.QueueJob, error) {
	row := repo.dbConn.QueryRowContext(ctx,
		`SELECT `+selectJobColumns+` FROM image_queue WHERE id = ?`, id)

	return scanJob(row)
}

func (repo *sqliteRepo) GetActiveByRecipe(ctx context.Context, recipeID int64) (*entities.QueueJob, error) {
	row := repo.dbConn.QueryRowContext(ctx,
		`SELECT `+selectJobColumns+` FROM image_queue
		 WHERE recipe_id = ? AND status IN (?, ?)
		 ORDER BY created_at ASC LIMIT 1`,
		recipeID, string(entities.JobStatusQueued), string(entities.JobStatusProcessing))

	return scanJob(row)
}

func (repo *sqliteRepo) ClaimNextQueued(ctx context.Context) (*entities.QueueJob, error) {
	tx, err := repo.dbConn.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}

	//nolint
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT `+selectJobColumns+` FROM image_queue
		 WHERE status = ?
		 ORDER BY created_at ASC LIMIT 1`, string(entities.JobStatusQueued))

	job, err := scanJob(row)
	if repositories.IsNotFound(err) {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	now := repo.clock.Now().UTC()

	res, err := tx.ExecContext(ctx,
		`UPDATE image_queue SET status = ?, started_at = ? WHERE id = ? AND status = ?`,
		string(entities.JobStatusProcessing), now.Format(repositories.TimeFormat),
		job.ID, string(entities.JobStatusQueued))
	if err != nil {
		return nil, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}

	if affected != 1 {
		return nil, nil
	}

	err = tx.Commit()
	if err != nil {
		return nil, err
	}

	job.Status = entities.JobStatusProcessing
	job.StartedAt = &now

	return job, nil
}

func (repo *sqliteRepo) MarkCompleted(ctx context.Context, id string) error {
	return repo.finishJob(ctx, id, entities.JobStatusCompleted, "")
}

func (repo *sqliteRepo) MarkFailed(ctx context.Context, id string, errMsg string) error {
	return repo.finishJob(ctx, id, entities.JobStatusFailed, errMsg)
}

func (repo *sqliteRepo) finishJob(ctx context.Context, id string, status entities.JobStatus, errMsg string) error {
	now := repo.clock.Now().UTC().Format(repositories.TimeFormat)

	res, err := repo.dbConn.ExecContext(ctx,
		`UPDATE image_queue SET status = ?, error_message = ?, completed_at = ? WHERE id = ?`,
		string(status), errMsg, now, id)
	if err != nil {
		return err
	}

	return requireAffected(res)
}

func (repo *sqliteRepo) MarkCancelled(ctx context.Context, id string) error {
	res, err := repo.dbConn.ExecContext(ctx,
		`UPDATE image_queue SET status = ? WHERE id = ? AND status = ?`,
		string(entities.JobStatusCancelled), id, string(entities.JobStatusQueued))
	if err != nil {
		return err
	}

	return requireAffected(res)
}

func (repo *sqliteRepo) ListForUser(ctx context.Context, userID, organizationID string, limit int) ([]*entities.QueueJob, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := repo.dbConn.QueryContext(ctx,
		`SELECT `+selectJobColumns+` FROM image_queue
		 WHERE user_id = ? AND organization_id = ?
		 ORDER BY created_at DESC LIMIT ?`, userID, organizationID, limit)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	return scanJobs(rows)
}

func (repo *sqliteRepo) CountByStatus(ctx context.Context, status entities.JobStatus) (int, error) {
	var count int

	err := repo.dbConn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM image_queue WHERE status = ?`, string(status)).Scan(&count)
	if err != nil {
		return 0, err
	}

	return count, nil
}

func (repo *sqliteRepo) RecomputePositions(ctx context.Context, avgJobDuration time.Duration) error {
	tx, err := repo.dbConn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	//nolint
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM image_queue WHERE status = ? ORDER BY created_at ASC`,
		string(entities.JobStatusQueued))
	if err != nil {
		return err
	}

	var ids []string

	for rows.Next() {
		var id string

		err = rows.Scan(&id)
		if err != nil {
			rows.Close()

			return err
		}

		ids = append(ids, id)
	}

	err = rows.Err()

	rows.Close()

	if err != nil {
		return err
	}

	// Queued jobs wait behind any in-flight render, so the in-flight job
	// occupies the head positions.
	var processingCount int

	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM image_queue WHERE status = ?`,
		string(entities.JobStatusProcessing)).Scan(&processingCount)
	if err != nil {
		return err
	}

	now := repo.clock.Now().UTC()

	for idx, id := range ids {
		position := processingCount + idx + 1
		eta := now.Add(time.Duration(position) * avgJobDuration)

		_, err = tx.ExecContext(ctx,
			`UPDATE image_queue SET position = ?, estimated_completion = ? WHERE id = ?`,
			position, eta.Format(repositories.TimeFormat), id)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (repo *sqliteRepo) RetryFailed(ctx context.Context, ids []string, organizationID string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	placeholders := strings.Repeat(",?", len(ids)-1)

	args := make([]interface{}, 0, len(ids)+3)
	// Re-stamping created_at places retried jobs at the tail of the FIFO
	// order used by RecomputePositions and ClaimNextQueued.
	args = append(args, string(entities.JobStatusQueued), repo.clock.Now().UTC().Format(repositories.TimeFormat))

	for _, id := range ids {
		args = append(args, id)
	}

	args = append(args, organizationID)

	res, err := repo.dbConn.ExecContext(ctx,
		`UPDATE image_queue
		 SET status = ?, error_message = '', retry_count = retry_count + 1, created_at = ?, started_at = NULL, completed_at = NULL
		 WHERE id IN (?`+placeholders+`) AND status = 'failed' AND organization_id = ?`, args...)
	if err != nil {
		return 0, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}

	return int(affected), nil
}

func (repo *sqliteRepo) ClearFailed(ctx context.Context, organizationID string, olderThan time.Duration) (int64, error) {
	return repo.clearByStatus(ctx, entities.JobStatusFailed, organizationID, olderThan)
}

func (repo *sqliteRepo) ClearCompleted(ctx context.Context, organizationID string, olderThan time.Duration) (int64, error) {
	return repo.clearByStatus(ctx, entities.JobStatusCompleted, organizationID, olderThan)
}

func (repo *sqliteRepo) clearByStatus(ctx context.Context, status entities.JobStatus, organizationID string, olderThan time.Duration) (int64, error) {
	cutoff := repo.clock.Now().UTC().Add(-olderThan).Format(repositories.TimeFormat)

	res, err := repo.dbConn.ExecContext(ctx,
		`DELETE FROM image_queue WHERE status = ? AND organization_id = ? AND created_at < ?`,
		string(status), organizationID, cutoff)
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}

func (repo *sqliteRepo) CountStuck(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := repo.clock.Now().UTC().Add(-olderThan).Format(repositories.TimeFormat)

	var count int

	err := repo.dbConn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM image_queue
		 WHERE status = ? AND started_at IS NOT NULL AND started_at < ?`,
		string(entities.JobStatusProcessing), cutoff).Scan(&count)
	if err != nil {
		return 0, err
	}

	return count, nil
}

func (repo *sqliteRepo) FailureStats(ctx context.Context, window time.Duration) (*FailureStats, error) {
	cutoff := repo.clock.Now().UTC().Add(-window).Format(repositories.TimeFormat)

	stats := &FailureStats{}

	err := repo.dbConn.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(CASE WHEN status = 'failed' THEN 1 END)
		 FROM image_queue
		 WHERE status IN ('failed', 'completed') AND created_at > ?`, cutoff).
		Scan(&stats.Total, &stats.Failed)
	if err != nil {
		return nil, err
	}

	return stats, nil
}

func requireAffected(res sql.Result) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return repositories.NewNotFoundError("queue job")
	}

	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}

	return t.UTC().Format(repositories.TimeFormat)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row rowScanner) (*entities.QueueJob, error) {
	job := &entities.QueueJob{}

	var status, configJSON, estimatedCompletion, createdAt string
	var startedAt, completedAt sql.NullString

	err := row.Scan(&job.ID, &job.RecipeID, &job.UserID, &job.OrganizationID,
		&job.WebsiteID, &job.CustomPrompt, &configJSON, &status, &job.Position,
		&estimatedCompletion, &job.RetryCount, &job.ErrorMessage, &createdAt,
		&startedAt, &completedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repositories.NewNotFoundError("queue job")
	}

	if err != nil {
		return nil, err
	}

	job.Status = entities.JobStatus(status)

	err = json.Unmarshal([]byte(configJSON), &job.RendererConfig)
	if err != nil {
		return nil, fmt.Errorf("decoding renderer config for job %s: %w", job.ID, err)
	}

	if estimatedCompletion != "" {
		job.EstimatedCompletion, err = time.Parse(time.RFC3339Nano, estimatedCompletion)
		if err != nil {
			return nil, err
		}
	}

	job.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, err
	}

	if startedAt.Valid && startedAt.String != "" {
		t, parseErr := time.Parse(time.RFC3339Nano, startedAt.String)
		if parseErr != nil {
			return nil, parseErr
		}

		job.StartedAt = &t
	}

	if completedAt.Valid && completedAt.String != "" {
		t, parseErr := time.Parse(time.RFC3339Nano, completedAt.String)
		if parseErr != nil {
			return nil, parseErr
		}

		job.CompletedAt = &t
	}

	return job, nil
}

func scanJobs(rows *sql.Rows) ([]*entities.QueueJob, error) {
	var jobs []*entities.QueueJob

	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}

		jobs = append(jobs, job)
	}

	return jobs, rows.Err()
}

package generation_records

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"recipe_image_bot/clock"
	"recipe_image_bot/entities"
	"recipe_image_bot/repositories"
)

const insertRecordQuery string = `
INSERT INTO recipe_images (id, recipe_id, prompt, image_path, status, error, discord_message_id, filter_changes, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`

const selectRecordColumns string = `id, recipe_id, prompt, image_path, status, error, discord_message_id, filter_changes, created_at, updated_at`

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

func (repo *sqliteRepo) Create(ctx context.Context, record *entities.GenerationRecord) (*entities.GenerationRecord, error) {
	if record.ID == "" {
		return nil, errors.New("missing record ID")
	}

	now := repo.clock.Now().UTC()
	record.CreatedAt = now
	record.UpdatedAt = now

	if record.Status == "" {
		record.Status = entities.GenerationStatusPending
	}

	_, err := repo.dbConn.ExecContext(ctx, insertRecordQuery,
		record.ID, record.RecipeID, record.Prompt, record.ImagePath,
		string(record.Status), record.Error, record.DiscordMessageID, record.FilterChanges,
		now.Format(repositories.TimeFormat), now.Format(repositories.TimeFormat))
	if err != nil {
		return nil, err
	}

	return record, nil
}

func (repo *sqliteRepo) GetByID(ctx context.Context, id string) (*entities.GenerationRecord, error) {
	row := repo.dbConn.QueryRowContext(ctx,
		`SELECT `+selectRecordColumns+` FROM recipe_images WHERE id = ?`, id)

	return scanRecord(row)
}

func (repo *sqliteRepo) Update(ctx context.Context, id string, fields UpdateFields) error {
	setClauses := []string{"status = ?", "updated_at = ?"}
	args := []interface{}{string(fields.Status), repo.clock.Now().UTC().Format(repositories.TimeFormat)}

	if fields.ImagePath != nil {
		setClauses = append(setClauses, "image_path = ?")
		args = append(args, *fields.ImagePath)
	}

	if fields.Error != nil {
		setClauses = append(setClauses, "error = ?")
		args = append(args, *fields.Error)
	}

	if fields.DiscordMessageID != nil {
		setClauses = append(setClauses, "discord_message_id = ?")
		args = append(args, *fields.DiscordMessageID)
	}

	args = append(args, id)

	res, err := repo.dbConn.ExecContext(ctx,
		`UPDATE recipe_images SET `+strings.Join(setClauses, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return repositories.NewNotFoundError("generation record")
	}

	return nil
}

func (repo *sqliteRepo) GetLatestCompletedForRecipe(ctx context.Context, recipeID int64) (*entities.GenerationRecord, error) {
	row := repo.dbConn.QueryRowContext(ctx,
		`SELECT `+selectRecordColumns+` FROM recipe_images
		 WHERE recipe_id = ? AND status = ?
		 ORDER BY created_at DESC LIMIT 1`,
		recipeID, string(entities.GenerationStatusCompleted))

	return scanRecord(row)
}

func (repo *sqliteRepo) GetMostRecentForRecipe(ctx context.Context, recipeID int64) (*entities.GenerationRecord, error) {
	row := repo.dbConn.QueryRowContext(ctx,
		`SELECT `+selectRecordColumns+` FROM recipe_images
		 WHERE recipe_id = ?
		 ORDER BY created_at DESC LIMIT 1`, recipeID)

	return scanRecord(row)
}

func (repo *sqliteRepo) ListForRecipe(ctx context.Context, recipeID int64) ([]*entities.GenerationRecord, error) {
	rows, err := repo.dbConn.QueryContext(ctx,
		`SELECT `+selectRecordColumns+` FROM recipe_images
		 WHERE recipe_id = ?
		 ORDER BY created_at DESC`, recipeID)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	return scanRecords(rows)
}

func (repo *sqliteRepo) ListAll(ctx context.Context, limit int) ([]*entities.GenerationRecord, error) {
	if limit <= 0 {
		limit = 500
	}

	rows, err := repo.dbConn.QueryContext(ctx,
		`SELECT `+selectRecordColumns+` FROM recipe_images
		 ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	return scanRecords(rows)
}

func (repo *sqliteRepo) Delete(ctx context.Context, id string) error {
	res, err := repo.dbConn.ExecContext(ctx, `DELETE FROM recipe_images WHERE id = ?`, id)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		return repositories.NewNotFoundError("generation record")
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*entities.GenerationRecord, error) {
	record := &entities.GenerationRecord{}

	var status, createdAt, updatedAt string

	err := row.Scan(&record.ID, &record.RecipeID, &record.Prompt, &record.ImagePath,
		&status, &record.Error, &record.DiscordMessageID, &record.FilterChanges,
		&createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repositories.NewNotFoundError("generation record")
	}

	if err != nil {
		return nil, err
	}

	record.Status = entities.GenerationStatus(status)

	record.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, err
	}

	record.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return nil, err
	}

	return record, nil
}

func scanRecords(rows *sql.Rows) ([]*entities.GenerationRecord, error) {
	var records []*entities.GenerationRecord

	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}

		records = append(records, record)
	}

	return records, rows.Err()
}

package sqlite

import (
	"context"
	"database/sql"
	"log"
	"os"
	"strconv"
	"strings"

	_ "modernc.org/sqlite"
)

const defaultDBFile string = "recipe_image_bot.sqlite"

// InMemoryDSN opens a throwaway database, used by tests.
const InMemoryDSN string = ":memory:"

const getCurrentMigration string = `PRAGMA user_version;`
const setCurrentMigration string = `PRAGMA user_version = ?;`

const createGenerationRecordsTableQuery string = `
CREATE TABLE IF NOT EXISTS recipe_images (
id TEXT NOT NULL PRIMARY KEY,
recipe_id INTEGER NOT NULL,
prompt TEXT NOT NULL,
image_path TEXT NOT NULL,
status TEXT NOT NULL,
error TEXT NOT NULL DEFAULT '',
discord_message_id TEXT NOT NULL DEFAULT '',
filter_changes TEXT NOT NULL DEFAULT '',
created_at TEXT NOT NULL,
updated_at TEXT NOT NULL
);`

const createGenerationRecipeIndexQuery string = `
CREATE INDEX IF NOT EXISTS recipe_images_recipe_index
ON recipe_images(recipe_id);
`

const createQueueJobsTableQuery string = `
CREATE TABLE IF NOT EXISTS image_queue (
id TEXT NOT NULL PRIMARY KEY,
recipe_id INTEGER NOT NULL,
user_id TEXT NOT NULL,
organization_id TEXT NOT NULL,
website_id TEXT NOT NULL DEFAULT '',
custom_prompt TEXT NOT NULL DEFAULT '',
renderer_config TEXT NOT NULL DEFAULT '{}',
status TEXT NOT NULL,
position INTEGER NOT NULL DEFAULT 0,
estimated_completion TEXT NOT NULL DEFAULT '',
retry_count INTEGER NOT NULL DEFAULT 0,
error_message TEXT NOT NULL DEFAULT '',
created_at TEXT NOT NULL,
started_at TEXT,
completed_at TEXT
);`

const createQueueStatusIndexQuery string = `
CREATE INDEX IF NOT EXISTS image_queue_status_index
ON image_queue(status);
`

const createQueueRecipeIndexQuery string = `
CREATE INDEX IF NOT EXISTS image_queue_recipe_index
ON image_queue(recipe_id);
`

const createRecipesTableQuery string = `
CREATE TABLE IF NOT EXISTS recipes (
id INTEGER NOT NULL PRIMARY KEY,
recipe_idea TEXT NOT NULL,
ingredients TEXT NOT NULL DEFAULT '',
organization_id TEXT NOT NULL DEFAULT '',
owner_id TEXT NOT NULL DEFAULT ''
);`

const createKeywordsTableQuery string = `
CREATE TABLE IF NOT EXISTS keywords (
id INTEGER NOT NULL PRIMARY KEY,
recipe_id INTEGER NOT NULL,
image_url TEXT NOT NULL DEFAULT '',
added_at TEXT NOT NULL
);`

const createFacebookContentTableQuery string = `
CREATE TABLE IF NOT EXISTS facebook_content (
id INTEGER NOT NULL PRIMARY KEY,
recipe_id INTEGER NOT NULL,
mj_prompt TEXT NOT NULL DEFAULT ''
);`

type migration struct {
	migrationName  string
	migrationQuery string
}

var migrations = []migration{
	{migrationName: "create generation records table", migrationQuery: createGenerationRecordsTableQuery},
	{migrationName: "add generation recipe index", migrationQuery: createGenerationRecipeIndexQuery},
	{migrationName: "create queue jobs table", migrationQuery: createQueueJobsTableQuery},
	{migrationName: "add queue status index", migrationQuery: createQueueStatusIndexQuery},
	{migrationName: "add queue recipe index", migrationQuery: createQueueRecipeIndexQuery},
	{migrationName: "create recipes table", migrationQuery: createRecipesTableQuery},
	{migrationName: "create keywords table", migrationQuery: createKeywordsTableQuery},
	{migrationName: "create facebook content table", migrationQuery: createFacebookContentTableQuery},
}

func New(ctx context.Context, filename string) (*sql.DB, error) {
	if filename == "" {
		dir, err := os.Getwd()
		if err != nil {
			return nil, err
		}

		filename = dir + "/" + defaultDBFile
	}

	if filename != InMemoryDSN {
		err := touchDBFile(filename)
		if err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, err
	}

	// A single connection avoids "database is locked" errors, and keeps an
	// in-memory database from splitting into one DB per connection.
	db.SetMaxOpenConns(1)

	_, err = db.ExecContext(ctx, "PRAGMA busy_timeout = 5000")
	if err != nil {
		return nil, err
	}

	err = migrate(ctx, db)
	if err != nil {
		return nil, err
	}

	return db, nil
}

func migrate(ctx context.Context, db *sql.DB) error {
	var currentMigration int

	row := db.QueryRowContext(ctx, getCurrentMigration)

	err := row.Scan(&currentMigration)
	if err != nil {
		return err
	}

	requiredMigration := len(migrations)

	log.Printf("Current DB version: %v, required DB version: %v\n", currentMigration, requiredMigration)

	if currentMigration < requiredMigration {
		for migrationNum := currentMigration + 1; migrationNum <= requiredMigration; migrationNum++ {
			err = execMigration(ctx, db, migrationNum)
			if err != nil {
				log.Printf("Error running migration %v '%v'\n", migrationNum, migrations[migrationNum-1].migrationName)

				return err
			}
		}
	}

	return nil
}

func execMigration(ctx context.Context, db *sql.DB, migrationNum int) error {
	log.Printf("Running migration %v '%v'\n", migrationNum, migrations[migrationNum-1].migrationName)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}

	//nolint
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, migrations[migrationNum-1].migrationQuery)
	if err != nil {
		return err
	}

	setQuery := strings.Replace(setCurrentMigration, "?", strconv.Itoa(migrationNum), 1)

	_, err = tx.ExecContext(ctx, setQuery)
	if err != nil {
		return err
	}

	err = tx.Commit()
	if err != nil {
		return err
	}

	return nil
}

func touchDBFile(filename string) error {
	_, err := os.Stat(filename)
	if os.IsNotExist(err) {
		file, createErr := os.Create(filename)
		if createErr != nil {
			return createErr
		}

		closeErr := file.Close()
		if closeErr != nil {
			return closeErr
		}
	}

	return nil
}

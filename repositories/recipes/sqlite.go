package recipes

import (
	"context"
	"database/sql"
	"errors"

	"recipe_image_bot/entities"
	"recipe_image_bot/repositories"
)

type sqliteRepo struct {
	dbConn *sql.DB
}

type Config struct {
	DB *sql.DB
}

func NewRepository(cfg *Config) (Repository, error) {
	if cfg.DB == nil {
		return nil, errors.New("missing DB parameter")
	}

	return &sqliteRepo{dbConn: cfg.DB}, nil
}

func (repo *sqliteRepo) GetByID(ctx context.Context, id int64) (*entities.Recipe, error) {
	recipe := &entities.Recipe{}

	err := repo.dbConn.QueryRowContext(ctx,
		`SELECT id, recipe_idea, ingredients, organization_id, owner_id FROM recipes WHERE id = ?`, id).
		Scan(&recipe.ID, &recipe.RecipeIdea, &recipe.Ingredients, &recipe.OrganizationID, &recipe.OwnerID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repositories.NewNotFoundError("recipe")
	}

	if err != nil {
		return nil, err
	}

	return recipe, nil
}

func (repo *sqliteRepo) ReferenceImageURL(ctx context.Context, recipeID int64) (string, error) {
	var imageURL string

	err := repo.dbConn.QueryRowContext(ctx,
		`SELECT image_url FROM keywords WHERE recipe_id = ? ORDER BY added_at DESC LIMIT 1`, recipeID).
		Scan(&imageURL)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}

	if err != nil {
		return "", err
	}

	return imageURL, nil
}

func (repo *sqliteRepo) StoredPrompt(ctx context.Context, recipeID int64) (string, error) {
	var prompt string

	err := repo.dbConn.QueryRowContext(ctx,
		`SELECT mj_prompt FROM facebook_content WHERE recipe_id = ? ORDER BY id DESC LIMIT 1`, recipeID).
		Scan(&prompt)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}

	if err != nil {
		return "", err
	}

	return prompt, nil
}

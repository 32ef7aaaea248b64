package recipes

import (
	"context"

	"recipe_image_bot/entities"
)

// Repository is the read-only collaborator for recipe data. The pipeline
// never writes these tables; it only resolves the subject being illustrated,
// an optional reference image, and any previously approved prompt.
type Repository interface {
	GetByID(ctx context.Context, id int64) (*entities.Recipe, error)
	// ReferenceImageURL returns the most recently added reference image URL
	// for a recipe, or "" when none is known.
	ReferenceImageURL(ctx context.Context, recipeID int64) (string, error)
	// StoredPrompt returns a previously generated renderer prompt for a
	// recipe, or "" when none exists.
	StoredPrompt(ctx context.Context, recipeID int64) (string, error)
}

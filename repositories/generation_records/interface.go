package generation_records

import (
	"context"

	"recipe_image_bot/entities"
)

// UpdateFields is the subset of columns a status transition may touch. Nil
// pointers leave the column unchanged.
type UpdateFields struct {
	Status           entities.GenerationStatus
	ImagePath        *string
	Error            *string
	DiscordMessageID *string
}

type Repository interface {
	Create(ctx context.Context, record *entities.GenerationRecord) (*entities.GenerationRecord, error)
	GetByID(ctx context.Context, id string) (*entities.GenerationRecord, error)
	Update(ctx context.Context, id string, fields UpdateFields) error
	GetLatestCompletedForRecipe(ctx context.Context, recipeID int64) (*entities.GenerationRecord, error)
	GetMostRecentForRecipe(ctx context.Context, recipeID int64) (*entities.GenerationRecord, error)
	ListForRecipe(ctx context.Context, recipeID int64) ([]*entities.GenerationRecord, error)
	ListAll(ctx context.Context, limit int) ([]*entities.GenerationRecord, error)
	Delete(ctx context.Context, id string) error
}

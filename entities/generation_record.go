package entities

import "time"

type GenerationStatus string

const (
	GenerationStatusPending    GenerationStatus = "pending"
	GenerationStatusGenerating GenerationStatus = "generating"
	GenerationStatusCompleted  GenerationStatus = "completed"
	GenerationStatusFailed     GenerationStatus = "failed"
)

// GenerationRecord is one render attempt for a recipe. The ID is generated
// by the caller before the row is committed, so it is known ahead of the
// insert.
type GenerationRecord struct {
	ID               string           `json:"id"`
	RecipeID         int64            `json:"recipe_id"`
	Prompt           string           `json:"prompt"`
	ImagePath        string           `json:"image_path"`
	Status           GenerationStatus `json:"status"`
	Error            string           `json:"error"`
	DiscordMessageID string           `json:"discord_message_id"`
	FilterChanges    string           `json:"filter_changes"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

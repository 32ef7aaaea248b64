package entities

// Recipe is the read-only view of a content item this pipeline illustrates.
// Ingredients is stored heterogeneously upstream: a JSON list of strings, a
// JSON list of objects, or plain comma-separated text.
type Recipe struct {
	ID             int64  `json:"id"`
	RecipeIdea     string `json:"recipe_idea"`
	Ingredients    string `json:"ingredients"`
	OrganizationID string `json:"organization_id"`
	OwnerID        string `json:"owner_id"`
}

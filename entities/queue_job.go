package entities

import "time"

type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// QueueJob is a durable queue entry. Position is 1-based among non-terminal
// jobs and is recomputed on every queue mutation. EstimatedCompletion is
// derived from the position, not authoritative.
type QueueJob struct {
	ID                  string         `json:"id"`
	RecipeID            int64          `json:"recipe_id"`
	UserID              string         `json:"user_id"`
	OrganizationID      string         `json:"organization_id"`
	WebsiteID           string         `json:"website_id"`
	CustomPrompt        string         `json:"custom_prompt,omitempty"`
	RendererConfig      RendererConfig `json:"renderer_config"`
	Status              JobStatus      `json:"status"`
	Position            int            `json:"position"`
	EstimatedCompletion time.Time      `json:"estimated_completion"`
	RetryCount          int            `json:"retry_count"`
	ErrorMessage        string         `json:"error_message,omitempty"`
	CreatedAt           time.Time      `json:"created_at"`
	StartedAt           *time.Time     `json:"started_at,omitempty"`
	CompletedAt         *time.Time     `json:"completed_at,omitempty"`
}

// Terminal reports whether the job can no longer change state.
func (j *QueueJob) Terminal() bool {
	switch j.Status {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}

	return false
}

package midjourney_api

import (
	"context"

	"recipe_image_bot/entities"
)

// ResultKind discriminates the shapes a render result can take, replacing
// optional-field probing with explicit cases.
type ResultKind int

const (
	// ResultKindUpscaledPhoto carries a single photo URL or local path.
	ResultKindUpscaledPhoto ResultKind = iota
	// ResultKindGrid carries the four-image grid URL.
	ResultKindGrid
)

type GridInfo struct {
	GridURL string
}

// ImageResult is what a render attempt produced. The URL may be a path
// inside the shared output directory (already downloaded) or a remote URL
// the channel is expected to have downloaded asynchronously. MessageID is
// kept for diagnostics only, never for control flow.
type ImageResult struct {
	Kind             ResultKind
	UpscaledPhotoURL string
	GridInfo         *GridInfo
	MessageID        string
}

// Client drives one render through the chat channel. Calls are slow (tens of
// seconds to minutes) and must not be issued concurrently on one instance.
type Client interface {
	Initialize() error
	CreateImage(ctx context.Context, prompt string, params string, upscaleIndex *int) (*ImageResult, error)
	Close() error
}

// ClientFactory hands out clients for a renderer config snapshot.
// ResetInstance discards any cached session so changed settings take effect.
type ClientFactory interface {
	GetInstance(cfg entities.RendererConfig) (Client, error)
	ResetInstance()
}

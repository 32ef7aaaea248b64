package image_reconciler

import (
	"errors"
	"os"
	"sort"
	"strings"
	"time"

	"recipe_image_bot/clock"
)

// ErrNoRecentOutput means no file matching the naming convention was
// modified within the recency window.
var ErrNoRecentOutput = errors.New("no recent output file found")

const (
	outputFilePrefix = "grid_"

	// DefaultRecencyWindow tolerates the renderer writing output files
	// asynchronously with its response.
	DefaultRecencyWindow = time.Minute
)

var outputFileExtensions = []string{".png", ".webp", ".jpg", ".jpeg"}

type reconcilerImpl struct {
	recencyWindow time.Duration
	clock         clock.Clock
}

type Config struct {
	RecencyWindow time.Duration
	Clock         clock.Clock
}

func New(cfg Config) (Reconciler, error) {
	window := cfg.RecencyWindow
	if window <= 0 {
		window = DefaultRecencyWindow
	}

	reconcilerClock := cfg.Clock
	if reconcilerClock == nil {
		reconcilerClock = clock.NewClock()
	}

	return &reconcilerImpl{
		recencyWindow: window,
		clock:         reconcilerClock,
	}, nil
}

type candidate struct {
	name    string
	modTime time.Time
}

func (r *reconcilerImpl) FindRecentOutput(outputDir string) (string, error) {
	entries, err := os.ReadDir(outputDir)
	if err != nil {
		return "", err
	}

	now := r.clock.Now()

	var candidates []candidate

	for _, entry := range entries {
		if entry.IsDir() || !matchesConvention(entry.Name()) {
			continue
		}

		info, infoErr := entry.Info()
		if infoErr != nil {
			// The renderer may still be writing; skip files that vanish
			// between the listing and the stat.
			continue
		}

		if now.Sub(info.ModTime()) > r.recencyWindow {
			continue
		}

		candidates = append(candidates, candidate{name: entry.Name(), modTime: info.ModTime()})
	}

	if len(candidates) == 0 {
		return "", ErrNoRecentOutput
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].modTime.After(candidates[j].modTime)
	})

	return candidates[0].name, nil
}

func matchesConvention(name string) bool {
	if !strings.HasPrefix(name, outputFilePrefix) {
		return false
	}

	for _, ext := range outputFileExtensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}

	return false
}

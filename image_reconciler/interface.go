package image_reconciler

// Reconciler resolves an ambiguous renderer result to an actual output file
// by scanning the shared output directory. It exists as an interface so the
// mtime heuristic can be swapped for a deterministic correlation id if the
// renderer ever provides one.
type Reconciler interface {
	// FindRecentOutput returns the filename (not the full path) of the
	// newest output file matching the naming convention and modified within
	// the recency window, or ErrNoRecentOutput.
	FindRecentOutput(outputDir string) (string, error)
}

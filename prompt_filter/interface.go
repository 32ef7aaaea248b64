package prompt_filter

// Change records one safety-filter edit, in the order it was applied.
type Change struct {
	Original    string `json:"original"`
	Replacement string `json:"replacement"`
	Reason      string `json:"reason"`
}

type Options struct {
	// Context tags the domain the prompt belongs to, e.g. "photography".
	Context string
	// StrictMode enables the extra blocked-term table.
	StrictMode bool
	// AllowReplacements permits rewriting flagged terms. When false any
	// flagged term is a hard failure.
	AllowReplacements bool
}

// Result is the full outcome of a filter pass. When Success is false the
// prompt violates policy and FilteredPrompt holds the original text as a
// fallback value that must never be sent to the renderer.
type Result struct {
	Success        bool     `json:"success"`
	OriginalPrompt string   `json:"original_prompt"`
	FilteredPrompt string   `json:"filtered_prompt"`
	Changes        []Change `json:"changes"`
	Warnings       []string `json:"warnings"`
	Error          string   `json:"error,omitempty"`
}

type Filter interface {
	Filter(prompt string, opts Options) *Result
}

package prompt_filter

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// PolicyTerm matches one prohibited or suspicious term. Pattern is a raw
// regular expression fragment wrapped in case-insensitive word boundaries at
// match time.
type PolicyTerm struct {
	Pattern     string
	Replacement string
	Reason      string
}

// Policy is the content policy a filter enforces. Substitutions are applied
// in order; Blocked terms always fail; StrictBlocked terms fail only in
// strict mode; WarnTerms pass but produce warnings.
type Policy struct {
	Substitutions []PolicyTerm
	Blocked       []PolicyTerm
	StrictBlocked []PolicyTerm
	WarnTerms     []PolicyTerm
}

// DefaultPolicy covers the renderer's moderation rules as they affect food
// photography prompts.
func DefaultPolicy() *Policy {
	return &Policy{
		Substitutions: []PolicyTerm{
			{Pattern: "bloody", Replacement: "deep red", Reason: "violence-adjacent term"},
			{Pattern: "gory", Replacement: "glossy", Reason: "violence-adjacent term"},
			{Pattern: "flesh", Replacement: "pulp", Reason: "anatomical term flagged by renderer moderation"},
			{Pattern: "naked", Replacement: "plain", Reason: "adult-content term"},
			{Pattern: "killer", Replacement: "incredible", Reason: "violence-adjacent term"},
			{Pattern: "crack", Replacement: "crackled", Reason: "drug-slang term"},
			{Pattern: "addictive", Replacement: "irresistible", Reason: "drug-slang term"},
			{Pattern: "intoxicating", Replacement: "aromatic", Reason: "substance-related term"},
			{Pattern: "sinful", Replacement: "indulgent", Reason: "frequently moderated descriptor"},
			{Pattern: "seductive", Replacement: "appetizing", Reason: "adult-content descriptor"},
		},
		Blocked: []PolicyTerm{
			{Pattern: "gore", Reason: "explicit violence"},
			{Pattern: "nude|nudity", Reason: "adult content"},
			{Pattern: "nsfw", Reason: "adult content"},
			{Pattern: "severed", Reason: "explicit violence"},
		},
		StrictBlocked: []PolicyTerm{
			{Pattern: "corpse", Reason: "explicit violence"},
			{Pattern: "slaughter(ed|house)?", Reason: "explicit violence"},
		},
		WarnTerms: []PolicyTerm{
			{Pattern: "knife|cleaver", Reason: "weapon-adjacent term, allowed in kitchen context"},
			{Pattern: "smoking|smoked", Reason: "ambiguous term, allowed in cooking context"},
		},
	}
}

type filterImpl struct {
	policy *Policy
}

type Config struct {
	// Policy overrides the default content policy.
	Policy *Policy
}

func New(cfg Config) (Filter, error) {
	policy := cfg.Policy
	if policy == nil {
		policy = DefaultPolicy()
	}

	return &filterImpl{policy: policy}, nil
}

// Filter is fail-closed: any internal error or panic is converted into a
// failure result carrying the original prompt, never propagated.
func (f *filterImpl) Filter(prompt string, opts Options) (result *Result) {
	defer func() {
		if r := recover(); r != nil {
			result = &Result{
				Success:        false,
				OriginalPrompt: prompt,
				FilteredPrompt: prompt,
				Error:          fmt.Sprintf("prompt filtering system error: %v", r),
			}
		}
	}()

	result, err := f.apply(prompt, opts)
	if err != nil {
		return &Result{
			Success:        false,
			OriginalPrompt: prompt,
			FilteredPrompt: prompt,
			Error:          "prompt filtering system error: " + err.Error(),
		}
	}

	return result
}

func (f *filterImpl) apply(prompt string, opts Options) (*Result, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, errors.New("empty prompt")
	}

	result := &Result{
		OriginalPrompt: prompt,
		FilteredPrompt: prompt,
	}

	blocked := f.policy.Blocked
	if opts.StrictMode {
		blocked = append(blocked[:len(blocked):len(blocked)], f.policy.StrictBlocked...)
	}

	for _, term := range blocked {
		if match := termRegex(term).FindString(result.FilteredPrompt); match != "" {
			result.Success = false
			result.FilteredPrompt = prompt
			result.Error = fmt.Sprintf("prompt contains prohibited term %q (%s)", match, term.Reason)

			return result, nil
		}
	}

	for _, term := range f.policy.Substitutions {
		re := termRegex(term)

		match := re.FindString(result.FilteredPrompt)
		if match == "" {
			continue
		}

		if !opts.AllowReplacements {
			result.Success = false
			result.FilteredPrompt = prompt
			result.Error = fmt.Sprintf("prompt contains prohibited term %q (%s) and replacements are disabled", match, term.Reason)

			return result, nil
		}

		result.FilteredPrompt = re.ReplaceAllString(result.FilteredPrompt, term.Replacement)
		result.Changes = append(result.Changes, Change{
			Original:    match,
			Replacement: term.Replacement,
			Reason:      term.Reason,
		})
	}

	for _, term := range f.policy.WarnTerms {
		if match := termRegex(term).FindString(result.FilteredPrompt); match != "" {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("term %q: %s", match, term.Reason))
		}
	}

	result.Success = true

	return result, nil
}

func termRegex(term PolicyTerm) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b(?:` + term.Pattern + `)\b`)
}

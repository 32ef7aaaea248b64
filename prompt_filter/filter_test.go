package prompt_filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFilter(t *testing.T) Filter {
	t.Helper()

	filter, err := New(Config{})
	require.NoError(t, err)

	return filter
}

func TestFilterSubstitutesFlaggedTerms(t *testing.T) {
	filter := newTestFilter(t)

	result := filter.Filter("a sinful chocolate cake with addictive frosting", Options{
		Context:           "photography",
		AllowReplacements: true,
	})

	require.True(t, result.Success)
	assert.Equal(t, "a indulgent chocolate cake with irresistible frosting", result.FilteredPrompt)
	require.Len(t, result.Changes, 2)
	// Changes are recorded in policy order, not prompt order.
	assert.Equal(t, "addictive", result.Changes[0].Original)
	assert.Equal(t, "irresistible", result.Changes[0].Replacement)
	assert.Equal(t, "sinful", result.Changes[1].Original)
	assert.Equal(t, "indulgent", result.Changes[1].Replacement)
	assert.NotEmpty(t, result.Changes[0].Reason)
}

func TestFilterPassesCleanPrompt(t *testing.T) {
	filter := newTestFilter(t)

	prompt := "Professional food photography of a lemon tart"

	result := filter.Filter(prompt, Options{AllowReplacements: true})

	require.True(t, result.Success)
	assert.Equal(t, prompt, result.FilteredPrompt)
	assert.Empty(t, result.Changes)
	assert.Empty(t, result.Warnings)
}

func TestFilterBlocksProhibitedTerms(t *testing.T) {
	filter := newTestFilter(t)

	result := filter.Filter("nsfw picture of a cake", Options{AllowReplacements: true})

	require.False(t, result.Success)
	assert.Contains(t, result.Error, "prohibited term")
	// The original prompt is preserved as the fallback value.
	assert.Equal(t, "nsfw picture of a cake", result.FilteredPrompt)
}

func TestFilterStrictMode(t *testing.T) {
	filter := newTestFilter(t)

	prompt := "photo of a slaughterhouse kitchen"

	relaxed := filter.Filter(prompt, Options{AllowReplacements: true})
	require.True(t, relaxed.Success)

	strict := filter.Filter(prompt, Options{StrictMode: true, AllowReplacements: true})
	require.False(t, strict.Success)
	assert.Contains(t, strict.Error, "prohibited term")
}

func TestFilterReplacementsDisabled(t *testing.T) {
	filter := newTestFilter(t)

	result := filter.Filter("a sinful dessert", Options{AllowReplacements: false})

	require.False(t, result.Success)
	assert.Contains(t, result.Error, "replacements are disabled")
}

func TestFilterWarnTerms(t *testing.T) {
	filter := newTestFilter(t)

	result := filter.Filter("sliced with a sharp knife, smoked paprika", Options{AllowReplacements: true})

	require.True(t, result.Success)
	assert.Len(t, result.Warnings, 2)
}

func TestFilterWordBoundaries(t *testing.T) {
	filter := newTestFilter(t)

	// "crackled" must not match the "crack" substitution.
	result := filter.Filter("crackled sugar top", Options{AllowReplacements: true})

	require.True(t, result.Success)
	assert.Equal(t, "crackled sugar top", result.FilteredPrompt)
	assert.Empty(t, result.Changes)
}

func TestFilterEmptyPromptFailsClosed(t *testing.T) {
	filter := newTestFilter(t)

	result := filter.Filter("   ", Options{AllowReplacements: true})

	require.False(t, result.Success)
	assert.Contains(t, result.Error, "prompt filtering system error")
}

func TestFilterInternalPanicFailsClosed(t *testing.T) {
	filter, err := New(Config{Policy: &Policy{
		Blocked: []PolicyTerm{{Pattern: "(", Reason: "malformed"}},
	}})
	require.NoError(t, err)

	result := filter.Filter("a perfectly fine prompt", Options{AllowReplacements: true})

	require.False(t, result.Success)
	assert.Contains(t, result.Error, "prompt filtering system error")
	assert.Equal(t, "a perfectly fine prompt", result.FilteredPrompt)
}

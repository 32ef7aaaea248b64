package prompt_builder

import (
	"encoding/json"
	"regexp"
	"strings"

	"recipe_image_bot/entities"
)

const (
	maxIngredients = 3

	// The renderer's reference-image syntax requires the URL as the first
	// token of the prompt. Anywhere else it is silently ignored.
	imageWeightParam = "--iw 0.75"

	styleSuffix = ", on a beautiful plate, soft natural lighting, shallow depth of field, " +
		"high-end restaurant presentation, professional food photography, 4k, detailed, " +
		"award-winning food photography"
)

var imageWeightRegex = regexp.MustCompile(`--iw\s+[\d.]+`)

// Build composes the photography prompt for a recipe. When referenceImageURL
// is non-empty it is prepended and the image-weight parameter appended.
func Build(recipe *entities.Recipe, referenceImageURL string) string {
	prompt := "Professional food photography of " + recipe.RecipeIdea

	ingredients := extractIngredients(recipe.Ingredients)
	if ingredients != "" {
		prompt += ", with " + ingredients + " visible"
	}

	prompt += styleSuffix

	referenceImageURL = strings.TrimSpace(referenceImageURL)
	if referenceImageURL != "" {
		prompt = referenceImageURL + " " + prompt + " " + imageWeightParam
	}

	return prompt
}

// AddOrReplaceReferenceImage makes url the first token of prompt, replacing
// any other leading URL, and guarantees exactly one image-weight parameter.
// A prompt that already begins with url is returned unchanged.
func AddOrReplaceReferenceImage(prompt, url string) string {
	url = strings.TrimSpace(url)
	if url == "" {
		return prompt
	}

	if strings.HasPrefix(prompt, url) {
		return prompt
	}

	rest := prompt

	if strings.HasPrefix(prompt, "http") {
		// Drop the existing leading URL token.
		firstSpace := strings.Index(prompt, " ")
		if firstSpace > 0 {
			rest = prompt[firstSpace+1:]
		}
	}

	rest = strings.TrimSpace(imageWeightRegex.ReplaceAllString(rest, ""))

	return url + " " + rest + " " + imageWeightParam
}

type ingredientEntry struct {
	Name       string `json:"name"`
	Ingredient string `json:"ingredient"`
}

// extractIngredients pulls up to three ingredient names out of the
// heterogeneous upstream field. Parse failures degrade to comma-split text
// rather than failing the prompt.
func extractIngredients(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	if names, ok := parseJSONIngredients(raw); ok {
		return joinFirst(names, maxIngredients)
	}

	return joinFirst(strings.Split(raw, ","), maxIngredients)
}

func parseJSONIngredients(raw string) ([]string, bool) {
	var asStrings []string
	if err := json.Unmarshal([]byte(raw), &asStrings); err == nil {
		return asStrings, true
	}

	var asEntries []ingredientEntry
	if err := json.Unmarshal([]byte(raw), &asEntries); err == nil {
		names := make([]string, 0, len(asEntries))

		for _, entry := range asEntries {
			if entry.Name != "" {
				names = append(names, entry.Name)
			} else if entry.Ingredient != "" {
				names = append(names, entry.Ingredient)
			}
		}

		return names, true
	}

	return nil, false
}

func joinFirst(names []string, limit int) string {
	kept := make([]string, 0, limit)

	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}

		kept = append(kept, name)

		if len(kept) == limit {
			break
		}
	}

	return strings.Join(kept, ", ")
}

package imagine_queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"path/filepath"
	"strings"
	"time"

	"recipe_image_bot/entities"
	"recipe_image_bot/image_reconciler"
	"recipe_image_bot/midjourney_api"
	"recipe_image_bot/prompt_builder"
	"recipe_image_bot/prompt_filter"
	"recipe_image_bot/repositories"
	"recipe_image_bot/repositories/generation_records"
	"recipe_image_bot/repositories/recipes"
)

// GenerationOutcome is the terminal result of one worker run. Exactly one of
// Success and ErrorMessage is meaningful; Existing marks the idempotent
// short-circuit where no new render happened.
type GenerationOutcome struct {
	RecordID     string
	ImagePath    string
	Success      bool
	Existing     bool
	ErrorMessage string
	FilterResult *prompt_filter.Result
}

type worker struct {
	generationRepo  generation_records.Repository
	recipeRepo      recipes.Repository
	promptFilter    prompt_filter.Filter
	rendererFactory midjourney_api.ClientFactory
	reconciler      image_reconciler.Reconciler
	outputDir       string
	delayMin        time.Duration
	delayMax        time.Duration
	newID           func() string
}

// generateForJob runs the full pipeline for one claimed job. It always
// returns an outcome; a panic anywhere past record creation force-fails the
// record so no attempt is left stuck in a non-terminal status.
func (w *worker) generateForJob(ctx context.Context, job *entities.QueueJob) (outcome GenerationOutcome) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}

		log.Printf("Panic while generating image for recipe %d: %v", job.RecipeID, r)

		outcome = GenerationOutcome{
			RecordID:     outcome.RecordID,
			ErrorMessage: fmt.Sprintf("internal error during image generation: %v", r),
		}

		if outcome.RecordID != "" {
			w.forceFailRecord(ctx, outcome.RecordID, outcome.ErrorMessage)
		}
	}()

	completed, err := w.generationRepo.GetLatestCompletedForRecipe(ctx, job.RecipeID)
	if err != nil && !repositories.IsNotFound(err) {
		return GenerationOutcome{ErrorMessage: fmt.Sprintf("checking existing images: %v", err)}
	}

	if completed != nil {
		log.Printf("Recipe %d already has image %s, skipping generation\n", job.RecipeID, completed.ImagePath)

		return GenerationOutcome{
			RecordID:  completed.ID,
			ImagePath: completed.ImagePath,
			Success:   true,
			Existing:  true,
		}
	}

	recipe, err := w.recipeRepo.GetByID(ctx, job.RecipeID)
	if err != nil {
		return GenerationOutcome{ErrorMessage: fmt.Sprintf("loading recipe %d: %v", job.RecipeID, err)}
	}

	if !job.RendererConfig.Enabled() {
		return w.failWithoutRender(ctx, job, "", "image renderer is not configured for this job", nil)
	}

	prompt, err := w.buildPrompt(ctx, job, recipe)
	if err != nil {
		return GenerationOutcome{ErrorMessage: fmt.Sprintf("building prompt: %v", err)}
	}

	filterResult := w.promptFilter.Filter(prompt, prompt_filter.Options{
		Context:           "photography",
		StrictMode:        true,
		AllowReplacements: true,
	})

	if !filterResult.Success {
		log.Printf("Prompt for recipe %d rejected by safety filter: %s\n", job.RecipeID, filterResult.Error)

		return w.failWithoutRender(ctx, job, prompt,
			fmt.Sprintf("prompt rejected by safety filter: %s", filterResult.Error), filterResult)
	}

	finalPrompt := filterResult.FilteredPrompt

	record, err := w.createPendingRecord(ctx, job, finalPrompt, filterResult)
	if err != nil {
		return GenerationOutcome{ErrorMessage: err.Error()}
	}

	outcome.RecordID = record.ID

	err = w.preDispatchDelay(ctx)
	if err != nil {
		w.forceFailRecord(ctx, record.ID, "job interrupted before dispatch")

		return GenerationOutcome{RecordID: record.ID, ErrorMessage: "job interrupted before dispatch"}
	}

	// A fresh session per job avoids stale-connection failures after the
	// renderer's long idle periods.
	w.rendererFactory.ResetInstance()

	err = w.applyAndVerify(ctx, record.ID, job.RecipeID, generation_records.UpdateFields{
		Status: entities.GenerationStatusGenerating,
	})
	if err != nil {
		return GenerationOutcome{RecordID: record.ID, ErrorMessage: err.Error()}
	}

	client, err := w.rendererFactory.GetInstance(job.RendererConfig)
	if err != nil {
		message := fmt.Sprintf("connecting to renderer: %v", err)
		w.forceFailRecord(ctx, record.ID, message)

		return GenerationOutcome{RecordID: record.ID, ErrorMessage: message, FilterResult: filterResult}
	}

	result, err := client.CreateImage(ctx, finalPrompt, job.RendererConfig.RenderParams, nil)
	if err != nil {
		message := fmt.Sprintf("renderer error: %v", err)
		w.forceFailRecord(ctx, record.ID, message)

		return GenerationOutcome{RecordID: record.ID, ErrorMessage: message, FilterResult: filterResult}
	}

	imageFilename, resolveErr := w.resolveImageFilename(result)

	if resolveErr != nil {
		message := "output file not found after generation"

		err = w.applyAndVerify(ctx, record.ID, job.RecipeID, generation_records.UpdateFields{
			Status:           entities.GenerationStatusFailed,
			Error:            &message,
			DiscordMessageID: &result.MessageID,
		})
		if err != nil {
			return GenerationOutcome{RecordID: record.ID, ErrorMessage: err.Error()}
		}

		return GenerationOutcome{RecordID: record.ID, ErrorMessage: message, FilterResult: filterResult}
	}

	err = w.applyAndVerify(ctx, record.ID, job.RecipeID, generation_records.UpdateFields{
		Status:           entities.GenerationStatusCompleted,
		ImagePath:        &imageFilename,
		DiscordMessageID: &result.MessageID,
	})
	if err != nil {
		return GenerationOutcome{RecordID: record.ID, ErrorMessage: err.Error()}
	}

	return GenerationOutcome{
		RecordID:     record.ID,
		ImagePath:    imageFilename,
		Success:      true,
		FilterResult: filterResult,
	}
}

// buildPrompt resolves the prompt source in priority order: an explicit
// custom prompt on the job, a previously approved stored prompt, then a fresh
// prompt built from the recipe. The reference image, when known, is always
// forced into the first-token position.
func (w *worker) buildPrompt(ctx context.Context, job *entities.QueueJob, recipe *entities.Recipe) (string, error) {
	referenceImageURL, err := w.recipeRepo.ReferenceImageURL(ctx, job.RecipeID)
	if err != nil && !repositories.IsNotFound(err) {
		return "", err
	}

	if job.CustomPrompt != "" {
		return prompt_builder.AddOrReplaceReferenceImage(job.CustomPrompt, referenceImageURL), nil
	}

	stored, err := w.recipeRepo.StoredPrompt(ctx, job.RecipeID)
	if err != nil && !repositories.IsNotFound(err) {
		return "", err
	}

	if stored != "" {
		log.Printf("Reusing stored prompt for recipe %d\n", job.RecipeID)

		return prompt_builder.AddOrReplaceReferenceImage(stored, referenceImageURL), nil
	}

	return prompt_builder.Build(recipe, referenceImageURL), nil
}

// failWithoutRender records a terminal failed attempt for rejections that
// happen before the renderer is ever involved.
func (w *worker) failWithoutRender(ctx context.Context, job *entities.QueueJob, prompt, message string, filterResult *prompt_filter.Result) GenerationOutcome {
	record := &entities.GenerationRecord{
		ID:       w.newID(),
		RecipeID: job.RecipeID,
		Prompt:   prompt,
		Status:   entities.GenerationStatusFailed,
		Error:    message,
	}

	if filterResult != nil {
		record.FilterChanges = encodeFilterChanges(filterResult)
	}

	_, err := w.generationRepo.Create(ctx, record)
	if err != nil {
		log.Printf("Error recording rejected attempt for recipe %d: %v", job.RecipeID, err)
	}

	return GenerationOutcome{
		RecordID:     record.ID,
		ErrorMessage: message,
		FilterResult: filterResult,
	}
}

func (w *worker) createPendingRecord(ctx context.Context, job *entities.QueueJob, prompt string, filterResult *prompt_filter.Result) (*entities.GenerationRecord, error) {
	record := &entities.GenerationRecord{
		ID:            w.newID(),
		RecipeID:      job.RecipeID,
		Prompt:        prompt,
		Status:        entities.GenerationStatusPending,
		FilterChanges: encodeFilterChanges(filterResult),
	}

	_, err := w.generationRepo.Create(ctx, record)
	if err != nil {
		return nil, fmt.Errorf("creating generation record: %w", err)
	}

	// Read-after-write check. A record that cannot be read back immediately
	// would be unrecoverable later, so treat it as fatal now.
	persisted, err := w.generationRepo.GetByID(ctx, record.ID)
	if err != nil {
		return nil, fmt.Errorf("verifying new generation record %s: %w", record.ID, err)
	}

	if persisted.Status != entities.GenerationStatusPending {
		return nil, fmt.Errorf("generation record %s persisted with status %s, expected pending", record.ID, persisted.Status)
	}

	return record, nil
}

// preDispatchDelay waits a randomized interval before dispatching, spacing
// out commands on the shared channel. The wait is cancellable.
func (w *worker) preDispatchDelay(ctx context.Context) error {
	if w.delayMax <= 0 || w.delayMax < w.delayMin {
		return nil
	}

	delay := w.delayMin
	if w.delayMax > w.delayMin {
		delay += time.Duration(rand.Int63n(int64(w.delayMax - w.delayMin)))
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

// resolveImageFilename maps a renderer result to a filename in the shared
// output directory. Only a local path inside the output directory is trusted
// directly; anything else goes through the filesystem reconciler.
func (w *worker) resolveImageFilename(result *midjourney_api.ImageResult) (string, error) {
	if result.Kind == midjourney_api.ResultKindUpscaledPhoto && w.isLocalOutput(result.UpscaledPhotoURL) {
		return filepath.Base(result.UpscaledPhotoURL), nil
	}

	filename, err := w.reconciler.FindRecentOutput(w.outputDir)
	if err != nil {
		if errors.Is(err, image_reconciler.ErrNoRecentOutput) {
			return "", err
		}

		return "", fmt.Errorf("scanning output directory: %w", err)
	}

	return filename, nil
}

func (w *worker) isLocalOutput(path string) bool {
	if path == "" || strings.HasPrefix(path, "http") {
		return false
	}

	cleanDir := filepath.Clean(w.outputDir)
	cleanPath := filepath.Clean(path)

	return strings.HasPrefix(cleanPath, cleanDir+string(filepath.Separator))
}

// applyAndVerify writes a status transition and reads it back, retrying once
// against the most recent record for the recipe when the id has drifted.
// Verification failure after the fallback is a storage fault, logged as
// CRITICAL for operator attention.
func (w *worker) applyAndVerify(ctx context.Context, recordID string, recipeID int64, fields generation_records.UpdateFields) error {
	err := w.transitionAndCheck(ctx, recordID, fields)
	if err == nil {
		return nil
	}

	if !repositories.IsNotFound(err) {
		log.Printf("CRITICAL: generation record %s failed verification: %v", recordID, err)

		return fmt.Errorf("storage fault finalizing record %s: %w", recordID, err)
	}

	log.Printf("Generation record %s not found during finalization, trying most recent record for recipe %d", recordID, recipeID)

	fallback, fallbackErr := w.generationRepo.GetMostRecentForRecipe(ctx, recipeID)
	if fallbackErr != nil {
		log.Printf("CRITICAL: no fallback record for recipe %d: %v", recipeID, fallbackErr)

		return fmt.Errorf("storage fault finalizing record %s: %w", recordID, err)
	}

	err = w.transitionAndCheck(ctx, fallback.ID, fields)
	if err != nil {
		log.Printf("CRITICAL: fallback record %s for recipe %d also failed verification: %v", fallback.ID, recipeID, err)

		return fmt.Errorf("storage fault finalizing record %s via fallback %s: %w", recordID, fallback.ID, err)
	}

	return nil
}

func (w *worker) transitionAndCheck(ctx context.Context, recordID string, fields generation_records.UpdateFields) error {
	err := w.generationRepo.Update(ctx, recordID, fields)
	if err != nil {
		return err
	}

	persisted, err := w.generationRepo.GetByID(ctx, recordID)
	if err != nil {
		return err
	}

	if persisted.Status != fields.Status {
		return fmt.Errorf("persisted status %s does not match requested %s", persisted.Status, fields.Status)
	}

	if fields.Status == entities.GenerationStatusCompleted && persisted.ImagePath == "" {
		return errors.New("completed record has an empty image path")
	}

	return nil
}

// forceFailRecord is the last-resort cleanup used by error paths and the
// panic handler. It bypasses verification; if even this write fails there is
// nothing left to do but log.
func (w *worker) forceFailRecord(ctx context.Context, recordID, message string) {
	err := w.generationRepo.Update(ctx, recordID, generation_records.UpdateFields{
		Status: entities.GenerationStatusFailed,
		Error:  &message,
	})
	if err != nil {
		log.Printf("CRITICAL: could not force-fail generation record %s: %v", recordID, err)
	}
}

func encodeFilterChanges(result *prompt_filter.Result) string {
	if result == nil || len(result.Changes) == 0 {
		return ""
	}

	encoded, err := json.Marshal(result.Changes)
	if err != nil {
		return ""
	}

	return string(encoded)
}

package web_api

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"recipe_image_bot/entities"
	"recipe_image_bot/health_monitor"
	"recipe_image_bot/imagine_queue"
	"recipe_image_bot/repositories/generation_records"

	"github.com/go-chi/chi/v5"
)

const maxRequestBodySize = 1 << 20 // 1MB

type Config struct {
	Queue          imagine_queue.Queue
	GenerationRepo generation_records.Repository
	HealthMonitor  health_monitor.Monitor
	// RendererConfig is snapshotted onto every job enqueued through this
	// surface.
	RendererConfig entities.RendererConfig
}

type handler struct {
	queue          imagine_queue.Queue
	generationRepo generation_records.Repository
	healthMonitor  health_monitor.Monitor
	rendererConfig entities.RendererConfig
}

func New(cfg Config) (http.Handler, error) {
	if cfg.Queue == nil {
		return nil, errors.New("missing queue")
	}

	if cfg.GenerationRepo == nil {
		return nil, errors.New("missing generation record repository")
	}

	if cfg.HealthMonitor == nil {
		return nil, errors.New("missing health monitor")
	}

	h := &handler{
		queue:          cfg.Queue,
		generationRepo: cfg.GenerationRepo,
		healthMonitor:  cfg.HealthMonitor,
		rendererConfig: cfg.RendererConfig,
	}

	r := chi.NewRouter()

	r.Route("/api/image-queue", func(r chi.Router) {
		r.Post("/add", h.handleAdd)
		r.Post("/cancel/{jobID}", h.handleCancel)
		r.Get("/status", h.handleStatus)
		r.Get("/health", h.handleHealth)
		r.Get("/images", h.handleImages)
		r.Get("/export", h.handleExport)
	})

	r.Post("/api/admin/image-queue/manage", h.handleManage)

	return r, nil
}

// identity carries the caller identification headers. UserID is mandatory on
// every endpoint that mutates or reads per-user state.
type identity struct {
	UserID         string
	OrganizationID string
	WebsiteID      string
}

func callerIdentity(r *http.Request) identity {
	return identity{
		UserID:         r.Header.Get("X-User-ID"),
		OrganizationID: r.Header.Get("X-Organization-ID"),
		WebsiteID:      r.Header.Get("X-Website-ID"),
	}
}

type addRequest struct {
	RecipeID     int64  `json:"recipeId"`
	CustomPrompt string `json:"customPrompt"`
}

func (h *handler) handleAdd(w http.ResponseWriter, r *http.Request) {
	caller := callerIdentity(r)
	if caller.UserID == "" {
		writeError(w, http.StatusBadRequest, "missing X-User-ID header")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req addRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.queue.Enqueue(r.Context(), imagine_queue.EnqueueRequest{
		RecipeID:       req.RecipeID,
		UserID:         caller.UserID,
		OrganizationID: caller.OrganizationID,
		WebsiteID:      caller.WebsiteID,
		CustomPrompt:   req.CustomPrompt,
		RendererConfig: h.rendererConfig,
	})

	if errors.Is(err, imagine_queue.ErrInvalidRecipeID) {
		writeError(w, http.StatusBadRequest, "recipeId is required")
		return
	}

	if errors.Is(err, imagine_queue.ErrRecipeNotFound) {
		writeError(w, http.StatusNotFound, "recipe not found")
		return
	}

	if err != nil {
		log.Printf("Error enqueueing recipe %d: %v", req.RecipeID, err)
		writeError(w, http.StatusInternalServerError, "could not add recipe to the queue")
		return
	}

	if result.AlreadyCompleted {
		writeJSON(w, http.StatusOK, map[string]any{
			"success":       true,
			"alreadyExists": true,
			"message":       result.Message,
			"imagePath":     result.ExistingRecord.ImagePath,
		})
		return
	}

	if result.Conflict {
		writeJSON(w, http.StatusConflict, map[string]any{
			"success":             false,
			"message":             result.Message,
			"jobId":               result.JobID,
			"position":            result.Position,
			"estimatedCompletion": result.EstimatedCompletion,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":             true,
		"message":             result.Message,
		"jobId":               result.JobID,
		"position":            result.Position,
		"queueLength":         result.QueueLength,
		"estimatedCompletion": result.EstimatedCompletion,
	})
}

func (h *handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	caller := callerIdentity(r)
	if caller.UserID == "" {
		writeError(w, http.StatusBadRequest, "missing X-User-ID header")
		return
	}

	jobID := chi.URLParam(r, "jobID")

	result, err := h.queue.Cancel(r.Context(), jobID, caller.UserID)
	if err != nil {
		log.Printf("Error cancelling job %s: %v", jobID, err)
		writeError(w, http.StatusInternalServerError, "could not cancel the job")
		return
	}

	status := http.StatusOK
	if !result.Success {
		status = http.StatusBadRequest
	}

	writeJSON(w, status, map[string]any{
		"success": result.Success,
		"message": result.Message,
	})
}

type jobView struct {
	ID                  string     `json:"id"`
	RecipeID            int64      `json:"recipeId"`
	Status              string     `json:"status"`
	Position            int        `json:"position,omitempty"`
	EstimatedCompletion *time.Time `json:"estimatedCompletion,omitempty"`
	RetryCount          int        `json:"retryCount"`
	ErrorMessage        string     `json:"errorMessage,omitempty"`
	CreatedAt           time.Time  `json:"createdAt"`
}

func (h *handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	caller := callerIdentity(r)
	if caller.UserID == "" {
		writeError(w, http.StatusBadRequest, "missing X-User-ID header")
		return
	}

	snapshot, err := h.queue.Status(r.Context(), caller.UserID, caller.OrganizationID)
	if err != nil {
		log.Printf("Error reading queue status: %v", err)
		writeError(w, http.StatusInternalServerError, "could not read queue status")
		return
	}

	jobs := make([]jobView, 0, len(snapshot.UserJobs))

	for _, job := range snapshot.UserJobs {
		view := jobView{
			ID:           job.ID,
			RecipeID:     job.RecipeID,
			Status:       string(job.Status),
			RetryCount:   job.RetryCount,
			ErrorMessage: job.ErrorMessage,
			CreatedAt:    job.CreatedAt,
		}

		if job.Status == entities.JobStatusQueued {
			view.Position = job.Position
			estimated := job.EstimatedCompletion
			view.EstimatedCompletion = &estimated
		}

		jobs = append(jobs, view)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"queueLength": snapshot.QueueLength,
		"jobs":        jobs,
	})
}

func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	report, err := h.healthMonitor.Check(r.Context())
	if err != nil {
		log.Printf("Error checking queue health: %v", err)
		writeError(w, http.StatusInternalServerError, "could not check queue health")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"status":  report.Status,
		"issues":  report.Issues,
		"metrics": report.Metrics,
	})
}

type manageRequest struct {
	Action string   `json:"action"`
	JobIDs []string `json:"jobIds"`
}

func (h *handler) handleManage(w http.ResponseWriter, r *http.Request) {
	caller := callerIdentity(r)
	if caller.UserID == "" {
		writeError(w, http.StatusBadRequest, "missing X-User-ID header")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req manageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	switch req.Action {
	case "clear_failed":
		cleared, err := h.queue.ClearFailed(r.Context(), caller.OrganizationID)
		if err != nil {
			log.Printf("Error clearing failed jobs: %v", err)
			writeError(w, http.StatusInternalServerError, "could not clear failed jobs")
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": fmt.Sprintf("cleared %d failed job(s)", cleared),
			"cleared": cleared,
		})

	case "clear_completed":
		cleared, err := h.queue.ClearCompleted(r.Context(), caller.OrganizationID)
		if err != nil {
			log.Printf("Error clearing completed jobs: %v", err)
			writeError(w, http.StatusInternalServerError, "could not clear completed jobs")
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": fmt.Sprintf("cleared %d completed job(s)", cleared),
			"cleared": cleared,
		})

	case "retry_failed":
		retried, err := h.queue.RetryFailed(r.Context(), req.JobIDs, caller.OrganizationID)
		if err != nil {
			log.Printf("Error retrying failed jobs: %v", err)
			writeError(w, http.StatusInternalServerError, "could not retry failed jobs")
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"message": fmt.Sprintf("requeued %d failed job(s)", retried),
			"retried": retried,
		})

	default:
		writeError(w, http.StatusBadRequest,
			"unknown action, expected clear_failed, clear_completed or retry_failed")
	}
}

type recordView struct {
	ID            string    `json:"id"`
	RecipeID      int64     `json:"recipeId"`
	Status        string    `json:"status"`
	Prompt        string    `json:"prompt"`
	ImagePath     string    `json:"imagePath,omitempty"`
	Error         string    `json:"error,omitempty"`
	FilterChanges string    `json:"filterChanges,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

func (h *handler) handleImages(w http.ResponseWriter, r *http.Request) {
	records, err := h.listRecords(r)
	if err != nil {
		log.Printf("Error listing generation records: %v", err)
		writeError(w, http.StatusInternalServerError, "could not list generated images")
		return
	}

	views := make([]recordView, 0, len(records))
	for _, record := range records {
		views = append(views, recordView{
			ID:            record.ID,
			RecipeID:      record.RecipeID,
			Status:        string(record.Status),
			Prompt:        record.Prompt,
			ImagePath:     record.ImagePath,
			Error:         record.Error,
			FilterChanges: record.FilterChanges,
			CreatedAt:     record.CreatedAt,
			UpdatedAt:     record.UpdatedAt,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"images":  views,
	})
}

func (h *handler) handleExport(w http.ResponseWriter, r *http.Request) {
	records, err := h.listRecords(r)
	if err != nil {
		log.Printf("Error exporting generation records: %v", err)
		writeError(w, http.StatusInternalServerError, "could not export generated images")
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="image-generations.csv"`)

	cw := csv.NewWriter(w)

	_ = cw.Write([]string{"id", "recipe_id", "status", "prompt", "image_path", "error", "created_at", "updated_at"})

	for _, record := range records {
		_ = cw.Write([]string{
			record.ID,
			strconv.FormatInt(record.RecipeID, 10),
			string(record.Status),
			record.Prompt,
			record.ImagePath,
			record.Error,
			record.CreatedAt.Format(time.RFC3339),
			record.UpdatedAt.Format(time.RFC3339),
		})
	}

	cw.Flush()
}

func (h *handler) listRecords(r *http.Request) ([]*entities.GenerationRecord, error) {
	if raw := r.URL.Query().Get("recipeId"); raw != "" {
		recipeID, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return []*entities.GenerationRecord{}, nil
		}

		return h.generationRepo.ListForRecipe(r.Context(), recipeID)
	}

	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err == nil && parsed > 0 && parsed <= 1000 {
			limit = parsed
		}
	}

	return h.generationRepo.ListAll(r.Context(), limit)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	err := json.NewEncoder(w).Encode(payload)
	if err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{
		"success": false,
		"message": message,
	})
}

package harvest

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/blockedby/tg-lake/internal/models"
	"github.com/blockedby/tg-lake/internal/report"
	"github.com/blockedby/tg-lake/internal/telegram"
)

// SummaryStore lists finished runs. *report.Archive implements it.
type SummaryStore interface {
	List() ([]*models.RunSummary, error)
	Get(sessionID string) (*models.RunSummary, error)
}

// StatusProvider reports the telegram session status. *telegram.Client implements it.
type StatusProvider interface {
	GetStatus() telegram.Status
}

// Handler handles HTTP requests for the ops API
type Handler struct {
	manager   *RunManager
	summaries SummaryStore
	telegram  StatusProvider
	defaults  func() Options
}

// NewHandler creates a new handler. defaults builds the base options of a
// run at request time.
func NewHandler(manager *RunManager, summaries SummaryStore, status StatusProvider, defaults func() Options) *Handler {
	return &Handler{
		manager:   manager,
		summaries: summaries,
		telegram:  status,
		defaults:  defaults,
	}
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// TelegramStatus handles GET /api/v1/telegram/status
func (h *Handler) TelegramStatus(w http.ResponseWriter, r *http.Request) {
	status := telegram.Status("UNKNOWN")
	if h.telegram != nil {
		status = h.telegram.GetStatus()
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": string(status)})
}

// StartRun handles POST /api/v1/runs
func (h *Handler) StartRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid json: "+err.Error())
			return
		}
	}

	if err := req.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	opts := req.Apply(h.defaults())

	run, err := h.manager.Start(r.Context(), opts)
	if err != nil {
		switch {
		case errors.Is(err, ErrAlreadyRunning):
			respondError(w, http.StatusConflict, err.Error())
		case errors.Is(err, ErrNoChannels):
			respondError(w, http.StatusBadRequest, err.Error())
		default:
			respondError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	respondJSON(w, http.StatusAccepted, RunResponse{
		RunID:     run.ID.String(),
		Status:    "running",
		Channels:  run.Options.Channels,
		StartedAt: run.StartedAt,
	})
}

// StopRun handles DELETE /api/v1/runs/current
func (h *Handler) StopRun(w http.ResponseWriter, r *http.Request) {
	h.manager.Stop()
	respondJSON(w, http.StatusOK, map[string]string{
		"message": "stop requested",
	})
}

// CurrentRun handles GET /api/v1/runs/current
func (h *Handler) CurrentRun(w http.ResponseWriter, r *http.Request) {
	current := h.manager.Current()
	if current == nil {
		respondJSON(w, http.StatusOK, map[string]string{"status": "idle"})
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "running",
		"run_id":     current.ID.String(),
		"started_at": current.StartedAt.Format(time.RFC3339),
		"channels":   current.Options.Channels,
	})
}

// ListRuns handles GET /api/v1/runs
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.summaries.List()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if summaries == nil {
		summaries = []*models.RunSummary{}
	}
	respondJSON(w, http.StatusOK, summaries)
}

// GetRun handles GET /api/v1/runs/{sessionID}
func (h *Handler) GetRun(w http.ResponseWriter, r *http.Request) {
	summary, err := h.summaries.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		if errors.Is(err, report.ErrNotFound) {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, summary)
}

// helper functions

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}

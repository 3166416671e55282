// Package handlers provides HTTP handlers for the deck generation API.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/cinedeck/cinedeck/internal/artifact"
	"github.com/cinedeck/cinedeck/internal/docext"
	"github.com/cinedeck/cinedeck/internal/observability"
	"github.com/cinedeck/cinedeck/internal/task"
	"github.com/cinedeck/cinedeck/internal/worker"
)

const defaultMaxUploadBytes = 25 << 20

// DeckHandler handles deck generation and task lifecycle requests.
type DeckHandler struct {
	logger         *observability.Logger
	registry       task.Registry
	pool           *worker.Pool
	store          *artifact.Store
	maxUploadBytes int64
}

// NewDeckHandler creates a new deck handler. maxUploadBytes caps multipart
// uploads; zero or negative selects the default.
func NewDeckHandler(logger *observability.Logger, registry task.Registry, pool *worker.Pool, store *artifact.Store, maxUploadBytes int64) *DeckHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = defaultMaxUploadBytes
	}
	return &DeckHandler{
		logger:         logger,
		registry:       registry,
		pool:           pool,
		store:          store,
		maxUploadBytes: maxUploadBytes,
	}
}

// GenerateRequestDTO represents the JSON request for deck generation.
type GenerateRequestDTO struct {
	Text      string `json:"text"`
	MaxSlides int    `json:"maxSlides,omitempty"`
}

// TaskDTO represents the API view of a task.
type TaskDTO struct {
	ID           string `json:"id"`
	State        string `json:"state"`
	Progress     string `json:"progress,omitempty"`
	CurrentSlide int    `json:"currentSlide,omitempty"`
	TotalSlides  int    `json:"totalSlides,omitempty"`
	ErrorCode    string `json:"errorCode,omitempty"`
	ErrorDetail  string `json:"errorDetail,omitempty"`
	CreatedAt    string `json:"createdAt"`
	UpdatedAt    string `json:"updatedAt"`
}

// Generate handles POST /api/v1/decks. It accepts either a JSON body with
// raw text or a multipart upload of a PDF, DOCX, or TXT document, registers
// a Pending task, and enqueues the job.
func (h *DeckHandler) Generate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var text string
	var maxSlides int

	contentType := r.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "multipart/form-data") {
		if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid multipart body", err.Error())
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "file field required", err.Error())
			return
		}
		defer file.Close()

		data, err := io.ReadAll(io.LimitReader(file, h.maxUploadBytes+1))
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "failed to read upload", err.Error())
			return
		}
		if int64(len(data)) > h.maxUploadBytes {
			h.writeError(w, http.StatusRequestEntityTooLarge, "upload too large", "")
			return
		}

		hint, err := docext.HintFromFilename(header.Filename)
		if err != nil {
			h.writeError(w, http.StatusUnsupportedMediaType, "unsupported document format", err.Error())
			return
		}
		text, err = docext.ExtractText(data, hint)
		if err != nil {
			h.writeError(w, http.StatusUnprocessableEntity, "text extraction failed", err.Error())
			return
		}
		if n, err := strconv.Atoi(r.FormValue("maxSlides")); err == nil && n > 0 {
			maxSlides = n
		}
	} else {
		var reqDTO GenerateRequestDTO
		if err := json.NewDecoder(r.Body).Decode(&reqDTO); err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
			return
		}
		text = reqDTO.Text
		maxSlides = reqDTO.MaxSlides
	}

	if strings.TrimSpace(text) == "" {
		h.writeError(w, http.StatusBadRequest, "text is required", "")
		return
	}
	if v := r.URL.Query().Get("maxSlides"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			maxSlides = n
		}
	}

	tk := task.NewTask()
	if err := h.registry.Put(ctx, tk); err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to register task", err.Error())
		return
	}

	if err := h.pool.Submit(worker.Job{TaskID: tk.ID, Text: text, MaxSlides: maxSlides}); err != nil {
		if _, uerr := h.registry.Update(ctx, tk.ID, func(t *task.Task) error {
			return t.MarkFailed(err)
		}); uerr != nil {
			h.logger.Error().Err(uerr).Msg("Failed to record rejected job")
		}
		if errors.Is(err, worker.ErrQueueFull) {
			h.writeError(w, http.StatusServiceUnavailable, "server busy", "job queue full")
			return
		}
		h.writeError(w, http.StatusInternalServerError, "failed to enqueue job", err.Error())
		return
	}

	h.logger.Info().Str("task_id", tk.ID).Int("chars", len(text)).Msg("Deck generation accepted")
	h.writeJSON(w, http.StatusAccepted, toTaskDTO(tk))
}

// Status handles GET /api/v1/tasks/{taskId}.
func (h *DeckHandler) Status(w http.ResponseWriter, r *http.Request) {
	tk, ok := h.lookup(w, r)
	if !ok {
		return
	}
	h.writeJSON(w, http.StatusOK, toTaskDTO(tk))
}

// Cancel handles POST /api/v1/tasks/{taskId}/cancel. Cancellation is
// cooperative: the flag is raised here and workers observe it at their next
// checkpoint.
func (h *DeckHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tk, ok := h.lookup(w, r)
	if !ok {
		return
	}

	if tk.State.Terminal() {
		h.writeError(w, http.StatusConflict, "task already finished", string(tk.State))
		return
	}

	if err := h.registry.RequestCancel(ctx, tk.ID); err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to request cancellation", err.Error())
		return
	}

	h.logger.Info().Str("task_id", tk.ID).Msg("Cancellation requested")
	h.writeJSON(w, http.StatusAccepted, toTaskDTO(tk))
}

// Artifact handles GET /api/v1/tasks/{taskId}/artifact.
func (h *DeckHandler) Artifact(w http.ResponseWriter, r *http.Request) {
	tk, ok := h.lookup(w, r)
	if !ok {
		return
	}

	if tk.State != task.StateSucceeded || tk.ArtifactRef == "" {
		h.writeError(w, http.StatusConflict, "artifact not available", string(tk.State))
		return
	}

	rc, err := h.store.Open(tk.ArtifactRef)
	if err != nil {
		h.writeError(w, http.StatusNotFound, "artifact expired", err.Error())
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.presentationml.presentation")
	w.Header().Set("Content-Disposition", `attachment; filename="`+tk.ArtifactRef+`"`)
	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Warn().Err(err).Str("task_id", tk.ID).Msg("Artifact download interrupted")
	}
}

// lookup fetches the task named in the URL, writing the error response on
// failure.
func (h *DeckHandler) lookup(w http.ResponseWriter, r *http.Request) (*task.Task, bool) {
	id := chi.URLParam(r, "taskId")
	tk, err := h.registry.Get(r.Context(), id)
	if errors.Is(err, task.ErrTaskNotFound) {
		h.writeError(w, http.StatusNotFound, "task not found", id)
		return nil, false
	}
	if err != nil {
		h.writeError(w, http.StatusInternalServerError, "failed to load task", err.Error())
		return nil, false
	}
	return tk, true
}

func toTaskDTO(tk *task.Task) TaskDTO {
	return TaskDTO{
		ID:           tk.ID,
		State:        string(tk.State),
		Progress:     tk.Progress,
		CurrentSlide: tk.CurrentSlide,
		TotalSlides:  tk.TotalSlides,
		ErrorCode:    string(tk.ErrorCode),
		ErrorDetail:  tk.ErrorDetail,
		CreatedAt:    tk.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		UpdatedAt:    tk.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

func (h *DeckHandler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *DeckHandler) writeError(w http.ResponseWriter, status int, message, detail string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	resp := map[string]string{
		"error": message,
	}
	if detail != "" {
		resp["detail"] = detail
	}
	json.NewEncoder(w).Encode(resp)
}

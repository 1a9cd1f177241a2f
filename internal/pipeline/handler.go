package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"audio-pipeline/internal/platform/metrics"

	"github.com/go-chi/chi/v5"
)

const eventContentType = "application/x-ndjson"

// Handler exposes pipeline HTTP endpoints using go-chi.
type Handler struct {
	svc     *Service
	gateway *Gateway
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewHandler returns a Handler that uses the given Service, Gateway, Logger,
// and optional Metrics. Metrics may be nil to disable metric recording
// (e.g. in tests).
func NewHandler(svc *Service, gateway *Gateway, log *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{svc: svc, gateway: gateway, log: log, metrics: m}
}

type submitResponse struct {
	TaskID   TaskID `json:"taskId"`
	Accepted bool   `json:"accepted"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// SubmitTrack handles POST /tracks.
// Body: { "sourceArtifactId": "...", "title": "...", "genre": "...", "coverArtifactId": "..." }.
// Validation failures return 400 and never create a task.
func (h *Handler) SubmitTrack(w http.ResponseWriter, r *http.Request) {
	var input TrackInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		h.log.Debug("invalid submit body", slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	taskID, err := h.svc.Submit(r.Context(), input)
	if err != nil {
		if KindOf(err) == KindInvalidInput {
			h.log.Debug("submit rejected", slog.String("error", err.Error()))
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
			return
		}
		h.log.Error("submit failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	h.log.Info("track accepted",
		slog.String("task_id", string(taskID)),
		slog.String("title", input.Title))
	writeJSON(w, http.StatusAccepted, submitResponse{TaskID: taskID, Accepted: true})
}

// GetTask handles GET /tasks/{task_id} and returns a single task snapshot.
func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	id := TaskID(chi.URLParam(r, "task_id"))
	if id == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	task, ok := h.svc.registry.Get(id)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "task not found"})
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// StreamEvents handles GET /tasks/{task_id}/events.
// It streams newline-delimited JSON progress events, one event per line with
// a blank line separator, until the task reaches a terminal state or the
// client disconnects. Disconnecting never affects the task itself.
func (h *Handler) StreamEvents(w http.ResponseWriter, r *http.Request) {
	id := TaskID(chi.URLParam(r, "task_id"))
	if id == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		h.log.Error("response writer does not support streaming")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", eventContentType)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	if h.metrics != nil {
		h.metrics.IncOpenStreams()
		defer h.metrics.DecOpenStreams()
	}

	enc := json.NewEncoder(w)
	err := h.gateway.Stream(r.Context(), id, func(ev Event) error {
		if err := enc.Encode(ev); err != nil {
			return err
		}
		if _, err := w.Write([]byte("\n")); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		h.log.Debug("progress stream closed",
			slog.String("task_id", string(id)),
			slog.String("error", err.Error()))
		return
	}

	h.log.Debug("progress stream finished", slog.String("task_id", string(id)))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

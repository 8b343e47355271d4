// Package httpx provides the HTTP API for the genjobs video-generation
// orchestration service.
package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/vidora/genjobs/internal/domain/model"
)

// JobService is the orchestration surface the HTTP handlers expose.
type JobService interface {
	Submit(ctx context.Context, req model.GenerationRequest) (model.Snapshot, error)
	GetStatus(ctx context.Context, jobID string) (model.Snapshot, error)
	Subscribe(jobID string) (<-chan model.Snapshot, func(), error)
	Cancel(ctx context.Context, jobID string) error
	ResumeAll(ctx context.Context, userScope string) (int, error)
}

// JobHandlers provides HTTP handlers for job-related operations.
type JobHandlers struct {
	Svc    JobService
	Logger *slog.Logger
}

// SubmitJob handles POST /api/jobs.
func (h *JobHandlers) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var req model.GenerationRequest
	if !DecodeJSON(w, r, &req) {
		return
	}

	snapshot, err := h.Svc.Submit(r.Context(), req)
	if err != nil {
		WriteAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, snapshot)
}

// GetJob handles GET /api/jobs/{id}.
func (h *JobHandlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		WriteError(
			w,
			ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("job id is required")},
		)
		return
	}

	snapshot, err := h.Svc.GetStatus(r.Context(), jobID)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, snapshot)
}

// CancelJob handles DELETE /api/jobs/{id}.
func (h *JobHandlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		WriteError(
			w,
			ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("job id is required")},
		)
		return
	}

	if err := h.Svc.Cancel(r.Context(), jobID); err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// ResumeJobs handles POST /api/jobs/resume.
func (h *JobHandlers) ResumeJobs(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID string `json:"user_id"`
	}
	if r.ContentLength != 0 && !DecodeJSON(w, r, &body) {
		return
	}

	count, err := h.Svc.ResumeAll(r.Context(), body.UserID)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]int{"count": count})
}

// StreamJobEvents handles GET /api/jobs/{id}/events. It pushes snapshot
// updates as server-sent events until the job reaches a terminal state or
// the client disconnects.
func (h *JobHandlers) StreamJobEvents(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		WriteError(
			w,
			ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_path", Err: errors.New("job id is required")},
		)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, ErrorParams{
			Code:    http.StatusInternalServerError,
			ErrCode: "streaming_unsupported",
			Err:     errors.New("response writer does not support streaming"),
		})
		return
	}

	events, cancel, err := h.Svc.Subscribe(jobID)
	if err != nil {
		WriteAppError(w, err)
		return
	}
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case snapshot, open := <-events:
			if !open {
				return
			}
			if !h.writeEvent(w, flusher, snapshot) {
				return
			}
			if snapshot.Status.Terminal() {
				return
			}
		}
	}
}

func (h *JobHandlers) writeEvent(w http.ResponseWriter, flusher http.Flusher, snapshot model.Snapshot) bool {
	payload, err := json.Marshal(snapshot)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Error("marshal snapshot event", "job_id", snapshot.JobID, "error", err)
		}
		return false
	}
	if _, err := w.Write(append(append([]byte("data: "), payload...), '\n', '\n')); err != nil {
		return false
	}
	flusher.Flush()
	return true
}

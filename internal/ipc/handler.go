// Package ipc provides the HTTP control surface for sessions and jobs.
package ipc

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/Rogers-F/agentloop/internal/domain"
	"github.com/Rogers-F/agentloop/internal/store"
)

const maxBodyBytes = 1 << 20

// SessionControl is the session manager surface exposed over HTTP.
type SessionControl interface {
	Create(workspace string) (string, error)
	List() []domain.SessionInfo
	Exists(id string) bool
	Write(id string, data []byte) error
	Resize(id string, cols, rows uint16) error
	Terminate(id string) error
	RecentOutput(id string) []string
	Metrics(id string) (domain.SessionMetrics, error)
}

// JobControl is the orchestrator surface exposed over HTTP.
type JobControl interface {
	CreateJob(ctx context.Context, description, workspace string) (*domain.Job, error)
	StartJob(ctx context.Context, jobID, sessionID string) (*domain.Job, error)
	Advance(ctx context.Context, jobID string) error
	Approve(ctx context.Context, jobID string) (*domain.Job, error)
	Fix(ctx context.Context, jobID, instructions string) (*domain.Job, error)
	Retry(ctx context.Context, jobID string) (*domain.Job, error)
	Get(ctx context.Context, id string) (*domain.Job, error)
	List(ctx context.Context) ([]domain.Job, error)
	Subscribe(buffer int) (<-chan domain.JobUpdate, func())
}

// ReviewHistory lists the recorded reviews of a job.
type ReviewHistory interface {
	History(ctx context.Context, jobID string) ([]domain.ReviewRecord, error)
}

// Handler holds all dependencies for the HTTP handlers.
type Handler struct {
	Sessions  SessionControl
	Jobs      JobControl
	Reviews   ReviewHistory
	DB        *sql.DB
	AuditRepo *store.AuditRepo
	Logger    *slog.Logger
	Version   string
	// KeepAlive is the SSE comment interval. Zero means 15s.
	KeepAlive time.Duration
}

// CreateSessionRequest is the body for POST /api/v1/sessions.
type CreateSessionRequest struct {
	Workspace string `json:"workspace"`
}

// InputRequest is the body for POST /api/v1/sessions/{id}/input.
type InputRequest struct {
	Data string `json:"data"`
}

// ResizeRequest is the body for POST /api/v1/sessions/{id}/resize.
type ResizeRequest struct {
	Cols uint16 `json:"cols"`
	Rows uint16 `json:"rows"`
}

// OutputResponse is the response for GET /api/v1/sessions/{id}/output.
type OutputResponse struct {
	SessionID string   `json:"session_id"`
	Lines     []string `json:"lines"`
}

// CreateJobRequest is the body for POST /api/v1/jobs.
type CreateJobRequest struct {
	Description string `json:"description"`
	Workspace   string `json:"workspace"`
	SessionID   string `json:"session_id"`
	Start       bool   `json:"start"`
}

// StartJobRequest is the optional body for POST /api/v1/jobs/{id}/start.
type StartJobRequest struct {
	SessionID string `json:"session_id"`
}

// FixRequest is the optional body for POST /api/v1/jobs/{id}/fix.
type FixRequest struct {
	Instructions string `json:"instructions"`
}

// APIError is a structured error response.
type APIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (h *Handler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

// Health handles GET /api/v1/health.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"version":  h.Version,
		"sessions": len(h.Sessions.List()),
	})
}

// CreateSession handles POST /api/v1/sessions.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if !decodeBody(w, r, &req, true) {
		return
	}
	id, err := h.Sessions.Create(req.Workspace)
	if err != nil {
		h.audit(r, "", "session", "create_failed", req, "warn")
		writeError(w, err)
		return
	}
	h.audit(r, "", "session", "create", map[string]string{"session_id": id, "workspace": req.Workspace}, "info")
	writeJSON(w, http.StatusCreated, map[string]string{"session_id": id})
}

// ListSessions handles GET /api/v1/sessions.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Sessions.List())
}

// SessionInput handles POST /api/v1/sessions/{id}/input.
func (h *Handler) SessionInput(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req InputRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	if err := h.Sessions.Write(id, []byte(req.Data)); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ResizeSession handles POST /api/v1/sessions/{id}/resize.
func (h *Handler) ResizeSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req ResizeRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	if req.Cols == 0 || req.Rows == 0 {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "cols and rows must be positive"})
		return
	}
	if err := h.Sessions.Resize(id, req.Cols, req.Rows); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// TerminateSession handles DELETE /api/v1/sessions/{id}.
func (h *Handler) TerminateSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.Sessions.Terminate(id); err != nil {
		writeError(w, err)
		return
	}
	h.audit(r, "", "session", "terminate", map[string]string{"session_id": id}, "info")
	w.WriteHeader(http.StatusNoContent)
}

// SessionOutput handles GET /api/v1/sessions/{id}/output.
func (h *Handler) SessionOutput(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !h.Sessions.Exists(id) {
		writeError(w, domain.ErrSessionNotFound)
		return
	}
	lines := h.Sessions.RecentOutput(id)
	if lines == nil {
		lines = []string{}
	}
	writeJSON(w, http.StatusOK, OutputResponse{SessionID: id, Lines: lines})
}

// SessionMetrics handles GET /api/v1/sessions/{id}/metrics.
func (h *Handler) SessionMetrics(w http.ResponseWriter, r *http.Request) {
	m, err := h.Sessions.Metrics(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// CreateJob handles POST /api/v1/jobs.
func (h *Handler) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req CreateJobRequest
	if !decodeBody(w, r, &req, false) {
		return
	}
	if req.Description == "" {
		writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "description is required"})
		return
	}

	job, err := h.Jobs.CreateJob(r.Context(), req.Description, req.Workspace)
	if err != nil {
		writeError(w, err)
		return
	}
	h.audit(r, job.ID, "job", "create", req, "info")

	if req.Start {
		job, err = h.Jobs.StartJob(r.Context(), job.ID, req.SessionID)
		if err != nil {
			writeError(w, err)
			return
		}
		h.audit(r, job.ID, "job", "start", map[string]string{"session_id": job.SessionID}, "info")
	}
	writeJSON(w, http.StatusCreated, job)
}

// ListJobs handles GET /api/v1/jobs.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.Jobs.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if jobs == nil {
		jobs = []domain.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

// GetJob handles GET /api/v1/jobs/{id}.
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.Jobs.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// StartJob handles POST /api/v1/jobs/{id}/start.
func (h *Handler) StartJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req StartJobRequest
	if !decodeBody(w, r, &req, true) {
		return
	}
	job, err := h.Jobs.StartJob(r.Context(), id, req.SessionID)
	if err != nil {
		writeError(w, err)
		return
	}
	h.audit(r, id, "job", "start", map[string]string{"session_id": job.SessionID}, "info")
	writeJSON(w, http.StatusOK, job)
}

// AdvanceJob handles POST /api/v1/jobs/{id}/advance.
func (h *Handler) AdvanceJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.Jobs.Advance(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	h.audit(r, id, "job", "advance", nil, "info")
	w.WriteHeader(http.StatusAccepted)
}

// ApproveJob handles POST /api/v1/jobs/{id}/approve.
func (h *Handler) ApproveJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	job, err := h.Jobs.Approve(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	h.audit(r, id, "job", "approve", nil, "info")
	writeJSON(w, http.StatusOK, job)
}

// FixJob handles POST /api/v1/jobs/{id}/fix.
func (h *Handler) FixJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req FixRequest
	if !decodeBody(w, r, &req, true) {
		return
	}
	job, err := h.Jobs.Fix(r.Context(), id, req.Instructions)
	if err != nil {
		writeError(w, err)
		return
	}
	h.audit(r, id, "job", "fix", req, "info")
	writeJSON(w, http.StatusOK, job)
}

// RetryJob handles POST /api/v1/jobs/{id}/retry.
func (h *Handler) RetryJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	job, err := h.Jobs.Retry(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	h.audit(r, id, "job", "retry", nil, "info")
	writeJSON(w, http.StatusAccepted, job)
}

// ListReviews handles GET /api/v1/jobs/{id}/reviews.
func (h *Handler) ListReviews(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := h.Jobs.Get(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	records := []domain.ReviewRecord{}
	if h.Reviews != nil {
		got, err := h.Reviews.History(r.Context(), id)
		if err != nil {
			writeError(w, err)
			return
		}
		if got != nil {
			records = got
		}
	}
	writeJSON(w, http.StatusOK, records)
}

// StreamJob handles GET /api/v1/jobs/{id}/stream (SSE). The current record
// is sent first, then every update until the job completes or the client
// leaves. Failed jobs stay streamed since they can be retried.
func (h *Handler) StreamJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, APIError{Code: 500, Message: "streaming not supported"})
		return
	}

	updates, cancel := h.Jobs.Subscribe(64)
	defer cancel()

	job, err := h.Jobs.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	writeSSEEvent(w, flusher, domain.JobUpdate{JobID: id, Job: *job})
	if job.Status == domain.JobCompleted {
		return
	}

	interval := h.KeepAlive
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()
		case u, ok := <-updates:
			if !ok {
				return
			}
			if u.JobID != id {
				continue
			}
			writeSSEEvent(w, flusher, u)
			if u.Job.Status == domain.JobCompleted {
				return
			}
		}
	}
}

// ListAudit handles GET /api/v1/audit?category=&limit=.
func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	if h.DB == nil || h.AuditRepo == nil {
		writeJSON(w, http.StatusOK, []domain.AuditRecord{})
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "limit must be a positive integer"})
			return
		}
		limit = n
	}
	recs, err := h.AuditRepo.ListRecent(r.Context(), h.DB, r.URL.Query().Get("category"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	if recs == nil {
		recs = []domain.AuditRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// audit records an operator action. Failures are logged only.
func (h *Handler) audit(r *http.Request, jobID, category, action string, payload any, severity string) {
	if h.DB == nil || h.AuditRepo == nil {
		return
	}
	raw := "{}"
	if payload != nil {
		if b, err := json.Marshal(payload); err == nil {
			raw = string(b)
		}
	}
	actor := r.Header.Get("X-Actor")
	if actor == "" {
		actor = "api"
	}
	rec := domain.AuditRecord{
		ID:          uuid.NewString(),
		JobID:       jobID,
		Category:    category,
		Actor:       actor,
		Action:      action,
		RequestJSON: raw,
		Severity:    severity,
		CreatedAt:   time.Now().UnixNano(),
	}
	if err := h.AuditRepo.Record(r.Context(), h.DB, rec); err != nil {
		h.logger().Warn("audit record failed", "action", action, "job_id", jobID, "error", err)
	}
}

// decodeBody reads a JSON body into v. An empty body is accepted when
// optional is set.
func decodeBody(w http.ResponseWriter, r *http.Request, v any, optional bool) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	err := json.NewDecoder(r.Body).Decode(v)
	if err == nil || (optional && errors.Is(err, io.EOF)) {
		return true
	}
	writeJSON(w, http.StatusBadRequest, APIError{Code: 400, Message: "invalid request body"})
	return false
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	var engErr *domain.EngineError
	if errors.As(err, &engErr) {
		status := http.StatusInternalServerError
		switch engErr.Code {
		case domain.ErrJobNotFound.Code, domain.ErrSessionNotFound.Code, domain.ErrSnapshotNotFound.Code:
			status = http.StatusNotFound
		case domain.ErrJobBusy.Code, domain.ErrDuplicateJob.Code, domain.ErrOptimisticLock.Code:
			status = http.StatusConflict
		case domain.ErrInvalidTransition.Code, domain.ErrJobNotBound.Code, domain.ErrNoActiveSession.Code:
			status = http.StatusUnprocessableEntity
		case domain.ErrInvalidJob.Code, domain.ErrInvalidStatus.Code:
			status = http.StatusBadRequest
		case domain.ErrOrchestratorDown.Code, domain.ErrManagerClosed.Code:
			status = http.StatusServiceUnavailable
		case domain.ErrSpawnFailed.Code:
			status = http.StatusBadGateway
		}
		writeJSON(w, status, APIError{Code: engErr.Code, Message: engErr.Message})
		return
	}
	writeJSON(w, http.StatusInternalServerError, APIError{Code: -1, Message: err.Error()})
}

func writeSSEEvent(w http.ResponseWriter, f http.Flusher, u domain.JobUpdate) {
	data, _ := json.Marshal(u)
	fmt.Fprintf(w, "event: job\ndata: %s\n\n", data)
	f.Flush()
}

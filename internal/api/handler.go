package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/peedubyah/tradebot/internal/domain"
	"github.com/peedubyah/tradebot/internal/orchestrator"
	"github.com/peedubyah/tradebot/internal/registry"
)

// Registry is the job-management surface the handler fronts.
type Registry interface {
	AddJob(ctx context.Context, id, schedule string, filter domain.SearchFilter) error
	RemoveJob(ctx context.Context, id string) error
	UpdateJob(ctx context.Context, id, newSchedule string, filter domain.SearchFilter) error
	ListJobs() []registry.JobStatus
}

// AdHocRunner executes one workflow pass outside the registry.
type AdHocRunner interface {
	RunAdHoc(ctx context.Context, filter domain.SearchFilter) (orchestrator.RunOutcome, error)
}

// HealthChecker provides store health status for verbose /health responses.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	registry Registry
	runner   AdHocRunner
	db       HealthChecker
}

func NewHandler(reg Registry, runner AdHocRunner) *Handler {
	return &Handler{registry: reg, runner: runner}
}

// WithHealthChecker sets the store health checker for verbose /health responses.
func (h *Handler) WithHealthChecker(db HealthChecker) *Handler {
	h.db = db
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/health" && r.Method == http.MethodGet:
		h.health(w, r)

	case r.URL.Path == "/add-job" && r.Method == http.MethodPost:
		h.addJob(w, r)

	case r.URL.Path == "/remove-job" && r.Method == http.MethodPost:
		h.removeJob(w, r)

	case r.URL.Path == "/update-job" && r.Method == http.MethodPost:
		h.updateJob(w, r)

	case r.URL.Path == "/list-jobs" && r.Method == http.MethodGet:
		h.listJobs(w, r)

	case r.URL.Path == "/run-now" && r.Method == http.MethodPost:
		h.runNow(w, r)

	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	verbose := r.URL.Query().Get("verbose") == "true"

	if !verbose || h.db == nil {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	resp := HealthResponse{
		Status:     "ok",
		Components: make(map[string]string),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		resp.Status = "degraded"
		resp.Components["database"] = "unhealthy: " + err.Error()
	} else {
		resp.Components["database"] = "healthy"
	}

	statusCode := http.StatusOK
	if resp.Status == "degraded" {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, resp)
}

// maxRequestBodySize is the maximum allowed request body size (1MB).
const maxRequestBodySize = 1 << 20

func (h *Handler) addJob(w http.ResponseWriter, r *http.Request) {
	var req AddJobRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := validateAddJob(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	schedule, _ := scheduleOf(req.Schedule, req.Interval)
	if err := h.registry.AddJob(r.Context(), req.ID, schedule, req.Filter); err != nil {
		h.writeRegistryError(w, "add job", err)
		return
	}

	writeJSON(w, http.StatusCreated, StatusResponse{Status: "created"})
}

func (h *Handler) removeJob(w http.ResponseWriter, r *http.Request) {
	var req RemoveJobRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := validateJobID(req.ID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.registry.RemoveJob(r.Context(), req.ID); err != nil {
		h.writeRegistryError(w, "remove job", err)
		return
	}

	writeJSON(w, http.StatusOK, StatusResponse{Status: "removed"})
}

func (h *Handler) updateJob(w http.ResponseWriter, r *http.Request) {
	var req UpdateJobRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := validateUpdateJob(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	schedule, _ := scheduleOf(req.Schedule, req.Interval)
	if err := h.registry.UpdateJob(r.Context(), req.ID, schedule, req.Filter); err != nil {
		h.writeRegistryError(w, "update job", err)
		return
	}

	writeJSON(w, http.StatusOK, StatusResponse{Status: "updated"})
}

func (h *Handler) listJobs(w http.ResponseWriter, r *http.Request) {
	jobs := h.registry.ListJobs()

	resp := ListJobsResponse{Jobs: make([]JobStatusResponse, len(jobs))}
	for i, j := range jobs {
		resp.Jobs[i] = JobStatusResponse{
			ID:           j.ID,
			Schedule:     j.Schedule,
			NextFireTime: formatTime(j.NextFireTime),
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) runNow(w http.ResponseWriter, r *http.Request) {
	var req RunNowRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := validateFilter(req.Filter); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	outcome, err := h.runner.RunAdHoc(r.Context(), req.Filter)
	if err != nil {
		log.Printf("api: run-now error: %v", err)
		writeError(w, http.StatusBadGateway, "search provider unavailable")
		return
	}

	writeJSON(w, http.StatusOK, RunNowResponse{
		Found:     outcome.Found,
		New:       outcome.New,
		Captured:  outcome.Captured,
		Delivered: outcome.Delivered,
	})
}

// writeRegistryError maps job-management errors to status codes. The
// caller mutated nothing on any of these paths.
func (h *Handler) writeRegistryError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, domain.ErrDuplicateJobID):
		writeError(w, http.StatusConflict, "job id already exists")
	case errors.Is(err, domain.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, domain.ErrInvalidSchedule):
		writeError(w, http.StatusBadRequest, "invalid schedule")
	default:
		log.Printf("api: %s error: %v", op, err)
		writeError(w, http.StatusInternalServerError, "failed to "+op)
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid json")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: json encode error: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// Package api provides the HTTP API handlers and routing for the depot jobs service.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"time"

	"depot/internal/apperrors"
	"depot/internal/health"
	"depot/internal/job"
	"depot/internal/naturallanguage"
)

// Request body limits
const (
	maxSpecificationSize = 1 << 20  // 1 MB
	maxDataUploadSize    = 64 << 20 // 64 MB
	maxAwaitTimeout      = 5 * time.Minute
)

// Handler contains HTTP handlers for the depot API
type Handler struct {
	jobs      *job.Service
	languages *naturallanguage.Service
	health    *health.Checker
}

// NewHandler creates a new API handler
func NewHandler(jobs *job.Service, languages *naturallanguage.Service, healthChecker *health.Checker) *Handler {
	return &Handler{
		jobs:      jobs,
		languages: languages,
		health:    healthChecker,
	}
}

// UploadData handles POST /v1/data
func (h *Handler) UploadData(w http.ResponseWriter, r *http.Request) {
	// One byte over so the service reports oversize bodies as a validation error.
	r.Body = http.MaxBytesReader(w, r.Body, maxDataUploadSize+1)

	encoding := job.Encoding(r.Header.Get("Content-Encoding"))
	if encoding == "" || encoding == "identity" {
		encoding = job.EncodingNone
	}

	data, err := h.jobs.StoreSuppliedData(r.Context(), r.Header.Get("X-Data-Name"), r.Header.Get("Content-Type"), encoding, r.Body)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, data)
}

// DownloadData handles GET /v1/data/{guid}
func (h *Handler) DownloadData(w http.ResponseWriter, r *http.Request) {
	guid := r.PathValue("guid")

	data, body, ok, err := h.jobs.TryObtainData(r.Context(), guid)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	if !ok {
		h.handleError(w, r, apperrors.NotFound("data", guid))
		return
	}
	defer body.Close()

	w.Header().Set("Content-Type", data.MediaType)
	if data.Encoding == job.EncodingGzip {
		w.Header().Set("Content-Encoding", "gzip")
	}
	w.Header().Set("Content-Length", strconv.FormatInt(data.Size, 10))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": data.Name}))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		slog.Warn("Data download interrupted", "dataGuid", guid, "error", err)
	}
}

// SubmitJob handles POST /v1/jobs
func (h *Handler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	mode, err := job.ParseCoalesceMode(r.URL.Query().Get("coalesce"))
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	spec, ok := h.decodeSpecification(w, r)
	if !ok {
		return
	}

	guid, err := h.jobs.Submit(r.Context(), spec, mode)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusAccepted, job.SubmitResponse{GUID: guid})
}

// RunJobImmediately handles POST /v1/jobs/immediate. It blocks until the job
// is terminal and responds with its snapshot.
func (h *Handler) RunJobImmediately(w http.ResponseWriter, r *http.Request) {
	suppress := false
	if v := r.URL.Query().Get("suppressCoalesce"); v != "" {
		var err error
		if suppress, err = strconv.ParseBool(v); err != nil {
			h.handleError(w, r, apperrors.Validation("suppressCoalesce", "suppressCoalesce must be a boolean"))
			return
		}
	}
	spec, ok := h.decodeSpecification(w, r)
	if !ok {
		return
	}

	guid, err := h.jobs.Immediate(r.Context(), spec, suppress)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeSnapshot(w, r, guid)
}

// ListJobs handles GET /v1/jobs
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := job.ListFilter{Kind: q.Get("type"), Owner: q.Get("owner")}
	if s := q.Get("status"); s != "" {
		status, err := job.ParseStatus(s)
		if err != nil {
			h.handleError(w, r, err)
			return
		}
		filter.Status = status
	}

	h.writeJSON(w, http.StatusOK, job.ListResponse{Jobs: h.jobs.List(filter)})
}

// GetJob handles GET /v1/jobs/{guid}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	h.writeSnapshot(w, r, r.PathValue("guid"))
}

// CancelJob handles DELETE /v1/jobs/{guid}
func (h *Handler) CancelJob(w http.ResponseWriter, r *http.Request) {
	if err := h.jobs.Cancel(r.Context(), r.PathValue("guid")); err != nil {
		h.handleError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// AwaitJob handles POST /v1/jobs/{guid}/await?timeout=10s
func (h *Handler) AwaitJob(w http.ResponseWriter, r *http.Request) {
	guid := r.PathValue("guid")
	timeout := maxAwaitTimeout
	if v := r.URL.Query().Get("timeout"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			h.handleError(w, r, apperrors.Validation("timeout", "timeout must be a positive duration"))
			return
		}
		timeout = min(d, maxAwaitTimeout)
	}

	if err := h.jobs.AwaitJobFinished(r.Context(), guid, timeout); err != nil {
		h.handleError(w, r, err)
		return
	}
	h.writeSnapshot(w, r, guid)
}

// decodeSpecification reads a typed specification body, writing the error
// response itself when it returns false.
func (h *Handler) decodeSpecification(w http.ResponseWriter, r *http.Request) (job.Specification, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxSpecificationSize))
	if err != nil {
		h.writeError(w, http.StatusRequestEntityTooLarge, "Invalid request body: "+err.Error())
		return nil, false
	}
	spec, err := h.jobs.DecodeSpecification(body)
	if err != nil {
		h.handleError(w, r, err)
		return nil, false
	}
	return spec, true
}

func (h *Handler) writeSnapshot(w http.ResponseWriter, r *http.Request, guid string) {
	snap, ok := h.jobs.TryGetJob(guid)
	if !ok {
		h.handleError(w, r, apperrors.NotFound("job", guid))
		return
	}
	h.writeJSON(w, http.StatusOK, snap)
}

// Livez handles GET /livez - liveness probe.
// Returns 200 if the process is alive. Does not check dependencies.
func (h *Handler) Livez(w http.ResponseWriter, r *http.Request) {
	response := h.health.Liveness(r.Context())
	h.writeJSON(w, http.StatusOK, response)
}

// Readyz handles GET /readyz - readiness probe.
// Returns 200 if the service is ready to accept traffic.
// Returns 503 if a required dependency is unavailable.
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	response := h.health.Readiness(r.Context())

	status := http.StatusOK
	if !response.IsHealthy() {
		status = http.StatusServiceUnavailable
	}

	h.writeJSON(w, status, response)
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

// errorResponse is the body of every error response.
type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

// writeError writes an error response
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, errorResponse{Error: message})
}

// handleError handles errors from service layer with appropriate HTTP status codes.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatus(err)
	if status >= 500 {
		slog.Error("Internal error", "error", err, "path", r.URL.Path)
	} else {
		slog.Warn("Client error", "error", err, "path", r.URL.Path, "status", status)
	}

	resp := errorResponse{Error: err.Error()}
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		resp.Field = appErr.Field
	}
	h.writeJSON(w, status, resp)
}

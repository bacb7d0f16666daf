// Package httpx provides HTTP handlers and utilities for the portrait job
// manager API.
package httpx

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/apexgen/jobmanager/internal/adapters/flux"
	"github.com/apexgen/jobmanager/internal/core"
	"github.com/apexgen/jobmanager/internal/data"
	"github.com/apexgen/jobmanager/internal/domain/model"
)

// JobController is the orchestration surface the handlers need: start
// background processing for a freshly created job, cancel it on delete.
type JobController interface {
	Start(jobID string) error
	Cancel(jobID string)
}

const defaultMaxUploadBytes = 32 << 20

// JobHandlers provides HTTP handlers for job-related operations.
type JobHandlers struct {
	Store          core.JobStore
	Orchestrator   JobController
	Cache          core.ResultCache
	CacheTTL       time.Duration
	MaxUploadBytes int64
	TimeProvider   data.TimeProvider // Optional: defaults to real time
	Logger         *slog.Logger      // Optional
}

// CreateJob accepts a multipart submission with the reference image and a
// parameters JSON document, persists the job, and kicks off background
// processing. Invalid input is rejected before any record exists.
func (h *JobHandlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	maxUpload := h.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = defaultMaxUploadBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxUpload)

	if err := r.ParseMultipartForm(maxUpload); err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_multipart", Err: err})
		return
	}

	file, _, err := r.FormFile("image_file")
	if err != nil {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "missing_image",
			Err:     errors.New("image_file is required"),
		})
		return
	}
	defer file.Close()

	image, err := io.ReadAll(file)
	if err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "unreadable_image", Err: err})
		return
	}
	if err := flux.ValidateImage(image); err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_image", Err: err})
		return
	}

	rawParams := r.FormValue("parameters")
	if strings.TrimSpace(rawParams) == "" {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "invalid_parameters",
			Err:     errors.New("parameters field is required"),
		})
		return
	}
	params, err := model.ParseParameters([]byte(rawParams))
	if err != nil {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "invalid_parameters",
			Err:     errors.New("invalid parameters format"),
		})
		return
	}

	now := h.now()
	job := &model.Job{
		ID:            uuid.NewString(),
		OriginalImage: image,
		Parameters:    params,
		CurrentStatus: model.StatusStamp{Status: model.JobStatusPending, Timestamp: now},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := h.Store.Create(r.Context(), job); err != nil {
		writeAppError(w, err)
		return
	}

	if err := h.Orchestrator.Start(job.ID); err != nil {
		// No worker will ever pick this record up, so take it back out.
		if delErr := h.Store.Delete(r.Context(), job.ID); delErr != nil && h.Logger != nil {
			h.Logger.Error("failed to remove unstartable job", "job_id", job.ID, "error", delErr)
		}
		writeAppError(w, err)
		return
	}

	WriteJSON(w, http.StatusCreated, map[string]string{
		"job_id":  job.ID,
		"status":  string(model.JobStatusPending),
		"message": "Job created and processing started",
	})
}

// GetJob returns the job's status view: full attempt history with all binary
// payloads stripped.
func (h *JobHandlers) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.Store.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, job.Redacted())
}

// ListJobs returns all jobs, newest first, in the redacted status view.
func (h *JobHandlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.Store.List(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}

	redacted := make([]*model.Job, 0, len(jobs))
	for _, job := range jobs {
		redacted = append(redacted, job.Redacted())
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"jobs":  redacted,
		"count": len(redacted),
	})
}

type resultResponse struct {
	JobID       string `json:"job_id"`
	Status      string `json:"status"`
	ImageBase64 string `json:"image_base64"`
}

// GetResult returns the final image of a completed job. Terminal results are
// immutable, so responses are served from the cache when possible.
func (h *JobHandlers) GetResult(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if h.serveCached(w, r, resultCacheKey(id)) {
		return
	}

	job, err := h.Store.Get(r.Context(), id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	if job.CurrentStatus.Status != model.JobStatusCompleted {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "job_not_completed",
			Err:     errors.New("job not completed yet"),
		})
		return
	}
	if len(job.FinalImage) == 0 {
		WriteError(w, ErrorParams{
			Code:    http.StatusInternalServerError,
			ErrCode: "missing_result",
			Err:     errors.New("final image missing"),
		})
		return
	}

	h.respondAndCache(w, r, resultCacheKey(id), resultResponse{
		JobID:       id,
		Status:      string(model.JobStatusCompleted),
		ImageBase64: base64.StdEncoding.EncodeToString(job.FinalImage),
	})
}

type reportResponse struct {
	JobID  string        `json:"job_id"`
	Status string        `json:"status"`
	Report *model.Report `json:"report"`
}

// GetReport returns the failure report of a failed job.
func (h *JobHandlers) GetReport(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if h.serveCached(w, r, reportCacheKey(id)) {
		return
	}

	job, err := h.Store.Get(r.Context(), id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	if job.CurrentStatus.Status != model.JobStatusFailed {
		WriteError(w, ErrorParams{
			Code:    http.StatusBadRequest,
			ErrCode: "job_not_failed",
			Err:     errors.New("job not failed"),
		})
		return
	}
	if job.Report == nil {
		WriteError(w, ErrorParams{
			Code:    http.StatusNotFound,
			ErrCode: "report_not_available",
			Err:     errors.New("report not available"),
		})
		return
	}

	h.respondAndCache(w, r, reportCacheKey(id), reportResponse{
		JobID:  id,
		Status: string(model.JobStatusFailed),
		Report: job.Report,
	})
}

// DeleteJob removes a job record and cancels its worker if one is running.
func (h *JobHandlers) DeleteJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.Store.Delete(r.Context(), id); err != nil {
		writeAppError(w, err)
		return
	}
	h.Orchestrator.Cancel(id)
	w.WriteHeader(http.StatusNoContent)
}

// Stats summarises the job store by status.
func (h *JobHandlers) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Store.Stats(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"store": h.Store.Name(),
		"jobs":  stats,
	})
}

// serveCached writes a previously cached response body if one exists. Cache
// failures are treated as misses.
func (h *JobHandlers) serveCached(w http.ResponseWriter, r *http.Request, key string) bool {
	if h.Cache == nil {
		return false
	}
	body, err := h.Cache.Get(r.Context(), key)
	if err != nil {
		if h.Logger != nil {
			h.Logger.Warn("result cache read failed", "key", key, "error", err)
		}
		return false
	}
	if len(body) == 0 {
		return false
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
	return true
}

// respondAndCache writes the response and stores the encoded body for future
// requests. Terminal artifacts never change, so staleness is not a concern.
func (h *JobHandlers) respondAndCache(w http.ResponseWriter, r *http.Request, key string, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		writeAppError(w, err)
		return
	}

	if h.Cache != nil {
		if err := h.Cache.Set(r.Context(), key, body, h.CacheTTL); err != nil && h.Logger != nil {
			h.Logger.Warn("result cache write failed", "key", key, "error", err)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

func resultCacheKey(id string) string { return "jobmanager:result:" + id }
func reportCacheKey(id string) string { return "jobmanager:report:" + id }

func (h *JobHandlers) now() time.Time {
	if h.TimeProvider != nil {
		return h.TimeProvider.Now().UTC()
	}
	return time.Now().UTC()
}

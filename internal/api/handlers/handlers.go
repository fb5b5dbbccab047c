package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/dvloznov/spend-enricher/internal/api/middleware"
	"github.com/dvloznov/spend-enricher/internal/columns"
	"github.com/dvloznov/spend-enricher/internal/domain"
	"github.com/dvloznov/spend-enricher/internal/ingest"
	"github.com/dvloznov/spend-enricher/internal/jobs"
	"github.com/dvloznov/spend-enricher/internal/pipeline"
	"github.com/dvloznov/spend-enricher/internal/sources"
)

// DefaultMaxUploadBytes bounds a multipart import request.
const DefaultMaxUploadBytes = 32 << 20

// SourceLoader fetches referenced files. sources.Loader implements it.
type SourceLoader interface {
	Load(ctx context.Context, uri string) (ingest.Source, error)
}

// ImportsHandler handles import endpoints.
type ImportsHandler struct {
	publisher jobs.Publisher
	loader    SourceLoader
	maxBytes  int64
	log       zerolog.Logger
}

// NewImportsHandler creates a new imports handler. loader may be nil, in
// which case gs:// references are refused.
func NewImportsHandler(publisher jobs.Publisher, loader SourceLoader, maxBytes int64, log zerolog.Logger) *ImportsHandler {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}
	return &ImportsHandler{
		publisher: publisher,
		loader:    loader,
		maxBytes:  maxBytes,
		log:       log,
	}
}

// CreateImport handles POST /api/imports
//
// The multipart form carries any number of "files", optional "uri" values
// naming gs:// objects, optional "pasted" table text and an optional
// "home_zip".
func (h *ImportsHandler) CreateImport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	if err := r.ParseMultipartForm(h.maxBytes); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid multipart form")
		return
	}

	job := &jobs.ImportJob{HomeZip: strings.TrimSpace(r.FormValue("home_zip"))}

	for _, fh := range r.MultipartForm.File["files"] {
		f, err := fh.Open()
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "Failed to read uploaded file")
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "Failed to read uploaded file")
			return
		}
		job.Files = append(job.Files, jobs.ImportFile{Name: filepath.Base(fh.Filename), Data: data})
	}

	for _, uri := range r.MultipartForm.Value["uri"] {
		if !sources.IsGCSURI(uri) {
			middleware.WriteError(w, http.StatusBadRequest, fmt.Sprintf("Only gs:// URIs can be referenced: %s", uri))
			return
		}
		if h.loader == nil {
			middleware.WriteError(w, http.StatusBadRequest, "Bucket sources are not configured")
			return
		}
		src, err := h.loader.Load(ctx, uri)
		if err != nil {
			h.log.Error().Err(err).Str("uri", uri).Msg("Failed to load source")
			middleware.WriteError(w, http.StatusBadGateway, fmt.Sprintf("Failed to load %s", uri))
			return
		}
		job.Files = append(job.Files, jobs.ImportFile{Name: src.Name, URI: uri, Data: src.Data})
	}

	if pasted := r.FormValue("pasted"); strings.TrimSpace(pasted) != "" {
		job.Files = append(job.Files, jobs.ImportFile{Name: "pasted.txt", Format: ingest.FormatPasted, Data: []byte(pasted)})
	}

	if len(job.Files) == 0 {
		middleware.WriteError(w, http.StatusBadRequest, "At least one file, uri or pasted table is required")
		return
	}

	if err := h.publisher.PublishImport(ctx, job); err != nil {
		h.log.Error().Err(err).Msg("Failed to enqueue import job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to enqueue import job")
		return
	}

	names := make([]string, len(job.Files))
	for i, f := range job.Files {
		names[i] = f.Name
	}
	h.log.Info().Str("job_id", job.JobID).Strs("files", names).Msg("Import job enqueued")

	middleware.WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id": job.JobID,
		"status": job.Status,
		"files":  names,
	})
}

// Resumer completes a file suspended for mapping review.
// pipeline.Ingestor implements it.
type Resumer interface {
	Resume(ctx context.Context, proposal *pipeline.MappingProposal, mapping columns.Mapping) (*pipeline.Result, error)
}

// JobsHandler handles job-related endpoints.
type JobsHandler struct {
	store   jobs.JobStore
	resumer Resumer
	log     zerolog.Logger

	// mu serializes read-modify-write cycles on stored jobs.
	mu sync.Mutex
}

// NewJobsHandler creates a new jobs handler.
func NewJobsHandler(store jobs.JobStore, resumer Resumer, log zerolog.Logger) *JobsHandler {
	return &JobsHandler{
		store:   store,
		resumer: resumer,
		log:     log,
	}
}

// GetJob handles GET /api/jobs/{id}
func (h *JobsHandler) GetJob(w http.ResponseWriter, r *http.Request, jobID string) {
	ctx := r.Context()

	job, err := h.store.GetJob(ctx, jobID)
	if err != nil {
		h.log.Error().Err(err).Str("job_id", jobID).Msg("Failed to get job")
		middleware.WriteError(w, http.StatusNotFound, "Job not found")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /api/jobs
func (h *JobsHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	query := r.URL.Query()
	filter := jobs.JobFilter{
		Status: jobs.JobStatus(query.Get("status")),
	}

	if limitStr := query.Get("limit"); limitStr != "" {
		if limit, err := strconv.Atoi(limitStr); err == nil {
			filter.Limit = limit
		}
	}

	if offsetStr := query.Get("offset"); offsetStr != "" {
		if offset, err := strconv.Atoi(offsetStr); err == nil {
			filter.Offset = offset
		}
	}

	jobsList, err := h.store.ListJobs(ctx, filter)
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list jobs")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"jobs":  jobsList,
		"count": len(jobsList),
	})
}

// ConfirmMappingRequest is the body of a mapping confirmation.
type ConfirmMappingRequest struct {
	File string `json:"file"`
	// Mapping maps canonical field names to source headers; "" unmaps.
	Mapping map[string]string `json:"mapping"`
}

// ConfirmMapping handles POST /api/jobs/{id}/mapping
func (h *JobsHandler) ConfirmMapping(w http.ResponseWriter, r *http.Request, jobID string) {
	ctx := r.Context()

	var req ConfirmMappingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.File == "" {
		middleware.WriteError(w, http.StatusBadRequest, "file is required")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	job, err := h.store.GetJob(ctx, jobID)
	if err != nil {
		middleware.WriteError(w, http.StatusNotFound, "Job not found")
		return
	}

	idx := -1
	for i, o := range job.Outcomes {
		if o.File == req.File && o.Status == jobs.FileStatusNeedsConfirmation && o.Proposal != nil {
			idx = i
			break
		}
	}
	if idx < 0 {
		middleware.WriteError(w, http.StatusConflict, fmt.Sprintf("No mapping awaiting confirmation for %s", req.File))
		return
	}

	proposal := job.Outcomes[idx].Proposal
	mapping, err := columns.ApplyOverrides(proposal.Mapping, proposal.Headers, req.Mapping)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.resumer.Resume(ctx, proposal, mapping)
	switch {
	case err == nil:
		job.Outcomes[idx] = jobs.FileOutcome{File: req.File, Status: jobs.FileStatusImported, Result: res}
	case errors.Is(err, pipeline.ErrNoValidRows):
		job.Outcomes[idx] = jobs.FileOutcome{File: req.File, Status: jobs.FileStatusFailed, Error: err.Error()}
	default:
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	job.Status = job.Settle()

	if err := h.store.SaveJob(ctx, job); err != nil {
		h.log.Error().Err(err).Str("job_id", jobID).Msg("Failed to save job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to save job")
		return
	}

	h.log.Info().
		Str("job_id", jobID).
		Str("file", req.File).
		Str("outcome", string(job.Outcomes[idx].Status)).
		Msg("Mapping confirmed")

	middleware.WriteJSON(w, http.StatusOK, job)
}

// PillarsHandler lists the category enumeration.
type PillarsHandler struct{}

// ListPillars handles GET /api/pillars
func (PillarsHandler) ListPillars(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"pillars": domain.Pillars,
		"count":   len(domain.Pillars),
	})
}

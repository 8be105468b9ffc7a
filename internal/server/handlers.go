package server

import (
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/agentbrain/agentbrain/internal/errors"
	"github.com/agentbrain/agentbrain/internal/jobs"
	"github.com/agentbrain/agentbrain/internal/search"
	"github.com/agentbrain/agentbrain/internal/store"
)

// maxBodyBytes caps request bodies; index and query payloads are tiny.
const maxBodyBytes = 1 << 20

type indexRequest struct {
	Folder          string   `json:"folder"`
	IncludeCode     bool     `json:"include_code"`
	Languages       []string `json:"languages,omitempty"`
	ExcludePatterns []string `json:"exclude_patterns,omitempty"`
	Rebuild         bool     `json:"rebuild"`
	RebuildGraph    bool     `json:"rebuild_graph"`
}

type indexResponse struct {
	JobID        string `json:"job_id"`
	Status       string `json:"status"`
	Deduplicated bool   `json:"deduplicated"`
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	var req indexRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Folder == "" {
		writeError(w, errors.InvalidArgument("folder is required"))
		return
	}
	if s.queue == nil {
		writeError(w, errors.New(errors.KindInternal, "job queue is not running"))
		return
	}

	jobID, deduplicated, err := s.queue.Submit(jobs.Request{
		Folder:       req.Folder,
		IncludeCode:  req.IncludeCode,
		Languages:    req.Languages,
		Excludes:     req.ExcludePatterns,
		Rebuild:      req.Rebuild,
		RebuildGraph: req.RebuildGraph,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	status := string(jobs.StatusPending)
	if job, ok := s.queue.Get(jobID); ok {
		status = string(job.Status)
	}
	writeJSON(w, http.StatusAccepted, indexResponse{
		JobID:        jobID,
		Status:       status,
		Deduplicated: deduplicated,
	})
}

type queryRequest struct {
	Query          string   `json:"query"`
	Mode           string   `json:"mode,omitempty"`
	TopK           int      `json:"top_k,omitempty"`
	Threshold      *float64 `json:"threshold,omitempty"`
	Alpha          *float64 `json:"alpha,omitempty"`
	SourceTypes    []string `json:"source_types,omitempty"`
	Languages      []string `json:"languages,omitempty"`
	TraversalDepth int      `json:"traversal_depth,omitempty"`
}

type queryResponse struct {
	Results   []search.Result `json:"results"`
	Mode      string          `json:"mode"`
	Total     int             `json:"total"`
	ElapsedMS float64         `json:"elapsed_ms"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if s.engine == nil {
		writeError(w, errors.New(errors.KindInternal, "search engine is not running"))
		return
	}

	mode, err := search.ParseMode(req.Mode)
	if err != nil {
		writeError(w, err)
		return
	}

	sourceTypes := make([]store.SourceType, 0, len(req.SourceTypes))
	for _, st := range req.SourceTypes {
		sourceTypes = append(sourceTypes, store.SourceType(st))
	}

	start := time.Now()
	results, err := s.engine.Search(r.Context(), req.Query, search.Options{
		Mode:           mode,
		TopK:           req.TopK,
		Threshold:      req.Threshold,
		Alpha:          req.Alpha,
		SourceTypes:    sourceTypes,
		Languages:      req.Languages,
		TraversalDepth: req.TraversalDepth,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if results == nil {
		results = []search.Result{}
	}

	writeJSON(w, http.StatusOK, queryResponse{
		Results:   results,
		Mode:      string(mode),
		Total:     len(results),
		ElapsedMS: float64(time.Since(start).Microseconds()) / 1000.0,
	})
}

func (s *Server) handleJobsList(w http.ResponseWriter, r *http.Request) {
	list := []jobs.Job{}
	if s.queue != nil {
		list = s.queue.List()
	}
	writeJSON(w, http.StatusOK, map[string][]jobs.Job{"jobs": list})
}

// jobDetail extends the stored job with the live progress breakdown
// while it is running.
type jobDetail struct {
	jobs.Job
	Detail *jobs.ProgressSnapshot `json:"progress_detail,omitempty"`
}

func (s *Server) handleJobGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.queue == nil {
		writeError(w, errors.New(errors.KindNotFound, "job not found: "+id))
		return
	}
	job, ok := s.queue.Get(id)
	if !ok {
		writeError(w, errors.New(errors.KindNotFound, "job not found: "+id))
		return
	}

	detail := jobDetail{Job: job}
	if snap := s.queue.Snapshot(); snap.Running != nil && snap.Running.ID == id {
		detail.Detail = snap.Progress
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleJobCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.queue == nil {
		writeError(w, errors.New(errors.KindNotFound, "job not found: "+id))
		return
	}
	if err := s.queue.Cancel(id); err != nil {
		writeError(w, err)
		return
	}
	status := string(jobs.StatusCancelled)
	if job, ok := s.queue.Get(id); ok {
		status = string(job.Status)
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"job_id": id,
		"status": status,
	})
}

// decodeBody parses a JSON request body, writing the error envelope on
// failure. The caller stops when it returns false.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	defer func() { _, _ = io.Copy(io.Discard, body) }()

	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, errors.InvalidArgument("invalid request body: "+err.Error()))
		return false
	}
	return true
}

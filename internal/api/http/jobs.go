package http

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	shardErrors "github.com/zeekshard/zeekshard/internal/errors"
	"github.com/zeekshard/zeekshard/internal/job"
	"github.com/zeekshard/zeekshard/internal/manifest"
	"github.com/zeekshard/zeekshard/internal/partition"
)

// multipartMemory is the part of a multipart upload kept in memory; the
// rest spills to temporary files.
const multipartMemory = 32 << 20

// multipartSlack covers the form fields and boundaries around the capture.
const multipartSlack = 1 << 20

// JobView is the API representation of a cataloged job.
type JobView struct {
	JobID         string       `json:"job_id"`
	Status        string       `json:"status"`
	Workers       int          `json:"workers"`
	CaptureBytes  int64        `json:"capture_bytes"`
	Packets       int64        `json:"packets"`
	Fallbacks     int64        `json:"fallbacks"`
	FailurePolicy string       `json:"failure_policy"`
	Error         string       `json:"error,omitempty"`
	Archive       string       `json:"archive,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	FinishedAt    *time.Time   `json:"finished_at,omitempty"`
	WorkerRuns    []WorkerView `json:"worker_runs,omitempty"`
	Logs          []LogView    `json:"logs,omitempty"`
}

// WorkerView is the API representation of one worker run.
type WorkerView struct {
	Worker     int     `json:"worker"`
	Status     string  `json:"status"`
	Packets    int64   `json:"packets"`
	DurationMS float64 `json:"duration_ms"`
	Error      string  `json:"error,omitempty"`
}

// LogView is the API representation of one merged log.
type LogView struct {
	Name          string `json:"name"`
	Rows          int64  `json:"rows"`
	SchemaVersion int    `json:"schema_version"`
}

func newJobView(rec *manifest.JobRecord) JobView {
	v := JobView{
		JobID:         rec.JobID,
		Status:        rec.Status,
		Workers:       rec.Workers,
		CaptureBytes:  rec.CaptureBytes,
		Packets:       rec.Packets,
		Fallbacks:     rec.Fallbacks,
		FailurePolicy: rec.FailurePolicy,
		CreatedAt:     rec.CreatedAt,
		FinishedAt:    rec.FinishedAt,
	}
	if rec.Error != nil {
		v.Error = *rec.Error
	}
	if rec.ArchivePath != nil {
		v.Archive = *rec.ArchivePath
	}
	return v
}

// JobHandler serves job submission and the job catalog.
type JobHandler struct {
	jobs      *job.Service
	catalog   manifest.Catalog
	maxUpload int64
	logger    *slog.Logger
}

// NewJobHandler creates a job handler. catalog may be nil, in which case the
// catalog routes answer 404. maxUpload bounds the capture size; zero disables
// the limit.
func NewJobHandler(jobs *job.Service, catalog manifest.Catalog, maxUpload int64, logger *slog.Logger) *JobHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobHandler{jobs: jobs, catalog: catalog, maxUpload: maxUpload, logger: logger}
}

// Run handles POST /api/run. The form carries the capture as "pcap", the
// analysis script as "script_text" and an optional "workers" count.
func (h *JobHandler) Run(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	if h.maxUpload > 0 {
		if r.ContentLength > h.maxUpload+multipartSlack {
			writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds limit", shardErrors.CodeUploadTooLarge, requestID)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload+multipartSlack)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload exceeds limit", shardErrors.CodeUploadTooLarge, requestID)
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error(), "", requestID)
		return
	}
	defer r.MultipartForm.RemoveAll()

	workers := 0
	if s := r.FormValue("workers"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "workers must be an integer", shardErrors.CodeInvalidWorkerCount, requestID)
			return
		}
		if err := partition.ValidateWorkers(n); err != nil {
			writeError(w, http.StatusBadRequest, err.Error(), shardErrors.CodeInvalidWorkerCount, requestID)
			return
		}
		workers = n
	}

	file, _, err := r.FormFile("pcap")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing pcap upload", shardErrors.CodeUnsupportedCapture, requestID)
		return
	}
	capture, err := io.ReadAll(file)
	file.Close()
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read pcap upload: "+err.Error(), "", requestID)
		return
	}

	out, err := h.jobs.Run(r.Context(), job.Request{
		Capture: capture,
		Script:  r.FormValue("script_text"),
		Workers: workers,
	})
	if err != nil {
		if out == nil || out.JobID == "" {
			writeError(w, statusFor(err), err.Error(), shardErrors.GetCode(err), requestID)
			return
		}
		h.logger.Warn("job failed", "job_id", out.JobID, "code", out.Code, "request_id", requestID)
		writeJSON(w, http.StatusInternalServerError, out)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// List handles GET /api/jobs.
func (h *JobHandler) List(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())
	if h.catalog == nil {
		writeError(w, http.StatusNotFound, "job catalog disabled", "", requestID)
		return
	}

	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", "", requestID)
			return
		}
		limit = n
	}

	recs, err := h.catalog.ListJobs(r.Context(), limit)
	if err != nil {
		writeError(w, statusFor(err), err.Error(), shardErrors.GetCode(err), requestID)
		return
	}
	views := make([]JobView, 0, len(recs))
	for _, rec := range recs {
		views = append(views, newJobView(rec))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": views})
}

// Get handles GET /api/jobs/{id}.
func (h *JobHandler) Get(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())
	if h.catalog == nil {
		writeError(w, http.StatusNotFound, "job catalog disabled", "", requestID)
		return
	}

	id := r.PathValue("id")
	rec, err := h.catalog.GetJob(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err.Error(), shardErrors.GetCode(err), requestID)
		return
	}
	view := newJobView(rec)

	workers, err := h.catalog.ListWorkers(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err.Error(), shardErrors.GetCode(err), requestID)
		return
	}
	for _, wr := range workers {
		wv := WorkerView{
			Worker:     wr.Worker,
			Status:     wr.Status,
			Packets:    wr.Packets,
			DurationMS: float64(wr.Duration) / float64(time.Millisecond),
		}
		if wr.Error != nil {
			wv.Error = *wr.Error
		}
		view.WorkerRuns = append(view.WorkerRuns, wv)
	}

	logs, err := h.catalog.ListLogs(r.Context(), id)
	if err != nil {
		writeError(w, statusFor(err), err.Error(), shardErrors.GetCode(err), requestID)
		return
	}
	for _, l := range logs {
		view.Logs = append(view.Logs, LogView{Name: l.Name, Rows: l.Rows, SchemaVersion: l.SchemaVersion})
	}

	writeJSON(w, http.StatusOK, view)
}

// RunnerLog handles GET /api/jobs/{id}/runner/log as plain text.
func (h *JobHandler) RunnerLog(w http.ResponseWriter, r *http.Request) {
	data, err := h.jobs.RunnerLog(r.PathValue("id"))
	if err != nil {
		writeError(w, statusFor(err), err.Error(), shardErrors.GetCode(err), GetRequestID(r.Context()))
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// statusFor maps an error to its HTTP status.
func statusFor(err error) int {
	switch shardErrors.GetCode(err) {
	case shardErrors.CodeInvalidWorkerCount,
		shardErrors.CodeUnsupportedCapture,
		shardErrors.CodeMalformedHeader,
		shardErrors.CodeInvalidConfig,
		shardErrors.CodeParseError:
		return http.StatusBadRequest
	case shardErrors.CodeUploadTooLarge:
		return http.StatusRequestEntityTooLarge
	case shardErrors.CodeJobNotFound,
		shardErrors.CodeLogNotFound,
		shardErrors.CodeObjectNotFound:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

package http

import (
	"net/http"
	"strconv"

	shardErrors "github.com/zeekshard/zeekshard/internal/errors"
	"github.com/zeekshard/zeekshard/internal/observability"
	"github.com/zeekshard/zeekshard/internal/query"
	"github.com/zeekshard/zeekshard/internal/viewer"
)

// LogHandler serves merged logs of finished jobs.
type LogHandler struct {
	viewer  *viewer.Viewer
	stats   *observability.SearchStats
	metrics *observability.Metrics
}

// NewLogHandler creates a log handler. stats and metrics may be nil.
func NewLogHandler(v *viewer.Viewer, stats *observability.SearchStats, metrics *observability.Metrics) *LogHandler {
	return &LogHandler{viewer: v, stats: stats, metrics: metrics}
}

// List handles GET /api/jobs/{id}/logs.
func (h *LogHandler) List(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	names, err := h.viewer.Logs(id)
	if err != nil {
		writeError(w, statusFor(err), err.Error(), shardErrors.GetCode(err), GetRequestID(r.Context()))
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"job_id": id, "logs": names})
}

// Page handles GET /api/jobs/{id}/log/{name}?offset&limit&q.
func (h *LogHandler) Page(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())
	params := r.URL.Query()

	offset, err := intParam(params.Get("offset"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "offset must be an integer", "", requestID)
		return
	}
	limit, err := intParam(params.Get("limit"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "limit must be an integer", "", requestID)
		return
	}

	req := viewer.Request{
		JobID:  r.PathValue("id"),
		Log:    r.PathValue("name"),
		Offset: offset,
		Limit:  limit,
		Query:  params.Get("q"),
	}

	// Syntax errors are reported before the log is touched.
	q, err := query.Compile(req.Query)
	if err != nil {
		h.countQuery("error")
		writeError(w, http.StatusBadRequest, err.Error(), shardErrors.CodeParseError, requestID)
		return
	}

	page, err := h.viewer.Page(r.Context(), req)
	if err != nil {
		h.countQuery("error")
		writeError(w, statusFor(err), err.Error(), shardErrors.GetCode(err), requestID)
		return
	}

	if h.stats != nil {
		h.stats.RecordQuery(page.Log, q)
	}
	if q.Empty() {
		h.countQuery("unfiltered")
	} else {
		h.countQuery("ok")
	}
	writeJSON(w, http.StatusOK, page)
}

// Fields handles GET /api/stats/fields?n, listing the most searched fields.
func (h *LogHandler) Fields(w http.ResponseWriter, r *http.Request) {
	n, err := intParam(r.URL.Query().Get("n"))
	if err != nil || n < 0 {
		writeError(w, http.StatusBadRequest, "n must be a non-negative integer", "", GetRequestID(r.Context()))
		return
	}
	if n == 0 {
		n = 20
	}
	fields := []observability.FieldStats{}
	if h.stats != nil {
		fields = append(fields, h.stats.TopFields(n)...)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"fields": fields})
}

func (h *LogHandler) countQuery(result string) {
	if h.metrics != nil {
		h.metrics.QueriesTotal.WithLabelValues(result).Inc()
	}
}

// intParam parses an optional integer query parameter; empty is zero.
func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

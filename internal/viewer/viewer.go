// Package viewer pages and filters merged logs. Every call carries its own
// Request; there is no shared "current job" state.
package viewer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/zeekshard/zeekshard/internal/cache"
	shardErrors "github.com/zeekshard/zeekshard/internal/errors"
	"github.com/zeekshard/zeekshard/internal/query"
	"github.com/zeekshard/zeekshard/internal/zeeklog"
	"github.com/zeekshard/zeekshard/pkg/types"
)

// Paging defaults.
const (
	DefaultLimit = 200
	MaxLimit     = 5000
)

// Request is one page request against one merged log.
type Request struct {
	JobID  string
	Log    string
	Offset int
	Limit  int
	Query  string
}

// Normalize clamps offset to >= 0 and limit to [1, maxLimit]. A zero limit
// means defaultLimit.
func (r Request) Normalize(defaultLimit, maxLimit int) Request {
	if defaultLimit <= 0 {
		defaultLimit = DefaultLimit
	}
	if maxLimit <= 0 {
		maxLimit = MaxLimit
	}
	if r.Offset < 0 {
		r.Offset = 0
	}
	switch {
	case r.Limit == 0:
		r.Limit = defaultLimit
	case r.Limit < 1:
		r.Limit = 1
	}
	if r.Limit > maxLimit {
		r.Limit = maxLimit
	}
	return r
}

// Page is one window of a filtered log.
type Page struct {
	JobID  string         `json:"job_id"`
	Log    string         `json:"log"`
	Fields []string       `json:"fields"`
	Offset int            `json:"offset"`
	Limit  int            `json:"limit"`
	Total  int            `json:"total"`
	Rows   []types.Record `json:"rows"`
	Header []string       `json:"header"`
	Query  string         `json:"q"`
}

// Paginate filters l with req.Query and returns the requested window. Total
// counts filtered rows. Rows are rendered with every field of the log, in
// field order, filling absent fields with "".
func Paginate(l *zeeklog.Log, req Request) (*Page, error) {
	q, err := query.Compile(req.Query)
	if err != nil {
		return nil, err
	}

	fields := l.Fields
	if fields == nil {
		fields = []string{}
	}
	page := &Page{
		JobID:  req.JobID,
		Log:    req.Log,
		Fields: fields,
		Offset: req.Offset,
		Limit:  req.Limit,
		Header: l.HeaderLines(),
		Query:  req.Query,
		Rows:   []types.Record{},
	}

	matched := 0
	for _, r := range l.Rows {
		row := render(r, fields)
		if !q.Match(row) {
			continue
		}
		if matched >= req.Offset && matched < req.Offset+req.Limit {
			page.Rows = append(page.Rows, row)
		}
		matched++
	}
	page.Total = matched
	return page, nil
}

func render(r types.Record, fields []string) types.Record {
	if len(r) == len(fields) {
		same := true
		for i, f := range r {
			if f.Name != fields[i] {
				same = false
				break
			}
		}
		if same {
			return r
		}
	}
	values := r.Project(fields, "")
	out := make(types.Record, len(fields))
	for i, name := range fields {
		out[i] = types.Field{Name: name, Value: values[i]}
	}
	return out
}

// Options configures a Viewer.
type Options struct {
	DefaultLimit int
	MaxLimit     int
	// CacheBytes bounds the parsed-log cache; zero uses the cache default
	CacheBytes int64
}

// Viewer serves pages of the merged logs under a jobs directory laid out as
// <root>/<job_id>/merged/<name>.log.
type Viewer struct {
	root  string
	opts  Options
	cache *cache.LogCache
}

// New creates a Viewer over the jobs directory root.
func New(root string, opts Options) *Viewer {
	return &Viewer{root: root, opts: opts, cache: cache.NewLogCache(opts.CacheBytes)}
}

// Cache exposes the parsed-log cache for metrics.
func (v *Viewer) Cache() *cache.LogCache {
	return v.cache
}

// Page returns one page of a merged log.
func (v *Viewer) Page(ctx context.Context, req Request) (*Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	req = req.Normalize(v.opts.DefaultLimit, v.opts.MaxLimit)

	path, err := v.logPath(req.JobID, req.Log)
	if err != nil {
		return nil, err
	}
	l, err := v.cache.Load(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, shardErrors.NewManifestError(shardErrors.CodeLogNotFound,
				fmt.Sprintf("log %s not found for job %s", req.Log, req.JobID), nil)
		}
		return nil, fmt.Errorf("viewer: load %s: %w", req.Log, err)
	}
	return Paginate(l, req)
}

// Logs lists the merged log file names of a job in sorted order.
func (v *Viewer) Logs(jobID string) ([]string, error) {
	if !ValidJobID(jobID) {
		return nil, jobNotFound(jobID)
	}
	entries, err := os.ReadDir(types.NewJobLayout(v.root, jobID).Merged())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, jobNotFound(jobID)
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".log") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// logPath resolves a log name ("conn" or "conn.log") inside a job's merged
// directory, refusing anything that could escape it.
func (v *Viewer) logPath(jobID, name string) (string, error) {
	if !ValidJobID(jobID) {
		return "", jobNotFound(jobID)
	}
	if name == "" || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return "", shardErrors.NewManifestError(shardErrors.CodeLogNotFound,
			fmt.Sprintf("invalid log name %q", name), nil)
	}
	if !strings.HasSuffix(name, ".log") {
		name += ".log"
	}
	return filepath.Join(types.NewJobLayout(v.root, jobID).Merged(), name), nil
}

// ValidJobID reports whether id has the shape of a job id: non-empty,
// lowercase hex or digits, at most 32 characters.
func ValidJobID(id string) bool {
	if id == "" || len(id) > 32 {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}

func jobNotFound(jobID string) error {
	return shardErrors.NewManifestError(shardErrors.CodeJobNotFound, fmt.Sprintf("job %q not found", jobID), nil)
}

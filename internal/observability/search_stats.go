// Package observability provides Prometheus metrics and search statistics for
// zeekshard.
package observability

import (
	"sort"
	"sync"
	"time"

	"github.com/zeekshard/zeekshard/internal/query"
)

// AnyField is the key under which unqualified search terms are counted.
const AnyField = "*"

// SearchStats tracks which fields log searches filter on.
type SearchStats struct {
	mu        sync.RWMutex
	fieldFreq map[string]*FieldStats
	window    time.Duration
}

// FieldStats holds statistics for one searched field.
type FieldStats struct {
	Field     string
	Frequency int64
	Wildcard  int64 // terms with * or ? in the pattern
	LastSeen  time.Time
	Logs      map[string]int // log name → count
}

// NewSearchStats creates a new search statistics tracker.
// window: time duration for pruning old entries (e.g., 1 hour)
func NewSearchStats(window time.Duration) *SearchStats {
	return &SearchStats{
		fieldFreq: make(map[string]*FieldStats),
		window:    window,
	}
}

// RecordQuery records every term of a compiled query run against logName.
func (s *SearchStats) RecordQuery(logName string, q *query.Query) {
	if q.Empty() {
		return
	}
	for _, term := range query.Terms(q.Root) {
		s.RecordField(logName, term.Field, query.HasWildcard(term.Pattern))
	}
}

// RecordField records one search term on field. An empty field counts as
// AnyField. This method is O(1) and thread-safe.
func (s *SearchStats) RecordField(logName, field string, wildcard bool) {
	if field == "" {
		field = AnyField
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stats, exists := s.fieldFreq[field]
	if !exists {
		stats = &FieldStats{
			Field: field,
			Logs:  make(map[string]int),
		}
		s.fieldFreq[field] = stats
	}

	stats.Frequency++
	if wildcard {
		stats.Wildcard++
	}
	stats.LastSeen = time.Now()
	stats.Logs[logName]++
}

// TopFields returns a copy of the top n fields by frequency (descending,
// ties by name).
func (s *SearchStats) TopFields(n int) []FieldStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 || len(s.fieldFreq) == 0 {
		return []FieldStats{}
	}

	stats := make([]FieldStats, 0, len(s.fieldFreq))
	for _, f := range s.fieldFreq {
		cp := *f
		cp.Logs = make(map[string]int, len(f.Logs))
		for name, count := range f.Logs {
			cp.Logs[name] = count
		}
		stats = append(stats, cp)
	}

	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Frequency != stats[j].Frequency {
			return stats[i].Frequency > stats[j].Frequency
		}
		return stats[i].Field < stats[j].Field
	})

	if n > len(stats) {
		n = len(stats)
	}
	return stats[:n]
}

// Prune removes entries where time.Since(LastSeen) > window.
// This should be called periodically (e.g., every 5 minutes).
func (s *SearchStats) Prune() {
	s.mu.Lock()
	defer s.mu.Unlock()

	threshold := time.Now().Add(-s.window)
	for field, stats := range s.fieldFreq {
		if stats.LastSeen.Before(threshold) {
			delete(s.fieldFreq, field)
		}
	}
}

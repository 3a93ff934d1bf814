package cache

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeLog(t *testing.T, dir, name string, rows int) string {
	t.Helper()
	var sb strings.Builder
	sb.WriteString("#separator \\x09\n#fields\tts\tuid\n")
	for i := 0; i < rows; i++ {
		sb.WriteString("1.0\tC\n")
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(sb.String()), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLogCacheHitAndMiss(t *testing.T) {
	dir := t.TempDir()
	path := writeLog(t, dir, "conn.log", 3)
	c := NewLogCache(0)

	l1, err := c.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	l2, err := c.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if l1 != l2 {
		t.Error("second load should return the cached log")
	}
	if l1.Len() != 3 {
		t.Errorf("expected 3 rows, got %d", l1.Len())
	}

	hits, misses, _ := c.Stats()
	if hits != 1 || misses != 1 {
		t.Errorf("expected 1 hit and 1 miss, got %d/%d", hits, misses)
	}
}

func TestLogCacheInvalidatesChangedFile(t *testing.T) {
	dir := t.TempDir()
	path := writeLog(t, dir, "conn.log", 1)
	c := NewLogCache(0)

	if _, err := c.Load(path); err != nil {
		t.Fatal(err)
	}
	writeLog(t, dir, "conn.log", 4)
	future := time.Now().Add(time.Minute)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatal(err)
	}

	l, err := c.Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if l.Len() != 4 {
		t.Errorf("changed file should be re-read, got %d rows", l.Len())
	}
}

func TestLogCacheEvictsLRU(t *testing.T) {
	dir := t.TempDir()
	a := writeLog(t, dir, "a.log", 10)
	b := writeLog(t, dir, "b.log", 10)
	info, _ := os.Stat(a)

	c := NewLogCache(info.Size() + info.Size()/2)
	if _, err := c.Load(a); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Load(b); err != nil {
		t.Fatal(err)
	}

	if c.Len() != 1 {
		t.Fatalf("expected 1 entry after eviction, got %d", c.Len())
	}
	if _, _, evictions := c.Stats(); evictions != 1 {
		t.Errorf("expected 1 eviction, got %d", evictions)
	}
	if c.Size() != info.Size() {
		t.Errorf("unexpected cached size %d", c.Size())
	}
}

func TestLogCacheInvalidatePrefix(t *testing.T) {
	dir := t.TempDir()
	job1 := filepath.Join(dir, "job1")
	job2 := filepath.Join(dir, "job2")
	os.MkdirAll(job1, 0755)
	os.MkdirAll(job2, 0755)

	c := NewLogCache(0)
	c.Load(writeLog(t, job1, "conn.log", 1))
	c.Load(writeLog(t, job2, "conn.log", 1))

	c.Invalidate(job1 + string(filepath.Separator))
	if c.Len() != 1 {
		t.Errorf("expected 1 entry after invalidation, got %d", c.Len())
	}
}

func TestLogCacheMissingFile(t *testing.T) {
	c := NewLogCache(0)
	if _, err := c.Load(filepath.Join(t.TempDir(), "nope.log")); !os.IsNotExist(err) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}

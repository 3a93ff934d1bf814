package storage

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/golang/snappy"
)

func writeTree(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestArchive_RoundTrip(t *testing.T) {
	src := t.TempDir()
	files := map[string]string{
		"input.pcap":              "pcap-bytes",
		"merged/conn.log":         "#fields\tts\tuid\n1.0\tC1\n",
		"workers/worker1/dns.log": "#fields\tts\n",
		"runner.log":              "",
	}
	writeTree(t, src, files)

	var buf bytes.Buffer
	if err := WriteArchive(src, &buf); err != nil {
		t.Fatalf("WriteArchive failed: %v", err)
	}

	dst := t.TempDir()
	if err := ExtractArchive(bytes.NewReader(buf.Bytes()), dst); err != nil {
		t.Fatalf("ExtractArchive failed: %v", err)
	}

	for name, want := range files {
		got, err := os.ReadFile(filepath.Join(dst, filepath.FromSlash(name)))
		if err != nil {
			t.Errorf("%s missing after extract: %v", name, err)
			continue
		}
		if string(got) != want {
			t.Errorf("%s: got %q, want %q", name, got, want)
		}
	}
}

func TestExtractArchive_RejectsEscape(t *testing.T) {
	var buf bytes.Buffer
	zw := snappy.NewBufferedWriter(&buf)
	tw := tar.NewWriter(zw)
	tw.WriteHeader(&tar.Header{Name: "../evil", Mode: 0644, Size: 1, Typeflag: tar.TypeReg})
	tw.Write([]byte("x"))
	tw.Close()
	zw.Close()

	if err := ExtractArchive(&buf, t.TempDir()); err == nil {
		t.Error("expected escaping entry to be rejected")
	}
}

func TestExtractArchive_Corrupt(t *testing.T) {
	if err := ExtractArchive(bytes.NewReader([]byte("not snappy")), t.TempDir()); err == nil {
		t.Error("expected error for corrupt archive")
	}
}

func TestArchiver_ArchiveAndRestore(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	archiver := NewArchiver(store, "jobs/", t.TempDir(), nil)
	ctx := context.Background()

	jobDir := t.TempDir()
	writeTree(t, jobDir, map[string]string{"merged/conn.log": "row\n", "user.zeek": "event zeek_init() {}"})

	objectPath, err := archiver.ArchiveJob(ctx, "0123456789ab", jobDir)
	if err != nil {
		t.Fatalf("ArchiveJob failed: %v", err)
	}
	if objectPath != "jobs/0123456789ab.tar.sz" {
		t.Errorf("unexpected object path %s", objectPath)
	}

	restored := t.TempDir()
	if err := archiver.RestoreJob(ctx, "0123456789ab", restored); err != nil {
		t.Fatalf("RestoreJob failed: %v", err)
	}
	got, err := os.ReadFile(filepath.Join(restored, "merged", "conn.log"))
	if err != nil || string(got) != "row\n" {
		t.Errorf("restored content mismatch: %q, %v", got, err)
	}

	if err := archiver.Delete(ctx, "0123456789ab"); err != nil {
		t.Fatal(err)
	}
	if err := archiver.RestoreJob(ctx, "0123456789ab", t.TempDir()); !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("expected ErrObjectNotFound after delete, got %v", err)
	}
}

func TestArchiver_CreatesStagingDir(t *testing.T) {
	store, err := NewLocalStorage(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	tmpDir := filepath.Join(t.TempDir(), "data", "tmp")
	archiver := NewArchiver(store, "jobs", tmpDir, nil)

	jobDir := t.TempDir()
	writeTree(t, jobDir, map[string]string{"merged/conn.log": "row\n"})

	if _, err := archiver.ArchiveJob(context.Background(), "0123456789ab", jobDir); err != nil {
		t.Fatalf("ArchiveJob failed: %v", err)
	}
	exists, err := store.Exists(context.Background(), "jobs/0123456789ab.tar.sz")
	if err != nil || !exists {
		t.Errorf("archive should be uploaded, exists=%v err=%v", exists, err)
	}
	if info, err := os.Stat(tmpDir); err != nil || !info.IsDir() {
		t.Errorf("staging directory should exist: %v", err)
	}
}

package storage

import (
	"archive/tar"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/golang/snappy"
)

// ArchiveExt is the extension of archived job directories.
const ArchiveExt = ".tar.sz"

// WriteArchive writes every regular file below dir to w as a tar stream
// compressed with the snappy framing format. Entry names are relative to dir
// and use forward slashes.
func WriteArchive(dir string, w io.Writer) error {
	zw := snappy.NewBufferedWriter(w)
	tw := tar.NewWriter(zw)

	err := filepath.Walk(dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		hdr, err := tar.FileInfoHeader(info, "")
		if err != nil {
			return err
		}
		hdr.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}

		f, err := os.Open(p)
		if err != nil {
			return err
		}
		_, err = io.Copy(tw, f)
		f.Close()
		return err
	})
	if err != nil {
		return fmt.Errorf("archive %s: %w", dir, err)
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("archive %s: %w", dir, err)
	}
	return zw.Close()
}

// ExtractArchive restores an archive written by WriteArchive into dir.
// Entries that would land outside dir are rejected.
func ExtractArchive(r io.Reader, dir string) error {
	tr := tar.NewReader(snappy.NewReader(r))

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("extract: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		name := path.Clean(hdr.Name)
		if path.IsAbs(name) || name == ".." || strings.HasPrefix(name, "../") {
			return fmt.Errorf("extract: entry %q escapes target directory", hdr.Name)
		}
		target := filepath.Join(dir, filepath.FromSlash(name))

		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return fmt.Errorf("extract: %w", err)
		}
		f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			return fmt.Errorf("extract: %w", err)
		}
		if _, err := io.Copy(f, tr); err != nil {
			f.Close()
			return fmt.Errorf("extract %s: %w", hdr.Name, err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("extract: %w", err)
		}
	}
}

// Archiver stores compressed job directories in object storage.
type Archiver struct {
	store  ObjectStorage
	prefix string
	tmpDir string
	logger *slog.Logger
}

// NewArchiver creates an archiver writing objects under prefix.
// Temporary archive files are staged in tmpDir (os.TempDir when empty).
func NewArchiver(store ObjectStorage, prefix, tmpDir string, logger *slog.Logger) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archiver{store: store, prefix: strings.Trim(prefix, "/"), tmpDir: tmpDir, logger: logger}
}

func (a *Archiver) ensureTmpDir() error {
	if a.tmpDir == "" {
		return nil
	}
	return os.MkdirAll(a.tmpDir, 0755)
}

// ObjectPath returns the object path of a job's archive.
func (a *Archiver) ObjectPath(jobID string) string {
	if a.prefix == "" {
		return jobID + ArchiveExt
	}
	return a.prefix + "/" + jobID + ArchiveExt
}

// ArchiveJob compresses jobDir and uploads it, returning the object path.
func (a *Archiver) ArchiveJob(ctx context.Context, jobID, jobDir string) (string, error) {
	if err := a.ensureTmpDir(); err != nil {
		return "", fmt.Errorf("archive job %s: %w", jobID, err)
	}
	tmp, err := os.CreateTemp(a.tmpDir, "zeekshard-"+jobID+"-*"+ArchiveExt)
	if err != nil {
		return "", fmt.Errorf("archive job %s: %w", jobID, err)
	}
	defer os.Remove(tmp.Name())

	if err := WriteArchive(jobDir, tmp); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("archive job %s: %w", jobID, err)
	}

	objectPath := a.ObjectPath(jobID)
	if err := a.store.Upload(ctx, tmp.Name(), objectPath); err != nil {
		return "", err
	}

	a.logger.Info("job archived", "job_id", jobID, "object", objectPath)
	return objectPath, nil
}

// RestoreJob downloads a job's archive and extracts it into dir.
func (a *Archiver) RestoreJob(ctx context.Context, jobID, dir string) error {
	if err := a.ensureTmpDir(); err != nil {
		return fmt.Errorf("restore job %s: %w", jobID, err)
	}
	tmp, err := os.CreateTemp(a.tmpDir, "zeekshard-restore-*"+ArchiveExt)
	if err != nil {
		return fmt.Errorf("restore job %s: %w", jobID, err)
	}
	tmp.Close()
	defer os.Remove(tmp.Name())

	if err := a.store.Download(ctx, a.ObjectPath(jobID), tmp.Name()); err != nil {
		return err
	}

	f, err := os.Open(tmp.Name())
	if err != nil {
		return fmt.Errorf("restore job %s: %w", jobID, err)
	}
	defer f.Close()
	return ExtractArchive(f, dir)
}

// Delete removes a job's archive.
func (a *Archiver) Delete(ctx context.Context, jobID string) error {
	return a.store.Delete(ctx, a.ObjectPath(jobID))
}

// Package storage provides object storage for archived job artifacts.
package storage

import (
	"context"

	shardErrors "github.com/zeekshard/zeekshard/internal/errors"
)

// Common errors for storage operations. They match wrapped storage errors
// through errors.Is on category and code.
var (
	ErrObjectNotFound = shardErrors.NewStorageError(shardErrors.CodeObjectNotFound, "object not found", nil)
	ErrUploadFailed   = shardErrors.NewStorageError(shardErrors.CodeUploadFailed, "upload failed", nil)
	ErrDownloadFailed = shardErrors.NewStorageError(shardErrors.CodeDownloadFailed, "download failed", nil)
	ErrDeleteFailed   = shardErrors.NewStorageError(shardErrors.CodeUnexpected, "delete failed", nil)
)

// ObjectStorage abstracts object storage operations.
// Implementations are S3 and the local filesystem.
type ObjectStorage interface {
	// Upload copies the local file at localPath to objectPath.
	Upload(ctx context.Context, localPath, objectPath string) error

	// Download copies objectPath to the local file at localPath.
	Download(ctx context.Context, objectPath, localPath string) error

	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, objectPath string) error

	// Exists checks if an object exists in storage.
	Exists(ctx context.Context, objectPath string) (bool, error)

	// ListObjects returns all object paths under the given prefix.
	ListObjects(ctx context.Context, prefix string) ([]string, error)
}

// MultipartUploadConfig holds configuration for multipart uploads.
type MultipartUploadConfig struct {
	// PartSize is the size of each part in bytes (default: 5MB).
	PartSize int64
}

// DefaultMultipartConfig returns the default multipart upload configuration.
func DefaultMultipartConfig() MultipartUploadConfig {
	return MultipartUploadConfig{
		PartSize: 5 * 1024 * 1024, // 5MB
	}
}

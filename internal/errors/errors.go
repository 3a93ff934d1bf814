// Package errors provides structured error types for zeekshard.
// Every error carries a category, a code, a message and a retryable flag so
// the job pipeline and the API can decide how far a failure propagates.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by pipeline stage.
type ErrorCategory string

const (
	ErrCategoryPacket   ErrorCategory = "PACKET"
	ErrCategoryConfig   ErrorCategory = "CONFIG"
	ErrCategoryEngine   ErrorCategory = "ENGINE"
	ErrCategoryMerge    ErrorCategory = "MERGE"
	ErrCategoryQuery    ErrorCategory = "QUERY"
	ErrCategoryStorage  ErrorCategory = "STORAGE"
	ErrCategoryManifest ErrorCategory = "MANIFEST"
	ErrCategoryInternal ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Packet codes
	CodeMalformedHeader = "MALFORMED_HEADER"

	// Config codes
	CodeInvalidWorkerCount = "INVALID_WORKER_COUNT"
	CodeUnsupportedCapture = "UNSUPPORTED_CAPTURE"
	CodeUploadTooLarge     = "UPLOAD_TOO_LARGE"
	CodeInvalidConfig      = "INVALID_CONFIG"

	// Engine codes
	CodeEngineFailed  = "ENGINE_FAILED"
	CodeEngineTimeout = "ENGINE_TIMEOUT"

	// Merge codes
	CodeSchemaMismatch = "SCHEMA_MISMATCH"
	CodeWorkerFailed   = "WORKER_FAILED"
	CodeLogNameClash   = "LOG_NAME_CLASH"

	// Query codes
	CodeParseError = "PARSE_ERROR"

	// Storage codes
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeDownloadFailed = "DOWNLOAD_FAILED"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"

	// Manifest codes
	CodeJobNotFound = "JOB_NOT_FOUND"
	CodeLogNotFound = "LOG_NOT_FOUND"
	CodeWriteFailed = "WRITE_FAILED"

	// Internal codes
	CodeUnexpected   = "UNEXPECTED"
	CodeMergeBarrier = "MERGE_BARRIER"
)

// ShardError is the structured error type used throughout the system.
type ShardError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *ShardError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *ShardError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *ShardError) Is(target error) bool {
	var t *ShardError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new ShardError.
func New(category ErrorCategory, code, message string) *ShardError {
	return &ShardError{
		Category:  category,
		Code:      code,
		Message:   message,
		Retryable: isRetryable(category, code),
	}
}

// Wrap creates a new ShardError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *ShardError {
	return &ShardError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: isRetryable(category, code),
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *ShardError) WithDetails(details map[string]interface{}) *ShardError {
	cp := *e
	cp.Details = details
	return &cp
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	var se *ShardError
	if errors.As(err, &se) {
		return se.Retryable
	}
	return false
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a ShardError.
func GetCategory(err error) ErrorCategory {
	var se *ShardError
	if errors.As(err, &se) {
		return se.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a ShardError.
func GetCode(err error) string {
	var se *ShardError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// IsFatal reports whether an error should abort the job that produced it.
// Packet-level parse errors, schema mismatches and log name clashes are
// recovered in place;
// query errors only affect the search request that raised them.
func IsFatal(err error) bool {
	switch GetCategory(err) {
	case ErrCategoryPacket, ErrCategoryQuery:
		return false
	case ErrCategoryMerge:
		code := GetCode(err)
		return code != CodeSchemaMismatch && code != CodeLogNameClash
	default:
		return err != nil
	}
}

// Engine timeouts are deliberately not retryable: a worker that overruns its
// bound fails the job.
func isRetryable(category ErrorCategory, code string) bool {
	switch {
	case category == ErrCategoryStorage && code == CodeUploadFailed:
		return true
	case category == ErrCategoryStorage && code == CodeDownloadFailed:
		return true
	default:
		return false
	}
}

// Convenience constructors for common errors.

func NewPacketError(message string, cause error) *ShardError {
	return Wrap(ErrCategoryPacket, CodeMalformedHeader, message, cause)
}

func NewConfigError(code, message string) *ShardError {
	return New(ErrCategoryConfig, code, message)
}

func NewEngineError(code, message string, cause error) *ShardError {
	return Wrap(ErrCategoryEngine, code, message, cause)
}

func NewMergeError(code, message string) *ShardError {
	return New(ErrCategoryMerge, code, message)
}

func NewQueryError(code, message string) *ShardError {
	return New(ErrCategoryQuery, code, message)
}

func NewStorageError(code, message string, cause error) *ShardError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewManifestError(code, message string, cause error) *ShardError {
	return Wrap(ErrCategoryManifest, code, message, cause)
}

func NewInternalError(message string, cause error) *ShardError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}

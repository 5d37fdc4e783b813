// Package errors provides structured error types for the Tempofuse pipeline.
// All errors include a category, code, message, and cause so callers can
// decide uniformly whether a failure drops a record or halts the run.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by pipeline stage.
type ErrorCategory string

const (
	ErrCategorySource    ErrorCategory = "SOURCE"
	ErrCategoryNormalize ErrorCategory = "NORMALIZE"
	ErrCategoryFusion    ErrorCategory = "FUSION"
	ErrCategorySink      ErrorCategory = "SINK"
	ErrCategoryManifest  ErrorCategory = "MANIFEST"
	ErrCategoryConfig    ErrorCategory = "CONFIG"
	ErrCategoryInternal  ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Source codes
	CodeSourceUnavailable = "SOURCE_UNAVAILABLE"
	CodeUnknownCollection = "UNKNOWN_COLLECTION"

	// Normalize codes (per-record, non-fatal)
	CodeMissingUser      = "MISSING_USER"
	CodeInvalidTimestamp = "INVALID_TIMESTAMP"

	// Fusion codes
	CodeInvalidTolerance = "INVALID_TOLERANCE"
	CodeRunCancelled     = "RUN_CANCELLED"

	// Sink codes
	CodeSinkWriteFailed = "SINK_WRITE_FAILED"
	CodePublishFailed   = "PUBLISH_FAILED"

	// Manifest codes
	CodeRunNotFound  = "RUN_NOT_FOUND"
	CodeRecordFailed = "RECORD_FAILED"

	// Config codes
	CodeInvalidConfig = "INVALID_CONFIG"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// PipelineError is the structured error type used throughout the pipeline.
type PipelineError struct {
	Category ErrorCategory
	Code     string
	Message  string
	Cause    error
}

// Error returns a formatted error string.
func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *PipelineError) Is(target error) bool {
	var t *PipelineError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a new PipelineError.
func New(category ErrorCategory, code, message string) *PipelineError {
	return &PipelineError{
		Category: category,
		Code:     code,
		Message:  message,
	}
}

// Wrap creates a new PipelineError wrapping an existing error.
func Wrap(category ErrorCategory, code, message string, cause error) *PipelineError {
	return &PipelineError{
		Category: category,
		Code:     code,
		Message:  message,
		Cause:    cause,
	}
}

// IsFatal reports whether an error should halt the run. Per-record
// normalization defects are recoverable (drop and count); everything
// else in the taxonomy aborts the pipeline.
func IsFatal(err error) bool {
	var pe *PipelineError
	if !errors.As(err, &pe) {
		return true
	}
	return pe.Category != ErrCategoryNormalize
}

// GetCategory extracts the error category from an error chain.
// Returns empty string if the error is not a PipelineError.
func GetCategory(err error) ErrorCategory {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Category
	}
	return ""
}

// GetCode extracts the error code from an error chain.
// Returns empty string if the error is not a PipelineError.
func GetCode(err error) string {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}

// Convenience constructors for common errors.

func NewSourceError(code, message string, cause error) *PipelineError {
	return Wrap(ErrCategorySource, code, message, cause)
}

func NewNormalizeError(code, message string) *PipelineError {
	return New(ErrCategoryNormalize, code, message)
}

func NewFusionError(code, message string) *PipelineError {
	return New(ErrCategoryFusion, code, message)
}

func NewSinkError(code, message string, cause error) *PipelineError {
	return Wrap(ErrCategorySink, code, message, cause)
}

func NewManifestError(code, message string, cause error) *PipelineError {
	return Wrap(ErrCategoryManifest, code, message, cause)
}

func NewConfigError(message string, cause error) *PipelineError {
	return Wrap(ErrCategoryConfig, CodeInvalidConfig, message, cause)
}

func NewInternalError(message string, cause error) *PipelineError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}

// Package core provides the main vectormem client and its configuration.
package core

import (
	"errors"
	"fmt"

	"github.com/oceanbase/vectormem/pkg/errs"
)

// Predefined errors for common failure scenarios. They are the sentinels of
// package errs re-exported for callers that only import core.
var (
	// ErrNotFound indicates that a requested memory was not found.
	ErrNotFound = errs.ErrNotFound

	// ErrGone indicates that a requested memory has been deleted.
	ErrGone = errs.ErrGone

	// ErrInvalidConfig indicates that the provided configuration is invalid.
	ErrInvalidConfig = errs.ErrInvalidConfig

	// ErrInvalidInput indicates that the provided input is invalid.
	ErrInvalidInput = errs.ErrInvalidInput

	// ErrEmbeddingUnavailable indicates that embedding generation failed after retries.
	ErrEmbeddingUnavailable = errs.ErrEmbeddingUnavailable

	// ErrAuthentication indicates that the embedding provider rejected the credentials.
	ErrAuthentication = errs.ErrAuthentication

	// ErrIndexBuildFailed indicates that an index build did not complete.
	ErrIndexBuildFailed = errs.ErrIndexBuildFailed

	// ErrAlreadyInProgress indicates that an index build is already running.
	ErrAlreadyInProgress = errs.ErrAlreadyInProgress

	// ErrStorageOperation indicates that a storage operation failed.
	ErrStorageOperation = errs.ErrStorageOperation

	// ErrDimensionMismatch indicates a vector of the wrong length.
	ErrDimensionMismatch = errs.ErrDimensionMismatch

	// ErrClosed indicates that the client has been closed.
	ErrClosed = errors.New("client closed")
)

// MemoryError wraps errors with operation context.
//
// It provides additional context about which operation failed,
// making error messages more informative for debugging.
//
// Example:
//
//	err := &MemoryError{
//	    Op:  "CreateMemory",
//	    Err: ErrEmbeddingUnavailable,
//	}
//	// Error() returns: "vectormem: CreateMemory: embedding unavailable"
type MemoryError struct {
	// Op is the name of the operation that failed.
	Op string

	// Err is the underlying error.
	Err error
}

// Error returns a formatted error message.
//
// The format is: "vectormem: <Op>: <Err>"
func (e *MemoryError) Error() string {
	return fmt.Sprintf("vectormem: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
//
// This allows using errors.Is() and errors.As() with MemoryError.
func (e *MemoryError) Unwrap() error {
	return e.Err
}

// NewMemoryError creates a new MemoryError wrapping the given error.
//
// If err is nil, returns nil. This allows safe error wrapping:
//
//	if err != nil {
//	    return NewMemoryError("CreateMemory", err)
//	}
func NewMemoryError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &MemoryError{
		Op:  op,
		Err: err,
	}
}

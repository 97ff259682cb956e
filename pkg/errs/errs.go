// Package errs defines the error taxonomy shared by every vectormem package.
//
// Callers classify failures with errors.Is against the sentinels below; the
// concrete error usually carries more context through %w wrapping.
package errs

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput indicates that caller-supplied input violated a constraint.
	ErrInvalidInput = errors.New("invalid input")

	// ErrEmbeddingUnavailable indicates that the embedding provider could not
	// produce a vector within the retry budget.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")

	// ErrAuthentication indicates that the embedding provider rejected the credentials.
	ErrAuthentication = errors.New("authentication failed")

	// ErrIndexBuildFailed indicates that an index build did not complete.
	ErrIndexBuildFailed = errors.New("index build failed")

	// ErrNotFound indicates that a requested memory does not exist.
	ErrNotFound = errors.New("memory not found")

	// ErrGone indicates that a requested memory existed but has been deleted.
	ErrGone = errors.New("memory deleted")

	// ErrAlreadyInProgress indicates that an index build is already running.
	ErrAlreadyInProgress = errors.New("index build already in progress")

	// ErrInvalidConfig indicates that the provided configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrStorageOperation indicates that a storage operation failed.
	ErrStorageOperation = errors.New("storage operation failed")

	// ErrDimensionMismatch indicates a vector whose length differs from the configured dimension.
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
)

// InvalidInput returns an ErrInvalidInput naming the violated constraint.
func InvalidInput(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// Dimension returns an ErrDimensionMismatch describing both lengths.
func Dimension(want, got int) error {
	return fmt.Errorf("%w: expected %d, got %d", ErrDimensionMismatch, want, got)
}

// Storage wraps a backend failure as ErrStorageOperation.
func Storage(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %v", ErrStorageOperation, op, err)
}

// IsCanceled reports whether err stems from context cancellation or deadline.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

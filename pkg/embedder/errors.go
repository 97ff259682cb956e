package embedder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"

	"github.com/oceanbase/vectormem/pkg/errs"
)

// StatusError reports a non-success HTTP response from an embedding API.
type StatusError struct {
	// StatusCode is the HTTP status code returned by the provider.
	StatusCode int

	// Body is the (possibly truncated) response body or provider message.
	Body string
}

// Error returns a formatted error message.
func (e *StatusError) Error() string {
	return fmt.Sprintf("embedding API returned status %d: %s", e.StatusCode, e.Body)
}

// Retryable reports whether err is a transient provider failure worth retrying:
// timeouts, network errors, HTTP 408, 429 and 5xx.
func Retryable(err error) bool {
	if err == nil {
		return false
	}

	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode == http.StatusRequestTimeout ||
			se.StatusCode == http.StatusTooManyRequests ||
			se.StatusCode >= http.StatusInternalServerError
	}

	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}

	return errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED)
}

// classify maps a non-retryable provider failure onto the error taxonomy.
func classify(err error) error {
	var se *StatusError
	if errors.As(err, &se) {
		switch se.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			return fmt.Errorf("%w: %v", errs.ErrAuthentication, err)
		case http.StatusBadRequest, http.StatusRequestEntityTooLarge, http.StatusUnprocessableEntity:
			return fmt.Errorf("%w: rejected by provider: %v", errs.ErrInvalidInput, err)
		}
	}
	if errors.Is(err, errs.ErrDimensionMismatch) || errors.Is(err, errs.ErrInvalidInput) {
		return err
	}
	return fmt.Errorf("%w: %v", errs.ErrEmbeddingUnavailable, err)
}

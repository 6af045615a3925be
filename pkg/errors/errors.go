// Package errors defines the sentinel errors shared by the indexer and the
// searcher, plus an AppError wrapper that carries an HTTP status code.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrConfiguration marks caller bugs: a missing identity function, a
	// record kind with no extraction strategy, or a traversal deeper than one
	// related/iterable level. It is never retried.
	ErrConfiguration = errors.New("configuration error")
	// ErrConflict is an optimistic-concurrency failure. It is retried with
	// backoff and only escapes when the caller's context ends.
	ErrConflict     = errors.New("write conflict")
	ErrNotFound     = errors.New("not found")
	ErrDuplicate    = errors.New("already exists")
	ErrInvalidInput = errors.New("invalid input")
	ErrInternal     = errors.New("internal error")
	ErrTimeout      = errors.New("operation timed out")
	// ErrLookupFailure means a searched term matched index records but has
	// no global counter, so the index and the counters disagree.
	ErrLookupFailure = errors.New("lookup failure")
)

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// Configf builds a configuration error. Configuration errors surface as 500s
// because they describe a server-side misconfiguration, not a bad request.
func Configf(format string, args ...any) error {
	return Newf(ErrConfiguration, http.StatusInternalServerError, format, args...)
}

// IsConflict reports whether err is (or wraps) a retryable write conflict.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicate), errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

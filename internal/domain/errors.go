package domain

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Common domain errors
var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidPayload  = errors.New("invalid payload")
	ErrOffline         = errors.New("device is offline")
	ErrSyncInProgress  = errors.New("sync already in progress")
	ErrQueueProcessing = errors.New("queue processing already in progress")
	ErrNoCurrentUser   = errors.New("no current user")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrQuotaExceeded   = errors.New("storage quota exceeded")
)

// ErrorClass buckets an error for retry-policy purposes.
type ErrorClass int

const (
	// ClassTransient errors are retried with exponential backoff.
	ClassTransient ErrorClass = iota
	// ClassAuth errors are never retried by the queue; the application
	// must re-authenticate and call RetryFailed.
	ClassAuth
	// ClassValidation errors are terminal after a single retry.
	ClassValidation
	// ClassStorage errors come from the local store, not the network.
	ClassStorage
)

// BackendError is a non-2xx response from the backend record store.
type BackendError struct {
	StatusCode int
	Message    string
}

// Error returns the error message.
func (e *BackendError) Error() string {
	return fmt.Sprintf("backend error (status %d): %s", e.StatusCode, e.Message)
}

// Class maps the HTTP status to an error class.
func (e *BackendError) Class() ErrorClass {
	switch {
	case e.StatusCode == 401 || e.StatusCode == 403:
		return ClassAuth
	case e.StatusCode == 409 || e.StatusCode == 400 || e.StatusCode == 422:
		return ClassValidation
	default:
		return ClassTransient
	}
}

// StorageError wraps a local persistence failure.
type StorageError struct {
	Op  string
	Err error
}

// Error returns the error message.
func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *StorageError) Unwrap() error {
	return e.Err
}

// Classify buckets an arbitrary executor error for the queue's retry
// policy. Unknown errors default to transient so nothing is dropped on
// a misclassification.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassTransient
	}

	var be *BackendError
	if errors.As(err, &be) {
		return be.Class()
	}
	var se *StorageError
	if errors.As(err, &se) {
		return ClassStorage
	}
	if errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrNoCurrentUser) {
		return ClassAuth
	}
	if errors.Is(err, ErrInvalidPayload) {
		return ClassValidation
	}

	var ne net.Error
	if errors.As(err, &ne) {
		return ClassTransient
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}

	return ClassTransient
}

package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestBackendError_Class(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorClass
	}{
		{401, ClassAuth},
		{403, ClassAuth},
		{400, ClassValidation},
		{409, ClassValidation},
		{422, ClassValidation},
		{500, ClassTransient},
		{502, ClassTransient},
		{429, ClassTransient},
	}

	for _, tt := range tests {
		e := &BackendError{StatusCode: tt.status}
		if got := e.Class(); got != tt.want {
			t.Errorf("status %d: Class() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"nil", nil, ClassTransient},
		{"backend auth", &BackendError{StatusCode: 401}, ClassAuth},
		{"wrapped backend validation", fmt.Errorf("push: %w", &BackendError{StatusCode: 422}), ClassValidation},
		{"storage", &StorageError{Op: "put", Err: errors.New("disk full")}, ClassStorage},
		{"unauthorized sentinel", fmt.Errorf("token: %w", ErrUnauthorized), ClassAuth},
		{"no current user", ErrNoCurrentUser, ClassAuth},
		{"invalid payload", fmt.Errorf("decode: %w", ErrInvalidPayload), ClassValidation},
		{"deadline", context.DeadlineExceeded, ClassTransient},
		{"unknown", errors.New("something odd"), ClassTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStorageError_Unwrap(t *testing.T) {
	inner := errors.New("locked")
	err := &StorageError{Op: "save", Err: inner}
	if !errors.Is(err, inner) {
		t.Error("StorageError should unwrap to its cause")
	}
}

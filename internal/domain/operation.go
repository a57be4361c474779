package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// OperationType is the kind of mutation an operation carries.
type OperationType string

const (
	OpCreate OperationType = "create"
	OpUpdate OperationType = "update"
	OpDelete OperationType = "delete"
)

// OperationStatus is the lifecycle state of a queued operation.
type OperationStatus string

const (
	// StatusPending operations are waiting in the live queue.
	StatusPending OperationStatus = "pending"
	// StatusInFlight operations are being executed right now.
	StatusInFlight OperationStatus = "in_flight"
	// StatusCompleted operations succeeded and sit in the trailing log.
	StatusCompleted OperationStatus = "completed"
	// StatusFailed operations exhausted their retries.
	StatusFailed OperationStatus = "failed"
)

// SyncOperation is one durable pending mutation awaiting transmission to
// the backend. An operation is always in exactly one of the live queue,
// the completed log, or the failed log until explicitly cleared.
type SyncOperation struct {
	ID            string          `json:"id"`
	Type          OperationType   `json:"type"`
	Entity        EntityType      `json:"entity"`
	EntityID      string          `json:"entity_id,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	UserID        string          `json:"user_id"`
	Priority      Priority        `json:"priority"`
	Status        OperationStatus `json:"status"`
	Attempts      int             `json:"attempts"`
	MaxAttempts   int             `json:"max_attempts"`
	LastError     string          `json:"last_error,omitempty"`
	NextAttemptAt time.Time       `json:"next_attempt_at"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Validate checks the structural invariants of the operation.
func (op *SyncOperation) Validate() error {
	if !op.Entity.Valid() {
		return fmt.Errorf("%w: unknown entity type %q", ErrInvalidPayload, op.Entity)
	}
	switch op.Type {
	case OpCreate, OpUpdate, OpDelete:
	default:
		return fmt.Errorf("%w: unknown operation type %q", ErrInvalidPayload, op.Type)
	}
	if op.UserID == "" {
		return fmt.Errorf("%w: operation user_id is required", ErrInvalidPayload)
	}
	// Update and Delete always target an existing record.
	if op.Type != OpCreate && op.EntityID == "" {
		return fmt.Errorf("%w: %s operation requires entity_id", ErrInvalidPayload, op.Type)
	}
	if op.Type != OpDelete && len(op.Payload) == 0 {
		return fmt.Errorf("%w: %s operation requires a payload", ErrInvalidPayload, op.Type)
	}
	return nil
}

// QueueStats summarizes the operation queue for display.
type QueueStats struct {
	Pending       int       `json:"pending"`
	InFlight      int       `json:"in_flight"`
	Completed     int       `json:"completed"`
	Failed        int       `json:"failed"`
	OldestPending time.Time `json:"oldest_pending,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
}

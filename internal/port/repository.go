package port

import (
	"time"

	"github.com/pulsefit/offline-sync/internal/domain"
)

// RecordRepository persists stored records for the durable local store,
// including the LRU bookkeeping columns the eviction policy reads.
type RecordRepository interface {
	// Put inserts or replaces a record by key.
	Put(rec *domain.StoredRecord) error

	// Get retrieves a record by key. Returns (nil, nil) when absent.
	Get(key string) (*domain.StoredRecord, error)

	// Touch updates LRU recency and increments the hit count.
	Touch(key string, at time.Time) error

	// Delete removes a record by key.
	Delete(key string) error

	// DeleteAll removes every record.
	DeleteAll() error

	// List returns all records without payloads.
	List() ([]*domain.StoredRecord, error)

	// TotalSize returns the summed size of all stored payloads.
	TotalSize() (int64, error)

	// EvictionCandidates returns records ordered by
	// (priority ascending, last accessed ascending).
	EvictionCandidates(limit int) ([]*domain.StoredRecord, error)

	// DeleteOlderThan removes records created before cutoff and returns
	// the number removed.
	DeleteOlderThan(cutoff time.Time) (int, error)
}

// OperationRepository persists the sync queue: the live queue plus the
// bounded completed and failed trailing logs.
type OperationRepository interface {
	// Save inserts or replaces an operation by id.
	Save(op *domain.SyncOperation) error

	// GetOperation retrieves an operation by id. Returns (nil, nil)
	// when absent.
	GetOperation(id string) (*domain.SyncOperation, error)

	// DeleteOperation removes an operation by id.
	DeleteOperation(id string) error

	// ListByStatus returns operations in a given status, oldest first.
	ListByStatus(status domain.OperationStatus) ([]*domain.SyncOperation, error)

	// ListPendingFor returns pending operations touching one record.
	ListPendingFor(entity domain.EntityType, entityID string) ([]*domain.SyncOperation, error)

	// Due returns pending operations whose backoff delay has elapsed,
	// ordered by (priority descending, created ascending).
	Due(now time.Time) ([]*domain.SyncOperation, error)

	// ResetInFlight returns operations stranded in flight by an
	// interrupted process to pending and returns the number reset.
	ResetInFlight() (int, error)

	// CountByStatus returns per-status operation counts.
	CountByStatus() (map[domain.OperationStatus]int, error)

	// Count returns the total number of stored operations.
	Count() (int, error)

	// TrimLog keeps only the newest keep operations in a terminal
	// status and returns the number removed.
	TrimLog(status domain.OperationStatus, keep int) (int, error)

	// PurgeCompletedBefore removes completed operations older than
	// cutoff and returns the number removed.
	PurgeCompletedBefore(cutoff time.Time) (int, error)
}

// MetaStore persists small key/value state: sync checkpoints, scheduler
// counters, and runtime preference overrides.
type MetaStore interface {
	GetMeta(key string) (string, bool, error)
	SetMeta(key, value string) error
	DeleteMeta(key string) error
}

// Package queue implements the durable operation queue: an ordered log
// of pending mutations awaiting transmission to the backend, with
// duplicate merging, retry backoff, and bounded terminal logs.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulsefit/offline-sync/internal/domain"
	"github.com/pulsefit/offline-sync/internal/domain/event"
	"github.com/pulsefit/offline-sync/internal/port"
)

// Config contains operation queue configuration
type Config struct {
	// MaxQueueSize triggers a purge of old completed operations when
	// the stored operation count reaches it.
	MaxQueueSize int

	// MaxAttempts is the default retry budget for transient failures.
	MaxAttempts int

	// BaseDelay seeds the exponential retry backoff.
	BaseDelay time.Duration

	// DuplicateWindow is how recent a pending operation must be to be
	// merged with an incoming duplicate.
	DuplicateWindow time.Duration

	// CompletedLogSize / FailedLogSize bound the trailing logs.
	CompletedLogSize int
	FailedLogSize    int

	// CompletedRetention is the age past which completed operations
	// are purged when the queue is full.
	CompletedRetention time.Duration
}

// DefaultConfig returns default queue configuration
func DefaultConfig() *Config {
	return &Config{
		MaxQueueSize:       1000,
		MaxAttempts:        3,
		BaseDelay:          time.Second,
		DuplicateWindow:    5 * time.Second,
		CompletedLogSize:   100,
		FailedLogSize:      50,
		CompletedRetention: 24 * time.Hour,
	}
}

// AddOptions carries the optional parameters of Add.
type AddOptions struct {
	EntityID string
	Priority domain.Priority
}

// Executor performs the actual backend call for one operation.
type Executor func(ctx context.Context, op *domain.SyncOperation) error

// ProcessResult summarizes one queue drain pass.
type ProcessResult struct {
	Processed int
	Succeeded int
	Requeued  int
	Failed    int
	Errors    []string
}

// Queue is the durable operation queue.
type Queue struct {
	cfg        *Config
	repo       port.OperationRepository
	dispatcher event.EventDispatcher
	logger     *zap.Logger

	// mu guards the single-flight processing flag.
	mu         sync.Mutex
	processing bool

	now   func() time.Time
	newID func() string
}

// New creates a new Queue
func New(cfg *Config, repo port.OperationRepository, dispatcher event.EventDispatcher, logger *zap.Logger) *Queue {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = time.Second
	}
	if cfg.DuplicateWindow <= 0 {
		cfg.DuplicateWindow = 5 * time.Second
	}
	if cfg.CompletedLogSize <= 0 {
		cfg.CompletedLogSize = 100
	}
	if cfg.FailedLogSize <= 0 {
		cfg.FailedLogSize = 50
	}
	if cfg.CompletedRetention <= 0 {
		cfg.CompletedRetention = 24 * time.Hour
	}

	q := &Queue{
		cfg:        cfg,
		repo:       repo,
		dispatcher: dispatcher,
		logger:     logger,
		now:        time.Now,
		newID:      func() string { return uuid.New().String() },
	}

	// Operations left in flight by an interrupted process go back to
	// the live queue so a crash never strands a mutation.
	if n, err := q.repo.ResetInFlight(); err != nil {
		logger.Warn("failed to recover in-flight operations", zap.Error(err))
	} else if n > 0 {
		logger.Info("recovered in-flight operations", zap.Int("count", n))
	}

	return q
}

// Add enqueues a mutation. Recent duplicates on the same record are
// merged instead of duplicated, and a delete cancels any still-pending
// create or update for its record; a delete that cancels an unsent
// create is itself dropped (the backend never saw the record) and Add
// returns (nil, nil).
func (q *Queue) Add(opType domain.OperationType, entity domain.EntityType, payload json.RawMessage, userID string, opts AddOptions) (*domain.SyncOperation, error) {
	entityID := opts.EntityID
	if entityID == "" && opType != domain.OpDelete {
		entityID = payloadID(payload)
	}

	priority := opts.Priority
	if priority == 0 {
		priority = domain.PriorityNormal
	}

	now := q.now()
	op := &domain.SyncOperation{
		ID:            q.newID(),
		Type:          opType,
		Entity:        entity,
		EntityID:      entityID,
		Payload:       payload,
		UserID:        userID,
		Priority:      priority,
		Status:        domain.StatusPending,
		MaxAttempts:   q.cfg.MaxAttempts,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := op.Validate(); err != nil {
		return nil, err
	}
	// Typed validation at the queue boundary: every non-delete payload
	// must decode into its entity's variant.
	if opType != domain.OpDelete {
		if _, err := domain.DecodePayload(entity, payload); err != nil {
			return nil, err
		}
	}

	pending, err := q.repo.ListPendingFor(entity, op.EntityID)
	if err != nil {
		return nil, &domain.StorageError{Op: "queue lookup", Err: err}
	}

	if opType == domain.OpDelete {
		cancelledCreate, err := q.cancelPendingFor(pending)
		if err != nil {
			return nil, err
		}
		if cancelledCreate {
			q.logger.Debug("delete cancelled an unsent create, dropping both",
				zap.String("entity", string(entity)),
				zap.String("entity_id", op.EntityID))
			q.notifyChanged()
			return nil, nil
		}
	} else {
		if merged, err := q.tryMerge(op, pending, now); err != nil {
			return nil, err
		} else if merged != nil {
			q.notifyChanged()
			return merged, nil
		}
	}

	if err := q.enforceSizeCap(now); err != nil {
		return nil, err
	}

	if err := q.repo.Save(op); err != nil {
		return nil, &domain.StorageError{Op: "queue write", Err: err}
	}

	q.logger.Debug("operation enqueued",
		zap.String("id", op.ID),
		zap.String("type", string(op.Type)),
		zap.String("entity", string(op.Entity)),
		zap.String("entity_id", op.EntityID))
	q.notifyChanged()
	return op, nil
}

// cancelPendingFor removes still-pending creates/updates ahead of a
// delete. Returns whether a pending create was cancelled.
func (q *Queue) cancelPendingFor(pending []*domain.SyncOperation) (bool, error) {
	cancelledCreate := false
	for _, p := range pending {
		if p.Status != domain.StatusPending {
			continue
		}
		switch p.Type {
		case domain.OpCreate, domain.OpUpdate:
			if err := q.repo.DeleteOperation(p.ID); err != nil {
				return false, &domain.StorageError{Op: "queue cancel", Err: err}
			}
			if p.Type == domain.OpCreate {
				cancelledCreate = true
			}
		}
	}
	return cancelledCreate, nil
}

// tryMerge folds op into a recent pending duplicate. Returns the merged
// operation, or nil when nothing was merged.
func (q *Queue) tryMerge(op *domain.SyncOperation, pending []*domain.SyncOperation, now time.Time) (*domain.SyncOperation, error) {
	if op.EntityID == "" {
		return nil, nil
	}

	for _, p := range pending {
		if p.Status != domain.StatusPending {
			continue
		}
		if now.Sub(p.CreatedAt) > q.cfg.DuplicateWindow {
			continue
		}

		mergeable := (p.Type == op.Type && op.Type == domain.OpUpdate) ||
			(p.Type == domain.OpCreate && op.Type == domain.OpUpdate)
		if !mergeable {
			continue
		}

		merged, err := mergeJSON(p.Payload, op.Payload)
		if err != nil {
			return nil, fmt.Errorf("failed to merge duplicate payloads: %w", err)
		}
		p.Payload = merged
		p.UpdatedAt = now
		if op.Priority.HigherThan(p.Priority) {
			p.Priority = op.Priority
		}
		if err := q.repo.Save(p); err != nil {
			return nil, &domain.StorageError{Op: "queue merge", Err: err}
		}

		q.logger.Debug("duplicate operation merged",
			zap.String("into", p.ID),
			zap.String("entity_id", op.EntityID))
		return p, nil
	}

	return nil, nil
}

// enforceSizeCap purges stale completed operations when the stored
// operation count reaches the maximum.
func (q *Queue) enforceSizeCap(now time.Time) error {
	if q.cfg.MaxQueueSize <= 0 {
		return nil
	}
	count, err := q.repo.Count()
	if err != nil {
		return &domain.StorageError{Op: "queue count", Err: err}
	}
	if count < q.cfg.MaxQueueSize {
		return nil
	}

	purged, err := q.repo.PurgeCompletedBefore(now.Add(-q.cfg.CompletedRetention))
	if err != nil {
		return &domain.StorageError{Op: "queue purge", Err: err}
	}
	q.logger.Info("queue at capacity, purged old completed operations",
		zap.Int("purged", purged),
		zap.Int("count", count))
	return nil
}

// ProcessQueue drains due operations through executor in
// (priority descending, created ascending) order. Only one pass runs at
// a time; a concurrent call returns ErrQueueProcessing. When entities
// is non-empty only operations for those entity types are processed.
func (q *Queue) ProcessQueue(ctx context.Context, executor Executor, entities ...domain.EntityType) (*ProcessResult, error) {
	q.mu.Lock()
	if q.processing {
		q.mu.Unlock()
		return nil, domain.ErrQueueProcessing
	}
	q.processing = true
	q.mu.Unlock()

	defer func() {
		q.mu.Lock()
		q.processing = false
		q.mu.Unlock()
	}()

	scope := make(map[domain.EntityType]bool, len(entities))
	for _, e := range entities {
		scope[e] = true
	}

	due, err := q.repo.Due(q.now())
	if err != nil {
		return nil, &domain.StorageError{Op: "queue read", Err: err}
	}

	result := &ProcessResult{}
	for _, op := range due {
		if len(scope) > 0 && !scope[op.Entity] {
			continue
		}
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		default:
		}

		result.Processed++
		if err := q.execute(ctx, executor, op); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s %s/%s: %v", op.Type, op.Entity, op.EntityID, err))
			if op.Status == domain.StatusFailed {
				result.Failed++
			} else {
				result.Requeued++
			}
		} else {
			result.Succeeded++
		}
	}

	if result.Processed > 0 {
		q.notifyChanged()
	}
	return result, nil
}

// execute runs one operation and applies the retry policy to its
// outcome. The final state is stored keyed by operation id, so slow
// executors completing out of order cannot corrupt queue state.
func (q *Queue) execute(ctx context.Context, executor Executor, op *domain.SyncOperation) error {
	now := q.now()
	op.Status = domain.StatusInFlight
	op.UpdatedAt = now
	if err := q.repo.Save(op); err != nil {
		return &domain.StorageError{Op: "queue write", Err: err}
	}

	execErr := executor(ctx, op)
	now = q.now()
	op.UpdatedAt = now

	if execErr == nil {
		op.Status = domain.StatusCompleted
		op.LastError = ""
		if err := q.repo.Save(op); err != nil {
			return &domain.StorageError{Op: "queue write", Err: err}
		}
		if _, err := q.repo.TrimLog(domain.StatusCompleted, q.cfg.CompletedLogSize); err != nil {
			q.logger.Warn("failed to trim completed log", zap.Error(err))
		}
		return nil
	}

	op.Attempts++
	op.LastError = execErr.Error()

	switch domain.Classify(execErr) {
	case domain.ClassAuth:
		// Surfaced for re-authentication; the app calls RetryFailed
		// once credentials are fresh.
		q.fail(op, "authorization failure")
	case domain.ClassValidation:
		// One retry to rule out transient duplication, then terminal.
		if op.Attempts >= 2 {
			q.fail(op, "validation failure")
		} else {
			q.requeue(op, now)
		}
	default:
		if op.Attempts >= op.MaxAttempts {
			q.fail(op, "retries exhausted")
		} else {
			q.requeue(op, now)
		}
	}

	if err := q.repo.Save(op); err != nil {
		return &domain.StorageError{Op: "queue write", Err: err}
	}
	if op.Status == domain.StatusFailed {
		if _, err := q.repo.TrimLog(domain.StatusFailed, q.cfg.FailedLogSize); err != nil {
			q.logger.Warn("failed to trim failed log", zap.Error(err))
		}
	}
	return execErr
}

func (q *Queue) requeue(op *domain.SyncOperation, now time.Time) {
	delay := q.cfg.BaseDelay * (1 << op.Attempts)
	op.Status = domain.StatusPending
	op.NextAttemptAt = now.Add(delay)
	q.logger.Debug("operation requeued",
		zap.String("id", op.ID),
		zap.Int("attempts", op.Attempts),
		zap.Duration("delay", delay))
}

func (q *Queue) fail(op *domain.SyncOperation, reason string) {
	op.Status = domain.StatusFailed
	q.logger.Warn("operation moved to failed log",
		zap.String("id", op.ID),
		zap.String("entity", string(op.Entity)),
		zap.String("reason", reason),
		zap.String("last_error", op.LastError))
}

// RetryFailed moves every failed operation back into the live queue
// with a fresh retry budget. Returns the number requeued.
func (q *Queue) RetryFailed() (int, error) {
	failed, err := q.repo.ListByStatus(domain.StatusFailed)
	if err != nil {
		return 0, &domain.StorageError{Op: "queue read", Err: err}
	}

	now := q.now()
	for _, op := range failed {
		op.Status = domain.StatusPending
		op.Attempts = 0
		op.LastError = ""
		op.NextAttemptAt = now
		op.UpdatedAt = now
		if err := q.repo.Save(op); err != nil {
			return 0, &domain.StorageError{Op: "queue write", Err: err}
		}
	}

	if len(failed) > 0 {
		q.notifyChanged()
	}
	return len(failed), nil
}

// RetryOperation moves one failed operation back into the live queue.
func (q *Queue) RetryOperation(id string) error {
	op, err := q.repo.GetOperation(id)
	if err != nil {
		return &domain.StorageError{Op: "queue read", Err: err}
	}
	if op == nil {
		return fmt.Errorf("operation %s: %w", id, domain.ErrNotFound)
	}

	now := q.now()
	op.Status = domain.StatusPending
	op.Attempts = 0
	op.LastError = ""
	op.NextAttemptAt = now
	op.UpdatedAt = now
	if err := q.repo.Save(op); err != nil {
		return &domain.StorageError{Op: "queue write", Err: err}
	}
	q.notifyChanged()
	return nil
}

// HasPendingFor reports whether an unsynced mutation exists for one
// record. The sync engine uses this for conflict detection.
func (q *Queue) HasPendingFor(entity domain.EntityType, entityID string) (bool, error) {
	pending, err := q.repo.ListPendingFor(entity, entityID)
	if err != nil {
		return false, &domain.StorageError{Op: "queue lookup", Err: err}
	}
	return len(pending) > 0, nil
}

// Pending returns the live queue snapshot.
func (q *Queue) Pending() ([]*domain.SyncOperation, error) {
	return q.repo.ListByStatus(domain.StatusPending)
}

// Failed returns the failed log.
func (q *Queue) Failed() ([]*domain.SyncOperation, error) {
	return q.repo.ListByStatus(domain.StatusFailed)
}

// Completed returns the completed log.
func (q *Queue) Completed() ([]*domain.SyncOperation, error) {
	return q.repo.ListByStatus(domain.StatusCompleted)
}

// ClearCompleted empties the completed log.
func (q *Queue) ClearCompleted() (int, error) {
	n, err := q.repo.TrimLog(domain.StatusCompleted, 0)
	if err == nil && n > 0 {
		q.notifyChanged()
	}
	return n, err
}

// ClearFailed empties the failed log.
func (q *Queue) ClearFailed() (int, error) {
	n, err := q.repo.TrimLog(domain.StatusFailed, 0)
	if err == nil && n > 0 {
		q.notifyChanged()
	}
	return n, err
}

// Stats returns queue counters for display.
func (q *Queue) Stats() (domain.QueueStats, error) {
	counts, err := q.repo.CountByStatus()
	if err != nil {
		return domain.QueueStats{}, &domain.StorageError{Op: "queue count", Err: err}
	}

	stats := domain.QueueStats{
		Pending:   counts[domain.StatusPending],
		InFlight:  counts[domain.StatusInFlight],
		Completed: counts[domain.StatusCompleted],
		Failed:    counts[domain.StatusFailed],
	}

	if pending, err := q.repo.ListByStatus(domain.StatusPending); err == nil && len(pending) > 0 {
		stats.OldestPending = pending[0].CreatedAt
	}
	if failed, err := q.repo.ListByStatus(domain.StatusFailed); err == nil && len(failed) > 0 {
		stats.LastError = failed[len(failed)-1].LastError
	}

	return stats, nil
}

func (q *Queue) notifyChanged() {
	stats, err := q.Stats()
	if err != nil {
		q.logger.Warn("failed to compute queue stats", zap.Error(err))
		return
	}
	q.dispatcher.Dispatch(event.NewQueueChanged(stats))
}

// payloadID extracts the record id from a payload.
func payloadID(payload json.RawMessage) string {
	var probe struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return ""
	}
	return probe.ID
}

// mergeJSON field-unions overlay into base; overlay fields win.
func mergeJSON(base, overlay json.RawMessage) (json.RawMessage, error) {
	var baseMap, overlayMap map[string]any
	if err := json.Unmarshal(base, &baseMap); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(overlay, &overlayMap); err != nil {
		return nil, err
	}
	for k, v := range overlayMap {
		baseMap[k] = v
	}
	return json.Marshal(baseMap)
}

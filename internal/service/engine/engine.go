// Package engine implements bidirectional sync: pulling remote changes
// since the last checkpoint, detecting and resolving conflicts against
// queued local mutations, and draining the operation queue against the
// backend record store.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pulsefit/offline-sync/internal/domain"
	"github.com/pulsefit/offline-sync/internal/domain/event"
	"github.com/pulsefit/offline-sync/internal/port"
	"github.com/pulsefit/offline-sync/internal/service/queue"
)

// Direction selects which halves of a sync cycle run.
type Direction string

const (
	DirectionPull          Direction = "pull"
	DirectionPush          Direction = "push"
	DirectionBidirectional Direction = "bidirectional"
)

// Options parameterizes one sync cycle.
type Options struct {
	Direction Direction
	Entities  []domain.EntityType
	Force     bool
	BatchSize int
}

// Result aggregates one sync cycle's outcome.
type Result struct {
	Success   bool                  `json:"success"`
	Pushed    int                   `json:"pushed"`
	Pulled    int                   `json:"pulled"`
	Conflicts []domain.SyncConflict `json:"conflicts,omitempty"`
	Errors    []string              `json:"errors,omitempty"`
	Duration  time.Duration         `json:"duration"`
}

// Gate answers whether sync work should be attempted right now.
type Gate interface {
	CanSync() bool
}

// LocalStore is the slice of the cache manager the engine reads and
// writes local record copies through.
type LocalStore interface {
	Get(key string, entity domain.EntityType, out any) (bool, error)
	Set(key string, value any, entity domain.EntityType) error
	Delete(key string) error
}

// OperationQueue is the slice of the operation queue the engine drains
// and consults for conflict detection.
type OperationQueue interface {
	ProcessQueue(ctx context.Context, executor queue.Executor, entities ...domain.EntityType) (*queue.ProcessResult, error)
	HasPendingFor(entity domain.EntityType, entityID string) (bool, error)
	Add(opType domain.OperationType, entity domain.EntityType, payload json.RawMessage, userID string, opts queue.AddOptions) (*domain.SyncOperation, error)
}

// Config contains sync engine configuration
type Config struct {
	// BatchSize bounds how many remote records one pull fetches.
	BatchSize int
}

// DefaultConfig returns default engine configuration
func DefaultConfig() *Config {
	return &Config{BatchSize: 100}
}

// Engine orchestrates sync cycles.
type Engine struct {
	cfg         *Config
	remote      port.RemoteStore
	auth        port.AuthProvider
	local       LocalStore
	queue       OperationQueue
	gate        Gate
	checkpoints port.MetaStore
	dispatcher  event.EventDispatcher
	logger      *zap.Logger

	// mu guards the single-cycle flag.
	mu      sync.Mutex
	syncing bool

	conflictMu sync.Mutex
	conflicts  map[string]*domain.SyncConflict

	now   func() time.Time
	newID func() string
}

// New creates a new Engine
func New(cfg *Config, remote port.RemoteStore, auth port.AuthProvider, local LocalStore, opQueue OperationQueue, gate Gate, checkpoints port.MetaStore, dispatcher event.EventDispatcher, logger *zap.Logger) *Engine {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}

	return &Engine{
		cfg:         cfg,
		remote:      remote,
		auth:        auth,
		local:       local,
		queue:       opQueue,
		gate:        gate,
		checkpoints: checkpoints,
		dispatcher:  dispatcher,
		logger:      logger,
		conflicts:   make(map[string]*domain.SyncConflict),
		now:         time.Now,
		newID:       func() string { return uuid.New().String() },
	}
}

// Sync runs one cycle. Only one cycle runs at a time; a concurrent call
// returns ErrSyncInProgress without side effects. Unless forced, the
// cycle refuses to start while the network gate is closed. Pull always
// precedes push so a push cannot race a pull into flagging the record
// it just wrote as a conflict.
func (e *Engine) Sync(ctx context.Context, opts Options) (*Result, error) {
	e.mu.Lock()
	if e.syncing {
		e.mu.Unlock()
		return nil, domain.ErrSyncInProgress
	}
	e.syncing = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.syncing = false
		e.mu.Unlock()
	}()

	if !opts.Force && !e.gate.CanSync() {
		return nil, domain.ErrOffline
	}

	if opts.Direction == "" {
		opts.Direction = DirectionBidirectional
	}
	entities := opts.Entities
	if len(entities) == 0 {
		entities = domain.AllEntityTypes()
	}
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = e.cfg.BatchSize
	}

	start := e.now()
	result := &Result{}

	e.logger.Info("sync cycle started",
		zap.String("direction", string(opts.Direction)),
		zap.Int("entities", len(entities)),
		zap.Bool("force", opts.Force))

	userID, err := e.auth.CurrentUserID(ctx)
	if err != nil || userID == "" {
		// Without a user every entity fails explicitly; nothing is
		// silently skipped.
		for _, entity := range entities {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", entity, domain.ErrNoCurrentUser))
		}
	} else {
		if opts.Direction == DirectionPull || opts.Direction == DirectionBidirectional {
			for _, entity := range entities {
				if err := e.pullEntity(ctx, userID, entity, batchSize, result); err != nil {
					result.Errors = append(result.Errors, fmt.Sprintf("%s: pull: %v", entity, err))
				}
			}
		}

		if opts.Direction == DirectionPush || opts.Direction == DirectionBidirectional {
			pushRes, err := e.queue.ProcessQueue(ctx, e.executor(), entities...)
			if err != nil && !errors.Is(err, domain.ErrQueueProcessing) {
				result.Errors = append(result.Errors, fmt.Sprintf("push: %v", err))
			}
			if pushRes != nil {
				result.Pushed = pushRes.Succeeded
				result.Errors = append(result.Errors, pushRes.Errors...)
			}
		}
	}

	result.Duration = e.now().Sub(start)
	result.Success = len(result.Errors) == 0

	e.logger.Info("sync cycle finished",
		zap.Bool("success", result.Success),
		zap.Int("pushed", result.Pushed),
		zap.Int("pulled", result.Pulled),
		zap.Int("conflicts", len(result.Conflicts)),
		zap.Int("errors", len(result.Errors)),
		zap.Duration("duration", result.Duration))

	e.dispatcher.Dispatch(event.NewSyncCompleted(
		result.Success, result.Pushed, result.Pulled, len(result.Conflicts), result.Errors, result.Duration))

	return result, nil
}

// pullEntity fetches remote changes since the entity's checkpoint and
// applies them locally, running conflict detection for any record a
// pending local mutation touches. A record that fails to apply is
// reported and holds the checkpoint back so it is re-fetched next
// cycle rather than aborting this one.
func (e *Engine) pullEntity(ctx context.Context, userID string, entity domain.EntityType, batchSize int, result *Result) error {
	cfg, ok := domain.SyncConfigFor(entity)
	if !ok {
		return fmt.Errorf("unknown entity type %q", entity)
	}

	since := e.checkpoint(entity)
	records, err := e.remote.SelectChangedSince(ctx, cfg.Table, userID, cfg.TimestampField, since, batchSize)
	if err != nil {
		return err
	}

	checkpoint := since
	advance := true

	for _, remote := range records {
		pk := remote.String(cfg.PrimaryKey)
		if pk == "" {
			e.logger.Warn("pulled record without primary key, skipping",
				zap.String("entity", string(entity)))
			continue
		}
		remoteTS := remote.Time(cfg.TimestampField)

		applied, err := e.applyRemote(ctx, cfg, entity, pk, remote, remoteTS, result)
		if err != nil {
			e.logger.Warn("failed to apply pulled record",
				zap.String("entity", string(entity)),
				zap.String("id", pk),
				zap.Error(err))
			result.Errors = append(result.Errors, fmt.Sprintf("%s %s: apply: %v", entity, pk, err))
			advance = false
			continue
		}
		if !applied {
			// An unresolved conflict holds the checkpoint back so the
			// record is re-examined next cycle.
			advance = false
		}
		if advance && remoteTS.After(checkpoint) {
			checkpoint = remoteTS
		}
	}

	if checkpoint.After(since) {
		e.setCheckpoint(entity, checkpoint)
	}
	return nil
}

// applyRemote reconciles one pulled record against the local copy.
// Returns false when the record is parked in the unresolved conflicts
// list.
func (e *Engine) applyRemote(ctx context.Context, cfg domain.EntitySyncConfig, entity domain.EntityType, pk string, remote domain.Record, remoteTS time.Time, result *Result) (bool, error) {
	key := CacheKey(entity, pk)

	if cfg.SoftDelete && remote.String("deleted_at") != "" {
		if err := e.local.Delete(key); err != nil {
			return false, err
		}
		result.Pulled++
		return true, nil
	}

	var local domain.Record
	found, err := e.local.Get(key, entity, &local)
	if err != nil {
		// Degraded local read: take the remote copy.
		found = false
	}

	if !found {
		if err := e.local.Set(key, remote, entity); err != nil {
			return false, err
		}
		result.Pulled++
		return true, nil
	}

	localTS := local.Time(cfg.TimestampField)
	if localTS.Equal(remoteTS) {
		return true, nil
	}

	hasPending, err := e.queue.HasPendingFor(entity, pk)
	if err != nil {
		return false, err
	}
	if !hasPending {
		// Timestamps differ but nothing local is unsynced: the remote
		// copy wins trivially, no conflict object is created.
		if err := e.local.Set(key, remote, entity); err != nil {
			return false, err
		}
		result.Pulled++
		return true, nil
	}

	conflict := &domain.SyncConflict{
		ID:              e.newID(),
		Entity:          entity,
		EntityID:        pk,
		LocalRecord:     local,
		RemoteRecord:    remote,
		LocalTimestamp:  localTS,
		RemoteTimestamp: remoteTS,
		DetectedAt:      e.now(),
	}

	applied, err := e.resolveAuto(ctx, cfg, conflict)
	if err != nil {
		return false, err
	}
	result.Conflicts = append(result.Conflicts, *conflict)

	if conflict.Resolved && conflict.Resolution != domain.ResolutionLocal {
		result.Pulled++
	}
	return applied, nil
}

// resolveAuto applies the entity's conflict strategy. Manual conflicts
// are parked for user adjudication and reported as not applied.
func (e *Engine) resolveAuto(ctx context.Context, cfg domain.EntitySyncConfig, conflict *domain.SyncConflict) (bool, error) {
	key := CacheKey(conflict.Entity, conflict.EntityID)

	switch cfg.Strategy {
	case domain.StrategyLocalWins:
		// The local copy stands; the pending operation will push it.
		conflict.Resolved = true
		conflict.Resolution = domain.ResolutionLocal
		return true, nil

	case domain.StrategyRemoteWins:
		if err := e.local.Set(key, conflict.RemoteRecord, conflict.Entity); err != nil {
			return false, err
		}
		conflict.Resolved = true
		conflict.Resolution = domain.ResolutionRemote
		return true, nil

	case domain.StrategyMerge:
		merged := mergeRecords(cfg, conflict.LocalRecord, conflict.RemoteRecord,
			conflict.LocalTimestamp, conflict.RemoteTimestamp)
		if err := e.local.Set(key, merged, conflict.Entity); err != nil {
			return false, err
		}
		// Propagate the merge; the queue folds it into the pending op.
		if err := e.enqueueResolution(ctx, conflict.Entity, conflict.EntityID, merged); err != nil {
			return false, err
		}
		conflict.Resolved = true
		conflict.Resolution = domain.ResolutionMerged
		return true, nil

	default: // StrategyManual
		e.conflictMu.Lock()
		e.conflicts[conflict.ID] = conflict
		unresolved := len(e.conflicts)
		e.conflictMu.Unlock()

		e.logger.Info("conflict queued for manual resolution",
			zap.String("entity", string(conflict.Entity)),
			zap.String("id", conflict.EntityID))
		e.dispatcher.Dispatch(event.NewConflictListChanged(unresolved))
		return false, nil
	}
}

// ResolveConflict settles one parked conflict: the chosen payload is
// applied locally and an update is enqueued so the choice propagates to
// the backend.
func (e *Engine) ResolveConflict(ctx context.Context, conflictID string, choice domain.Resolution, mergedRecord domain.Record) error {
	e.conflictMu.Lock()
	conflict, ok := e.conflicts[conflictID]
	e.conflictMu.Unlock()
	if !ok {
		return fmt.Errorf("conflict %s: %w", conflictID, domain.ErrNotFound)
	}

	cfg, _ := domain.SyncConfigFor(conflict.Entity)

	var chosen domain.Record
	switch choice {
	case domain.ResolutionLocal:
		chosen = conflict.LocalRecord
	case domain.ResolutionRemote:
		chosen = conflict.RemoteRecord
	case domain.ResolutionMerged:
		chosen = mergedRecord
		if chosen == nil {
			chosen = mergeRecords(cfg, conflict.LocalRecord, conflict.RemoteRecord,
				conflict.LocalTimestamp, conflict.RemoteTimestamp)
		}
	default:
		return fmt.Errorf("unknown resolution choice %q", choice)
	}

	key := CacheKey(conflict.Entity, conflict.EntityID)
	if err := e.local.Set(key, chosen, conflict.Entity); err != nil {
		return err
	}
	if err := e.enqueueResolution(ctx, conflict.Entity, conflict.EntityID, chosen); err != nil {
		return err
	}

	conflict.Resolved = true
	conflict.Resolution = choice

	e.conflictMu.Lock()
	delete(e.conflicts, conflictID)
	unresolved := len(e.conflicts)
	e.conflictMu.Unlock()

	e.logger.Info("conflict resolved",
		zap.String("entity", string(conflict.Entity)),
		zap.String("id", conflict.EntityID),
		zap.String("choice", string(choice)))
	e.dispatcher.Dispatch(event.NewConflictListChanged(unresolved))
	return nil
}

// Conflicts returns the unresolved conflict list for display.
func (e *Engine) Conflicts() []domain.SyncConflict {
	e.conflictMu.Lock()
	defer e.conflictMu.Unlock()

	out := make([]domain.SyncConflict, 0, len(e.conflicts))
	for _, c := range e.conflicts {
		out = append(out, *c)
	}
	return out
}

// enqueueResolution pushes a resolved payload toward the backend.
func (e *Engine) enqueueResolution(ctx context.Context, entity domain.EntityType, entityID string, record domain.Record) error {
	userID, err := e.auth.CurrentUserID(ctx)
	if err != nil {
		return err
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return err
	}
	_, err = e.queue.Add(domain.OpUpdate, entity, payload, userID, queue.AddOptions{
		EntityID: entityID,
		Priority: domain.PriorityHigh,
	})
	return err
}

// executor maps a queued operation to the backend call its entity
// policy prescribes.
func (e *Engine) executor() queue.Executor {
	return func(ctx context.Context, op *domain.SyncOperation) error {
		cfg, ok := domain.SyncConfigFor(op.Entity)
		if !ok {
			return fmt.Errorf("unknown entity type %q", op.Entity)
		}

		switch op.Type {
		case domain.OpCreate:
			var rec domain.Record
			if err := json.Unmarshal(op.Payload, &rec); err != nil {
				return fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
			}
			return e.remote.Insert(ctx, cfg.Table, rec)

		case domain.OpUpdate:
			var rec domain.Record
			if err := json.Unmarshal(op.Payload, &rec); err != nil {
				return fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
			}
			return e.remote.Update(ctx, cfg.Table, cfg.PrimaryKey, op.EntityID, rec)

		case domain.OpDelete:
			if cfg.SoftDelete {
				return e.remote.SoftDelete(ctx, cfg.Table, cfg.PrimaryKey, op.EntityID, e.now())
			}
			return e.remote.Delete(ctx, cfg.Table, cfg.PrimaryKey, op.EntityID)

		default:
			return fmt.Errorf("unknown operation type %q", op.Type)
		}
	}
}

// CacheKey is the durable-store key for one entity record.
func CacheKey(entity domain.EntityType, id string) string {
	return fmt.Sprintf("%s:%s", entity, id)
}

const checkpointPrefix = "checkpoint:"

func (e *Engine) checkpoint(entity domain.EntityType) time.Time {
	value, ok, err := e.checkpoints.GetMeta(checkpointPrefix + string(entity))
	if err != nil || !ok {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return ts
}

func (e *Engine) setCheckpoint(entity domain.EntityType, ts time.Time) {
	if err := e.checkpoints.SetMeta(checkpointPrefix+string(entity), ts.UTC().Format(time.RFC3339Nano)); err != nil {
		e.logger.Warn("failed to persist checkpoint",
			zap.String("entity", string(entity)),
			zap.Error(err))
	}
}

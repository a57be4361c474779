// Package scheduler triggers sync cycles on a cadence, on reconnect,
// and on app-foreground transitions, subject to network gating and
// storage headroom checks.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/pulsefit/offline-sync/internal/domain"
	"github.com/pulsefit/offline-sync/internal/domain/event"
	"github.com/pulsefit/offline-sync/internal/port"
	"github.com/pulsefit/offline-sync/internal/service/engine"
)

// SyncRunner runs one sync cycle.
type SyncRunner interface {
	Sync(ctx context.Context, opts engine.Options) (*engine.Result, error)
}

// Gate answers whether sync work should be attempted right now.
type Gate interface {
	CanSync() bool
}

// Cleaner reclaims local storage ahead of a sync when space runs low.
type Cleaner interface {
	Cleanup() (int, error)
}

// StorageMeter reports local storage use.
type StorageMeter interface {
	TotalSize() (int64, error)
}

// Config contains scheduler configuration
type Config struct {
	// Enabled turns background syncing on.
	Enabled bool

	// Interval is the background sync cadence.
	Interval time.Duration

	// MinInterval is the minimum spacing between any two cycles,
	// including event-triggered ones.
	MinInterval time.Duration

	// FailureThreshold is the consecutive-failure count after which
	// the scheduler backs off to a longer spacing instead of hammering
	// the backend.
	FailureThreshold int

	// BackoffMultiplier stretches the spacing once the threshold is
	// reached.
	BackoffMultiplier int

	// StorageHighWaterBytes triggers a cleanup pass before syncing
	// when local storage use crosses it. Zero disables the check.
	StorageHighWaterBytes int64
}

// DefaultConfig returns default scheduler configuration
func DefaultConfig() *Config {
	return &Config{
		Enabled:           true,
		Interval:          15 * time.Minute,
		MinInterval:       time.Minute,
		FailureThreshold:  3,
		BackoffMultiplier: 4,
	}
}

// State is the persisted scheduler bookkeeping.
type State struct {
	LastSyncAt          time.Time `json:"last_sync_at"`
	LastAttemptAt       time.Time `json:"last_attempt_at"`
	SyncCount           int       `json:"sync_count"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	Enabled             bool      `json:"enabled"`
}

const stateMetaKey = "schedule:state"

// Scheduler owns the background sync timers.
type Scheduler struct {
	cfg        *Config
	engine     SyncRunner
	gate       Gate
	cleaner    Cleaner
	storage    StorageMeter
	meta       port.MetaStore
	dispatcher event.EventDispatcher
	logger     *zap.Logger

	cron    *cron.Cron
	entryID cron.EntryID
	dispose func()

	mu    sync.Mutex
	state State
	now   func() time.Time
}

// New creates a new Scheduler
func New(cfg *Config, runner SyncRunner, gate Gate, cleaner Cleaner, storage StorageMeter, meta port.MetaStore, dispatcher event.EventDispatcher, logger *zap.Logger) *Scheduler {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 15 * time.Minute
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = time.Minute
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.BackoffMultiplier <= 1 {
		cfg.BackoffMultiplier = 4
	}

	return &Scheduler{
		cfg:        cfg,
		engine:     runner,
		gate:       gate,
		cleaner:    cleaner,
		storage:    storage,
		meta:       meta,
		dispatcher: dispatcher,
		logger:     logger,
		cron:       cron.New(),
		state:      State{Enabled: cfg.Enabled},
		now:        time.Now,
	}
}

// Start loads persisted state, registers the cadence entry, and
// subscribes to reconnect events.
func (s *Scheduler) Start(ctx context.Context) error {
	s.loadState()

	id, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.cfg.Interval), func() {
		s.maybeSync(ctx, "interval")
	})
	if err != nil {
		return fmt.Errorf("failed to schedule sync job: %w", err)
	}
	s.entryID = id

	s.dispose = event.SubscribeFunc(s.dispatcher,
		[]string{"network.connected"},
		func(event.DomainEvent) {
			s.maybeSync(ctx, "reconnect")
		})

	s.cron.Start()
	s.logger.Info("background scheduler started",
		zap.Duration("interval", s.cfg.Interval),
		zap.Bool("enabled", s.isEnabled()))
	return nil
}

// Stop stops the scheduler
func (s *Scheduler) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
	if s.dispose != nil {
		s.dispose()
		s.dispose = nil
	}
	s.logger.Info("background scheduler stopped")
}

// NotifyForeground signals an app-foreground transition.
func (s *Scheduler) NotifyForeground(ctx context.Context) {
	s.maybeSync(ctx, "foreground")
}

// TriggerSync runs a manual sync bypassing the cadence but not the
// gating checks; force bypasses those too.
func (s *Scheduler) TriggerSync(ctx context.Context, force bool) (*engine.Result, error) {
	if !force && !s.gate.CanSync() {
		return nil, fmt.Errorf("sync gate closed")
	}
	s.cleanupIfFull()
	return s.run(ctx, force, "manual")
}

// SetEnabled toggles background syncing and persists the preference.
func (s *Scheduler) SetEnabled(enabled bool) {
	s.mu.Lock()
	s.state.Enabled = enabled
	s.mu.Unlock()
	s.saveState()
	s.logger.Info("background sync toggled", zap.Bool("enabled", enabled))
}

// UpdateSchedule applies a partial schedule update at runtime.
func (s *Scheduler) UpdateSchedule(interval *time.Duration, enabled *bool) error {
	if enabled != nil {
		s.SetEnabled(*enabled)
	}
	if interval != nil && *interval > 0 && *interval != s.cfg.Interval {
		s.cfg.Interval = *interval
		s.cron.Remove(s.entryID)
		id, err := s.cron.AddFunc(fmt.Sprintf("@every %s", *interval), func() {
			s.maybeSync(context.Background(), "interval")
		})
		if err != nil {
			return fmt.Errorf("failed to reschedule sync job: %w", err)
		}
		s.entryID = id
		s.logger.Info("sync interval updated", zap.Duration("interval", *interval))
	}
	return nil
}

// GetState returns a snapshot of the scheduler bookkeeping.
func (s *Scheduler) GetState() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// maybeSync runs a cycle when every gate passes.
func (s *Scheduler) maybeSync(ctx context.Context, reason string) {
	if ok, why := s.shouldSync(); !ok {
		s.logger.Debug("background sync skipped",
			zap.String("reason", reason),
			zap.String("skipped_because", why))
		return
	}

	s.cleanupIfFull()

	if _, err := s.run(ctx, false, reason); err != nil {
		s.logger.Warn("background sync failed",
			zap.String("reason", reason),
			zap.Error(err))
	}
}

// shouldSync evaluates the gating checks: enabled, network gate open,
// and minimum spacing elapsed, stretched after repeated failures.
func (s *Scheduler) shouldSync() (bool, string) {
	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	if !state.Enabled {
		return false, "disabled"
	}
	if !s.gate.CanSync() {
		return false, "network gate closed"
	}

	spacing := s.cfg.MinInterval
	if state.ConsecutiveFailures >= s.cfg.FailureThreshold {
		spacing = s.cfg.Interval * time.Duration(s.cfg.BackoffMultiplier)
	}
	if !state.LastAttemptAt.IsZero() && s.now().Sub(state.LastAttemptAt) < spacing {
		return false, "too soon"
	}

	return true, ""
}

// cleanupIfFull reclaims storage before a sync when use crosses the
// high-water mark.
func (s *Scheduler) cleanupIfFull() {
	if s.cfg.StorageHighWaterBytes <= 0 || s.storage == nil || s.cleaner == nil {
		return
	}
	used, err := s.storage.TotalSize()
	if err != nil || used < s.cfg.StorageHighWaterBytes {
		return
	}
	n, err := s.cleaner.Cleanup()
	if err != nil {
		s.logger.Warn("pre-sync cleanup failed", zap.Error(err))
		return
	}
	s.logger.Info("pre-sync cleanup reclaimed entries",
		zap.Int("removed", n),
		zap.Int64("used_bytes", used))
}

// run executes one cycle and updates the failure bookkeeping.
func (s *Scheduler) run(ctx context.Context, force bool, reason string) (*engine.Result, error) {
	now := s.now()
	s.mu.Lock()
	s.state.LastAttemptAt = now
	s.mu.Unlock()

	result, err := s.engine.Sync(ctx, engine.Options{
		Direction: engine.DirectionBidirectional,
		Force:     force,
	})

	s.mu.Lock()
	switch {
	case errors.Is(err, domain.ErrSyncInProgress):
		// Contention with another trigger is not a backend failure.
	case err != nil || (result != nil && !result.Success):
		s.state.ConsecutiveFailures++
		if s.state.ConsecutiveFailures == s.cfg.FailureThreshold {
			s.logger.Warn("repeated sync failures, backing off",
				zap.Int("failures", s.state.ConsecutiveFailures),
				zap.Duration("spacing", s.cfg.Interval*time.Duration(s.cfg.BackoffMultiplier)))
		}
	default:
		s.state.ConsecutiveFailures = 0
		s.state.LastSyncAt = now
		s.state.SyncCount++
	}
	s.mu.Unlock()
	s.saveState()

	if err != nil {
		return nil, fmt.Errorf("sync (%s): %w", reason, err)
	}
	return result, nil
}

func (s *Scheduler) loadState() {
	value, ok, err := s.meta.GetMeta(stateMetaKey)
	if err != nil || !ok {
		return
	}
	var state State
	if err := json.Unmarshal([]byte(value), &state); err != nil {
		s.logger.Warn("failed to decode scheduler state, starting fresh", zap.Error(err))
		return
	}
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Scheduler) saveState() {
	s.mu.Lock()
	data, err := json.Marshal(s.state)
	s.mu.Unlock()
	if err != nil {
		return
	}
	if err := s.meta.SetMeta(stateMetaKey, string(data)); err != nil {
		s.logger.Warn("failed to persist scheduler state", zap.Error(err))
	}
}

func (s *Scheduler) isEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Enabled
}

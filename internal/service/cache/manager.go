// Package cache implements the entity-aware policy layer over the
// durable local store: per-entity TTL, size, and priority policies,
// hit statistics, and an in-memory index driving read-through caching
// of server data.
package cache

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pulsefit/offline-sync/internal/domain"
	"github.com/pulsefit/offline-sync/internal/service/store"
)

// PayloadStore is the slice of the durable store the manager needs.
type PayloadStore interface {
	Set(key string, value any, opts store.SetOptions) error
	Get(key string, out any) (bool, error)
	Delete(key string) error
	Entries() ([]domain.CacheEntry, error)
}

// Policy is the cache policy for one entity type.
type Policy struct {
	MaxAge   time.Duration
	Priority domain.Priority
	Compress bool
	Encrypt  bool
}

// DefaultPolicies returns the per-entity cache policies.
func DefaultPolicies() map[domain.EntityType]Policy {
	return map[domain.EntityType]Policy{
		domain.EntityWorkout:  {MaxAge: 30 * 24 * time.Hour, Priority: domain.PriorityHigh, Compress: true},
		domain.EntityFoodLog:  {MaxAge: 14 * 24 * time.Hour, Priority: domain.PriorityNormal, Compress: true},
		domain.EntityWaterLog: {MaxAge: 7 * 24 * time.Hour, Priority: domain.PriorityLow},
		domain.EntityRecipe:   {MaxAge: 60 * 24 * time.Hour, Priority: domain.PriorityNormal, Compress: true},
		domain.EntityExercise: {MaxAge: 90 * 24 * time.Hour, Priority: domain.PriorityHigh, Compress: true},
		domain.EntityTemplate: {MaxAge: 60 * 24 * time.Hour, Priority: domain.PriorityHigh},
		domain.EntityGoal:     {MaxAge: 365 * 24 * time.Hour, Priority: domain.PriorityCritical, Encrypt: true},
	}
}

// Config contains cache manager configuration
type Config struct {
	// MaxTotalBytes caps the manager's tracked size. It is independent
	// of, and expected to be smaller than, the durable store's own cap.
	MaxTotalBytes int64

	// Policies maps entity types to their cache policy. Entities
	// without a policy are not cached.
	Policies map[domain.EntityType]Policy
}

// DefaultConfig returns default cache manager configuration
func DefaultConfig() *Config {
	return &Config{
		MaxTotalBytes: 50 * 1024 * 1024,
		Policies:      DefaultPolicies(),
	}
}

// Stats summarizes cache behavior for display.
type Stats struct {
	Hits           int64                             `json:"hits"`
	Misses         int64                             `json:"misses"`
	HitRate        float64                           `json:"hit_rate"`
	TotalEntries   int                               `json:"total_entries"`
	TotalSizeBytes int64                             `json:"total_size_bytes"`
	PerEntity      map[domain.EntityType]EntityStats `json:"per_entity"`
	OldestCreated  time.Time                         `json:"oldest_created,omitempty"`
	NewestCreated  time.Time                         `json:"newest_created,omitempty"`
}

// EntityStats summarizes one entity's cached footprint.
type EntityStats struct {
	Count     int   `json:"count"`
	SizeBytes int64 `json:"size_bytes"`
}

// Manager is the cache manager.
type Manager struct {
	cfg    *Config
	store  PayloadStore
	logger *zap.Logger

	mu        sync.Mutex
	index     map[string]*domain.CacheEntry
	totalSize int64
	hits      int64
	misses    int64
	now       func() time.Time
}

// New creates a Manager, rebuilding the index from whatever the durable
// store already holds.
func New(cfg *Config, payloads PayloadStore, logger *zap.Logger) (*Manager, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Policies == nil {
		cfg.Policies = DefaultPolicies()
	}

	m := &Manager{
		cfg:    cfg,
		store:  payloads,
		logger: logger,
		index:  make(map[string]*domain.CacheEntry),
		now:    time.Now,
	}

	entries, err := payloads.Entries()
	if err != nil {
		return nil, fmt.Errorf("failed to rebuild cache index: %w", err)
	}
	for i := range entries {
		e := entries[i]
		if _, ok := cfg.Policies[e.Entity]; !ok {
			continue
		}
		m.index[e.Key] = &e
		m.totalSize += e.SizeBytes
	}

	return m, nil
}

// Get reads one cached object into out, applying the entity's max-age
// policy and updating hit statistics.
func (m *Manager) Get(key string, entity domain.EntityType, out any) (bool, error) {
	policy, ok := m.cfg.Policies[entity]
	if !ok {
		return false, nil
	}

	m.mu.Lock()
	entry, found := m.index[key]
	if found && policy.MaxAge > 0 && m.now().Sub(entry.CreatedAt) > policy.MaxAge {
		m.removeLocked(key)
		found = false
	}
	if !found {
		m.misses++
		m.mu.Unlock()
		return false, nil
	}
	m.mu.Unlock()

	hit, err := m.store.Get(key, out)
	if err != nil {
		return false, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !hit {
		// Orphaned index entry: the record vanished underneath us.
		m.removeLocked(key)
		m.misses++
		return false, nil
	}
	m.hits++
	if entry, ok := m.index[key]; ok {
		entry.LastAccessedAt = m.now()
		entry.HitCount++
	}
	return true, nil
}

// Set caches one object under the entity's policy, evicting lower
// priority entries first when the manager's cap would be exceeded.
func (m *Manager) Set(key string, value any, entity domain.EntityType) error {
	policy, ok := m.cfg.Policies[entity]
	if !ok {
		return fmt.Errorf("no cache policy for entity %q", entity)
	}

	encoded, err := json.Marshal(value)
	if err != nil {
		return &domain.StorageError{Op: "serialize", Err: err}
	}
	size := int64(len(encoded))

	m.mu.Lock()
	m.ensureSpaceLocked(key, size, policy.Priority)
	m.mu.Unlock()

	if err := m.store.Set(key, value, store.SetOptions{
		Compress: policy.Compress,
		Encrypt:  policy.Encrypt,
		Entity:   entity,
		Priority: policy.Priority,
	}); err != nil {
		return err
	}

	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.index[key]; ok {
		m.totalSize -= old.SizeBytes
	}
	m.index[key] = &domain.CacheEntry{
		Key:            key,
		Entity:         entity,
		SizeBytes:      size,
		CreatedAt:      now,
		LastAccessedAt: now,
		Priority:       policy.Priority,
	}
	m.totalSize += size
	return nil
}

// Delete removes one cached object.
func (m *Manager) Delete(key string) error {
	if err := m.store.Delete(key); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(key)
	return nil
}

// Clear removes all cached objects for one entity, or everything the
// manager tracks when entity is empty.
func (m *Manager) Clear(entity domain.EntityType) error {
	m.mu.Lock()
	var keys []string
	for key, entry := range m.index {
		if entity == "" || entry.Entity == entity {
			keys = append(keys, key)
		}
	}
	m.mu.Unlock()

	for _, key := range keys {
		if err := m.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

// Warm bumps recency for the given keys so they survive upcoming
// eviction pressure.
func (m *Manager) Warm(keys []string) {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, key := range keys {
		if entry, ok := m.index[key]; ok {
			entry.LastAccessedAt = now
		}
	}
}

// Cleanup removes expired entries and abandoned ones whose last access
// is older than twice the entity's max age. Critical-priority entries
// are exempt. Returns the count removed.
func (m *Manager) Cleanup() (int, error) {
	now := m.now()

	m.mu.Lock()
	var stale []string
	for key, entry := range m.index {
		if entry.Priority == domain.PriorityCritical {
			continue
		}
		policy, ok := m.cfg.Policies[entry.Entity]
		if !ok || policy.MaxAge <= 0 {
			continue
		}
		expired := now.Sub(entry.CreatedAt) > policy.MaxAge
		abandoned := now.Sub(entry.LastAccessedAt) > 2*policy.MaxAge
		if expired || abandoned {
			stale = append(stale, key)
		}
	}
	m.mu.Unlock()

	for _, key := range stale {
		if err := m.Delete(key); err != nil {
			return 0, err
		}
	}

	if len(stale) > 0 {
		m.logger.Info("cache cleanup removed entries", zap.Int("count", len(stale)))
	}
	return len(stale), nil
}

// Stats recomputes cache statistics from the in-memory index.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := Stats{
		Hits:           m.hits,
		Misses:         m.misses,
		TotalEntries:   len(m.index),
		TotalSizeBytes: m.totalSize,
		PerEntity:      make(map[domain.EntityType]EntityStats),
	}
	if total := m.hits + m.misses; total > 0 {
		stats.HitRate = float64(m.hits) / float64(total)
	}

	for _, entry := range m.index {
		es := stats.PerEntity[entry.Entity]
		es.Count++
		es.SizeBytes += entry.SizeBytes
		stats.PerEntity[entry.Entity] = es

		if stats.OldestCreated.IsZero() || entry.CreatedAt.Before(stats.OldestCreated) {
			stats.OldestCreated = entry.CreatedAt
		}
		if entry.CreatedAt.After(stats.NewestCreated) {
			stats.NewestCreated = entry.CreatedAt
		}
	}

	return stats
}

// exportBlob is the serialized form of the index plus preferences.
// Import tolerates partial and legacy shapes by applying only the
// fields it recognizes.
type exportBlob struct {
	Version     int                `json:"version"`
	ExportedAt  time.Time          `json:"exported_at"`
	Entries     []domain.CacheEntry `json:"entries"`
	Preferences *exportPreferences `json:"preferences,omitempty"`
}

type exportPreferences struct {
	MaxTotalBytes *int64 `json:"max_total_bytes,omitempty"`
}

// Export serializes the whole index plus preferences as one blob.
func (m *Manager) Export() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	blob := exportBlob{
		Version:    1,
		ExportedAt: m.now(),
		Entries:    make([]domain.CacheEntry, 0, len(m.index)),
		Preferences: &exportPreferences{
			MaxTotalBytes: &m.cfg.MaxTotalBytes,
		},
	}
	for _, entry := range m.index {
		blob.Entries = append(blob.Entries, *entry)
	}
	sort.Slice(blob.Entries, func(i, j int) bool {
		return blob.Entries[i].Key < blob.Entries[j].Key
	})

	return json.Marshal(blob)
}

// Import replaces the index from an exported blob and re-derives
// recognized preferences.
func (m *Manager) Import(data []byte) error {
	var blob exportBlob
	if err := json.Unmarshal(data, &blob); err != nil {
		return fmt.Errorf("failed to decode cache export: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.index = make(map[string]*domain.CacheEntry, len(blob.Entries))
	m.totalSize = 0
	for i := range blob.Entries {
		e := blob.Entries[i]
		if e.Key == "" || !e.Entity.Valid() {
			continue
		}
		m.index[e.Key] = &e
		m.totalSize += e.SizeBytes
	}

	if blob.Preferences != nil && blob.Preferences.MaxTotalBytes != nil && *blob.Preferences.MaxTotalBytes > 0 {
		m.cfg.MaxTotalBytes = *blob.Preferences.MaxTotalBytes
	}

	return nil
}

// removeLocked drops one index entry. Callers hold m.mu.
func (m *Manager) removeLocked(key string) {
	if entry, ok := m.index[key]; ok {
		m.totalSize -= entry.SizeBytes
		delete(m.index, key)
	}
}

// ensureSpaceLocked evicts entries of strictly lower priority in
// (priority asc, last accessed asc) order until the incoming item fits.
// When nothing eligible remains the overage is accepted; writes are
// never rejected for space. Callers hold m.mu.
func (m *Manager) ensureSpaceLocked(incomingKey string, incoming int64, incomingPriority domain.Priority) {
	projected := m.totalSize + incoming
	if old, ok := m.index[incomingKey]; ok {
		projected -= old.SizeBytes
	}
	if projected <= m.cfg.MaxTotalBytes {
		return
	}

	candidates := make([]*domain.CacheEntry, 0, len(m.index))
	for key, entry := range m.index {
		if key == incomingKey {
			continue
		}
		if !incomingPriority.HigherThan(entry.Priority) {
			continue
		}
		candidates = append(candidates, entry)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority < candidates[j].Priority
		}
		return candidates[i].LastAccessedAt.Before(candidates[j].LastAccessedAt)
	})

	evicted := 0
	for _, entry := range candidates {
		if projected <= m.cfg.MaxTotalBytes {
			break
		}
		if err := m.store.Delete(entry.Key); err != nil {
			m.logger.Warn("failed to evict cache entry", zap.String("key", entry.Key), zap.Error(err))
			continue
		}
		projected -= entry.SizeBytes
		m.removeLocked(entry.Key)
		evicted++
	}

	if projected > m.cfg.MaxTotalBytes {
		m.logger.Warn("cache over capacity after eviction, accepting overage",
			zap.Int64("projected_bytes", projected),
			zap.Int64("max_bytes", m.cfg.MaxTotalBytes))
	} else if evicted > 0 {
		m.logger.Debug("evicted cache entries", zap.Int("count", evicted))
	}
}

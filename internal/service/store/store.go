// Package store implements the durable local store: key/value
// persistence with optional compression and encryption, TTL expiry, and
// a size-bounded eviction policy ordered by priority then recency.
package store

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pulsefit/offline-sync/internal/domain"
	"github.com/pulsefit/offline-sync/internal/port"
)

// Config contains durable store configuration
type Config struct {
	// MaxSizeBytes caps the summed payload size. When evicting every
	// eligible record still cannot make room, the store accepts a
	// temporary overage; it never rejects a write for space.
	MaxSizeBytes int64

	// TTL is the age beyond which a record is lazily expired on read.
	// Zero disables expiry.
	TTL time.Duration

	// CriticalPrefixes lists key prefixes that are never evicted
	// (user preferences, goals, personal records).
	CriticalPrefixes []string

	// EncryptionSecret enables encryption when non-empty.
	EncryptionSecret []byte

	// EvictionBatchSize is how many candidates are fetched per
	// eviction pass.
	EvictionBatchSize int
}

// DefaultConfig returns default store configuration
func DefaultConfig() *Config {
	return &Config{
		MaxSizeBytes:      100 * 1024 * 1024,
		TTL:               30 * 24 * time.Hour,
		CriticalPrefixes:  []string{"prefs:", "goal:", "personal_record:"},
		EvictionBatchSize: 20,
	}
}

// SetOptions controls how one write is stored.
type SetOptions struct {
	Compress bool
	Encrypt  bool
	Entity   domain.EntityType
	Priority domain.Priority
}

// Store is the durable local store.
type Store struct {
	cfg     *Config
	records port.RecordRepository
	codec   *codec
	logger  *zap.Logger

	// mu serializes eviction passes so concurrent writes do not race
	// over the same candidates.
	mu  sync.Mutex
	now func() time.Time
}

// New creates a new Store
func New(cfg *Config, records port.RecordRepository, logger *zap.Logger) (*Store, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.EvictionBatchSize <= 0 {
		cfg.EvictionBatchSize = 20
	}

	c, err := newCodec(cfg.EncryptionSecret)
	if err != nil {
		return nil, err
	}

	return &Store{
		cfg:     cfg,
		records: records,
		codec:   c,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// Set serializes value and persists it under key, evicting low-priority
// records first when the write would exceed the size cap.
func (s *Store) Set(key string, value any, opts SetOptions) error {
	plain, err := json.Marshal(value)
	if err != nil {
		return &domain.StorageError{Op: "serialize", Err: err}
	}

	data, compressed, encrypted, err := s.codec.encode(plain, opts.Compress, opts.Encrypt)
	if err != nil {
		return &domain.StorageError{Op: "encode", Err: err}
	}

	priority := opts.Priority
	if priority == 0 {
		priority = domain.PriorityNormal
	}

	now := s.now()
	rec := &domain.StoredRecord{
		Key:            key,
		Entity:         opts.Entity,
		Payload:        data,
		Compressed:     compressed,
		Encrypted:      encrypted,
		SizeBytes:      int64(len(data)),
		Priority:       priority,
		CreatedAt:      now,
		LastAccessedAt: now,
	}

	if err := s.ensureSpace(rec.SizeBytes, key); err != nil {
		return err
	}

	if err := s.records.Put(rec); err != nil {
		return &domain.StorageError{Op: "write", Err: err}
	}
	return nil
}

// Get decodes the record under key into out. It returns false when the
// key is absent, expired, or unreadable; a failed decrypt or decompress
// is a miss, never an error to the caller.
func (s *Store) Get(key string, out any) (bool, error) {
	rec, err := s.records.Get(key)
	if err != nil {
		return false, &domain.StorageError{Op: "read", Err: err}
	}
	if rec == nil {
		return false, nil
	}

	now := s.now()
	if s.cfg.TTL > 0 && now.Sub(rec.CreatedAt) > s.cfg.TTL {
		if err := s.records.Delete(key); err != nil {
			s.logger.Warn("failed to delete expired record", zap.String("key", key), zap.Error(err))
		}
		return false, nil
	}

	plain, err := s.codec.decode(rec.Payload, rec.Compressed, rec.Encrypted)
	if err != nil {
		s.logger.Warn("unreadable record treated as miss",
			zap.String("key", key),
			zap.Error(err))
		_ = s.records.Delete(key)
		return false, nil
	}

	if err := json.Unmarshal(plain, out); err != nil {
		s.logger.Warn("undecodable record treated as miss",
			zap.String("key", key),
			zap.Error(err))
		_ = s.records.Delete(key)
		return false, nil
	}

	if err := s.records.Touch(key, now); err != nil {
		// Recency is an eviction heuristic, not correctness.
		s.logger.Debug("failed to touch record", zap.String("key", key), zap.Error(err))
	}

	return true, nil
}

// Delete removes one key.
func (s *Store) Delete(key string) error {
	if err := s.records.Delete(key); err != nil {
		return &domain.StorageError{Op: "delete", Err: err}
	}
	return nil
}

// Clear removes all records. The repository and its indexes stay in
// place so the store keeps operating.
func (s *Store) Clear() error {
	if err := s.records.DeleteAll(); err != nil {
		return &domain.StorageError{Op: "clear", Err: err}
	}
	return nil
}

// CleanupExpired sweeps all records past the TTL and returns the count
// removed.
func (s *Store) CleanupExpired() (int, error) {
	if s.cfg.TTL <= 0 {
		return 0, nil
	}
	n, err := s.records.DeleteOlderThan(s.now().Add(-s.cfg.TTL))
	if err != nil {
		return 0, &domain.StorageError{Op: "cleanup", Err: err}
	}
	if n > 0 {
		s.logger.Info("expired records removed", zap.Int("count", n))
	}
	return n, nil
}

// Entries returns index entries for every stored record, used by the
// cache manager to rebuild its index on startup.
func (s *Store) Entries() ([]domain.CacheEntry, error) {
	records, err := s.records.List()
	if err != nil {
		return nil, &domain.StorageError{Op: "list", Err: err}
	}
	entries := make([]domain.CacheEntry, 0, len(records))
	for _, rec := range records {
		entries = append(entries, domain.CacheEntry{
			Key:            rec.Key,
			Entity:         rec.Entity,
			SizeBytes:      rec.SizeBytes,
			CreatedAt:      rec.CreatedAt,
			LastAccessedAt: rec.LastAccessedAt,
			HitCount:       rec.HitCount,
			Priority:       rec.Priority,
		})
	}
	return entries, nil
}

// TotalSize returns the summed payload size.
func (s *Store) TotalSize() (int64, error) {
	return s.records.TotalSize()
}

// ensureSpace evicts records in (priority asc, last accessed asc) order
// until the incoming write fits. Critical-priority records and records
// under a critical prefix are never evicted; when nothing eligible
// remains the overage is accepted.
func (s *Store) ensureSpace(incoming int64, incomingKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	total, err := s.records.TotalSize()
	if err != nil {
		return &domain.StorageError{Op: "size", Err: err}
	}

	evicted := 0
	creditedOverwrite := false
	fetchLimit := s.cfg.EvictionBatchSize
	for total+incoming > s.cfg.MaxSizeBytes {
		candidates, err := s.records.EvictionCandidates(fetchLimit)
		if err != nil {
			return &domain.StorageError{Op: "evict", Err: err}
		}

		progressed := false
		for _, cand := range candidates {
			if total+incoming <= s.cfg.MaxSizeBytes {
				break
			}
			if cand.Key == incomingKey {
				// Overwrites free the old payload anyway.
				if !creditedOverwrite {
					total -= cand.SizeBytes
					creditedOverwrite = true
					progressed = true
				}
				continue
			}
			if s.isProtected(cand) {
				continue
			}
			if err := s.records.Delete(cand.Key); err != nil {
				s.logger.Warn("failed to evict record", zap.String("key", cand.Key), zap.Error(err))
				continue
			}
			total -= cand.SizeBytes
			evicted++
			progressed = true
		}

		if !progressed && total+incoming > s.cfg.MaxSizeBytes {
			if len(candidates) == fetchLimit {
				// A full page of protected entries; widen the page so
				// evictable records behind them are still reached.
				fetchLimit += s.cfg.EvictionBatchSize
				continue
			}
			s.logger.Warn("store over capacity with no eligible eviction candidates, accepting overage",
				zap.Int64("total_bytes", total),
				zap.Int64("incoming_bytes", incoming),
				zap.Int64("max_bytes", s.cfg.MaxSizeBytes))
			return nil
		}
	}

	if evicted > 0 {
		s.logger.Debug("evicted records to make room",
			zap.Int("count", evicted),
			zap.Int64("incoming_bytes", incoming))
	}
	return nil
}

func (s *Store) isProtected(rec *domain.StoredRecord) bool {
	if rec.Priority == domain.PriorityCritical {
		return true
	}
	for _, prefix := range s.cfg.CriticalPrefixes {
		if strings.HasPrefix(rec.Key, prefix) {
			return true
		}
	}
	return false
}

// String describes the store configuration for logs.
func (c *Config) String() string {
	return fmt.Sprintf("max=%dMB ttl=%s encrypted=%t",
		c.MaxSizeBytes/(1024*1024), c.TTL, len(c.EncryptionSecret) > 0)
}

package store

import (
	"sort"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/pulsefit/offline-sync/internal/domain"
)

// mockRecordRepo implements port.RecordRepository in memory for testing
type mockRecordRepo struct {
	mu      sync.Mutex
	records map[string]*domain.StoredRecord
	putErr  error
}

func newMockRecordRepo() *mockRecordRepo {
	return &mockRecordRepo{records: make(map[string]*domain.StoredRecord)}
}

func (m *mockRecordRepo) Put(rec *domain.StoredRecord) error {
	if m.putErr != nil {
		return m.putErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *rec
	m.records[rec.Key] = &cp
	return nil
}

func (m *mockRecordRepo) Get(key string) (*domain.StoredRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[key]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (m *mockRecordRepo) Touch(key string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[key]; ok {
		rec.LastAccessedAt = at
		rec.HitCount++
	}
	return nil
}

func (m *mockRecordRepo) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, key)
	return nil
}

func (m *mockRecordRepo) DeleteAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = make(map[string]*domain.StoredRecord)
	return nil
}

func (m *mockRecordRepo) List() ([]*domain.StoredRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*domain.StoredRecord, 0, len(m.records))
	for _, rec := range m.records {
		cp := *rec
		out = append(out, &cp)
	}
	return out, nil
}

func (m *mockRecordRepo) TotalSize() (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total int64
	for _, rec := range m.records {
		total += rec.SizeBytes
	}
	return total, nil
}

func (m *mockRecordRepo) EvictionCandidates(limit int) ([]*domain.StoredRecord, error) {
	all, _ := m.List()
	sort.Slice(all, func(i, j int) bool {
		if all[i].Priority != all[j].Priority {
			return all[i].Priority < all[j].Priority
		}
		return all[i].LastAccessedAt.Before(all[j].LastAccessedAt)
	})
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (m *mockRecordRepo) DeleteOlderThan(cutoff time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for key, rec := range m.records {
		if rec.CreatedAt.Before(cutoff) {
			delete(m.records, key)
			n++
		}
	}
	return n, nil
}

func newTestStore(t *testing.T, cfg *Config, repo *mockRecordRepo) *Store {
	t.Helper()
	s, err := New(cfg, repo, zap.NewNop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

type testValue struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestStore_SetGet(t *testing.T) {
	repo := newMockRecordRepo()
	s := newTestStore(t, &Config{MaxSizeBytes: 1 << 20}, repo)

	in := testValue{Name: "morning run", Count: 3}
	if err := s.Set("workout:w1", in, SetOptions{Entity: domain.EntityWorkout}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	var out testValue
	found, err := s.Get("workout:w1", &out)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !found {
		t.Fatal("Get() found = false, want true")
	}
	if out != in {
		t.Errorf("Get() = %+v, want %+v", out, in)
	}

	// A read refreshes recency and hit count.
	rec, _ := repo.Get("workout:w1")
	if rec.HitCount != 1 {
		t.Errorf("hit count = %d, want 1", rec.HitCount)
	}
}

func TestStore_GetMissing(t *testing.T) {
	s := newTestStore(t, &Config{MaxSizeBytes: 1 << 20}, newMockRecordRepo())

	var out testValue
	found, err := s.Get("nope", &out)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if found {
		t.Error("Get() found = true for missing key")
	}
}

func TestStore_TTLExpiry(t *testing.T) {
	repo := newMockRecordRepo()
	s := newTestStore(t, &Config{MaxSizeBytes: 1 << 20, TTL: time.Hour}, repo)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return base }

	if err := s.Set("workout:w1", testValue{Name: "old"}, SetOptions{}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	// Within TTL the record is readable.
	s.now = func() time.Time { return base.Add(30 * time.Minute) }
	var out testValue
	if found, _ := s.Get("workout:w1", &out); !found {
		t.Fatal("record should still be readable within TTL")
	}

	// Past TTL the record is lazily removed on read.
	s.now = func() time.Time { return base.Add(2 * time.Hour) }
	if found, _ := s.Get("workout:w1", &out); found {
		t.Fatal("expired record should be a miss")
	}
	if rec, _ := repo.Get("workout:w1"); rec != nil {
		t.Error("expired record should have been deleted")
	}
}

func TestStore_CorruptRecordIsMiss(t *testing.T) {
	repo := newMockRecordRepo()
	s := newTestStore(t, &Config{MaxSizeBytes: 1 << 20}, repo)

	// A record whose payload cannot be decompressed.
	repo.Put(&domain.StoredRecord{
		Key:        "workout:bad",
		Payload:    []byte{0xff, 0xfe, 0xfd},
		Compressed: true,
		SizeBytes:  3,
		Priority:   domain.PriorityNormal,
		CreatedAt:  time.Now(),
	})

	var out testValue
	found, err := s.Get("workout:bad", &out)
	if err != nil {
		t.Fatalf("Get() error = %v, want miss without error", err)
	}
	if found {
		t.Error("corrupt record should be a miss")
	}
	if rec, _ := repo.Get("workout:bad"); rec != nil {
		t.Error("corrupt record should have been deleted")
	}
}

func TestStore_EncryptedRoundTrip(t *testing.T) {
	repo := newMockRecordRepo()
	s := newTestStore(t, &Config{
		MaxSizeBytes:     1 << 20,
		EncryptionSecret: []byte("device-secret"),
	}, repo)

	in := testValue{Name: "bodyweight", Count: 82}
	if err := s.Set("personal_record:pr1", in, SetOptions{Encrypt: true, Priority: domain.PriorityCritical}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	rec, _ := repo.Get("personal_record:pr1")
	if !rec.Encrypted {
		t.Fatal("record should be stored encrypted")
	}

	var out testValue
	if found, _ := s.Get("personal_record:pr1", &out); !found || out != in {
		t.Errorf("encrypted round trip = %+v (found=%v), want %+v", out, found, in)
	}
}

func TestStore_EvictionOrder(t *testing.T) {
	repo := newMockRecordRepo()
	s := newTestStore(t, &Config{MaxSizeBytes: 300, EvictionBatchSize: 10}, repo)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	put := func(key string, size int64, prio domain.Priority, age time.Duration) {
		repo.Put(&domain.StoredRecord{
			Key:            key,
			Payload:        make([]byte, size),
			SizeBytes:      size,
			Priority:       prio,
			CreatedAt:      base.Add(-age),
			LastAccessedAt: base.Add(-age),
		})
	}
	put("a", 100, domain.PriorityLow, 3*time.Hour)
	put("b", 100, domain.PriorityLow, 1*time.Hour)
	put("c", 100, domain.PriorityHigh, 5*time.Hour)

	s.now = func() time.Time { return base }

	// Needs 100 bytes of room: the oldest low-priority record goes first.
	if err := s.Set("d", testValue{Name: "new"}, SetOptions{}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	if rec, _ := repo.Get("a"); rec != nil {
		t.Error("oldest low-priority record should have been evicted")
	}
	if rec, _ := repo.Get("b"); rec == nil {
		t.Error("newer low-priority record should survive")
	}
	if rec, _ := repo.Get("c"); rec == nil {
		t.Error("high-priority record should survive")
	}
}

func TestStore_EvictionSkipsProtected(t *testing.T) {
	repo := newMockRecordRepo()
	s := newTestStore(t, &Config{
		MaxSizeBytes:      250,
		CriticalPrefixes:  []string{"prefs:"},
		EvictionBatchSize: 10,
	}, repo)

	base := time.Now()
	repo.Put(&domain.StoredRecord{
		Key: "prefs:units", SizeBytes: 100, Priority: domain.PriorityLow,
		CreatedAt: base.Add(-10 * time.Hour), LastAccessedAt: base.Add(-10 * time.Hour),
	})
	repo.Put(&domain.StoredRecord{
		Key: "goalrec", SizeBytes: 100, Priority: domain.PriorityCritical,
		CreatedAt: base.Add(-9 * time.Hour), LastAccessedAt: base.Add(-9 * time.Hour),
	})
	repo.Put(&domain.StoredRecord{
		Key: "workout:w1", SizeBytes: 100, Priority: domain.PriorityNormal,
		CreatedAt: base, LastAccessedAt: base,
	})

	if err := s.Set("workout:w2", testValue{Name: "legs"}, SetOptions{}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	if rec, _ := repo.Get("prefs:units"); rec == nil {
		t.Error("critical-prefix record must never be evicted")
	}
	if rec, _ := repo.Get("goalrec"); rec == nil {
		t.Error("critical-priority record must never be evicted")
	}
	if rec, _ := repo.Get("workout:w1"); rec != nil {
		t.Error("normal record should have been evicted instead")
	}
}

func TestStore_EvictionPagesPastProtectedBatch(t *testing.T) {
	repo := newMockRecordRepo()
	s := newTestStore(t, &Config{
		MaxSizeBytes:      300,
		CriticalPrefixes:  []string{"prefs:"},
		EvictionBatchSize: 2,
	}, repo)

	// Two protected low-priority entries fill the whole first
	// candidate batch; the evictable record sits behind them.
	base := time.Now()
	repo.Put(&domain.StoredRecord{
		Key: "prefs:units", SizeBytes: 100, Priority: domain.PriorityLow,
		CreatedAt: base.Add(-10 * time.Hour), LastAccessedAt: base.Add(-10 * time.Hour),
	})
	repo.Put(&domain.StoredRecord{
		Key: "prefs:theme", SizeBytes: 100, Priority: domain.PriorityLow,
		CreatedAt: base.Add(-9 * time.Hour), LastAccessedAt: base.Add(-9 * time.Hour),
	})
	repo.Put(&domain.StoredRecord{
		Key: "workout:w1", SizeBytes: 100, Priority: domain.PriorityNormal,
		CreatedAt: base, LastAccessedAt: base,
	})

	if err := s.Set("workout:w2", testValue{Name: "legs"}, SetOptions{}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	if rec, _ := repo.Get("workout:w1"); rec != nil {
		t.Error("evictable record behind the protected batch was not evicted")
	}
	if rec, _ := repo.Get("prefs:units"); rec == nil {
		t.Error("protected record was evicted")
	}
	if rec, _ := repo.Get("prefs:theme"); rec == nil {
		t.Error("protected record was evicted")
	}
}

func TestStore_AcceptsOverageWhenNothingEvictable(t *testing.T) {
	repo := newMockRecordRepo()
	s := newTestStore(t, &Config{MaxSizeBytes: 150, EvictionBatchSize: 10}, repo)

	repo.Put(&domain.StoredRecord{
		Key: "goal:g1", SizeBytes: 140, Priority: domain.PriorityCritical,
		CreatedAt: time.Now(), LastAccessedAt: time.Now(),
	})

	// Nothing is evictable, but the write must still land.
	if err := s.Set("workout:w1", testValue{Name: "push"}, SetOptions{}); err != nil {
		t.Fatalf("Set() should accept overage, got error %v", err)
	}
	if rec, _ := repo.Get("workout:w1"); rec == nil {
		t.Error("write should have been stored despite overage")
	}
	if rec, _ := repo.Get("goal:g1"); rec == nil {
		t.Error("critical record should not have been evicted")
	}
}

func TestStore_CleanupExpired(t *testing.T) {
	repo := newMockRecordRepo()
	s := newTestStore(t, &Config{MaxSizeBytes: 1 << 20, TTL: time.Hour}, repo)

	base := time.Now()
	repo.Put(&domain.StoredRecord{Key: "old", SizeBytes: 10, CreatedAt: base.Add(-2 * time.Hour)})
	repo.Put(&domain.StoredRecord{Key: "fresh", SizeBytes: 10, CreatedAt: base})

	n, err := s.CleanupExpired()
	if err != nil {
		t.Fatalf("CleanupExpired() error = %v", err)
	}
	if n != 1 {
		t.Errorf("CleanupExpired() = %d, want 1", n)
	}
	if rec, _ := repo.Get("fresh"); rec == nil {
		t.Error("fresh record should survive cleanup")
	}
}

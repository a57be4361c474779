package cache

import (
	"encoding/json"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/pulsefit/offline-sync/internal/domain"
	"github.com/pulsefit/offline-sync/internal/service/store"
)

// mockPayloadStore implements PayloadStore in memory for testing
type mockPayloadStore struct {
	values  map[string][]byte
	entries []domain.CacheEntry
	deleted []string
	setErr  error
}

func newMockPayloadStore() *mockPayloadStore {
	return &mockPayloadStore{values: make(map[string][]byte)}
}

func (m *mockPayloadStore) Set(key string, value any, opts store.SetOptions) error {
	if m.setErr != nil {
		return m.setErr
	}
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.values[key] = data
	return nil
}

func (m *mockPayloadStore) Get(key string, out any) (bool, error) {
	data, ok := m.values[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(data, out)
}

func (m *mockPayloadStore) Delete(key string) error {
	delete(m.values, key)
	m.deleted = append(m.deleted, key)
	return nil
}

func (m *mockPayloadStore) Entries() ([]domain.CacheEntry, error) {
	return m.entries, nil
}

func newTestManager(t *testing.T, cfg *Config, ps *mockPayloadStore) *Manager {
	t.Helper()
	m, err := New(cfg, ps, zap.NewNop())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return m
}

type workoutDoc struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func TestManager_SetGet(t *testing.T) {
	ps := newMockPayloadStore()
	m := newTestManager(t, nil, ps)

	in := workoutDoc{ID: "w1", Name: "Push Day"}
	if err := m.Set("workout:w1", in, domain.EntityWorkout); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	var out workoutDoc
	found, err := m.Get("workout:w1", domain.EntityWorkout, &out)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !found || out != in {
		t.Errorf("Get() = %+v (found=%v), want %+v", out, found, in)
	}

	stats := m.Stats()
	if stats.Hits != 1 || stats.Misses != 0 {
		t.Errorf("stats = %d hits / %d misses, want 1/0", stats.Hits, stats.Misses)
	}
}

func TestManager_SetUnknownEntity(t *testing.T) {
	m := newTestManager(t, nil, newMockPayloadStore())
	if err := m.Set("x", workoutDoc{}, domain.EntityType("widget")); err == nil {
		t.Error("Set() with unknown entity should fail")
	}
}

func TestManager_GetExpired(t *testing.T) {
	ps := newMockPayloadStore()
	m := newTestManager(t, &Config{
		MaxTotalBytes: 1 << 20,
		Policies: map[domain.EntityType]Policy{
			domain.EntityWaterLog: {MaxAge: time.Hour, Priority: domain.PriorityLow},
		},
	}, ps)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return base }

	if err := m.Set("water_log:wl1", workoutDoc{ID: "wl1"}, domain.EntityWaterLog); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	m.now = func() time.Time { return base.Add(2 * time.Hour) }

	var out workoutDoc
	found, err := m.Get("water_log:wl1", domain.EntityWaterLog, &out)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if found {
		t.Error("entry past its max age should be a miss")
	}
	if m.Stats().Misses != 1 {
		t.Error("expired read should count as a miss")
	}
}

func TestManager_OrphanedIndexEntry(t *testing.T) {
	ps := newMockPayloadStore()
	m := newTestManager(t, nil, ps)

	if err := m.Set("workout:w1", workoutDoc{ID: "w1"}, domain.EntityWorkout); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	// The backing record vanishes out from under the index.
	delete(ps.values, "workout:w1")

	var out workoutDoc
	found, err := m.Get("workout:w1", domain.EntityWorkout, &out)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if found {
		t.Error("orphaned entry should be a miss")
	}
	if m.Stats().TotalEntries != 0 {
		t.Error("orphaned entry should be dropped from the index")
	}
}

func TestManager_RebuildsIndexOnStartup(t *testing.T) {
	ps := newMockPayloadStore()
	ps.entries = []domain.CacheEntry{
		{Key: "workout:w1", Entity: domain.EntityWorkout, SizeBytes: 100},
		{Key: "goal:g1", Entity: domain.EntityGoal, SizeBytes: 50},
		{Key: "stray", Entity: domain.EntityType("widget"), SizeBytes: 10},
	}

	m := newTestManager(t, nil, ps)

	stats := m.Stats()
	if stats.TotalEntries != 2 {
		t.Errorf("rebuilt index entries = %d, want 2 (unknown entity skipped)", stats.TotalEntries)
	}
	if stats.TotalSizeBytes != 150 {
		t.Errorf("rebuilt index size = %d, want 150", stats.TotalSizeBytes)
	}
}

func TestManager_EvictionPrefersLowerPriority(t *testing.T) {
	ps := newMockPayloadStore()
	m := newTestManager(t, &Config{
		MaxTotalBytes: 40,
		Policies: map[domain.EntityType]Policy{
			domain.EntityWaterLog: {MaxAge: time.Hour, Priority: domain.PriorityLow},
			domain.EntityWorkout:  {MaxAge: time.Hour, Priority: domain.PriorityHigh},
		},
	}, ps)

	if err := m.Set("water_log:wl1", workoutDoc{ID: "wl1", Name: "aaaa"}, domain.EntityWaterLog); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := m.Set("workout:w1", workoutDoc{ID: "w1", Name: "bbbb"}, domain.EntityWorkout); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	if _, ok := ps.values["water_log:wl1"]; ok {
		t.Error("lower-priority entry should have been evicted")
	}
	if _, ok := ps.values["workout:w1"]; !ok {
		t.Error("incoming higher-priority entry should be stored")
	}
}

func TestManager_EvictionNeverTakesEqualOrHigherPriority(t *testing.T) {
	ps := newMockPayloadStore()
	m := newTestManager(t, &Config{
		MaxTotalBytes: 40,
		Policies: map[domain.EntityType]Policy{
			domain.EntityWorkout: {MaxAge: time.Hour, Priority: domain.PriorityHigh},
		},
	}, ps)

	if err := m.Set("workout:w1", workoutDoc{ID: "w1", Name: "aaaa"}, domain.EntityWorkout); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	// Same priority: nothing is evicted, the overage is accepted.
	if err := m.Set("workout:w2", workoutDoc{ID: "w2", Name: "bbbb"}, domain.EntityWorkout); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	if _, ok := ps.values["workout:w1"]; !ok {
		t.Error("equal-priority entry must not be evicted")
	}
	if _, ok := ps.values["workout:w2"]; !ok {
		t.Error("write must land even when over capacity")
	}
}

func TestManager_Clear(t *testing.T) {
	ps := newMockPayloadStore()
	m := newTestManager(t, nil, ps)

	m.Set("workout:w1", workoutDoc{ID: "w1"}, domain.EntityWorkout)
	m.Set("workout:w2", workoutDoc{ID: "w2"}, domain.EntityWorkout)
	m.Set("recipe:r1", workoutDoc{ID: "r1"}, domain.EntityRecipe)

	if err := m.Clear(domain.EntityWorkout); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if _, ok := ps.values["recipe:r1"]; !ok {
		t.Error("other entities should survive a scoped clear")
	}
	if m.Stats().TotalEntries != 1 {
		t.Errorf("entries after scoped clear = %d, want 1", m.Stats().TotalEntries)
	}

	if err := m.Clear(""); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if m.Stats().TotalEntries != 0 {
		t.Error("full clear should empty the index")
	}
}

func TestManager_Cleanup(t *testing.T) {
	ps := newMockPayloadStore()
	m := newTestManager(t, &Config{
		MaxTotalBytes: 1 << 20,
		Policies: map[domain.EntityType]Policy{
			domain.EntityWaterLog: {MaxAge: time.Hour, Priority: domain.PriorityLow},
			domain.EntityGoal:     {MaxAge: time.Hour, Priority: domain.PriorityCritical},
		},
	}, ps)

	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return base }

	m.Set("water_log:old", workoutDoc{ID: "old"}, domain.EntityWaterLog)
	m.Set("goal:g1", workoutDoc{ID: "g1"}, domain.EntityGoal)

	m.now = func() time.Time { return base.Add(3 * time.Hour) }
	m.Set("water_log:new", workoutDoc{ID: "new"}, domain.EntityWaterLog)

	n, err := m.Cleanup()
	if err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Cleanup() = %d, want 1", n)
	}
	if _, ok := ps.values["water_log:old"]; ok {
		t.Error("expired entry should be removed")
	}
	if _, ok := ps.values["goal:g1"]; !ok {
		t.Error("critical entry is exempt from cleanup")
	}
	if _, ok := ps.values["water_log:new"]; !ok {
		t.Error("fresh entry should survive cleanup")
	}
}

func TestManager_ExportImport(t *testing.T) {
	ps := newMockPayloadStore()
	m := newTestManager(t, nil, ps)

	m.Set("workout:w1", workoutDoc{ID: "w1"}, domain.EntityWorkout)
	m.Set("goal:g1", workoutDoc{ID: "g1"}, domain.EntityGoal)

	data, err := m.Export()
	if err != nil {
		t.Fatalf("Export() error = %v", err)
	}

	m2 := newTestManager(t, nil, newMockPayloadStore())
	if err := m2.Import(data); err != nil {
		t.Fatalf("Import() error = %v", err)
	}

	stats := m2.Stats()
	if stats.TotalEntries != 2 {
		t.Errorf("imported entries = %d, want 2", stats.TotalEntries)
	}
}

func TestManager_ImportSkipsInvalidEntries(t *testing.T) {
	m := newTestManager(t, nil, newMockPayloadStore())

	blob := `{"version":1,"entries":[
		{"key":"workout:w1","entity":"workout","size_bytes":10},
		{"key":"","entity":"workout","size_bytes":10},
		{"key":"x","entity":"widget","size_bytes":10}
	]}`
	if err := m.Import([]byte(blob)); err != nil {
		t.Fatalf("Import() error = %v", err)
	}
	if m.Stats().TotalEntries != 1 {
		t.Errorf("imported entries = %d, want 1 (invalid skipped)", m.Stats().TotalEntries)
	}
}

func TestManager_ImportMalformed(t *testing.T) {
	m := newTestManager(t, nil, newMockPayloadStore())
	if err := m.Import([]byte("{")); err == nil {
		t.Error("Import() of malformed data should fail")
	}
}

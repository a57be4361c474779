package engine

import (
	"testing"
	"time"

	"github.com/pulsefit/offline-sync/internal/domain"
)

func TestMergeRecords_NewerScalarsWin(t *testing.T) {
	cfg, _ := domain.SyncConfigFor(domain.EntityFoodLog)
	localTS := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	remoteTS := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	local := domain.Record{"id": "f1", "calories": 450.0, "notes": "post workout"}
	remote := domain.Record{"id": "f1", "calories": 300.0, "meal": "lunch"}

	merged := mergeRecords(cfg, local, remote, localTS, remoteTS)

	if merged["calories"] != 450.0 {
		t.Errorf("calories = %v, want the newer side's 450", merged["calories"])
	}
	// Fields only the older side has still survive.
	if merged["meal"] != "lunch" {
		t.Errorf("meal = %v", merged["meal"])
	}
	if merged["notes"] != "post workout" {
		t.Errorf("notes = %v", merged["notes"])
	}
	if got := merged.Time("updated_at"); !got.Equal(localTS) {
		t.Errorf("merged timestamp = %v, want %v", got, localTS)
	}
}

func TestMergeRecords_WorkoutSetsUnion(t *testing.T) {
	cfg, _ := domain.SyncConfigFor(domain.EntityWorkout)
	localTS := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	remoteTS := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	local := domain.Record{
		"id": "w1",
		"sets": []any{
			map[string]any{"exercise_id": "bench", "set_number": 1.0, "weight": 100.0, "reps": 8.0, "completed": true},
			map[string]any{"exercise_id": "bench", "set_number": 2.0, "weight": 100.0, "reps": 6.0, "completed": false},
		},
	}
	remote := domain.Record{
		"id": "w1",
		"sets": []any{
			map[string]any{"exercise_id": "bench", "set_number": 1.0, "weight": 95.0, "reps": 10.0, "completed": false},
			map[string]any{"exercise_id": "squat", "set_number": 1.0, "weight": 140.0, "reps": 5.0, "completed": true},
		},
	}

	merged := mergeRecords(cfg, local, remote, localTS, remoteTS)

	sets, ok := merged["sets"].([]domain.WorkoutSet)
	if !ok {
		t.Fatalf("sets = %T", merged["sets"])
	}
	if len(sets) != 3 {
		t.Fatalf("len(sets) = %d, want 3", len(sets))
	}

	var bench1 *domain.WorkoutSet
	for i := range sets {
		if sets[i].ExerciseID == "bench" && sets[i].SetNumber == 1 {
			bench1 = &sets[i]
		}
	}
	if bench1 == nil {
		t.Fatal("bench set 1 missing from merge")
	}
	// Overlapping sets keep the best of both sides.
	if bench1.Weight != 100 || bench1.Reps != 10 || !bench1.Completed {
		t.Errorf("bench set 1 = %+v", *bench1)
	}

	if got := merged.Time("updated_at"); !got.Equal(remoteTS) {
		t.Errorf("merged timestamp = %v, want %v", got, remoteTS)
	}
}

func TestMergeRecords_MergeableFieldUnionByID(t *testing.T) {
	cfg, _ := domain.SyncConfigFor(domain.EntityRecipe)
	localTS := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	remoteTS := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)

	local := domain.Record{
		"id": "r1",
		"ingredients": []any{
			map[string]any{"id": "i1", "name": "oats"},
			map[string]any{"id": "i2", "name": "milk"},
		},
	}
	remote := domain.Record{
		"id": "r1",
		"ingredients": []any{
			map[string]any{"id": "i2", "name": "milk"},
			map[string]any{"id": "i3", "name": "honey"},
		},
	}

	merged := mergeRecords(cfg, local, remote, localTS, remoteTS)

	items, _ := merged["ingredients"].([]any)
	if len(items) != 3 {
		t.Fatalf("ingredients = %v", merged["ingredients"])
	}
	seen := map[string]bool{}
	for _, item := range items {
		seen[itemID(item)] = true
	}
	for _, id := range []string{"i1", "i2", "i3"} {
		if !seen[id] {
			t.Errorf("ingredient %s missing from union", id)
		}
	}
}

func TestUnionField(t *testing.T) {
	tests := []struct {
		name   string
		local  any
		remote any
		want   int
	}{
		{
			name:   "both nil",
			local:  nil,
			remote: nil,
			want:   -1,
		},
		{
			name:   "items without ids deduped structurally",
			local:  []any{map[string]any{"name": "a"}, map[string]any{"name": "b"}},
			remote: []any{map[string]any{"name": "b"}, map[string]any{"name": "c"}},
			want:   3,
		},
		{
			name:   "local only",
			local:  []any{map[string]any{"id": "x"}},
			remote: nil,
			want:   1,
		},
		{
			name:   "duplicate ids collapse",
			local:  []any{map[string]any{"id": "x", "v": 1.0}},
			remote: []any{map[string]any{"id": "x", "v": 2.0}},
			want:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := unionField(tt.local, tt.remote)
			if tt.want == -1 {
				if got != nil {
					t.Errorf("unionField() = %v, want nil", got)
				}
				return
			}
			items, ok := got.([]any)
			if !ok {
				t.Fatalf("unionField() = %T", got)
			}
			if len(items) != tt.want {
				t.Errorf("len = %d, want %d", len(items), tt.want)
			}
		})
	}
}

package engine

import (
	"encoding/json"
	"reflect"
	"time"

	"github.com/pulsefit/offline-sync/internal/domain"
)

// mergeRecords reconciles two divergent versions of one record. Scalar
// fields take the value from the later-written side; fields declared
// mergeable are unioned instead; the merged timestamp is the max of the
// two so neither side re-detects the merge as a conflict.
func mergeRecords(cfg domain.EntitySyncConfig, local, remote domain.Record, localTS, remoteTS time.Time) domain.Record {
	older, newer := local, remote
	if localTS.After(remoteTS) {
		older, newer = remote, local
	}

	merged := older.Clone()
	for k, v := range newer {
		merged[k] = v
	}

	for _, field := range cfg.MergeableFields {
		if field == "sets" {
			merged[field] = mergeSetsField(local[field], remote[field])
			continue
		}
		merged[field] = unionField(local[field], remote[field])
	}

	ts := localTS
	if remoteTS.After(ts) {
		ts = remoteTS
	}
	merged[cfg.TimestampField] = ts.UTC().Format(time.RFC3339Nano)

	return merged
}

// mergeSetsField merges workout sets by (exercise, set number) so that
// progress logged on either device survives.
func mergeSetsField(localVal, remoteVal any) any {
	return domain.MergeWorkoutSets(toWorkoutSets(localVal), toWorkoutSets(remoteVal))
}

func toWorkoutSets(v any) []domain.WorkoutSet {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var sets []domain.WorkoutSet
	if err := json.Unmarshal(data, &sets); err != nil {
		return nil
	}
	return sets
}

// unionField unions two array-valued fields by item identity, falling
// back to structural equality for items without an id field.
func unionField(localVal, remoteVal any) any {
	localItems := toSlice(localVal)
	remoteItems := toSlice(remoteVal)
	if localItems == nil && remoteItems == nil {
		if remoteVal != nil {
			return remoteVal
		}
		return localVal
	}

	merged := make([]any, 0, len(localItems)+len(remoteItems))
	seenIDs := make(map[string]bool)

	add := func(item any) {
		if id := itemID(item); id != "" {
			if seenIDs[id] {
				return
			}
			seenIDs[id] = true
			merged = append(merged, item)
			return
		}
		for _, existing := range merged {
			if reflect.DeepEqual(existing, item) {
				return
			}
		}
		merged = append(merged, item)
	}

	for _, item := range localItems {
		add(item)
	}
	for _, item := range remoteItems {
		add(item)
	}

	return merged
}

func toSlice(v any) []any {
	items, _ := v.([]any)
	return items
}

func itemID(item any) string {
	m, ok := item.(map[string]any)
	if !ok {
		return ""
	}
	id, _ := m["id"].(string)
	return id
}

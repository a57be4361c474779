package domain

import (
	"time"
)

// Record is a backend row in its wire form. The backend is consumed as a
// generic record store, so rows stay schemaless here; typed payloads are
// enforced at the operation-queue boundary instead.
type Record map[string]any

// String returns the named field as a string, or "" when absent or not
// a string.
func (r Record) String(field string) string {
	v, ok := r[field]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Time parses the named field as an RFC3339 timestamp. A zero time is
// returned when the field is absent or unparseable.
func (r Record) Time(field string) time.Time {
	switch v := r[field].(type) {
	case time.Time:
		return v
	case string:
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t
		}
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t
		}
	}
	return time.Time{}
}

// Clone returns a shallow copy of the record.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

package domain

import (
	"time"
)

// Resolution is how a conflict was (or should be) settled.
type Resolution string

const (
	ResolutionLocal  Resolution = "local"
	ResolutionRemote Resolution = "remote"
	ResolutionMerged Resolution = "merged"
)

// SyncConflict records a divergence between a locally edited record and
// the remote copy of the same record, detected during a pull while an
// unsynced local mutation for that record was still queued. Conflicts
// are session-scoped: they live until resolved, automatically per the
// entity's strategy or manually by the user.
type SyncConflict struct {
	ID              string     `json:"id"`
	Entity          EntityType `json:"entity"`
	EntityID        string     `json:"entity_id"`
	LocalRecord     Record     `json:"local_record"`
	RemoteRecord    Record     `json:"remote_record"`
	LocalTimestamp  time.Time  `json:"local_timestamp"`
	RemoteTimestamp time.Time  `json:"remote_timestamp"`
	Resolution      Resolution `json:"resolution,omitempty"`
	Resolved        bool       `json:"resolved"`
	DetectedAt      time.Time  `json:"detected_at"`
}

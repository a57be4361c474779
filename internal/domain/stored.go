package domain

import (
	"time"
)

// StoredRecord is one persisted payload in the durable local store. It
// is owned exclusively by the store: mutated only through its API and
// destroyed on delete, expiration sweep, or eviction.
type StoredRecord struct {
	Key            string
	Entity         EntityType
	Payload        []byte
	Compressed     bool
	Encrypted      bool
	SizeBytes      int64
	Priority       Priority
	HitCount       int64
	CreatedAt      time.Time
	LastAccessedAt time.Time
}

// CacheEntry is the cache manager's index entry for one cached object.
// It tracks bookkeeping only; the payload lives in the durable store.
type CacheEntry struct {
	Key            string     `json:"key"`
	Entity         EntityType `json:"entity"`
	SizeBytes      int64      `json:"size_bytes"`
	CreatedAt      time.Time  `json:"created_at"`
	LastAccessedAt time.Time  `json:"last_accessed_at"`
	HitCount       int64      `json:"hit_count"`
	Priority       Priority   `json:"priority"`
}

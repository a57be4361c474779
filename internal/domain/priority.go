package domain

// Priority ranks cached entries and queued operations. Higher values are
// more important: eviction takes the lowest priority first and the queue
// drains the highest priority first.
type Priority int

const (
	PriorityLow Priority = iota + 1
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

// Name returns a human-readable name for this priority.
func (p Priority) Name() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ParsePriority converts a name to a Priority, defaulting to normal.
func ParsePriority(s string) Priority {
	switch s {
	case "low":
		return PriorityLow
	case "high":
		return PriorityHigh
	case "critical":
		return PriorityCritical
	default:
		return PriorityNormal
	}
}

// HigherThan reports whether p outranks other.
func (p Priority) HigherThan(other Priority) bool {
	return p > other
}

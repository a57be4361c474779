package event

import (
	"time"

	"github.com/pulsefit/offline-sync/internal/domain"
)

// DomainEvent is the interface for all domain events
type DomainEvent interface {
	// EventName returns the name of the event
	EventName() string
	// OccurredAt returns when the event occurred
	OccurredAt() time.Time
}

// BaseEvent provides common fields for all events
type BaseEvent struct {
	Timestamp time.Time
}

// OccurredAt returns when the event occurred
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// NetworkStatusChanged is raised whenever the network monitor recomputes
// the connectivity snapshot.
type NetworkStatusChanged struct {
	BaseEvent
	Status domain.NetworkStatus
}

// EventName returns the event name
func (e NetworkStatusChanged) EventName() string {
	return "network.status_changed"
}

// NewNetworkStatusChanged creates a new NetworkStatusChanged event
func NewNetworkStatusChanged(status domain.NetworkStatus) NetworkStatusChanged {
	return NetworkStatusChanged{
		BaseEvent: BaseEvent{Timestamp: time.Now()},
		Status:    status,
	}
}

// Connected is raised on the offline-to-online transition.
type Connected struct {
	BaseEvent
	Status domain.NetworkStatus
}

// EventName returns the event name
func (e Connected) EventName() string {
	return "network.connected"
}

// NewConnected creates a new Connected event
func NewConnected(status domain.NetworkStatus) Connected {
	return Connected{
		BaseEvent: BaseEvent{Timestamp: time.Now()},
		Status:    status,
	}
}

// Disconnected is raised on the online-to-offline transition.
type Disconnected struct {
	BaseEvent
}

// EventName returns the event name
func (e Disconnected) EventName() string {
	return "network.disconnected"
}

// NewDisconnected creates a new Disconnected event
func NewDisconnected() Disconnected {
	return Disconnected{BaseEvent: BaseEvent{Timestamp: time.Now()}}
}

// QualityChanged is raised when link quality classification changes
// while staying connected.
type QualityChanged struct {
	BaseEvent
	Previous domain.Quality
	Current  domain.Quality
}

// EventName returns the event name
func (e QualityChanged) EventName() string {
	return "network.quality_changed"
}

// NewQualityChanged creates a new QualityChanged event
func NewQualityChanged(previous, current domain.Quality) QualityChanged {
	return QualityChanged{
		BaseEvent: BaseEvent{Timestamp: time.Now()},
		Previous:  previous,
		Current:   current,
	}
}

// SyncReady is raised when the sync gate opens: the device is connected,
// reachable, and meets the configured quality policy.
type SyncReady struct {
	BaseEvent
	Status domain.NetworkStatus
}

// EventName returns the event name
func (e SyncReady) EventName() string {
	return "network.sync_ready"
}

// NewSyncReady creates a new SyncReady event
func NewSyncReady(status domain.NetworkStatus) SyncReady {
	return SyncReady{
		BaseEvent: BaseEvent{Timestamp: time.Now()},
		Status:    status,
	}
}

// QueueChanged is raised whenever the operation queue contents change.
type QueueChanged struct {
	BaseEvent
	Stats domain.QueueStats
}

// EventName returns the event name
func (e QueueChanged) EventName() string {
	return "queue.changed"
}

// NewQueueChanged creates a new QueueChanged event
func NewQueueChanged(stats domain.QueueStats) QueueChanged {
	return QueueChanged{
		BaseEvent: BaseEvent{Timestamp: time.Now()},
		Stats:     stats,
	}
}

// SyncCompleted is raised at the end of every sync cycle, successful or
// not.
type SyncCompleted struct {
	BaseEvent
	Success   bool
	Pushed    int
	Pulled    int
	Conflicts int
	Errors    []string
	Duration  time.Duration
}

// EventName returns the event name
func (e SyncCompleted) EventName() string {
	return "sync.completed"
}

// NewSyncCompleted creates a new SyncCompleted event
func NewSyncCompleted(success bool, pushed, pulled, conflicts int, errs []string, duration time.Duration) SyncCompleted {
	return SyncCompleted{
		BaseEvent: BaseEvent{Timestamp: time.Now()},
		Success:   success,
		Pushed:    pushed,
		Pulled:    pulled,
		Conflicts: conflicts,
		Errors:    errs,
		Duration:  duration,
	}
}

// ConflictListChanged is raised when a conflict is detected or resolved.
type ConflictListChanged struct {
	BaseEvent
	Unresolved int
}

// EventName returns the event name
func (e ConflictListChanged) EventName() string {
	return "sync.conflict_list_changed"
}

// NewConflictListChanged creates a new ConflictListChanged event
func NewConflictListChanged(unresolved int) ConflictListChanged {
	return ConflictListChanged{
		BaseEvent:  BaseEvent{Timestamp: time.Now()},
		Unresolved: unresolved,
	}
}

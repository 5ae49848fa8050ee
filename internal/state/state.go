package state

import (
	"time"

	"github.com/doridoridoriand/conwatch/internal/notify"
)

// Belief is the connectivity as last reported by the monitor.
type Belief string

const (
	BeliefUnknown Belief = "UNKNOWN"
	BeliefOnline  Belief = "ONLINE"
	BeliefOffline Belief = "OFFLINE"
)

// Record is one received notification.
type Record struct {
	Event  notify.Event
	Status notify.Status
	At     time.Time
}

// Connectivity captures the current belief and the notification history.
type Connectivity struct {
	Belief          Belief
	Since           time.Time
	LastEvent       notify.Event
	LastStatus      notify.Status
	LastEventAt     time.Time
	LastOnlineAt    time.Time
	LastOfflineAt   time.Time
	Transitions     int
	Failures        int
	OnlineDuration  time.Duration
	OfflineDuration time.Duration
	EventCounts     map[string]uint64
	History         []Record
}

// Store records monitor notifications. It is registered as a listener.
type Store interface {
	notify.Listener
	Snapshot() Connectivity
	Recent(n int) []Record
}

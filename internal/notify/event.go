package notify

import (
	"errors"
	"reflect"
)

// Event is what happened to the monitor or the connection.
type Event int

const (
	Nothing Event = iota
	MonStarted
	MonPaused
	MonResumed
	MonStopped
	MonAborted
	ConChanged
	ConFailure
)

var eventNames = map[Event]string{
	Nothing:    "NOTHING",
	MonStarted: "MON_STARTED",
	MonPaused:  "MON_PAUSED",
	MonResumed: "MON_RESUMED",
	MonStopped: "MON_STOPPED",
	MonAborted: "MON_ABORTED",
	ConChanged: "CON_CHANGED",
	ConFailure: "CON_FAILURE",
}

func (e Event) String() string {
	if name, ok := eventNames[e]; ok {
		return name
	}
	return "NOTHING"
}

// Status is the connectivity belief attached to an event.
type Status int

const (
	Online Status = iota
	Offline
	Unknown
)

func (s Status) String() string {
	switch s {
	case Online:
		return "ONLINE"
	case Offline:
		return "OFFLINE"
	default:
		return "UNKNOWN"
	}
}

// StatusOf maps a boolean online belief to a Status.
func StatusOf(online bool) Status {
	if online {
		return Online
	}
	return Offline
}

// Listener receives monitor events.
type Listener interface {
	OnStatusChange(evt Event, st Status)
}

// ErrListenerNotComparable is returned for listeners that cannot be told apart by identity.
var ErrListenerNotComparable = errors.New("listener type is not comparable")

func isComparable(l Listener) bool {
	if l == nil {
		return false
	}
	return reflect.TypeOf(l).Comparable()
}

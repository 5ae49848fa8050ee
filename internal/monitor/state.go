package monitor

import (
	"time"

	"github.com/doridoridoriand/conwatch/internal/probe"
	"github.com/doridoridoriand/conwatch/internal/rotation"
)

// State is the lifecycle state of the engine.
type State int32

const (
	Stopped State = iota
	Running
	Paused
)

func (s State) String() string {
	switch s {
	case Running:
		return "RUNNING"
	case Paused:
		return "PAUSED"
	default:
		return "STOPPED"
	}
}

// ProbeSummary describes the most recent probe attempt.
type ProbeSummary struct {
	URL     string
	Kind    probe.Kind
	Latency time.Duration
	Err     string
	At      time.Time
}

// Snapshot is a point-in-time copy of the engine's observable state. It is
// safe to hold and read after the engine has moved on.
type Snapshot struct {
	State               State
	Online              bool
	ConsecutiveFailures int
	Targets             []rotation.Target
	Upcoming            int
	FallbackInUse       bool
	Listeners           int
	LastProbe           ProbeSummary
	ProbeCounts         map[string]uint64
	Removed             uint64
}

// published is what the loop hands to other goroutines after each step.
type published struct {
	targets   []rotation.Target
	upcoming  int
	fallback  bool
	lastProbe ProbeSummary
}

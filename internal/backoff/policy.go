package backoff

import (
	"errors"
	"fmt"
	"math"
	"time"
)

const (
	// MinFailureSleep replaces the level-1 sleep when wait-on-failure is off.
	MinFailureSleep = 100 * time.Millisecond
	// FailureCeiling is where the failure counter is clamped back to Level2+1.
	FailureCeiling = math.MaxInt32
)

// Level is the severity that selected a sleep duration.
type Level int

const (
	LevelNone Level = iota
	Level1
	Level2
	Level3
)

func (l Level) String() string {
	switch l {
	case Level1:
		return "level1"
	case Level2:
		return "level2"
	case Level3:
		return "level3"
	default:
		return "none"
	}
}

// Decision is the outcome of one policy evaluation.
type Decision struct {
	Level Level
	Sleep time.Duration
}

// Policy maps the consecutive failure count to the next sleep.
type Policy struct {
	Level1        int
	Level2        int
	Success       time.Duration
	Failure1      time.Duration
	Failure2      time.Duration
	Failure3      time.Duration
	WaitOnFailure bool
}

// DefaultPolicy returns the built-in thresholds and sleeps.
func DefaultPolicy() Policy {
	return Policy{
		Level1:        3,
		Level2:        13,
		Success:       3 * time.Second,
		Failure1:      1 * time.Second,
		Failure2:      5 * time.Second,
		Failure3:      10 * time.Second,
		WaitOnFailure: true,
	}
}

// Validate checks the thresholds and sleeps for consistency.
func (p Policy) Validate() error {
	if p.Level1 < 1 {
		return fmt.Errorf("failure level1 must be >= 1, got %d", p.Level1)
	}
	if p.Level2 < p.Level1 {
		return fmt.Errorf("failure level2 (%d) must be >= level1 (%d)", p.Level2, p.Level1)
	}
	if p.Success < 0 || p.Failure1 < 0 || p.Failure2 < 0 || p.Failure3 < 0 {
		return errors.New("sleep durations must not be negative")
	}
	return nil
}

// OnSuccess returns the sleep after a successful probe.
func (p Policy) OnSuccess() Decision {
	return Decision{Level: LevelNone, Sleep: p.Success}
}

// OnFailure returns the sleep after a counted failure, given the
// post-increment failure count and the current online belief.
func (p Policy) OnFailure(failures int, online bool) Decision {
	switch {
	case online || failures <= p.Level1:
		sleep := p.Failure1
		if !p.WaitOnFailure {
			sleep = MinFailureSleep
		}
		return Decision{Level: Level1, Sleep: sleep}
	case failures > p.Level2:
		return Decision{Level: Level3, Sleep: p.Failure3}
	default:
		return Decision{Level: Level2, Sleep: p.Failure2}
	}
}

// Offline reports whether the failure count is high enough to declare the link down.
func (p Policy) Offline(failures int) bool {
	return failures >= p.Level1
}

// Clamp keeps the failure counter from growing without bound.
func (p Policy) Clamp(failures int) int {
	if failures >= FailureCeiling {
		return p.Level2 + 1
	}
	return failures
}

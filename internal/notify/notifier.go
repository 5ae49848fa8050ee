package notify

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/doridoridoriand/conwatch/internal/log"
)

// Notifier wraps a Listener with a delivery strategy.
type Notifier interface {
	Deliver(evt Event, st Status)
	Listener() Listener
	Close()
}

// Mode selects the strategy used for newly registered listeners.
type Mode string

const (
	ModeSerial    Mode = "serial"
	ModeParallel  Mode = "parallel"
	ModeDedicated Mode = "dedicated"
)

// ParseMode parses a notification mode, case-insensitively.
func ParseMode(value string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(value))) {
	case ModeSerial:
		return ModeSerial, nil
	case ModeParallel:
		return ModeParallel, nil
	case ModeDedicated:
		return ModeDedicated, nil
	default:
		return "", fmt.Errorf("invalid notification mode %q", value)
	}
}

// Synchronous delivers on the caller's goroutine. A delivery that arrives
// while the previous one is still running is dropped.
type Synchronous struct {
	listener Listener
	busy     atomic.Bool
	logger   log.Logger
}

// NewSynchronous wraps l for in-line delivery.
func NewSynchronous(l Listener, logger log.Logger) *Synchronous {
	return &Synchronous{listener: l, logger: logger}
}

func (s *Synchronous) Deliver(evt Event, st Status) {
	if !s.busy.CompareAndSwap(false, true) {
		s.logger.Warn("previous notification did not complete yet, dropping",
			log.Stringer("event", evt),
			log.Stringer("status", st),
			log.String("listener", fmt.Sprintf("%T", s.listener)))
		return
	}
	defer s.busy.Store(false)
	safeCall(s.listener, evt, st, s.logger)
}

func (s *Synchronous) Listener() Listener { return s.listener }

func (s *Synchronous) Close() {}

// safeCall invokes the listener and contains a panic to the listener.
func safeCall(l Listener, evt Event, st Status, logger log.Logger) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("listener panicked",
				log.Stringer("event", evt),
				log.String("listener", fmt.Sprintf("%T", l)),
				log.String("panic", fmt.Sprint(r)))
		}
	}()
	l.OnStatusChange(evt, st)
}

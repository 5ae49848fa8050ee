package state

import (
	"sync"
	"time"

	"github.com/doridoridoriand/conwatch/internal/notify"
)

const defaultHistorySize = 100

// StoreImpl is a thread-safe in-memory notification store.
type StoreImpl struct {
	mu          sync.RWMutex
	current     Connectivity
	counts      map[notify.Event]uint64
	history     []Record
	historySize int
	now         func() time.Time
}

// NewStore creates an empty store.
func NewStore() *StoreImpl {
	return &StoreImpl{
		current:     Connectivity{Belief: BeliefUnknown},
		counts:      make(map[notify.Event]uint64),
		historySize: defaultHistorySize,
		now:         time.Now,
	}
}

// OnStatusChange records a notification and updates the belief it implies.
func (s *StoreImpl) OnStatusChange(evt notify.Event, st notify.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	s.counts[evt]++
	s.appendHistory(Record{Event: evt, Status: st, At: now})

	c := &s.current
	c.LastEvent = evt
	c.LastStatus = st
	c.LastEventAt = now

	switch {
	case evt == notify.ConFailure:
		c.Failures++
	case evt == notify.ConChanged && st == notify.Online:
		s.transition(BeliefOnline, now)
	case evt == notify.ConChanged && st == notify.Offline, evt == notify.MonAborted:
		s.transition(BeliefOffline, now)
	}
}

// transition must be called with s.mu held.
func (s *StoreImpl) transition(to Belief, now time.Time) {
	c := &s.current
	if to == BeliefOnline {
		c.LastOnlineAt = now
	} else {
		c.LastOfflineAt = now
	}
	if c.Belief == to {
		return
	}

	s.accumulate(now)
	if c.Belief != BeliefUnknown {
		c.Transitions++
	}
	c.Belief = to
	c.Since = now
}

// accumulate must be called with s.mu held.
func (s *StoreImpl) accumulate(now time.Time) {
	c := &s.current
	if c.Since.IsZero() {
		return
	}
	elapsed := now.Sub(c.Since)
	switch c.Belief {
	case BeliefOnline:
		c.OnlineDuration += elapsed
	case BeliefOffline:
		c.OfflineDuration += elapsed
	}
	c.Since = now
}

// Snapshot returns a copy of the current state, including time spent in
// the current belief up to now.
func (s *StoreImpl) Snapshot() Connectivity {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clone := s.current
	if !clone.Since.IsZero() {
		elapsed := s.now().Sub(clone.Since)
		switch clone.Belief {
		case BeliefOnline:
			clone.OnlineDuration += elapsed
		case BeliefOffline:
			clone.OfflineDuration += elapsed
		}
	}
	clone.EventCounts = make(map[string]uint64, len(s.counts))
	for evt, n := range s.counts {
		clone.EventCounts[evt.String()] = n
	}
	clone.History = append([]Record(nil), s.history...)
	return clone
}

// Recent returns up to n of the newest records, newest last.
func (s *StoreImpl) Recent(n int) []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n <= 0 || n > len(s.history) {
		n = len(s.history)
	}
	return append([]Record(nil), s.history[len(s.history)-n:]...)
}

func (s *StoreImpl) appendHistory(r Record) {
	if s.historySize <= 0 {
		return
	}
	if len(s.history) < s.historySize {
		s.history = append(s.history, r)
		return
	}
	copy(s.history, s.history[1:])
	s.history[len(s.history)-1] = r
}

package notify

import (
	"errors"
	"fmt"
	"sync"

	"github.com/doridoridoriand/conwatch/internal/log"
)

// DefaultMaxListeners bounds the registry when no explicit limit is configured.
const DefaultMaxListeners = 15

var ErrCapacityExceeded = errors.New("maximum number of listeners reached")

// Registry is the bounded set of registered listeners and the broadcast
// de-duplication state.
type Registry struct {
	max    int
	mode   Mode
	pool   *Pool
	logger log.Logger

	mu      sync.Mutex
	entries []Notifier
	lastEvt Event
	lastSt  Status
	hasLast bool
}

// NewRegistry creates a registry. pool is only used in parallel mode and
// may be nil otherwise.
func NewRegistry(max int, mode Mode, pool *Pool, logger log.Logger) *Registry {
	if max <= 0 {
		max = DefaultMaxListeners
	}
	if mode == "" {
		mode = ModeParallel
	}
	if mode == ModeParallel && pool == nil {
		pool = NewPool(DefaultPoolSize, DefaultQueueSize, logger)
	}
	return &Registry{max: max, mode: mode, pool: pool, logger: logger}
}

// Mode returns the strategy applied to listeners added with Register.
func (r *Registry) Mode() Mode { return r.mode }

// Pool returns the shared delivery pool, or nil outside parallel mode.
func (r *Registry) Pool() *Pool { return r.pool }

// Register adds l with the registry's delivery strategy. Registering a
// listener that is already present is a no-op.
func (r *Registry) Register(l Listener) error {
	return r.add(l, r.wrap)
}

// RegisterSynchronous adds l with in-line delivery regardless of the mode.
func (r *Registry) RegisterSynchronous(l Listener) error {
	return r.add(l, func(l Listener) Notifier { return NewSynchronous(l, r.logger) })
}

func (r *Registry) wrap(l Listener) Notifier {
	switch r.mode {
	case ModeSerial:
		return NewSynchronous(l, r.logger)
	case ModeDedicated:
		return NewDedicated(l, r.logger)
	default:
		return NewPooled(l, r.pool, r.logger)
	}
}

func (r *Registry) add(l Listener, wrap func(Listener) Notifier) error {
	if !isComparable(l) {
		return ErrListenerNotComparable
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.indexOf(l) >= 0 {
		r.logger.Debug("listener already registered", log.String("listener", fmt.Sprintf("%T", l)))
		return nil
	}
	if len(r.entries) >= r.max {
		return fmt.Errorf("%w (%d)", ErrCapacityExceeded, r.max)
	}
	r.entries = append(r.entries, wrap(l))
	return nil
}

// Unregister removes l and reports how many listeners remain.
func (r *Registry) Unregister(l Listener) (remaining int, removed bool) {
	if !isComparable(l) {
		r.mu.Lock()
		defer r.mu.Unlock()
		return len(r.entries), false
	}

	r.mu.Lock()
	idx := r.indexOf(l)
	if idx < 0 {
		remaining = len(r.entries)
		r.mu.Unlock()
		return remaining, false
	}
	n := r.entries[idx]
	r.entries = append(r.entries[:idx], r.entries[idx+1:]...)
	remaining = len(r.entries)
	r.mu.Unlock()

	n.Close()
	return remaining, true
}

// indexOf must be called with r.mu held.
func (r *Registry) indexOf(l Listener) int {
	for i, n := range r.entries {
		if n.Listener() == l {
			return i
		}
	}
	return -1
}

// Len returns the number of registered listeners.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Contains reports whether l is registered.
func (r *Registry) Contains(l Listener) bool {
	if !isComparable(l) {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.indexOf(l) >= 0
}

// Broadcast fans (evt, st) out to every listener. A pair identical to the
// previous broadcast is suppressed, except for ConFailure. It reports
// whether the notification went out.
func (r *Registry) Broadcast(evt Event, st Status) bool {
	r.mu.Lock()
	if evt != ConFailure && r.hasLast && r.lastEvt == evt && r.lastSt == st {
		r.mu.Unlock()
		return false
	}
	r.lastEvt, r.lastSt, r.hasLast = evt, st, true
	targets := make([]Notifier, len(r.entries))
	copy(targets, r.entries)
	r.mu.Unlock()

	for _, n := range targets {
		n.Deliver(evt, st)
	}
	return true
}

// Deliver sends (evt, st) to l alone. It does not touch the
// de-duplication state.
func (r *Registry) Deliver(l Listener, evt Event, st Status) bool {
	if !isComparable(l) {
		return false
	}
	r.mu.Lock()
	idx := r.indexOf(l)
	var n Notifier
	if idx >= 0 {
		n = r.entries[idx]
	}
	r.mu.Unlock()

	if n == nil {
		return false
	}
	n.Deliver(evt, st)
	return true
}

// Close releases every notifier and empties the registry. The shared pool
// is owned by the caller and is not shut down here.
func (r *Registry) Close() {
	r.mu.Lock()
	entries := r.entries
	r.entries = nil
	r.mu.Unlock()

	for _, n := range entries {
		n.Close()
	}
}

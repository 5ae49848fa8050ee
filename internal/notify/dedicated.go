package notify

import (
	"sync"

	"github.com/doridoridoriand/conwatch/internal/log"
)

type notification struct {
	evt Event
	st  Status
}

// Dedicated owns one goroutine per listener. Only the newest undelivered
// notification is kept; older pending ones are overwritten.
type Dedicated struct {
	listener Listener
	logger   log.Logger

	mu      sync.Mutex
	pending *notification

	wake chan struct{}
	quit chan struct{}
	done chan struct{}
	once sync.Once
}

// NewDedicated wraps l and starts its delivery goroutine.
func NewDedicated(l Listener, logger log.Logger) *Dedicated {
	d := &Dedicated{
		listener: l,
		logger:   logger,
		wake:     make(chan struct{}, 1),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *Dedicated) Deliver(evt Event, st Status) {
	select {
	case <-d.quit:
		return
	default:
	}

	d.mu.Lock()
	d.pending = &notification{evt: evt, st: st}
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

func (d *Dedicated) run() {
	defer close(d.done)
	for {
		select {
		case <-d.quit:
			return
		case <-d.wake:
		}

		d.mu.Lock()
		n := d.pending
		d.pending = nil
		d.mu.Unlock()

		if n != nil {
			safeCall(d.listener, n.evt, n.st, d.logger)
		}
	}
}

func (d *Dedicated) Listener() Listener { return d.listener }

// Close stops the delivery goroutine. A callback already running is not interrupted.
func (d *Dedicated) Close() {
	d.once.Do(func() { close(d.quit) })
}

// Done is closed once the delivery goroutine has exited.
func (d *Dedicated) Done() <-chan struct{} {
	return d.done
}

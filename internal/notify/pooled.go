package notify

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/doridoridoriand/conwatch/internal/log"
)

const (
	// OverloadThreshold is how long a delivery may stay unacknowledged
	// before further submissions for the same listener are refused.
	OverloadThreshold = 100 * time.Millisecond
	slowThreshold     = time.Second
	stuckThreshold    = 5 * time.Second
)

// Pooled hands deliveries to a shared Pool. Callbacks for one listener never
// run concurrently and run in submission order. Deliveries queue on the
// listener and a single pool task drains them, so a slow listener holds at
// most one worker.
type Pooled struct {
	listener Listener
	pool     *Pool
	logger   log.Logger
	now      func() time.Time

	mu         sync.Mutex
	inflight   int
	lastSubmit time.Time
	pending    []delivery
	draining   bool
}

type delivery struct {
	evt Event
	st  Status
}

// NewPooled wraps l for delivery through pool.
func NewPooled(l Listener, pool *Pool, logger log.Logger) *Pooled {
	return &Pooled{
		listener: l,
		pool:     pool,
		logger:   logger,
		now:      time.Now,
	}
}

func (p *Pooled) Deliver(evt Event, st Status) {
	if p.pool.Closed() {
		p.logger.Error("notification pool is shut down, dropping",
			log.Stringer("event", evt),
			log.String("listener", fmt.Sprintf("%T", p.listener)))
		return
	}

	now := p.now()
	p.mu.Lock()
	if p.inflight > 0 {
		if pending := now.Sub(p.lastSubmit); pending > OverloadThreshold {
			p.mu.Unlock()
			p.warnOverload(evt, pending)
			return
		}
	}
	prevSubmit := p.lastSubmit
	p.pending = append(p.pending, delivery{evt: evt, st: st})
	p.inflight++
	p.lastSubmit = now
	if p.draining {
		p.mu.Unlock()
		return
	}

	p.draining = true
	err := p.pool.Submit(p.drain)
	if err == nil {
		p.mu.Unlock()
		return
	}
	p.pending = p.pending[:len(p.pending)-1]
	p.inflight--
	p.lastSubmit = prevSubmit
	p.draining = false
	p.mu.Unlock()

	fields := []log.Field{
		log.Stringer("event", evt),
		log.String("listener", fmt.Sprintf("%T", p.listener)),
	}
	if errors.Is(err, ErrPoolClosed) {
		p.logger.Error("notification pool is shut down, dropping", fields...)
		return
	}
	p.logger.Warn("notification queue full, dropping", append(fields, log.Error(err))...)
}

// drain runs on a pool worker until the listener has nothing queued.
func (p *Pooled) drain() {
	for {
		p.mu.Lock()
		if len(p.pending) == 0 {
			p.draining = false
			p.mu.Unlock()
			return
		}
		d := p.pending[0]
		p.pending[0] = delivery{}
		p.pending = p.pending[1:]
		p.mu.Unlock()

		safeCall(p.listener, d.evt, d.st, p.logger)

		p.mu.Lock()
		p.inflight--
		p.mu.Unlock()
	}
}

func (p *Pooled) warnOverload(evt Event, pending time.Duration) {
	fields := []log.Field{
		log.Stringer("event", evt),
		log.Duration("pending", pending),
		log.String("listener", fmt.Sprintf("%T", p.listener)),
	}
	switch {
	case pending > stuckThreshold:
		p.logger.Warn("listener appears stuck, notification skipped", fields...)
	case pending > slowThreshold:
		p.logger.Warn("listener is very slow, notification skipped", fields...)
	default:
		p.logger.Warn("previous notification still pending, notification skipped", fields...)
	}
}

// Pending reports the number of submitted deliveries not yet acknowledged.
func (p *Pooled) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inflight
}

func (p *Pooled) Listener() Listener { return p.listener }

func (p *Pooled) Close() {}

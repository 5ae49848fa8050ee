package notify

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/doridoridoriand/conwatch/internal/log"
)

const (
	DefaultPoolSize      = 10
	DefaultQueueSize     = 256
	DefaultShutdownAwait = 5 * time.Second
)

var (
	ErrPoolClosed = errors.New("notification pool is shut down")
	ErrPoolFull   = errors.New("notification pool queue is full")
)

// Pool is a fixed set of workers shared by every pooled listener.
// Workers are started on the first submission.
type Pool struct {
	size   int
	queue  chan func()
	logger log.Logger

	startOnce sync.Once
	mu        sync.Mutex
	closed    bool
	wg        sync.WaitGroup
}

// NewPool creates a pool with size workers and a bounded task queue.
func NewPool(size, queueSize int, logger log.Logger) *Pool {
	if size <= 0 {
		size = DefaultPoolSize
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Pool{
		size:   size,
		queue:  make(chan func(), queueSize),
		logger: logger,
	}
}

func (p *Pool) start() {
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go func(workerID int) {
			defer p.wg.Done()
			for task := range p.queue {
				p.runTask(workerID, task)
			}
		}(i + 1)
	}
	p.logger.Debug("notification pool started", log.Int("workers", p.size))
}

func (p *Pool) runTask(workerID int, task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("notification task panicked",
				log.Int("worker", workerID),
				log.String("panic", fmt.Sprint(r)))
		}
	}()
	task()
}

// Submit queues task without blocking.
func (p *Pool) Submit(task func()) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}
	p.startOnce.Do(p.start)

	select {
	case p.queue <- task:
		return nil
	default:
		return ErrPoolFull
	}
}

// Closed reports whether Shutdown has been called.
func (p *Pool) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Shutdown stops accepting tasks and waits up to timeout for queued ones to
// finish. It is safe to call more than once and reports whether the workers drained.
func (p *Pool) Shutdown(timeout time.Duration) bool {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(drained)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-drained:
		return true
	case <-timer.C:
		p.logger.Warn("notification pool did not drain in time", log.Duration("timeout", timeout))
		return false
	}
}

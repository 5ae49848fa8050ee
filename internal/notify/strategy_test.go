package notify

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/doridoridoriand/conwatch/internal/log"
)

type blockingListener struct {
	release chan struct{}
	entered chan struct{}
	calls   atomic.Int32
}

func newBlockingListener() *blockingListener {
	return &blockingListener{release: make(chan struct{}), entered: make(chan struct{}, 16)}
}

func (b *blockingListener) OnStatusChange(Event, Status) {
	b.calls.Add(1)
	b.entered <- struct{}{}
	<-b.release
}

type reentrantListener struct {
	sync  *Synchronous
	calls atomic.Int32
}

func (r *reentrantListener) OnStatusChange(evt Event, st Status) {
	if r.calls.Add(1) == 1 {
		r.sync.Deliver(evt, st)
	}
}

type panickingListener struct{}

func (*panickingListener) OnStatusChange(Event, Status) { panic("boom") }

func observedLogger() (log.Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	return log.Wrap(zap.New(core)), logs
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestSynchronousDropsReentrantDelivery(t *testing.T) {
	logger, logs := observedLogger()
	l := &reentrantListener{}
	l.sync = NewSynchronous(l, logger)

	l.sync.Deliver(ConChanged, Online)

	if l.calls.Load() != 1 {
		t.Fatalf("expected nested delivery to be dropped, got %d calls", l.calls.Load())
	}
	if logs.FilterMessage("previous notification did not complete yet, dropping").Len() != 1 {
		t.Fatalf("expected a drop warning")
	}
}

func TestSynchronousContainsPanic(t *testing.T) {
	logger, logs := observedLogger()
	s := NewSynchronous(&panickingListener{}, logger)

	s.Deliver(ConFailure, Unknown)
	s.Deliver(ConFailure, Unknown)

	if logs.FilterMessage("listener panicked").Len() != 2 {
		t.Fatalf("expected both panics to be logged")
	}
}

func TestDedicatedLatestWins(t *testing.T) {
	l := newBlockingListener()
	d := NewDedicated(l, log.NewNop())
	defer d.Close()

	d.Deliver(MonStarted, Offline)
	<-l.entered

	d.Deliver(ConChanged, Offline)
	d.Deliver(ConChanged, Online)
	d.Deliver(MonPaused, Online)

	close(l.release)
	waitUntil(t, time.Second, func() bool { return l.calls.Load() == 2 })

	time.Sleep(20 * time.Millisecond)
	if got := l.calls.Load(); got != 2 {
		t.Fatalf("expected pending notifications to collapse to one, got %d calls", got)
	}
}

func TestDedicatedCloseStopsGoroutine(t *testing.T) {
	d := NewDedicated(&recordingListener{}, log.NewNop())
	d.Close()
	d.Close()

	select {
	case <-d.Done():
	case <-time.After(time.Second):
		t.Fatalf("delivery goroutine did not exit")
	}
	d.Deliver(ConChanged, Online)
}

func TestPoolRunsTasks(t *testing.T) {
	p := NewPool(3, 10, log.NewNop())
	var ran atomic.Int32
	for i := 0; i < 5; i++ {
		if err := p.Submit(func() { ran.Add(1) }); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	if !p.Shutdown(time.Second) {
		t.Fatalf("pool did not drain")
	}
	if ran.Load() != 5 {
		t.Fatalf("expected 5 tasks, got %d", ran.Load())
	}
}

func TestPoolShutdownIdempotent(t *testing.T) {
	p := NewPool(1, 1, log.NewNop())
	if !p.Shutdown(time.Second) || !p.Shutdown(time.Second) {
		t.Fatalf("shutdown of an idle pool should drain")
	}
	if err := p.Submit(func() {}); !errors.Is(err, ErrPoolClosed) {
		t.Fatalf("expected ErrPoolClosed, got %v", err)
	}
}

func TestPoolShutdownBounded(t *testing.T) {
	p := NewPool(1, 1, log.NewNop())
	release := make(chan struct{})
	defer close(release)

	_ = p.Submit(func() { <-release })
	start := time.Now()
	if p.Shutdown(30 * time.Millisecond) {
		t.Fatalf("expected shutdown to time out with a blocked worker")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("shutdown waited too long: %s", elapsed)
	}
}

func TestPoolFullQueue(t *testing.T) {
	p := NewPool(1, 1, log.NewNop())
	release := make(chan struct{})
	started := make(chan struct{})
	defer func() {
		close(release)
		p.Shutdown(time.Second)
	}()

	_ = p.Submit(func() { close(started); <-release })
	<-started
	if err := p.Submit(func() {}); err != nil {
		t.Fatalf("queued submit: %v", err)
	}
	if err := p.Submit(func() {}); !errors.Is(err, ErrPoolFull) {
		t.Fatalf("expected ErrPoolFull, got %v", err)
	}
}

func TestPooledFirstSubmitAlwaysAllowed(t *testing.T) {
	pool := NewPool(2, 8, log.NewNop())
	l := &recordingListener{}
	p := NewPooled(l, pool, log.NewNop())

	p.Deliver(MonStarted, Offline)
	pool.Shutdown(time.Second)

	if got := l.events(); len(got) != 1 || got[0].evt != MonStarted {
		t.Fatalf("expected MON_STARTED delivery, got %v", got)
	}
	if p.Pending() != 0 {
		t.Fatalf("expected no pending deliveries, got %d", p.Pending())
	}
}

func TestPooledPreservesOrder(t *testing.T) {
	pool := NewPool(4, 64, log.NewNop())
	l := &recordingListener{}
	p := NewPooled(l, pool, log.NewNop())
	clock := time.Unix(1000, 0)
	p.now = func() time.Time { return clock }

	sequence := []Event{MonStarted, ConChanged, ConFailure, ConFailure, ConChanged, MonPaused, MonResumed, MonStopped}
	for _, evt := range sequence {
		p.Deliver(evt, Online)
	}
	if !pool.Shutdown(time.Second) {
		t.Fatalf("pool did not drain")
	}

	got := l.events()
	if len(got) != len(sequence) {
		t.Fatalf("expected %d deliveries, got %d", len(sequence), len(got))
	}
	for i, evt := range sequence {
		if got[i].evt != evt {
			t.Fatalf("delivery %d: expected %s, got %s", i, evt, got[i].evt)
		}
	}
}

func TestPooledSlowListenerHoldsOneWorker(t *testing.T) {
	pool := NewPool(2, 8, log.NewNop())
	defer pool.Shutdown(time.Second)

	slow := newBlockingListener()
	sp := NewPooled(slow, pool, log.NewNop())
	clock := time.Unix(1000, 0)
	sp.now = func() time.Time { return clock }

	sp.Deliver(ConChanged, Offline)
	<-slow.entered
	sp.Deliver(ConFailure, Unknown)
	sp.Deliver(ConChanged, Online)

	fast := &recordingListener{}
	NewPooled(fast, pool, log.NewNop()).Deliver(MonStarted, Online)
	waitUntil(t, time.Second, func() bool { return len(fast.events()) == 1 })

	if got := slow.calls.Load(); got != 1 {
		t.Fatalf("expected the slow listener to be inside its first callback only, calls=%d", got)
	}
	if sp.Pending() != 3 {
		t.Fatalf("expected 3 pending deliveries, got %d", sp.Pending())
	}

	close(slow.release)
	waitUntil(t, time.Second, func() bool { return sp.Pending() == 0 })
	if got := slow.calls.Load(); got != 3 {
		t.Fatalf("expected all queued deliveries after release, calls=%d", got)
	}
}

func TestPooledSkipsWhileOverloaded(t *testing.T) {
	logger, logs := observedLogger()
	pool := NewPool(2, 8, logger)
	defer pool.Shutdown(time.Second)

	l := newBlockingListener()
	p := NewPooled(l, pool, logger)
	clock := time.Unix(1000, 0)
	p.now = func() time.Time { return clock }

	p.Deliver(ConChanged, Offline)
	<-l.entered

	clock = clock.Add(50 * time.Millisecond)
	p.Deliver(ConFailure, Unknown)
	if p.Pending() != 2 {
		t.Fatalf("expected second submit within the threshold, pending=%d", p.Pending())
	}

	clock = clock.Add(150 * time.Millisecond)
	p.Deliver(ConFailure, Unknown)
	if p.Pending() != 2 {
		t.Fatalf("expected overloaded submit to be skipped, pending=%d", p.Pending())
	}
	if logs.FilterMessage("previous notification still pending, notification skipped").Len() != 1 {
		t.Fatalf("expected overload warning")
	}

	clock = clock.Add(2 * time.Second)
	p.Deliver(ConFailure, Unknown)
	clock = clock.Add(5 * time.Second)
	p.Deliver(ConFailure, Unknown)
	if logs.FilterMessage("listener is very slow, notification skipped").Len() != 1 {
		t.Fatalf("expected slow listener warning")
	}
	if logs.FilterMessage("listener appears stuck, notification skipped").Len() != 1 {
		t.Fatalf("expected stuck listener warning")
	}

	close(l.release)
	waitUntil(t, time.Second, func() bool { return p.Pending() == 0 })
	if l.calls.Load() != 2 {
		t.Fatalf("expected 2 callbacks, got %d", l.calls.Load())
	}
}

func TestPooledAfterShutdownDrops(t *testing.T) {
	logger, logs := observedLogger()
	pool := NewPool(1, 1, logger)
	pool.Shutdown(time.Second)

	l := &recordingListener{}
	NewPooled(l, pool, logger).Deliver(ConChanged, Online)

	if len(l.events()) != 0 {
		t.Fatalf("expected no delivery after shutdown")
	}
	if logs.FilterLevelExact(zapcore.ErrorLevel).Len() != 1 {
		t.Fatalf("expected an error log for the dropped notification")
	}
}

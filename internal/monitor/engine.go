package monitor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/doridoridoriand/conwatch/internal/backoff"
	"github.com/doridoridoriand/conwatch/internal/log"
	"github.com/doridoridoriand/conwatch/internal/notify"
	"github.com/doridoridoriand/conwatch/internal/probe"
	"github.com/doridoridoriand/conwatch/internal/rotation"
)

const (
	DefaultStopPollInterval = 10 * time.Millisecond
	DefaultStopTimeout      = 5 * time.Second
)

// Config holds what the engine needs for a run.
type Config struct {
	// Targets seeds the rotation at the start of every run.
	Targets []string
	// Fallback replaces an empty rotation once per run.
	Fallback []string
	Policy   backoff.Policy

	StopPollInterval time.Duration
	// StopTimeout bounds how long Stop waits for the loop. Zero means
	// DefaultStopTimeout; a negative value waits forever.
	StopTimeout time.Duration
}

// Engine probes the rotation in a loop and reports connectivity changes to
// registered listeners.
type Engine struct {
	cfg      Config
	prober   probe.Prober
	registry *notify.Registry
	logger   log.Logger

	// ctrl serializes Start and Stop.
	ctrl   sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	gen    atomic.Uint64

	running atomic.Bool
	state   atomic.Int32
	online  atomic.Bool

	// emitMu orders broadcasts against the synthetic registration event.
	emitMu sync.Mutex

	pauseMu sync.Mutex
	cond    *sync.Cond
	paused  bool

	failures    atomic.Int64
	removed     atomic.Uint64
	probeCounts [probe.Other + 1]atomic.Uint64

	snapMu sync.RWMutex
	snap   published
}

// New builds an engine and registers it as its own synchronous listener.
func New(cfg Config, prober probe.Prober, registry *notify.Registry, logger log.Logger) (*Engine, error) {
	if cfg.StopPollInterval <= 0 {
		cfg.StopPollInterval = DefaultStopPollInterval
	}
	if cfg.StopTimeout == 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("monitor: %w", err)
	}

	e := &Engine{
		cfg:      cfg,
		prober:   prober,
		registry: registry,
		logger:   logger.With(log.String("component", "monitor")),
	}
	e.cond = sync.NewCond(&e.pauseMu)
	e.snap.targets = rotation.New(cfg.Targets).Targets()

	if err := registry.RegisterSynchronous(e); err != nil {
		return nil, fmt.Errorf("monitor: register self listener: %w", err)
	}
	return e, nil
}

// OnStatusChange logs the engine's own events.
func (e *Engine) OnStatusChange(evt notify.Event, st notify.Status) {
	e.logger.Info("monitor event", log.Stringer("event", evt), log.Stringer("status", st))
}

// AddListener registers l, starts the engine when l is not the engine
// itself, and tells l the current connectivity belief. It must not be
// called from inside a serial listener's callback.
func (e *Engine) AddListener(l notify.Listener) error {
	if e.registry.Contains(l) {
		e.logger.Debug("listener already registered", log.String("listener", fmt.Sprintf("%T", l)))
		return nil
	}
	if err := e.registry.Register(l); err != nil {
		return err
	}
	if l != notify.Listener(e) {
		e.Start()
	}
	e.emitMu.Lock()
	e.registry.Deliver(l, notify.ConChanged, notify.StatusOf(e.online.Load()))
	e.emitMu.Unlock()
	return nil
}

// RemoveListener unregisters l. The engine pauses once only its own
// listener is left.
func (e *Engine) RemoveListener(l notify.Listener) bool {
	remaining, removed := e.registry.Unregister(l)
	if removed && remaining <= 1 {
		e.Pause()
	}
	return removed
}

// Start launches the loop. A paused engine is resumed instead.
func (e *Engine) Start() {
	e.ctrl.Lock()
	defer e.ctrl.Unlock()

	e.Resume()
	if e.running.Load() {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	gen := e.gen.Add(1)
	// a loop left over from a timed-out Stop must exit before the new one starts
	prev := e.done

	e.pauseMu.Lock()
	e.paused = false
	e.pauseMu.Unlock()

	e.cancel = cancel
	e.done = done
	e.running.Store(true)
	e.state.Store(int32(Running))

	go e.run(ctx, done, gen, prev)
}

// Stop ends the loop and waits, bounded by StopTimeout, for it to exit. It
// reports whether termination was observed.
func (e *Engine) Stop() bool {
	e.ctrl.Lock()
	defer e.ctrl.Unlock()

	if e.done == nil {
		return true
	}

	e.Resume()
	e.running.Store(false)
	e.cancel()
	e.pauseMu.Lock()
	e.cond.Broadcast()
	e.pauseMu.Unlock()

	if !e.awaitDone(e.done) {
		e.logger.Warn("monitor loop did not stop in time", log.Duration("timeout", e.cfg.StopTimeout))
		return false
	}
	e.done = nil
	return true
}

func (e *Engine) awaitDone(done <-chan struct{}) bool {
	var deadline time.Time
	if e.cfg.StopTimeout > 0 {
		deadline = time.Now().Add(e.cfg.StopTimeout)
	}
	ticker := time.NewTicker(e.cfg.StopPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return true
		default:
		}
		if !deadline.IsZero() && time.Now().After(deadline) {
			return false
		}
		<-ticker.C
	}
}

// Pause asks the loop to block before its next probe. It is a no-op unless running.
func (e *Engine) Pause() {
	if !e.running.Load() {
		return
	}
	e.pauseMu.Lock()
	e.paused = true
	e.pauseMu.Unlock()
}

// Resume wakes a paused loop. It is a no-op unless running and paused.
func (e *Engine) Resume() {
	e.pauseMu.Lock()
	defer e.pauseMu.Unlock()
	if !e.running.Load() || !e.paused {
		return
	}
	e.paused = false
	e.cond.Broadcast()
}

// Done is closed when the current run exits. It is nil before the first Start.
func (e *Engine) Done() <-chan struct{} {
	e.ctrl.Lock()
	defer e.ctrl.Unlock()
	return e.done
}

func (e *Engine) State() State { return State(e.state.Load()) }

// Online reports the current connectivity belief.
func (e *Engine) Online() bool { return e.online.Load() }

// Snapshot returns a copy of the engine's observable state.
func (e *Engine) Snapshot() Snapshot {
	e.snapMu.RLock()
	p := e.snap
	targets := make([]rotation.Target, len(p.targets))
	copy(targets, p.targets)
	e.snapMu.RUnlock()

	counts := make(map[string]uint64, len(e.probeCounts))
	for k := range e.probeCounts {
		counts[probe.Kind(k).String()] = e.probeCounts[k].Load()
	}

	return Snapshot{
		State:               e.State(),
		Online:              e.Online(),
		ConsecutiveFailures: int(e.failures.Load()),
		Targets:             targets,
		Upcoming:            p.upcoming,
		FallbackInUse:       p.fallback,
		Listeners:           e.registry.Len(),
		LastProbe:           p.lastProbe,
		ProbeCounts:         counts,
		Removed:             e.removed.Load(),
	}
}

// live reports whether the run identified by ctx and gen should continue.
func (e *Engine) live(ctx context.Context, gen uint64) bool {
	return e.running.Load() && ctx.Err() == nil && e.gen.Load() == gen
}

func (e *Engine) setState(s State, gen uint64) {
	if e.gen.Load() == gen {
		e.state.Store(int32(s))
	}
}

// emit broadcasts and tracks the belief carried by every delivered event.
func (e *Engine) emit(evt notify.Event, st notify.Status) {
	e.emitMu.Lock()
	defer e.emitMu.Unlock()
	if e.registry.Broadcast(evt, st) {
		e.online.Store(st != notify.Offline)
	}
}

func (e *Engine) status() notify.Status {
	return notify.StatusOf(e.online.Load())
}

func (e *Engine) publish(rot *rotation.Rotation, fallback bool, last *ProbeSummary) {
	e.snapMu.Lock()
	e.snap.targets = rot.Targets()
	e.snap.upcoming = rot.Upcoming()
	e.snap.fallback = fallback
	if last != nil {
		e.snap.lastProbe = *last
	}
	e.snapMu.Unlock()
}

func (e *Engine) run(ctx context.Context, done chan struct{}, gen uint64, prev <-chan struct{}) {
	defer close(done)

	if prev != nil {
		<-prev
	}
	if !e.live(ctx, gen) {
		e.setState(Stopped, gen)
		return
	}

	policy := e.cfg.Policy
	rot := rotation.New(e.cfg.Targets)
	fallback := false
	failures := 0
	e.failures.Store(0)
	e.publish(rot, fallback, nil)

	e.emit(notify.MonStarted, e.status())
	defer func() {
		e.setState(Stopped, gen)
		e.emit(notify.MonStopped, e.status())
	}()

	for e.live(ctx, gen) {
		e.setState(Running, gen)

		if rot.Len() == 0 {
			if !fallback {
				fallback = true
				rot = rotation.New(e.cfg.Fallback)
				e.logger.Warn("rotation is empty, loading built-in targets", log.Int("targets", rot.Len()))
				e.publish(rot, fallback, nil)
				continue
			}
			e.running.Store(false)
			e.logger.Error("rotation is empty, connectivity cannot be assessed")
			e.emit(notify.MonAborted, notify.Offline)
			break
		}

		if !e.waitWhilePaused(ctx, gen) {
			break
		}

		target, err := rot.Next()
		if err != nil {
			continue
		}
		result := e.probe(ctx, target.URL)
		if !e.live(ctx, gen) {
			break
		}
		e.probeCounts[result.Kind].Add(1)
		summary := summarize(target.URL, result)

		switch result.Kind {
		case probe.OK:
			failures = 0
			target.ConsecutiveTimeouts = 0
			e.failures.Store(0)
			log.LogProbeResult(e.logger, target.URL, true, result.Latency, false, nil)
			e.emit(notify.ConChanged, notify.Online)
			e.publish(rot, fallback, &summary)
			if !e.live(ctx, gen) {
				return
			}
			sleep(ctx, policy.OnSuccess().Sleep)

		case probe.Malformed:
			e.logger.Warn("removing malformed target", log.String("url", target.URL), log.Error(result.Err))
			rot.Remove(target)
			e.removed.Add(1)

		case probe.Timeout:
			target.ConsecutiveTimeouts++
			e.logger.Warn("target did not respond in time",
				log.String("url", target.URL),
				log.Int("consecutive_timeouts", target.ConsecutiveTimeouts))
			if target.ConsecutiveTimeouts >= rotation.MaxConsecutiveTimeouts {
				e.logger.Warn("removing target after repeated timeouts", log.String("url", target.URL))
				rot.Remove(target)
				e.removed.Add(1)
			}

		default:
			log.LogProbeResult(e.logger, target.URL, false, result.Latency, result.Kind.Quiet(), result.Err)
			if e.online.Load() {
				e.emit(notify.ConFailure, notify.Unknown)
			}
			failures++
			e.failures.Store(int64(failures))
			decision := policy.OnFailure(failures, e.online.Load())
			e.logger.Debug("backing off",
				log.Int("failures", failures),
				log.Stringer("level", decision.Level),
				log.Duration("sleep", decision.Sleep))
			sleep(ctx, decision.Sleep)
		}

		if policy.Offline(failures) {
			e.emit(notify.ConChanged, notify.Offline)
			failures = policy.Clamp(failures)
			e.failures.Store(int64(failures))
		}
		e.publish(rot, fallback, &summary)
	}
}

// waitWhilePaused blocks while the engine is paused. It reports whether the
// loop should keep going.
func (e *Engine) waitWhilePaused(ctx context.Context, gen uint64) bool {
	e.pauseMu.Lock()
	if !e.paused {
		e.pauseMu.Unlock()
		return true
	}
	if !e.live(ctx, gen) {
		e.pauseMu.Unlock()
		return false
	}
	e.setState(Paused, gen)
	e.pauseMu.Unlock()

	e.emit(notify.MonPaused, e.status())

	e.pauseMu.Lock()
	for e.paused && e.live(ctx, gen) {
		e.cond.Wait()
	}
	e.pauseMu.Unlock()

	e.emit(notify.MonResumed, e.status())
	// a Stop during the pause must not lead to another probe
	if !e.live(ctx, gen) {
		return false
	}
	e.setState(Running, gen)
	return true
}

func (e *Engine) probe(ctx context.Context, url string) (result probe.Result) {
	defer func() {
		if r := recover(); r != nil {
			result = probe.Result{Kind: probe.Other, Err: fmt.Errorf("prober panicked: %v", r)}
		}
	}()
	return e.prober.Probe(ctx, url)
}

func summarize(url string, r probe.Result) ProbeSummary {
	s := ProbeSummary{URL: url, Kind: r.Kind, Latency: r.Latency, At: time.Now()}
	if r.Err != nil {
		s.Err = r.Err.Error()
	}
	return s
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

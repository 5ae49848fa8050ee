package metrics

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/doridoridoriand/conwatch/internal/log"
	"github.com/doridoridoriand/conwatch/internal/monitor"
	"github.com/doridoridoriand/conwatch/internal/rotation"
	"github.com/doridoridoriand/conwatch/internal/state"
)

// EngineSource supplies engine snapshots.
type EngineSource interface {
	Snapshot() monitor.Snapshot
}

// Server exposes Prometheus-style metrics and JSON status based on the
// engine snapshot and the notification store.
type Server struct {
	engine  EngineSource
	store   state.Store
	logger  log.Logger
	started time.Time
}

// NewServer constructs a metrics server. store may be nil.
func NewServer(engine EngineSource, store state.Store, logger log.Logger) *Server {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Server{
		engine:  engine,
		store:   store,
		logger:  logger.With(log.String("component", "metrics")),
		started: time.Now(),
	}
}

// Handler returns the router serving /metrics, /healthz and /status.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.GetHead)
	r.Use(middleware.Recoverer)
	r.Use(accessLog(s.logger))

	r.Get("/metrics", s.handleMetrics)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/status", s.handleStatus)
	return r
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	bw := bufio.NewWriter(w)
	defer bw.Flush()
	s.writeMetrics(bw)
}

func (s *Server) writeMetrics(w *bufio.Writer) {
	snap := s.engine.Snapshot()
	writeEngine(w, snap)
	writeTargets(w, snap.Targets, snap.Upcoming)
	writeProbes(w, snap)
	if s.store != nil {
		writeEvents(w, s.store.Snapshot())
	}
}

func writeEngine(w *bufio.Writer, snap monitor.Snapshot) {
	for _, st := range []monitor.State{monitor.Stopped, monitor.Running, monitor.Paused} {
		fmt.Fprintf(w, "conwatch_state{state=%q} %d\n", st.String(), boolInt(snap.State == st))
	}
	fmt.Fprintf(w, "conwatch_online %d\n", boolInt(snap.Online))
	fmt.Fprintf(w, "conwatch_consecutive_failures %d\n", snap.ConsecutiveFailures)
	fmt.Fprintf(w, "conwatch_listeners %d\n", snap.Listeners)
	fmt.Fprintf(w, "conwatch_fallback_in_use %d\n", boolInt(snap.FallbackInUse))
}

func writeTargets(w *bufio.Writer, targets []rotation.Target, upcoming int) {
	fmt.Fprintf(w, "conwatch_targets %d\n", len(targets))
	for i, target := range targets {
		labels := `url="` + escapeLabel(target.URL) + `"`
		fmt.Fprintf(w, "conwatch_target_consecutive_timeouts{%s} %d\n", labels, target.ConsecutiveTimeouts)
		fmt.Fprintf(w, "conwatch_target_upcoming{%s} %d\n", labels, boolInt(i == upcoming))
	}
}

func writeProbes(w *bufio.Writer, snap monitor.Snapshot) {
	for _, kind := range sortedKeys(snap.ProbeCounts) {
		fmt.Fprintf(w, "conwatch_probes_total{kind=%q} %d\n", kind, snap.ProbeCounts[kind])
	}
	fmt.Fprintf(w, "conwatch_targets_removed_total %d\n", snap.Removed)
	if snap.LastProbe.Latency > 0 {
		fmt.Fprintf(w, "conwatch_last_probe_latency_ms %d\n", snap.LastProbe.Latency.Milliseconds())
	}
}

func writeEvents(w *bufio.Writer, c state.Connectivity) {
	for _, evt := range sortedKeys(c.EventCounts) {
		fmt.Fprintf(w, "conwatch_events_total{event=%q} %d\n", evt, c.EventCounts[evt])
	}
	fmt.Fprintf(w, "conwatch_connectivity_transitions_total %d\n", c.Transitions)
	fmt.Fprintf(w, "conwatch_online_seconds_total %.3f\n", c.OnlineDuration.Seconds())
	fmt.Fprintf(w, "conwatch_offline_seconds_total %.3f\n", c.OfflineDuration.Seconds())
}

type healthzResponse struct {
	OK     bool   `json:"ok"`
	State  string `json:"state"`
	Uptime string `json:"uptime"`
}

// handleHealthz answers 503 once the engine has stopped.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	st := s.engine.Snapshot().State
	resp := healthzResponse{
		OK:     st != monitor.Stopped,
		State:  st.String(),
		Uptime: time.Since(s.started).Truncate(time.Second).String(),
	}
	code := http.StatusOK
	if !resp.OK {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

type targetStatus struct {
	URL                 string `json:"url"`
	ConsecutiveTimeouts int    `json:"consecutive_timeouts"`
	Upcoming            bool   `json:"upcoming"`
}

type probeStatus struct {
	URL       string `json:"url,omitempty"`
	Kind      string `json:"kind,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
	At        string `json:"at,omitempty"`
}

type eventRecord struct {
	Event  string `json:"event"`
	Status string `json:"status"`
	At     string `json:"at"`
}

type statusResponse struct {
	State               string            `json:"state"`
	Online              bool              `json:"online"`
	ConsecutiveFailures int               `json:"consecutive_failures"`
	Listeners           int               `json:"listeners"`
	FallbackInUse       bool              `json:"fallback_in_use"`
	Targets             []targetStatus    `json:"targets"`
	Removed             uint64            `json:"removed"`
	ProbeCounts         map[string]uint64 `json:"probe_counts"`
	LastProbe           probeStatus       `json:"last_probe"`
	Belief              string            `json:"belief,omitempty"`
	EventCounts         map[string]uint64 `json:"event_counts,omitempty"`
	Recent              []eventRecord     `json:"recent,omitempty"`
}

const recentEvents = 20

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) status() statusResponse {
	snap := s.engine.Snapshot()
	resp := statusResponse{
		State:               snap.State.String(),
		Online:              snap.Online,
		ConsecutiveFailures: snap.ConsecutiveFailures,
		Listeners:           snap.Listeners,
		FallbackInUse:       snap.FallbackInUse,
		Targets:             make([]targetStatus, 0, len(snap.Targets)),
		Removed:             snap.Removed,
		ProbeCounts:         snap.ProbeCounts,
		LastProbe: probeStatus{
			URL:       snap.LastProbe.URL,
			LatencyMS: snap.LastProbe.Latency.Milliseconds(),
			Error:     snap.LastProbe.Err,
		},
	}
	for i, target := range snap.Targets {
		resp.Targets = append(resp.Targets, targetStatus{
			URL:                 target.URL,
			ConsecutiveTimeouts: target.ConsecutiveTimeouts,
			Upcoming:            i == snap.Upcoming,
		})
	}
	if !snap.LastProbe.At.IsZero() {
		resp.LastProbe.Kind = snap.LastProbe.Kind.String()
		resp.LastProbe.At = snap.LastProbe.At.Format(time.RFC3339)
	}

	if s.store != nil {
		c := s.store.Snapshot()
		resp.Belief = string(c.Belief)
		resp.EventCounts = c.EventCounts
		for _, rec := range s.store.Recent(recentEvents) {
			resp.Recent = append(resp.Recent, eventRecord{
				Event:  rec.Event.String(),
				Status: rec.Status.String(),
				At:     rec.At.Format(time.RFC3339),
			})
		}
	}
	return resp
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// accessLog logs one debug line per request.
func accessLog(logger log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.Debug("http request",
				log.String("method", r.Method),
				log.String("path", r.URL.Path),
				log.Int("status", ww.Status()),
				log.Int("bytes", ww.BytesWritten()),
				log.Duration("duration", time.Since(start)),
			)
		})
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func sortedKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func escapeLabel(value string) string {
	value = strings.ReplaceAll(value, "\\", "\\\\")
	value = strings.ReplaceAll(value, "\"", "\\\"")
	return value
}

// Serve starts an HTTP server and blocks until context cancellation.
func Serve(ctx context.Context, addr string, engine EngineSource, store state.Store, logger log.Logger) error {
	srv := NewServer(engine, store, logger)
	server := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		srv.logger.Info("metrics server listening", log.String("addr", addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return context.Canceled
		}
		return err
	}
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/doridoridoriand/conwatch/internal/cli"
	"github.com/doridoridoriand/conwatch/internal/config"
	"github.com/doridoridoriand/conwatch/internal/log"
	"github.com/doridoridoriand/conwatch/internal/metrics"
	"github.com/doridoridoriand/conwatch/internal/monitor"
	"github.com/doridoridoriand/conwatch/internal/notify"
	"github.com/doridoridoriand/conwatch/internal/probe"
	"github.com/doridoridoriand/conwatch/internal/state"
	"github.com/doridoridoriand/conwatch/internal/ui"
)

const version = "0.1.0"

func main() {
	var (
		flagMaxListeners   cli.OptionalInt
		flagMode           cli.OptionalMode
		flagWaitOnFailure  cli.OptionalBool
		flagConnectTimeout cli.OptionalDuration
		flagMetricsListen  cli.OptionalString
		flagNoUI           cli.OptionalBool
		flagLogLevel       cli.OptionalString
		flagDuration       cli.OptionalDuration
		flagVersion        bool
		flagVersionShort   bool
	)

	flag.Var(&flagMaxListeners, "max-listeners", "maximum number of registered listeners (override config)")
	flag.Var(&flagMode, "mode", "notification mode: serial|parallel|dedicated")
	flag.Var(&flagWaitOnFailure, "wait-on-failure", "sleep the first failure interval instead of retrying quickly")
	flag.Var(&flagConnectTimeout, "connect-timeout", "probe connect timeout (override config)")
	flag.Var(&flagMetricsListen, "metrics-listen", "metrics listen address (e.g. :9100)")
	flag.Var(&flagNoUI, "no-ui", "disable TUI (log only)")
	flag.Var(&flagLogLevel, "log-level", "log level: debug|info|warn|error")
	flag.Var(&flagDuration, "duration", "stop after this long (default: run until interrupted)")
	flag.BoolVar(&flagVersion, "version", false, "show version")
	flag.BoolVar(&flagVersionShort, "v", false, "show version")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [options] [config-file]\n\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "Options:")
		flag.PrintDefaults()
	}

	flag.Parse()

	if flagVersion || flagVersionShort {
		fmt.Fprintf(os.Stdout, "conwatch version %s\n", version)
		return
	}

	args := flag.Args()
	if len(args) > 1 {
		flag.Usage()
		os.Exit(1)
	}
	configPath := ""
	if len(args) == 1 {
		configPath = args[0]
	}

	overrides := buildOverrides(flagMaxListeners, flagMode, flagWaitOnFailure, flagConnectTimeout, flagMetricsListen, flagNoUI, flagLogLevel)

	// The TUI owns the terminal, so log output is only enabled without it.
	bootLogger := log.New("info", true)
	cfg := loadConfig(configPath, overrides, bootLogger)
	logger := log.NewNop()
	if cfg.Monitor.UIDisable {
		logger = log.New(cfg.Monitor.LogLevel, true)
	}

	a, err := newApp(cfg, probe.NewDefault(probe.Options{
		ConnectTimeout: cfg.Monitor.ConnectTimeout,
		UserAgent:      cfg.Monitor.UserAgent,
	}), logger)
	if err != nil {
		bootLogger.Error("failed to start monitor", log.Error(err))
		os.Exit(1)
	}

	ctx, cancel := signalContext()
	defer cancel()

	duration, _ := flagDuration.Value()
	runErr := a.run(ctx, duration)
	a.shutdown()
	if runErr != nil {
		bootLogger.Error("conwatch exited with error", log.Error(runErr))
		_ = bootLogger.Sync()
		os.Exit(1)
	}
}

func buildOverrides(
	maxListeners cli.OptionalInt,
	mode cli.OptionalMode,
	waitOnFailure cli.OptionalBool,
	connectTimeout cli.OptionalDuration,
	metricsListen cli.OptionalString,
	noUI cli.OptionalBool,
	logLevel cli.OptionalString,
) config.CLIOverrides {
	overrides := config.CLIOverrides{}

	if v, ok := maxListeners.Value(); ok {
		value := v
		overrides.MaxListeners = &value
	}
	if v, ok := mode.Value(); ok {
		value := v
		overrides.NotificationMode = &value
	}
	if v, ok := waitOnFailure.Value(); ok {
		value := v
		overrides.WaitOnFailure = &value
	}
	if v, ok := connectTimeout.Value(); ok {
		value := v
		overrides.ConnectTimeout = &value
	}
	if v, ok := metricsListen.Value(); ok && v != "" {
		value := v
		overrides.MetricsListen = &value
	}
	if v, ok := noUI.Value(); ok {
		value := v
		overrides.UIDisable = &value
	}
	if v, ok := logLevel.Value(); ok && v != "" {
		value := v
		overrides.LogLevel = &value
	}

	return overrides
}

// loadConfig never fails: a broken file is logged and the built-in
// configuration is used instead.
func loadConfig(path string, overrides config.CLIOverrides, logger log.Logger) *config.Config {
	cfg, err := config.Load(path, overrides)
	if err != nil {
		log.LogConfigLoad(logger, false, path, err)
		return config.Default(overrides)
	}
	if path != "" {
		log.LogConfigLoad(logger, true, path, nil)
	}
	return cfg
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// app wires the engine to its listeners and status surfaces.
type app struct {
	cfg      *config.Config
	engine   *monitor.Engine
	registry *notify.Registry
	pool     *notify.Pool
	store    *state.StoreImpl
	logger   log.Logger
}

func newApp(cfg *config.Config, prober probe.Prober, logger log.Logger) (*app, error) {
	opts := cfg.Monitor
	var pool *notify.Pool
	if opts.NotificationMode == notify.ModeParallel {
		pool = notify.NewPool(opts.PoolSize, notify.DefaultQueueSize, logger)
	}
	registry := notify.NewRegistry(opts.MaxListeners, opts.NotificationMode, pool, logger)

	engine, err := monitor.New(monitor.Config{
		Targets:  cfg.Targets,
		Fallback: config.BuiltinTargets(),
		Policy:   opts.Policy(),
	}, prober, registry, logger)
	if err != nil {
		registry.Close()
		if pool != nil {
			pool.Shutdown(notify.DefaultShutdownAwait)
		}
		return nil, err
	}

	return &app{
		cfg:      cfg,
		engine:   engine,
		registry: registry,
		pool:     registry.Pool(),
		store:    state.NewStore(),
		logger:   logger,
	}, nil
}

// run starts the engine and blocks until ctx ends, duration elapses, the
// user quits the UI, or the engine stops on its own.
func (a *app) run(ctx context.Context, duration time.Duration) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := a.engine.AddListener(a.store); err != nil {
		return fmt.Errorf("register state store: %w", err)
	}
	a.logger.Info("monitor started",
		log.Int("targets", len(a.cfg.Targets)),
		log.String("mode", string(a.registry.Mode())),
	)

	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		var timeout <-chan time.Time
		if duration > 0 {
			timer := time.NewTimer(duration)
			defer timer.Stop()
			timeout = timer.C
		}
		select {
		case <-gctx.Done():
		case <-timeout:
			a.logger.Info("duration elapsed", log.Duration("duration", duration))
		case <-a.engine.Done():
			a.logger.Warn("monitor stopped on its own")
		}
		cancel()
		return nil
	})

	if listen := a.cfg.Monitor.MetricsListen; listen != "" {
		g.Go(func() error {
			err := metrics.Serve(gctx, listen, a.engine, a.store, a.logger)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			log.LogError(a.logger, "metrics", err, log.String("addr", listen))
			return err
		})
	}

	if !a.cfg.Monitor.UIDisable {
		g.Go(func() error {
			err := ui.New(a.cfg.Monitor, a.engine, a.store).Run(gctx)
			cancel()
			if errors.Is(err, context.Canceled) {
				return nil
			}
			log.LogError(a.logger, "ui", err)
			return err
		})
	}

	return g.Wait()
}

// shutdown stops the engine and releases notification resources.
func (a *app) shutdown() {
	if !a.engine.Stop() {
		a.logger.Warn("monitor loop did not terminate in time")
	}
	a.registry.Close()
	if a.pool != nil {
		a.pool.Shutdown(notify.DefaultShutdownAwait)
	}
	_ = a.logger.Sync()
}

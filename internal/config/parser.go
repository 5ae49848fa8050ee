package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/doridoridoriand/conwatch/internal/notify"
	"github.com/doridoridoriand/conwatch/internal/probe"
)

const directivePrefix = "conwatch:"

// ConwatchParser implements the Parser interface.
type ConwatchParser struct{}

// DefaultMonitorOptions returns baseline settings used before config overrides.
func DefaultMonitorOptions() MonitorOptions {
	return MonitorOptions{
		MaxListeners:     notify.DefaultMaxListeners,
		FailureLevel1:    3,
		FailureLevel2:    13,
		SuccessSleep:     3 * time.Second,
		FailureSleep1:    1 * time.Second,
		FailureSleep2:    5 * time.Second,
		FailureSleep3:    10 * time.Second,
		WaitOnFailure:    true,
		NotificationMode: notify.ModeParallel,
		ConnectTimeout:   probe.DefaultConnectTimeout,
		UserAgent:        probe.DefaultUserAgent,
		PoolSize:         notify.DefaultPoolSize,
		MetricsListen:    "",
		UIDisable:        false,
		LogLevel:         "info",
	}
}

// BuiltinTargets is the well-known list used when nothing else is configured.
func BuiltinTargets() []string {
	return []string{
		"http://www.google.com.br",
		"https://registro.br",
		"http://www.facebook.com.br",
		"http://www.ibm.com.br",
		"https://www.itau.com.br",
		"http://www.receita.fazenda.gov.br",
		"https://www.bradesco.com.br",
	}
}

// Default returns the built-in configuration with overrides applied.
func Default(overrides CLIOverrides) *Config {
	cfg := &Config{Targets: BuiltinTargets(), Monitor: DefaultMonitorOptions()}
	applyCLIOverrides(&cfg.Monitor, overrides)
	return cfg
}

// Load reads path with the parser matching its extension. An empty path
// yields the built-in configuration.
func Load(path string, overrides CLIOverrides) (*Config, error) {
	if path == "" {
		return Default(overrides), nil
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return YAMLParser{}.LoadConfig(path, overrides)
	default:
		return ConwatchParser{}.LoadConfig(path, overrides)
	}
}

// LoadConfig parses a conwatch.conf file with CLI overrides applied. A file
// without URL lines yields an empty target list.
func (p ConwatchParser) LoadConfig(path string, overrides CLIOverrides) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	cfg := &Config{Targets: []string{}, Monitor: DefaultMonitorOptions()}

	scanner := bufio.NewScanner(file)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "#") {
			if strings.HasPrefix(line, "# "+directivePrefix) || strings.HasPrefix(line, "#"+directivePrefix) {
				if err := p.applyDirectiveLine(cfg, line); err != nil {
					return nil, fmt.Errorf("line %d: %w", lineNo, err)
				}
			}
			continue
		}

		if strings.HasPrefix(line, directivePrefix) {
			if err := p.applyDirectiveLine(cfg, line); err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			continue
		}

		target, err := p.ParseTargetLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		cfg.Targets = append(cfg.Targets, target)
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	applyCLIOverrides(&cfg.Monitor, overrides)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (p ConwatchParser) applyDirectiveLine(cfg *Config, line string) error {
	pairs, err := p.ParseConwatchDirective(line)
	if err != nil {
		return err
	}
	return applyDirective(&cfg.Monitor, pairs)
}

// ParseConwatchDirective extracts key=value pairs from a directive line.
func (p ConwatchParser) ParseConwatchDirective(line string) (map[string]string, error) {
	trimmed := strings.TrimSpace(line)
	if strings.HasPrefix(trimmed, "#") {
		trimmed = strings.TrimSpace(strings.TrimPrefix(trimmed, "#"))
	}
	if !strings.HasPrefix(trimmed, directivePrefix) {
		return nil, fmt.Errorf("directive line must start with '# conwatch:' or 'conwatch:': %q", line)
	}
	payload := strings.TrimSpace(strings.TrimPrefix(trimmed, directivePrefix))
	if payload == "" {
		return map[string]string{}, nil
	}

	pairs := make(map[string]string)
	for _, token := range strings.Fields(payload) {
		kv := strings.SplitN(token, "=", 2)
		if len(kv) != 2 || kv[0] == "" {
			return nil, fmt.Errorf("invalid directive token: %q", token)
		}
		pairs[kv[0]] = kv[1]
	}
	return pairs, nil
}

// ParseTargetLine parses a single URL line. Whether the URL can actually be
// probed is decided at run time.
func (p ConwatchParser) ParseTargetLine(line string) (string, error) {
	fields := strings.Fields(line)
	if len(fields) != 1 {
		return "", fmt.Errorf("invalid target line, expected one URL: %q", line)
	}
	return fields[0], nil
}

// YAMLParser reads the same settings from a YAML document.
type YAMLParser struct{}

// LoadConfig decodes path over the defaults. Keys that are absent keep
// their default value; an absent targets key yields an empty list.
func (YAMLParser) LoadConfig(path string, overrides CLIOverrides) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{Targets: []string{}, Monitor: DefaultMonitorOptions()}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if cfg.Targets == nil {
		cfg.Targets = []string{}
	}
	mode, err := notify.ParseMode(string(cfg.Monitor.NotificationMode))
	if err != nil {
		return nil, err
	}
	cfg.Monitor.NotificationMode = mode
	cfg.Monitor.MetricsListen = normalizeListen(cfg.Monitor.MetricsListen)

	applyCLIOverrides(&cfg.Monitor, overrides)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var ErrInvalidConfig = errors.New("invalid configuration")

// Validate checks the options the engine depends on.
func (c *Config) Validate() error {
	if c.Monitor.MaxListeners < 1 {
		return fmt.Errorf("%w: max_listeners must be at least 1, got %d", ErrInvalidConfig, c.Monitor.MaxListeners)
	}
	if c.Monitor.PoolSize < 1 {
		return fmt.Errorf("%w: pool.size must be at least 1, got %d", ErrInvalidConfig, c.Monitor.PoolSize)
	}
	if c.Monitor.ConnectTimeout <= 0 {
		return fmt.Errorf("%w: connect_timeout must be positive", ErrInvalidConfig)
	}
	if err := c.Monitor.Policy().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

func applyDirective(opts *MonitorOptions, pairs map[string]string) error {
	for key, val := range pairs {
		switch key {
		case "max_listeners":
			n, err := strconv.Atoi(val)
			if err != nil {
				return fmt.Errorf("invalid max_listeners: %w", err)
			}
			opts.MaxListeners = n
		case "failure.level1":
			n, err := strconv.Atoi(val)
			if err != nil {
				return fmt.Errorf("invalid failure.level1: %w", err)
			}
			opts.FailureLevel1 = n
		case "failure.level2":
			n, err := strconv.Atoi(val)
			if err != nil {
				return fmt.Errorf("invalid failure.level2: %w", err)
			}
			opts.FailureLevel2 = n
		case "sleep.success", "sleep.failure1", "sleep.failure2", "sleep.failure3", "connect_timeout":
			d, err := time.ParseDuration(val)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", key, err)
			}
			switch key {
			case "sleep.success":
				opts.SuccessSleep = d
			case "sleep.failure1":
				opts.FailureSleep1 = d
			case "sleep.failure2":
				opts.FailureSleep2 = d
			case "sleep.failure3":
				opts.FailureSleep3 = d
			default:
				opts.ConnectTimeout = d
			}
		case "wait_on_failure":
			b, err := strconv.ParseBool(val)
			if err != nil {
				return fmt.Errorf("invalid wait_on_failure: %w", err)
			}
			opts.WaitOnFailure = b
		case "notify.mode":
			mode, err := notify.ParseMode(val)
			if err != nil {
				return err
			}
			opts.NotificationMode = mode
		case "pool.size":
			n, err := strconv.Atoi(val)
			if err != nil {
				return fmt.Errorf("invalid pool.size: %w", err)
			}
			opts.PoolSize = n
		case "user_agent":
			opts.UserAgent = val
		case "metrics.listen":
			opts.MetricsListen = normalizeListen(val)
		case "ui.disable":
			b, err := strconv.ParseBool(val)
			if err != nil {
				return fmt.Errorf("invalid ui.disable: %w", err)
			}
			opts.UIDisable = b
		case "log.level":
			opts.LogLevel = val
		default:
			// Ignore unknown keys for forward compatibility.
		}
	}
	return nil
}

func applyCLIOverrides(opts *MonitorOptions, overrides CLIOverrides) {
	if overrides.MaxListeners != nil {
		opts.MaxListeners = *overrides.MaxListeners
	}
	if overrides.NotificationMode != nil {
		opts.NotificationMode = *overrides.NotificationMode
	}
	if overrides.WaitOnFailure != nil {
		opts.WaitOnFailure = *overrides.WaitOnFailure
	}
	if overrides.ConnectTimeout != nil {
		opts.ConnectTimeout = *overrides.ConnectTimeout
	}
	if overrides.MetricsListen != nil {
		opts.MetricsListen = normalizeListen(*overrides.MetricsListen)
	}
	if overrides.UIDisable != nil {
		opts.UIDisable = *overrides.UIDisable
	}
	if overrides.LogLevel != nil {
		opts.LogLevel = *overrides.LogLevel
	}
}

func normalizeListen(val string) string {
	if isDigits(val) {
		return ":" + val
	}
	return val
}

func isDigits(value string) bool {
	if value == "" {
		return false
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

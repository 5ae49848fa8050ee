package config

import (
	"time"

	"github.com/doridoridoriand/conwatch/internal/backoff"
	"github.com/doridoridoriand/conwatch/internal/notify"
)

// MonitorOptions holds engine and surface settings parsed from config and
// CLI overrides.
type MonitorOptions struct {
	MaxListeners     int           `yaml:"max_listeners"`
	FailureLevel1    int           `yaml:"failure_level1"`
	FailureLevel2    int           `yaml:"failure_level2"`
	SuccessSleep     time.Duration `yaml:"success_sleep"`
	FailureSleep1    time.Duration `yaml:"failure_sleep1"`
	FailureSleep2    time.Duration `yaml:"failure_sleep2"`
	FailureSleep3    time.Duration `yaml:"failure_sleep3"`
	WaitOnFailure    bool          `yaml:"wait_on_failure"`
	NotificationMode notify.Mode   `yaml:"notification_mode"`
	ConnectTimeout   time.Duration `yaml:"connect_timeout"`
	UserAgent        string        `yaml:"user_agent"`
	PoolSize         int           `yaml:"pool_size"`
	MetricsListen    string        `yaml:"metrics_listen"`
	UIDisable        bool          `yaml:"ui_disable"`
	LogLevel         string        `yaml:"log_level"`
}

// Policy derives the backoff policy from the options.
func (o MonitorOptions) Policy() backoff.Policy {
	return backoff.Policy{
		Level1:        o.FailureLevel1,
		Level2:        o.FailureLevel2,
		Success:       o.SuccessSleep,
		Failure1:      o.FailureSleep1,
		Failure2:      o.FailureSleep2,
		Failure3:      o.FailureSleep3,
		WaitOnFailure: o.WaitOnFailure,
	}
}

// Config is the parsed configuration.
type Config struct {
	Targets []string       `yaml:"targets"`
	Monitor MonitorOptions `yaml:"monitor"`
}

// CLIOverrides holds optional CLI values that override config file values.
type CLIOverrides struct {
	MaxListeners     *int
	NotificationMode *notify.Mode
	WaitOnFailure    *bool
	ConnectTimeout   *time.Duration
	MetricsListen    *string
	UIDisable        *bool
	LogLevel         *string
}

// Parser defines config parsing behavior.
type Parser interface {
	LoadConfig(path string, overrides CLIOverrides) (*Config, error)
	ParseConwatchDirective(line string) (map[string]string, error)
	ParseTargetLine(line string) (string, error)
}

// Package config centralises runtime configuration for the engine.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/quantarc/engine/errs"
)

// Mode selects how the engine sources time and market data.
type Mode string

const (
	// ModeBacktest replays historical data against a virtual clock.
	ModeBacktest Mode = "backtest"
	// ModeLive consumes push subscriptions against the wall clock.
	ModeLive Mode = "live"
)

// Queues sizes the bounded queues between the engine's threads.
type Queues struct {
	// SliceBuffer is the feed-to-engine slice queue depth.
	SliceBuffer int `yaml:"sliceBuffer"`
	// SubscriptionBuffer is the per-subscription data point queue depth.
	SubscriptionBuffer int `yaml:"subscriptionBuffer"`
	// TransactionBuffer is the order request queue depth.
	TransactionBuffer int `yaml:"transactionBuffer"`
	// ResultBuffer is the result channel packet queue depth.
	ResultBuffer int `yaml:"resultBuffer"`
}

// Timeouts bounds the engine's blocking operations.
type Timeouts struct {
	// Setup bounds algorithm initialization.
	Setup time.Duration `yaml:"setup"`
	// BacktestCallback bounds a single algorithm callback in backtest mode.
	BacktestCallback time.Duration `yaml:"backtestCallback"`
	// LiveCallback bounds a single algorithm callback in live mode.
	LiveCallback time.Duration `yaml:"liveCallback"`
	// LiveStep bounds one slice processing step in live mode.
	LiveStep time.Duration `yaml:"liveStep"`
	// MaxRuntime bounds the whole run.
	MaxRuntime time.Duration `yaml:"maxRuntime"`
}

// Limits holds failure thresholds and rate caps.
type Limits struct {
	// NotificationsPerHour caps debug/error packets on the result channel.
	NotificationsPerHour int `yaml:"notificationsPerHour"`
	// SubscriptionFailures deactivates a subscription after this many consecutive read errors.
	SubscriptionFailures int `yaml:"subscriptionFailures"`
	// ScheduledEventFailures aborts the algorithm after this many consecutive failures of one event.
	ScheduledEventFailures int `yaml:"scheduledEventFailures"`
	// MaxHistoryMinutes caps history requests served from the data folder.
	MaxHistoryMinutes int `yaml:"maxHistoryMinutes"`
}

// JournalSettings configures the optional order journal.
type JournalSettings struct {
	// DSN is the Postgres connection string; empty disables journaling.
	DSN string `yaml:"dsn"`
}

// TelemetrySettings configures metric export.
type TelemetrySettings struct {
	// OTLPEndpoint is the OTLP/HTTP collector endpoint; empty disables export.
	OTLPEndpoint string `yaml:"otlpEndpoint"`
	// ServiceName overrides the reported service name.
	ServiceName string `yaml:"serviceName"`
}

// Settings contains the engine configuration tree loaded from defaults,
// an optional YAML file, and environment overrides.
type Settings struct {
	Mode Mode `yaml:"mode"`
	// DataDirectory roots the on-disk market data tree.
	DataDirectory string `yaml:"dataDirectory"`
	// AlgorithmID identifies the deployment in result packets.
	AlgorithmID string `yaml:"algorithmId"`
	// ProjectID identifies the owning project in result packets.
	ProjectID int `yaml:"projectId"`

	Queues    Queues            `yaml:"queues"`
	Timeouts  Timeouts          `yaml:"timeouts"`
	Limits    Limits            `yaml:"limits"`
	Journal   JournalSettings   `yaml:"journal"`
	Telemetry TelemetrySettings `yaml:"telemetry"`

	// ResultDropPolicy selects the behaviour when the result channel is full:
	// "drop" (warn and discard) or "block".
	ResultDropPolicy string `yaml:"resultDropPolicy"`
}

// Default returns the engine's default configuration.
func Default() Settings {
	return Settings{
		Mode:          ModeBacktest,
		DataDirectory: "data",
		Queues: Queues{
			SliceBuffer:        64,
			SubscriptionBuffer: 256,
			TransactionBuffer:  128,
			ResultBuffer:       512,
		},
		Timeouts: Timeouts{
			Setup:            5 * time.Minute,
			BacktestCallback: 5 * time.Minute,
			LiveCallback:     10 * time.Second,
			LiveStep:         10 * time.Second,
			MaxRuntime:       12 * time.Hour,
		},
		Limits: Limits{
			NotificationsPerHour:   30,
			SubscriptionFailures:   3,
			ScheduledEventFailures: 3,
			MaxHistoryMinutes:      0,
		},
		ResultDropPolicy: "drop",
	}
}

// Load reads the YAML file at path (when non-empty), layers environment
// overrides on top of the defaults, and validates the result.
func Load(path string) (Settings, error) {
	cfg := Default()

	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path) // #nosec G304 -- path is operator provided.
		if err != nil {
			return Settings{}, errs.New("config", errs.CodeConfiguration,
				errs.WithMessage(fmt.Sprintf("read config file %s", path)), errs.WithCause(err))
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Settings{}, errs.New("config", errs.CodeConfiguration,
				errs.WithMessage("parse config file"), errs.WithCause(err))
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Settings{}, err
	}
	return cfg, nil
}

func (s *Settings) applyEnv() {
	if v := strings.TrimSpace(os.Getenv("QUANTARC_MODE")); v != "" {
		s.Mode = Mode(strings.ToLower(v))
	}
	if v := strings.TrimSpace(os.Getenv("QUANTARC_DATA_DIRECTORY")); v != "" {
		s.DataDirectory = v
	}
	if v := strings.TrimSpace(os.Getenv("QUANTARC_JOURNAL_DSN")); v != "" {
		s.Journal.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("QUANTARC_OTLP_ENDPOINT")); v != "" {
		s.Telemetry.OTLPEndpoint = v
	}
	if v := strings.TrimSpace(os.Getenv("QUANTARC_MAX_RUNTIME")); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			s.Timeouts.MaxRuntime = d
		}
	}
	if v := strings.TrimSpace(os.Getenv("QUANTARC_NOTIFICATIONS_PER_HOUR")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			s.Limits.NotificationsPerHour = n
		}
	}
}

// Validate checks the settings for values the engine cannot start with.
func (s Settings) Validate() error {
	switch s.Mode {
	case ModeBacktest, ModeLive:
	default:
		return errs.New("config", errs.CodeConfiguration,
			errs.WithMessage(fmt.Sprintf("unknown mode %q", s.Mode)))
	}
	if strings.TrimSpace(s.DataDirectory) == "" {
		return errs.New("config", errs.CodeConfiguration,
			errs.WithMessage("data-directory is required"))
	}
	for name, v := range map[string]int{
		"queues.sliceBuffer":        s.Queues.SliceBuffer,
		"queues.subscriptionBuffer": s.Queues.SubscriptionBuffer,
		"queues.transactionBuffer":  s.Queues.TransactionBuffer,
		"queues.resultBuffer":       s.Queues.ResultBuffer,
	} {
		if v <= 0 {
			return errs.New("config", errs.CodeConfiguration,
				errs.WithMessage(name+" must be > 0"))
		}
	}
	if s.Limits.NotificationsPerHour <= 0 {
		return errs.New("config", errs.CodeConfiguration,
			errs.WithMessage("limits.notificationsPerHour must be > 0"))
	}
	if s.Limits.SubscriptionFailures <= 0 {
		return errs.New("config", errs.CodeConfiguration,
			errs.WithMessage("limits.subscriptionFailures must be > 0"))
	}
	if s.Timeouts.MaxRuntime <= 0 {
		return errs.New("config", errs.CodeConfiguration,
			errs.WithMessage("timeouts.maxRuntime must be > 0"))
	}
	switch s.ResultDropPolicy {
	case "drop", "block":
	default:
		return errs.New("config", errs.CodeConfiguration,
			errs.WithMessage(fmt.Sprintf("unknown resultDropPolicy %q", s.ResultDropPolicy)))
	}
	return nil
}

// CallbackTimeout returns the per-callback bound for the configured mode.
func (s Settings) CallbackTimeout() time.Duration {
	if s.Mode == ModeLive {
		return s.Timeouts.LiveCallback
	}
	return s.Timeouts.BacktestCallback
}

package monitor

import (
	"errors"
	"time"
)

// Default registry settings.
const (
	// DefaultUpdateInterval is how often the background loop re-publishes
	// snapshots of active operations.
	DefaultUpdateInterval = 500 * time.Millisecond

	// DefaultRemovalDelay is how long a terminal operation stays visible.
	DefaultRemovalDelay = 5 * time.Second

	// DefaultHistorySize is the number of completed durations kept per type.
	DefaultHistorySize = 10

	// DefaultWaitPollInterval is how often WaitForOperation re-checks status.
	DefaultWaitPollInterval = 100 * time.Millisecond

	// DefaultSinkQueueSize bounds the undelivered updates held per sink.
	DefaultSinkQueueSize = 1024

	// DefaultShutdownWait bounds how long Shutdown waits for sinks to drain.
	DefaultShutdownWait = 2 * time.Second
)

// Errors returned by the Registry.
var (
	ErrOperationExists   = errors.New("operation already active")
	ErrOperationNotFound = errors.New("operation not found")
	ErrWaitTimeout       = errors.New("timed out waiting for operation")
	ErrRegistryClosed    = errors.New("registry is shut down")
)

// Config holds registry tuning. Zero values fall back to defaults.
type Config struct {
	UpdateInterval   time.Duration
	RemovalDelay     time.Duration
	HistorySize      int
	WaitPollInterval time.Duration
	SinkQueueSize    int
	ShutdownWait     time.Duration

	// DurationEstimates overrides DefaultDurationEstimates when non-nil.
	DurationEstimates map[string]float64
}

// DefaultConfig returns a Config with default values.
// This is a pure function with no side effects.
func DefaultConfig() Config {
	return Config{
		UpdateInterval:    DefaultUpdateInterval,
		RemovalDelay:      DefaultRemovalDelay,
		HistorySize:       DefaultHistorySize,
		WaitPollInterval:  DefaultWaitPollInterval,
		SinkQueueSize:     DefaultSinkQueueSize,
		ShutdownWait:      DefaultShutdownWait,
		DurationEstimates: DefaultDurationEstimates,
	}
}

// applyDefaults fills in zero values with defaults.
// This is a pure function with no side effects.
func applyDefaults(cfg Config) Config {
	def := DefaultConfig()
	if cfg.UpdateInterval <= 0 {
		cfg.UpdateInterval = def.UpdateInterval
	}
	if cfg.RemovalDelay <= 0 {
		cfg.RemovalDelay = def.RemovalDelay
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = def.HistorySize
	}
	if cfg.WaitPollInterval <= 0 {
		cfg.WaitPollInterval = def.WaitPollInterval
	}
	if cfg.SinkQueueSize <= 0 {
		cfg.SinkQueueSize = def.SinkQueueSize
	}
	if cfg.ShutdownWait <= 0 {
		cfg.ShutdownWait = def.ShutdownWait
	}
	if cfg.DurationEstimates == nil {
		cfg.DurationEstimates = def.DurationEstimates
	}
	return cfg
}

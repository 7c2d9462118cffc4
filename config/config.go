// Package config provides the JSON runtime configuration for the foodtruck
// scaffold: tick rate, dependency-wait budget, buffer capacities,
// performance thresholds, and optional observability endpoints.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/aaronleebrooks/foodtruck/errors"
)

// Config holds the runtime configuration
type Config struct {
	// TickInterval is the scheduler tick period
	TickInterval Duration `json:"tick_interval"`

	// DependencyWaitBudget bounds how long a component may wait in
	// INITIALIZING for its dependencies (wall clock, not ticks)
	DependencyWaitBudget Duration `json:"dependency_wait_budget"`

	// EventHistoryCapacity bounds the bus history ring; 0 disables history
	EventHistoryCapacity int `json:"event_history_capacity"`

	// ErrorRingCapacity bounds each component's error history
	ErrorRingCapacity int `json:"error_ring_capacity"`

	// OperationWindowSize bounds per-operation rolling sample windows
	OperationWindowSize int `json:"operation_window_size"`

	// SlowOpThreshold is the single-operation latency budget
	SlowOpThreshold Duration `json:"slow_op_threshold"`

	// MemDeltaThresholdBytes is the per-operation heap growth threshold
	MemDeltaThresholdBytes uint64 `json:"mem_delta_threshold_bytes"`

	// Debug enables per-emission event tracing
	Debug bool `json:"debug"`

	// NATSURL, when set, enables diagnostic publication to NATS
	NATSURL string `json:"nats_url,omitempty"`

	// MetricsAddr, when set, serves Prometheus metrics on this address
	MetricsAddr string `json:"metrics_addr,omitempty"`
}

// Duration wraps time.Duration with JSON string encoding ("50ms", "10s")
type Duration time.Duration

// MarshalJSON implements json.Marshaler
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler, accepting either a duration
// string or nanoseconds as a number
func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value))
		return nil
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("parse duration %q: %w", value, err)
		}
		*d = Duration(parsed)
		return nil
	default:
		return fmt.Errorf("invalid duration value %v", v)
	}
}

// Default returns the configuration used when no file is supplied
func Default() Config {
	return Config{
		TickInterval:           Duration(50 * time.Millisecond),
		DependencyWaitBudget:   Duration(10 * time.Second),
		EventHistoryCapacity:   128,
		ErrorRingCapacity:      32,
		OperationWindowSize:    64,
		SlowOpThreshold:        Duration(16 * time.Millisecond),
		MemDeltaThresholdBytes: 10 << 20,
	}
}

// Load reads a JSON config file, overlaying it on the defaults
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.WrapInvalid(err, "Config", "Load", "read config file")
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.WrapInvalid(err, "Config", "Load", "parse config file")
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the configuration for impossible values
func (c Config) Validate() error {
	if c.TickInterval <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("tick_interval must be positive: %w", errors.ErrInvalidConfig),
			"Config", "Validate", "tick interval validation")
	}
	if c.DependencyWaitBudget <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("dependency_wait_budget must be positive: %w", errors.ErrInvalidConfig),
			"Config", "Validate", "wait budget validation")
	}
	if c.EventHistoryCapacity < 0 {
		return errors.WrapInvalid(
			fmt.Errorf("event_history_capacity cannot be negative: %w", errors.ErrInvalidConfig),
			"Config", "Validate", "history capacity validation")
	}
	if c.ErrorRingCapacity <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("error_ring_capacity must be positive: %w", errors.ErrInvalidConfig),
			"Config", "Validate", "error ring validation")
	}
	if c.OperationWindowSize <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("operation_window_size must be positive: %w", errors.ErrInvalidConfig),
			"Config", "Validate", "operation window validation")
	}
	if c.SlowOpThreshold <= 0 {
		return errors.WrapInvalid(
			fmt.Errorf("slow_op_threshold must be positive: %w", errors.ErrInvalidConfig),
			"Config", "Validate", "latency threshold validation")
	}
	return nil
}

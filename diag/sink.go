// Package diag provides the structured diagnostics sink the runtime
// reports into. Entries carry a code, a category, and a severity level;
// logging is fire-and-forget and never fails the caller.
//
// The sink writes every entry to a slog.Logger and keeps a bounded ring of
// recent entries for inspection. When a NATS connection is supplied,
// entries are additionally published as JSON on "foodtruck.diag.<component>"
// for live tooling; publishing is best-effort and disabled when no
// connection is configured.
package diag

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

// Level represents the severity of a diagnostic entry
type Level string

const (
	// LevelInfo represents informational entries
	LevelInfo Level = "INFO"
	// LevelWarning represents warning entries
	LevelWarning Level = "WARNING"
	// LevelError represents error entries
	LevelError Level = "ERROR"
)

// Categories used by the runtime packages
const (
	CategoryLifecycle   = "lifecycle"
	CategoryEvent       = "event"
	CategoryPerformance = "performance"
	CategoryConfig      = "config"
)

// Entry is a single structured diagnostic record
type Entry struct {
	Timestamp time.Time      `json:"timestamp"`
	Level     Level          `json:"level"`
	Code      string         `json:"code"`
	Category  string         `json:"category"`
	Component string         `json:"component"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
}

// core is the shared state behind every Sink view
type core struct {
	logger  *slog.Logger
	nc      *nats.Conn
	enabled bool // whether NATS publishing is enabled

	mu       sync.Mutex
	recent   []Entry
	capacity int
}

// Sink records diagnostic entries for one component. Sinks derived from the
// same New call share a single recent-entry ring and logger; For returns a
// cheap view scoped to a component and category.
type Sink struct {
	c         *core
	component string
	category  string
}

// Option configures a Sink
type Option func(*core)

// WithLogger sets the slog logger entries are written to
func WithLogger(logger *slog.Logger) Option {
	return func(c *core) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithNATS enables best-effort publication of entries to NATS
func WithNATS(nc *nats.Conn) Option {
	return func(c *core) {
		c.nc = nc
		c.enabled = nc != nil
	}
}

// WithCapacity sets the recent-entry ring capacity
func WithCapacity(n int) Option {
	return func(c *core) {
		if n > 0 {
			c.capacity = n
		}
	}
}

// DefaultCapacity is the recent-entry ring size used when none is configured
const DefaultCapacity = 256

// New creates a diagnostics sink scoped to the "runtime" component
func New(opts ...Option) *Sink {
	c := &core{
		logger:   slog.Default(),
		capacity: DefaultCapacity,
	}
	for _, opt := range opts {
		opt(c)
	}
	return &Sink{c: c, component: "runtime", category: CategoryLifecycle}
}

// For returns a view of the sink scoped to the given component and category
func (s *Sink) For(component, category string) *Sink {
	return &Sink{c: s.c, component: component, category: category}
}

// LogError records an error-level entry with optional details
func (s *Sink) LogError(code, message string, details map[string]any) {
	s.record(LevelError, code, message, details)
}

// LogWarning records a warning-level entry
func (s *Sink) LogWarning(code, message string) {
	s.record(LevelWarning, code, message, nil)
}

// LogInfo records an info-level entry
func (s *Sink) LogInfo(code, message string) {
	s.record(LevelInfo, code, message, nil)
}

// Recent returns up to n of the most recent entries, newest last.
// A non-positive n returns every retained entry.
func (s *Sink) Recent(n int) []Entry {
	s.c.mu.Lock()
	defer s.c.mu.Unlock()

	if n <= 0 || n > len(s.c.recent) {
		n = len(s.c.recent)
	}
	out := make([]Entry, n)
	copy(out, s.c.recent[len(s.c.recent)-n:])
	return out
}

func (s *Sink) record(level Level, code, message string, details map[string]any) {
	entry := Entry{
		Timestamp: time.Now(),
		Level:     level,
		Code:      code,
		Category:  s.category,
		Component: s.component,
		Message:   message,
		Details:   details,
	}

	s.c.mu.Lock()
	s.c.recent = append(s.c.recent, entry)
	if len(s.c.recent) > s.c.capacity {
		s.c.recent = s.c.recent[len(s.c.recent)-s.c.capacity:]
	}
	s.c.mu.Unlock()

	attrs := []any{
		"code", code,
		"category", s.category,
		"component", s.component,
	}
	if len(details) > 0 {
		attrs = append(attrs, "details", details)
	}

	ctx := context.Background()
	switch level {
	case LevelError:
		s.c.logger.ErrorContext(ctx, message, attrs...)
	case LevelWarning:
		s.c.logger.WarnContext(ctx, message, attrs...)
	default:
		s.c.logger.InfoContext(ctx, message, attrs...)
	}

	s.publish(entry)
}

// publish sends the entry to NATS when enabled. Failures are ignored:
// diagnostics must never fail the caller.
func (s *Sink) publish(entry Entry) {
	if !s.c.enabled {
		return
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	_ = s.c.nc.Publish("foodtruck.diag."+s.component, data)
}

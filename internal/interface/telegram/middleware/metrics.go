package middleware

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// METRICS MIDDLEWARE
// Counts command invocations, failures and latency. The bot logs a snapshot
// on shutdown.
// ══════════════════════════════════════════════════════════════════════════════

// MetricsConfig holds configuration for the metrics middleware.
type MetricsConfig struct {
	// SlowRequestThreshold defines what's considered a slow request.
	SlowRequestThreshold time.Duration

	// OnSlowRequest is called when a command exceeds the threshold.
	OnSlowRequest func(command string, duration time.Duration)
}

// DefaultMetricsConfig returns sensible defaults for metrics middleware.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{SlowRequestThreshold: 5 * time.Second}
}

// MetricsMiddleware collects per-command metrics.
type MetricsMiddleware struct {
	config MetricsConfig

	totalRequests  atomic.Int64
	totalErrors    atomic.Int64
	activeRequests atomic.Int64

	mu       sync.Mutex
	commands map[string]*commandMetrics
}

type commandMetrics struct {
	count         int64
	errors        int64
	totalDuration time.Duration
	maxDuration   time.Duration
}

// NewMetricsMiddleware creates a new metrics middleware.
func NewMetricsMiddleware(config MetricsConfig) *MetricsMiddleware {
	return &MetricsMiddleware{
		config:   config,
		commands: make(map[string]*commandMetrics),
	}
}

// RequestContext tracks one command invocation.
type RequestContext struct {
	Command   string
	StartTime time.Time

	m *MetricsMiddleware
}

// Start begins tracking a command.
func (m *MetricsMiddleware) Start(command string) *RequestContext {
	m.totalRequests.Add(1)
	m.activeRequests.Add(1)
	return &RequestContext{Command: command, StartTime: time.Now(), m: m}
}

// End completes tracking. err is the handler's error, if any.
func (rc *RequestContext) End(err error) {
	m := rc.m
	d := time.Since(rc.StartTime)
	m.activeRequests.Add(-1)
	if err != nil {
		m.totalErrors.Add(1)
	}

	m.mu.Lock()
	cm, ok := m.commands[rc.Command]
	if !ok {
		cm = &commandMetrics{}
		m.commands[rc.Command] = cm
	}
	cm.count++
	if err != nil {
		cm.errors++
	}
	cm.totalDuration += d
	cm.maxDuration = max(cm.maxDuration, d)
	m.mu.Unlock()

	if m.config.OnSlowRequest != nil && m.config.SlowRequestThreshold > 0 && d > m.config.SlowRequestThreshold {
		m.config.OnSlowRequest(rc.Command, d)
	}
}

// MetricsSnapshot is a point-in-time copy of the metrics.
type MetricsSnapshot struct {
	TotalRequests  int64
	TotalErrors    int64
	ActiveRequests int64
	Commands       []CommandSnapshot
}

// CommandSnapshot holds the metrics of one command.
type CommandSnapshot struct {
	Name        string
	Count       int64
	Errors      int64
	AvgDuration time.Duration
	MaxDuration time.Duration
}

// Snapshot returns the current metrics, busiest command first.
func (m *MetricsMiddleware) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		TotalRequests:  m.totalRequests.Load(),
		TotalErrors:    m.totalErrors.Load(),
		ActiveRequests: m.activeRequests.Load(),
	}

	m.mu.Lock()
	for name, cm := range m.commands {
		cs := CommandSnapshot{Name: name, Count: cm.count, Errors: cm.errors, MaxDuration: cm.maxDuration}
		if cm.count > 0 {
			cs.AvgDuration = cm.totalDuration / time.Duration(cm.count)
		}
		snap.Commands = append(snap.Commands, cs)
	}
	m.mu.Unlock()

	sort.Slice(snap.Commands, func(i, j int) bool {
		if snap.Commands[i].Count != snap.Commands[j].Count {
			return snap.Commands[i].Count > snap.Commands[j].Count
		}
		return snap.Commands[i].Name < snap.Commands[j].Name
	})
	return snap
}

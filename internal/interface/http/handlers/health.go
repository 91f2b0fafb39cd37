// Package handlers contains the health checks and middleware of the ops
// HTTP server.
package handlers

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// HealthChecker reports the state of the process and its dependencies.
type HealthChecker interface {
	Check(ctx context.Context) HealthStatus
}

// HealthCheckFunc checks one dependency.
type HealthCheckFunc func(ctx context.Context) error

// HealthStatus is the body of /health and /ready.
type HealthStatus struct {
	Healthy bool `json:"healthy"`

	// Ready is false while any check fails, including readiness-only ones
	// such as the bot not polling yet.
	Ready bool `json:"ready"`

	Message   string                 `json:"message,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Uptime    string                 `json:"uptime,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
}

// CheckResult is the outcome of one check.
type CheckResult struct {
	Healthy  bool   `json:"healthy"`
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration,omitempty"`
}

type check struct {
	name      string
	fn        HealthCheckFunc
	readiness bool
}

// CompositeHealthChecker runs its checks concurrently, each under its own
// timeout.
type CompositeHealthChecker struct {
	version string
	started time.Time
	timeout time.Duration

	mu     sync.RWMutex
	checks map[string]check
}

// NewCompositeHealthChecker creates a checker with a 5 second timeout per
// check.
func NewCompositeHealthChecker(version string) *CompositeHealthChecker {
	return &CompositeHealthChecker{
		version: version,
		started: time.Now(),
		timeout: 5 * time.Second,
		checks:  make(map[string]check),
	}
}

// SetTimeout changes the per-check timeout.
func (c *CompositeHealthChecker) SetTimeout(timeout time.Duration) {
	c.timeout = timeout
}

// AddCheck registers a check whose failure makes the process unhealthy.
func (c *CompositeHealthChecker) AddCheck(name string, fn HealthCheckFunc) {
	c.add(check{name: name, fn: fn})
}

// AddReadinessCheck registers a check whose failure only makes the process
// unready.
func (c *CompositeHealthChecker) AddReadinessCheck(name string, fn HealthCheckFunc) {
	c.add(check{name: name, fn: fn, readiness: true})
}

func (c *CompositeHealthChecker) add(ch check) {
	c.mu.Lock()
	c.checks[ch.name] = ch
	c.mu.Unlock()
}

func (c *CompositeHealthChecker) sorted() []check {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]check, 0, len(c.checks))
	for _, ch := range c.checks {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

func (c *CompositeHealthChecker) runCheck(ctx context.Context, ch check) CheckResult {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := ch.fn(ctx)
	res := CheckResult{
		Healthy:  err == nil,
		Message:  "OK",
		Duration: time.Since(start).Round(time.Millisecond).String(),
	}
	if err != nil {
		res.Message = err.Error()
	}
	return res
}

// Check runs every check and aggregates the results.
func (c *CompositeHealthChecker) Check(ctx context.Context) HealthStatus {
	checks := c.sorted()
	results := make([]CheckResult, len(checks))

	var wg sync.WaitGroup
	for i, ch := range checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = c.runCheck(ctx, ch)
		}()
	}
	wg.Wait()

	status := HealthStatus{
		Healthy:   true,
		Ready:     true,
		Message:   "All checks passed",
		Checks:    make(map[string]CheckResult, len(checks)),
		Uptime:    time.Since(c.started).Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
		Version:   c.version,
	}

	var failed []string
	for i, ch := range checks {
		status.Checks[ch.name] = results[i]
		if results[i].Healthy {
			continue
		}
		failed = append(failed, ch.name)
		status.Ready = false
		if !ch.readiness {
			status.Healthy = false
		}
	}
	if len(failed) > 0 {
		status.Message = "Some checks failed: " + strings.Join(failed, ", ")
	}
	return status
}

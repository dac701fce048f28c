// Package health derives the service health status from shutdown state, request outcomes
// and dependency checks.
package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Status values, highest priority first.
const (
	StatusShuttingDown = "shutting-down"
	StatusOverloaded   = "overloaded"
	StatusDegraded     = "degraded"
	StatusHealthy      = "healthy"
)

// Config holds the thresholds that drive status transitions. Zero windows disable a check.
type Config struct {
	ServiceName          string
	Version              string
	OverloadWindow       time.Duration
	OverloadThresholdPct int
	RateLimitRPS         int
	DegradedWindow       time.Duration
	DegradedErrorPct     int
	CheckTimeout         time.Duration
}

// Dependency is an external backend probed on every health check.
type Dependency struct {
	Name  string
	Check func(ctx context.Context) error
}

// Report is the /health response body.
type Report struct {
	Status     string            `json:"status"`
	Service    string            `json:"service"`
	Version    string            `json:"version"`
	Checks     map[string]string `json:"checks"`
	Timestamp  string            `json:"timestamp"`
	Reason     string            `json:"-"`
	StatusCode int               `json:"-"`
}

// Checker computes health. Safe for concurrent use.
type Checker struct {
	cfg          Config
	tracker      *Tracker
	deps         []Dependency
	clock        clockwork.Clock
	logger       *zap.Logger
	shuttingDown atomic.Bool

	mu   sync.Mutex
	prev string
}

// NewChecker creates a Checker over tracker. A nil clock uses real time.
func NewChecker(cfg Config, tracker *Tracker, deps []Dependency, clock clockwork.Clock, logger *zap.Logger) *Checker {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "hazard-risk-service"
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.CheckTimeout <= 0 {
		cfg.CheckTimeout = 2 * time.Second
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if tracker == nil {
		tracker = NewTracker(clock)
	}
	return &Checker{cfg: cfg, tracker: tracker, deps: deps, clock: clock, logger: logger}
}

// Tracker returns the outcome tracker the checker reads.
func (c *Checker) Tracker() *Tracker {
	return c.tracker
}

// SetShuttingDown sets the shutdown flag. Call when SIGTERM/SIGINT is received.
func (c *Checker) SetShuttingDown(v bool) {
	c.shuttingDown.Store(v)
}

// IsShuttingDown reports whether the process is draining.
func (c *Checker) IsShuttingDown() bool {
	return c.shuttingDown.Load()
}

// Check evaluates conditions in priority order:
// shutting-down > overloaded > degraded (dependency or error rate) > healthy.
// Status transitions are logged once per change.
func (c *Checker) Check(ctx context.Context) Report {
	checks := c.probe(ctx)
	status, code, reason := c.evaluate(checks)

	c.mu.Lock()
	if c.prev != "" && c.prev != status {
		c.logger.Info("health status transition",
			zap.String("previous_status", c.prev),
			zap.String("current_status", status),
			zap.String("reason", reason))
	}
	c.prev = status
	c.mu.Unlock()

	return Report{
		Status:     status,
		Service:    c.cfg.ServiceName,
		Version:    c.cfg.Version,
		Checks:     checks,
		Timestamp:  c.clock.Now().UTC().Format(time.RFC3339),
		Reason:     reason,
		StatusCode: code,
	}
}

func (c *Checker) evaluate(checks map[string]string) (status string, code int, reason string) {
	if c.IsShuttingDown() {
		return StatusShuttingDown, http.StatusServiceUnavailable, "signal"
	}
	if c.cfg.OverloadWindow > 0 && c.cfg.RateLimitRPS > 0 && c.cfg.OverloadThresholdPct > 0 {
		threshold := float64(c.cfg.RateLimitRPS) * c.cfg.OverloadWindow.Seconds() * float64(c.cfg.OverloadThresholdPct) / 100
		if float64(c.tracker.RequestCount(c.cfg.OverloadWindow)) > threshold {
			return StatusOverloaded, http.StatusServiceUnavailable, "overload_threshold"
		}
	}
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if checks[name] != StatusHealthy {
			return StatusDegraded, http.StatusServiceUnavailable, name + "_unhealthy"
		}
	}
	if c.cfg.DegradedWindow > 0 && c.cfg.DegradedErrorPct > 0 {
		errors, total := c.tracker.ErrorRate(c.cfg.DegradedWindow)
		if total > 0 && float64(errors)*100/float64(total) >= float64(c.cfg.DegradedErrorPct) {
			return StatusDegraded, http.StatusServiceUnavailable, "error_rate_breach"
		}
	}
	return StatusHealthy, http.StatusOK, ""
}

func (c *Checker) probe(ctx context.Context) map[string]string {
	checks := make(map[string]string, len(c.deps))
	for _, d := range c.deps {
		dctx, cancel := context.WithTimeout(ctx, c.cfg.CheckTimeout)
		err := d.Check(dctx)
		cancel()
		if err != nil {
			checks[d.Name] = "unhealthy"
			c.logger.Debug("dependency check failed", zap.String("dependency", d.Name), zap.Error(err))
			continue
		}
		checks[d.Name] = StatusHealthy
	}
	return checks
}

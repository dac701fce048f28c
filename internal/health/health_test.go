package health

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newTestChecker(cfg Config, deps ...Dependency) (*Checker, *clockwork.FakeClock) {
	clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC))
	return NewChecker(cfg, NewTracker(clock), deps, clock, nil), clock
}

func TestCheck_Healthy(t *testing.T) {
	c, _ := newTestChecker(Config{})
	r := c.Check(context.Background())
	assert.Equal(t, StatusHealthy, r.Status)
	assert.Equal(t, http.StatusOK, r.StatusCode)
	assert.Equal(t, "hazard-risk-service", r.Service)
	assert.Equal(t, "2024-05-01T08:00:00Z", r.Timestamp)
}

// TestCheck_Priority verifies that shutting-down wins over overload, and overload over a
// failing dependency.
func TestCheck_Priority(t *testing.T) {
	down := Dependency{Name: "cache", Check: func(context.Context) error { return errors.New("refused") }}
	c, _ := newTestChecker(Config{OverloadWindow: time.Minute, OverloadThresholdPct: 50, RateLimitRPS: 1}, down)

	r := c.Check(context.Background())
	assert.Equal(t, StatusDegraded, r.Status)
	assert.Equal(t, "cache_unhealthy", r.Reason)
	assert.Equal(t, "unhealthy", r.Checks["cache"])

	// 1 rps * 60s * 50% = 30
	for i := 0; i < 31; i++ {
		c.Tracker().RecordDenied()
	}
	r = c.Check(context.Background())
	assert.Equal(t, StatusOverloaded, r.Status)
	assert.Equal(t, http.StatusServiceUnavailable, r.StatusCode)

	c.SetShuttingDown(true)
	assert.Equal(t, StatusShuttingDown, c.Check(context.Background()).Status)
}

// TestCheck_DegradedErrorRate verifies that the error rate threshold degrades the service and
// that it recovers once the errors age out of the window.
func TestCheck_DegradedErrorRate(t *testing.T) {
	c, clock := newTestChecker(Config{DegradedWindow: time.Minute, DegradedErrorPct: 10})
	for i := 0; i < 9; i++ {
		c.Tracker().RecordSuccess()
	}
	c.Tracker().RecordError()

	r := c.Check(context.Background())
	require.Equal(t, StatusDegraded, r.Status)
	assert.Equal(t, "error_rate_breach", r.Reason)

	clock.Advance(2 * time.Minute)
	assert.Equal(t, StatusHealthy, c.Check(context.Background()).Status)
}

// TestCheck_LogsTransitions verifies that a status change is logged once and repeated
// checks in the same status stay quiet.
func TestCheck_LogsTransitions(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	clock := clockwork.NewFakeClock()
	c := NewChecker(Config{}, nil, nil, clock, zap.New(core))

	c.Check(context.Background())
	c.SetShuttingDown(true)
	c.Check(context.Background())
	c.Check(context.Background())

	entries := logs.FilterMessage("health status transition").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "healthy", entries[0].ContextMap()["previous_status"])
	assert.Equal(t, "shutting-down", entries[0].ContextMap()["current_status"])
}

func TestCheck_DependencyTimeout(t *testing.T) {
	slow := Dependency{Name: "redis", Check: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	c := NewChecker(Config{CheckTimeout: 10 * time.Millisecond}, nil, []Dependency{slow}, nil, nil)
	r := c.Check(context.Background())
	assert.Equal(t, StatusDegraded, r.Status)
	assert.Equal(t, "unhealthy", r.Checks["redis"])
}

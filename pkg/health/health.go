// Package health serves /livez and /readyz probes backed by background checks.
//
// Each check runs in its own goroutine. A check turns unhealthy only after
// failureThreshold consecutive failures and healthy again after
// successThreshold consecutive passes. Optional checks are reported but never
// fail the probe; the service is then "degraded" rather than "unhealthy".
package health

import (
	"context"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

const (
	statusOK        = "ok"
	statusDegraded  = "degraded"
	statusUnhealthy = "unhealthy"
)

// CheckFunc returns nil when the checked component is healthy.
type CheckFunc func(ctx context.Context) error

// Option configures a single check.
type Option func(*check)

// WithThresholds overrides the default 3 failures / 1 success thresholds.
func WithThresholds(failures, successes int) Option {
	return func(c *check) {
		c.failureThreshold = max(failures, 1)
		c.successThreshold = max(successes, 1)
	}
}

// Optional marks a check whose failure degrades but does not fail the probe.
func Optional() Option {
	return func(c *check) { c.optional = true }
}

// check is driven by exactly one goroutine; only healthy and lastErr are read
// concurrently.
type check struct {
	name             string
	timeout          time.Duration
	fn               CheckFunc
	failureThreshold int
	successThreshold int
	optional         bool

	healthy atomic.Bool
	lastErr atomic.Pointer[error]

	fails     int
	successes int
}

func newCheck(name string, timeout time.Duration, fn CheckFunc, opts []Option) *check {
	c := &check{
		name:             name,
		timeout:          timeout,
		fn:               fn,
		failureThreshold: 3,
		successThreshold: 1,
	}
	for _, o := range opts {
		o(c)
	}
	c.healthy.Store(true)
	return c
}

func (c *check) isHealthy() bool { return c.healthy.Load() }

func (c *check) lastError() error {
	if p := c.lastErr.Load(); p != nil {
		return *p
	}
	return nil
}

func (c *check) run(ctx context.Context) {
	checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.fn(checkCtx)
	c.lastErr.Store(&err)

	was := c.isHealthy()
	if err != nil {
		c.successes = 0
		c.fails++
		if c.fails >= c.failureThreshold {
			c.healthy.Store(false)
		}
	} else {
		c.fails = 0
		c.successes++
		if c.successes >= c.successThreshold {
			c.healthy.Store(true)
		}
	}

	if now := c.isHealthy(); now != was {
		lg := zctx.From(ctx).With(zap.String("check", c.name), zap.Bool("optional", c.optional))
		if now {
			lg.Info("Health check recovered")
		} else {
			lg.Warn("Health check failing", zap.Error(err))
		}
	}
}

// Health holds the liveness and readiness checks of a service.
type Health struct {
	ready atomic.Bool

	mu        sync.RWMutex
	liveness  []*check
	readiness []*check
	cancel    context.CancelFunc
}

// New returns a Health that is not ready until SetReady(true).
func New() *Health {
	return &Health{}
}

// AddLivenessCheck registers a check that decides whether the process
// should be restarted.
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, fn CheckFunc, opts ...Option) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.liveness = append(h.liveness, newCheck(name, timeout, fn, opts))
}

// AddReadinessCheck registers a check that decides whether the service
// receives traffic.
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, fn CheckFunc, opts ...Option) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readiness = append(h.readiness, newCheck(name, timeout, fn, opts))
}

// Start runs every registered check immediately and then every interval
// until ctx is done or Stop is called.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	checks := slices.Concat(h.liveness, h.readiness)
	h.mu.Unlock()

	for _, c := range checks {
		go loop(ctx, c, interval)
	}
}

func loop(ctx context.Context, c *check, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.run(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.run(ctx)
		}
	}
}

// SetReady toggles the manual readiness flag. It is set to false first on
// shutdown so that load balancers drain the instance.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports whether the service is marked ready and no required
// readiness check is failing.
func (h *Health) IsReady() bool {
	if !h.ready.Load() {
		return false
	}
	for _, c := range h.snapshot(&h.readiness) {
		if !c.optional && !c.isHealthy() {
			return false
		}
	}
	return true
}

// Stop cancels the check goroutines. It is safe to call more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// LiveEndpoint serves /livez.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	writeReport(w, newReport(h.snapshot(&h.liveness)))
}

// ReadyEndpoint serves /readyz.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	rep := newReport(h.snapshot(&h.readiness))
	if !h.ready.Load() {
		rep.failed = true
		rep.checks = append(rep.checks, failure{name: "_readiness", msg: "service is not ready"})
	}
	writeReport(w, rep)
}

func (h *Health) snapshot(checks *[]*check) []*check {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Clone(*checks)
}

type failure struct {
	name string
	msg  string
}

type report struct {
	failed   bool
	degraded bool
	checks   []failure
}

// newReport uses the stored result of each check rather than re-running it.
func newReport(checks []*check) report {
	var rep report
	for _, c := range checks {
		if c.isHealthy() {
			continue
		}
		msg := "check is unhealthy"
		if err := c.lastError(); err != nil {
			msg = err.Error()
		}
		rep.checks = append(rep.checks, failure{name: c.name, msg: msg})
		if c.optional {
			rep.degraded = true
		} else {
			rep.failed = true
		}
	}
	return rep
}

func (r report) status() (string, int) {
	switch {
	case r.failed:
		return statusUnhealthy, http.StatusServiceUnavailable
	case r.degraded:
		return statusDegraded, http.StatusOK
	default:
		return statusOK, http.StatusOK
	}
}

func (r report) encode(e *jx.Encoder) {
	status, _ := r.status()
	e.ObjStart()
	e.FieldStart("status")
	e.Str(status)
	if len(r.checks) > 0 {
		e.FieldStart("checks")
		e.ObjStart()
		for _, f := range r.checks {
			e.FieldStart(f.name)
			e.Str(f.msg)
		}
		e.ObjEnd()
	}
	e.ObjEnd()
}

func writeReport(w http.ResponseWriter, r report) {
	var e jx.Encoder
	r.encode(&e)

	_, code := r.status()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(e.Bytes())
}

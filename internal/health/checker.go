// Package health provides health check functionality for liveness and readiness probes.
package health

import (
	"context"
	"sort"
	"sync"
	"time"
)

// ReadinessChecker is the interface for readiness checks.
// Implemented by components that must be able to serve before traffic is routed.
type ReadinessChecker interface {
	Ready(ctx context.Context) error
}

// ReadyFunc adapts a function to ReadinessChecker.
type ReadyFunc func(ctx context.Context) error

// Ready implements ReadinessChecker.
func (f ReadyFunc) Ready(ctx context.Context) error { return f(ctx) }

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// CheckResult contains the result of a health check.
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
}

// Response is the health check response.
type Response struct {
	Status Status                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

type check struct {
	name     string
	checker  ReadinessChecker
	optional bool
}

// Checker performs health checks on dependencies.
type Checker struct {
	checks  []check
	timeout time.Duration
	ttl     time.Duration

	mu           sync.RWMutex
	lastCheck    time.Time
	cachedReady  *Response
	shuttingDown bool
}

// NewChecker creates a new health checker with no dependencies.
func NewChecker() *Checker {
	return &Checker{
		timeout: 5 * time.Second,
		ttl:     time.Second,
	}
}

// Require adds a dependency whose failure makes the service unhealthy.
func (c *Checker) Require(name string, checker ReadinessChecker) *Checker {
	c.checks = append(c.checks, check{name: name, checker: checker})
	return c
}

// Optional adds a dependency whose failure only degrades the service.
func (c *Checker) Optional(name string, checker ReadinessChecker) *Checker {
	c.checks = append(c.checks, check{name: name, checker: checker, optional: true})
	return c
}

// Liveness returns true if the service is alive.
// This should be a lightweight check that doesn't depend on external services.
// Failing this probe should trigger a container restart.
func (c *Checker) Liveness(ctx context.Context) *Response {
	return &Response{
		Status: StatusHealthy,
	}
}

// Readiness checks if the service is ready to accept traffic.
// Failing this probe should remove the instance from load balancer rotation.
func (c *Checker) Readiness(ctx context.Context) *Response {
	c.mu.RLock()
	if c.shuttingDown {
		c.mu.RUnlock()
		return &Response{
			Status: StatusUnhealthy,
			Checks: map[string]CheckResult{
				"shutdown": {Status: StatusUnhealthy, Message: "service is shutting down"},
			},
		}
	}

	// Use cached result if recent (avoid hammering the database)
	if c.cachedReady != nil && time.Since(c.lastCheck) < c.ttl {
		cached := c.cachedReady
		c.mu.RUnlock()
		return cached
	}
	c.mu.RUnlock()

	response := c.runChecks(ctx)

	c.mu.Lock()
	c.cachedReady = response
	c.lastCheck = time.Now()
	c.mu.Unlock()

	return response
}

// runChecks runs every dependency check concurrently.
func (c *Checker) runChecks(ctx context.Context) *Response {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	results := make([]CheckResult, len(c.checks))
	var wg sync.WaitGroup
	for i, chk := range c.checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = runCheck(ctx, chk.checker)
		}()
	}
	wg.Wait()

	response := &Response{Status: StatusHealthy, Checks: make(map[string]CheckResult, len(c.checks))}
	for i, chk := range c.checks {
		result := results[i]
		if result.Status != StatusHealthy {
			if chk.optional {
				result.Status = StatusDegraded
				if response.Status == StatusHealthy {
					response.Status = StatusDegraded
				}
			} else {
				response.Status = StatusUnhealthy
			}
		}
		response.Checks[chk.name] = result
	}
	return response
}

func runCheck(ctx context.Context, checker ReadinessChecker) CheckResult {
	if checker == nil {
		return CheckResult{Status: StatusUnhealthy, Message: "not configured"}
	}
	if err := checker.Ready(ctx); err != nil {
		return CheckResult{Status: StatusUnhealthy, Message: err.Error()}
	}
	return CheckResult{Status: StatusHealthy}
}

// Names returns the names of the registered checks in sorted order.
func (c *Checker) Names() []string {
	names := make([]string, 0, len(c.checks))
	for _, chk := range c.checks {
		names = append(names, chk.name)
	}
	sort.Strings(names)
	return names
}

// IsHealthy reports whether the service can take traffic. A degraded
// service still can.
func (r *Response) IsHealthy() bool {
	return r.Status != StatusUnhealthy
}

// SetShuttingDown marks the service as shutting down.
// This causes readiness checks to return unhealthy, signaling
// load balancers to stop sending new traffic.
func (c *Checker) SetShuttingDown() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shuttingDown = true
	c.cachedReady = nil // Clear cache to ensure immediate effect
}

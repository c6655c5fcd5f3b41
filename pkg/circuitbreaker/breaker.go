// Package circuitbreaker implements the circuit breaker pattern.
//
// A breaker tracks consecutive failures against one resource and blocks
// attempts while the resource is considered down.
//
// States:
//   - Closed: Normal operation, attempts allowed
//   - Open: Too many failures, attempts blocked until the cooldown elapses
//   - HalfOpen: One probe attempt in flight, others blocked
package circuitbreaker

import (
	"sync"
	"time"
)

// State represents the state of a circuit breaker.
type State int

const (
	Closed   State = iota // Normal operation, attempts allowed
	Open                  // Failing, attempts blocked
	HalfOpen              // Probing
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config holds configuration for a circuit breaker.
type Config struct {
	Threshold int              // Failures before circuit opens (default: 5)
	Cooldown  time.Duration    // Time before a probe is allowed (default: 30s)
	Now       func() time.Time // Clock (default: time.Now)
}

func (c Config) withDefaults() Config {
	if c.Threshold <= 0 {
		c.Threshold = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Breaker implements the circuit breaker pattern for a single resource.
type Breaker struct {
	mu       sync.Mutex
	cfg      Config
	state    State
	failures int       // consecutive failures
	openedAt time.Time // when the circuit last opened
	probing  bool      // a half-open probe is in flight
}

// New creates a new circuit breaker.
func New(cfg Config) *Breaker {
	return &Breaker{cfg: cfg.withDefaults(), state: Closed}
}

// Allow reports whether an attempt may proceed. When it returns true the
// caller must report the outcome with RecordSuccess or RecordFailure.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		if b.cfg.Now().Sub(b.openedAt) < b.cfg.Cooldown {
			return false
		}
		b.state = HalfOpen
		b.probing = true
		return true
	case HalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	default:
		return true
	}
}

// RecordSuccess closes the circuit.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.probing = false
	b.state = Closed
}

// RecordFailure counts a failure and opens the circuit when the threshold is
// reached or a probe fails.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	if b.state == HalfOpen || b.failures >= b.cfg.Threshold {
		b.state = Open
		b.openedAt = b.cfg.Now()
		b.probing = false
	}
}

// State returns the current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the current consecutive failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

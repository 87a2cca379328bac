// Package breaker implements a per-provider circuit breaker with lazy
// registration. Breaker state is advisory: callers must check Allow before
// invoking an upstream and report the outcome exactly once per attempt.
package breaker

import (
	"sync"
	"time"
)

// State is the current position of a breaker's state machine.
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// Config controls the failure/recovery thresholds shared by all breakers in
// a registry.
type Config struct {
	// FailureThreshold is the consecutive-failure count that trips a
	// CLOSED breaker to OPEN.
	FailureThreshold int
	// RecoveryTimeout is how long an OPEN breaker rejects requests before
	// probing recovery via HALF_OPEN.
	RecoveryTimeout time.Duration
	// HalfOpenMaxCalls is both the number of trial requests admitted while
	// HALF_OPEN and the success count required to close again.
	HalfOpenMaxCalls int
}

// DefaultConfig returns the default breaker thresholds.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		HalfOpenMaxCalls: 3,
	}
}

// Snapshot is a point-in-time view of one breaker, for status endpoints.
type Snapshot struct {
	Name              string        `json:"name"`
	State             State         `json:"state"`
	FailureCount      int           `json:"failure_count"`
	FailureThreshold  int           `json:"failure_threshold"`
	RecoveryTimeout   time.Duration `json:"-"`
	LastFailureAt     time.Time     `json:"last_failure_at,omitempty"`
	TimeUntilRecovery time.Duration `json:"time_until_recovery_ms"`
}

// Breaker guards a single provider. All mutations on one breaker are applied
// under its mutex; breakers for different providers never block each other.
type Breaker struct {
	name string
	cfg  Config
	now  func() time.Time

	mu              sync.Mutex
	state           State
	failures        int
	halfOpenCalls   int
	halfOpenSuccess int
	lastFailure     time.Time
}

func newBreaker(name string, cfg Config, now func() time.Time) *Breaker {
	return &Breaker{
		name:  name,
		cfg:   cfg,
		now:   now,
		state: StateClosed,
	}
}

// checkTransition moves OPEN to HALF_OPEN once the recovery timeout has
// elapsed. Must be called with the mutex held.
func (b *Breaker) checkTransition() {
	if b.state == StateOpen && b.now().Sub(b.lastFailure) > b.cfg.RecoveryTimeout {
		b.state = StateHalfOpen
		b.halfOpenCalls = 0
		b.halfOpenSuccess = 0
	}
}

// Allow reports whether a request may be sent to the provider. In HALF_OPEN
// it admits at most HalfOpenMaxCalls trial requests per recovery window.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.checkTransition()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		return false
	default: // HALF_OPEN
		if b.halfOpenCalls < b.cfg.HalfOpenMaxCalls {
			b.halfOpenCalls++
			return true
		}
		return false
	}
}

// RecordSuccess reports a successful upstream call.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.halfOpenSuccess++
		if b.halfOpenSuccess >= b.cfg.HalfOpenMaxCalls {
			b.state = StateClosed
			b.failures = 0
			b.halfOpenSuccess = 0
		}
	case StateClosed:
		b.failures = 0
	}
}

// RecordFailure reports a failed upstream call. A single failure while
// HALF_OPEN returns the breaker to OPEN immediately.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = b.now()

	switch b.state {
	case StateHalfOpen:
		b.state = StateOpen
		b.halfOpenSuccess = 0
	case StateClosed:
		if b.failures >= b.cfg.FailureThreshold {
			b.state = StateOpen
		}
	}
}

// Reset returns the breaker to a fresh CLOSED state.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateClosed
	b.failures = 0
	b.halfOpenCalls = 0
	b.halfOpenSuccess = 0
	b.lastFailure = time.Time{}
}

// Status returns a snapshot of the breaker's current state.
func (b *Breaker) Status() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.checkTransition()

	snap := Snapshot{
		Name:             b.name,
		State:            b.state,
		FailureCount:     b.failures,
		FailureThreshold: b.cfg.FailureThreshold,
		RecoveryTimeout:  b.cfg.RecoveryTimeout,
		LastFailureAt:    b.lastFailure,
	}
	if b.state == StateOpen {
		remaining := b.cfg.RecoveryTimeout - b.now().Sub(b.lastFailure)
		if remaining > 0 {
			snap.TimeUntilRecovery = remaining
		}
	}
	return snap
}

// Registry holds one breaker per provider key, created lazily on first use.
type Registry struct {
	cfg Config
	now func() time.Time

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry creates an empty breaker registry.
func NewRegistry(cfg Config) *Registry {
	return NewRegistryWithClock(cfg, time.Now)
}

// NewRegistryWithClock creates a registry with an injectable clock.
func NewRegistryWithClock(cfg Config, now func() time.Time) *Registry {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = DefaultConfig().RecoveryTimeout
	}
	if cfg.HalfOpenMaxCalls <= 0 {
		cfg.HalfOpenMaxCalls = DefaultConfig().HalfOpenMaxCalls
	}
	return &Registry{
		cfg:      cfg,
		now:      now,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for a provider key, creating it on first access.
func (r *Registry) Get(key string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[key]
	if !ok {
		b = newBreaker(key, r.cfg, r.now)
		r.breakers[key] = b
	}
	return b
}

// AllStatus returns snapshots of every registered breaker.
func (r *Registry) AllStatus() []Snapshot {
	r.mu.Lock()
	breakers := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.Unlock()

	snaps := make([]Snapshot, 0, len(breakers))
	for _, b := range breakers {
		snaps = append(snaps, b.Status())
	}
	return snaps
}

// ResetAll returns every registered breaker to CLOSED.
func (r *Registry) ResetAll() {
	r.mu.Lock()
	breakers := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.Unlock()

	for _, b := range breakers {
		b.Reset()
	}
}

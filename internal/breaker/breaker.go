// Package breaker gates calls to upstream dependencies with a
// Closed/Open/HalfOpen circuit breaker.
//
// A breaker only decides whether a call should be attempted. It performs no
// I/O and no retries, and it never looks at the error that caused a failure:
// callers decide what a call is and report its outcome.
package breaker

import (
	"log/slog"
	"sync"
	"time"
)

// State is the breaker's position in its state machine.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF-OPEN"
	default:
		return "UNKNOWN"
	}
}

// Settings tunes a single breaker.
type Settings struct {
	// FailureThreshold is the number of consecutive failures that opens a closed breaker.
	FailureThreshold int `mapstructure:"failure_threshold"`
	// RecoveryTimeout is how long an open breaker rejects calls before probing.
	RecoveryTimeout time.Duration `mapstructure:"recovery_timeout"`
	// SuccessThreshold is the number of consecutive trial successes that closes a half-open breaker.
	SuccessThreshold int `mapstructure:"success_threshold"`
}

// DefaultSettings returns the settings used when a dependency has no override.
func DefaultSettings() Settings {
	return Settings{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		SuccessThreshold: 1,
	}
}

func (s Settings) normalized() Settings {
	d := DefaultSettings()
	if s.FailureThreshold < 1 {
		s.FailureThreshold = d.FailureThreshold
	}
	if s.RecoveryTimeout <= 0 {
		s.RecoveryTimeout = d.RecoveryTimeout
	}
	if s.SuccessThreshold < 1 {
		s.SuccessThreshold = d.SuccessThreshold
	}
	return s
}

// Snapshot is a point-in-time copy of a breaker's state and counters.
type Snapshot struct {
	Name                string
	State               State
	ConsecutiveFailures int
	TrialSuccesses      int
	LastFailureTime     time.Time
	OpenedAt            time.Time
}

// StateChangeFunc is called after a breaker changes state, outside its lock.
type StateChangeFunc func(name string, from, to State)

// Option configures a CircuitBreaker.
type Option func(*CircuitBreaker)

// WithClock replaces time.Now as the breaker's time source.
func WithClock(now func() time.Time) Option {
	return func(cb *CircuitBreaker) {
		if now != nil {
			cb.now = now
		}
	}
}

// WithStateChangeHandler registers a callback for state transitions.
func WithStateChangeHandler(fn StateChangeFunc) Option {
	return func(cb *CircuitBreaker) {
		cb.onStateChange = fn
	}
}

// CircuitBreaker guards one named dependency. All transitions happen under a
// single mutex so concurrent callers cannot lose updates.
type CircuitBreaker struct {
	mu       sync.Mutex
	name     string
	settings Settings

	state          State
	failures       int
	trialSuccesses int
	trialInFlight  bool
	trialStartedAt time.Time
	lastFailure    time.Time
	openedAt       time.Time
	// generation changes on every state transition and every new trial.
	generation uint64

	now           func() time.Time
	onStateChange StateChangeFunc
}

// Ticket identifies one call admitted by Acquire. An outcome reported with a
// ticket issued before the breaker last changed state, or before the current
// half-open trial started, is ignored.
type Ticket struct {
	generation uint64
}

type transition struct {
	from, to State
}

// New creates a closed breaker for the named dependency.
func New(name string, settings Settings, opts ...Option) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:     name,
		settings: settings.normalized(),
		state:    StateClosed,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// Name returns the dependency name this breaker guards.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// CanAttempt reports whether a call should be made now. An open breaker
// whose recovery timeout has elapsed moves to half-open and lets exactly one
// trial call through; further calls are rejected until that trial is reported.
func (cb *CircuitBreaker) CanAttempt() bool {
	_, ok := cb.Acquire()
	return ok
}

// Acquire is CanAttempt returning a ticket for reporting the call's outcome
// through Success or Failure.
func (cb *CircuitBreaker) Acquire() (Ticket, bool) {
	cb.mu.Lock()
	now := cb.now()
	var tr *transition
	allowed := false

	switch cb.state {
	case StateClosed:
		allowed = true
	case StateOpen:
		if now.Sub(cb.openedAt) >= cb.settings.RecoveryTimeout {
			tr = cb.transition(StateHalfOpen)
			cb.startTrial(now)
			allowed = true
		}
	case StateHalfOpen:
		// A trial whose outcome was never reported (its caller gave up)
		// stops blocking once a full recovery timeout has passed.
		if !cb.trialInFlight || now.Sub(cb.trialStartedAt) >= cb.settings.RecoveryTimeout {
			cb.startTrial(now)
			allowed = true
		}
	}
	t := Ticket{generation: cb.generation}
	cb.mu.Unlock()

	cb.notify(tr)
	return t, allowed
}

// RecordSuccess reports a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	tr := cb.success()
	cb.mu.Unlock()

	cb.notify(tr)
}

// Success reports a successful call admitted with t. Stale tickets are ignored.
func (cb *CircuitBreaker) Success(t Ticket) {
	cb.mu.Lock()
	var tr *transition
	if t.generation == cb.generation {
		tr = cb.success()
	}
	cb.mu.Unlock()

	cb.notify(tr)
}

// RecordFailure reports a failed call. A failure while half-open reopens the
// breaker immediately with a fresh opening time.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	tr := cb.failure()
	cb.mu.Unlock()

	cb.notify(tr)
}

// Failure reports a failed call admitted with t. Stale tickets are ignored.
func (cb *CircuitBreaker) Failure(t Ticket) {
	cb.mu.Lock()
	var tr *transition
	if t.generation == cb.generation {
		tr = cb.failure()
	}
	cb.mu.Unlock()

	cb.notify(tr)
}

// success must be called with mu held.
func (cb *CircuitBreaker) success() *transition {
	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.trialInFlight = false
		cb.trialSuccesses++
		if cb.trialSuccesses >= cb.settings.SuccessThreshold {
			tr := cb.transition(StateClosed)
			cb.reset()
			return tr
		}
	}
	return nil
}

// failure must be called with mu held.
func (cb *CircuitBreaker) failure() *transition {
	now := cb.now()
	cb.failures++
	cb.lastFailure = now

	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.settings.FailureThreshold {
			tr := cb.transition(StateOpen)
			cb.openedAt = now
			return tr
		}
	case StateHalfOpen:
		tr := cb.transition(StateOpen)
		cb.openedAt = now
		cb.trialSuccesses = 0
		cb.trialInFlight = false
		return tr
	}
	return nil
}

// State returns the current state without triggering any transition.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Snapshot returns a copy of the breaker's state and counters.
func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Snapshot{
		Name:                cb.name,
		State:               cb.state,
		ConsecutiveFailures: cb.failures,
		TrialSuccesses:      cb.trialSuccesses,
		LastFailureTime:     cb.lastFailure,
		OpenedAt:            cb.openedAt,
	}
}

func (cb *CircuitBreaker) startTrial(now time.Time) {
	cb.generation++
	cb.trialInFlight = true
	cb.trialStartedAt = now
}

func (cb *CircuitBreaker) reset() {
	cb.failures = 0
	cb.trialSuccesses = 0
	cb.trialInFlight = false
	cb.trialStartedAt = time.Time{}
	cb.openedAt = time.Time{}
}

// transition must be called with mu held.
func (cb *CircuitBreaker) transition(to State) *transition {
	from := cb.state
	cb.state = to
	cb.generation++
	return &transition{from: from, to: to}
}

func (cb *CircuitBreaker) notify(tr *transition) {
	if tr == nil {
		return
	}
	slog.Warn("circuit breaker state change",
		"dependency", cb.name,
		"from", tr.from.String(),
		"to", tr.to.String(),
		"failure_threshold", cb.settings.FailureThreshold,
		"recovery_timeout", cb.settings.RecoveryTimeout)
	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, tr.from, tr.to)
	}
}

package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Dinopit/DinoAirPublic-sub008/internal/clock"
)

const (
	// windowMinSamples is the minimum number of samples the rolling window
	// must hold before the rate-based trip rules apply. Kept as a package
	// constant, distinct from the configurable thresholds: it is a safety
	// net against tripping on a handful of cold-start calls.
	windowMinSamples = 10

	// windowFailureRateLimit trips the breaker when more than half of the
	// windowed calls failed, regardless of the consecutive-failure count.
	windowFailureRateLimit = 0.5

	// historySize bounds the retained state-change history.
	historySize = 10
)

// Config holds the thresholds and timings for one breaker. Zero fields are
// replaced with defaults by New.
type Config struct {
	// FailureThreshold is the number of consecutive qualifying failures
	// that opens the circuit.
	FailureThreshold int

	// SuccessThreshold is both the half-open probe budget and the number
	// of consecutive probe successes required to close the circuit.
	SuccessThreshold int

	// Timeout is the hard per-call deadline raced against the operation.
	Timeout time.Duration

	// ResetTimeout is how long an open circuit waits before admitting a
	// half-open probe.
	ResetTimeout time.Duration

	// WindowSize is the total duration covered by the rolling window.
	WindowSize time.Duration

	// WindowBuckets is the number of slices the window is divided into.
	WindowBuckets int

	// SlowCallDuration classifies a call as slow when it takes longer,
	// independent of success or failure.
	SlowCallDuration time.Duration

	// SlowCallRateThreshold opens the circuit when the windowed slow-call
	// rate exceeds it.
	SlowCallRateThreshold float64

	// IsFailure decides whether an error counts against the failure
	// budget. The default counts everything except context cancellation,
	// so a user abort never erodes the breaker.
	IsFailure func(error) bool
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}

	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 2
	}

	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}

	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}

	if c.WindowSize <= 0 {
		c.WindowSize = time.Minute
	}

	if c.WindowBuckets <= 0 {
		c.WindowBuckets = 10
	}

	if c.SlowCallDuration <= 0 {
		c.SlowCallDuration = 10 * time.Second
	}

	if c.SlowCallRateThreshold <= 0 || c.SlowCallRateThreshold > 1 {
		c.SlowCallRateThreshold = 0.8
	}

	if c.IsFailure == nil {
		c.IsFailure = DefaultIsFailure
	}

	return c
}

// DefaultIsFailure counts every error except a caller-initiated
// cancellation. Timeouts (context.DeadlineExceeded) do count.
func DefaultIsFailure(err error) bool {
	return !errors.Is(err, context.Canceled)
}

// StateChangeFunc is notified after every state transition. It is invoked
// on its own goroutine and is the only side-effecting hook the breaker
// exposes.
type StateChangeFunc func(name string, from, to State, reason string)

// CircuitBreaker owns the admission policy for a single dependency. Create
// one per dependency at process start and share it by reference; Stop
// releases its window-rotation job.
type CircuitBreaker struct {
	name string
	cfg  Config
	clk  clock.Clock

	mu               sync.Mutex
	state            State
	window           *window
	stats            Stats
	history          []StateChange
	openedAt         time.Time
	halfOpenInFlight int
	onStateChange    StateChangeFunc
	rotation         clock.Job
}

// New creates a breaker for the named dependency and starts its rotation
// job on clk.
func New(name string, cfg Config, clk clock.Clock) *CircuitBreaker {
	cfg = cfg.withDefaults()

	cb := &CircuitBreaker{
		name:   name,
		cfg:    cfg,
		clk:    clk,
		state:  StateClosed,
		window: newWindow(cfg.WindowBuckets),
	}

	cb.rotation = clk.Every(cfg.WindowSize/time.Duration(cfg.WindowBuckets), cb.rotate)

	return cb
}

// Name returns the dependency name this breaker guards.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Timeout returns the configured per-call deadline. Callers that manage
// their own call lifecycle (streaming) apply it themselves.
func (cb *CircuitBreaker) Timeout() time.Duration {
	return cb.cfg.Timeout
}

// SlowCallDuration returns the threshold beyond which a call counts as
// slow, for callers that classify durations outside the breaker.
func (cb *CircuitBreaker) SlowCallDuration() time.Duration {
	return cb.cfg.SlowCallDuration
}

// OnStateChange registers the transition callback. Must be set before the
// breaker takes traffic.
func (cb *CircuitBreaker) OnStateChange(fn StateChangeFunc) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.onStateChange = fn
}

// Permit is an admitted call. Exactly one Record call settles it; further
// calls are no-ops.
type Permit struct {
	cb         *CircuitBreaker
	admittedAt time.Time
	halfOpen   bool
	once       sync.Once
}

// Admit decides whether a call may proceed. No I/O happens here. A rejection
// is always an *OpenError carrying the remaining wait.
func (cb *CircuitBreaker) Admit() (*Permit, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.clk.Now()

	switch cb.state {
	case StateClosed:
		return &Permit{cb: cb, admittedAt: now}, nil

	case StateOpen:
		elapsed := now.Sub(cb.openedAt)
		if elapsed < cb.cfg.ResetTimeout {
			return nil, &OpenError{Dependency: cb.name, RetryAfter: cb.cfg.ResetTimeout - elapsed}
		}

		cb.transition(StateHalfOpen, now, "reset timeout elapsed")
		cb.halfOpenInFlight = 1

		return &Permit{cb: cb, admittedAt: now, halfOpen: true}, nil

	case StateHalfOpen:
		if cb.halfOpenInFlight >= cb.cfg.SuccessThreshold {
			return nil, &OpenError{Dependency: cb.name, RetryAfter: cb.cfg.ResetTimeout}
		}

		cb.halfOpenInFlight++

		return &Permit{cb: cb, admittedAt: now, halfOpen: true}, nil

	default:
		return &Permit{cb: cb, admittedAt: now}, nil
	}
}

// Record settles the permit with the call's outcome. The window bucket, the
// consecutive counters, and any resulting state transition are all updated
// under one critical section.
func (p *Permit) Record(err error) {
	p.once.Do(func() {
		p.cb.record(p, err)
	})
}

func (cb *CircuitBreaker) record(p *Permit, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	now := cb.clk.Now()
	duration := now.Sub(p.admittedAt)
	slow := duration > cb.cfg.SlowCallDuration
	failed := err != nil && cb.cfg.IsFailure(err)

	cb.stats.TotalCalls++
	cb.window.record(failed, slow)

	if p.halfOpen && cb.halfOpenInFlight > 0 {
		cb.halfOpenInFlight--
	}

	// A filtered-out error (user cancellation, 4xx) is neither success nor
	// failure: it leaves the consecutive counters and the state alone.
	if err != nil && !failed {
		return
	}

	if failed {
		cb.stats.ConsecutiveFailures++
		cb.stats.ConsecutiveSuccesses = 0
		cb.stats.LastFailureTime = now

		switch cb.state {
		case StateHalfOpen:
			cb.openCircuit(now, "half-open probe failed")
		case StateClosed:
			cb.maybeTrip(now)
		}

		return
	}

	cb.stats.ConsecutiveSuccesses++
	cb.stats.ConsecutiveFailures = 0
	cb.stats.LastSuccessTime = now

	switch cb.state {
	case StateHalfOpen:
		if cb.stats.ConsecutiveSuccesses >= cb.cfg.SuccessThreshold {
			cb.transition(StateClosed, now, "probe successes reached threshold")
			cb.stats.ConsecutiveSuccesses = 0
			cb.halfOpenInFlight = 0
			cb.window.reset()
		}
	case StateClosed:
		cb.maybeTrip(now)
	}
}

// maybeTrip evaluates the closed-state trip rules. Caller holds the mutex.
func (cb *CircuitBreaker) maybeTrip(now time.Time) {
	if cb.stats.ConsecutiveFailures >= cb.cfg.FailureThreshold {
		cb.openCircuit(now, "consecutive failure threshold reached")
		return
	}

	calls, _, _ := cb.window.totals()
	if calls < windowMinSamples {
		return
	}

	if cb.window.failureRate() > windowFailureRateLimit {
		cb.openCircuit(now, "window failure rate exceeded")
		return
	}

	if cb.window.slowRate() > cb.cfg.SlowCallRateThreshold {
		cb.openCircuit(now, "slow call rate exceeded")
	}
}

func (cb *CircuitBreaker) openCircuit(now time.Time, reason string) {
	cb.transition(StateOpen, now, reason)
	cb.openedAt = now
	cb.halfOpenInFlight = 0
}

// transition switches state, appends to the bounded history, and dispatches
// the callback. Caller holds the mutex.
func (cb *CircuitBreaker) transition(to State, now time.Time, reason string) {
	from := cb.state
	if from == to {
		return
	}

	cb.state = to

	cb.history = append(cb.history, StateChange{
		From:   from.String(),
		To:     to.String(),
		At:     now,
		Reason: reason,
	})
	if len(cb.history) > historySize {
		cb.history = cb.history[len(cb.history)-historySize:]
	}

	if fn := cb.onStateChange; fn != nil {
		go fn(cb.name, from, to, reason)
	}
}

// Do runs op through the breaker, racing it against the configured timeout.
// On rejection the fallback (if any) is invoked in place of op; op is never
// called. A timeout is recorded as a failure.
func (cb *CircuitBreaker) Do(ctx context.Context, op func(context.Context) (any, error), fallback func(error) (any, error)) (any, error) {
	permit, err := cb.Admit()
	if err != nil {
		if fallback != nil {
			return fallback(err)
		}

		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, cb.cfg.Timeout)
	defer cancel()

	type outcome struct {
		value any
		err   error
	}

	done := make(chan outcome, 1)

	go func() {
		value, opErr := op(callCtx)
		done <- outcome{value: value, err: opErr}
	}()

	select {
	case out := <-done:
		permit.Record(out.err)
		return out.value, out.err

	case <-callCtx.Done():
		err := callCtx.Err()
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("dependency %q timed out after %s: %w", cb.name, cb.cfg.Timeout, context.DeadlineExceeded)
		}

		permit.Record(err)

		return nil, err
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return cb.state
}

// Snapshot returns a consistent read-only view for introspection.
func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	history := make([]StateChange, len(cb.history))
	copy(history, cb.history)

	return Snapshot{
		Name:              cb.name,
		State:             cb.state.String(),
		Stats:             cb.stats,
		WindowFailureRate: cb.window.failureRate(),
		WindowSlowRate:    cb.window.slowRate(),
		LastStateChanges:  history,
	}
}

// Reset forces the breaker back to closed and zeroes its counters and
// window. The transition is recorded in the history like any other.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.transition(StateClosed, cb.clk.Now(), "manual reset")
	cb.stats = Stats{}
	cb.halfOpenInFlight = 0
	cb.window.reset()
}

// Stop releases the window-rotation job. The breaker still answers Admit
// after Stop, but its window no longer ages out.
func (cb *CircuitBreaker) Stop() {
	cb.rotation.Stop()
}

func (cb *CircuitBreaker) rotate() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.window.rotate()
}

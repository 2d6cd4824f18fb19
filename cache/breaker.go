package cache

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the breaker rejects a call. Callers treat
// it as a silent miss, not a failure.
var ErrCircuitOpen = errors.New("cache: circuit open")

// BreakerState is the circuit breaker state.
type BreakerState int

const (
	BreakerClosed   BreakerState = iota // calls pass through
	BreakerOpen                         // calls rejected immediately
	BreakerHalfOpen                     // limited probe calls allowed
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// BreakerSnapshot is a read-only view of breaker internals.
type BreakerSnapshot struct {
	State               BreakerState `json:"state"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	LastFailureTime     time.Time    `json:"last_failure_time,omitzero"`
	HalfOpenAttempts    int          `json:"half_open_attempts"`
}

// Breaker is a three-state circuit breaker shielding the remote cache tier.
// Thread-safe: all transitions happen under one mutex, so they are totally
// ordered. The open to half-open transition is lazy, checked on the next
// call rather than by a timer.
type Breaker struct {
	mu               sync.Mutex
	state            BreakerState
	failures         int
	halfOpenAttempts int
	lastFailure      time.Time

	threshold    int
	resetTimeout time.Duration
	halfOpenMax  int
	now          func() time.Time
	logger       *slog.Logger
}

// BreakerOption configures a Breaker.
type BreakerOption func(*Breaker)

// WithFailureThreshold sets the consecutive-failure count that trips the
// breaker open.
func WithFailureThreshold(n int) BreakerOption {
	return func(b *Breaker) { b.threshold = n }
}

// WithResetTimeout sets how long the breaker stays open before allowing a
// half-open probe.
func WithResetTimeout(d time.Duration) BreakerOption {
	return func(b *Breaker) { b.resetTimeout = d }
}

// WithHalfOpenMaxAttempts sets the probe budget in half-open state.
func WithHalfOpenMaxAttempts(n int) BreakerOption {
	return func(b *Breaker) { b.halfOpenMax = n }
}

// WithBreakerClock sets a custom clock function (for testing).
func WithBreakerClock(fn func() time.Time) BreakerOption {
	return func(b *Breaker) { b.now = fn }
}

// WithBreakerLogger sets the logger for state-transition events.
func WithBreakerLogger(l *slog.Logger) BreakerOption {
	return func(b *Breaker) { b.logger = l }
}

// NewBreaker creates a breaker with defaults: 5 failures to open, 30s reset
// timeout, 1 half-open probe.
func NewBreaker(opts ...BreakerOption) *Breaker {
	b := &Breaker{
		state:        BreakerClosed,
		threshold:    5,
		resetTimeout: 30 * time.Second,
		halfOpenMax:  1,
		now:          time.Now,
		logger:       slog.Default(),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Allow reports whether a call may proceed, consuming a probe slot in
// half-open state.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpen()
	switch b.state {
	case BreakerClosed:
		return true
	case BreakerHalfOpen:
		if b.halfOpenAttempts >= b.halfOpenMax {
			return false
		}
		b.halfOpenAttempts++
		return true
	default:
		return false
	}
}

// RecordSuccess records a successful call. A half-open success closes the
// breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case BreakerHalfOpen:
		b.transition(BreakerClosed)
		b.failures = 0
		b.halfOpenAttempts = 0
	case BreakerClosed:
		b.failures = 0
	}
}

// RecordFailure records a failed call. A half-open failure reopens the
// breaker and restarts the reset clock.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastFailure = b.now()
	switch b.state {
	case BreakerClosed:
		b.failures++
		if b.failures >= b.threshold {
			b.transition(BreakerOpen)
		}
	case BreakerHalfOpen:
		b.transition(BreakerOpen)
		b.halfOpenAttempts = 0
	}
}

// Execute runs fn through the breaker: rejected with ErrCircuitOpen when
// open, otherwise recorded as success or failure.
func (b *Breaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !b.Allow() {
		return ErrCircuitOpen
	}
	if err := fn(ctx); err != nil {
		b.RecordFailure()
		return err
	}
	b.RecordSuccess()
	return nil
}

// State returns the current state, applying the lazy open to half-open
// transition first.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpen()
	return b.state
}

// Snapshot returns a read-only view of the breaker internals.
func (b *Breaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpen()
	return BreakerSnapshot{
		State:               b.state,
		ConsecutiveFailures: b.failures,
		LastFailureTime:     b.lastFailure,
		HalfOpenAttempts:    b.halfOpenAttempts,
	}
}

// Reset forces the breaker back to closed.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != BreakerClosed {
		b.transition(BreakerClosed)
	}
	b.failures = 0
	b.halfOpenAttempts = 0
}

// maybeHalfOpen moves an open breaker to half-open once the reset timeout
// has elapsed. Must be called with mu held.
func (b *Breaker) maybeHalfOpen() {
	if b.state == BreakerOpen && b.now().Sub(b.lastFailure) >= b.resetTimeout {
		b.transition(BreakerHalfOpen)
		b.halfOpenAttempts = 0
	}
}

// transition changes state and logs the edge. Must be called with mu held.
func (b *Breaker) transition(to BreakerState) {
	from := b.state
	b.state = to
	b.logger.Info("cache: breaker state change", "from", from.String(), "to", to.String())
}

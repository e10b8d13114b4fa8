package core

// Circuit breaker + retry wrapper for outbound calls (peer send, backend
// I/O), per spec §5 "Circuit breaker & retry". Grounded on the teacher's
// connection_pool.go (pooled-resource lifecycle, mutex-guarded state
// machine) generalised from connections to arbitrary calls, with backoff
// policy delegated to cenkalti/backoff/v4 rather than a hand-rolled
// jittered loop.

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

// CircuitBreakerConfig mirrors the network section of the config surface.
type CircuitBreakerConfig struct {
	FailureThreshold int           // consecutive failures before opening
	OpenTimeout      time.Duration // how long the breaker stays open
	RetryMaxAttempts int
	RetryInitialDelay time.Duration
	RetryMaxDelay     time.Duration
}

func (c CircuitBreakerConfig) withDefaults() CircuitBreakerConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.OpenTimeout <= 0 {
		c.OpenTimeout = 30 * time.Second
	}
	if c.RetryMaxAttempts <= 0 {
		c.RetryMaxAttempts = 3
	}
	if c.RetryInitialDelay <= 0 {
		c.RetryInitialDelay = 100 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 2 * time.Second
	}
	return c
}

// CircuitBreaker wraps outbound calls. After FailureThreshold consecutive
// errors it opens for OpenTimeout, after which it is half-open: every call
// is let through until the first result arrives, so concurrent calls are
// not limited to a single trial. A success closes the breaker again; a
// failure while half-open reopens it.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu          sync.Mutex
	state       breakerState
	failures    int
	openedUntil time.Time
}

// NewCircuitBreaker constructs a breaker with the given config (zero values
// fall back to sane defaults).
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{cfg: cfg.withDefaults(), state: breakerClosed}
}

// State reports the breaker's externally-visible state for health/status
// endpoints.
func (cb *CircuitBreaker) State() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transitionIfExpiredLocked()
	switch cb.state {
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

func (cb *CircuitBreaker) transitionIfExpiredLocked() {
	if cb.state == breakerOpen && time.Now().After(cb.openedUntil) {
		cb.state = breakerHalfOpen
	}
}

// allow reports whether a call may proceed right now, without retry.
func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transitionIfExpiredLocked()
	return cb.state != breakerOpen
}

func (cb *CircuitBreaker) onResult(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err == nil {
		cb.failures = 0
		cb.state = breakerClosed
		return
	}
	cb.failures++
	if cb.state == breakerHalfOpen || cb.failures >= cb.cfg.FailureThreshold {
		cb.state = breakerOpen
		cb.openedUntil = time.Now().Add(cb.cfg.OpenTimeout)
	}
}

// Call invokes fn once, honoring the breaker's open/closed state. It does
// not retry; use CallWithRetry for the jittered-backoff variant.
func (cb *CircuitBreaker) Call(fn func() error) error {
	if !cb.allow() {
		return fmt.Errorf("core: breaker open: %w", ErrCircuitOpen)
	}
	err := fn()
	cb.onResult(err)
	return err
}

// CallWithRetry invokes fn under the breaker, retrying transient failures
// with jittered exponential backoff up to RetryMaxAttempts. Cancellation
// via ctx is checked at every retry boundary, per spec §5.
func (cb *CircuitBreaker) CallWithRetry(ctx context.Context, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cb.cfg.RetryInitialDelay
	b.MaxInterval = cb.cfg.RetryMaxDelay
	b.MaxElapsedTime = 0
	bctx := backoff.WithContext(backoff.WithMaxRetries(b, uint64(cb.cfg.RetryMaxAttempts)), ctx)

	return backoff.Retry(func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		err := cb.Call(fn)
		if err == nil {
			return nil
		}
		return err
	}, bctx)
}

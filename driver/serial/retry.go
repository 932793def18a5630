package serial

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/easternanemone/rudaq/rudaqerr"
)

// ErrCircuitOpen is returned when a device's breaker has tripped and the
// next retry attempt is not yet due.
var ErrCircuitOpen = errors.New("serial: circuit open")

// RetryPolicy bounds retry/backoff behavior for one device's command
// exchanges. Zero value is a sane default (3 attempts, 50ms base, 2s cap).
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 50 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 2 * time.Second
	}
	return p
}

type breakerPhase int

const (
	breakerClosed breakerPhase = iota
	breakerOpen
	breakerHalfOpen
)

// breaker is a per-device circuit breaker, the same three-state machine as
// internal/ratelimit.domainState.breaker (closed -> open on a failure
// streak, open -> half-open after a cooldown, half-open -> closed after a
// run of successes or back to open on the first renewed failure),
// generalized from per-domain HTTP feedback to per-device transport
// feedback.
type breaker struct {
	mu          sync.Mutex
	phase       breakerPhase
	failures    int
	successes   int
	nextAttempt time.Time
}

const (
	openThreshold       = 5
	halfOpenSuccessGoal = 3
	openCooldown        = 2 * time.Second
	halfOpenCooldown    = 500 * time.Millisecond
)

func (b *breaker) allow(now time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.phase == breakerOpen {
		if now.Before(b.nextAttempt) {
			return ErrCircuitOpen
		}
		b.phase = breakerHalfOpen
		b.successes = 0
	}
	return nil
}

func (b *breaker) recordSuccess(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.phase {
	case breakerHalfOpen:
		b.successes++
		if b.successes >= halfOpenSuccessGoal {
			b.phase = breakerClosed
			b.failures = 0
		}
	case breakerClosed:
		if b.failures > 0 {
			b.failures--
		}
	}
}

func (b *breaker) recordFailure(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.phase {
	case breakerHalfOpen:
		b.phase = breakerOpen
		b.nextAttempt = now.Add(halfOpenCooldown)
	case breakerClosed:
		b.failures++
		if b.failures >= openThreshold {
			b.phase = breakerOpen
			b.nextAttempt = now.Add(openCooldown)
		}
	}
}

// doWithRetry runs op, retrying transport-kind recoverable errors up to
// policy's attempt budget with exponential backoff, short-circuited by the
// device's breaker.
func doWithRetry(ctx context.Context, b *breaker, policy RetryPolicy, op func(ctx context.Context) error) error {
	policy = policy.withDefaults()
	delay := policy.BaseDelay

	for attempt := 1; ; attempt++ {
		now := time.Now()
		if err := b.allow(now); err != nil {
			return rudaqerr.Transport("serial.doWithRetry", err, false)
		}

		err := op(ctx)
		if err == nil {
			b.recordSuccess(time.Now())
			return nil
		}

		if !rudaqerr.Recoverable(err) || attempt >= policy.MaxAttempts {
			b.recordFailure(time.Now())
			return err
		}
		b.recordFailure(time.Now())

		select {
		case <-ctx.Done():
			return rudaqerr.Cancellation("serial.doWithRetry", ctx.Err())
		case <-time.After(delay):
		}
		delay *= 2
		if delay > policy.MaxDelay {
			delay = policy.MaxDelay
		}
	}
}

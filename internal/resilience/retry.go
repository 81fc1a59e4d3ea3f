// Package resilience provides the retry, batching and polling primitives that
// every backend mutation is routed through.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/hrygo/polystore/internal/storeerr"
)

// RetryEvent describes a failed attempt that is about to be retried.
type RetryEvent struct {
	Op      string
	Err     error
	Attempt int
	Delay   time.Duration
}

// Observer is invoked before each retry. Intermediate failures are only
// reported here; they are never returned to the caller.
type Observer func(RetryEvent)

// Policy is an exponential backoff retry policy.
type Policy struct {
	// MaxAttempts counts the first call. Values below 1 mean a single attempt.
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	// Retryable reports whether a backend error is transient. USER and SYSTEM
	// errors are never retried regardless of this function.
	Retryable func(error) bool
	Observer  Observer
}

// DefaultPolicy returns the policy used when a profile does not override it.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     5,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Multiplier:      2,
	}
}

// WithRetryable returns a copy of the policy using the given classifier.
func (p Policy) WithRetryable(fn func(error) bool) Policy {
	p.Retryable = fn
	return p
}

// WithObserver returns a copy of the policy reporting retries to fn.
func (p Policy) WithObserver(fn Observer) Policy {
	p.Observer = fn
	return p
}

func (p Policy) shouldRetry(err error) bool {
	if storeerr.IsUser(err) || storeerr.IsSystem(err) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if p.Retryable != nil {
		return p.Retryable(err)
	}
	return true
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	initial := p.InitialInterval
	if initial <= 0 {
		initial = 100 * time.Millisecond
	}
	maxInterval := p.MaxInterval
	if maxInterval < initial {
		maxInterval = initial
	}
	multiplier := p.Multiplier
	if multiplier < 1 {
		multiplier = 2
	}
	exp := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(initial),
		backoff.WithMaxInterval(maxInterval),
		backoff.WithMultiplier(multiplier),
		backoff.WithMaxElapsedTime(0),
	)
	retries := p.MaxAttempts - 1
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(retries)), ctx)
}

// Do runs fn until it succeeds, fails with a non-retryable error, or the
// attempt budget is spent. A final backend failure is wrapped as THIRD_PARTY
// with the operation name.
func (p Policy) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	attempt := 0
	operation := func() error {
		attempt++
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if !p.shouldRetry(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, delay time.Duration) {
		slog.Warn("retrying backend operation",
			slog.String("op", op),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
		if p.Observer != nil {
			p.Observer(RetryEvent{Op: op, Err: err, Attempt: attempt, Delay: delay})
		}
	}

	err := backoff.RetryNotify(operation, p.backOff(ctx), notify)
	if err == nil {
		return nil
	}
	var categorized *storeerr.Error
	if errors.As(err, &categorized) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return storeerr.ThirdParty(op, err).With("attempts", attempt)
}

// Package retry runs operations with exponential backoff and keeps the
// persisted queue of operations deferred while the device was offline.
package retry

import (
	"context"
	"math/rand/v2"
	"time"
)

const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = time.Second
	MaxDelay           = 30 * time.Second
	maxJitter          = time.Second
)

// Options tune WithRetry. The zero value uses the defaults; a negative
// MaxAttempts means a single attempt.
type Options struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// OnRetry is called before each wait with the 1-based number of the
	// attempt that just failed and the delay about to be slept.
	OnRetry func(attempt int, delay time.Duration)
	Sleep   func(ctx context.Context, d time.Duration) error
	// Jitter returns a value in [0, 1s); nil means random.
	Jitter func() time.Duration
}

func (o Options) withDefaults() Options {
	switch {
	case o.MaxAttempts == 0:
		o.MaxAttempts = DefaultMaxAttempts
	case o.MaxAttempts < 1:
		o.MaxAttempts = 1
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = DefaultBaseDelay
	}
	if o.Sleep == nil {
		o.Sleep = Sleep
	}
	if o.Jitter == nil {
		o.Jitter = randomJitter
	}
	return o
}

func randomJitter() time.Duration {
	return rand.N(maxJitter)
}

// Backoff is the jitter-free delay after the given 1-based attempt:
// base*2^(attempt-1), capped at MaxDelay.
func Backoff(attempt int, base time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		if d >= MaxDelay {
			return MaxDelay
		}
		d *= 2
	}
	if d > MaxDelay || d < 0 {
		return MaxDelay
	}
	return d
}

// Delay adds jitter to Backoff and applies the cap again.
func Delay(attempt int, base, jitter time.Duration) time.Duration {
	d := Backoff(attempt, base) + jitter
	if d > MaxDelay {
		return MaxDelay
	}
	return d
}

// WithRetry calls op until it succeeds or MaxAttempts calls have failed,
// in which case the last error is returned unchanged. A cancelled context
// ends the wait early with ctx.Err().
func WithRetry[T any](ctx context.Context, op func(ctx context.Context) (T, error), opts Options) (T, error) {
	opts = opts.withDefaults()
	var zero T
	var lastErr error
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		lastErr = err
		if attempt == opts.MaxAttempts {
			break
		}
		delay := Delay(attempt, opts.BaseDelay, opts.Jitter())
		if opts.OnRetry != nil {
			opts.OnRetry(attempt, delay)
		}
		if err := opts.Sleep(ctx, delay); err != nil {
			return zero, err
		}
	}
	return zero, lastErr
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// NoSleep is a Sleep that returns at once; used in tests and replays.
func NoSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

package rss

import (
	"context"
	"time"

	"github.com/juju/clock"
	"github.com/juju/retry"
)

// Backoff is the retry policy for one feed retrieval: MaxAttempts tries with an
// exponentially growing pause (BaseDelay, 2*BaseDelay, 4*BaseDelay, ...) between them.
type Backoff struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration // zero means uncapped
	Clock       clock.Clock
}

// Delay returns the pause that follows failed attempt n (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := b.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if b.MaxDelay > 0 && d >= b.MaxDelay {
			return b.MaxDelay
		}
	}
	if b.MaxDelay > 0 && d > b.MaxDelay {
		return b.MaxDelay
	}
	return d
}

// Do calls fn until it succeeds, the attempts run out or ctx is done.
// notify, if set, sees every failed attempt. On failure the error is a
// *FetchError carrying url, the number of attempts made and the last cause.
func (b Backoff) Do(ctx context.Context, url string, fn func(ctx context.Context, attempt int) error, notify func(err error, attempt int)) error {
	clk := b.Clock
	if clk == nil {
		clk = clock.WallClock
	}

	attempts := 0
	var lastErr error
	err := retry.Call(retry.CallArgs{
		Func: func() error {
			attempts++
			lastErr = fn(ctx, attempts)
			return lastErr
		},
		// A cancelled caller is not worth another attempt.
		IsFatalError: func(error) bool { return ctx.Err() != nil },
		NotifyFunc:   notify,
		Attempts:     b.MaxAttempts,
		Delay:        b.Delay(1),
		BackoffFunc: func(_ time.Duration, attempt int) time.Duration {
			return b.Delay(attempt)
		},
		Clock: clk,
		Stop:  ctx.Done(),
	})
	if err == nil {
		return nil
	}
	if lastErr == nil {
		lastErr = err
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		lastErr = ctxErr
	}
	return &FetchError{URL: url, Attempts: attempts, Err: lastErr}
}

// File: internal/waiter/waiter.go
// Package waiter provides the polling primitive every page interaction is built on.
package waiter

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Probe inspects the page once. It returns the observed value and whether the
// condition holds. A non-nil error aborts the wait.
type Probe[T any] func(ctx context.Context) (T, bool, error)

// Until evaluates probe immediately and then once per interval until it holds or
// timeout elapses. A timeout is not an error: the result is simply absent.
// Cancellation of ctx is returned as ctx.Err().
func Until[T any](ctx context.Context, interval, timeout time.Duration, probe Probe[T]) (T, bool, error) {
	var zero T
	if interval <= 0 {
		interval = time.Millisecond
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	deadline, _ := waitCtx.Deadline()

	// The first token is available immediately; the probe runs before any sleep.
	limiter := rate.NewLimiter(rate.Every(interval), 1)
	for {
		if err := limiter.Wait(waitCtx); err != nil {
			if ctx.Err() != nil {
				return zero, false, ctx.Err()
			}
			// Wait fails early when the next token lands past the deadline.
			// The condition gets a final look at the deadline itself.
			return final(ctx, time.Until(deadline), probe)
		}

		v, ok, err := probe(ctx)
		if err != nil {
			return zero, false, err
		}
		if ok {
			return v, true, nil
		}
	}
}

func final[T any](ctx context.Context, remaining time.Duration, probe Probe[T]) (T, bool, error) {
	var zero T
	if err := Pause(ctx, remaining); err != nil {
		return zero, false, err
	}
	v, ok, err := probe(ctx)
	if err != nil || !ok {
		return zero, false, err
	}
	return v, true, nil
}

// Condition adapts a boolean check into a Probe.
func Condition(check func(ctx context.Context) (bool, error)) Probe[struct{}] {
	return func(ctx context.Context) (struct{}, bool, error) {
		ok, err := check(ctx)
		return struct{}{}, ok, err
	}
}

// UntilTrue is Until for probes that carry no value.
func UntilTrue(ctx context.Context, interval, timeout time.Duration, check func(ctx context.Context) (bool, error)) (bool, error) {
	_, ok, err := Until(ctx, interval, timeout, Condition(check))
	return ok, err
}

// Pause sleeps for d unless ctx is cancelled first.
func Pause(ctx context.Context, d time.Duration) error {
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

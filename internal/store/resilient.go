package store

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
	"github.com/webitel/rendezvous-signaling/internal/apierr"
)

// permanent marks errors that should never be retried: the store behaved
// correctly and simply reported an expected outcome (absence, conflict), or
// a CompareAndSwap UpdateFunc rejected the mutation for a domain reason
// (mailbox gone, participant cap, etc). Anything else reaching Resilient is
// assumed to be a transient failure of the backing store itself (connection
// reset, timeout, ...).
func permanent(err error) bool {
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrCASConflict) || errors.Is(err, ErrListFull) {
		return true
	}
	var apiErr *apierr.Error
	return errors.As(err, &apiErr)
}

// Resilient wraps a Store with the bounded-retry-then-circuit-break policy
// spec §4.6/§7 describe for transient backing-store errors: "retried
// internally with bounded backoff (3 attempts, jittered)... persistent
// errors surface as ServiceUnavailable". The circuit breaker additionally
// stops hammering a backend that is down hard, so a wedged Redis doesn't
// pile up retrying goroutines against it.
type Resilient struct {
	inner   Store
	breaker *gobreaker.CircuitBreaker[any]
}

// NewResilient wraps inner. name is the circuit breaker's name.
func NewResilient(inner Store, name string) *Resilient {
	cb := gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 5 && counts.ConsecutiveFailures >= 5
		},
	})
	return &Resilient{inner: inner, breaker: cb}
}

func retryPolicy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 20 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond
	b.MaxElapsedTime = 0 // bounded by WithMaxRetries below, not elapsed time
	return backoff.WithContext(backoff.WithMaxRetries(b, 2), ctx) // 2 retries + first try = 3 attempts
}

func run[T any](ctx context.Context, r *Resilient, fn func() (T, error)) (T, error) {
	var zero T
	res, err := r.breaker.Execute(func() (any, error) {
		var out T
		opErr := backoff.Retry(func() error {
			var innerErr error
			out, innerErr = fn()
			if innerErr == nil || permanent(innerErr) {
				return backoff.Permanent(innerErr)
			}
			return innerErr
		}, retryPolicy(ctx))
		return out, opErr
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, ErrServiceUnavailable(err)
		}
		if permanent(err) {
			return zero, err
		}
		return zero, ErrServiceUnavailable(err)
	}
	out, _ := res.(T)
	return out, nil
}

// ErrServiceUnavailable wraps cause as the "backing store unavailable after
// retries" outcome; kept as a function (not a package-level value) so it
// always carries the triggering error.
func ErrServiceUnavailable(cause error) error {
	return &unavailableError{cause: cause}
}

type unavailableError struct{ cause error }

func (e *unavailableError) Error() string { return "store: unavailable: " + e.cause.Error() }
func (e *unavailableError) Unwrap() error { return e.cause }

func (r *Resilient) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return run(ctx, r, func() (bool, error) { return r.inner.SetNX(ctx, key, value, ttl) })
}

func (r *Resilient) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := run(ctx, r, func() (struct{}, error) { return struct{}{}, r.inner.Set(ctx, key, value, ttl) })
	return err
}

func (r *Resilient) Get(ctx context.Context, key string) ([]byte, error) {
	return run(ctx, r, func() ([]byte, error) { return r.inner.Get(ctx, key) })
}

func (r *Resilient) Delete(ctx context.Context, key string) error {
	_, err := run(ctx, r, func() (struct{}, error) { return struct{}{}, r.inner.Delete(ctx, key) })
	return err
}

func (r *Resilient) GetDelete(ctx context.Context, key string) ([]byte, error) {
	return run(ctx, r, func() ([]byte, error) { return r.inner.GetDelete(ctx, key) })
}

func (r *Resilient) CompareAndSwap(ctx context.Context, key string, update UpdateFunc) error {
	_, err := run(ctx, r, func() (struct{}, error) { return struct{}{}, r.inner.CompareAndSwap(ctx, key, update) })
	return err
}

func (r *Resilient) ListAppend(ctx context.Context, key string, value []byte, maxLen int, ttl time.Duration) (int, error) {
	return run(ctx, r, func() (int, error) { return r.inner.ListAppend(ctx, key, value, maxLen, ttl) })
}

func (r *Resilient) ListRange(ctx context.Context, key string) ([][]byte, error) {
	return run(ctx, r, func() ([][]byte, error) { return r.inner.ListRange(ctx, key) })
}

func (r *Resilient) Touch(ctx context.Context, key string, ttl time.Duration) error {
	_, err := run(ctx, r, func() (struct{}, error) { return struct{}{}, r.inner.Touch(ctx, key, ttl) })
	return err
}

func (r *Resilient) Close() error {
	return r.inner.Close()
}

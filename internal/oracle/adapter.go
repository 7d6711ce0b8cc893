package oracle

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"pickupopt/internal/geo"
	"pickupopt/internal/metrics"
	"pickupopt/internal/routing"
)

// UnavailableError means the provider kept failing after every retry. The
// optimizer treats the pair as unreachable.
type UnavailableError struct {
	Query    Query
	Attempts int
	Err      error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("oracle: travel-time provider unavailable for %s after %d attempt(s): %v", e.Query, e.Attempts, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Options tune an Adapter. Zero values fall back to the defaults below.
// PrecisionDigits is a pointer so that 0 (round to whole degrees) can be
// told apart from unset; a negative value disables coordinate rounding.
type Options struct {
	Concurrency       int
	MaxRetries        int
	RetryBaseDelay    time.Duration
	RetryMaxDelay     time.Duration
	PrecisionDigits   *int
	RequestsPerSecond float64
	Burst             int
}

const (
	DefaultConcurrency     = 8
	DefaultRetryBaseDelay  = 200 * time.Millisecond
	DefaultRetryMaxDelay   = 5 * time.Second
	DefaultPrecisionDigits = 5
)

// Adapter answers travel-time queries for the optimizer.
type Adapter struct {
	provider routing.Provider
	cache    Cache
	opts     Options
	digits   int
	sem      *semaphore.Weighted
	limiter  *rate.Limiter
	flights  singleflight.Group
	calls    atomic.Int64
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewAdapter wires a provider and a cache. A nil cache means a private
// MemoryCache.
func NewAdapter(p routing.Provider, c Cache, opts Options) *Adapter {
	if c == nil {
		c = NewMemoryCache()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}
	digits := DefaultPrecisionDigits
	if opts.PrecisionDigits != nil {
		digits = *opts.PrecisionDigits
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if opts.RetryMaxDelay <= 0 {
		opts.RetryMaxDelay = DefaultRetryMaxDelay
	}
	a := &Adapter{
		provider: p,
		cache:    c,
		opts:     opts,
		digits:   digits,
		sem:      semaphore.NewWeighted(int64(opts.Concurrency)),
		sleep:    sleepCtx,
	}
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		a.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return a
}

// Concurrency is the ceiling on simultaneous provider calls.
func (a *Adapter) Concurrency() int { return a.opts.Concurrency }

// ProviderCalls is the number of provider requests issued so far, retries
// included.
func (a *Adapter) ProviderCalls() int64 { return a.calls.Load() }

// Reset drops every cached travel time.
func (a *Adapter) Reset(ctx context.Context) error { return a.cache.Clear(ctx) }

type queueDeadlineKey struct{}

// WithQueueDeadline bounds how long lookups made with ctx may wait for a
// provider slot. A lookup still queued at t fails with
// context.DeadlineExceeded; one already at the provider runs to completion.
func WithQueueDeadline(ctx context.Context, t time.Time) context.Context {
	return context.WithValue(ctx, queueDeadlineKey{}, t)
}

func queueContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if t, ok := ctx.Value(queueDeadlineKey{}).(time.Time); ok {
		return context.WithDeadline(ctx, t)
	}
	return context.WithCancel(ctx)
}

// TimeBetween returns the driving time from origin to destination.
//
// A cached answer is returned without touching the provider. Otherwise
// concurrent callers for the same rounded pair share one provider call. The
// wait for a provider slot follows the context of the caller that started
// the shared call; once the slot is held the call is detached, so an
// abandoned lookup still lands in the cache.
func (a *Adapter) TimeBetween(ctx context.Context, origin, destination geo.Coordinate) (TravelTime, error) {
	q := NewQuery(origin, destination, a.digits)
	key := q.Key()
	if tt, ok := a.lookup(ctx, key); ok {
		metrics.OracleCache.WithLabelValues("hit").Inc()
		return tt, nil
	}
	metrics.OracleCache.WithLabelValues("miss").Inc()

	for {
		ch := a.flights.DoChan(key, func() (any, error) {
			qctx, cancel := queueContext(ctx)
			defer cancel()
			if err := qctx.Err(); err != nil {
				return Unreachable, &queueError{err}
			}
			if err := a.sem.Acquire(qctx, 1); err != nil {
				return Unreachable, &queueError{err}
			}
			defer a.sem.Release(1)

			fctx := context.WithoutCancel(ctx)
			// A flight for this key may have finished between our lookup and
			// DoChan; its answer is already cached.
			if tt, ok := a.lookup(fctx, key); ok {
				return tt, nil
			}
			tt, err := a.fetch(fctx, q)
			if err != nil {
				return Unreachable, err
			}
			if err := a.cache.Set(fctx, key, tt); err != nil {
				log.Warn().Err(err).Str("key", key).Msg("travel-time cache write failed")
			}
			return tt, nil
		})
		select {
		case res := <-ch:
			var qe *queueError
			if errors.As(res.Err, &qe) && !queueExpired(ctx) {
				// the caller that started the flight gave up while queued
				continue
			}
			if res.Shared {
				metrics.OracleCoalesced.Inc()
			}
			tt, _ := res.Val.(TravelTime)
			return tt, res.Err
		case <-ctx.Done():
			return Unreachable, ctx.Err()
		}
	}
}

// queueError is a lookup that gave up before reaching the provider.
type queueError struct{ err error }

func (e *queueError) Error() string { return "oracle: waiting for a provider slot: " + e.err.Error() }
func (e *queueError) Unwrap() error { return e.err }

// queueExpired reports whether ctx may no longer start a provider call.
func queueExpired(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	t, ok := ctx.Value(queueDeadlineKey{}).(time.Time)
	return ok && !time.Now().Before(t)
}

func (a *Adapter) lookup(ctx context.Context, key string) (TravelTime, bool) {
	tt, ok, err := a.cache.Get(ctx, key)
	if err != nil {
		metrics.OracleCache.WithLabelValues("error").Inc()
		log.Warn().Err(err).Str("key", key).Msg("travel-time cache read failed")
		return Unreachable, false
	}
	return tt, ok
}

// fetch runs the retry sequence inside the caller's concurrency slot.
func (a *Adapter) fetch(ctx context.Context, q Query) (TravelTime, error) {
	metrics.OracleInflight.Inc()
	defer metrics.OracleInflight.Dec()

	attempts := 0
	var lastErr error
	for {
		if a.limiter != nil {
			if err := a.limiter.Wait(ctx); err != nil {
				return Unreachable, err
			}
		}
		attempts++
		a.calls.Add(1)
		start := time.Now()
		rt, err := a.provider.Route(ctx, q.Origin, q.Destination)
		metrics.OracleLatency.Observe(time.Since(start).Seconds())
		if err == nil {
			metrics.OracleCalls.WithLabelValues("ok").Inc()
			return Seconds(rt.DurationSeconds), nil
		}
		if errors.Is(err, routing.ErrNoRoute) {
			metrics.OracleCalls.WithLabelValues("no_route").Inc()
			log.Debug().Str("query", q.String()).Msg("provider found no route")
			return Unreachable, nil
		}
		lastErr = err
		if !routing.IsTransient(err) || attempts > a.opts.MaxRetries {
			break
		}
		delay := a.backoff(attempts - 1)
		metrics.OracleRetries.Inc()
		log.Debug().Err(err).Str("query", q.String()).Int("attempt", attempts).Dur("backoff", delay).Msg("travel-time provider failed, retrying")
		if err := a.sleep(ctx, delay); err != nil {
			return Unreachable, err
		}
	}
	metrics.OracleCalls.WithLabelValues("unavailable").Inc()
	return Unreachable, &UnavailableError{Query: q, Attempts: attempts, Err: lastErr}
}

// backoff doubles the base delay per attempt up to the configured maximum.
func (a *Adapter) backoff(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if attempt > 16 {
		attempt = 16
	}
	d := a.opts.RetryBaseDelay * time.Duration(1<<attempt)
	if d > a.opts.RetryMaxDelay {
		d = a.opts.RetryMaxDelay
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package service

import (
	"context"
	"reflect"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/refulearn/cache-service/internal/domain/entity"
	"github.com/refulearn/cache-service/internal/platform/logger"
	"github.com/refulearn/cache-service/internal/platform/metrics"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

// FetchFunc is the remote call a ResilientFetcher wraps.
type FetchFunc[T any] func(ctx context.Context) (T, error)

// EmptyFunc reports whether a value counts as "no data".
type EmptyFunc[T any] func(v T) bool

type FetcherOption[T any] func(*ResilientFetcher[T])

// WithEmptyFunc replaces the reflection based emptiness check used by Reconcile.
func WithEmptyFunc[T any](fn EmptyFunc[T]) FetcherOption[T] {
	return func(f *ResilientFetcher[T]) {
		if fn != nil {
			f.isEmpty = fn
		}
	}
}

// WithCoalescing makes concurrent Loads of the same key share one retry
// sequence. The first caller's context drives the shared call.
func WithCoalescing[T any]() FetcherOption[T] {
	return func(f *ResilientFetcher[T]) {
		f.group = &singleflight.Group{}
	}
}

// WithKeepCachedOnEmpty stops Load from writing an empty fresh value over the
// cache, so a transient empty response never blanks a stored snapshot.
func WithKeepCachedOnEmpty[T any]() FetcherOption[T] {
	return func(f *ResilientFetcher[T]) {
		f.keepCachedOnEmpty = true
	}
}

func WithMetrics[T any](m *metrics.MetricsManager) FetcherOption[T] {
	return func(f *ResilientFetcher[T]) {
		f.metrics = m
	}
}

// WithRetryHook is called before every backoff wait with the failed attempt
// number and the wait that follows it.
func WithRetryHook[T any](fn func(attempt int, wait time.Duration)) FetcherOption[T] {
	return func(f *ResilientFetcher[T]) {
		f.onRetry = fn
	}
}

// ResilientFetcher prefers a live value, retries failed calls with linear
// backoff and falls back to the last cached snapshot. Load never fails.
type ResilientFetcher[T any] struct {
	store             CacheStore
	policy            entity.RetryPolicy
	log               logger.Logger
	metrics           *metrics.MetricsManager
	isEmpty           EmptyFunc[T]
	group             *singleflight.Group
	keepCachedOnEmpty bool
	onRetry           func(attempt int, wait time.Duration)
	tracer            trace.Tracer
}

func NewResilientFetcher[T any](store CacheStore, policy entity.RetryPolicy, log logger.Logger, opts ...FetcherOption[T]) *ResilientFetcher[T] {
	if log == nil {
		log = logger.NewNop()
	}
	f := &ResilientFetcher[T]{
		store:   store,
		policy:  policy.Normalize(),
		log:     log.Named("resilient_fetcher"),
		isEmpty: IsEmpty[T],
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *ResilientFetcher[T]) Policy() entity.RetryPolicy {
	return f.policy
}

// Load calls fetch up to MaxAttempts times, waiting BaseDelay*n after the
// n-th failure. A success is written through to the cache and tagged Fresh.
// When every attempt fails, or ctx is done, the cached value is returned
// tagged Cached, else def tagged Empty.
func (f *ResilientFetcher[T]) Load(ctx context.Context, key string, fetch FetchFunc[T], def T) entity.LoadResult[T] {
	if f.group == nil {
		return f.load(ctx, key, fetch, def)
	}
	v, _, _ := f.group.Do(key, func() (interface{}, error) {
		return f.load(ctx, key, fetch, def), nil
	})
	return v.(entity.LoadResult[T])
}

func (f *ResilientFetcher[T]) load(ctx context.Context, key string, fetch FetchFunc[T], def T) entity.LoadResult[T] {
	ctx, span := f.tracer.Start(ctx, "ResilientFetcher.Load", trace.WithAttributes(attribute.String("cache.key", key)))
	defer span.End()

	attempts := 0
	operation := func() (T, error) {
		attempts++
		f.metrics.FetchAttempt(key)
		return fetch(ctx)
	}
	notify := func(err error, wait time.Duration) {
		f.metrics.FetchRetry(key)
		f.log.Warnf("Fetch %s attempt %d/%d failed, retrying in %s: %v", key, attempts, f.policy.MaxAttempts, wait, err)
		if f.onRetry != nil {
			f.onRetry(attempts, wait)
		}
	}

	var retries backoff.BackOff = &backoff.StopBackOff{}
	if f.policy.MaxAttempts > 1 {
		retries = backoff.WithMaxRetries(newLinearBackOff(f.policy), uint64(f.policy.MaxAttempts-1))
	}
	value, err := backoff.RetryNotifyWithData(operation, backoff.WithContext(retries, ctx), notify)
	span.SetAttributes(attribute.Int("fetch.attempts", attempts))

	if err == nil {
		if f.keepCachedOnEmpty && f.isEmpty(value) {
			f.log.Debugf("Fetch %s returned no data, keeping cached snapshot", key)
		} else {
			f.store.Write(ctx, key, value)
		}
		return f.result(span, key, value, entity.SourceFresh, attempts)
	}

	f.log.Errorf("All %d fetch attempts for %s failed, falling back to cache: %v", attempts, key, err)

	// The cache read must still run when the caller gave up.
	readCtx := context.WithoutCancel(ctx)
	var cached T
	if f.store.Read(readCtx, key, &cached) {
		return f.result(span, key, cached, entity.SourceCached, attempts)
	}
	return f.result(span, key, def, entity.SourceEmpty, attempts)
}

func (f *ResilientFetcher[T]) result(span trace.Span, key string, v T, src entity.Source, attempts int) entity.LoadResult[T] {
	span.SetAttributes(attribute.String("load.source", src.String()))
	f.metrics.LoadOutcome(key, src.String())
	return entity.LoadResult[T]{Value: v, Source: src, Attempts: attempts}
}

// Reconcile decides what in-memory state to keep after a refresh. A non-empty
// next always wins and is cached. Otherwise an empty current adopts a
// non-empty cached value, and a populated current is never replaced by an
// empty response.
func (f *ResilientFetcher[T]) Reconcile(ctx context.Context, current, next T, key string) T {
	if !f.isEmpty(next) {
		f.store.Write(ctx, key, next)
		f.log.Debugf("Updated %s with fresh data", key)
		return next
	}
	if f.isEmpty(current) {
		var cached T
		if f.store.Read(ctx, key, &cached) && !f.isEmpty(cached) {
			f.log.Debugf("Restored %s from cache", key)
			return cached
		}
		return current
	}
	f.log.Debugf("Keeping existing %s data", key)
	return current
}

// IsEmpty treats zero-length strings, slices, maps and arrays, nil pointers
// and interfaces, and zero values as empty.
func IsEmpty[T any](v T) bool {
	rv := reflect.ValueOf(any(v))
	if !rv.IsValid() {
		return true
	}
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.String, reflect.Array:
		return rv.Len() == 0
	case reflect.Ptr, reflect.Interface:
		return rv.IsNil()
	default:
		return rv.IsZero()
	}
}

// linearBackOff waits BaseDelay*n before the n-th retry. When MaxElapsed is
// set it stops once the next wait would push the total past it.
type linearBackOff struct {
	policy entity.RetryPolicy
	n      int
	waited time.Duration
}

func newLinearBackOff(p entity.RetryPolicy) *linearBackOff {
	return &linearBackOff{policy: p}
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.n++
	d := b.policy.DelayFor(b.n)
	if b.policy.MaxElapsed > 0 && b.waited+d > b.policy.MaxElapsed {
		return backoff.Stop
	}
	b.waited += d
	return d
}

func (b *linearBackOff) Reset() {
	b.n = 0
	b.waited = 0
}

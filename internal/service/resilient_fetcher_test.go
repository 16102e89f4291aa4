package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/refulearn/cache-service/internal/domain/entity"
	"github.com/refulearn/cache-service/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

var errUpstream = errors.New("upstream unavailable")

type ResilientFetcherSuite struct {
	suite.Suite
	ctx    context.Context
	store  CacheStore
	policy entity.RetryPolicy
}

func (s *ResilientFetcherSuite) SetupTest() {
	s.ctx = context.Background()
	s.store, _ = newMemoryStore(CacheStoreConfig{})
	s.policy = entity.RetryPolicy{MaxAttempts: 3, BaseDelay: 10 * time.Millisecond}
}

func TestResilientFetcherSuite(t *testing.T) {
	suite.Run(t, new(ResilientFetcherSuite))
}

// failingTimes returns a fetch that fails n times before returning v.
func failingTimes[T any](n int, v T, calls *int32) FetchFunc[T] {
	return func(context.Context) (T, error) {
		c := atomic.AddInt32(calls, 1)
		if int(c) <= n {
			var zero T
			return zero, errUpstream
		}
		return v, nil
	}
}

func alwaysFails[T any](calls *int32) FetchFunc[T] {
	return func(context.Context) (T, error) {
		atomic.AddInt32(calls, 1)
		var zero T
		return zero, errUpstream
	}
}

func (s *ResilientFetcherSuite) TestLoad_SucceedsAfterRetries() {
	var waits []time.Duration
	f := NewResilientFetcher[[]int](s.store, s.policy, logger.NewNop(),
		WithRetryHook[[]int](func(_ int, wait time.Duration) { waits = append(waits, wait) }))

	var calls int32
	start := time.Now()
	res := f.Load(s.ctx, "jobs", failingTimes(s.policy.MaxAttempts-1, []int{1, 2}, &calls), nil)
	elapsed := time.Since(start)

	s.Equal([]int{1, 2}, res.Value)
	s.Equal(entity.SourceFresh, res.Source)
	s.False(res.Stale())
	s.Equal(3, res.Attempts)
	s.Equal(int32(3), calls)
	s.Equal([]time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, waits)
	s.GreaterOrEqual(elapsed, 30*time.Millisecond)

	s.Equal([]int{1, 2}, ReadOr(s.ctx, s.store, "jobs", []int(nil)))
}

func (s *ResilientFetcherSuite) TestLoad_AlwaysFailsWithoutCacheReturnsDefault() {
	f := NewResilientFetcher[[]int](s.store, s.policy, logger.NewNop())

	var calls int32
	var res entity.LoadResult[[]int]
	s.NotPanics(func() {
		res = f.Load(s.ctx, "jobs", alwaysFails[[]int](&calls), []int{})
	})

	s.Equal([]int{}, res.Value)
	s.Equal(entity.SourceEmpty, res.Source)
	s.Equal(int32(3), calls)
	s.Equal(3, res.Attempts)
}

func (s *ResilientFetcherSuite) TestLoad_DegradesToCachedJobs() {
	type jobItem struct {
		ID int `json:"id"`
	}
	s.store.Write(s.ctx, "jobs", []jobItem{{ID: 1}})

	f := NewResilientFetcher[[]jobItem](s.store, s.policy, logger.NewNop())
	var calls int32
	res := f.Load(s.ctx, "jobs", alwaysFails[[]jobItem](&calls), []jobItem{})

	s.Equal([]jobItem{{ID: 1}}, res.Value)
	s.Equal(entity.SourceCached, res.Source)
	s.True(res.Stale())
}

func (s *ResilientFetcherSuite) TestLoad_SingleAttemptPolicy() {
	f := NewResilientFetcher[string](s.store, entity.RetryPolicy{MaxAttempts: 1, BaseDelay: time.Hour}, logger.NewNop())

	var calls int32
	start := time.Now()
	res := f.Load(s.ctx, "k", alwaysFails[string](&calls), "def")

	s.Equal("def", res.Value)
	s.Equal(int32(1), calls)
	s.Less(time.Since(start), time.Second)
}

func (s *ResilientFetcherSuite) TestLoad_ContextCancelStopsWaiting() {
	s.store.Write(s.ctx, "jobs", []int{7})
	f := NewResilientFetcher[[]int](s.store, entity.RetryPolicy{MaxAttempts: 3, BaseDelay: time.Hour}, logger.NewNop())

	ctx, cancel := context.WithCancel(s.ctx)
	time.AfterFunc(20*time.Millisecond, cancel)

	var calls int32
	start := time.Now()
	res := f.Load(ctx, "jobs", alwaysFails[[]int](&calls), nil)

	s.Less(time.Since(start), 5*time.Second)
	s.Equal(int32(1), calls)
	s.Equal(entity.SourceCached, res.Source)
	s.Equal([]int{7}, res.Value)
}

func (s *ResilientFetcherSuite) TestLoad_MaxElapsedCapsRetries() {
	policy := entity.RetryPolicy{MaxAttempts: 5, BaseDelay: 10 * time.Millisecond, MaxElapsed: 25 * time.Millisecond}
	f := NewResilientFetcher[int](s.store, policy, logger.NewNop())

	var calls int32
	res := f.Load(s.ctx, "n", alwaysFails[int](&calls), -1)

	// waits 10ms, then 20ms would exceed the cap
	s.Equal(int32(2), calls)
	s.Equal(-1, res.Value)
	s.Equal(entity.SourceEmpty, res.Source)
}

func (s *ResilientFetcherSuite) TestLoad_KeepCachedOnEmpty() {
	s.store.Write(s.ctx, "jobs", []int{1})

	f := NewResilientFetcher[[]int](s.store, s.policy, logger.NewNop(), WithKeepCachedOnEmpty[[]int]())
	res := f.Load(s.ctx, "jobs", func(context.Context) ([]int, error) { return []int{}, nil }, nil)

	s.Equal(entity.SourceFresh, res.Source)
	s.Equal([]int{}, res.Value)
	s.Equal([]int{1}, ReadOr(s.ctx, s.store, "jobs", []int(nil)))
}

func (s *ResilientFetcherSuite) TestLoad_EmptySuccessOverwritesByDefault() {
	s.store.Write(s.ctx, "jobs", []int{1})

	f := NewResilientFetcher[[]int](s.store, s.policy, logger.NewNop())
	f.Load(s.ctx, "jobs", func(context.Context) ([]int, error) { return []int{}, nil }, nil)

	s.Equal([]int{}, ReadOr(s.ctx, s.store, "jobs", []int(nil)))
}

func (s *ResilientFetcherSuite) TestReconcile_AdoptsFreshData() {
	f := NewResilientFetcher[[]int](s.store, s.policy, logger.NewNop())

	got := f.Reconcile(s.ctx, []int{}, []int{1, 2}, "k")

	s.Equal([]int{1, 2}, got)
	s.Equal([]int{1, 2}, ReadOr(s.ctx, s.store, "k", []int(nil)))
}

func (s *ResilientFetcherSuite) TestReconcile_EmptyNeverRegressesPopulated() {
	s.store.Write(s.ctx, "k", []int{9})
	f := NewResilientFetcher[[]int](s.store, s.policy, logger.NewNop())

	got := f.Reconcile(s.ctx, []int{1, 2}, []int{}, "k")

	s.Equal([]int{1, 2}, got)
	s.Equal([]int{9}, ReadOr(s.ctx, s.store, "k", []int(nil)))
}

func (s *ResilientFetcherSuite) TestReconcile_EmptyStateAdoptsCache() {
	s.store.Write(s.ctx, "k", []int{3, 4})
	f := NewResilientFetcher[[]int](s.store, s.policy, logger.NewNop())

	s.Equal([]int{3, 4}, f.Reconcile(s.ctx, []int{}, []int{}, "k"))
}

func (s *ResilientFetcherSuite) TestReconcile_EmptyEverywhereStaysEmpty() {
	s.store.Write(s.ctx, "k", []int{})
	f := NewResilientFetcher[[]int](s.store, s.policy, logger.NewNop())

	s.Equal([]int{}, f.Reconcile(s.ctx, []int{}, nil, "k"))
	s.Equal([]int(nil), f.Reconcile(s.ctx, nil, nil, "never_written"))
}

func (s *ResilientFetcherSuite) TestReconcile_CustomEmptyFunc() {
	f := NewResilientFetcher[json.RawMessage](s.store, s.policy, logger.NewNop(), WithEmptyFunc[json.RawMessage](IsEmptyJSON))

	got := f.Reconcile(s.ctx, json.RawMessage(`[1]`), json.RawMessage(`[]`), "k")

	s.JSONEq(`[1]`, string(got))
}

func TestResilientFetcher_Coalescing(t *testing.T) {
	store, _ := newMemoryStore(CacheStoreConfig{})
	f := NewResilientFetcher[int](store, entity.DefaultRetryPolicy(), logger.NewNop(), WithCoalescing[int]())

	var calls int32
	started := make(chan struct{})
	release := make(chan struct{})
	fetch := func(context.Context) (int, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(started)
		}
		<-release
		return 42, nil
	}

	var wg sync.WaitGroup
	results := make([]entity.LoadResult[int], 2)
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0] = f.Load(context.Background(), "n", fetch, 0)
	}()
	<-started
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1] = f.Load(context.Background(), "n", fetch, 0)
	}()
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	assert.Equal(t, 42, results[0].Value)
	assert.Equal(t, 42, results[1].Value)
}

func TestLinearBackOff_Schedule(t *testing.T) {
	b := newLinearBackOff(entity.RetryPolicy{MaxAttempts: 4, BaseDelay: time.Second})

	assert.Equal(t, 1*time.Second, b.NextBackOff())
	assert.Equal(t, 2*time.Second, b.NextBackOff())
	assert.Equal(t, 3*time.Second, b.NextBackOff())

	b.Reset()
	assert.Equal(t, 1*time.Second, b.NextBackOff())
}

func TestLinearBackOff_MaxElapsed(t *testing.T) {
	b := newLinearBackOff(entity.RetryPolicy{MaxAttempts: 10, BaseDelay: time.Second, MaxElapsed: 3 * time.Second})

	assert.Equal(t, 1*time.Second, b.NextBackOff())
	assert.Equal(t, 2*time.Second, b.NextBackOff())
	assert.Equal(t, backoff.Stop, b.NextBackOff())
}

func TestIsEmpty(t *testing.T) {
	type pair struct{ A, B int }
	var nilPtr *pair
	var nilIface interface{}

	assert.True(t, IsEmpty([]int{}))
	assert.True(t, IsEmpty([]int(nil)))
	assert.True(t, IsEmpty(map[string]int{}))
	assert.True(t, IsEmpty(""))
	assert.True(t, IsEmpty(nilPtr))
	assert.True(t, IsEmpty(nilIface))
	assert.True(t, IsEmpty(pair{}))
	assert.True(t, IsEmpty(0))

	assert.False(t, IsEmpty([]int{0}))
	assert.False(t, IsEmpty("x"))
	assert.False(t, IsEmpty(&pair{}))
	assert.False(t, IsEmpty(pair{A: 1}))
	require.False(t, IsEmpty(map[string]int{"a": 0}))
}

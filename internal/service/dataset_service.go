package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/refulearn/cache-service/internal/domain/entity"
	"github.com/refulearn/cache-service/internal/platform/logger"
	"github.com/refulearn/cache-service/internal/repository"
)

// DatasetSource fetches a dataset's raw JSON from the RefuLearn API.
type DatasetSource interface {
	FetchJSON(ctx context.Context, path string) (json.RawMessage, error)
}

type DatasetService interface {
	Datasets() []entity.Dataset
	Get(ctx context.Context, name string) (entity.LoadResult[json.RawMessage], error)
	Refresh(ctx context.Context, name string) (entity.LoadResult[json.RawMessage], error)
	Snapshot(key string) (json.RawMessage, bool)
	Warm(ctx context.Context) int
	Reset(ctx context.Context)
}

type datasetService struct {
	datasets map[string]entity.Dataset
	order    []string
	source   DatasetSource
	store    CacheStore
	fetcher  *ResilientFetcher[json.RawMessage]
	log      logger.Logger

	mu        sync.RWMutex
	snapshots map[string]json.RawMessage
}

func NewDatasetService(
	datasets []entity.Dataset,
	source DatasetSource,
	store CacheStore,
	fetcher *ResilientFetcher[json.RawMessage],
	log logger.Logger,
) DatasetService {
	if log == nil {
		log = logger.NewNop()
	}
	s := &datasetService{
		datasets:  make(map[string]entity.Dataset, len(datasets)),
		source:    source,
		store:     store,
		fetcher:   fetcher,
		log:       log.Named("dataset_service"),
		snapshots: make(map[string]json.RawMessage),
	}
	for _, d := range datasets {
		if _, dup := s.datasets[d.Name]; dup {
			continue
		}
		s.datasets[d.Name] = d
		s.order = append(s.order, d.Name)
	}
	return s
}

// NewDatasetFetcher builds the fetcher DatasetService expects: JSON emptiness,
// and empty responses never overwrite the cache.
func NewDatasetFetcher(store CacheStore, policy entity.RetryPolicy, log logger.Logger, opts ...FetcherOption[json.RawMessage]) *ResilientFetcher[json.RawMessage] {
	opts = append([]FetcherOption[json.RawMessage]{
		WithEmptyFunc[json.RawMessage](IsEmptyJSON),
		WithKeepCachedOnEmpty[json.RawMessage](),
	}, opts...)
	return NewResilientFetcher[json.RawMessage](store, policy, log, opts...)
}

func (s *datasetService) Datasets() []entity.Dataset {
	out := make([]entity.Dataset, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.datasets[name])
	}
	return out
}

// Get refreshes the dataset and reconciles the result into the in-memory
// snapshot. A populated snapshot is served when the refresh had no data.
// Per-user datasets need a caller in ctx and are cached under the caller's key;
// shared datasets are always fetched with the service's own identity.
func (s *datasetService) Get(ctx context.Context, name string) (entity.LoadResult[json.RawMessage], error) {
	d, ok := s.datasets[name]
	if !ok {
		return entity.LoadResult[json.RawMessage]{}, fmt.Errorf("dataset %q: %w", name, repository.ErrUnknownDataset)
	}

	caller, hasCaller := entity.CallerFrom(ctx)
	fetchCtx := ctx
	if d.PerUser {
		if !hasCaller {
			return entity.LoadResult[json.RawMessage]{}, fmt.Errorf("dataset %q: %w", name, repository.ErrCallerRequired)
		}
	} else {
		caller = entity.Caller{}
		fetchCtx = entity.WithCaller(ctx, caller)
	}
	key := d.CacheKey(caller.UserID)
	path := d.PathFor(caller.UserID)

	res := s.fetcher.Load(fetchCtx, key, func(ctx context.Context) (json.RawMessage, error) {
		payload, err := s.source.FetchJSON(ctx, path)
		if err != nil {
			return nil, err
		}
		list := d.Extract(payload)
		if list == nil {
			s.log.Warnf("Dataset %s: response from %s has no %q field", d.Name, path, d.Field)
			return d.EmptyValue(), nil
		}
		return list, nil
	}, d.EmptyValue())

	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.snapshots[key]
	var next json.RawMessage
	switch {
	case res.Source == entity.SourceFresh:
		next = s.fetcher.Reconcile(ctx, current, res.Value, key)
	case IsEmptyJSON(current):
		next = res.Value
	default:
		next = current
	}

	if IsEmptyJSON(next) {
		next = d.EmptyValue()
	}
	s.snapshots[key] = next

	out := entity.LoadResult[json.RawMessage]{Value: next, Source: res.Source, Attempts: res.Attempts}
	if !bytes.Equal(next, res.Value) {
		out.Source = entity.SourceCached
	}
	return out, nil
}

func (s *datasetService) Refresh(ctx context.Context, name string) (entity.LoadResult[json.RawMessage], error) {
	res, err := s.Get(ctx, name)
	if err != nil {
		return res, err
	}
	s.log.Infof("Dataset %s refreshed (%s, %d attempts)", name, res.Source, res.Attempts)
	return res, nil
}

// Snapshot returns the in-memory value held under a dataset's cache key.
func (s *datasetService) Snapshot(key string) (json.RawMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.snapshots[key]
	return v, ok
}

// Warm seeds shared snapshots from the cache and returns how many datasets had
// one. Per-user datasets are loaded on first request.
func (s *datasetService) Warm(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	warmed := 0
	for _, name := range s.order {
		if s.datasets[name].PerUser {
			continue
		}
		var v json.RawMessage
		if s.store.Read(ctx, name, &v) && !IsEmptyJSON(v) {
			s.snapshots[name] = v
			warmed++
		}
	}
	s.log.Infof("Warmed %d of %d datasets from cache", warmed, len(s.order))
	return warmed
}

// Reset drops every in-memory snapshot.
func (s *datasetService) Reset(_ context.Context) {
	s.mu.Lock()
	s.snapshots = make(map[string]json.RawMessage)
	s.mu.Unlock()
}

// IsEmptyJSON treats null, blank input, [] and {} as no data.
func IsEmptyJSON(v json.RawMessage) bool {
	trimmed := bytes.TrimSpace(v)
	if len(trimmed) == 0 {
		return true
	}
	var decoded interface{}
	if err := json.Unmarshal(trimmed, &decoded); err != nil {
		return true
	}
	switch t := decoded.(type) {
	case nil:
		return true
	case []interface{}:
		return len(t) == 0
	case map[string]interface{}:
		return len(t) == 0
	default:
		return false
	}
}

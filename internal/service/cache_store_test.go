package service

import (
	"context"
	"errors"
	"testing"

	"github.com/refulearn/cache-service/internal/adapter/memory"
	"github.com/refulearn/cache-service/internal/domain/entity"
	"github.com/refulearn/cache-service/internal/platform/logger"
	"github.com/refulearn/cache-service/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type job struct {
	ID    int      `json:"id"`
	Title string   `json:"title"`
	Tags  []string `json:"tags"`
}

func newMemoryStore(cfg CacheStoreConfig) (CacheStore, repository.KeyValueSurface) {
	durable := memory.NewKeyValueSurface("durable")
	return NewCacheStore(CacheStoreSurfaces{Durable: durable}, logger.NewNop(), nil, cfg), durable
}

func TestCacheStore_WriteThenReadReturnsEqualValue(t *testing.T) {
	store, _ := newMemoryStore(CacheStoreConfig{})
	ctx := context.Background()

	in := []job{{ID: 1, Title: "Nurse", Tags: []string{"health"}}, {ID: 2, Title: "Driver"}}
	store.Write(ctx, "jobs", in)

	var out []job
	require.True(t, store.Read(ctx, "jobs", &out))
	assert.Equal(t, in, out)
}

func TestCacheStore_LastWriteWins(t *testing.T) {
	store, _ := newMemoryStore(CacheStoreConfig{})
	ctx := context.Background()

	store.Write(ctx, "jobs", []int{1})
	store.Write(ctx, "jobs", []int{2, 3})

	assert.Equal(t, []int{2, 3}, ReadOr(ctx, store, "jobs", []int(nil)))
}

func TestCacheStore_ReadNeverWritten(t *testing.T) {
	store, _ := newMemoryStore(CacheStoreConfig{})

	var out []job
	assert.False(t, store.Read(context.Background(), "missing", &out))
	assert.Nil(t, out)
	assert.Equal(t, []int{}, ReadOr(context.Background(), store, "missing", []int{}))
}

func TestCacheStore_CorruptEntryIsAbsent(t *testing.T) {
	store, durable := newMemoryStore(CacheStoreConfig{})
	ctx := context.Background()

	require.NoError(t, durable.Set(ctx, "broken", []byte("{not json")))
	require.NoError(t, durable.Set(ctx, "no_value", []byte(`{"stored_at":"2024-01-01T00:00:00Z"}`)))

	var out interface{}
	assert.False(t, store.Read(ctx, "broken", &out))
	assert.False(t, store.Read(ctx, "no_value", &out))
	_, ok := store.ReadEntry(ctx, "broken")
	assert.False(t, ok)
}

func TestCacheStore_ReadEntryCarriesTimestamp(t *testing.T) {
	store, _ := newMemoryStore(CacheStoreConfig{})
	ctx := context.Background()

	store.Write(ctx, "stats", map[string]int{"courses": 4})

	entry, ok := store.ReadEntry(ctx, "stats")
	require.True(t, ok)
	assert.Equal(t, "stats", entry.Key)
	assert.False(t, entry.StoredAt.IsZero())
	assert.JSONEq(t, `{"courses":4}`, string(entry.Value))
}

func TestCacheStore_WriteFailureIsSwallowed(t *testing.T) {
	kv := new(MockKeyValueSurface)
	kv.On("Set", mock.Anything, "jobs", mock.Anything).Return(errors.New("quota exceeded"))
	kv.On("Get", mock.Anything, "jobs").Return(nil, repository.ErrSurfaceUnavailable)

	store := NewCacheStore(CacheStoreSurfaces{Durable: kv}, logger.NewNop(), nil, CacheStoreConfig{})

	assert.NotPanics(t, func() { store.Write(context.Background(), "jobs", []int{1}) })
	var out []int
	assert.False(t, store.Read(context.Background(), "jobs", &out))
	kv.AssertExpectations(t)
}

func TestCacheStore_UnserializableValueIsSkipped(t *testing.T) {
	store, durable := newMemoryStore(CacheStoreConfig{})

	store.Write(context.Background(), "bad", make(chan int))

	keys, err := durable.Keys(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestCacheStore_ClearAll(t *testing.T) {
	ctx := context.Background()
	durable := memory.NewKeyValueSurface("durable")
	session := memory.NewKeyValueSurface("session")

	dbs := new(MockDatabaseSurface)
	dbs.On("DeleteDatabase", mock.Anything, "refulearn_courses").Return(nil)
	dbs.On("DeleteDatabase", mock.Anything, "refulearn_progress").Return(repository.ErrDeleteBlocked)
	dbs.On("DeleteDatabase", mock.Anything, "refulearn_offline_data").Return(nil)

	caches := new(MockCacheLayerSurface)
	caches.On("CacheNames", mock.Anything).Return([]string{"api-cache", "images"}, nil)
	caches.On("DeleteCache", mock.Anything, "api-cache").Return(true, nil)
	caches.On("DeleteCache", mock.Anything, "images").Return(true, nil)

	reg := &fakeRegistration{id: "refulearn.sync.jobs.changed"}
	workers := new(MockWorkerRegistry)
	workers.On("Registrations", mock.Anything).Return([]repository.WorkerRegistration{reg}, nil)

	events := new(MockEventPublisher)
	events.On("Publish", mock.Anything, "cache.cleared", mock.Anything).Return(nil)

	store := NewCacheStore(CacheStoreSurfaces{
		Durable:   durable,
		Session:   session,
		Databases: dbs,
		Caches:    caches,
		Workers:   workers,
		Events:    events,
	}, logger.NewNop(), nil, CacheStoreConfig{
		Databases:       []string{"refulearn_courses", "refulearn_progress"},
		PublishClearing: true,
	})
	store.RegisterClearable("refulearn_offline_data")

	hookRan := false
	store.OnCleared(func(context.Context) { hookRan = true })

	store.Write(ctx, "jobs", []int{1})
	store.Write(ctx, "refugee_dashboard_courses", []string{"a"})
	require.NoError(t, session.Set(ctx, "tab", []byte("1")))

	report := store.ClearAll(ctx)

	var out interface{}
	assert.False(t, store.Read(ctx, "jobs", &out))
	assert.False(t, store.Read(ctx, "refugee_dashboard_courses", &out))
	sessionKeys, _ := session.Keys(ctx, "")
	assert.Empty(t, sessionKeys)

	require.False(t, report.OK())
	failed := report.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, entity.SurfaceDatabase, failed[0].Surface)
	assert.Equal(t, "refulearn_progress", failed[0].Target)

	// 2 kv surfaces + 3 databases + 2 caches + 1 worker
	assert.Len(t, report.Outcomes, 8)
	assert.Equal(t, entity.SurfaceDurable, report.Outcomes[0].Surface)
	assert.Equal(t, entity.SurfaceWorker, report.Outcomes[7].Surface)
	assert.True(t, reg.unregistered)
	assert.True(t, hookRan)
	assert.False(t, report.FinishedAt.Before(report.StartedAt))

	dbs.AssertExpectations(t)
	caches.AssertExpectations(t)
	events.AssertExpectations(t)
}

func TestCacheStore_ClearAllContinuesPastListingFailures(t *testing.T) {
	caches := new(MockCacheLayerSurface)
	caches.On("CacheNames", mock.Anything).Return(nil, errors.New("bucket gone"))
	workers := new(MockWorkerRegistry)
	workers.On("Registrations", mock.Anything).Return([]repository.WorkerRegistration{
		&fakeRegistration{id: "w1", err: errors.New("closed")},
		&fakeRegistration{id: "w2"},
	}, nil)

	store := NewCacheStore(CacheStoreSurfaces{
		Durable: memory.NewKeyValueSurface("durable"),
		Caches:  caches,
		Workers: workers,
	}, logger.NewNop(), nil, CacheStoreConfig{})

	report := store.ClearAll(context.Background())

	assert.Len(t, report.Failed(), 2)
	assert.Len(t, report.Outcomes, 4)
	assert.True(t, report.Outcomes[3].Removed)
}

func TestCacheStore_ClearNamespace(t *testing.T) {
	store, durable := newMemoryStore(CacheStoreConfig{})
	ctx := context.Background()

	store.Write(ctx, "course_completions_u1", []int{1})
	store.Write(ctx, "course_completions_u2", []int{2})
	store.Write(ctx, "refugee_jobs_cache", []int{3})

	assert.Equal(t, 2, store.ClearNamespace(ctx, "course_completions_"))
	assert.Equal(t, 0, store.ClearNamespace(ctx, ""))

	keys, err := durable.Keys(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"refugee_jobs_cache"}, keys)
}

func TestCacheStore_ClearUserData(t *testing.T) {
	store, durable := newMemoryStore(CacheStoreConfig{
		UserKeys:       []string{"token", "user", "userRole", "courseOverviewReturnUrl"},
		UserNamespaces: []string{"course_completions_"},
	})
	ctx := context.Background()

	store.Write(ctx, "token", "abc")
	store.Write(ctx, "user", map[string]string{"id": "u1"})
	store.Write(ctx, "course_completions_c1", []int{1})
	store.Write(ctx, "refugee_dashboard_jobs", []int{1})

	assert.Equal(t, 3, store.ClearUserData(ctx))

	keys, err := durable.Keys(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"refugee_dashboard_jobs"}, keys)
}

func TestCacheStore_RegisterClearableAndStatus(t *testing.T) {
	store, _ := newMemoryStore(CacheStoreConfig{Databases: []string{"refulearn_courses"}})
	ctx := context.Background()

	store.RegisterClearable("refulearn_courses")
	store.RegisterClearable("  ")
	store.RegisterClearable("_pouch_refulearn_courses")
	assert.Equal(t, []string{"refulearn_courses", "_pouch_refulearn_courses"}, store.Clearables())

	store.Write(ctx, "jobs", []int{1})
	status := store.Status(ctx)

	require.Len(t, status.Surfaces, 2)
	assert.Equal(t, entity.SurfaceDurable, status.Surfaces[0].Surface)
	assert.Equal(t, 1, status.Surfaces[0].Items)
	assert.Equal(t, entity.SurfaceDatabase, status.Surfaces[1].Surface)
	assert.Equal(t, 2, status.Surfaces[1].Items)
}

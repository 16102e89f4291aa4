package service

import (
	"context"
	"encoding/json"

	"github.com/refulearn/cache-service/internal/domain/entity"
	"github.com/refulearn/cache-service/internal/repository"
	"github.com/stretchr/testify/mock"
)

type MockKeyValueSurface struct {
	mock.Mock
}

func (m *MockKeyValueSurface) Name() string { return "mock_kv" }

func (m *MockKeyValueSurface) Get(ctx context.Context, key string) ([]byte, error) {
	args := m.Called(ctx, key)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockKeyValueSurface) Set(ctx context.Context, key string, value []byte) error {
	args := m.Called(ctx, key, value)
	return args.Error(0)
}

func (m *MockKeyValueSurface) Delete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockKeyValueSurface) Keys(ctx context.Context, prefix string) ([]string, error) {
	args := m.Called(ctx, prefix)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockKeyValueSurface) Clear(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type MockDatabaseSurface struct {
	mock.Mock
}

func (m *MockDatabaseSurface) Name() string { return "mock_db" }

func (m *MockDatabaseSurface) DeleteDatabase(ctx context.Context, name string) error {
	args := m.Called(ctx, name)
	return args.Error(0)
}

type MockCacheLayerSurface struct {
	mock.Mock
}

func (m *MockCacheLayerSurface) Name() string { return "mock_cache_layer" }

func (m *MockCacheLayerSurface) CacheNames(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockCacheLayerSurface) DeleteCache(ctx context.Context, name string) (bool, error) {
	args := m.Called(ctx, name)
	return args.Bool(0), args.Error(1)
}

type MockWorkerRegistry struct {
	mock.Mock
}

func (m *MockWorkerRegistry) Registrations(ctx context.Context) ([]repository.WorkerRegistration, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]repository.WorkerRegistration), args.Error(1)
}

type fakeRegistration struct {
	id           string
	err          error
	unregistered bool
}

func (r *fakeRegistration) ID() string { return r.id }

func (r *fakeRegistration) Unregister() (bool, error) {
	if r.err != nil {
		return false, r.err
	}
	r.unregistered = true
	return true, nil
}

type MockEventPublisher struct {
	mock.Mock
}

func (m *MockEventPublisher) Publish(ctx context.Context, subject string, message interface{}) error {
	args := m.Called(ctx, subject, message)
	return args.Error(0)
}

type MockSyncQueueRepository struct {
	mock.Mock
}

func (m *MockSyncQueueRepository) Add(ctx context.Context, item *entity.SyncItem) error {
	args := m.Called(ctx, item)
	return args.Error(0)
}

func (m *MockSyncQueueRepository) List(ctx context.Context, limit int64) ([]*entity.SyncItem, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*entity.SyncItem), args.Error(1)
}

func (m *MockSyncQueueRepository) Update(ctx context.Context, item *entity.SyncItem) error {
	args := m.Called(ctx, item)
	return args.Error(0)
}

func (m *MockSyncQueueRepository) Remove(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockSyncQueueRepository) Count(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

type MockSyncReplayer struct {
	mock.Mock
}

func (m *MockSyncReplayer) Replay(ctx context.Context, item *entity.SyncItem) error {
	args := m.Called(ctx, item)
	return args.Error(0)
}

type MockDatasetSource struct {
	mock.Mock
}

func (m *MockDatasetSource) FetchJSON(ctx context.Context, path string) (json.RawMessage, error) {
	args := m.Called(ctx, path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return json.RawMessage(args.String(0)), args.Error(1)
}

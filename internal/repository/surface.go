package repository

import "context"

// KeyValueSurface is a flat string-keyed byte store. Implementations must
// return ErrNotFound from Get for absent keys.
type KeyValueSurface interface {
	Name() string
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// Keys lists every key that starts with prefix; an empty prefix lists all keys.
	Keys(ctx context.Context, prefix string) ([]string, error)
	Clear(ctx context.Context) error
}

// DatabaseSurface deletes whole named structured databases.
type DatabaseSurface interface {
	Name() string
	DeleteDatabase(ctx context.Context, name string) error
}

// CacheLayerSurface holds named response caches.
type CacheLayerSurface interface {
	Name() string
	CacheNames(ctx context.Context) ([]string, error)
	DeleteCache(ctx context.Context, name string) (bool, error)
}

// WorkerRegistration is one registered background sync worker.
type WorkerRegistration interface {
	ID() string
	Unregister() (bool, error)
}

type WorkerRegistry interface {
	Registrations(ctx context.Context) ([]WorkerRegistration, error)
}

// EventPublisher announces cache lifecycle events to other services.
type EventPublisher interface {
	Publish(ctx context.Context, subject string, message interface{}) error
}

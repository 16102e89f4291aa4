package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/refulearn/cache-service/internal/repository"
)

// kvSurface is a process-local key-value surface. It backs session-scoped
// storage and doubles as the in-memory fake for the durable surface in tests.
type kvSurface struct {
	name string
	mu   sync.RWMutex
	data map[string][]byte
}

func NewKeyValueSurface(name string) repository.KeyValueSurface {
	return &kvSurface{
		name: name,
		data: make(map[string][]byte),
	}
}

func (s *kvSurface) Name() string {
	return s.name
}

func (s *kvSurface) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.data[key]
	if !ok {
		return nil, repository.ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (s *kvSurface) Set(_ context.Context, key string, value []byte) error {
	v := make([]byte, len(value))
	copy(v, value)

	s.mu.Lock()
	s.data[key] = v
	s.mu.Unlock()
	return nil
}

func (s *kvSurface) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.data, key)
	s.mu.Unlock()
	return nil
}

func (s *kvSurface) Keys(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *kvSurface) Clear(_ context.Context) error {
	s.mu.Lock()
	s.data = make(map[string][]byte)
	s.mu.Unlock()
	return nil
}

package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/refulearn/cache-service/internal/platform/logger"
	"github.com/refulearn/cache-service/internal/repository"
)

const (
	scanBatchSize = 500
)

// kvSurface is the durable key-value surface. Every key lives under keyPrefix
// so Clear never touches data that belongs to other services on the same DB.
type kvSurface struct {
	client    redis.UniversalClient
	keyPrefix string
	log       logger.Logger
}

func NewKeyValueSurface(client redis.UniversalClient, keyPrefix string, log logger.Logger) repository.KeyValueSurface {
	return &kvSurface{
		client:    client,
		keyPrefix: keyPrefix,
		log:       log,
	}
}

func (s *kvSurface) Name() string {
	return "redis"
}

func (s *kvSurface) key(k string) string {
	return s.keyPrefix + k
}

func (s *kvSurface) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := s.client.Get(ctx, s.key(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("redis get %q: %w", key, errors.Join(repository.ErrSurfaceUnavailable, err))
	}
	return val, nil
}

func (s *kvSurface) Set(ctx context.Context, key string, value []byte) error {
	if err := s.client.Set(ctx, s.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, errors.Join(repository.ErrSurfaceUnavailable, err))
	}
	return nil
}

func (s *kvSurface) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del %q: %w", key, err)
	}
	return nil
}

func (s *kvSurface) Keys(ctx context.Context, prefix string) ([]string, error) {
	raw, err := s.scan(ctx, s.key(prefix))
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(raw))
	for _, k := range raw {
		keys = append(keys, strings.TrimPrefix(k, s.keyPrefix))
	}
	return keys, nil
}

func (s *kvSurface) Clear(ctx context.Context) error {
	raw, err := s.scan(ctx, s.keyPrefix)
	if err != nil {
		return err
	}
	for start := 0; start < len(raw); start += scanBatchSize {
		end := start + scanBatchSize
		if end > len(raw) {
			end = len(raw)
		}
		if err := s.client.Del(ctx, raw[start:end]...).Err(); err != nil {
			return fmt.Errorf("redis clear under %q: %w", s.keyPrefix, err)
		}
	}
	s.log.Debugf("Redis surface cleared %d keys under prefix %q", len(raw), s.keyPrefix)
	return nil
}

func (s *kvSurface) scan(ctx context.Context, prefix string) ([]string, error) {
	var (
		keys   []string
		cursor uint64
	)
	pattern := escapeGlob(prefix) + "*"
	for {
		batch, next, err := s.client.Scan(ctx, cursor, pattern, scanBatchSize).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan %q: %w", pattern, errors.Join(repository.ErrSurfaceUnavailable, err))
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return dedupe(keys), nil
}

// SCAN may return a key more than once across iterations.
func dedupe(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := keys[:0]
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\', '^':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

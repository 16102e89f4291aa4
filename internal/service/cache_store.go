package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/refulearn/cache-service/internal/domain/entity"
	"github.com/refulearn/cache-service/internal/platform/logger"
	"github.com/refulearn/cache-service/internal/platform/metrics"
	"github.com/refulearn/cache-service/internal/repository"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	cacheClearedSubject = "cache.cleared"
	tracerName          = "github.com/refulearn/cache-service/internal/service"
)

// CacheStore is a best-effort store of named JSON snapshots. None of its
// operations return errors; failures are logged and treated as a cache miss.
type CacheStore interface {
	Write(ctx context.Context, key string, value interface{})
	Read(ctx context.Context, key string, dest interface{}) bool
	ReadEntry(ctx context.Context, key string) (*entity.CacheEntry, bool)
	ClearAll(ctx context.Context) *entity.ClearReport
	ClearNamespace(ctx context.Context, prefix string) int
	ClearKeys(ctx context.Context, keys ...string) int
	ClearUserData(ctx context.Context) int
	RegisterClearable(name string)
	Clearables() []string
	OnCleared(fn func(ctx context.Context))
	Status(ctx context.Context) *entity.StatusReport
}

// CacheStoreSurfaces lists the storage surfaces a CacheStore manages. Only
// Durable is required.
type CacheStoreSurfaces struct {
	Durable   repository.KeyValueSurface
	Session   repository.KeyValueSurface
	Databases repository.DatabaseSurface
	Caches    repository.CacheLayerSurface
	Workers   repository.WorkerRegistry
	Events    repository.EventPublisher
}

type CacheStoreConfig struct {
	Databases       []string
	UserKeys        []string
	UserNamespaces  []string
	PublishClearing bool
}

type cacheStore struct {
	surfaces CacheStoreSurfaces
	cfg      CacheStoreConfig
	log      logger.Logger
	metrics  *metrics.MetricsManager

	mu         sync.Mutex
	clearables []string
	onCleared  []func(ctx context.Context)
}

type clearedEvent struct {
	ClearedAt time.Time             `json:"cleared_at"`
	OK        bool                  `json:"ok"`
	Failed    []entity.ClearOutcome `json:"failed,omitempty"`
}

func NewCacheStore(surfaces CacheStoreSurfaces, log logger.Logger, m *metrics.MetricsManager, cfg CacheStoreConfig) CacheStore {
	if log == nil {
		log = logger.NewNop()
	}
	s := &cacheStore{
		surfaces: surfaces,
		cfg:      cfg,
		log:      log.Named("cache_store"),
		metrics:  m,
	}
	for _, name := range cfg.Databases {
		s.RegisterClearable(name)
	}
	return s
}

func (s *cacheStore) Write(ctx context.Context, key string, value interface{}) {
	raw, err := json.Marshal(value)
	if err != nil {
		s.log.Warnf("Failed to serialize value for %s, skipping cache write: %v", key, err)
		s.metrics.CacheWriteFailed()
		return
	}
	data, err := json.Marshal(entity.NewCacheEntry(key, raw))
	if err != nil {
		s.log.Warnf("Failed to serialize cache entry for %s: %v", key, err)
		s.metrics.CacheWriteFailed()
		return
	}
	if err := s.surfaces.Durable.Set(ctx, key, data); err != nil {
		s.log.Warnf("Failed to cache %s on %s: %v", key, s.surfaces.Durable.Name(), err)
		s.metrics.CacheWriteFailed()
		return
	}
	s.log.Debugf("Cached %s (%d bytes)", key, len(raw))
}

func (s *cacheStore) Read(ctx context.Context, key string, dest interface{}) bool {
	entry, ok := s.ReadEntry(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(entry.Value, dest); err != nil {
		s.log.Warnf("Cached value for %s does not fit %T, treating as absent: %v", key, dest, err)
		return false
	}
	return true
}

func (s *cacheStore) ReadEntry(ctx context.Context, key string) (*entity.CacheEntry, bool) {
	data, err := s.surfaces.Durable.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.log.Warnf("Failed to read %s from %s: %v", key, s.surfaces.Durable.Name(), err)
		}
		return nil, false
	}

	var entry entity.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil || !entry.Valid() {
		s.log.Warnf("Corrupt cache entry for %s, treating as absent", key)
		return nil, false
	}
	entry.Key = key
	return &entry, true
}

// ReadOr returns the cached value for key, or def when nothing usable is cached.
func ReadOr[T any](ctx context.Context, store CacheStore, key string, def T) T {
	var v T
	if store.Read(ctx, key, &v) {
		return v
	}
	return def
}

// ClearAll wipes every managed surface in order: durable storage, session
// storage, registered databases, cache layers, then worker registrations.
// A failing surface is recorded in the report and the rest still run.
func (s *cacheStore) ClearAll(ctx context.Context) *entity.ClearReport {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "CacheStore.ClearAll")
	defer span.End()

	report := &entity.ClearReport{StartedAt: time.Now().UTC()}
	s.log.Warn("Clearing all cache surfaces")

	if s.surfaces.Durable != nil {
		s.record(report, entity.SurfaceDurable, s.surfaces.Durable.Name(), true, s.surfaces.Durable.Clear(ctx))
	}
	if s.surfaces.Session != nil {
		s.record(report, entity.SurfaceSession, s.surfaces.Session.Name(), true, s.surfaces.Session.Clear(ctx))
	}

	if s.surfaces.Databases != nil {
		for _, name := range s.Clearables() {
			err := s.surfaces.Databases.DeleteDatabase(ctx, name)
			s.record(report, entity.SurfaceDatabase, name, err == nil, err)
		}
	}

	if s.surfaces.Caches != nil {
		names, err := s.surfaces.Caches.CacheNames(ctx)
		if err != nil {
			s.record(report, entity.SurfaceCache, s.surfaces.Caches.Name(), false, err)
		}
		for _, name := range names {
			removed, err := s.surfaces.Caches.DeleteCache(ctx, name)
			s.record(report, entity.SurfaceCache, name, removed, err)
		}
	}

	if s.surfaces.Workers != nil {
		regs, err := s.surfaces.Workers.Registrations(ctx)
		if err != nil {
			s.record(report, entity.SurfaceWorker, "registrations", false, err)
		}
		for _, reg := range regs {
			removed, err := reg.Unregister()
			s.record(report, entity.SurfaceWorker, reg.ID(), removed, err)
		}
	}

	report.FinishedAt = time.Now().UTC()
	span.SetAttributes(attribute.Int("clear.outcomes", len(report.Outcomes)))
	if !report.OK() {
		span.SetStatus(codes.Error, "partial clear")
		s.log.Warnf("Cache clear finished with %d failures", len(report.Failed()))
	} else {
		s.log.Info("All cache surfaces cleared")
	}

	s.publishCleared(ctx, report)

	s.mu.Lock()
	hooks := append([]func(context.Context){}, s.onCleared...)
	s.mu.Unlock()
	for _, fn := range hooks {
		fn(ctx)
	}

	return report
}

func (s *cacheStore) record(report *entity.ClearReport, surface, target string, removed bool, err error) {
	report.Add(surface, target, removed, err)
	s.metrics.ClearOutcome(surface, err)
	if err != nil {
		s.log.Errorf("Failed to clear %s %s: %v", surface, target, err)
		return
	}
	s.log.Infof("Cleared %s %s (removed=%t)", surface, target, removed)
}

func (s *cacheStore) publishCleared(ctx context.Context, report *entity.ClearReport) {
	if s.surfaces.Events == nil || !s.cfg.PublishClearing {
		return
	}
	event := clearedEvent{ClearedAt: report.FinishedAt, OK: report.OK(), Failed: report.Failed()}
	if err := s.surfaces.Events.Publish(ctx, cacheClearedSubject, event); err != nil {
		s.log.Warnf("Failed to publish %s: %v", cacheClearedSubject, err)
	}
}

// ClearNamespace deletes every durable key starting with prefix and returns
// how many were removed. An empty prefix removes nothing; use ClearAll.
func (s *cacheStore) ClearNamespace(ctx context.Context, prefix string) int {
	if prefix == "" {
		s.log.Warn("Refusing to clear an empty namespace prefix")
		return 0
	}
	keys, err := s.surfaces.Durable.Keys(ctx, prefix)
	if err != nil {
		s.log.Errorf("Failed to list keys under %s: %v", prefix, err)
		return 0
	}
	removed := s.deleteKeys(ctx, keys)
	s.log.Infof("Cleared namespace %s: %d of %d keys removed", prefix, removed, len(keys))
	return removed
}

// ClearKeys removes the given durable keys and returns how many existed.
func (s *cacheStore) ClearKeys(ctx context.Context, keys ...string) int {
	present := make([]string, 0, len(keys))
	for _, k := range keys {
		if _, err := s.surfaces.Durable.Get(ctx, k); err == nil {
			present = append(present, k)
		}
	}
	return s.deleteKeys(ctx, present)
}

func (s *cacheStore) deleteKeys(ctx context.Context, keys []string) int {
	removed := 0
	for _, k := range keys {
		if err := s.surfaces.Durable.Delete(ctx, k); err != nil {
			s.log.Warnf("Failed to remove %s: %v", k, err)
			continue
		}
		removed++
	}
	return removed
}

// ClearUserData removes the signed-in user's keys and per-user namespaces,
// leaving dataset snapshots in place.
func (s *cacheStore) ClearUserData(ctx context.Context) int {
	removed := s.ClearKeys(ctx, s.cfg.UserKeys...)
	for _, ns := range s.cfg.UserNamespaces {
		removed += s.ClearNamespace(ctx, ns)
	}
	s.log.Infof("User data cleared (%d keys)", removed)
	return removed
}

func (s *cacheStore) RegisterClearable(name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.clearables {
		if existing == name {
			return
		}
	}
	s.clearables = append(s.clearables, name)
}

func (s *cacheStore) Clearables() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.clearables...)
}

// OnCleared registers fn to run after every ClearAll.
func (s *cacheStore) OnCleared(fn func(ctx context.Context)) {
	if fn == nil {
		return
	}
	s.mu.Lock()
	s.onCleared = append(s.onCleared, fn)
	s.mu.Unlock()
}

func (s *cacheStore) Status(ctx context.Context) *entity.StatusReport {
	report := &entity.StatusReport{}

	report.Surfaces = append(report.Surfaces, kvStatus(ctx, entity.SurfaceDurable, s.surfaces.Durable))
	if s.surfaces.Session != nil {
		report.Surfaces = append(report.Surfaces, kvStatus(ctx, entity.SurfaceSession, s.surfaces.Session))
	}

	dbs := s.Clearables()
	report.Surfaces = append(report.Surfaces, entity.SurfaceStatus{
		Surface: entity.SurfaceDatabase,
		Items:   len(dbs),
		Names:   dbs,
	})

	if s.surfaces.Caches != nil {
		st := entity.SurfaceStatus{Surface: entity.SurfaceCache}
		names, err := s.surfaces.Caches.CacheNames(ctx)
		if err != nil {
			st.Error = err.Error()
		}
		st.Items, st.Names = len(names), names
		report.Surfaces = append(report.Surfaces, st)
	}

	if s.surfaces.Workers != nil {
		st := entity.SurfaceStatus{Surface: entity.SurfaceWorker}
		regs, err := s.surfaces.Workers.Registrations(ctx)
		if err != nil {
			st.Error = err.Error()
		}
		for _, r := range regs {
			st.Names = append(st.Names, r.ID())
		}
		st.Items = len(regs)
		report.Surfaces = append(report.Surfaces, st)
	}

	return report
}

func kvStatus(ctx context.Context, surface string, kv repository.KeyValueSurface) entity.SurfaceStatus {
	st := entity.SurfaceStatus{Surface: surface}
	keys, err := kv.Keys(ctx, "")
	if err != nil {
		st.Error = err.Error()
		return st
	}
	st.Items = len(keys)
	st.Names = keys
	return st
}

package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/refulearn/cache-service/internal/domain/entity"
	"github.com/refulearn/cache-service/internal/platform/logger"
	"github.com/refulearn/cache-service/internal/platform/metrics"
	"github.com/refulearn/cache-service/internal/repository"
)

const defaultSyncBatch = 100

// SyncReplayer sends a queued write to the RefuLearn API.
type SyncReplayer interface {
	Replay(ctx context.Context, item *entity.SyncItem) error
}

// SyncQueue holds writes made while upstream was unreachable. Process replays
// them once each; replayed items are removed, failed ones stay queued.
type SyncQueue interface {
	Enqueue(ctx context.Context, action, method, path string, payload json.RawMessage) (*entity.SyncItem, error)
	Process(ctx context.Context) (processed, failed int, err error)
	Pending(ctx context.Context) (int64, error)
}

type syncQueue struct {
	repo     repository.SyncQueueRepository
	replayer SyncReplayer
	log      logger.Logger
	metrics  *metrics.MetricsManager
	batch    int64
}

func NewSyncQueue(repo repository.SyncQueueRepository, replayer SyncReplayer, log logger.Logger, m *metrics.MetricsManager) SyncQueue {
	if log == nil {
		log = logger.NewNop()
	}
	return &syncQueue{
		repo:     repo,
		replayer: replayer,
		log:      log.Named("sync_queue"),
		metrics:  m,
		batch:    defaultSyncBatch,
	}
}

// Enqueue records a write for the caller in ctx. The item is replayed with
// that caller's token, never the service's.
func (q *syncQueue) Enqueue(ctx context.Context, action, method, path string, payload json.RawMessage) (*entity.SyncItem, error) {
	caller, ok := entity.CallerFrom(ctx)
	if !ok || caller.Token == "" {
		return nil, fmt.Errorf("failed to enqueue %s: %w", action, repository.ErrCallerRequired)
	}
	item, err := entity.NewSyncItem(uuid.NewString(), action, method, path, payload)
	if err != nil {
		return nil, err
	}
	item.OwnedBy(caller)
	if err := q.repo.Add(ctx, item); err != nil {
		return nil, fmt.Errorf("failed to enqueue %s: %w", action, err)
	}
	q.metrics.SyncItem("queued")
	q.log.Infof("Added to sync queue for %s: %s %s %s", item.UserID, item.Action, item.Method, item.Path)
	return item, nil
}

func (q *syncQueue) Process(ctx context.Context) (int, int, error) {
	items, err := q.repo.List(ctx, q.batch)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to load sync queue: %w", err)
	}
	if len(items) == 0 {
		return 0, 0, nil
	}
	q.log.Infof("Processing %d items in sync queue", len(items))

	processed, failed := 0, 0
	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		if err := q.replayer.Replay(ctx, item); err != nil {
			failed++
			q.metrics.SyncItem("failed")
			q.log.Warnf("Failed to replay sync item %s (%s): %v", item.ID, item.Action, err)
			item.MarkFailed(err)
			if uErr := q.repo.Update(ctx, item); uErr != nil {
				q.log.Errorf("Failed to record sync failure for %s: %v", item.ID, uErr)
			}
			continue
		}
		processed++
		q.metrics.SyncItem("replayed")
		if rErr := q.repo.Remove(ctx, item.ID); rErr != nil {
			q.log.Errorf("Replayed sync item %s but could not remove it: %v", item.ID, rErr)
		}
	}
	return processed, failed, nil
}

func (q *syncQueue) Pending(ctx context.Context) (int64, error) {
	return q.repo.Count(ctx)
}

package repository

import (
	"context"

	"github.com/refulearn/cache-service/internal/domain/entity"
)

type SyncQueueRepository interface {
	Add(ctx context.Context, item *entity.SyncItem) error
	List(ctx context.Context, limit int64) ([]*entity.SyncItem, error)
	Update(ctx context.Context, item *entity.SyncItem) error
	Remove(ctx context.Context, id string) error
	Count(ctx context.Context) (int64, error)
}

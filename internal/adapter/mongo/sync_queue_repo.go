package mongo

import (
	"context"
	"errors"
	"fmt"

	"github.com/refulearn/cache-service/internal/domain/entity"
	"github.com/refulearn/cache-service/internal/repository"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	defaultSyncCollectionName = "sync_queue"
)

type syncQueueRepository struct {
	collection *mongo.Collection
}

func NewSyncQueueRepository(client *mongo.Client, database, collection string) repository.SyncQueueRepository {
	if collection == "" {
		collection = defaultSyncCollectionName
	}
	return &syncQueueRepository{
		collection: client.Database(database).Collection(collection),
	}
}

func (r *syncQueueRepository) Add(ctx context.Context, item *entity.SyncItem) error {
	if item == nil || item.ID == "" {
		return errors.New("cannot queue nil sync item or item with empty ID")
	}
	if _, err := r.collection.InsertOne(ctx, item); err != nil {
		return fmt.Errorf("failed to queue sync item %s: %w", item.ID, err)
	}
	return nil
}

// List returns queued items oldest first.
func (r *syncQueueRepository) List(ctx context.Context, limit int64) ([]*entity.SyncItem, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}

	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync items: %w", err)
	}
	defer cursor.Close(ctx)

	var items []*entity.SyncItem
	if err := cursor.All(ctx, &items); err != nil {
		return nil, fmt.Errorf("failed to decode sync items: %w", err)
	}
	return items, nil
}

func (r *syncQueueRepository) Update(ctx context.Context, item *entity.SyncItem) error {
	update := bson.M{
		"$set": bson.M{
			"attempts":   item.Attempts,
			"last_error": item.LastError,
			"updated_at": item.UpdatedAt,
		},
	}
	res, err := r.collection.UpdateOne(ctx, bson.M{"_id": item.ID}, update)
	if err != nil {
		return fmt.Errorf("failed to update sync item %s: %w", item.ID, err)
	}
	if res.MatchedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *syncQueueRepository) Remove(ctx context.Context, id string) error {
	res, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to remove sync item %s: %w", id, err)
	}
	if res.DeletedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *syncQueueRepository) Count(ctx context.Context) (int64, error) {
	n, err := r.collection.CountDocuments(ctx, bson.M{})
	if err != nil {
		return 0, fmt.Errorf("failed to count sync items: %w", err)
	}
	return n, nil
}

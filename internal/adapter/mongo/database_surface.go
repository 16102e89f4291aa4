package mongo

import (
	"context"
	"errors"
	"fmt"

	"github.com/refulearn/cache-service/internal/repository"
	"go.mongodb.org/mongo-driver/mongo"
)

// Server error codes for a drop that lost to another operation on the same
// database: LockTimeout, LockBusy, DatabaseDropPending and
// BackgroundOperationInProgressForDatabase.
var blockedDropCodes = []int{24, 46, 215, 12586}

// databaseSurface maps the offline structured databases onto MongoDB
// databases of the same name.
type databaseSurface struct {
	client *mongo.Client
}

func NewDatabaseSurface(client *mongo.Client) repository.DatabaseSurface {
	return &databaseSurface{client: client}
}

func (s *databaseSurface) Name() string {
	return "mongodb"
}

func (s *databaseSurface) DeleteDatabase(ctx context.Context, name string) error {
	if name == "" {
		return fmt.Errorf("cannot drop database with empty name")
	}
	if err := s.client.Database(name).Drop(ctx); err != nil {
		return dropError(name, err)
	}
	return nil
}

func dropError(name string, err error) error {
	var serverErr mongo.ServerError
	if errors.As(err, &serverErr) {
		for _, code := range blockedDropCodes {
			if serverErr.HasErrorCode(code) {
				return fmt.Errorf("failed to drop mongodb database %s: %w (%v)", name, repository.ErrDeleteBlocked, err)
			}
		}
	}
	return fmt.Errorf("failed to drop mongodb database %s: %w", name, err)
}

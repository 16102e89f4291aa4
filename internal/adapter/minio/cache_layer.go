package minio

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/refulearn/cache-service/internal/app/config"
	"github.com/refulearn/cache-service/internal/platform/logger"
	"github.com/refulearn/cache-service/internal/repository"
)

const delimiter = "/"

// cacheLayer stores named response caches in one bucket. Every top-level
// prefix ("<cache-name>/") is one cache.
type cacheLayer struct {
	client *minio.Client
	bucket string
	log    logger.Logger
}

func NewClient(cfg config.MinIOConfig) (*minio.Client, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client for endpoint %s: %w", cfg.Endpoint, err)
	}
	return client, nil
}

func NewCacheLayer(ctx context.Context, client *minio.Client, bucket string, log logger.Logger) (repository.CacheLayerSurface, error) {
	if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
		exists, errExists := client.BucketExists(ctx, bucket)
		if errExists != nil || !exists {
			return nil, fmt.Errorf("failed to make/verify bucket %s: (make: %v / exists_check: %v)", bucket, err, errExists)
		}
		log.Infof("Cache layer bucket %s already exists", bucket)
	}
	return &cacheLayer{client: client, bucket: bucket, log: log}, nil
}

func (c *cacheLayer) Name() string {
	return "minio"
}

func (c *cacheLayer) CacheNames(ctx context.Context) ([]string, error) {
	var names []string
	for obj := range c.client.ListObjects(ctx, c.bucket, minio.ListObjectsOptions{Recursive: false}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("failed to list caches in bucket %s: %w", c.bucket, obj.Err)
		}
		if strings.HasSuffix(obj.Key, delimiter) {
			names = append(names, strings.TrimSuffix(obj.Key, delimiter))
		}
	}
	sort.Strings(names)
	return names, nil
}

// DeleteCache removes every object of the named cache. It reports false when
// the cache held nothing.
func (c *cacheLayer) DeleteCache(ctx context.Context, name string) (bool, error) {
	if name == "" || strings.Contains(name, delimiter) {
		return false, fmt.Errorf("invalid cache name %q", name)
	}

	var keys []minio.ObjectInfo
	opts := minio.ListObjectsOptions{Prefix: name + delimiter, Recursive: true}
	for obj := range c.client.ListObjects(ctx, c.bucket, opts) {
		if obj.Err != nil {
			return false, fmt.Errorf("failed to list cache %s: %w", name, obj.Err)
		}
		keys = append(keys, obj)
	}
	if len(keys) == 0 {
		return false, nil
	}

	objects := make(chan minio.ObjectInfo, len(keys))
	for _, obj := range keys {
		objects <- obj
	}
	close(objects)

	errs := c.client.RemoveObjects(ctx, c.bucket, objects, minio.RemoveObjectsOptions{})
	if err := firstRemoveError(errs); err != nil {
		return false, fmt.Errorf("failed to remove objects from cache %s: %w", name, err)
	}

	removed := len(keys)
	c.log.Debugf("Cache layer %s: removed %d objects", name, removed)
	return removed > 0, nil
}

// firstRemoveError consumes errs until minio closes it and returns the first
// failure. The remover goroutine blocks on every send, so the channel must be
// drained even after an error.
func firstRemoveError(errs <-chan minio.RemoveObjectError) error {
	var first error
	for rErr := range errs {
		if rErr.Err != nil && first == nil {
			first = fmt.Errorf("%s: %w", rErr.ObjectName, rErr.Err)
		}
	}
	return first
}

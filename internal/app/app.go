package app

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	memoryadapter "github.com/refulearn/cache-service/internal/adapter/memory"
	minioadapter "github.com/refulearn/cache-service/internal/adapter/minio"
	mongoadapter "github.com/refulearn/cache-service/internal/adapter/mongo"
	natsadapter "github.com/refulearn/cache-service/internal/adapter/nats"
	redisadapter "github.com/refulearn/cache-service/internal/adapter/redis"
	"github.com/refulearn/cache-service/internal/adapter/upstream"
	"github.com/refulearn/cache-service/internal/app/config"
	"github.com/refulearn/cache-service/internal/domain/entity"
	"github.com/refulearn/cache-service/internal/platform/logger"
	"github.com/refulearn/cache-service/internal/platform/metrics"
	"github.com/refulearn/cache-service/internal/platform/tracer"
	httpport "github.com/refulearn/cache-service/internal/port/http"
	"github.com/refulearn/cache-service/internal/service"
	"go.mongodb.org/mongo-driver/mongo"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

type App struct {
	cfg            *config.Config
	log            logger.Logger
	server         *httpport.Server
	store          service.CacheStore
	datasets       service.DatasetService
	syncQueue      service.SyncQueue
	workers        *natsadapter.WorkerRegistry
	mongoClient    *mongo.Client
	redisClient    *redis.Client
	natsConn       *nats.Conn
	tracerProvider *sdktrace.TracerProvider
}

func New(cfg *config.Config) (*App, error) {
	ctx := context.Background()

	logCfg := logger.ZapLoggerConfig{
		Level:      cfg.Logger.Level,
		Encoding:   cfg.Logger.Encoding,
		TimeFormat: cfg.Logger.TimeFormat,
	}
	appLogger, err := logger.NewZapLogger(logCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	appLogger.Info("Logger initialized")
	appLogger.Infof("Configuration loaded: Env=%s, HTTP Port: %s", cfg.Env, cfg.HTTP.Port)

	tp, err := tracer.InitTracer(ctx, cfg.Tracing, appLogger)
	if err != nil {
		appLogger.Errorf("Failed to initialize tracer: %v", err)
		return nil, fmt.Errorf("failed to initialize tracer: %w", err)
	}
	metricsManager := metrics.NewMetricsManager(cfg.Metrics.Namespace)

	appLogger.Info("Initializing Redis client...")
	redisClient, err := redisadapter.NewClient(ctx, cfg.Redis)
	if err != nil {
		appLogger.Errorf("Failed to initialize Redis client: %v", err)
		return nil, fmt.Errorf("failed to initialize Redis client: %w", err)
	}
	appLogger.Info("Redis client initialized successfully")

	appLogger.Info("Initializing MongoDB client...")
	mongoClient, err := mongoadapter.NewClient(ctx, cfg.MongoDB)
	if err != nil {
		_ = redisClient.Close()
		appLogger.Errorf("Failed to initialize MongoDB client: %v", err)
		return nil, fmt.Errorf("failed to initialize MongoDB client: %w", err)
	}
	appLogger.Info("MongoDB client initialized successfully")

	surfaces := service.CacheStoreSurfaces{
		Durable:   redisadapter.NewKeyValueSurface(redisClient, cfg.Redis.KeyPrefix, appLogger.Named("redis")),
		Databases: mongoadapter.NewDatabaseSurface(mongoClient),
	}
	if cfg.Session.Enabled {
		surfaces.Session = memoryadapter.NewKeyValueSurface("session")
	}

	if cfg.MinIO.Enabled {
		minioClient, err := minioadapter.NewClient(cfg.MinIO)
		if err != nil {
			appLogger.Warnf("Cache layer disabled: %v", err)
		} else if layer, err := minioadapter.NewCacheLayer(ctx, minioClient, cfg.MinIO.Bucket, appLogger.Named("minio")); err != nil {
			appLogger.Warnf("Cache layer disabled: %v", err)
		} else {
			surfaces.Caches = layer
			appLogger.Infof("Cache layer bucket %s ready", cfg.MinIO.Bucket)
		}
	}

	var workers *natsadapter.WorkerRegistry
	natsConn, err := natsadapter.NewConnection(cfg.NATS, appLogger.Named("nats"))
	if err != nil {
		appLogger.Warnf("NATS unavailable, sync workers and cache events disabled: %v", err)
	} else {
		publisher, err := natsadapter.NewPublisher(natsConn, cfg.NATS.SubjectPrefix)
		if err != nil {
			appLogger.Warnf("Cache events disabled: %v", err)
		} else {
			surfaces.Events = publisher
		}
		if cfg.Sync.Workers {
			workers = natsadapter.NewWorkerRegistry(natsConn, appLogger.Named("sync_worker"))
			surfaces.Workers = workers
		}
	}

	datasetCatalogue := entity.DefaultDatasets()
	userNamespaces := append(append([]string{}, cfg.Cache.UserNamespaces...), entity.PerUserNamespaces(datasetCatalogue)...)

	store := service.NewCacheStore(surfaces, appLogger, metricsManager, service.CacheStoreConfig{
		Databases:       cfg.Cache.Databases,
		UserKeys:        cfg.Cache.UserKeys,
		UserNamespaces:  userNamespaces,
		PublishClearing: cfg.Cache.PublishClearing,
	})

	policy := entity.RetryPolicy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		MaxElapsed:  cfg.Retry.MaxElapsed,
	}
	fetcherOpts := []service.FetcherOption[json.RawMessage]{service.WithMetrics[json.RawMessage](metricsManager)}
	if cfg.Retry.Coalesce {
		fetcherOpts = append(fetcherOpts, service.WithCoalescing[json.RawMessage]())
	}
	fetcher := service.NewDatasetFetcher(store, policy, appLogger, fetcherOpts...)

	upstreamClient := upstream.NewClient(cfg.Upstream)
	datasets := service.NewDatasetService(datasetCatalogue, upstreamClient, store, fetcher, appLogger)
	syncRepo := mongoadapter.NewSyncQueueRepository(mongoClient, cfg.MongoDB.Database, cfg.Sync.Collection)
	syncQueue := service.NewSyncQueue(syncRepo, upstreamClient, appLogger, metricsManager)

	handler := httpport.NewHandler(datasets, store, syncQueue, appLogger)
	router := httpport.NewRouter(handler, httpport.RouterConfig{
		JWTSecret: cfg.Auth.JWTSecret,
		AdminRole: cfg.Auth.AdminRole,
	}, appLogger, metricsManager)
	httpSrv := httpport.NewServer(appLogger, cfg.HTTP.Port, cfg.HTTP.ReadTimeout, cfg.HTTP.WriteTimeout, router)
	appLogger.Info("HTTP server instance created")

	application := &App{
		cfg:            cfg,
		log:            appLogger,
		server:         httpSrv,
		store:          store,
		datasets:       datasets,
		syncQueue:      syncQueue,
		workers:        workers,
		mongoClient:    mongoClient,
		redisClient:    redisClient,
		natsConn:       natsConn,
		tracerProvider: tp,
	}

	store.OnCleared(func(ctx context.Context) {
		datasets.Reset(ctx)
		application.registerSyncWorkers()
	})

	return application, nil
}

// registerSyncWorkers subscribes one worker per change subject. A subject
// refreshes every shared dataset that listens on it.
func (a *App) registerSyncWorkers() {
	if a.workers == nil {
		return
	}
	bySubject := make(map[string][]string)
	for _, d := range a.datasets.Datasets() {
		if d.PerUser {
			continue
		}
		if subject := d.SubjectFor(a.cfg.NATS.SubjectPrefix); subject != "" {
			bySubject[subject] = append(bySubject[subject], d.Name)
		}
	}
	subjects := make([]string, 0, len(bySubject))
	for s := range bySubject {
		subjects = append(subjects, s)
	}
	sort.Strings(subjects)

	for _, subject := range subjects {
		names := bySubject[subject]
		err := a.workers.Register(subject, func(ctx context.Context, subject string, _ []byte) {
			for _, name := range names {
				if _, err := a.datasets.Refresh(ctx, name); err != nil {
					a.log.Warnf("Sync worker %s failed to refresh %s: %v", subject, name, err)
				}
			}
		})
		if err != nil {
			a.log.Errorf("Failed to register sync worker: %v", err)
		}
	}
}

func (a *App) runSyncLoop(ctx context.Context) {
	if a.cfg.Sync.Interval <= 0 {
		a.log.Info("Periodic sync queue processing disabled")
		return
	}
	ticker := time.NewTicker(a.cfg.Sync.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			processed, failed, err := a.syncQueue.Process(ctx)
			if err != nil {
				a.log.Warnf("Sync queue processing failed: %v", err)
				continue
			}
			if processed+failed > 0 {
				a.log.Infof("Sync queue: %d replayed, %d still pending after failure", processed, failed)
			}
		}
	}
}

func (a *App) Run() {
	a.log.Info("Starting application components...")

	runCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()

	if a.cfg.Cache.WarmOnStartup {
		a.datasets.Warm(runCtx)
	}
	a.registerSyncWorkers()
	go a.runSyncLoop(runCtx)

	go func() {
		if err := a.server.Start(); err != nil {
			a.log.Fatalf("Failed to start HTTP server: %v", err)
		}
	}()
	a.log.Info("HTTP server started in a goroutine")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	receivedSignal := <-quit
	a.log.Infof("Received shutdown signal: %v. Shutting down application...", receivedSignal)

	stopBackground()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.HTTP.TimeoutGraceful+5*time.Second)
	defer cancel()

	if err := a.server.Stop(shutdownCtx); err != nil {
		a.log.Errorf("Error during HTTP server graceful shutdown: %v", err)
	} else {
		a.log.Info("HTTP server stopped successfully")
	}

	if a.natsConn != nil {
		if err := a.natsConn.Drain(); err != nil {
			a.log.Errorf("Error draining NATS connection: %v", err)
		} else {
			a.log.Info("NATS connection drained")
		}
	}

	a.log.Info("Closing database connections...")

	if a.mongoClient != nil {
		if err := a.mongoClient.Disconnect(shutdownCtx); err != nil {
			a.log.Errorf("Error disconnecting from MongoDB: %v", err)
		} else {
			a.log.Info("MongoDB connection closed successfully")
		}
	}

	if a.redisClient != nil {
		if err := a.redisClient.Close(); err != nil {
			a.log.Errorf("Error closing Redis client: %v", err)
		} else {
			a.log.Info("Redis client closed successfully")
		}
	}

	if a.tracerProvider != nil {
		if err := a.tracerProvider.Shutdown(shutdownCtx); err != nil {
			a.log.Errorf("Error shutting down tracer provider: %v", err)
		}
	}

	a.log.Info("Application shut down successfully")
	_ = a.log.Sync()
}

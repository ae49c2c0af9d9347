// Package app wires the stores, caches and services shared by the server and
// the sync command line tool.
package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prudhvinik1/locsync/internal/cache"
	"github.com/prudhvinik1/locsync/internal/config"
	"github.com/prudhvinik1/locsync/internal/database"
	"github.com/prudhvinik1/locsync/internal/docstore"
	"github.com/prudhvinik1/locsync/internal/events"
	"github.com/prudhvinik1/locsync/internal/repositories"
	"github.com/prudhvinik1/locsync/internal/retry"
	"github.com/prudhvinik1/locsync/internal/services"
	"github.com/prudhvinik1/locsync/internal/validation"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

type App struct {
	Config *config.Config
	Logger *logrus.Logger

	Postgres  *pgxpool.Pool
	Redis     *redis.Client
	Bus       events.Bus
	Cache     *cache.Layer
	Validator *validation.Validator

	Locations *services.LocationService
	Local     *services.LocalService
	Sync      *services.SyncService
}

// New connects to every backend and builds the services. Redis is optional:
// without it the cache is a no-op and change events stay in process.
func New(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger, Validator: validation.New()}

	pool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	a.Postgres = pool

	if err := database.CreateTables(ctx, pool); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	var backend cache.Cache = cache.NopCache{}
	if cfg.RedisURL != "" {
		client, err := database.NewRedisClient(ctx, cfg.RedisURL, logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to create redis client: %w", err)
		}
		a.Redis = client
		backend = cache.NewRedisCache(client)
		a.Bus = events.NewRedisBus(client, events.DefaultChannel, logger)
	} else {
		logger.Warn("REDIS_URL not set, running without cache and with in-process change events")
		a.Bus = events.NewLocalBus(logger)
	}
	a.Cache = cache.NewLayer(backend, cfg.CacheTTL, logger)

	store, err := newDocumentStore(ctx, cfg, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	store = docstore.WithChangeEvents(store, a.Bus, logger)

	a.Locations = services.NewLocationService(store, a.Cache, a.Validator, retryPolicies(cfg), logger)

	fullSync := services.DefaultFullSyncPolicy()
	fullSync.MaxAttempts = cfg.RetryMaxAttempts
	repos := repositories.NewPostgresSyncRepositories(pool)
	a.Sync = services.NewSyncService(a.Locations, repos, fullSync, logger)
	a.Local = services.NewLocalService(repos, a.Locations, a.Validator, logger)

	return a, nil
}

// StartInvalidator keeps this process's cache in line with document writes
// made by any process sharing the bus. It stops when ctx is done.
func (a *App) StartInvalidator(ctx context.Context) error {
	ch, err := a.Bus.Subscribe(ctx)
	if err != nil {
		return fmt.Errorf("failed to subscribe to change events: %w", err)
	}
	go cache.NewInvalidator(a.Cache, a.Logger).Run(ctx, ch)
	return nil
}

func (a *App) Close() {
	if a.Redis != nil {
		a.Redis.Close()
	}
	if a.Postgres != nil {
		a.Postgres.Close()
	}
}

func newDocumentStore(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (docstore.Store, error) {
	if cfg.DocstoreBackend == config.BackendMemory {
		logger.Warn("Using the in-memory document store, documents are lost on exit")
		return docstore.NewMemoryStore(), nil
	}

	client, err := database.NewFirebaseDatabase(ctx, cfg.FirebaseDatabaseURL, cfg.FirebaseCredentialsFile, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create firebase client: %w", err)
	}
	return docstore.NewFirebaseStore(client), nil
}

func retryPolicies(cfg *config.Config) services.RetryPolicies {
	return services.RetryPolicies{
		Store: retry.Policy{MaxAttempts: cfg.RetryMaxAttempts, Backoff: retry.Jittered(cfg.RetryBaseDelay)},
		Lock:  retry.Policy{MaxAttempts: cfg.OptimisticLockMaxAttempts, Backoff: retry.Exponential(cfg.OptimisticLockBaseDelay)},
	}
}

package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"

	"github.com/teemow/sitekit/internal/config"
	"github.com/teemow/sitekit/internal/storage"
	"github.com/teemow/sitekit/internal/storage/memory"
	"github.com/teemow/sitekit/internal/storage/postgres"
	"github.com/teemow/sitekit/internal/storage/redis"
)

// storageConnectTimeout bounds connecting to the storage backend at startup.
const storageConnectTimeout = 10 * time.Second

// openStore opens the backend named by cfg.StorageType and verifies it
// answers before returning.
func openStore(ctx context.Context, cfg *config.Config) (storage.Store, func(context.Context) error, error) {
	ctx, cancel := context.WithTimeout(ctx, storageConnectTimeout)
	defer cancel()

	switch cfg.StorageType {
	case config.StorageMemory, "":
		return memory.New(), func(context.Context) error { return nil }, nil

	case config.StorageRedis:
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		store := redis.New(client, cfg.Redis.KeyPrefix)
		if err := store.Ping(ctx); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		return store, func(context.Context) error { return client.Close() }, nil

	case config.StoragePostgres:
		pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create postgres pool: %w", err)
		}
		store := postgres.New(pool)
		if err := store.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		if err := store.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, func(context.Context) error { pool.Close(); return nil }, nil

	default:
		return nil, nil, fmt.Errorf("unsupported storage %q", cfg.StorageType)
	}
}

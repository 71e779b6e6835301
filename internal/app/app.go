// Package app assembles the engine from configuration for the binaries.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/ariefcatur/go-order-engine/internal/config"
	"github.com/ariefcatur/go-order-engine/internal/memstore"
	"github.com/ariefcatur/go-order-engine/internal/orders"
	"github.com/ariefcatur/go-order-engine/internal/postgres"
	"github.com/ariefcatur/go-order-engine/internal/processor"
	"github.com/ariefcatur/go-order-engine/internal/redisx"
	"github.com/ariefcatur/go-order-engine/internal/sweeper"
	"github.com/ariefcatur/go-order-engine/internal/validation"
)

type App struct {
	Config    config.Config
	Store     orders.Store
	Processor *processor.Processor
	// Redis and Statuses are nil when REDIS_ADDR is empty.
	Redis    *redis.Client
	Statuses *redisx.StatusCache
	Pool     *pgxpool.Pool
}

// Build connects the store and Redis and wires a processor around them.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	a := &App{Config: cfg}

	var catalog orders.Catalog
	switch cfg.StoreDriver {
	case config.DriverMemory:
		m := memstore.New()
		a.Store, catalog = m, m
		logrus.Warn("using in-memory store, data is lost on exit")
	default:
		pool, err := postgres.Connect(ctx, cfg.PostgresDSN, postgres.PoolOptions{})
		if err != nil {
			return nil, fmt.Errorf("db connect: %w", err)
		}
		a.Pool = pool
		pg := postgres.New(pool)
		pg.LockTimeout = cfg.LockTimeout
		a.Store, catalog = pg, pg
	}

	if cfg.RedisAddr != "" {
		rdb := redisx.New(cfg.RedisAddr)
		pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := rdb.Ping(pctx).Err()
		cancel()
		if err != nil {
			_ = rdb.Close()
			a.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		a.Redis = rdb
		a.Statuses = redisx.NewStatusCache(rdb, cfg.StatusLocalCache)
	}

	v, err := validation.New(catalog, cfg.Validation())
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("validator: %w", err)
	}

	p := processor.New(a.Store, v, cfg.ReservationTTL)
	p.TxRetries = cfg.TxRetries
	p.Queue.MaxAttempts = cfg.QueueMaxAttempts
	p.Queue.RetryBase = cfg.QueueRetryBase
	p.Queue.RetryMax = cfg.QueueRetryMax
	if a.Statuses != nil {
		p.Statuses = a.Statuses
	}
	a.Processor = p
	return a, nil
}

// Sweeper returns an expiry sweeper, elected through Redis when it is configured.
func (a *App) Sweeper() *sweeper.Sweeper {
	s := sweeper.New(a.Processor.Inventory, a.Store)
	s.Interval = a.Config.SweepInterval
	s.Batch = a.Config.SweepBatch
	if a.Redis != nil {
		s.Locker = redisx.NewLocker(a.Redis)
	}
	return s
}

func (a *App) Close() {
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.Pool != nil {
		a.Pool.Close()
	}
}

// Package storage runs database work on the actuator. A unit of work is a
// transaction part, committed atomically on a SQL database, followed by a
// cache part applied to Redis once the transaction committed. Each part is
// its own task, so a cache failure retries without replaying the
// transaction.
//
// Transient errors (SQLite busy/locked, Postgres serialization failures and
// deadlocks, Redis loading/timeouts) are classified as retryable by the
// storage stage; everything else fails the unit of work.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Tea-Neko-Party/TeaNeko-App-sub001/internal/engine"
	"github.com/Tea-Neko-Party/TeaNeko-App-sub001/pkg/api"
	"github.com/Tea-Neko-Party/TeaNeko-App-sub001/pkg/future"
)

// TxFunc is one operation of the transaction part.
type TxFunc func(ctx context.Context, tx *sql.Tx) error

// CacheFunc is one operation of the cache part.
type CacheFunc func(ctx context.Context, cache redis.Cmdable) error

// ErrNoCache is returned when cache operations are given to a store without
// a cache.
var ErrNoCache = errors.New("storage has no cache configured")

// Config configures a Store.
type Config struct {
	DB *sql.DB

	// Cache is optional.
	Cache redis.Cmdable

	Actuator *engine.Actuator

	MaxRetries    int
	RetryInterval time.Duration
	Expiration    time.Duration

	// StagePriority places the classification stage. It should sit above
	// stages that may produce storage errors.
	StagePriority int

	TxOptions *sql.TxOptions
	Logger    *slog.Logger
}

// Store runs transaction and cache work through the actuator.
type Store struct {
	db       *sql.DB
	cache    redis.Cmdable
	actuator *engine.Actuator
	cfg      Config
	logger   *slog.Logger
}

// New creates a Store and registers the classification stage on the
// actuator if it is not registered yet.
func New(cfg Config) (*Store, error) {
	if cfg.DB == nil {
		return nil, errors.New("storage: DB is required")
	}
	if cfg.Actuator == nil {
		return nil, errors.New("storage: Actuator is required")
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 50 * time.Millisecond
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	err := cfg.Actuator.Use(ClassifyStage(cfg.StagePriority))
	if err != nil && !errors.Is(err, engine.ErrDuplicateStage) {
		return nil, err
	}

	return &Store{
		db:       cfg.DB,
		cache:    cfg.Cache,
		actuator: cfg.Actuator,
		cfg:      cfg,
		logger:   logger,
	}, nil
}

// DB returns the underlying database.
func (s *Store) DB() *sql.DB { return s.db }

// RunWithTransaction commits ops in one transaction.
func (s *Store) RunWithTransaction(ctx context.Context, ops ...TxFunc) *future.Future[struct{}] {
	return s.RunWithTransactionAndCache(ctx, ops, nil)
}

// RunWithCache applies ops to the cache.
func (s *Store) RunWithCache(ctx context.Context, ops ...CacheFunc) *future.Future[struct{}] {
	return s.RunWithTransactionAndCache(ctx, nil, ops)
}

// RunWithTransactionAndCache commits txOps, then applies cacheOps. The
// returned future fails with the first terminal error of either part.
func (s *Store) RunWithTransactionAndCache(ctx context.Context, txOps []TxFunc, cacheOps []CacheFunc) *future.Future[struct{}] {
	if len(cacheOps) > 0 && s.cache == nil {
		return future.Failed[struct{}](ErrNoCache, future.WithLogger(s.logger))
	}

	txDone := future.Completed(api.OK[struct{}](struct{}{}), future.WithLogger(s.logger))
	if len(txOps) > 0 {
		txDone = engine.Submit(s.actuator, s.task("storage:tx", func(context.Context) (api.TaskResult[struct{}], error) {
			return s.runTx(ctx, txOps)
		}))
	}

	cacheDone := future.Compose(txDone, func(api.TaskResult[struct{}]) *future.Future[api.TaskResult[struct{}]] {
		if len(cacheOps) == 0 {
			return future.Completed(api.OK(struct{}{}))
		}
		return engine.Submit(s.actuator, s.task("storage:cache", func(context.Context) (api.TaskResult[struct{}], error) {
			return s.runCache(ctx, cacheOps)
		}))
	})

	return future.Then(cacheDone, func(api.TaskResult[struct{}]) (struct{}, error) {
		return struct{}{}, nil
	})
}

func (s *Store) task(name string, fn api.Callable[struct{}]) api.TaskConfig[struct{}] {
	return api.TaskConfig[struct{}]{
		Name:          name,
		Callable:      fn,
		MaxRetries:    s.cfg.MaxRetries,
		RetryStrategy: api.RetryConditional,
		RetryInterval: s.cfg.RetryInterval,
		Expiration:    s.cfg.Expiration,
	}
}

func (s *Store) runTx(ctx context.Context, ops []TxFunc) (api.TaskResult[struct{}], error) {
	tx, err := s.db.BeginTx(ctx, s.cfg.TxOptions)
	if err != nil {
		return api.NotOK[struct{}](), fmt.Errorf("begin: %w", err)
	}
	for i, op := range ops {
		if err := op(ctx, tx); err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				s.logger.WarnContext(ctx, "storage_rollback_failed",
					slog.Int("op", i),
					slog.Any("error", rbErr),
				)
			}
			return api.NotOK[struct{}](), err
		}
	}
	if err := tx.Commit(); err != nil {
		return api.NotOK[struct{}](), fmt.Errorf("commit: %w", err)
	}
	return api.OK(struct{}{}), nil
}

func (s *Store) runCache(ctx context.Context, ops []CacheFunc) (api.TaskResult[struct{}], error) {
	for _, op := range ops {
		if err := op(ctx, s.cache); err != nil {
			return api.NotOK[struct{}](), err
		}
	}
	return api.OK(struct{}{}), nil
}

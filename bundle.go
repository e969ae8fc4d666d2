package teaneko

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/redis/go-redis/v9"

	"github.com/Tea-Neko-Party/TeaNeko-App-sub001/internal/config"
	"github.com/Tea-Neko-Party/TeaNeko-App-sub001/internal/engine"
	"github.com/Tea-Neko-Party/TeaNeko-App-sub001/pkg/storage"
)

var logWriter io.Writer = os.Stderr

// openStore connects the database and optional cache named by cfg and
// returns the store with the closers that release them.
func openStore(ctx context.Context, cfg config.StorageConfig, a *engine.Actuator, logger *slog.Logger) (*storage.Store, []func() error, error) {
	var (
		db  *sql.DB
		err error
	)
	switch cfg.Driver {
	case "sqlite":
		db, err = storage.OpenSQLite(ctx, cfg.DSN, cfg.BusyTimeout)
	case "postgres":
		db, err = storage.OpenPostgres(ctx, cfg.DSN)
	default:
		err = fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open %s storage: %w", cfg.Driver, err)
	}
	closers := []func() error{db.Close}

	var cache redis.Cmdable
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			_ = db.Close()
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}
		cache = client
		closers = append(closers, client.Close)
	}

	store, err := storage.New(storage.Config{
		DB:            db,
		Cache:         cache,
		Actuator:      a,
		MaxRetries:    cfg.MaxRetries,
		RetryInterval: cfg.RetryInterval,
		Expiration:    cfg.Expiration,
		StagePriority: 100,
		Logger:        logger,
	})
	if err != nil {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
		return nil, nil, err
	}
	return store, closers, nil
}

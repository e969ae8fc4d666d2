package storage

import (
	"context"
	"database/sql/driver"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/Tea-Neko-Party/TeaNeko-App-sub001/pkg/api"
)

// ClassifyStageName is the name of the stage returned by ClassifyStage.
const ClassifyStageName = "storage-classify"

// Postgres SQLSTATEs worth another attempt.
var retryableSQLStates = map[string]struct{}{
	"40001": {}, // serialization_failure
	"40P01": {}, // deadlock_detected
	"55P03": {}, // lock_not_available
}

// Redis error prefixes reported while a node is not ready.
var retryableRedisPrefixes = []string{"LOADING", "BUSY", "TRYAGAIN", "CLUSTERDOWN", "MASTERDOWN"}

// Classify marks transient storage errors as retryable. Errors that already
// carry a classification, and errors it does not recognise, are returned
// unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var te *api.TaskError
	if errors.As(err, &te) {
		return err
	}
	if IsTransient(err) {
		return api.Retryable(err)
	}
	return err
}

// IsTransient reports whether err is contention or a connectivity blip.
func IsTransient(err error) bool {
	// The caller gave up; another attempt would fail the same way.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
		return false
	}

	var pe *pgconn.PgError
	if errors.As(err, &pe) {
		_, ok := retryableSQLStates[pe.Code]
		return ok
	}
	if pgconn.Timeout(err) {
		return true
	}

	var re redis.Error
	if errors.As(err, &re) {
		msg := re.Error()
		for _, p := range retryableRedisPrefixes {
			if strings.HasPrefix(msg, p) {
				return true
			}
		}
		return false
	}

	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// ClassifyStage reclassifies transient storage errors raised anywhere below
// it in the chain.
func ClassifyStage(priority int) api.Stage {
	return api.NewStage(ClassifyStageName, priority, func(ctx context.Context, chain api.Chain) (api.TaskResult[any], error) {
		res, err := chain.Next(ctx)
		return res, Classify(err)
	})
}

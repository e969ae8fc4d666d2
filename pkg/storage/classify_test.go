package storage

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/Tea-Neko-Party/TeaNeko-App-sub001/pkg/api"
)

type fakeRedisError string

func (e fakeRedisError) Error() string { return string(e) }
func (fakeRedisError) RedisError()     {}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"serialization failure", &pgconn.PgError{Code: "40001"}, true},
		{"deadlock", fmt.Errorf("update: %w", &pgconn.PgError{Code: "40P01"}), true},
		{"lock not available", &pgconn.PgError{Code: "55P03"}, true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"redis loading", fakeRedisError("LOADING Redis is loading the dataset in memory"), true},
		{"redis wrongtype", fakeRedisError("WRONGTYPE Operation against a key holding the wrong kind of value"), false},
		{"bad conn", driver.ErrBadConn, true},
		{"net timeout", &net.DNSError{Err: "i/o timeout", IsTimeout: true}, true},
		{"caller deadline", context.DeadlineExceeded, false},
		{"caller cancel", context.Canceled, false},
		{"plain", errors.New("no such table"), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, IsTransient(tc.err))
		})
	}
}

func TestClassify(t *testing.T) {
	require.NoError(t, Classify(nil))

	contention := &pgconn.PgError{Code: "40001"}
	got := Classify(contention)
	require.True(t, api.IsRetryable(got))
	require.ErrorIs(t, got, contention)

	fatal := api.Fatal(&pgconn.PgError{Code: "40001"})
	require.Same(t, fatal, Classify(fatal), "an explicit classification wins")

	plain := errors.New("syntax error")
	require.Same(t, plain, Classify(plain))
}

func TestIsTransient_SQLiteBusy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "busy.db")
	ctx := context.Background()

	holder, err := OpenSQLite(ctx, path, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = holder.Close() })
	_, err = holder.ExecContext(ctx, `CREATE TABLE kv (k TEXT PRIMARY KEY, v TEXT)`)
	require.NoError(t, err)

	conn, err := holder.Conn(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	_, err = conn.ExecContext(ctx, `BEGIN IMMEDIATE`)
	require.NoError(t, err)
	t.Cleanup(func() { _, _ = conn.ExecContext(ctx, `ROLLBACK`) })

	other, err := OpenSQLite(ctx, path, 0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = other.Close() })

	_, err = other.ExecContext(ctx, `INSERT INTO kv (k, v) VALUES ('a', 'b')`)
	require.Error(t, err)
	require.True(t, IsTransient(err), "expected SQLITE_BUSY to be transient, got %v", err)
}

func TestClassifyStage_Name(t *testing.T) {
	s := ClassifyStage(10)
	require.Equal(t, ClassifyStageName, s.Name())
	require.Equal(t, 10, s.Priority())
}

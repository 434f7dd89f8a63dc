package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openFile(t *testing.T, path string) *sql.DB {
	t.Helper()
	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_busy_timeout=1&_txlock=immediate", path))
	require.NoError(t, err)
	conn.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestIsBusy(t *testing.T) {
	assert.True(t, IsBusy(sqlite3.Error{Code: sqlite3.ErrBusy}))
	assert.True(t, IsBusy(fmt.Errorf("begin: %w", sqlite3.Error{Code: sqlite3.ErrLocked})))
	assert.False(t, IsBusy(sqlite3.Error{Code: sqlite3.ErrConstraint}))
	assert.False(t, IsBusy(errors.New("database is locked")))
	assert.False(t, IsBusy(nil))
}

func TestWithTransaction_RollbackAndNesting(t *testing.T) {
	db := NewDB(openFile(t, filepath.Join(t.TempDir(), "tx.db")), zap.NewNop())
	ctx := context.Background()

	_, err := db.ExecContext(ctx, `CREATE TABLE items (id INTEGER PRIMARY KEY)`)
	require.NoError(t, err)

	boom := errors.New("boom")
	err = db.WithTransaction(ctx, func(txCtx context.Context) error {
		outer := db.Executor(txCtx)
		if _, err := outer.ExecContext(txCtx, `INSERT INTO items (id) VALUES (1)`); err != nil {
			return err
		}
		return db.WithTransaction(txCtx, func(inner context.Context) error {
			assert.Same(t, outer, db.Executor(inner))
			return boom
		})
	})
	assert.ErrorIs(t, err, boom)

	var n int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM items`).Scan(&n))
	assert.Equal(t, 0, n)
}

func TestWithTransaction_RetriesBusyBegin(t *testing.T) {
	path := filepath.Join(t.TempDir(), "busy.db")
	holder := openFile(t, path)
	held, err := holder.Begin()
	require.NoError(t, err)

	ctx := context.Background()
	called := false

	impatient := NewDB(openFile(t, path), zap.NewNop(), WithBeginRetries(1, time.Millisecond))
	err = impatient.WithTransaction(ctx, func(context.Context) error {
		called = true
		return nil
	})
	require.Error(t, err)
	assert.True(t, IsBusy(err))
	assert.False(t, called)

	go func() {
		time.Sleep(30 * time.Millisecond)
		_ = held.Rollback()
	}()

	patient := NewDB(openFile(t, path), zap.NewNop(), WithBeginRetries(8, 10*time.Millisecond))
	require.NoError(t, patient.WithTransaction(ctx, func(context.Context) error {
		called = true
		return nil
	}))
	assert.True(t, called)
}

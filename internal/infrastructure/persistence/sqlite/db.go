package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/garyjia/wfm-approvals/internal/application/port"
)

type txKey struct{}

// DB is the transaction manager for the workflow store. Repositories obtain
// their executor from it so they join the transaction carried in ctx.
type DB struct {
	*sql.DB
	logger *zap.Logger

	beginRetries int
	beginBackoff time.Duration
}

// Option configures a DB
type Option func(*DB)

// WithBeginRetries retries BEGIN up to n more times when the database is
// busy, waiting backoff, 2*backoff, ... between attempts.
func WithBeginRetries(n int, backoff time.Duration) Option {
	return func(db *DB) {
		db.beginRetries = n
		db.beginBackoff = backoff
	}
}

// NewDB wraps sqlDB. Write transactions are opened with BEGIN IMMEDIATE (see
// database.DSN), so lock contention surfaces when the transaction begins and
// nothing of fn has run yet.
func NewDB(sqlDB *sql.DB, logger *zap.Logger, opts ...Option) *DB {
	db := &DB{
		DB:           sqlDB,
		logger:       logger,
		beginRetries: 3,
		beginBackoff: 50 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(db)
	}
	return db
}

// WithTransaction runs fn within a transaction. A ctx already carrying a
// transaction is reused, so nested calls commit or roll back together.
func (db *DB) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if tx := extractTx(ctx); tx != nil {
		return fn(ctx)
	}

	tx, err := db.begin(ctx)
	if err != nil {
		db.logger.Error("Failed to begin transaction", zap.Error(err))
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	txCtx := context.WithValue(ctx, txKey{}, tx)

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			db.logger.Error("Transaction panicked, rolled back", zap.Any("panic", p))
			panic(p)
		}
	}()

	if err := fn(txCtx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			db.logger.Error("Failed to rollback transaction", zap.Error(rbErr))
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		db.logger.Error("Failed to commit transaction", zap.Error(err))
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

func (db *DB) begin(ctx context.Context) (*sql.Tx, error) {
	wait := db.beginBackoff
	for attempt := 0; ; attempt++ {
		tx, err := db.BeginTx(ctx, nil)
		if err == nil || !IsBusy(err) || attempt >= db.beginRetries {
			return tx, err
		}

		db.logger.Debug("Database busy, retrying begin",
			zap.Int("attempt", attempt+1),
			zap.Duration("wait", wait))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
	}
}

// IsBusy reports whether err is SQLite lock contention
func IsBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}

func extractTx(ctx context.Context) *sql.Tx {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return nil
}

// Executor returns the transaction carried by ctx, or the database
func (db *DB) Executor(ctx context.Context) Executor {
	if tx := extractTx(ctx); tx != nil {
		return tx
	}
	return db.DB
}

// Executor covers both *sql.DB and *sql.Tx
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

var _ port.TransactionManager = (*DB)(nil)

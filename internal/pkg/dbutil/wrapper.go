package dbutil

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// TxOptions represents transaction options
type TxOptions struct {
	Isolation sql.IsolationLevel
	ReadOnly  bool
	Timeout   time.Duration
}

// DefaultTxOptions provides sensible transaction defaults
var DefaultTxOptions = TxOptions{
	Isolation: sql.LevelDefault,
	ReadOnly:  false,
	Timeout:   30 * time.Second,
}

// DB is the subset of *sql.DB the wrapper needs.
type DB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
	PingContext(ctx context.Context) error
}

// TxFunc represents a function that operates within a transaction
type TxFunc func(ctx context.Context, tx *sql.Tx) error

// ScanFunc receives a single row while the query context is still live.
type ScanFunc func(row *sql.Row) error

// Wrapper bounds every database call with a timeout.
type Wrapper struct {
	db      DB
	timeout time.Duration
}

// NewWrapper creates a new database wrapper
func NewWrapper(db DB, timeout time.Duration) *Wrapper {
	if timeout <= 0 {
		timeout = DefaultTxOptions.Timeout
	}
	return &Wrapper{
		db:      db,
		timeout: timeout,
	}
}

// WithTransaction executes fn within a transaction, rolling back on error.
func (w *Wrapper) WithTransaction(ctx context.Context, fn TxFunc, opts ...TxOptions) error {
	options := DefaultTxOptions
	if len(opts) > 0 {
		options = opts[0]
	}

	ctx, cancel := context.WithTimeout(ctx, options.Timeout)
	defer cancel()

	tx, err := w.db.BeginTx(ctx, &sql.TxOptions{
		Isolation: options.Isolation,
		ReadOnly:  options.ReadOnly,
	})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(ctx, tx); err != nil {
		if rollbackErr := tx.Rollback(); rollbackErr != nil {
			return fmt.Errorf("transaction failed with error: %v, rollback also failed: %w", err, rollbackErr)
		}
		return fmt.Errorf("transaction rolled back due to error: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ExecQuery executes a statement with the wrapper timeout.
func (w *Wrapper) ExecQuery(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	return w.db.ExecContext(ctx, query, args...)
}

// QueryRow runs a single-row query and hands the row to scan before the
// timeout context is released.
func (w *Wrapper) QueryRow(ctx context.Context, scan ScanFunc, query string, args ...any) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	return scan(w.db.QueryRowContext(ctx, query, args...))
}

// PingWithTimeout checks database connectivity with timeout
func (w *Wrapper) PingWithTimeout(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()

	return w.db.PingContext(ctx)
}

// SaveWithRetry runs fn in a transaction, retrying with linear backoff while
// the database reports lock contention.
func (w *Wrapper) SaveWithRetry(ctx context.Context, fn TxFunc, maxRetries int) error {
	var lastErr error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := w.WithTransaction(ctx, fn)
		if err == nil {
			return nil
		}

		lastErr = err
		if !IsRetryableError(err) {
			return err
		}

		if attempt < maxRetries {
			wait := time.Duration(attempt+1) * 100 * time.Millisecond
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
	}

	return fmt.Errorf("operation failed after %d retries, last error: %w", maxRetries, lastErr)
}

var retryableErrors = []string{
	"database is locked",
	"database is busy",
	"deadlock",
	"cannot start a transaction within a transaction",
}

// IsRetryableError reports whether err looks like transient SQLite contention.
func IsRetryableError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, retryable := range retryableErrors {
		if strings.Contains(msg, retryable) {
			return true
		}
	}
	return false
}

// Package db is the SQL-first storage layer under the car store. It is NOT
// an ORM: all SQL is explicit. It adds context-aware helpers, hook dispatch,
// unified error mapping, placeholder rebinding and transactions on top of
// database/sql.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ─────────────────────────────────────────────────────────────────────────────
// Config
// ─────────────────────────────────────────────────────────────────────────────

// Config holds all options for opening and managing the connection pool.
type Config struct {
	// DSN is the driver-specific data-source name.
	DSN string

	// DriverName is "postgres", "pgx", "mysql" or "sqlite3".
	DriverName string

	// Pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	// DefaultTimeout bounds statements whose context carries no deadline.
	// Zero leaves timing entirely to the driver.
	DefaultTimeout time.Duration

	// Hooks run around every statement. Nil entries are skipped.
	Hooks []Hook
}

// ─────────────────────────────────────────────────────────────────────────────
// DB: the central type
// ─────────────────────────────────────────────────────────────────────────────

// DB is a concurrency-safe wrapper around *sql.DB. The pool is the only
// shared state; every request borrows its own connection.
type DB struct {
	runner
	sqldb *sql.DB
	cfg   Config
}

// Open opens the database described by cfg and verifies connectivity with
// Ping. When the driver is registered in the driver registry its error
// mapper and placeholder style are installed.
func Open(cfg Config) (*DB, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db: DSN must not be empty")
	}
	if cfg.DriverName == "" {
		return nil, fmt.Errorf("db: DriverName must not be empty")
	}

	sqldb, err := sql.Open(cfg.DriverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("db: open: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqldb.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqldb.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if cfg.ConnMaxIdleTime > 0 {
		sqldb.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}

	errMap := DefaultErrorMapper()
	bind := BindDollar
	if drv, err := LookupDriver(cfg.DriverName); err == nil {
		errMap = ChainMapper(drv.ErrorMapper(), DefaultErrorMapper())
		bind = drv.Placeholder()
	}

	d := &DB{
		runner: runner{
			conn:    sqldb,
			hooks:   newHookChain(cfg.Hooks),
			errMap:  errMap,
			bind:    bind,
			timeout: cfg.DefaultTimeout,
		},
		sqldb: sqldb,
		cfg:   cfg,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sqldb.PingContext(ctx); err != nil {
		_ = sqldb.Close()
		return nil, d.mapErr(fmt.Errorf("db: ping: %w", err))
	}

	return d, nil
}

// Raw returns the underlying *sql.DB.
func (d *DB) Raw() *sql.DB { return d.sqldb }

// DriverName reports the database/sql driver the pool was opened with.
func (d *DB) DriverName() string { return d.cfg.DriverName }

// SetErrorMapper replaces the installed error mapper.
func (d *DB) SetErrorMapper(m ErrorMapper) { d.errMap = m }

// Close closes all pooled connections. Safe to call multiple times.
func (d *DB) Close() error { return d.sqldb.Close() }

// Ping verifies that the database is reachable.
func (d *DB) Ping(ctx context.Context) error {
	ctx, cancel := d.withTimeout(ctx)
	defer cancel()
	return d.mapErr(d.sqldb.PingContext(ctx))
}

// Stats returns pool statistics for monitoring.
func (d *DB) Stats() sql.DBStats { return d.sqldb.Stats() }

// ─────────────────────────────────────────────────────────────────────────────
// runner: statement execution shared by *DB and *Tx
// ─────────────────────────────────────────────────────────────────────────────

// conn is the subset of *sql.DB and *sql.Tx the runner needs.
type conn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
}

type runner struct {
	conn    conn
	hooks   hookChain
	errMap  ErrorMapper
	bind    BindStyle
	timeout time.Duration
}

// Exec executes a statement that returns no rows (INSERT, UPDATE, DELETE, DDL).
func (r *runner) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	query, args = r.rebind(query, args)

	start := time.Now()
	r.hooks.Before(ctx, query, args)
	res, err := r.conn.ExecContext(ctx, query, args...)
	err = r.mapErr(err)
	r.hooks.After(ctx, query, args, time.Since(start), err)
	return res, err
}

// Query executes a query that returns rows. The caller MUST close the
// returned *Rows; closing also releases the statement's timeout.
func (r *runner) Query(ctx context.Context, query string, args ...any) (*Rows, error) {
	ctx, cancel := r.withTimeout(ctx)
	query, args = r.rebind(query, args)

	start := time.Now()
	r.hooks.Before(ctx, query, args)
	rows, err := r.conn.QueryContext(ctx, query, args...)
	err = r.mapErr(err)
	r.hooks.After(ctx, query, args, time.Since(start), err)
	if err != nil {
		cancel()
		return nil, err
	}
	return &Rows{Rows: rows, cancel: cancel, errMap: r.errMap}, nil
}

// QueryRow executes a query expected to return at most one row. Hooks see
// the outcome once Scan runs, since database/sql defers the error until then.
func (r *runner) QueryRow(ctx context.Context, query string, args ...any) *Row {
	ctx, cancel := r.withTimeout(ctx)
	query, args = r.rebind(query, args)

	start := time.Now()
	r.hooks.Before(ctx, query, args)
	return &Row{
		raw:    r.conn.QueryRowContext(ctx, query, args...),
		errMap: r.errMap,
		cancel: cancel,
		after: func(err error) {
			r.hooks.After(ctx, query, args, time.Since(start), err)
		},
	}
}

// Prepare creates a prepared statement for repeated use.
// The caller is responsible for calling stmt.Close().
func (r *runner) Prepare(ctx context.Context, query string) (*Stmt, error) {
	query, order := r.bind.Rebind(query)
	s, err := r.conn.PrepareContext(ctx, query)
	if err != nil {
		return nil, r.mapErr(err)
	}
	return &Stmt{stmt: s, query: query, order: order, hooks: r.hooks, errMap: r.errMap}, nil
}

func (r *runner) rebind(query string, args []any) (string, []any) {
	query, order := r.bind.Rebind(query)
	return query, reorder(args, order)
}

func (r *runner) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return ctx, func() {}
	}
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, r.timeout)
}

func (r *runner) mapErr(err error) error {
	if err == nil {
		return nil
	}
	return r.errMap.Map(err)
}

// ─────────────────────────────────────────────────────────────────────────────
// Row / Rows: error-mapped result wrappers
// ─────────────────────────────────────────────────────────────────────────────

// Row wraps *sql.Row and maps errors through the unified error mapper.
type Row struct {
	raw    *sql.Row
	errMap ErrorMapper
	cancel context.CancelFunc
	after  func(error)
}

// Scan copies columns from the matched row into dest values.
// ErrNotFound is returned when no row was found.
func (r *Row) Scan(dest ...any) error {
	defer r.cancel()
	err := r.errMap.Map(r.raw.Scan(dest...))
	r.after(err)
	return err
}

// Rows wraps *sql.Rows so Close releases the statement timeout and Err is
// mapped like every other error.
type Rows struct {
	*sql.Rows
	cancel context.CancelFunc
	errMap ErrorMapper
}

// Close closes the result set.
func (r *Rows) Close() error {
	err := r.Rows.Close()
	r.cancel()
	return err
}

// Err returns the mapped error encountered during iteration, if any.
func (r *Rows) Err() error {
	err := r.Rows.Err()
	if err == nil {
		return nil
	}
	return r.errMap.Map(err)
}

// ─────────────────────────────────────────────────────────────────────────────
// Stmt: wraps *sql.Stmt
// ─────────────────────────────────────────────────────────────────────────────

// Stmt wraps a prepared *sql.Stmt with hook dispatch and error mapping.
type Stmt struct {
	stmt   *sql.Stmt
	query  string
	order  []int
	hooks  hookChain
	errMap ErrorMapper
}

// Exec executes the prepared statement.
func (s *Stmt) Exec(ctx context.Context, args ...any) (sql.Result, error) {
	args = reorder(args, s.order)
	start := time.Now()
	s.hooks.Before(ctx, s.query, args)
	res, err := s.stmt.ExecContext(ctx, args...)
	if err != nil {
		err = s.errMap.Map(err)
	}
	s.hooks.After(ctx, s.query, args, time.Since(start), err)
	return res, err
}

// Close releases the prepared statement resources.
func (s *Stmt) Close() error { return s.stmt.Close() }

// ─────────────────────────────────────────────────────────────────────────────
// Batch helpers
// ─────────────────────────────────────────────────────────────────────────────

// BatchExec runs query once per item inside the transaction on q, binding
// each item's arguments through argsFn. All rows succeed or the enclosing
// transaction rolls back.
//
//	err := db.BatchExec(ctx, tx, "INSERT INTO car (id, make, price) VALUES ($1, $2, $3)", cars,
//	    func(c Car) []any { return []any{c.ID, c.Make, c.Price} })
func BatchExec[T any](ctx context.Context, q Querier, query string, items []T, argsFn func(T) []any) error {
	stmt, err := q.Prepare(ctx, query)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, item := range items {
		if _, err := stmt.Exec(ctx, argsFn(item)...); err != nil {
			return err
		}
	}
	return nil
}

// ─────────────────────────────────────────────────────────────────────────────
// WithRetry: bounded re-execution
// ─────────────────────────────────────────────────────────────────────────────

// RetryConfig controls retry behaviour.
type RetryConfig struct {
	// MaxAttempts counts the first call; values below 1 mean 1.
	MaxAttempts int
	// Delay between attempts. Zero retries immediately.
	Delay time.Duration
	// RetryOn decides whether an error triggers another attempt.
	// Defaults to IsConcurrencyFailure when nil.
	RetryOn func(error) bool
	// OnRetry, if set, is told about each error that is being retried.
	OnRetry func(attempt int, err error)
}

// WithRetry executes fn, re-running it on retryable errors per cfg. Once
// the attempts are spent the last error is returned wrapped, so errors.Is
// still matches it.
func WithRetry(ctx context.Context, cfg RetryConfig, fn func(attempt int) error) error {
	retryOn := cfg.RetryOn
	if retryOn == nil {
		retryOn = IsConcurrencyFailure
	}
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if cfg.OnRetry != nil {
				cfg.OnRetry(attempt, lastErr)
			}
			if cfg.Delay > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(cfg.Delay):
				}
			}
		}
		lastErr = fn(attempt)
		if lastErr == nil {
			return nil
		}
		if !retryOn(lastErr) {
			return lastErr
		}
	}
	if attempts == 1 {
		return lastErr
	}
	return fmt.Errorf("db: all %d attempts failed: %w", attempts, lastErr)
}

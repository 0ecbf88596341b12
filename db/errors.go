package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
)

// ─────────────────────────────────────────────────────────────────────────────
// Sentinel errors
// ─────────────────────────────────────────────────────────────────────────────

var (
	// ErrNotFound is returned when a query matches no rows.
	ErrNotFound = errors.New("db: record not found")

	// ErrDuplicateKey is returned on primary key or unique constraint violations.
	ErrDuplicateKey = errors.New("db: duplicate key")

	// ErrForeignKeyViolation is returned when a foreign key constraint is violated.
	ErrForeignKeyViolation = errors.New("db: foreign key violation")

	// ErrDeadlock is returned when the database detects a deadlock or the
	// row is locked by another writer.
	ErrDeadlock = errors.New("db: deadlock detected")

	// ErrSerializationFailure is returned when a transaction could not be
	// serialized against concurrent writers (SQLSTATE 40001).
	ErrSerializationFailure = errors.New("db: serialization failure")

	// ErrTimeout is returned when a statement exceeds its deadline or its
	// context is cancelled.
	ErrTimeout = errors.New("db: query timeout")

	// ErrCheckViolation is returned when a CHECK constraint is violated.
	ErrCheckViolation = errors.New("db: check constraint violation")

	// ErrConnectionFailed is returned when the driver cannot reach the server.
	ErrConnectionFailed = errors.New("db: connection failed")
)

// ─────────────────────────────────────────────────────────────────────────────
// Error helpers: use errors.Is() for type-safe checks
// ─────────────────────────────────────────────────────────────────────────────

func IsNotFound(err error) bool             { return errors.Is(err, ErrNotFound) }
func IsDuplicateKey(err error) bool         { return errors.Is(err, ErrDuplicateKey) }
func IsForeignKeyViolation(err error) bool  { return errors.Is(err, ErrForeignKeyViolation) }
func IsDeadlock(err error) bool             { return errors.Is(err, ErrDeadlock) }
func IsSerializationFailure(err error) bool { return errors.Is(err, ErrSerializationFailure) }
func IsTimeout(err error) bool              { return errors.Is(err, ErrTimeout) }
func IsCheckViolation(err error) bool       { return errors.Is(err, ErrCheckViolation) }
func IsConnectionFailed(err error) bool     { return errors.Is(err, ErrConnectionFailed) }

// IsConcurrencyFailure reports whether err signals a lost race with another
// writer: a deadlock or a serialization failure.
func IsConcurrencyFailure(err error) bool {
	return IsDeadlock(err) || IsSerializationFailure(err)
}

// IsUnavailable reports whether err means the store could not be reached or
// did not answer in time.
func IsUnavailable(err error) bool {
	return IsTimeout(err) || IsConnectionFailed(err)
}

// ─────────────────────────────────────────────────────────────────────────────
// DBError: rich error type preserving original driver error
// ─────────────────────────────────────────────────────────────────────────────

// DBError wraps a sentinel error with the original driver error so callers can
// either use errors.Is(err, ErrDuplicateKey) for simple checks or inspect the
// raw driver error for additional context.
type DBError struct {
	// Sentinel is one of the package-level Err* variables.
	Sentinel error
	// Cause is the original driver error.
	Cause error
	// Code is the driver's error code when one was reported.
	Code string
}

func (e *DBError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s [%s] (cause: %v)", e.Sentinel, e.Code, e.Cause)
	}
	return fmt.Sprintf("%s (cause: %v)", e.Sentinel, e.Cause)
}

func (e *DBError) Is(target error) bool { return errors.Is(e.Sentinel, target) }
func (e *DBError) Unwrap() error        { return e.Cause }

// ─────────────────────────────────────────────────────────────────────────────
// ErrorMapper interface: pluggable per driver
// ─────────────────────────────────────────────────────────────────────────────

// ErrorMapper translates raw driver errors into the package's sentinel errors.
// A mapper returns err unchanged when it does not recognise it.
type ErrorMapper interface {
	Map(err error) error
}

// ErrorMapperFunc is a convenience adapter from a function to ErrorMapper.
type ErrorMapperFunc func(error) error

func (f ErrorMapperFunc) Map(err error) error { return f(err) }

// ─────────────────────────────────────────────────────────────────────────────
// Default mapper: driver-independent failures, then every known driver
// ─────────────────────────────────────────────────────────────────────────────

// DefaultErrorMapper returns a mapper that handles database/sql, context and
// network failures plus every driver this package ships an adapter for.
func DefaultErrorMapper() ErrorMapper {
	return ChainMapper(
		guarded(mapCommonError),
		guarded(mapPQError),
		guarded(mapPGXError),
		guarded(mapMySQLError),
		guarded(mapSQLiteError),
	)
}

// guarded skips errors that were already mapped so nothing is double-wrapped.
func guarded(f func(error) error) ErrorMapper {
	return ErrorMapperFunc(func(err error) error {
		var dbe *DBError
		if err == nil || errors.As(err, &dbe) {
			return err
		}
		return f(err)
	})
}

func mapCommonError(err error) error {
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return &DBError{Sentinel: ErrNotFound, Cause: err}
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return &DBError{Sentinel: ErrTimeout, Cause: err}
	case errors.Is(err, driver.ErrBadConn), errors.Is(err, sql.ErrConnDone):
		return &DBError{Sentinel: ErrConnectionFailed, Cause: err}
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		if opErr.Timeout() {
			return &DBError{Sentinel: ErrTimeout, Cause: err}
		}
		return &DBError{Sentinel: ErrConnectionFailed, Cause: err}
	}
	return err
}

// ─────────────────────────────────────────────────────────────────────────────
// PostgreSQL mapping (lib/pq and pgx share SQLSTATE codes)
// ─────────────────────────────────────────────────────────────────────────────

func mapPQError(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	return mapByPGCode(string(pqErr.Code), err)
}

func mapPGXError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		if pgconn.Timeout(err) {
			return &DBError{Sentinel: ErrTimeout, Cause: err}
		}
		var connErr *pgconn.ConnectError
		if errors.As(err, &connErr) {
			return &DBError{Sentinel: ErrConnectionFailed, Cause: err}
		}
		return err
	}
	return mapByPGCode(pgErr.Code, err)
}

// PostgreSQL SQLSTATE codes: https://www.postgresql.org/docs/current/errcodes-appendix.html
func mapByPGCode(code string, cause error) error {
	var sentinel error
	switch code {
	case "23505": // unique_violation
		sentinel = ErrDuplicateKey
	case "23503": // foreign_key_violation
		sentinel = ErrForeignKeyViolation
	case "23514": // check_violation
		sentinel = ErrCheckViolation
	case "40P01": // deadlock_detected
		sentinel = ErrDeadlock
	case "40001": // serialization_failure
		sentinel = ErrSerializationFailure
	case "57014": // query_canceled (statement_timeout)
		sentinel = ErrTimeout
	case "08000", "08003", "08006", "08001", "08004", "08007", "08P01", "57P01", "57P03":
		sentinel = ErrConnectionFailed
	default:
		return cause
	}
	return &DBError{Sentinel: sentinel, Cause: cause, Code: code}
}

// ─────────────────────────────────────────────────────────────────────────────
// MySQL mapping
// ─────────────────────────────────────────────────────────────────────────────

func mapMySQLError(err error) error {
	if errors.Is(err, mysql.ErrInvalidConn) {
		return &DBError{Sentinel: ErrConnectionFailed, Cause: err}
	}
	var me *mysql.MySQLError
	if !errors.As(err, &me) {
		return err
	}
	var sentinel error
	switch me.Number {
	case 1062: // ER_DUP_ENTRY
		sentinel = ErrDuplicateKey
	case 1452, 1216, 1217: // ER_NO_REFERENCED_ROW, ER_ROW_IS_REFERENCED
		sentinel = ErrForeignKeyViolation
	case 3819: // ER_CHECK_CONSTRAINT_VIOLATED
		sentinel = ErrCheckViolation
	case 1213, 1205: // ER_LOCK_DEADLOCK, ER_LOCK_WAIT_TIMEOUT
		sentinel = ErrDeadlock
	case 3024: // ER_QUERY_TIMEOUT
		sentinel = ErrTimeout
	case 1040, 1045, 1053, 2002, 2003, 2006, 2013:
		sentinel = ErrConnectionFailed
	default:
		return err
	}
	return &DBError{Sentinel: sentinel, Cause: err, Code: fmt.Sprint(me.Number)}
}

// ─────────────────────────────────────────────────────────────────────────────
// SQLite mapping (string-based so this package builds without cgo)
// ─────────────────────────────────────────────────────────────────────────────

func mapSQLiteError(err error) error {
	s := err.Error()
	switch {
	case strings.Contains(s, "UNIQUE constraint failed"),
		strings.Contains(s, "PRIMARY KEY constraint failed"):
		return &DBError{Sentinel: ErrDuplicateKey, Cause: err}
	case strings.Contains(s, "FOREIGN KEY constraint failed"):
		return &DBError{Sentinel: ErrForeignKeyViolation, Cause: err}
	case strings.Contains(s, "CHECK constraint failed"):
		return &DBError{Sentinel: ErrCheckViolation, Cause: err}
	case strings.Contains(s, "database is locked"),
		strings.Contains(s, "database table is locked"):
		return &DBError{Sentinel: ErrDeadlock, Cause: err}
	case strings.Contains(s, "unable to open database file"):
		return &DBError{Sentinel: ErrConnectionFailed, Cause: err}
	}
	return err
}

// ─────────────────────────────────────────────────────────────────────────────
// ChainMapper: compose multiple mappers (first match wins)
// ─────────────────────────────────────────────────────────────────────────────

// ChainMapper returns an ErrorMapper that tries each mapper in order,
// returning the first result that differs from the input.
func ChainMapper(mappers ...ErrorMapper) ErrorMapper {
	return ErrorMapperFunc(func(err error) error {
		if err == nil {
			return nil
		}
		for _, m := range mappers {
			if mapped := m.Map(err); mapped != err {
				return mapped
			}
		}
		return err
	})
}

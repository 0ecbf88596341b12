// Package db: driver.go
// Defines the pluggable driver abstraction layer. Each driver adapter
// implements Driver and registers itself, enabling Open() to be
// driver-agnostic while preserving explicit DSN construction per database.
package db

import (
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// ─────────────────────────────────────────────────────────────────────────────
// Driver interface
// ─────────────────────────────────────────────────────────────────────────────

// Driver encapsulates database-specific behaviour:
//   - building a DSN from structured options
//   - registering the database/sql driver (idempotent)
//   - providing a driver-specific ErrorMapper
//   - the placeholder style the server expects
//
// Implement Driver to add support for a new database without modifying the
// core package.
type Driver interface {
	// Name returns the name passed to sql.Register, e.g. "pgx", "mysql".
	Name() string

	// DSN converts structured options into a driver DSN string.
	DSN(opts DriverOptions) (string, error)

	// ErrorMapper returns a mapper tuned to this driver's error types.
	ErrorMapper() ErrorMapper

	// Placeholder reports how bound parameters are written for this driver.
	Placeholder() BindStyle

	// Register ensures the driver is registered with database/sql.
	// Implementations must be idempotent (safe to call multiple times).
	Register()
}

// DriverOptions carries the most common connection parameters in a structured,
// driver-agnostic form. DSN() converts them to the driver's native format.
type DriverOptions struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string // "disable", "require", "verify-full", etc.
	// Extra holds driver-specific key/value parameters.
	Extra map[string]string
}

// ─────────────────────────────────────────────────────────────────────────────
// Placeholder rebinding
// ─────────────────────────────────────────────────────────────────────────────

// BindStyle is the bound-parameter syntax of a driver. Queries in this module
// are written with PostgreSQL-style $N placeholders and rebound on the way out.
type BindStyle int

const (
	// BindDollar leaves $1, $2 … untouched (PostgreSQL, SQLite).
	BindDollar BindStyle = iota
	// BindQuestion rewrites $N to ? and reorders arguments (MySQL).
	BindQuestion
)

// Rebind rewrites query for the style. order lists, for each emitted
// placeholder, the zero-based index of the argument it refers to; it is nil
// when the arguments pass through unchanged. Placeholders inside single
// quoted literals are left alone.
func (b BindStyle) Rebind(query string) (out string, order []int) {
	if b != BindQuestion || !strings.Contains(query, "$") {
		return query, nil
	}

	var sb strings.Builder
	sb.Grow(len(query))
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		if c == '\'' {
			inQuote = !inQuote
		}
		if c != '$' || inQuote {
			sb.WriteByte(c)
			continue
		}
		j := i + 1
		for j < len(query) && query[j] >= '0' && query[j] <= '9' {
			j++
		}
		if j == i+1 {
			sb.WriteByte(c)
			continue
		}
		n, _ := strconv.Atoi(query[i+1 : j])
		order = append(order, n-1)
		sb.WriteByte('?')
		i = j - 1
	}
	return sb.String(), order
}

// reorder returns args arranged per order. Indexes outside args are passed
// as nil so the driver reports the arity mismatch itself.
func reorder(args []any, order []int) []any {
	if order == nil {
		return args
	}
	out := make([]any, len(order))
	for i, idx := range order {
		if idx >= 0 && idx < len(args) {
			out[i] = args[idx]
		}
	}
	return out
}

// ─────────────────────────────────────────────────────────────────────────────
// Driver registry
// ─────────────────────────────────────────────────────────────────────────────

var (
	driversMu sync.RWMutex
	drivers   = make(map[string]Driver)
)

// RegisterDriver adds a Driver to the global registry.
// Panics if a driver with the same name is already registered (use ReplaceDriver
// to override).
func RegisterDriver(d Driver) {
	driversMu.Lock()
	defer driversMu.Unlock()
	if _, ok := drivers[d.Name()]; ok {
		panic(fmt.Sprintf("db: driver %q already registered", d.Name()))
	}
	drivers[d.Name()] = d
}

// ReplaceDriver upserts a driver in the registry (no panic on collision).
func ReplaceDriver(d Driver) {
	driversMu.Lock()
	defer driversMu.Unlock()
	drivers[d.Name()] = d
}

// LookupDriver returns the registered Driver by name or an error.
func LookupDriver(name string) (Driver, error) {
	driversMu.RLock()
	defer driversMu.RUnlock()
	d, ok := drivers[name]
	if !ok {
		return nil, fmt.Errorf("db: driver %q not registered", name)
	}
	return d, nil
}

// BuildDSN builds the DSN for a registered driver from structured options.
func BuildDSN(driverName string, opts DriverOptions) (string, error) {
	drv, err := LookupDriver(driverName)
	if err != nil {
		return "", err
	}
	dsn, err := drv.DSN(opts)
	if err != nil {
		return "", fmt.Errorf("db: DSN construction failed: %w", err)
	}
	return dsn, nil
}

// OpenWithDriver opens a DB using a registered Driver and structured options,
// removing the need for manual DSN construction.
//
//	db, err := db.OpenWithDriver("pgx", db.DriverOptions{
//	    Host: "localhost", Port: 5432,
//	    User: "cars", Password: "secret", Database: "cars",
//	}, db.Config{MaxOpenConns: 25})
func OpenWithDriver(driverName string, driverOpts DriverOptions, cfg Config) (*DB, error) {
	drv, err := LookupDriver(driverName)
	if err != nil {
		return nil, err
	}
	drv.Register()

	dsn, err := BuildDSN(driverName, driverOpts)
	if err != nil {
		return nil, err
	}

	cfg.DriverName = drv.Name()
	cfg.DSN = dsn
	return Open(cfg)
}

// sortedExtra yields Extra keys in a stable order so DSNs are reproducible.
func sortedExtra(extra map[string]string) []string {
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ─────────────────────────────────────────────────────────────────────────────
// PostgreSQL driver adapter (lib/pq)
// ─────────────────────────────────────────────────────────────────────────────

// PostgresDriver is the built-in lib/pq adapter.
// Import _ "github.com/lib/pq" alongside this to activate.
type PostgresDriver struct{}

func (PostgresDriver) Name() string { return "postgres" }

func (PostgresDriver) DSN(o DriverOptions) (string, error) {
	if o.Host == "" || o.Database == "" {
		return "", fmt.Errorf("postgres driver: Host and Database are required")
	}
	port := o.Port
	if port == 0 {
		port = 5432
	}
	sslMode := o.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		o.Host, port, o.User, pqQuote(o.Password), o.Database, sslMode,
	)
	for _, k := range sortedExtra(o.Extra) {
		dsn += fmt.Sprintf(" %s=%s", k, o.Extra[k])
	}
	return dsn, nil
}

// pqQuote quotes a keyword/value DSN value when it is empty or has spaces.
func pqQuote(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(v) + "'"
}

func (PostgresDriver) ErrorMapper() ErrorMapper { return guarded(mapPQError) }
func (PostgresDriver) Placeholder() BindStyle   { return BindDollar }
func (PostgresDriver) Register()                { /* lib/pq self-registers via its init() */ }

// ─────────────────────────────────────────────────────────────────────────────
// PostgreSQL driver adapter (pgx stdlib)
// ─────────────────────────────────────────────────────────────────────────────

// PgxDriver is the built-in jackc/pgx adapter.
// Import _ "github.com/jackc/pgx/v5/stdlib" alongside this to activate.
type PgxDriver struct{}

func (PgxDriver) Name() string { return "pgx" }

func (PgxDriver) DSN(o DriverOptions) (string, error) {
	if o.Host == "" || o.Database == "" {
		return "", fmt.Errorf("pgx driver: Host and Database are required")
	}
	port := o.Port
	if port == 0 {
		port = 5432
	}
	sslMode := o.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   fmt.Sprintf("%s:%d", o.Host, port),
		Path:   "/" + o.Database,
	}
	if o.User != "" {
		u.User = url.UserPassword(o.User, o.Password)
	}
	q := url.Values{}
	q.Set("sslmode", sslMode)
	for k, v := range o.Extra {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (PgxDriver) ErrorMapper() ErrorMapper { return guarded(mapPGXError) }
func (PgxDriver) Placeholder() BindStyle   { return BindDollar }
func (PgxDriver) Register()                { /* pgx/v5/stdlib self-registers as "pgx" */ }

// ─────────────────────────────────────────────────────────────────────────────
// MySQL driver adapter
// ─────────────────────────────────────────────────────────────────────────────

// MySQLDriver is the built-in go-sql-driver/mysql adapter.
type MySQLDriver struct{}

func (MySQLDriver) Name() string { return "mysql" }

// DSN always sets clientFoundRows so UPDATE reports matched rather than
// changed rows, like the other drivers do.
func (MySQLDriver) DSN(o DriverOptions) (string, error) {
	if o.Host == "" || o.Database == "" {
		return "", fmt.Errorf("mysql driver: Host and Database are required")
	}
	port := o.Port
	if port == 0 {
		port = 3306
	}
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&clientFoundRows=true",
		o.User, o.Password, o.Host, port, o.Database)
	for _, k := range sortedExtra(o.Extra) {
		dsn += fmt.Sprintf("&%s=%s", k, o.Extra[k])
	}
	return dsn, nil
}

func (MySQLDriver) ErrorMapper() ErrorMapper { return guarded(mapMySQLError) }
func (MySQLDriver) Placeholder() BindStyle   { return BindQuestion }
func (MySQLDriver) Register()                { /* go-sql-driver/mysql self-registers */ }

// ─────────────────────────────────────────────────────────────────────────────
// SQLite driver adapter
// ─────────────────────────────────────────────────────────────────────────────

// SQLiteDriver is the built-in mattn/go-sqlite3 adapter.
type SQLiteDriver struct{}

func (SQLiteDriver) Name() string { return "sqlite3" }

func (SQLiteDriver) DSN(o DriverOptions) (string, error) {
	if o.Database == "" {
		return "", fmt.Errorf("sqlite3 driver: Database (file path) is required")
	}
	dsn := o.Database
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	for _, k := range sortedExtra(o.Extra) {
		dsn += sep + k + "=" + o.Extra[k]
		sep = "&"
	}
	return dsn, nil
}

func (SQLiteDriver) ErrorMapper() ErrorMapper { return guarded(mapSQLiteError) }
func (SQLiteDriver) Placeholder() BindStyle   { return BindDollar }
func (SQLiteDriver) Register()                { /* mattn/go-sqlite3 self-registers */ }

// ─────────────────────────────────────────────────────────────────────────────
// Auto-register built-in drivers at init time
// ─────────────────────────────────────────────────────────────────────────────

func init() {
	// The actual sql.Register calls happen in the driver packages' init()
	// functions when imported.
	ReplaceDriver(PostgresDriver{})
	ReplaceDriver(PgxDriver{})
	ReplaceDriver(MySQLDriver{})
	ReplaceDriver(SQLiteDriver{})
}

package db

import (
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// ─────────────────────────────────────────────────────────────────────────────
// Programmatic migrations (golang-migrate)
// ─────────────────────────────────────────────────────────────────────────────

// MigrateConfig describes where migrations come from and which database they
// run against.
type MigrateConfig struct {
	// DriverName and DSN are the same values given to Open.
	DriverName string
	DSN        string

	// Source holds the migration files; Dir is the directory inside it.
	Source fs.FS
	Dir    string

	// SourceURL, when set, replaces Source with a golang-migrate source URL
	// such as file://./migrations/postgres. Its source driver must be
	// registered by the caller.
	SourceURL string

	// Logger defaults to slog.Default() if nil.
	Logger *slog.Logger
}

// NewMigrator builds a migrate instance over its own connection so that
// closing it never touches the application pool. In-memory SQLite DSNs are
// therefore not supported here; each connection would see a fresh database.
// The caller must Close the returned instance.
func NewMigrator(cfg MigrateConfig) (*migrate.Migrate, error) {
	if cfg.Source == nil && cfg.SourceURL == "" {
		return nil, fmt.Errorf("db: migrate: Source or SourceURL is required")
	}

	sqldb, err := sql.Open(cfg.DriverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("db: migrate: open: %w", err)
	}

	dbName, drv, err := migrationDatabase(cfg.DriverName, sqldb)
	if err != nil {
		_ = sqldb.Close()
		return nil, err
	}

	var m *migrate.Migrate
	if cfg.SourceURL != "" {
		m, err = migrate.NewWithDatabaseInstance(cfg.SourceURL, dbName, drv)
	} else {
		dir := cfg.Dir
		if dir == "" {
			dir = "."
		}
		var src source.Driver
		src, err = iofs.New(cfg.Source, dir)
		if err != nil {
			_ = drv.Close()
			return nil, fmt.Errorf("db: migrate: source %q: %w", dir, err)
		}
		m, err = migrate.NewWithInstance("iofs", src, dbName, drv)
		if err != nil {
			_ = src.Close()
		}
	}
	if err != nil {
		_ = drv.Close()
		return nil, fmt.Errorf("db: migrate: init: %w", err)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	m.Log = &migrateLogger{logger: logger}
	return m, nil
}

// MigrateUp applies all pending migrations. An up-to-date schema is not an
// error.
func MigrateUp(cfg MigrateConfig) (err error) {
	m, err := NewMigrator(cfg)
	if err != nil {
		return err
	}
	defer func() {
		srcErr, dbErr := m.Close()
		if err == nil {
			err = errors.Join(srcErr, dbErr)
		}
	}()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("db: migrate up: %w", err)
	}
	return nil
}

// migrationDatabase picks the golang-migrate database driver for a
// database/sql driver name. pgx speaks to the same server as lib/pq, so both
// use the postgres migration driver.
func migrationDatabase(driverName string, sqldb *sql.DB) (string, database.Driver, error) {
	var (
		name string
		drv  database.Driver
		err  error
	)
	switch driverName {
	case "postgres", "pgx":
		name = "postgres"
		drv, err = postgres.WithInstance(sqldb, &postgres.Config{})
	case "mysql":
		name = "mysql"
		drv, err = migratemysql.WithInstance(sqldb, &migratemysql.Config{})
	case "sqlite3":
		name = "sqlite3"
		drv, err = sqlite3.WithInstance(sqldb, &sqlite3.Config{})
	default:
		return "", nil, fmt.Errorf("db: migrate: unsupported driver %q", driverName)
	}
	if err != nil {
		return "", nil, fmt.Errorf("db: migrate: %s: %w", name, MapError(err))
	}
	return name, drv, nil
}

// MapError passes err through the default mapper, for callers that hold a
// raw driver error outside a *DB.
func MapError(err error) error { return DefaultErrorMapper().Map(err) }

type migrateLogger struct{ logger *slog.Logger }

func (l *migrateLogger) Printf(format string, v ...any) {
	l.logger.Info(fmt.Sprintf(format, v...), "component", "migrate")
}

func (l *migrateLogger) Verbose() bool { return false }

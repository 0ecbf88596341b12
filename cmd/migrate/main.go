// Command migrate manages the car table schema outside the service.
//
// Connection settings come from the same sources as the service (config
// file, CARS_ env vars, --key=value flags). Migrations are the embedded ones
// unless MIGRATIONS_PATH or --source points at a directory.
package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/Skryldev/car-service/config"
	"github.com/Skryldev/car-service/db"
	"github.com/Skryldev/car-service/migrations"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func run(argv []string, in io.Reader, out io.Writer) error {
	flags, args := splitArgs(argv)
	if len(args) == 0 {
		usage(out)
		return errors.New("migrate: command required")
	}

	cfg, err := config.Load(flags)
	if err != nil {
		return err
	}
	logger := cfg.Log.NewLogger(os.Stderr)

	mcfg, err := migrateConfig(cfg.Database, sourcePath(flags), logger)
	if err != nil {
		return err
	}
	m, err := db.NewMigrator(mcfg)
	if err != nil {
		return err
	}
	defer m.Close()

	command := args[0]
	switch command {
	case "up":
		if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("up failed: %w", err)
		}
		logger.Info("migrations: up completed")

	case "down":
		steps := 1
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil || n < 1 {
				return fmt.Errorf("down: invalid steps argument %q", args[1])
			}
			steps = n
		}
		if err := m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("down failed: %w", err)
		}
		logger.Info("migrations: down completed", "steps", steps)

	case "version":
		v, dirty, err := m.Version()
		if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
			return fmt.Errorf("version failed: %w", err)
		}
		fmt.Fprintf(out, "version: %d  dirty: %v\n", v, dirty)

	case "force":
		if len(args) < 2 {
			return errors.New("force: version argument required")
		}
		v, err := strconv.Atoi(args[1])
		if err != nil {
			return fmt.Errorf("force: invalid version %q", args[1])
		}
		if err := m.Force(v); err != nil {
			return fmt.Errorf("force failed: %w", err)
		}
		logger.Info("migrations: forced", "version", v)

	case "drop":
		fmt.Fprintln(out, "WARNING: drop will destroy all tables. Type 'yes' to confirm:")
		confirm, _ := bufio.NewReader(in).ReadString('\n')
		if strings.TrimSpace(confirm) != "yes" {
			fmt.Fprintln(out, "aborted")
			return nil
		}
		if err := m.Drop(); err != nil {
			return fmt.Errorf("drop failed: %w", err)
		}
		logger.Info("migrations: all tables dropped")

	default:
		usage(out)
		return fmt.Errorf("migrate: unknown command %q", command)
	}
	return nil
}

// splitArgs separates --key=value flags from positional arguments.
func splitArgs(argv []string) (flags, args []string) {
	for _, a := range argv {
		if strings.HasPrefix(a, "--") {
			flags = append(flags, a)
		} else {
			args = append(args, a)
		}
	}
	return flags, args
}

func sourcePath(flags []string) string {
	for _, f := range flags {
		if v, ok := strings.CutPrefix(f, "--source="); ok {
			return v
		}
	}
	return os.Getenv("MIGRATIONS_PATH")
}

func migrateConfig(dbc config.DatabaseConfig, path string, logger *slog.Logger) (db.MigrateConfig, error) {
	dsn, err := dbc.BuildDSN()
	if err != nil {
		return db.MigrateConfig{}, err
	}
	mcfg := db.MigrateConfig{DriverName: dbc.Driver, DSN: dsn, Logger: logger}
	if path != "" {
		mcfg.SourceURL = "file://" + path
		return mcfg, nil
	}
	dir, err := migrations.Dir(dbc.Driver)
	if err != nil {
		return db.MigrateConfig{}, err
	}
	mcfg.Source, mcfg.Dir = migrations.FS, dir
	return mcfg, nil
}

func usage(w io.Writer) {
	fmt.Fprintln(w, `Usage: migrate [--key=value ...] <command> [args]

Commands:
  up           Apply all pending migrations
  down [N]     Rollback N migrations (default: 1)
  version      Print current migration version
  force <V>    Force set migration version (bypass dirty state)
  drop         Drop all tables (dev only)

Flags:
  --database.driver=...  sqlite3, postgres, pgx or mysql
  --database.dsn=...     Full DSN; otherwise built from database.* keys
  --source=<dir>         Migration directory for this dialect (default: embedded)

Environment:
  CARS_DATABASE_*     Same keys as the service configuration
  MIGRATIONS_PATH     Same as --source`)
}

// Command car-service serves the car inventory over HTTP.
//
// Startup order:
//
//  1. Load configuration (defaults, YAML, CARS_ env, --key=value args)
//  2. Build the logger and, when enabled, the Prometheus registry
//  3. Apply migrations, then open the pool with log and metrics hooks
//  4. Seed the starter cars into an empty table
//  5. Serve until SIGINT/SIGTERM, then drain in-flight requests
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/Skryldev/car-service/api"
	"github.com/Skryldev/car-service/config"
	"github.com/Skryldev/car-service/db"
	"github.com/Skryldev/car-service/metrics"
	"github.com/Skryldev/car-service/migrations"
	"github.com/Skryldev/car-service/repo"
	"github.com/Skryldev/car-service/seed"

	// Blank-import every supported driver so each self-registers with
	// database/sql.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		slog.Error("car-service: exiting", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	cfg, err := config.Load(args)
	if err != nil {
		return err
	}
	logger := cfg.Log.NewLogger(out)
	slog.SetDefault(logger)

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.close()

	srv := api.NewServer(api.ServerConfig{
		Addr:            cfg.HTTP.Addr,
		ReadTimeout:     cfg.HTTP.ReadTimeout,
		WriteTimeout:    cfg.HTTP.WriteTimeout,
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout,
		Logger:          logger,
	}, a.handler)
	if err := srv.Start(ctx); err != nil {
		return err
	}

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("car-service: shutting down")
	case err, ok := <-srv.Err():
		if ok {
			serveErr = err
		}
	}

	// The signal context is already done; shutdown gets its own deadline.
	if err := srv.Stop(context.Background()); err != nil {
		return errors.Join(serveErr, fmt.Errorf("car-service: shutdown: %w", err))
	}
	return serveErr
}

// app is the wired service without its listener.
type app struct {
	db      *db.DB
	handler http.Handler
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	hooks := []db.Hook{
		db.NewLogHook(db.LogHookConfig{
			Logger:             logger,
			SlowQueryThreshold: cfg.Database.SlowQueryThreshold,
			LogArgs:            cfg.Database.LogArgs,
		}),
	}
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		hooks = append(hooks, db.NewMetricsHook(m))
	}

	dbCfg, err := cfg.Database.DBConfig(hooks...)
	if err != nil {
		return nil, err
	}
	inMemory := isInMemorySQLite(dbCfg.DriverName, dbCfg.DSN)
	if inMemory {
		// Every connection to :memory: is a separate database.
		dbCfg.MaxOpenConns = 1
	}

	if cfg.Database.AutoMigrate && !inMemory {
		dir, err := migrations.Dir(dbCfg.DriverName)
		if err != nil {
			return nil, err
		}
		if err := db.MigrateUp(db.MigrateConfig{
			DriverName: dbCfg.DriverName,
			DSN:        dbCfg.DSN,
			Source:     migrations.FS,
			Dir:        dir,
			Logger:     logger,
		}); err != nil {
			return nil, err
		}
	}

	database, err := db.Open(dbCfg)
	if err != nil {
		return nil, err
	}

	if cfg.Database.AutoMigrate && inMemory {
		if err := applyScripts(ctx, database); err != nil {
			_ = database.Close()
			return nil, err
		}
	}

	repoOpts := []repo.Option{repo.WithLogger(logger)}
	routerCfg := api.RouterConfig{
		Logger:   logger,
		BasePath: cfg.HTTP.BasePath,
		Health:   api.NewHealthRegistry(0),
	}
	if m != nil {
		if err := m.WatchDB(database.Raw(), dbCfg.DriverName); err != nil {
			_ = database.Close()
			return nil, err
		}
		repoOpts = append(repoOpts, repo.WithUpsertObserver(m))
		routerCfg.Metrics = m
	}
	routerCfg.Repo = repo.NewCarRepo(database, repoOpts...)
	routerCfg.Health.RegisterLiveness("core", func(context.Context) error { return nil })
	routerCfg.Health.RegisterReadiness("database", database.Ping)

	if cfg.Seed.Enabled {
		if _, err := seed.Apply(ctx, database, seed.StarterCars(), logger); err != nil {
			logger.ErrorContext(ctx, "car-service: seeding failed, continuing", slog.Any("error", err))
		}
	}

	return &app{db: database, handler: api.NewRouter(routerCfg)}, nil
}

func (a *app) close() error { return a.db.Close() }

func isInMemorySQLite(driverName, dsn string) bool {
	return driverName == "sqlite3" &&
		(strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "mode=memory"))
}

func applyScripts(ctx context.Context, database *db.DB) error {
	scripts, err := migrations.UpScripts("sqlite3")
	if err != nil {
		return err
	}
	for _, s := range scripts {
		if _, err := database.Exec(ctx, s); err != nil {
			return fmt.Errorf("car-service: schema: %w", err)
		}
	}
	return nil
}

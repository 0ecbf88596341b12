//go:build integration

package repo_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/Skryldev/car-service/db"
	"github.com/Skryldev/car-service/migrations"
	"github.com/Skryldev/car-service/repo"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
)

// startPostgres runs a throwaway PostgreSQL server and returns its
// connection options.
func startPostgres(t *testing.T) db.DriverOptions {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "cars",
			"POSTGRES_PASSWORD": "cars",
			"POSTGRES_DB":       "cars",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("mapped port: %v", err)
	}

	return db.DriverOptions{
		Host:     host,
		Port:     port.Int(),
		User:     "cars",
		Password: "cars",
		Database: "cars",
	}
}

func TestCarRepo_Postgres(t *testing.T) {
	opts := startPostgres(t)

	for _, driverName := range []string{"postgres", "pgx"} {
		t.Run(driverName, func(t *testing.T) {
			dsn, err := db.BuildDSN(driverName, opts)
			if err != nil {
				t.Fatalf("dsn: %v", err)
			}
			dir, _ := migrations.Dir(driverName)
			if err := db.MigrateUp(db.MigrateConfig{
				DriverName: driverName,
				DSN:        dsn,
				Source:     migrations.FS,
				Dir:        dir,
			}); err != nil {
				t.Fatalf("migrate: %v", err)
			}

			database, err := db.Open(db.Config{DSN: dsn, DriverName: driverName, MaxOpenConns: 10})
			if err != nil {
				t.Fatalf("open: %v", err)
			}
			t.Cleanup(func() { _ = database.Close() })

			exerciseCarRepo(t, repo.NewCarRepo(database))
		})
	}
}

func exerciseCarRepo(t *testing.T, r repo.CarRepository) {
	t.Helper()
	ctx := context.Background()

	c, err := r.Insert(ctx, params("Jeep", "19.99"))
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	got, err := r.GetByID(ctx, c.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.Price.Equal(c.Price) || got.Price.String() != "19.99" {
		t.Fatalf("price round trip: got %s", got.Price)
	}

	if _, err := r.InsertWithID(ctx, c.ID, params("Jeep", "1")); !errors.Is(err, repo.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	id := uuid.New()
	res, err := r.Upsert(ctx, id, params("Tesla", "500"))
	if err != nil || !res.Created {
		t.Fatalf("upsert create = %+v, %v", res, err)
	}
	res, err = r.Upsert(ctx, id, params("Tesla", "550.5"))
	if err != nil || res.Created {
		t.Fatalf("upsert update = %+v, %v", res, err)
	}

	if removed, err := r.Delete(ctx, id); err != nil || !removed {
		t.Fatalf("delete = %v, %v", removed, err)
	}
	if _, err := r.GetByID(ctx, id); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	cars, err := r.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, car := range cars {
		if _, err := r.Delete(ctx, car.ID); err != nil {
			t.Fatalf("cleanup %s: %v", car.ID, err)
		}
	}
}

package seed_test

import (
	"context"
	"errors"
	"testing"

	"github.com/Skryldev/car-service/db"
	"github.com/Skryldev/car-service/migrations"
	"github.com/Skryldev/car-service/models"
	"github.com/Skryldev/car-service/repo"
	"github.com/Skryldev/car-service/seed"
	_ "github.com/mattn/go-sqlite3"
)

func newTestDB(t *testing.T) *db.DB {
	t.Helper()
	d, err := db.Open(db.Config{DSN: ":memory:", DriverName: "sqlite3", MaxOpenConns: 1})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })

	scripts, err := migrations.UpScripts("sqlite3")
	if err != nil {
		t.Fatalf("migrations: %v", err)
	}
	for _, s := range scripts {
		if _, err := d.Exec(context.Background(), s); err != nil {
			t.Fatalf("schema: %v", err)
		}
	}
	return d
}

func TestApply_EmptyTable(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	n, err := seed.Apply(ctx, d, seed.StarterCars(), nil)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if n != 10 {
		t.Fatalf("expected 10 inserted, got %d", n)
	}

	cars, err := repo.NewCarRepo(d).List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	byMake := map[string]string{}
	for _, c := range cars {
		byMake[c.Make] = c.Price.String()
	}
	if byMake["Jeep"] != "300" || byMake["Honda"] != "130" || byMake["Dodge"] != "390" {
		t.Fatalf("unexpected starter prices: %v", byMake)
	}
}

func TestApply_SkipsWhenNotEmpty(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	if _, err := seed.Apply(ctx, d, seed.StarterCars(), nil); err != nil {
		t.Fatalf("first apply: %v", err)
	}
	n, err := seed.Apply(ctx, d, seed.StarterCars(), nil)
	if err != nil {
		t.Fatalf("second apply: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected nothing inserted, got %d", n)
	}

	total, _ := repo.NewCarRepo(d).Count(ctx)
	if total != 10 {
		t.Fatalf("expected 10 rows, got %d", total)
	}
}

func TestApply_InvalidCarRollsBack(t *testing.T) {
	d := newTestDB(t)
	ctx := context.Background()

	cars := append(seed.StarterCars(), models.CarParams{Make: ""})
	_, err := seed.Apply(ctx, d, cars, nil)
	if !errors.Is(err, models.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}

	total, _ := repo.NewCarRepo(d).Count(ctx)
	if total != 0 {
		t.Fatalf("expected no rows, got %d", total)
	}
}

// Package seed loads the starter inventory into an empty car table.
package seed

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/Skryldev/car-service/db"
	"github.com/Skryldev/car-service/models"
	"github.com/Skryldev/car-service/repo"
)

// StarterCars returns the inventory a fresh installation starts with.
func StarterCars() []models.CarParams {
	return []models.CarParams{
		car("Jeep", 300),
		car("Honda", 130),
		car("Mazda", 390),
		car("Fiat", 390),
		car("Subaru", 390),
		car("Toyota", 390),
		car("Mitsubishi", 390),
		car("BMW", 390),
		car("VW", 390),
		car("Dodge", 390),
	}
}

func car(mk string, price int64) models.CarParams {
	p := decimal.NewFromInt(price)
	return models.CarParams{Make: mk, Price: &p}
}

// Apply inserts cars in one transaction when the table is empty and reports
// how many rows it wrote. A table that already holds rows is left untouched.
func Apply(ctx context.Context, d *db.DB, cars []models.CarParams, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}

	inserted := 0
	err := d.ExecTx(ctx, func(tx *db.Tx) error {
		r := repo.NewCarRepo(tx, repo.WithLogger(logger))

		n, err := r.Count(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			logger.InfoContext(ctx, "seed: car table not empty, skipping", slog.Int64("rows", n))
			return nil
		}

		added, err := r.BatchInsert(ctx, cars)
		if err != nil {
			return err
		}
		inserted = len(added)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("seed: %w", err)
	}

	if inserted > 0 {
		logger.InfoContext(ctx, "seed: starter cars inserted", slog.Int("rows", inserted))
	}
	return inserted, nil
}

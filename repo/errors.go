package repo

import (
	"errors"
	"fmt"

	"github.com/Skryldev/car-service/db"
	"github.com/Skryldev/car-service/models"
)

// Store error kinds. Every error a CarRepository returns matches at most one
// of these or models.ErrValidation; anything else is an unexpected failure.
var (
	// ErrNotFound is returned when no car has the requested id.
	ErrNotFound = errors.New("repo/car: not found")

	// ErrConflict is returned when the id is already taken, or when an upsert
	// lost the race against concurrent writers twice.
	ErrConflict = errors.New("repo/car: conflict")

	// ErrConcurrency is returned when the database reported a deadlock or a
	// serialization failure on a write.
	ErrConcurrency = errors.New("repo/car: concurrent modification")

	// ErrStoreUnavailable is returned when the database could not be reached
	// or did not answer in time.
	ErrStoreUnavailable = errors.New("repo/car: store unavailable")
)

// classify maps a db-layer error to the store's error kinds, keeping the
// original error in the chain for logging.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, models.ErrValidation):
		return err
	case db.IsUnavailable(err):
		return fmt.Errorf("%w: %s: %w", ErrStoreUnavailable, op, err)
	case db.IsDuplicateKey(err):
		return fmt.Errorf("%w: %s: %w", ErrConflict, op, err)
	case db.IsConcurrencyFailure(err):
		return fmt.Errorf("%w: %s: %w", ErrConcurrency, op, err)
	case db.IsNotFound(err):
		return fmt.Errorf("%w: %s", ErrNotFound, op)
	}
	return fmt.Errorf("repo/car: %s: %w", op, err)
}

// isRaceSignal reports whether err means another writer got between the
// existence check and the write of an upsert attempt.
func isRaceSignal(err error) bool {
	return errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrConcurrency)
}

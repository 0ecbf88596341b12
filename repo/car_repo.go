package repo

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/Skryldev/car-service/db"
	"github.com/Skryldev/car-service/models"
)

// ─────────────────────────────────────────────────────────────────────────────
// CarRepository interface: for mocking in tests
// ─────────────────────────────────────────────────────────────────────────────

// CarRepository defines the contract for car persistence operations.
// All implementations must satisfy this interface.
type CarRepository interface {
	List(ctx context.Context) ([]*models.Car, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.Car, error)
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
	Insert(ctx context.Context, params models.CarParams) (*models.Car, error)
	InsertWithID(ctx context.Context, id uuid.UUID, params models.CarParams) (*models.Car, error)
	Update(ctx context.Context, id uuid.UUID, params models.CarParams) (*models.Car, error)
	Delete(ctx context.Context, id uuid.UUID) (bool, error)
	Upsert(ctx context.Context, id uuid.UUID, params models.CarParams) (*UpsertResult, error)
	BatchInsert(ctx context.Context, params []models.CarParams) ([]*models.Car, error)
	Count(ctx context.Context) (int64, error)
}

// UpsertResult is the outcome of Upsert.
type UpsertResult struct {
	Car *models.Car
	// Created is true when the row did not exist and was inserted with the
	// caller's id.
	Created bool
}

// Upsert outcomes reported to an UpsertObserver.
const (
	UpsertCreated  = "created"
	UpsertUpdated  = "updated"
	UpsertRetried  = "retried"
	UpsertConflict = "conflict"
)

// UpsertObserver is told about every upsert outcome, including the
// intermediate retry.
type UpsertObserver interface {
	ObserveUpsert(outcome string)
}

// Option configures a car repository.
type Option func(*carRepo)

// WithLogger sets the logger used for upsert anomalies.
func WithLogger(l *slog.Logger) Option {
	return func(r *carRepo) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithUpsertObserver registers o for upsert outcomes.
func WithUpsertObserver(o UpsertObserver) Option {
	return func(r *carRepo) { r.observer = o }
}

// ─────────────────────────────────────────────────────────────────────────────
// carRepo: concrete implementation
// ─────────────────────────────────────────────────────────────────────────────

// carRepo is the production implementation backed by a db.Querier.
type carRepo struct {
	q        db.Querier
	logger   *slog.Logger
	observer UpsertObserver
}

// NewCarRepo returns a CarRepository backed by q.
// q can be a *db.DB or *db.Tx: both satisfy db.Querier.
func NewCarRepo(q db.Querier, opts ...Option) CarRepository {
	r := &carRepo{q: q, logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ─────────────────────────────────────────────────────────────────────────────
// SQL constants
// ─────────────────────────────────────────────────────────────────────────────

// No RETURNING clauses: MySQL has none, and every written value is known
// to the caller already.
const (
	sqlListCars = `
		SELECT id, make, price
		FROM   car`

	sqlGetCarByID = `
		SELECT id, make, price
		FROM   car
		WHERE  id = $1`

	sqlCarExists = `
		SELECT EXISTS (SELECT 1 FROM car WHERE id = $1)`

	sqlInsertCar = `
		INSERT INTO car (id, make, price)
		VALUES ($1, $2, $3)`

	sqlUpdateCar = `
		UPDATE car
		SET    make = $2, price = $3
		WHERE  id = $1`

	sqlDeleteCar = `
		DELETE FROM car WHERE id = $1`

	sqlCountCars = `
		SELECT COUNT(*) FROM car`
)

// ─────────────────────────────────────────────────────────────────────────────
// Reads
// ─────────────────────────────────────────────────────────────────────────────

// List returns every car. Order is whatever the database yields.
func (r *carRepo) List(ctx context.Context) ([]*models.Car, error) {
	rows, err := r.q.Query(ctx, sqlListCars)
	if err != nil {
		return nil, classify("list", err)
	}
	defer rows.Close()

	cars := make([]*models.Car, 0)
	for rows.Next() {
		c, err := scanCar(rows)
		if err != nil {
			return nil, classify("list", err)
		}
		cars = append(cars, c)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("list", err)
	}
	return cars, nil
}

// GetByID returns a single car by primary key.
// Returns ErrNotFound when no record matches.
func (r *carRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Car, error) {
	c, err := scanCar(r.q.QueryRow(ctx, sqlGetCarByID, id))
	if err != nil {
		return nil, classify("get "+id.String(), err)
	}
	return c, nil
}

// Exists reports whether a car with id is stored.
func (r *carRepo) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	var ok bool
	if err := r.q.QueryRow(ctx, sqlCarExists, id).Scan(&ok); err != nil {
		return false, classify("exists "+id.String(), err)
	}
	return ok, nil
}

// Count returns the total number of cars.
func (r *carRepo) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.q.QueryRow(ctx, sqlCountCars).Scan(&n); err != nil {
		return 0, classify("count", err)
	}
	return n, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Writes
// ─────────────────────────────────────────────────────────────────────────────

// Insert stores a new car under a freshly generated id.
func (r *carRepo) Insert(ctx context.Context, params models.CarParams) (*models.Car, error) {
	return r.InsertWithID(ctx, uuid.New(), params)
}

// InsertWithID stores a new car under the caller's id.
// Returns ErrConflict when the id is taken.
func (r *carRepo) InsertWithID(ctx context.Context, id uuid.UUID, params models.CarParams) (*models.Car, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	c := params.Car(id)
	if _, err := r.q.Exec(ctx, sqlInsertCar, c.ID, c.Make, c.Price); err != nil {
		return nil, classify("insert "+id.String(), err)
	}
	return c, nil
}

// Update overwrites make and price of an existing car.
// Returns ErrNotFound when no row matched and ErrConcurrency when the
// database reported a conflicting writer.
func (r *carRepo) Update(ctx context.Context, id uuid.UUID, params models.CarParams) (*models.Car, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	c := params.Car(id)
	res, err := r.q.Exec(ctx, sqlUpdateCar, c.ID, c.Make, c.Price)
	if err != nil {
		return nil, classify("update "+id.String(), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, classify("update "+id.String(), err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: update %s", ErrNotFound, id)
	}
	return c, nil
}

// Delete removes a car by id. Deleting an unknown id is not an error;
// the returned bool reports whether a row was removed.
func (r *carRepo) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	res, err := r.q.Exec(ctx, sqlDeleteCar, id)
	if err != nil {
		return false, classify("delete "+id.String(), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, classify("delete "+id.String(), err)
	}
	return n > 0, nil
}

// BatchInsert inserts multiple cars through one prepared statement. Run it
// on a *db.Tx so all rows are inserted or none are.
func (r *carRepo) BatchInsert(ctx context.Context, params []models.CarParams) ([]*models.Car, error) {
	if len(params) == 0 {
		return nil, nil
	}

	cars := make([]*models.Car, 0, len(params))
	for _, p := range params {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		cars = append(cars, p.Car(uuid.New()))
	}

	err := db.BatchExec(ctx, r.q, sqlInsertCar, cars, func(c *models.Car) []any {
		return []any{c.ID, c.Make, c.Price}
	})
	if err != nil {
		return nil, classify("batch insert", err)
	}
	return cars, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Upsert
// ─────────────────────────────────────────────────────────────────────────────

// Upsert creates the car under id when it does not exist, otherwise
// overwrites it. When a concurrent writer slips in between the existence
// check and the write (duplicate key on create, no row or a lock conflict
// on update) the whole attempt runs once more. A second race is returned as
// ErrConflict.
func (r *carRepo) Upsert(ctx context.Context, id uuid.UUID, params models.CarParams) (*UpsertResult, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	var res *UpsertResult
	err := db.WithRetry(ctx, db.RetryConfig{
		MaxAttempts: 2,
		RetryOn:     isRaceSignal,
		OnRetry: func(attempt int, err error) {
			r.observe(UpsertRetried)
			r.logger.DebugContext(ctx, "repo/car: upsert raced, re-checking existence",
				slog.String("id", id.String()),
				slog.Int("attempt", attempt),
				slog.Any("error", err))
		},
	}, func(int) error {
		var err error
		res, err = r.upsertOnce(ctx, id, params)
		return err
	})
	if err != nil {
		if isRaceSignal(err) {
			r.observe(UpsertConflict)
			r.logger.WarnContext(ctx, "repo/car: upsert lost the race twice",
				slog.String("id", id.String()),
				slog.Any("error", err))
			return nil, fmt.Errorf("%w: upsert %s: concurrent modification (%v)", ErrConflict, id, err)
		}
		return nil, err
	}

	if res.Created {
		r.observe(UpsertCreated)
	} else {
		r.observe(UpsertUpdated)
	}
	return res, nil
}

func (r *carRepo) upsertOnce(ctx context.Context, id uuid.UUID, params models.CarParams) (*UpsertResult, error) {
	exists, err := r.Exists(ctx, id)
	if err != nil {
		return nil, err
	}
	if !exists {
		c, err := r.InsertWithID(ctx, id, params)
		if err != nil {
			return nil, err
		}
		return &UpsertResult{Car: c, Created: true}, nil
	}
	c, err := r.Update(ctx, id, params)
	if err != nil {
		return nil, err
	}
	return &UpsertResult{Car: c}, nil
}

func (r *carRepo) observe(outcome string) {
	if r.observer != nil {
		r.observer.ObserveUpsert(outcome)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// scanCar: centralised column mapping
// ─────────────────────────────────────────────────────────────────────────────

// scanner is satisfied by *db.Row and *db.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanCar(s scanner) (*models.Car, error) {
	c := &models.Car{}
	if err := s.Scan(&c.ID, &c.Make, &c.Price); err != nil {
		return nil, err
	}
	return c, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Compile-time interface assertion
// ─────────────────────────────────────────────────────────────────────────────

var _ CarRepository = (*carRepo)(nil)

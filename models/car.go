package models

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Column limits of the car table.
const (
	MakeMaxLen = 50

	// PriceScale is the number of fractional digits DECIMAL(19,4) keeps.
	PriceScale = 4
	// PriceMaxIntegerDigits is what remains of the precision for the
	// integer part.
	PriceMaxIntegerDigits = 19 - PriceScale
)

var priceLimit = decimal.New(1, PriceMaxIntegerDigits)

// Car represents a row in the "car" table.
// Fields map 1-to-1 with columns.
type Car struct {
	ID    uuid.UUID
	Make  string
	Price decimal.Decimal
}

// CarParams holds the mutable fields of a car, as supplied on create and
// upsert. Price is a pointer so a missing value can be told apart from zero.
type CarParams struct {
	Make  string
	Price *decimal.Decimal
}

// Validate checks params against the column constraints. The returned error
// is a *ValidationError and matches ErrValidation.
func (p CarParams) Validate() error {
	var fields []FieldError

	switch n := utf8.RuneCountInString(p.Make); {
	case strings.TrimSpace(p.Make) == "":
		fields = append(fields, FieldError{Field: "make", Message: "is required"})
	case n > MakeMaxLen:
		fields = append(fields, FieldError{Field: "make", Message: "must be at most 50 characters"})
	}

	if p.Price == nil {
		fields = append(fields, FieldError{Field: "price", Message: "is required"})
	} else if msg := checkPrice(*p.Price); msg != "" {
		fields = append(fields, FieldError{Field: "price", Message: msg})
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// checkPrice reports why d does not fit DECIMAL(19,4), or "" when it does.
// Rescaling costs time proportional to the exponent, so the exponent is
// bounded by the digit count before Truncate or Cmp run.
func checkPrice(d decimal.Decimal) string {
	const (
		tooPrecise = "must have at most 4 decimal places"
		tooLarge   = "must have at most 15 integer digits"
	)
	if d.IsZero() {
		return ""
	}
	exp, digits := int(d.Exponent()), d.NumDigits()
	switch {
	case exp <= -(digits + PriceScale):
		// |coefficient| < 10^digits, so it cannot be a multiple of 10^(-exp-PriceScale).
		return tooPrecise
	case digits+exp > PriceMaxIntegerDigits:
		return tooLarge
	case !d.Equal(d.Truncate(PriceScale)):
		return tooPrecise
	case d.Abs().GreaterThanOrEqual(priceLimit):
		return tooLarge
	}
	return ""
}

// Car builds the entity for id from validated params. A zero price is
// normalised so its exponent does not leak into storage.
func (p CarParams) Car(id uuid.UUID) *Car {
	c := &Car{ID: id, Make: p.Make}
	if p.Price != nil && !p.Price.IsZero() {
		c.Price = *p.Price
	}
	return c
}

// ─────────────────────────────────────────────────────────────────────────────
// Validation errors
// ─────────────────────────────────────────────────────────────────────────────

// ErrValidation is matched by every error returned from Validate.
var ErrValidation = errors.New("models: validation failed")

// FieldError describes one rejected field.
type FieldError struct {
	Field   string
	Message string
}

// ValidationError lists every rejected field of one input.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + " " + f.Message
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

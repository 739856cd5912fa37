package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrUnavailable marks connectivity, timeout and cancellation failures.
	// Callers may retry at their own discretion.
	ErrUnavailable = errors.New("store unavailable")

	// ErrQuery marks a malformed query or bad parameters. It always points
	// at a defect in query construction.
	ErrQuery = errors.New("store query failed")
)

// StoreError carries the failing operation alongside its classification.
type StoreError struct {
	Op   string
	Kind error
	Err  error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

// Unwrap exposes both the classification sentinel and the driver error, so
// errors.Is works against ErrUnavailable as well as context.Canceled.
func (e *StoreError) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

// Classify wraps a driver error as ErrUnavailable or ErrQuery. SQLSTATE
// classes 22 (data exception) and 42 (syntax error or access rule
// violation) are query errors; everything else, including context
// cancellation and connect failures, is unavailable.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}

	kind := ErrUnavailable
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && len(pgErr.Code) >= 2 {
		switch pgErr.Code[:2] {
		case "22", "42":
			kind = ErrQuery
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		kind = ErrUnavailable
	}
	return &StoreError{Op: op, Kind: kind, Err: err}
}

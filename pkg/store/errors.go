package store

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound is returned when an entity cannot be found by id or
	// natural key.
	ErrNotFound = errors.New("entity not found")
	// ErrConflict is returned on unique-constraint violations and
	// duplicate natural keys.
	ErrConflict = errors.New("entity conflict")
	// ErrVersionConflict is returned when an optimistic-concurrency update
	// carries a stale version. The caller re-reads and retries or aborts.
	ErrVersionConflict = errors.New("version conflict")
)

// ValidationError reports rejected input shape before any statement runs.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Reason)
}

func validationErr(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is a validation error.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// wrapWriteErr maps Postgres constraint violations onto the typed errors.
func wrapWriteErr(err error, entity string) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return fmt.Errorf("%s violates %s: %w", entity, pgErr.ConstraintName, ErrConflict)
		case pgForeignKeyViolation:
			return fmt.Errorf("%s references a missing parent (%s): %w", entity, pgErr.ConstraintName, ErrConflict)
		}
	}
	return fmt.Errorf("failed to write %s: %w", entity, err)
}

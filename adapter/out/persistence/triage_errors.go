// Package persistence provides PostgreSQL adapters implementing the
// outbound repository ports.
package persistence

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// Common persistence errors. Duplicate inserts surface the port-level
// sentinel so services can test with errors.Is.
var (
	ErrNotFound     = errors.New("not found")
	ErrInvalidInput = errors.New("invalid input")
)

// isUniqueViolation reports whether err is a PostgreSQL unique constraint
// violation (SQLSTATE 23505) from the pgx driver.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

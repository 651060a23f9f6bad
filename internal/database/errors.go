// internal/database/errors.go
package database

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

const (
	pgUniqueViolation = "23505"
	pgUndefinedTable  = "42P01"
	pgUndefinedObject = "42704"
)

// IsUniqueViolation reports whether err is a Postgres unique constraint
// violation. Used as the backstop for idempotency keys (invoice address,
// payment tx hash, webhook event key).
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// UniqueConstraint returns the name of the violated unique constraint,
// or "" when err is not a unique violation. Lets callers tell an
// idempotency-key collision apart from an address collision.
func UniqueConstraint(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return pgErr.ConstraintName
	}
	return ""
}

// IsUndefinedObject reports whether err means a referenced database
// object (e.g. an index sequence) does not exist.
func IsUndefinedObject(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && (pgErr.Code == pgUndefinedTable || pgErr.Code == pgUndefinedObject)
}

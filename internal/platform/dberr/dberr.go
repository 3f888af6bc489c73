// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

// Package dberr provides a bridge between low-level database errors and
// higher-level application errors.
package dberr

import (
	"errors"
	"fmt"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/taibuivan/mangashelf/internal/platform/apperr"
)

// ErrNotFound is a standard error returned when a queried row doesn't exist.
var ErrNotFound = apperr.NotFound("Resource")

// ConstraintFields maps unique-index names to the API field they protect.
type ConstraintFields map[string]string

// UniqueViolation reports whether err is a PostgreSQL unique violation and,
// if so, the name of the constraint that fired.
func UniqueViolation(err error) (constraint string, ok bool) {
	var pgError *pgconn.PgError
	if errors.As(err, &pgError) && pgError.Code == pgerrcode.UniqueViolation {
		return pgError.ConstraintName, true
	}
	return "", false
}

// Wrap inspects a database error and wraps it into a meaningful [apperr.AppError].
// It hides internal database details from the client while classifying the error type.
//
// # Mapping
//   - pgx.ErrNoRows           -> notFound (or [ErrNotFound] when nil)
//   - unique_violation (23505) -> VALIDATION_ERROR naming the field from fields
//   - anything else            -> INTERNAL_ERROR carrying action as context
func Wrap(err error, action string, notFound *apperr.AppError, fields ConstraintFields) error {
	if err == nil {
		return nil
	}

	// 1. Not Found mapping
	if errors.Is(err, pgx.ErrNoRows) {
		if notFound != nil {
			return notFound
		}
		return ErrNotFound
	}

	// 2. Unique constraint mapping
	if constraint, ok := UniqueViolation(err); ok {
		field, known := fields[constraint]
		if !known {
			field = constraint
		}
		return apperr.ValidationError("Validation failed", apperr.FieldError{
			Field:   field,
			Message: "Is already taken",
		})
	}

	// 3. Unknown query errors become Internal Server Errors
	return apperr.Internal(fmt.Errorf("%s: %w", action, err))
}

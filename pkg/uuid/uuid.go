// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package uuid provides the time-ordered identifiers used as account IDs.

It wraps google/uuid to generate Version 7 values. They sort by creation time,
which keeps the PostgreSQL primary key index append-only and makes the
"<accountID>." prefix of refresh tokens cheap to route.
*/
package uuid

import "github.com/google/uuid"

// # Generators

// New generates a new UUIDv7 string.
func New() string {
	id, err := uuid.NewV7()

	// entropy failure is an unrecoverable system-level error
	if err != nil {
		panic("uuid: failed to generate v7 identifier: " + err.Error())
	}

	return id.String()
}

// # Validation

// IsValid reports whether raw parses as a UUID of any version.
func IsValid(raw string) bool {
	return uuid.Validate(raw) == nil
}

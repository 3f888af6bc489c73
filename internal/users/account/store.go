// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package account

import (
	"context"

	"github.com/taibuivan/mangashelf/internal/platform/apperr"
)

// # Store Errors

var (
	// ErrNotFound is returned by every lookup that matches no account.
	ErrNotFound = apperr.NotFound("Account")

	// ErrVersionConflict is returned by [Store.Update] when the stored version no
	// longer matches the one the caller read.
	ErrVersionConflict = apperr.Conflict("Account was modified concurrently")
)

// # Data Access

// Store defines the persistence contract for accounts.
//
// Uniqueness of username and email is enforced here: a violating Create or Update
// fails with a VALIDATION_ERROR naming the field and writes nothing.
type Store interface {

	/*
		FindByID returns the account with the given ID.

		Parameters:
		  - context: context.Context
		  - id: string

		Returns:
		  - *Account: Hydrated entity
		  - error: ErrNotFound or storage failures
	*/
	FindByID(context context.Context, id string) (*Account, error)

	/*
		FindByEmail returns the account with the given normalised email.

		Parameters:
		  - context: context.Context
		  - email: string

		Returns:
		  - *Account: Hydrated entity
		  - error: ErrNotFound or storage failures
	*/
	FindByEmail(context context.Context, email string) (*Account, error)

	/*
		FindByUsername returns the account with the given normalised username.

		Parameters:
		  - context: context.Context
		  - username: string

		Returns:
		  - *Account: Hydrated entity
		  - error: ErrNotFound or storage failures
	*/
	FindByUsername(context context.Context, username string) (*Account, error)

	/*
		FindByResetToken returns the account holding the given reset-token digest,
		regardless of its expiry.

		Parameters:
		  - context: context.Context
		  - tokenHash: string

		Returns:
		  - *Account: Hydrated entity
		  - error: ErrNotFound or storage failures
	*/
	FindByResetToken(context context.Context, tokenHash string) (*Account, error)

	/*
		Create persists a brand-new account.

		Parameters:
		  - context: context.Context
		  - account: *Account

		Returns:
		  - error: VALIDATION_ERROR on duplicates, or storage failures
	*/
	Create(context context.Context, account *Account) error

	/*
		Update writes every mutable field if and only if the stored version still
		equals account.Version. On success account.Version is incremented.

		Parameters:
		  - context: context.Context
		  - account: *Account

		Returns:
		  - error: ErrVersionConflict, VALIDATION_ERROR on duplicates, or storage failures
	*/
	Update(context context.Context, account *Account) error
}

// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package auth

import (
	"time"

	"github.com/taibuivan/mangashelf/internal/platform/apperr"
)

// # Authentication Constraints

const (
	// AccessTokenTTL is the duration a JWT access token remains valid.
	AccessTokenTTL = 15 * time.Minute

	// RefreshTokenLength is the byte length of the random refresh-token secret.
	RefreshTokenLength = 32

	// ResetTokenLength is the byte length of the random password reset token.
	ResetTokenLength = 32

	// DefaultResetTokenTTL applies when the service is configured without one.
	DefaultResetTokenTTL = 1 * time.Hour

	// refreshTokenSeparator splits "<accountID>.<secret>". Neither UUIDs nor
	// base64url secrets contain a dot.
	refreshTokenSeparator = "."
)

// # Concurrency Control

const (
	// maxMutationAttempts bounds the optimistic-concurrency retries of one
	// read-modify-write on an account.
	maxMutationAttempts = 5

	// mutationBackoffBase is the first backoff interval; it doubles per retry.
	mutationBackoffBase = 5 * time.Millisecond
)

// errInvalidCredentials aborts a login mutation whose password check fails
// against the version being committed.
var errInvalidCredentials = apperr.Unauthorized("Invalid login credentials")

// # Field Identifiers

const (
	FieldUsername        = "username"
	FieldEmail           = "email"
	FieldPassword        = "password"
	FieldRole            = "role"
	FieldToken           = "token"
	FieldOnline          = "online"
	FieldCurrentPassword = "current_password"
	FieldNewPassword     = "new_password"
	FieldAccessToken     = "access_token"
	FieldTokenType       = "token_type"
	FieldExpiresIn       = "expires_in"
	FieldUser            = "user"
	FieldMessage         = "message"
)

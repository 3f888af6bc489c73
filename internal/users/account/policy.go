// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package account

import (
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/taibuivan/mangashelf/internal/platform/sec"
	"github.com/taibuivan/mangashelf/internal/platform/validate"
)

// # Password Policy

// PasswordPolicy bounds acceptable plaintext passwords and sets the bcrypt cost.
type PasswordPolicy struct {
	MinLength int
	MaxLength int
	HashCost  int
}

// DefaultPasswordPolicy matches the limits the platform has always enforced:
// 6 to 50 characters at bcrypt's default cost. Whatever the character window,
// passwords are also capped at [sec.MaxPasswordBytes] bytes of UTF-8.
func DefaultPasswordPolicy() PasswordPolicy {
	return PasswordPolicy{
		MinLength: 6,
		MaxLength: 50,
		HashCost:  sec.DefaultHashCost,
	}
}

// Validate checks plain against the policy and returns a VALIDATION_ERROR naming field.
func (policy PasswordPolicy) Validate(field, plain string) error {
	validator := &validate.Validator{}
	policy.check(validator, field, plain)
	return validator.Err()
}

// Hash validates plain and returns its bcrypt hash. The plaintext is never logged
// or kept beyond this call.
func (policy PasswordPolicy) Hash(plain string) (string, error) {
	if err := policy.Validate(FieldPassword, plain); err != nil {
		return "", err
	}

	hash, err := sec.HashPasswordWithCost(plain, policy.HashCost)
	if err != nil {
		return "", fmt.Errorf("account_password_hash_failed: %w", err)
	}
	return hash, nil
}

// check appends the policy rules to an existing validator chain.
//
// Required is only reported on its own; an empty password does not also
// produce a length complaint.
func (policy PasswordPolicy) check(validator *validate.Validator, field, plain string) {
	if plain == "" {
		validator.Required(field, plain)
		return
	}
	validator.MinLen(field, plain, policy.MinLength).
		MaxLen(field, plain, policy.MaxLength)

	// Multibyte passwords can fit the character window and still overflow bcrypt
	if utf8.RuneCountInString(plain) <= policy.MaxLength {
		validator.MaxBytes(field, plain, sec.MaxPasswordBytes)
	}
}

// Burn spends one bcrypt comparison at the policy cost without a real hash.
func (policy PasswordPolicy) Burn(plain string) {
	sec.BurnPasswordCheck(plain, policy.HashCost)
}

// # Session Policy

// SessionPolicy limits concurrent sessions per account. The zero value means
// unbounded sessions that never expire.
type SessionPolicy struct {
	// MaxSessions caps live sessions; the oldest is evicted on overflow. 0 = unbounded.
	MaxSessions int
	// TokenTTL is how long a refresh token stays valid after issue. 0 = forever.
	TokenTTL time.Duration
}

// expired reports whether session outlived the TTL at now.
func (policy SessionPolicy) expired(session SessionToken, now time.Time) bool {
	if policy.TokenTTL <= 0 {
		return false
	}
	return !now.Before(session.IssuedAt.Add(policy.TokenTTL))
}

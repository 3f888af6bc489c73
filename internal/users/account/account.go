// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package account owns the account record: identity fields, the password hash,
the set of live refresh-token sessions, presence and the password-reset ticket.

# Architecture

  - Entity: [Account] keeps its security-sensitive fields unexported. The password
    hash can only change through [Account.SetPassword]; sessions only through the
    session methods. Persistence never hashes anything on its own.
  - Policies: [PasswordPolicy] and [SessionPolicy] carry the configurable limits.
  - Storage: [Store] is the collaborator contract, with PostgreSQL, MongoDB and
    in-memory implementations. Every store applies updates as a compare-and-swap
    on [Account.Version].
*/
package account

import (
	"slices"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/taibuivan/mangashelf/internal/platform/sec"
	"github.com/taibuivan/mangashelf/internal/platform/validate"
	"github.com/taibuivan/mangashelf/pkg/uuid"
)

// # Field Constraints

const (
	UsernameMinLength = 3
	UsernameMaxLength = 55
)

// # Field Identifiers

const (
	FieldUsername   = "username"
	FieldEmail      = "email"
	FieldPassword   = "password"
	FieldRole       = "role"
	FieldResetToken = "reset_token"
)

// # Domain Entities

// SessionToken is one live refresh-token session. Only the SHA-256 digest of the
// token is kept; the plaintext exists solely in the client's cookie.
type SessionToken struct {
	Hash     string    `json:"hash" bson:"hash"`
	IssuedAt time.Time `json:"issued_at" bson:"issued_at"`
}

// Account is a registered reader of the manga platform.
type Account struct {
	ID        string
	Username  string
	Email     string
	Role      sec.UserRole
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time

	passwordHash         string
	online               bool
	sessions             []SessionToken
	resetTokenHash       string
	resetTokenExpiration *time.Time
}

// Profile is the client-safe projection of an [Account].
type Profile struct {
	ID        string       `json:"id"`
	Username  string       `json:"username"`
	Email     string       `json:"email"`
	Role      sec.UserRole `json:"role"`
	IsOnline  bool         `json:"is_online"`
	CreatedAt time.Time    `json:"created_at"`
}

// NewAccountInput holds the raw registration data.
type NewAccountInput struct {
	Username string
	Email    string
	Password string
	Role     string
}

// # Normalisation

// NormalizeEmail trims and lowercases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizeUsername trims a username and folds it to Unicode NFC, so that visually
// identical names typed on different keyboards collide on the unique index.
func NormalizeUsername(username string) string {
	return norm.NFC.String(strings.TrimSpace(username))
}

// # Construction

/*
NewAccount validates registration input and builds a fresh account with a hashed
password, the default role and no sessions.

Parameters:
  - input: NewAccountInput
  - policy: PasswordPolicy

Returns:
  - *Account: Entity ready to be handed to [Store.Create]
  - error: VALIDATION_ERROR listing every offending field
*/
func NewAccount(input NewAccountInput, policy PasswordPolicy) (*Account, error) {
	username := NormalizeUsername(input.Username)
	email := NormalizeEmail(input.Email)
	role, knownRole := sec.ParseRole(strings.TrimSpace(input.Role))

	validator := &validate.Validator{}
	validator.Required(FieldUsername, username).
		LenBetween(FieldUsername, username, UsernameMinLength, UsernameMaxLength).
		Required(FieldEmail, email).
		Email(FieldEmail, email).
		Custom(FieldRole, !knownRole, "Must be one of: "+strings.Join(sec.RoleNames(), ", "))
	policy.check(validator, FieldPassword, input.Password)

	if err := validator.Err(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	account := &Account{
		ID:        uuid.New(),
		Username:  username,
		Email:     email,
		Role:      role,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := account.SetPassword(input.Password, policy); err != nil {
		return nil, err
	}

	return account, nil
}

// # Credentials

// PasswordHash returns the stored bcrypt hash.
func (account *Account) PasswordHash() string {
	return account.passwordHash
}

// SetPassword validates plain against policy, hashes it with a fresh salt and
// replaces the stored hash. It is the only way the hash ever changes.
func (account *Account) SetPassword(plain string, policy PasswordPolicy) error {
	hash, err := policy.Hash(plain)
	if err != nil {
		return err
	}
	account.passwordHash = hash
	return nil
}

// VerifyPassword reports whether plain matches the stored hash. An account without
// a hash never matches.
func (account *Account) VerifyPassword(plain string) bool {
	return sec.CheckPasswordHash(plain, account.passwordHash)
}

// # Presence

// IsOnline reports the presence flag.
func (account *Account) IsOnline() bool {
	return account.online
}

// SetOnline flips the presence flag.
func (account *Account) SetOnline(online bool) {
	account.online = online
}

// # Sessions

// Sessions returns a copy of the live session set.
func (account *Account) Sessions() []SessionToken {
	return slices.Clone(account.sessions)
}

// SessionCount returns the number of live sessions.
func (account *Account) SessionCount() int {
	return len(account.sessions)
}

// HasSession reports whether a live, unexpired session with the given digest exists.
func (account *Account) HasSession(tokenHash string, now time.Time, policy SessionPolicy) bool {
	for _, session := range account.sessions {
		if sec.TokenHashesEqual(session.Hash, tokenHash) {
			return !policy.expired(session, now)
		}
	}
	return false
}

// AddSession records a new session digest. Expired sessions are pruned first and,
// when the policy caps the count, the oldest sessions are evicted to make room.
// Adding a digest that is already present is a no-op.
func (account *Account) AddSession(tokenHash string, now time.Time, policy SessionPolicy) {
	account.PruneSessions(now, policy)

	for _, session := range account.sessions {
		if sec.TokenHashesEqual(session.Hash, tokenHash) {
			return
		}
	}

	account.sessions = append(account.sessions, SessionToken{Hash: tokenHash, IssuedAt: now})

	if policy.MaxSessions > 0 && len(account.sessions) > policy.MaxSessions {
		slices.SortStableFunc(account.sessions, func(a, b SessionToken) int {
			return a.IssuedAt.Compare(b.IssuedAt)
		})
		account.sessions = slices.Clone(account.sessions[len(account.sessions)-policy.MaxSessions:])
	}
}

// RevokeSession removes one session. It reports whether anything was removed.
func (account *Account) RevokeSession(tokenHash string) bool {
	before := len(account.sessions)
	account.sessions = slices.DeleteFunc(account.sessions, func(session SessionToken) bool {
		return sec.TokenHashesEqual(session.Hash, tokenHash)
	})
	return len(account.sessions) != before
}

// RevokeAllSessions empties the session set, invalidating every refresh token.
func (account *Account) RevokeAllSessions() {
	account.sessions = nil
}

// PruneSessions drops sessions that outlived the policy TTL.
func (account *Account) PruneSessions(now time.Time, policy SessionPolicy) {
	if policy.TokenTTL <= 0 {
		return
	}
	account.sessions = slices.DeleteFunc(account.sessions, func(session SessionToken) bool {
		return policy.expired(session, now)
	})
}

// # Password Reset

// SetResetToken stores the digest of a reset token together with its absolute expiry.
func (account *Account) SetResetToken(tokenHash string, expiresAt time.Time) {
	expiration := expiresAt.UTC()
	account.resetTokenHash = tokenHash
	account.resetTokenExpiration = &expiration
}

// ClearResetToken removes the reset ticket. Both fields are always cleared together.
func (account *Account) ClearResetToken() {
	account.resetTokenHash = ""
	account.resetTokenExpiration = nil
}

// ResetTokenHash returns the stored reset-token digest, or "" when absent.
func (account *Account) ResetTokenHash() string {
	return account.resetTokenHash
}

// ResetTokenExpiration returns the reset-token expiry and whether a ticket exists.
func (account *Account) ResetTokenExpiration() (time.Time, bool) {
	if account.resetTokenExpiration == nil {
		return time.Time{}, false
	}
	return *account.resetTokenExpiration, true
}

// ResetTokenValid reports whether tokenHash matches the stored ticket and now is
// strictly before its expiry.
func (account *Account) ResetTokenValid(tokenHash string, now time.Time) bool {
	if account.resetTokenHash == "" || account.resetTokenExpiration == nil {
		return false
	}
	if !sec.TokenHashesEqual(account.resetTokenHash, tokenHash) {
		return false
	}
	return now.Before(*account.resetTokenExpiration)
}

// # Projections

// Profile returns the client-safe view of the account.
func (account *Account) Profile() Profile {
	return Profile{
		ID:        account.ID,
		Username:  account.Username,
		Email:     account.Email,
		Role:      account.Role,
		IsOnline:  account.online,
		CreatedAt: account.CreatedAt,
	}
}

// clone returns a deep copy so stores never share mutable state with callers.
func (account *Account) clone() *Account {
	copied := *account
	copied.sessions = slices.Clone(account.sessions)
	if account.resetTokenExpiration != nil {
		expiration := *account.resetTokenExpiration
		copied.resetTokenExpiration = &expiration
	}
	return &copied
}

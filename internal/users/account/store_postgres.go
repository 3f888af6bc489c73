// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package account

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/taibuivan/mangashelf/internal/platform/database/schema"
	"github.com/taibuivan/mangashelf/internal/platform/dberr"
	"github.com/taibuivan/mangashelf/internal/platform/sec"
)

// accountConstraints maps the users.account unique constraints to API fields.
var accountConstraints = dberr.ConstraintFields{
	schema.UserAccount.UsernameKey:   FieldUsername,
	schema.UserAccount.EmailKey:      FieldEmail,
	schema.UserAccount.ResetTokenKey: FieldResetToken,
}

// # Repository Implementation

// PostgresStore implements [Store] on the users.account table using pgx.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new Postgres implementation of the account store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// # Lookups

// FindByID implements [Store].
func (repository *PostgresStore) FindByID(context context.Context, id string) (*Account, error) {
	return repository.findOne(context, schema.UserAccount.ID, id, "postgres_account_find_by_id_failed")
}

// FindByEmail implements [Store].
func (repository *PostgresStore) FindByEmail(context context.Context, email string) (*Account, error) {
	return repository.findOne(context, schema.UserAccount.Email, email, "postgres_account_find_by_email_failed")
}

// FindByUsername implements [Store].
func (repository *PostgresStore) FindByUsername(context context.Context, username string) (*Account, error) {
	return repository.findOne(context, schema.UserAccount.Username, username, "postgres_account_find_by_username_failed")
}

// FindByResetToken implements [Store].
func (repository *PostgresStore) FindByResetToken(context context.Context, tokenHash string) (*Account, error) {
	if tokenHash == "" {
		return nil, ErrNotFound
	}
	return repository.findOne(context, schema.UserAccount.ResetTokenHash, tokenHash, "postgres_account_find_by_reset_token_failed")
}

/*
findOne selects a single account by an arbitrary unique column.

Parameters:
  - context: context.Context
  - column: string (trusted, from schema)
  - value: string
  - action: string (error context)

Returns:
  - *Account: Hydrated entity
  - error: ErrNotFound or INTERNAL_ERROR
*/
func (repository *PostgresStore) findOne(context context.Context, column, value, action string) (*Account, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s = $1`,
		strings.Join(schema.UserAccount.Columns(), ", "),
		schema.UserAccount.Table,
		column,
	)

	account, err := scanAccount(repository.pool.QueryRow(context, query, value))
	if err != nil {
		return nil, dberr.Wrap(err, action, ErrNotFound, accountConstraints)
	}

	return account, nil
}

// # Mutations

/*
Create inserts a new account at version 0.

Parameters:
  - context: context.Context
  - account: *Account

Returns:
  - error: VALIDATION_ERROR on duplicate username/email, or INTERNAL_ERROR
*/
func (repository *PostgresStore) Create(context context.Context, account *Account) error {
	columns := schema.UserAccount.Columns()
	placeholders := make([]string, len(columns))
	for index := range columns {
		placeholders[index] = fmt.Sprintf("$%d", index+1)
	}

	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s)`,
		schema.UserAccount.Table,
		strings.Join(columns, ", "),
		strings.Join(placeholders, ", "),
	)

	sessions, err := encodeSessions(account.sessions)
	if err != nil {
		return err
	}

	account.Version = 0
	_, err = repository.pool.Exec(context, query,
		account.ID,
		account.Username,
		account.Email,
		account.passwordHash,
		string(account.Role),
		account.online,
		sessions,
		nullableString(account.resetTokenHash),
		account.resetTokenExpiration,
		account.Version,
		account.CreatedAt,
		account.UpdatedAt,
	)

	return dberr.Wrap(err, "postgres_account_create_failed", ErrNotFound, accountConstraints)
}

/*
Update rewrites every mutable column guarded by the version the caller read.

Description: The WHERE clause pins both the ID and the expected version and the
SET clause bumps the version, so two writers racing on the same snapshot cannot
both succeed. When no row matches, a follow-up existence probe tells a missing
account apart from a lost race.

Parameters:
  - context: context.Context
  - account: *Account

Returns:
  - error: ErrNotFound, ErrVersionConflict, VALIDATION_ERROR or INTERNAL_ERROR
*/
func (repository *PostgresStore) Update(context context.Context, account *Account) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET %s = $3, %s = $4, %s = $5, %s = $6, %s = $7, %s = $8, %s = $9, %s = $10, %s = %s + 1, %s = $11
		WHERE %s = $1 AND %s = $2`,
		schema.UserAccount.Table,
		schema.UserAccount.Username, schema.UserAccount.Email, schema.UserAccount.Password,
		schema.UserAccount.Role, schema.UserAccount.IsOnline, schema.UserAccount.RefreshTokens,
		schema.UserAccount.ResetTokenHash, schema.UserAccount.ResetTokenExpiresAt,
		schema.UserAccount.Version, schema.UserAccount.Version, schema.UserAccount.UpdatedAt,
		schema.UserAccount.ID, schema.UserAccount.Version,
	)

	sessions, err := encodeSessions(account.sessions)
	if err != nil {
		return err
	}

	updatedAt := time.Now().UTC()
	tag, err := repository.pool.Exec(context, query,
		account.ID,
		account.Version,
		account.Username,
		account.Email,
		account.passwordHash,
		string(account.Role),
		account.online,
		sessions,
		nullableString(account.resetTokenHash),
		account.resetTokenExpiration,
		updatedAt,
	)
	if err != nil {
		return dberr.Wrap(err, "postgres_account_update_failed", ErrNotFound, accountConstraints)
	}

	// Zero rows means either the account vanished or another writer got there first
	if tag.RowsAffected() == 0 {
		return repository.missOrConflict(context, account.ID)
	}

	account.Version++
	account.UpdatedAt = updatedAt
	return nil
}

// missOrConflict classifies an Update that matched no row.
func (repository *PostgresStore) missOrConflict(context context.Context, id string) error {
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE %s = $1)`,
		schema.UserAccount.Table, schema.UserAccount.ID)

	var exists bool
	if err := repository.pool.QueryRow(context, query, id).Scan(&exists); err != nil {
		return dberr.Wrap(err, "postgres_account_exists_failed", ErrNotFound, accountConstraints)
	}

	if !exists {
		return ErrNotFound
	}
	return ErrVersionConflict
}

// # Row Mapping

// scanAccount hydrates an account from a row selected with [schema.UserAccountTable.Columns].
func scanAccount(row pgx.Row) (*Account, error) {
	var (
		account        Account
		role           string
		rawSessions    []byte
		resetTokenHash *string
	)

	err := row.Scan(
		&account.ID,
		&account.Username,
		&account.Email,
		&account.passwordHash,
		&role,
		&account.online,
		&rawSessions,
		&resetTokenHash,
		&account.resetTokenExpiration,
		&account.Version,
		&account.CreatedAt,
		&account.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	account.Role = sec.UserRole(role)
	if resetTokenHash != nil {
		account.resetTokenHash = *resetTokenHash
	}

	if len(rawSessions) > 0 {
		if err := json.Unmarshal(rawSessions, &account.sessions); err != nil {
			return nil, fmt.Errorf("account_sessions_decode_failed: %w", err)
		}
	}

	return &account, nil
}

// encodeSessions serialises the session set for the JSONB column. A nil set is
// written as an empty array so the column never holds SQL NULL.
func encodeSessions(sessions []SessionToken) (string, error) {
	if sessions == nil {
		sessions = []SessionToken{}
	}
	raw, err := json.Marshal(sessions)
	if err != nil {
		return "", fmt.Errorf("account_sessions_encode_failed: %w", err)
	}
	return string(raw), nil
}

func nullableString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package account

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/taibuivan/mangashelf/internal/platform/apperr"
	"github.com/taibuivan/mangashelf/internal/platform/constants"
	"github.com/taibuivan/mangashelf/internal/platform/sec"
)

// Document field names.
const (
	docID             = "_id"
	docUsername       = "username"
	docEmail          = "email"
	docResetTokenHash = "reset_token_hash"
	docVersion        = "version"
)

// Index names; kept equal to the PostgreSQL constraint names so both backends
// report duplicates the same way.
const (
	indexUsername   = "account_username_key"
	indexEmail      = "account_email_key"
	indexResetToken = "account_resettokenhash_key"
)

// accountDocument is the BSON shape of an [Account].
type accountDocument struct {
	ID                  string         `bson:"_id"`
	Username            string         `bson:"username"`
	Email               string         `bson:"email"`
	PasswordHash        string         `bson:"password_hash"`
	Role                string         `bson:"role"`
	IsOnline            bool           `bson:"is_online"`
	RefreshTokens       []SessionToken `bson:"refresh_tokens"`
	ResetTokenHash      string         `bson:"reset_token_hash,omitempty"`
	ResetTokenExpiresAt *time.Time     `bson:"reset_token_expires_at,omitempty"`
	Version             int64          `bson:"version"`
	CreatedAt           time.Time      `bson:"created_at"`
	UpdatedAt           time.Time      `bson:"updated_at"`
}

func toDocument(account *Account) accountDocument {
	sessions := account.sessions
	if sessions == nil {
		sessions = []SessionToken{}
	}
	return accountDocument{
		ID:                  account.ID,
		Username:            account.Username,
		Email:               account.Email,
		PasswordHash:        account.passwordHash,
		Role:                string(account.Role),
		IsOnline:            account.online,
		RefreshTokens:       sessions,
		ResetTokenHash:      account.resetTokenHash,
		ResetTokenExpiresAt: account.resetTokenExpiration,
		Version:             account.Version,
		CreatedAt:           account.CreatedAt,
		UpdatedAt:           account.UpdatedAt,
	}
}

func (document accountDocument) toAccount() *Account {
	account := &Account{
		ID:             document.ID,
		Username:       document.Username,
		Email:          document.Email,
		Role:           sec.UserRole(document.Role),
		Version:        document.Version,
		CreatedAt:      document.CreatedAt.UTC(),
		UpdatedAt:      document.UpdatedAt.UTC(),
		passwordHash:   document.PasswordHash,
		online:         document.IsOnline,
		sessions:       document.RefreshTokens,
		resetTokenHash: document.ResetTokenHash,
	}
	if len(account.sessions) == 0 {
		account.sessions = nil
	}
	if document.ResetTokenExpiresAt != nil {
		account.SetResetToken(document.ResetTokenHash, *document.ResetTokenExpiresAt)
	}
	return account
}

// # Repository Implementation

// MongoStore implements [Store] on a MongoDB collection. Each account is one
// document with its refresh tokens embedded.
type MongoStore struct {
	collection *mongo.Collection
}

// NewMongoStore binds the store to the accounts collection of db.
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{collection: db.Collection(constants.CollectionAccounts)}
}

/*
EnsureIndexes creates the unique indexes the store relies on. It is idempotent
and must run before the store serves traffic.

Parameters:
  - context: context.Context

Returns:
  - error: Index build failures
*/
func (repository *MongoStore) EnsureIndexes(context context.Context) error {
	_, err := repository.collection.Indexes().CreateMany(context, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: docUsername, Value: 1}},
			Options: options.Index().SetName(indexUsername).SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: docEmail, Value: 1}},
			Options: options.Index().SetName(indexEmail).SetUnique(true),
		},
		{
			// Sparse: accounts without a pending reset omit the field entirely
			Keys:    bson.D{{Key: docResetTokenHash, Value: 1}},
			Options: options.Index().SetName(indexResetToken).SetUnique(true).SetSparse(true),
		},
	})
	if err != nil {
		return fmt.Errorf("mongo_account_ensure_indexes_failed: %w", err)
	}
	return nil
}

// # Lookups

// FindByID implements [Store].
func (repository *MongoStore) FindByID(context context.Context, id string) (*Account, error) {
	return repository.findOne(context, bson.M{docID: id}, "mongo_account_find_by_id_failed")
}

// FindByEmail implements [Store].
func (repository *MongoStore) FindByEmail(context context.Context, email string) (*Account, error) {
	return repository.findOne(context, bson.M{docEmail: email}, "mongo_account_find_by_email_failed")
}

// FindByUsername implements [Store].
func (repository *MongoStore) FindByUsername(context context.Context, username string) (*Account, error) {
	return repository.findOne(context, bson.M{docUsername: username}, "mongo_account_find_by_username_failed")
}

// FindByResetToken implements [Store].
func (repository *MongoStore) FindByResetToken(context context.Context, tokenHash string) (*Account, error) {
	if tokenHash == "" {
		return nil, ErrNotFound
	}
	return repository.findOne(context, bson.M{docResetTokenHash: tokenHash}, "mongo_account_find_by_reset_token_failed")
}

func (repository *MongoStore) findOne(context context.Context, filter bson.M, action string) (*Account, error) {
	var document accountDocument
	err := repository.collection.FindOne(context, filter).Decode(&document)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, apperr.Internal(fmt.Errorf("%s: %w", action, err))
	}
	return document.toAccount(), nil
}

// # Mutations

/*
Create inserts a new account document at version 0.

Parameters:
  - context: context.Context
  - account: *Account

Returns:
  - error: VALIDATION_ERROR on duplicate username/email, or INTERNAL_ERROR
*/
func (repository *MongoStore) Create(context context.Context, account *Account) error {
	account.Version = 0
	_, err := repository.collection.InsertOne(context, toDocument(account))
	if err != nil {
		return mongoWriteError(err, "mongo_account_create_failed")
	}
	return nil
}

/*
Update replaces the whole document if and only if its version still matches.

Description: ReplaceOne filters on both _id and the expected version, so a
concurrent writer that already bumped the version makes this call match nothing.
A follow-up count tells a missing account apart from a lost race.

Parameters:
  - context: context.Context
  - account: *Account

Returns:
  - error: ErrNotFound, ErrVersionConflict, VALIDATION_ERROR or INTERNAL_ERROR
*/
func (repository *MongoStore) Update(context context.Context, account *Account) error {
	document := toDocument(account)
	document.Version = account.Version + 1
	document.UpdatedAt = time.Now().UTC()

	filter := bson.M{docID: account.ID, docVersion: account.Version}
	result, err := repository.collection.ReplaceOne(context, filter, document)
	if err != nil {
		return mongoWriteError(err, "mongo_account_update_failed")
	}

	if result.MatchedCount == 0 {
		count, err := repository.collection.CountDocuments(context, bson.M{docID: account.ID})
		if err != nil {
			return apperr.Internal(fmt.Errorf("mongo_account_exists_failed: %w", err))
		}
		if count == 0 {
			return ErrNotFound
		}
		return ErrVersionConflict
	}

	account.Version = document.Version
	account.UpdatedAt = document.UpdatedAt
	return nil
}

// mongoWriteError maps duplicate-key failures to a field-level VALIDATION_ERROR
// using the index name embedded in the server message.
func mongoWriteError(err error, action string) error {
	if !mongo.IsDuplicateKeyError(err) {
		return apperr.Internal(fmt.Errorf("%s: %w", action, err))
	}

	field := "account"
	message := err.Error()
	switch {
	case strings.Contains(message, indexUsername):
		field = FieldUsername
	case strings.Contains(message, indexEmail):
		field = FieldEmail
	case strings.Contains(message, indexResetToken):
		field = FieldResetToken
	}

	return apperr.ValidationError("Validation failed", apperr.FieldError{
		Field:   field,
		Message: "Is already taken",
	})
}

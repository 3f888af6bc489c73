// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package account

import (
	"context"
	"sync"
	"time"

	"github.com/taibuivan/mangashelf/internal/platform/apperr"
)

// MemoryStore implements [Store] in process memory. It is used for local runs
// and as the reference store in tests; every account handed in or out is a deep
// copy, so callers can never mutate stored state behind the lock.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]*Account
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accounts: make(map[string]*Account)}
}

// # Lookups

// FindByID implements [Store].
func (repository *MemoryStore) FindByID(_ context.Context, id string) (*Account, error) {
	return repository.find(func(account *Account) bool { return account.ID == id })
}

// FindByEmail implements [Store].
func (repository *MemoryStore) FindByEmail(_ context.Context, email string) (*Account, error) {
	return repository.find(func(account *Account) bool { return account.Email == email })
}

// FindByUsername implements [Store].
func (repository *MemoryStore) FindByUsername(_ context.Context, username string) (*Account, error) {
	return repository.find(func(account *Account) bool { return account.Username == username })
}

// FindByResetToken implements [Store].
func (repository *MemoryStore) FindByResetToken(_ context.Context, tokenHash string) (*Account, error) {
	if tokenHash == "" {
		return nil, ErrNotFound
	}
	return repository.find(func(account *Account) bool { return account.resetTokenHash == tokenHash })
}

func (repository *MemoryStore) find(match func(*Account) bool) (*Account, error) {
	repository.mu.RLock()
	defer repository.mu.RUnlock()

	for _, account := range repository.accounts {
		if match(account) {
			return account.clone(), nil
		}
	}
	return nil, ErrNotFound
}

// # Mutations

// Create implements [Store].
func (repository *MemoryStore) Create(context context.Context, account *Account) error {
	if err := context.Err(); err != nil {
		return apperr.Internal(err)
	}

	repository.mu.Lock()
	defer repository.mu.Unlock()

	if _, exists := repository.accounts[account.ID]; exists {
		return apperr.Conflict("Account already exists")
	}
	if err := repository.checkUnique(account); err != nil {
		return err
	}

	account.Version = 0
	repository.accounts[account.ID] = account.clone()
	return nil
}

// Update implements [Store].
func (repository *MemoryStore) Update(context context.Context, account *Account) error {
	if err := context.Err(); err != nil {
		return apperr.Internal(err)
	}

	repository.mu.Lock()
	defer repository.mu.Unlock()

	stored, exists := repository.accounts[account.ID]
	if !exists {
		return ErrNotFound
	}
	if stored.Version != account.Version {
		return ErrVersionConflict
	}
	if err := repository.checkUnique(account); err != nil {
		return err
	}

	account.Version++
	account.UpdatedAt = time.Now().UTC()
	repository.accounts[account.ID] = account.clone()
	return nil
}

// checkUnique mirrors the unique indexes of the persistent stores. The caller
// must hold the write lock.
func (repository *MemoryStore) checkUnique(candidate *Account) error {
	for id, account := range repository.accounts {
		if id == candidate.ID {
			continue
		}

		field := ""
		switch {
		case account.Username == candidate.Username:
			field = FieldUsername
		case account.Email == candidate.Email:
			field = FieldEmail
		case candidate.resetTokenHash != "" && account.resetTokenHash == candidate.resetTokenHash:
			field = FieldResetToken
		default:
			continue
		}

		return apperr.ValidationError("Validation failed", apperr.FieldError{
			Field:   field,
			Message: "Is already taken",
		})
	}
	return nil
}

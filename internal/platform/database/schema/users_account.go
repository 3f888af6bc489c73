// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

// Package schema names the tables, columns and constraints of the relational store.
package schema

import "github.com/taibuivan/mangashelf/internal/platform/constants"

// UserAccountTable represents the 'users.account' table
type UserAccountTable struct {
	Table               string
	ID                  string
	Username            string
	Email               string
	Password            string
	Role                string
	IsOnline            string
	RefreshTokens       string
	ResetTokenHash      string
	ResetTokenExpiresAt string
	Version             string
	CreatedAt           string
	UpdatedAt           string

	// Unique constraint names, used to map violations back to API fields.
	UsernameKey   string
	EmailKey      string
	ResetTokenKey string
}

// UserAccount is the schema definition for users.account
var UserAccount = UserAccountTable{
	Table:               constants.SchemaUsers + ".account",
	ID:                  "id",
	Username:            "username",
	Email:               "email",
	Password:            "passwordhash",
	Role:                "role",
	IsOnline:            "isonline",
	RefreshTokens:       "refreshtokens",
	ResetTokenHash:      "resettokenhash",
	ResetTokenExpiresAt: "resettokenexpiresat",
	Version:             "version",
	CreatedAt:           "createdat",
	UpdatedAt:           "updatedat",

	UsernameKey:   "account_username_key",
	EmailKey:      "account_email_key",
	ResetTokenKey: "account_resettokenhash_key",
}

// Columns returns all standard column names in scan order
func (t UserAccountTable) Columns() []string {
	return []string{
		t.ID, t.Username, t.Email, t.Password, t.Role, t.IsOnline,
		t.RefreshTokens, t.ResetTokenHash, t.ResetTokenExpiresAt,
		t.Version, t.CreatedAt, t.UpdatedAt,
	}
}

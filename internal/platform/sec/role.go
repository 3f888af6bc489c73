// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package sec

// # User Roles

// UserRole represents the authorization level granted to an account.
type UserRole string

const (
	// Full platform control, including other administrators
	RoleAdministrator UserRole = "Administrator"

	// Can moderate reviews and manage regular accounts
	RoleAdmin UserRole = "Admin"

	// Default role for standard registered readers
	RoleUser UserRole = "User"
)

// Roles lists every assignable role, lowest privilege first.
var Roles = []UserRole{RoleUser, RoleAdmin, RoleAdministrator}

// ParseRole maps a raw string to a [UserRole].
// An empty string yields [RoleUser]; unknown values report ok=false.
func ParseRole(raw string) (role UserRole, ok bool) {
	if raw == "" {
		return RoleUser, true
	}
	for _, candidate := range Roles {
		if string(candidate) == raw {
			return candidate, true
		}
	}
	return "", false
}

// RoleNames returns the string form of [Roles] for validation messages.
func RoleNames() []string {
	names := make([]string, 0, len(Roles))
	for _, role := range Roles {
		names = append(names, string(role))
	}
	return names
}

// # Role Hierarchy

// AtLeast checks if the current role meets or exceeds the required target role.
func (r UserRole) AtLeast(target UserRole) bool {
	return r.level() >= target.level()
}

// level maps a role to a numeric hierarchy level for comparison logic.
func (r UserRole) level() int {
	switch r {
	case RoleAdministrator:
		return 30
	case RoleAdmin:
		return 20
	case RoleUser:
		return 10
	default:
		return 0
	}
}

// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package sec

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// # Password Hashing

const (
	// DefaultHashCost is the bcrypt work factor used when no explicit cost is configured.
	DefaultHashCost = bcrypt.DefaultCost

	// MaxPasswordBytes is the longest input bcrypt accepts.
	MaxPasswordBytes = 72

	dummyPassword = "mangashelf-timing-equalizer"
)

// dummyHashes caches one throw-away hash per bcrypt cost.
var dummyHashes sync.Map

// HashPasswordWithCost hashes a plain-text password with an explicit bcrypt cost.
// Costs outside bcrypt's accepted range fall back to [DefaultHashCost].
func HashPasswordWithCost(plainTextPassword string, cost int) (string, error) {
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(plainTextPassword), normalizeCost(cost))
	if err != nil {
		return "", fmt.Errorf("sec: failed to hash password: %w", err)
	}
	return string(hashedBytes), nil
}

// CheckPasswordHash compares a plain-text password with its hashed version.
//
// An empty hash is never a match, but it is still compared against a dummy hash
// so the call takes the same time either way.
func CheckPasswordHash(plainTextPassword, existingHash string) bool {
	if existingHash == "" {
		BurnPasswordCheck(plainTextPassword, DefaultHashCost)
		return false
	}
	err := bcrypt.CompareHashAndPassword([]byte(existingHash), []byte(plainTextPassword))
	return err == nil
}

// BurnPasswordCheck performs a throw-away comparison against a dummy hash built
// at cost. Callers use it on lookup misses with the cost of real hashes, so an
// unknown email takes as long as a wrong password.
func BurnPasswordCheck(plainTextPassword string, cost int) {
	_ = bcrypt.CompareHashAndPassword([]byte(DummyHash(cost)), []byte(plainTextPassword))
}

// DummyHash returns the cached throw-away hash for cost, building it on first use.
func DummyHash(cost int) string {
	cost = normalizeCost(cost)
	if cached, ok := dummyHashes.Load(cost); ok {
		return cached.(string)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(dummyPassword), cost)
	if err != nil {
		panic("sec: failed to build dummy hash: " + err.Error())
	}

	cached, _ := dummyHashes.LoadOrStore(cost, string(hashed))
	return cached.(string)
}

func normalizeCost(cost int) int {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return DefaultHashCost
	}
	return cost
}

// # Opaque Tokens

// GenerateSecureToken returns a URL-safe random token built from length bytes
// of OS entropy.
func GenerateSecureToken(length int) (string, error) {
	buffer := make([]byte, length)
	if _, err := rand.Read(buffer); err != nil {
		return "", fmt.Errorf("sec: failed to read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buffer), nil
}

// HashToken returns the hex-encoded SHA-256 digest of an opaque token.
//
// Refresh and reset tokens are high-entropy, so a fast unsalted digest is enough
// to make a stolen database row useless without making lookups expensive.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// TokenHashesEqual compares two token digests in constant time.
func TokenHashesEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

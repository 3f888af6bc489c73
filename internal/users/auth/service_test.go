// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package auth_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/taibuivan/mangashelf/internal/platform/apperr"
	"github.com/taibuivan/mangashelf/internal/platform/sec"
	"github.com/taibuivan/mangashelf/internal/users/account"
	"github.com/taibuivan/mangashelf/internal/users/auth"
)

// # Test Doubles

type stubTokens struct{}

func (stubTokens) GenerateAccessToken(userID, _, _ string, _ time.Duration) (string, error) {
	return "access-" + userID, nil
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (clock *testClock) Now() time.Time {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	return clock.now
}

func (clock *testClock) Advance(d time.Duration) {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	clock.now = clock.now.Add(d)
}

// memoryThrottle counts failures without expiry.
type memoryThrottle struct {
	mu       sync.Mutex
	limit    int
	failures map[string]int
}

func (throttle *memoryThrottle) Check(_ context.Context, key string) (time.Duration, error) {
	throttle.mu.Lock()
	defer throttle.mu.Unlock()
	if throttle.failures[key] >= throttle.limit {
		return 30 * time.Second, nil
	}
	return 0, nil
}

func (throttle *memoryThrottle) Fail(_ context.Context, key string) error {
	throttle.mu.Lock()
	defer throttle.mu.Unlock()
	throttle.failures[key]++
	return nil
}

func (throttle *memoryThrottle) Reset(_ context.Context, key string) error {
	throttle.mu.Lock()
	defer throttle.mu.Unlock()
	delete(throttle.failures, key)
	return nil
}

// racingStore lets a competing writer commit right before the first Update,
// forcing a version conflict on that attempt.
type racingStore struct {
	*account.MemoryStore
	once    sync.Once
	compete func()
}

func (store *racingStore) Update(context context.Context, acc *account.Account) error {
	store.once.Do(store.compete)
	return store.MemoryStore.Update(context, acc)
}

// failingStore accepts reads but every Update fails.
type failingStore struct {
	*account.MemoryStore
}

func (failingStore) Update(context.Context, *account.Account) error {
	return errors.New("connection reset by peer")
}

// # Fixtures

type fixture struct {
	store   *account.MemoryStore
	clock   *testClock
	service *auth.Service
}

var testPasswordPolicy = account.PasswordPolicy{MinLength: 6, MaxLength: 50, HashCost: bcrypt.MinCost}

func newFixture(t *testing.T, configure ...func(*auth.Options)) *fixture {
	t.Helper()

	clock := &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	options := auth.Options{
		PasswordPolicy: testPasswordPolicy,
		ResetTokenTTL:  time.Hour,
		Logger:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		Clock:          clock.Now,
	}
	for _, apply := range configure {
		apply(&options)
	}

	store := account.NewMemoryStore()
	return &fixture{
		store:   store,
		clock:   clock,
		service: auth.NewService(store, stubTokens{}, options),
	}
}

func (f *fixture) register(t *testing.T, email, password string) *account.Account {
	t.Helper()
	username := strings.SplitN(email, "@", 2)[0] + "_reader"
	acc, err := f.service.Register(context.Background(), auth.RegisterInput{
		Username: username,
		Email:    email,
		Password: password,
	})
	require.NoError(t, err)
	return acc
}

func (f *fixture) load(t *testing.T, id string) *account.Account {
	t.Helper()
	acc, err := f.store.FindByID(context.Background(), id)
	require.NoError(t, err)
	return acc
}

func (f *fixture) login(t *testing.T, email, password string) *auth.LoginResult {
	t.Helper()
	result, err := f.service.Login(context.Background(), auth.LoginInput{Email: email, Password: password})
	require.NoError(t, err)
	require.NotNil(t, result)
	return result
}

// # Registration

/*
TestService_Register covers creation and the field-level duplicate report.
*/
func TestService_Register(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.service.Register(ctx, auth.RegisterInput{
		Username: "reader",
		Email:    "Reader@Example.com",
		Password: "secret1",
	})
	require.NoError(t, err)
	assert.Equal(t, "reader@example.com", created.Email)
	assert.Equal(t, sec.RoleUser, created.Role)

	t.Run("duplicates_name_both_fields", func(t *testing.T) {
		_, err := f.service.Register(ctx, auth.RegisterInput{
			Username: "reader",
			Email:    "reader@example.com",
			Password: "secret1",
		})
		ae := apperr.As(err)
		require.NotNil(t, ae)
		assert.Equal(t, apperr.CodeValidation, ae.Code)

		var fields []string
		for _, detail := range ae.Details {
			fields = append(fields, detail.Field)
		}
		assert.ElementsMatch(t, []string{auth.FieldEmail, auth.FieldUsername}, fields)
	})

	t.Run("weak_password", func(t *testing.T) {
		_, err := f.service.Register(ctx, auth.RegisterInput{
			Username: "another",
			Email:    "another@example.com",
			Password: "123",
		})
		assert.True(t, apperr.HasCode(err, apperr.CodeValidation))
	})

	t.Run("multibyte_password_over_bcrypt_limit", func(t *testing.T) {
		_, err := f.service.Register(ctx, auth.RegisterInput{
			Username: "accented",
			Email:    "accented@example.com",
			Password: strings.Repeat("é", 40),
		})
		ae := apperr.As(err)
		require.NotNil(t, ae)
		assert.Equal(t, apperr.CodeValidation, ae.Code)
		require.Len(t, ae.Details, 1)
		assert.Equal(t, auth.FieldPassword, ae.Details[0].Field)
	})
}

// # Login

/*
TestService_Login_Scenario walks the canonical credential-rotation scenario.
*/
func TestService_Login_Scenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.register(t, "a@b.com", "secret1")

	result := f.login(t, "a@b.com", "wrong")
	assert.False(t, result.Success)
	assert.Empty(t, result.RefreshToken)
	assert.False(t, f.load(t, acc.ID).IsOnline())

	result = f.login(t, "a@b.com", "secret1")
	require.True(t, result.Success)
	assert.NotEmpty(t, result.RefreshToken)
	assert.Equal(t, "access-"+acc.ID, result.AccessToken)

	stored := f.load(t, acc.ID)
	assert.True(t, stored.IsOnline())
	assert.Equal(t, 1, stored.SessionCount())

	require.NoError(t, f.service.ChangePassword(ctx, acc.ID, "secret2"))
	assert.Zero(t, f.load(t, acc.ID).SessionCount())

	assert.False(t, f.login(t, "a@b.com", "secret1").Success)
	assert.True(t, f.login(t, "a@b.com", "secret2").Success)
}

/*
TestService_Login_GrowsByOne adds exactly one distinct token per successful login.
*/
func TestService_Login_GrowsByOne(t *testing.T) {
	f := newFixture(t)
	acc := f.register(t, "reader@example.com", "secret1")

	first := f.login(t, "reader@example.com", "secret1")
	second := f.login(t, "reader@example.com", "secret1")

	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
	assert.Equal(t, 2, f.load(t, acc.ID).SessionCount())
}

/*
TestService_Login_UnknownEmail fails softly and does not reveal that the email is unknown.
*/
func TestService_Login_UnknownEmail(t *testing.T) {
	f := newFixture(t)

	result, err := f.service.Login(context.Background(), auth.LoginInput{Email: "ghost@example.com", Password: "secret1"})
	require.NoError(t, err)
	assert.Equal(t, &auth.LoginResult{Success: false}, result)
}

/*
TestService_Login_Throttled blocks an email once its failure budget is spent and
clears the budget on success.
*/
func TestService_Login_Throttled(t *testing.T) {
	throttle := &memoryThrottle{limit: 2, failures: map[string]int{}}
	f := newFixture(t, func(options *auth.Options) { options.Throttle = throttle })
	f.register(t, "reader@example.com", "secret1")

	assert.False(t, f.login(t, "reader@example.com", "bad-one").Success)
	assert.True(t, f.login(t, "reader@example.com", "secret1").Success)
	assert.Zero(t, throttle.failures["reader@example.com"])

	f.login(t, "Reader@example.com", "bad-one")
	f.login(t, "reader@example.com", "bad-two")

	_, err := f.service.Login(context.Background(), auth.LoginInput{Email: "reader@example.com", Password: "secret1"})
	ae := apperr.As(err)
	require.NotNil(t, ae)
	assert.Equal(t, apperr.CodeRateLimited, ae.Code)
	assert.Equal(t, 30, ae.RetryAfter)
}

/*
TestService_Login_Concurrent keeps both tokens when two logins race on the same account.
*/
func TestService_Login_Concurrent(t *testing.T) {
	f := newFixture(t)
	acc := f.register(t, "reader@example.com", "secret1")

	var wg sync.WaitGroup
	tokens := make([]string, 2)
	errs := make([]error, 2)

	for index := range tokens {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			result, err := f.service.Login(context.Background(), auth.LoginInput{Email: "reader@example.com", Password: "secret1"})
			if err == nil && result.Success {
				tokens[index] = result.RefreshToken
			}
			errs[index] = err
		}(index)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	stored := f.load(t, acc.ID)
	policy := account.SessionPolicy{}
	assert.Equal(t, 2, stored.SessionCount())
	for _, token := range tokens {
		assert.True(t, stored.HasSession(sec.HashToken(token), time.Now(), policy))
	}
}

/*
TestService_Login_RetriesOnConflict re-reads and re-applies the login after a
competing write, so neither token is lost.
*/
func TestService_Login_RetriesOnConflict(t *testing.T) {
	memory := account.NewMemoryStore()
	clock := &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	options := auth.Options{PasswordPolicy: testPasswordPolicy, Clock: clock.Now, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	seed := auth.NewService(memory, stubTokens{}, options)
	acc, err := seed.Register(context.Background(), auth.RegisterInput{Username: "reader", Email: "reader@example.com", Password: "secret1"})
	require.NoError(t, err)

	var competing *auth.LoginResult
	store := &racingStore{MemoryStore: memory}
	store.compete = func() {
		var err error
		competing, err = seed.Login(context.Background(), auth.LoginInput{Email: "reader@example.com", Password: "secret1"})
		require.NoError(t, err)
	}

	result, err := auth.NewService(store, stubTokens{}, options).Login(context.Background(), auth.LoginInput{
		Email:    "reader@example.com",
		Password: "secret1",
	})
	require.NoError(t, err)
	require.True(t, result.Success)
	require.True(t, competing.Success)

	stored, err := memory.FindByID(context.Background(), acc.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.SessionCount())
	assert.True(t, stored.HasSession(sec.HashToken(result.RefreshToken), clock.Now(), account.SessionPolicy{}))
	assert.True(t, stored.HasSession(sec.HashToken(competing.RefreshToken), clock.Now(), account.SessionPolicy{}))
	assert.True(t, stored.IsOnline())
}

/*
TestService_Login_PasswordChangedMidLogin rejects a login whose password was
replaced between the lookup and the session commit.
*/
func TestService_Login_PasswordChangedMidLogin(t *testing.T) {
	memory := account.NewMemoryStore()
	clock := &testClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	options := auth.Options{PasswordPolicy: testPasswordPolicy, Clock: clock.Now, Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	seed := auth.NewService(memory, stubTokens{}, options)
	acc, err := seed.Register(context.Background(), auth.RegisterInput{Username: "reader", Email: "reader@example.com", Password: "secret1"})
	require.NoError(t, err)

	store := &racingStore{MemoryStore: memory}
	store.compete = func() {
		require.NoError(t, seed.ChangePassword(context.Background(), acc.ID, "secret2"))
	}

	result, err := auth.NewService(store, stubTokens{}, options).Login(context.Background(), auth.LoginInput{
		Email:    "reader@example.com",
		Password: "secret1",
	})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Empty(t, result.RefreshToken)

	stored, err := memory.FindByID(context.Background(), acc.ID)
	require.NoError(t, err)
	assert.Zero(t, stored.SessionCount())
	assert.False(t, stored.IsOnline())
	assert.True(t, stored.VerifyPassword("secret2"))
	assert.False(t, stored.VerifyPassword("secret1"))
}

/*
TestService_Login_SessionCap evicts the oldest session when the cap is reached.
*/
func TestService_Login_SessionCap(t *testing.T) {
	f := newFixture(t, func(options *auth.Options) {
		options.SessionPolicy = account.SessionPolicy{MaxSessions: 2}
	})
	acc := f.register(t, "reader@example.com", "secret1")

	first := f.login(t, "reader@example.com", "secret1")
	f.clock.Advance(time.Minute)
	f.login(t, "reader@example.com", "secret1")
	f.clock.Advance(time.Minute)
	f.login(t, "reader@example.com", "secret1")

	stored := f.load(t, acc.ID)
	assert.Equal(t, 2, stored.SessionCount())
	assert.False(t, stored.HasSession(sec.HashToken(first.RefreshToken), f.clock.Now(), account.SessionPolicy{}))
}

// # Sessions

/*
TestService_Refresh rotates the token and rejects the old one afterwards.
*/
func TestService_Refresh(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.register(t, "reader@example.com", "secret1")
	login := f.login(t, "reader@example.com", "secret1")

	rotated, err := f.service.Refresh(ctx, login.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, login.RefreshToken, rotated.RefreshToken)
	assert.Equal(t, 1, f.load(t, acc.ID).SessionCount())

	_, err = f.service.Refresh(ctx, login.RefreshToken)
	assert.True(t, apperr.HasCode(err, apperr.CodeUnauthorized))

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"no_separator", "garbage"},
		{"not_a_uuid", "abc.def"},
		{"unknown_account", "0190a6a8-0000-7000-8000-000000000000.secret"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.service.Refresh(ctx, tt.token)
			assert.True(t, apperr.HasCode(err, apperr.CodeUnauthorized))
		})
	}
}

/*
TestService_Refresh_Expired rejects tokens older than the session TTL.
*/
func TestService_Refresh_Expired(t *testing.T) {
	f := newFixture(t, func(options *auth.Options) {
		options.SessionPolicy = account.SessionPolicy{TokenTTL: time.Hour}
	})
	f.register(t, "reader@example.com", "secret1")
	login := f.login(t, "reader@example.com", "secret1")
	assert.Equal(t, f.clock.Now().Add(time.Hour), login.RefreshTokenExpiresAt)

	f.clock.Advance(time.Hour)
	_, err := f.service.Refresh(context.Background(), login.RefreshToken)
	assert.True(t, apperr.HasCode(err, apperr.CodeUnauthorized))
}

/*
TestService_Logout revokes the presented token, goes offline and is idempotent.
*/
func TestService_Logout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.register(t, "reader@example.com", "secret1")
	kept := f.login(t, "reader@example.com", "secret1")
	ended := f.login(t, "reader@example.com", "secret1")

	require.NoError(t, f.service.Logout(ctx, acc.ID, ended.RefreshToken))
	require.NoError(t, f.service.Logout(ctx, acc.ID, ended.RefreshToken))

	stored := f.load(t, acc.ID)
	assert.False(t, stored.IsOnline())
	assert.Equal(t, 1, stored.SessionCount())
	assert.True(t, stored.HasSession(sec.HashToken(kept.RefreshToken), f.clock.Now(), account.SessionPolicy{}))

	err := f.service.Logout(ctx, "0190a6a8-0000-7000-8000-000000000000", "")
	assert.True(t, apperr.HasCode(err, apperr.CodeNotFound))
}

/*
TestService_SetPresence flips the flag without touching sessions.
*/
func TestService_SetPresence(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.register(t, "reader@example.com", "secret1")

	require.NoError(t, f.service.SetPresence(ctx, acc.ID, true))
	assert.True(t, f.load(t, acc.ID).IsOnline())

	require.NoError(t, f.service.SetPresence(ctx, acc.ID, false))
	assert.False(t, f.load(t, acc.ID).IsOnline())
}

// # Password Management

/*
TestService_ChangePassword empties the session set regardless of its size.
*/
func TestService_ChangePassword(t *testing.T) {
	for _, sessions := range []int{0, 1, 5} {
		f := newFixture(t)
		acc := f.register(t, "reader@example.com", "secret1")
		for i := 0; i < sessions; i++ {
			f.login(t, "reader@example.com", "secret1")
		}

		require.NoError(t, f.service.ChangePassword(context.Background(), acc.ID, "secret2"))

		stored := f.load(t, acc.ID)
		assert.Zero(t, stored.SessionCount())
		assert.True(t, stored.VerifyPassword("secret2"))
	}
}

/*
TestService_ChangePassword_Failures reports every failure instead of claiming success.
*/
func TestService_ChangePassword_Failures(t *testing.T) {
	f := newFixture(t)
	acc := f.register(t, "reader@example.com", "secret1")

	t.Run("weak_password", func(t *testing.T) {
		err := f.service.ChangePassword(context.Background(), acc.ID, "123")
		assert.True(t, apperr.HasCode(err, apperr.CodeValidation))
	})

	t.Run("persistence_failure", func(t *testing.T) {
		broken := auth.NewService(failingStore{f.store}, stubTokens{}, auth.Options{PasswordPolicy: testPasswordPolicy})
		err := broken.ChangePassword(context.Background(), acc.ID, "secret2")

		ae := apperr.As(err)
		require.NotNil(t, ae)
		assert.Equal(t, apperr.CodeInternal, ae.Code)
		assert.True(t, f.load(t, acc.ID).VerifyPassword("secret1"))
	})
}

/*
TestService_ChangeOwnPassword requires the current password.
*/
func TestService_ChangeOwnPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.register(t, "reader@example.com", "secret1")
	f.login(t, "reader@example.com", "secret1")

	err := f.service.ChangeOwnPassword(ctx, acc.ID, "wrong", "secret2")
	assert.True(t, apperr.HasCode(err, apperr.CodeUnauthorized))
	assert.Equal(t, 1, f.load(t, acc.ID).SessionCount())

	require.NoError(t, f.service.ChangeOwnPassword(ctx, acc.ID, "secret1", "secret2"))
	assert.Zero(t, f.load(t, acc.ID).SessionCount())
}

// # Password Recovery

/*
TestService_PasswordReset consumes a valid ticket exactly once.
*/
func TestService_PasswordReset(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.register(t, "reader@example.com", "secret1")
	f.login(t, "reader@example.com", "secret1")

	ticket, err := f.service.RequestPasswordReset(ctx, " Reader@Example.com ")
	require.NoError(t, err)
	require.NotEmpty(t, ticket.Token)
	assert.Equal(t, f.clock.Now().Add(time.Hour), ticket.ExpiresAt)

	stored := f.load(t, acc.ID)
	assert.Equal(t, sec.HashToken(ticket.Token), stored.ResetTokenHash())

	f.clock.Advance(59 * time.Minute)
	require.NoError(t, f.service.ConsumeReset(ctx, ticket.Token, "secret2"))

	stored = f.load(t, acc.ID)
	assert.Zero(t, stored.SessionCount())
	assert.Empty(t, stored.ResetTokenHash())
	assert.True(t, stored.VerifyPassword("secret2"))

	err = f.service.ConsumeReset(ctx, ticket.Token, "secret3")
	assert.True(t, apperr.HasCode(err, apperr.CodeResetTokenInvalid))
}

/*
TestService_ConsumeReset_Expired fails at the expiry instant and leaves the hash alone.
*/
func TestService_ConsumeReset_Expired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	acc := f.register(t, "reader@example.com", "secret1")
	before := f.load(t, acc.ID).PasswordHash()

	ticket, err := f.service.RequestPasswordReset(ctx, "reader@example.com")
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	err = f.service.ConsumeReset(ctx, ticket.Token, "secret2")
	assert.True(t, apperr.HasCode(err, apperr.CodeResetTokenInvalid))

	stored := f.load(t, acc.ID)
	assert.Equal(t, before, stored.PasswordHash())
	assert.True(t, stored.VerifyPassword("secret1"))
}

/*
TestService_ConsumeReset_Invalid rejects unknown tokens distinctly from login failures.
*/
func TestService_ConsumeReset_Invalid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.register(t, "reader@example.com", "secret1")

	assert.True(t, apperr.HasCode(f.service.ConsumeReset(ctx, "", "secret2"), apperr.CodeResetTokenInvalid))
	assert.True(t, apperr.HasCode(f.service.ConsumeReset(ctx, "unknown", "secret2"), apperr.CodeResetTokenInvalid))
}

/*
TestService_RequestPasswordReset_UnknownEmail returns an empty ticket and no error.
*/
func TestService_RequestPasswordReset_UnknownEmail(t *testing.T) {
	f := newFixture(t)

	ticket, err := f.service.RequestPasswordReset(context.Background(), "ghost@example.com")
	require.NoError(t, err)
	assert.Empty(t, ticket.Token)
}

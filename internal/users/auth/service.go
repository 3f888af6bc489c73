// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

/*
Package auth implements the login handshake, presence tracking and the password
change and reset flows on top of [account.Store].

Architecture:

  - Service: Orchestrates the use cases (Register, Login, Logout, Refresh,
    SetPresence, ChangePassword, RequestPasswordReset, ConsumeReset).
  - Concurrency: Every mutation is one read-modify-write of a single account,
    committed with a compare-and-swap on its version and retried on conflict.
  - Security: bcrypt password hashes, SHA-256 digests of refresh and reset
    tokens, RS256 access tokens and an optional Redis login throttle.

Expected failures are typed: a wrong email/password pair is a [LoginResult] with
Success=false, never an error.
*/
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/taibuivan/mangashelf/internal/platform/apperr"
	"github.com/taibuivan/mangashelf/internal/platform/sec"
	"github.com/taibuivan/mangashelf/internal/users/account"
	"github.com/taibuivan/mangashelf/pkg/uuid"
)

// # Contracts & Types

// TokenProvider defines the contract for generating access tokens.
type TokenProvider interface {
	// GenerateAccessToken creates a signed JWT string for the given account.
	GenerateAccessToken(userID, username, role string, timeToLive time.Duration) (string, error)
}

// Options carries the tunable policies of a [Service]. Zero values fall back to
// the defaults the platform has always used.
type Options struct {
	PasswordPolicy account.PasswordPolicy
	SessionPolicy  account.SessionPolicy
	ResetTokenTTL  time.Duration

	// Throttle limits failed logins per email. Nil disables throttling.
	Throttle LoginThrottle

	Logger *slog.Logger

	// Clock is used for session issue times and reset expiry. Defaults to time.Now.
	Clock func() time.Time
}

// Service implements account authentication use cases.
type Service struct {
	store          account.Store
	tokenProvider  TokenProvider
	throttle       LoginThrottle
	passwordPolicy account.PasswordPolicy
	sessionPolicy  account.SessionPolicy
	resetTokenTTL  time.Duration
	logger         *slog.Logger
	clock          func() time.Time
}

// NewService constructs a new [Service] with necessary dependencies.
func NewService(store account.Store, tokenProvider TokenProvider, options Options) *Service {
	service := &Service{
		store:          store,
		tokenProvider:  tokenProvider,
		throttle:       options.Throttle,
		passwordPolicy: options.PasswordPolicy,
		sessionPolicy:  options.SessionPolicy,
		resetTokenTTL:  options.ResetTokenTTL,
		logger:         options.Logger,
		clock:          options.Clock,
	}

	if service.passwordPolicy == (account.PasswordPolicy{}) {
		service.passwordPolicy = account.DefaultPasswordPolicy()
	}
	if service.resetTokenTTL <= 0 {
		service.resetTokenTTL = DefaultResetTokenTTL
	}
	if service.logger == nil {
		service.logger = slog.Default()
	}
	if service.clock == nil {
		service.clock = time.Now
	}

	// Build the unknown-email dummy hash now so the first miss is not faster
	sec.DummyHash(service.passwordPolicy.HashCost)

	return service
}

// # Registration Flow

// RegisterInput holds the data required to enroll a new member.
type RegisterInput struct {
	Username string
	Email    string
	Password string
	Role     string
}

/*
Register validates, hashes, and persists a brand new account.

Description: Field rules and the password policy are checked first; username and
email uniqueness are then pre-checked together so the caller learns about both.
The store's unique indexes remain the authority when two registrations race.

Parameters:
  - context: context.Context
  - input: RegisterInput

Returns:
  - *account.Account: Created entity
  - error: VALIDATION_ERROR naming every offending field, or INTERNAL_ERROR
*/
func (service *Service) Register(context context.Context, input RegisterInput) (*account.Account, error) {
	created, err := account.NewAccount(account.NewAccountInput{
		Username: input.Username,
		Email:    input.Email,
		Password: input.Password,
		Role:     input.Role,
	}, service.passwordPolicy)
	if err != nil {
		return nil, err
	}

	var taken []apperr.FieldError

	if _, err := service.store.FindByEmail(context, created.Email); err == nil {
		taken = append(taken, apperr.FieldError{Field: FieldEmail, Message: "Is already taken"})
	} else if !errors.Is(err, account.ErrNotFound) {
		return nil, storeFailure(err, "auth_service_register_lookup_failed")
	}

	if _, err := service.store.FindByUsername(context, created.Username); err == nil {
		taken = append(taken, apperr.FieldError{Field: FieldUsername, Message: "Is already taken"})
	} else if !errors.Is(err, account.ErrNotFound) {
		return nil, storeFailure(err, "auth_service_register_lookup_failed")
	}

	if len(taken) > 0 {
		return nil, apperr.ValidationError("Validation failed", taken...)
	}

	if err := service.store.Create(context, created); err != nil {
		return nil, storeFailure(err, "auth_service_register_failed")
	}

	service.logger.InfoContext(context, "auth_account_registered",
		slog.String("account_id", created.ID),
		slog.String("role", string(created.Role)),
	)

	return created, nil
}

// # Authentication Flow

// LoginInput defines credentials for an authentication attempt.
type LoginInput struct {
	Email     string
	Password  string
	UserAgent string
	IPAddress string
}

// LoginResult is the typed outcome of a login or refresh. When Success is false
// every other field is empty.
type LoginResult struct {
	Success      bool
	AccessToken  string
	RefreshToken string

	// RefreshTokenExpiresAt is zero when sessions never expire.
	RefreshTokenExpiresAt time.Time

	Account *account.Account
}

/*
Login validates credentials and opens a new session.

Description: Unknown emails and wrong passwords are indistinguishable to the
caller and cost the same bcrypt comparison. On success the new refresh-token
digest and the ONLINE flag are committed in the same update, so no reader can
observe one without the other. Concurrent logins each retry on version conflict
until both tokens are in the set.

Parameters:
  - context: context.Context
  - input: LoginInput

Returns:
  - *LoginResult: Success=false on wrong credentials
  - error: RATE_LIMITED when throttled, or INTERNAL_ERROR
*/
func (service *Service) Login(context context.Context, input LoginInput) (*LoginResult, error) {
	email := account.NormalizeEmail(input.Email)

	if retryAfter := service.checkThrottle(context, email); retryAfter > 0 {
		return nil, apperr.RateLimited(int((retryAfter + time.Second - 1) / time.Second))
	}

	found, err := service.store.FindByEmail(context, email)
	if err != nil {
		if !errors.Is(err, account.ErrNotFound) {
			return nil, storeFailure(err, "auth_service_login_lookup_failed")
		}

		// Spend the same bcrypt time as a real comparison
		service.passwordPolicy.Burn(input.Password)
		return service.loginFailed(context, email), nil
	}

	refreshToken, tokenHash, err := mintRefreshToken(found.ID)
	if err != nil {
		return nil, err
	}

	// The password is checked against the same version the session is committed to
	now := service.clock()
	updated, err := service.mutate(context, found.ID, found, "auth_service_login_failed", func(current *account.Account) error {
		if !current.VerifyPassword(input.Password) {
			return errInvalidCredentials
		}
		current.AddSession(tokenHash, now, service.sessionPolicy)
		current.SetOnline(true)
		return nil
	})
	if errors.Is(err, errInvalidCredentials) {
		return service.loginFailed(context, email), nil
	}
	if err != nil {
		return nil, err
	}

	if service.throttle != nil {
		if err := service.throttle.Reset(context, email); err != nil {
			service.logger.WarnContext(context, "auth_login_throttle_reset_failed", slog.Any("error", err))
		}
	}

	service.logger.InfoContext(context, "auth_login_succeeded",
		slog.String("account_id", updated.ID),
		slog.Int("sessions", updated.SessionCount()),
		slog.String("ip", input.IPAddress),
	)

	return service.sessionResult(updated, refreshToken, now)
}

/*
Logout ends the caller's session.

Description: The presented refresh token is revoked and presence flips to
OFFLINE in one update. Revoking a token that is already gone is not an error.

Parameters:
  - context: context.Context
  - accountID: string
  - refreshToken: string (may be empty)

Returns:
  - error: NOT_FOUND or INTERNAL_ERROR
*/
func (service *Service) Logout(context context.Context, accountID, refreshToken string) error {
	tokenHash := ""
	if refreshToken != "" {
		tokenHash = sec.HashToken(refreshToken)
	}

	_, err := service.mutate(context, accountID, nil, "auth_service_logout_failed", func(current *account.Account) error {
		if tokenHash != "" {
			current.RevokeSession(tokenHash)
		}
		current.SetOnline(false)
		return nil
	})
	if err != nil {
		return err
	}

	service.logger.InfoContext(context, "auth_logout_succeeded", slog.String("account_id", accountID))
	return nil
}

// # Session Management

/*
Refresh implements refresh-token rotation.

Description: The presented token must be a live session of its account. It is
swapped for a freshly minted one in a single update, so a replayed token is
rejected the second time.

Parameters:
  - context: context.Context
  - refreshToken: string

Returns:
  - *LoginResult: New credentials
  - error: UNAUTHORIZED for unknown, revoked or expired tokens, or INTERNAL_ERROR
*/
func (service *Service) Refresh(context context.Context, refreshToken string) (*LoginResult, error) {
	invalid := apperr.Unauthorized("Invalid or expired refresh token")

	accountID, ok := parseRefreshToken(refreshToken)
	if !ok {
		return nil, invalid
	}

	nextToken, nextHash, err := mintRefreshToken(accountID)
	if err != nil {
		return nil, err
	}

	presentedHash := sec.HashToken(refreshToken)
	now := service.clock()

	updated, err := service.mutate(context, accountID, nil, "auth_service_refresh_failed", func(current *account.Account) error {
		if !current.HasSession(presentedHash, now, service.sessionPolicy) {
			return invalid
		}
		current.RevokeSession(presentedHash)
		current.AddSession(nextHash, now, service.sessionPolicy)
		return nil
	})
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return nil, invalid
		}
		return nil, err
	}

	return service.sessionResult(updated, nextToken, now)
}

/*
SetPresence records whether the account is currently online.

Parameters:
  - context: context.Context
  - accountID: string
  - online: bool

Returns:
  - error: NOT_FOUND or INTERNAL_ERROR
*/
func (service *Service) SetPresence(context context.Context, accountID string, online bool) error {
	_, err := service.mutate(context, accountID, nil, "auth_service_set_presence_failed", func(current *account.Account) error {
		current.SetOnline(online)
		return nil
	})
	return err
}

// # Password Management

/*
ChangePassword rotates the credential and revokes every session.

Description: The new hash, the emptied session set and the cleared reset ticket
are committed together. A failed write is reported; it never looks like success.

Parameters:
  - context: context.Context
  - accountID: string
  - newPassword: string

Returns:
  - error: VALIDATION_ERROR, NOT_FOUND or INTERNAL_ERROR
*/
func (service *Service) ChangePassword(context context.Context, accountID, newPassword string) error {
	if err := service.passwordPolicy.Validate(FieldPassword, newPassword); err != nil {
		return err
	}

	_, err := service.mutate(context, accountID, nil, "auth_service_change_password_failed", func(current *account.Account) error {
		return service.rotatePassword(current, newPassword)
	})
	if err != nil {
		return err
	}

	service.logger.InfoContext(context, "auth_password_changed", slog.String("account_id", accountID))
	return nil
}

/*
ChangeOwnPassword is the self-service variant of [Service.ChangePassword]: the
caller must prove knowledge of the current password first.

Parameters:
  - context: context.Context
  - accountID: string
  - currentPassword: string
  - newPassword: string

Returns:
  - error: UNAUTHORIZED, VALIDATION_ERROR, NOT_FOUND or INTERNAL_ERROR
*/
func (service *Service) ChangeOwnPassword(context context.Context, accountID, currentPassword, newPassword string) error {
	if err := service.passwordPolicy.Validate(FieldNewPassword, newPassword); err != nil {
		return err
	}

	_, err := service.mutate(context, accountID, nil, "auth_service_change_password_failed", func(current *account.Account) error {
		if !current.VerifyPassword(currentPassword) {
			return apperr.Unauthorized("Current password is incorrect")
		}
		return service.rotatePassword(current, newPassword)
	})
	if err != nil {
		return err
	}

	service.logger.InfoContext(context, "auth_password_changed", slog.String("account_id", accountID))
	return nil
}

// # Password Recovery

// ResetTicket is the plaintext reset token handed to the delivery channel. An
// empty Token means no account matched; callers must answer identically.
type ResetTicket struct {
	Token     string
	ExpiresAt time.Time
}

/*
RequestPasswordReset issues a time-bounded reset token.

Description: Only the digest is stored, with an absolute expiry. A later request
replaces an earlier ticket. Unknown emails yield an empty ticket and no error so
the endpoint cannot be used to enumerate accounts.

Parameters:
  - context: context.Context
  - email: string

Returns:
  - *ResetTicket: Plaintext token and its expiry
  - error: INTERNAL_ERROR
*/
func (service *Service) RequestPasswordReset(context context.Context, email string) (*ResetTicket, error) {
	found, err := service.store.FindByEmail(context, account.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return &ResetTicket{}, nil
		}
		return nil, storeFailure(err, "auth_service_reset_lookup_failed")
	}

	token, err := sec.GenerateSecureToken(ResetTokenLength)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("auth_service_generate_reset_token_failed: %w", err))
	}

	expiresAt := service.clock().Add(service.resetTokenTTL).UTC()
	tokenHash := sec.HashToken(token)

	_, err = service.mutate(context, found.ID, found, "auth_service_save_reset_token_failed", func(current *account.Account) error {
		current.SetResetToken(tokenHash, expiresAt)
		return nil
	})
	if err != nil {
		return nil, err
	}

	service.logger.InfoContext(context, "auth_password_reset_requested",
		slog.String("account_id", found.ID),
		slog.Time("expires_at", expiresAt),
	)

	return &ResetTicket{Token: token, ExpiresAt: expiresAt}, nil
}

/*
ConsumeReset completes the forgot-password flow.

Description: The token must match the stored digest and the current time must be
strictly before its expiry. The password is then rotated exactly like
[Service.ChangePassword], which also clears the ticket. A rejected token leaves
the account untouched.

Parameters:
  - context: context.Context
  - token: string
  - newPassword: string

Returns:
  - error: RESET_TOKEN_INVALID, VALIDATION_ERROR or INTERNAL_ERROR
*/
func (service *Service) ConsumeReset(context context.Context, token, newPassword string) error {
	if token == "" {
		return apperr.ResetTokenInvalid()
	}
	if err := service.passwordPolicy.Validate(FieldPassword, newPassword); err != nil {
		return err
	}

	tokenHash := sec.HashToken(token)
	found, err := service.store.FindByResetToken(context, tokenHash)
	if err != nil {
		if errors.Is(err, account.ErrNotFound) {
			return apperr.ResetTokenInvalid()
		}
		return storeFailure(err, "auth_service_reset_lookup_failed")
	}

	now := service.clock()
	_, err = service.mutate(context, found.ID, found, "auth_service_consume_reset_failed", func(current *account.Account) error {
		if !current.ResetTokenValid(tokenHash, now) {
			return apperr.ResetTokenInvalid()
		}
		return service.rotatePassword(current, newPassword)
	})
	if err != nil {
		return err
	}

	service.logger.InfoContext(context, "auth_password_reset_completed", slog.String("account_id", found.ID))
	return nil
}

// # Internal Helpers

// rotatePassword is the shared credential rotation: new hash, no sessions, no ticket.
func (service *Service) rotatePassword(current *account.Account, newPassword string) error {
	if err := current.SetPassword(newPassword, service.passwordPolicy); err != nil {
		return err
	}
	current.RevokeAllSessions()
	current.ClearResetToken()
	return nil
}

/*
mutate runs one read-modify-write on an account.

Description: apply is run against a fresh copy and the result is written with a
compare-and-swap on the version. On a version conflict the whole unit is repeated
against a re-read account with jittered exponential backoff. Errors returned by
apply abort without writing. snapshot, when not nil, saves the first read.

Parameters:
  - parent: context.Context
  - accountID: string
  - snapshot: *account.Account (optional)
  - action: string (error context)
  - apply: func(*account.Account) error

Returns:
  - *account.Account: The committed state
  - error: Whatever apply returned, NOT_FOUND, CONFLICT after exhausting retries, or INTERNAL_ERROR
*/
func (service *Service) mutate(
	parent context.Context,
	accountID string,
	snapshot *account.Account,
	action string,
	apply func(*account.Account) error,
) (*account.Account, error) {
	backoff := retry.WithMaxRetries(maxMutationAttempts-1,
		retry.WithJitterPercent(25, retry.NewExponential(mutationBackoffBase)))

	var committed *account.Account
	attempts := 0

	err := retry.Do(parent, backoff, func(context context.Context) error {
		attempts++

		current := snapshot
		snapshot = nil
		if current == nil {
			loaded, err := service.store.FindByID(context, accountID)
			if err != nil {
				return err
			}
			current = loaded
		}

		if err := apply(current); err != nil {
			return err
		}

		if err := service.store.Update(context, current); err != nil {
			if errors.Is(err, account.ErrVersionConflict) {
				return retry.RetryableError(err)
			}
			return err
		}

		committed = current
		return nil
	})
	if err != nil {
		if errors.Is(err, account.ErrVersionConflict) {
			service.logger.WarnContext(parent, "auth_account_update_contended",
				slog.String("account_id", accountID),
				slog.Int("attempts", attempts),
			)
		}
		return nil, storeFailure(err, action)
	}

	return committed, nil
}

// sessionResult signs an access token for a freshly committed session.
func (service *Service) sessionResult(committed *account.Account, refreshToken string, issuedAt time.Time) (*LoginResult, error) {
	accessToken, err := service.tokenProvider.GenerateAccessToken(
		committed.ID, committed.Username, string(committed.Role), AccessTokenTTL,
	)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("auth_service_token_generation_failed: %w", err))
	}

	result := &LoginResult{
		Success:      true,
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		Account:      committed,
	}
	if service.sessionPolicy.TokenTTL > 0 {
		result.RefreshTokenExpiresAt = issuedAt.Add(service.sessionPolicy.TokenTTL)
	}

	return result, nil
}

// checkThrottle returns a positive retry-after when email is blocked. Throttle
// outages fail open: a Redis hiccup must not lock every reader out.
func (service *Service) checkThrottle(context context.Context, email string) time.Duration {
	if service.throttle == nil {
		return 0
	}

	retryAfter, err := service.throttle.Check(context, email)
	if err != nil {
		service.logger.WarnContext(context, "auth_login_throttle_unavailable", slog.Any("error", err))
		return 0
	}
	return retryAfter
}

// loginFailed records the failure and returns the typed negative result.
func (service *Service) loginFailed(context context.Context, email string) *LoginResult {
	if service.throttle != nil {
		if err := service.throttle.Fail(context, email); err != nil {
			service.logger.WarnContext(context, "auth_login_throttle_record_failed", slog.Any("error", err))
		}
	}

	service.logger.InfoContext(context, "auth_login_rejected")
	return &LoginResult{Success: false}
}

// mintRefreshToken returns "<accountID>.<secret>" and its stored digest.
func mintRefreshToken(accountID string) (token, tokenHash string, err error) {
	secret, err := sec.GenerateSecureToken(RefreshTokenLength)
	if err != nil {
		return "", "", apperr.Internal(fmt.Errorf("auth_service_refresh_token_failed: %w", err))
	}

	token = accountID + refreshTokenSeparator + secret
	return token, sec.HashToken(token), nil
}

// parseRefreshToken extracts the owning account ID from a refresh token.
func parseRefreshToken(token string) (accountID string, ok bool) {
	accountID, secret, found := strings.Cut(token, refreshTokenSeparator)
	if !found || secret == "" || !uuid.IsValid(accountID) {
		return "", false
	}
	return accountID, true
}

// storeFailure passes typed errors through and hides everything else behind a
// generic INTERNAL_ERROR that keeps the cause for logging.
func storeFailure(err error, action string) error {
	if apperr.IsAppError(err) {
		return err
	}
	return apperr.Internal(fmt.Errorf("%s: %w", action, err))
}

// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package auth

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/taibuivan/mangashelf/internal/platform/apperr"
	"github.com/taibuivan/mangashelf/internal/platform/constants"
	"github.com/taibuivan/mangashelf/internal/platform/middleware"
	requestutil "github.com/taibuivan/mangashelf/internal/platform/request"
	"github.com/taibuivan/mangashelf/internal/platform/respond"
	"github.com/taibuivan/mangashelf/internal/platform/sec"
	"github.com/taibuivan/mangashelf/internal/platform/validate"
)

// # Definitions & Constructors

// Handler implements authentication-related HTTP endpoints.
//
// # Scope
//
// This handler manages the account lifecycle entry points (Registration, Login,
// Refresh, Logout, Presence, Password change and reset).
type Handler struct {
	authService *Service
}

// NewHandler constructs a new [Handler] with its service dependency.
func NewHandler(service *Service) *Handler {
	return &Handler{authService: service}
}

// Routes returns a [chi.Router] configured with authentication-specific routes.
//
// # Endpoints
//   - POST /register        : Creates a new User account.
//   - POST /login           : Authenticates and returns a JWT plus refresh cookie.
//   - POST /refresh         : Rotates the refresh token.
//   - POST /forgot-password : Issues a reset ticket.
//   - POST /reset-password  : Consumes a reset ticket.
//   - POST /logout          : Ends the session (auth).
//   - POST /change-password : Rotates the password (auth).
//   - PUT  /presence        : Sets the online flag (auth).
//   - POST /accounts        : Creates an account with any role (admin).
func (handler *Handler) Routes() chi.Router {
	router := chi.NewRouter()

	// Public endpoints
	router.Post("/register", handler.register)
	router.Post("/login", handler.login)
	router.Post("/refresh", handler.refresh)
	router.Post("/forgot-password", handler.forgotPassword)
	router.Post("/reset-password", handler.resetPassword)

	// Protected endpoints
	router.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth)
		r.Post("/logout", handler.logout)
		r.Post("/change-password", handler.changePassword)
		r.Put("/presence", handler.setPresence)
	})

	// Administrative endpoints
	router.Group(func(r chi.Router) {
		r.Use(middleware.RequireRole(sec.RoleAdmin))
		r.Post("/accounts", handler.createAccount)
	})

	return router
}

// # Request Payloads

// registerRequest carries no role: self-registration always yields a User.
type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type createAccountRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

type resetPasswordRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"current_password"`
	NewPassword     string `json:"new_password"`
}

type presenceRequest struct {
	Online *bool `json:"online"`
}

/*
Register handles the creation of a new account.

POST /api/v1/auth/register

Request:
  - Body: registerRequest (Username, Email, Password)

Response:
  - 201: Profile: Created account
  - 400: VALIDATION_ERROR: Bad input, weak password or duplicate username/email
*/
func (handler *Handler) register(writer http.ResponseWriter, request *http.Request) {
	var input registerRequest

	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, validate.ErrInvalidJSON)
		return
	}

	created, err := handler.authService.Register(request.Context(), RegisterInput{
		Username: input.Username,
		Email:    input.Email,
		Password: input.Password,
	})
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.Created(writer, created.Profile())
}

/*
CreateAccount enrolls an account on behalf of an administrator.

POST /api/v1/auth/accounts

Request:
  - Body: createAccountRequest (Username, Email, Password, Role)

Response:
  - 201: Profile: Created account
  - 400: VALIDATION_ERROR: Bad input, unknown role or duplicate username/email
  - 401: UNAUTHORIZED: No access token
  - 403: FORBIDDEN: Caller is not an administrator
*/
func (handler *Handler) createAccount(writer http.ResponseWriter, request *http.Request) {
	var input createAccountRequest

	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, validate.ErrInvalidJSON)
		return
	}

	created, err := handler.authService.Register(request.Context(), RegisterInput{
		Username: input.Username,
		Email:    input.Email,
		Password: input.Password,
		Role:     input.Role,
	})
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.Created(writer, created.Profile())
}

/*
Login authenticates an account and establishes a session.

POST /api/v1/auth/login

Request:
  - Body: loginRequest (Email, Password)

Response:
  - 200: Access token and Profile, refresh token in an HttpOnly cookie
  - 401: UNAUTHORIZED: Invalid credentials
  - 429: RATE_LIMITED: Too many failed attempts for this email
*/
func (handler *Handler) login(writer http.ResponseWriter, request *http.Request) {
	var input loginRequest

	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, validate.ErrInvalidJSON)
		return
	}

	validator := &validate.Validator{}
	validator.Required(FieldEmail, input.Email).
		Required(FieldPassword, input.Password)

	if err := validator.Err(); err != nil {
		respond.Error(writer, request, err)
		return
	}

	result, err := handler.authService.Login(request.Context(), LoginInput{
		Email:     input.Email,
		Password:  input.Password,
		UserAgent: request.UserAgent(),
		IPAddress: middleware.RealIP(request),
	})
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	if !result.Success {
		respond.Error(writer, request, apperr.Unauthorized("Invalid login credentials"))
		return
	}

	setRefreshCookie(writer, result.RefreshToken, result.RefreshTokenExpiresAt)
	respond.OK(writer, sessionPayload(result))
}

/*
Refresh issues a new access token using a valid refresh token.

POST /api/v1/auth/refresh

Response:
  - 200: New access token credentials and a rotated refresh cookie
  - 401: UNAUTHORIZED: Missing, revoked or expired refresh token
*/
func (handler *Handler) refresh(writer http.ResponseWriter, request *http.Request) {
	cookie, err := request.Cookie(constants.RefreshTokenCookieName)
	if err != nil || cookie.Value == "" {
		respond.Error(writer, request, apperr.Unauthorized("Missing refresh token in cookies"))
		return
	}

	result, err := handler.authService.Refresh(request.Context(), cookie.Value)
	if err != nil {
		clearRefreshCookie(writer)
		respond.Error(writer, request, err)
		return
	}

	setRefreshCookie(writer, result.RefreshToken, result.RefreshTokenExpiresAt)
	respond.OK(writer, sessionPayload(result))
}

/*
Logout terminates the current session.

POST /api/v1/auth/logout

Description: Revokes the refresh token from the cookie (if present), marks the
account offline and clears the cookie.

Response:
  - 204: No Content: Session terminated
*/
func (handler *Handler) logout(writer http.ResponseWriter, request *http.Request) {
	accountID, err := requestutil.RequiredUserID(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	refreshToken := ""
	if cookie, err := request.Cookie(constants.RefreshTokenCookieName); err == nil {
		refreshToken = cookie.Value
	}

	if err := handler.authService.Logout(request.Context(), accountID, refreshToken); err != nil {
		respond.Error(writer, request, err)
		return
	}

	clearRefreshCookie(writer)
	respond.NoContent(writer)
}

/*
SetPresence updates the authenticated account's online flag.

PUT /api/v1/auth/presence

Request:
  - Body: presenceRequest (Online)

Response:
  - 204: No Content: Presence recorded
  - 400: VALIDATION_ERROR: Missing flag
*/
func (handler *Handler) setPresence(writer http.ResponseWriter, request *http.Request) {
	accountID, err := requestutil.RequiredUserID(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	var input presenceRequest
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, validate.ErrInvalidJSON)
		return
	}

	if input.Online == nil {
		respond.Error(writer, request, validate.RequiredError(FieldOnline, "This field is required"))
		return
	}

	if err := handler.authService.SetPresence(request.Context(), accountID, *input.Online); err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.NoContent(writer)
}

/*
ForgotPassword initiates the password recovery flow.

POST /api/v1/auth/forgot-password

Description: Issues a reset ticket when the email is registered. The response is
identical either way.

Request:
  - Body: forgotPasswordRequest (Email)

Response:
  - 200: Generic message
  - 400: VALIDATION_ERROR: Invalid email format
*/
func (handler *Handler) forgotPassword(writer http.ResponseWriter, request *http.Request) {
	var input forgotPasswordRequest

	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, validate.ErrInvalidJSON)
		return
	}

	validator := &validate.Validator{}
	validator.Required(FieldEmail, input.Email).Email(FieldEmail, input.Email)

	if err := validator.Err(); err != nil {
		respond.Error(writer, request, err)
		return
	}

	if _, err := handler.authService.RequestPasswordReset(request.Context(), input.Email); err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, map[string]string{
		FieldMessage: "If this email is registered, a reset link has been sent.",
	})
}

/*
ResetPassword completes the password recovery flow.

POST /api/v1/auth/reset-password

Request:
  - Body: resetPasswordRequest (Token, Password)

Response:
  - 200: Password updated, every session revoked
  - 400: RESET_TOKEN_INVALID or VALIDATION_ERROR
*/
func (handler *Handler) resetPassword(writer http.ResponseWriter, request *http.Request) {
	var input resetPasswordRequest

	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, validate.ErrInvalidJSON)
		return
	}

	validator := &validate.Validator{}
	validator.Required(FieldToken, input.Token)

	if err := validator.Err(); err != nil {
		respond.Error(writer, request, err)
		return
	}

	if err := handler.authService.ConsumeReset(request.Context(), input.Token, input.Password); err != nil {
		respond.Error(writer, request, err)
		return
	}

	respond.OK(writer, map[string]string{
		FieldMessage: "Password updated successfully",
	})
}

/*
ChangePassword updates the authenticated account's password.

POST /api/v1/auth/change-password

Description: Verifies the current password, rotates it and revokes every
session including the caller's, so the refresh cookie is cleared too.

Request:
  - Body: changePasswordRequest (CurrentPassword, NewPassword)

Response:
  - 200: Password changed
  - 401: UNAUTHORIZED: Current password incorrect
  - 400: VALIDATION_ERROR: Weak password
*/
func (handler *Handler) changePassword(writer http.ResponseWriter, request *http.Request) {
	accountID, err := requestutil.RequiredUserID(request)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	var input changePasswordRequest
	if err := requestutil.DecodeJSON(request, &input); err != nil {
		respond.Error(writer, request, validate.ErrInvalidJSON)
		return
	}

	validator := &validate.Validator{}
	validator.Required(FieldCurrentPassword, input.CurrentPassword)

	if err := validator.Err(); err != nil {
		respond.Error(writer, request, err)
		return
	}

	err = handler.authService.ChangeOwnPassword(request.Context(), accountID, input.CurrentPassword, input.NewPassword)
	if err != nil {
		respond.Error(writer, request, err)
		return
	}

	clearRefreshCookie(writer)
	respond.OK(writer, map[string]string{
		FieldMessage: "Password changed successfully",
	})
}

// # Cookie Helpers

// setRefreshCookie stores the refresh token in an HttpOnly cookie scoped to the
// auth routes. A zero expiry yields a browser-session cookie.
func setRefreshCookie(writer http.ResponseWriter, token string, expiresAt time.Time) {
	http.SetCookie(writer, &http.Cookie{
		Name:     constants.RefreshTokenCookieName,
		Value:    token,
		Path:     constants.RefreshTokenCookiePath,
		Expires:  expiresAt,
		Secure:   true,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

func clearRefreshCookie(writer http.ResponseWriter) {
	http.SetCookie(writer, &http.Cookie{
		Name:     constants.RefreshTokenCookieName,
		Value:    "",
		Path:     constants.RefreshTokenCookiePath,
		MaxAge:   -1,
		Secure:   true,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
}

func sessionPayload(result *LoginResult) map[string]any {
	return map[string]any{
		FieldAccessToken: result.AccessToken,
		FieldTokenType:   "Bearer",
		FieldExpiresIn:   int(AccessTokenTTL / time.Second),
		FieldUser:        result.Account.Profile(),
	}
}

// Copyright (c) 2026 Yomira. All rights reserved.
// Author: tai.buivan.jp@gmail.com

package auth_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/taibuivan/mangashelf/internal/platform/apperr"
	"github.com/taibuivan/mangashelf/internal/platform/constants"
	"github.com/taibuivan/mangashelf/internal/platform/middleware"
	"github.com/taibuivan/mangashelf/internal/platform/sec"
	"github.com/taibuivan/mangashelf/internal/users/auth"
)

// stubVerifier accepts the tokens minted by stubTokens, plus "admin-<id>"
// tokens that carry the Admin role.
type stubVerifier struct{}

func (stubVerifier) VerifyToken(token string) (*sec.AuthClaims, error) {
	if userID, ok := strings.CutPrefix(token, "admin-"); ok {
		return &sec.AuthClaims{UserID: userID, Role: string(sec.RoleAdmin)}, nil
	}
	userID, ok := strings.CutPrefix(token, "access-")
	if !ok {
		return nil, errors.New("bad token")
	}
	return &sec.AuthClaims{UserID: userID, Role: string(sec.RoleUser)}, nil
}

type envelope struct {
	Data    json.RawMessage     `json:"data"`
	Code    string              `json:"code"`
	Details []apperr.FieldError `json:"details"`
}

func newRouter(f *fixture) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.Authenticate(stubVerifier{}))
	router.Mount("/api/v1/auth", auth.NewHandler(f.service).Routes())
	return router
}

func call(t *testing.T, router http.Handler, method, path string, body any, decorate ...func(*http.Request)) (*httptest.ResponseRecorder, envelope) {
	t.Helper()

	var payload bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&payload).Encode(body))
	}

	request := httptest.NewRequest(method, "/api/v1/auth"+path, &payload)
	request.Header.Set("Content-Type", "application/json")
	for _, apply := range decorate {
		apply(request)
	}

	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)

	var decoded envelope
	if recorder.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &decoded))
	}
	return recorder, decoded
}

func bearer(accountID string) func(*http.Request) {
	return func(request *http.Request) {
		request.Header.Set("Authorization", "Bearer access-"+accountID)
	}
}

func adminBearer(accountID string) func(*http.Request) {
	return func(request *http.Request) {
		request.Header.Set("Authorization", "Bearer admin-"+accountID)
	}
}

func withCookie(value string) func(*http.Request) {
	return func(request *http.Request) {
		request.AddCookie(&http.Cookie{Name: constants.RefreshTokenCookieName, Value: value})
	}
}

func refreshCookie(t *testing.T, recorder *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	for _, cookie := range recorder.Result().Cookies() {
		if cookie.Name == constants.RefreshTokenCookieName {
			return cookie
		}
	}
	t.Fatalf("response has no %s cookie", constants.RefreshTokenCookieName)
	return nil
}

/*
TestHandler_Register returns the client-safe profile and reports duplicates.
*/
func TestHandler_Register(t *testing.T) {
	f := newFixture(t)
	router := newRouter(f)
	body := map[string]string{"username": "reader", "email": "reader@example.com", "password": "secret1"}

	recorder, response := call(t, router, http.MethodPost, "/register", body)
	require.Equal(t, http.StatusCreated, recorder.Code)
	assert.Contains(t, string(response.Data), `"username":"reader"`)
	assert.NotContains(t, recorder.Body.String(), "password")

	recorder, response = call(t, router, http.MethodPost, "/register", body)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Equal(t, apperr.CodeValidation, response.Code)
	assert.Len(t, response.Details, 2)
}

/*
TestHandler_Register_IgnoresRole never lets a self-registration pick its role.
*/
func TestHandler_Register_IgnoresRole(t *testing.T) {
	f := newFixture(t)
	router := newRouter(f)

	recorder, response := call(t, router, http.MethodPost, "/register", map[string]string{
		"username": "climber",
		"email":    "climber@example.com",
		"password": "secret1",
		"role":     string(sec.RoleAdministrator),
	})
	require.Equal(t, http.StatusCreated, recorder.Code)

	var profile struct {
		ID   string       `json:"id"`
		Role sec.UserRole `json:"role"`
	}
	require.NoError(t, json.Unmarshal(response.Data, &profile))
	assert.Equal(t, sec.RoleUser, profile.Role)
	assert.Equal(t, sec.RoleUser, f.load(t, profile.ID).Role)
}

/*
TestHandler_CreateAccount restricts role assignment to administrators.
*/
func TestHandler_CreateAccount(t *testing.T) {
	body := map[string]string{
		"username": "moderator",
		"email":    "moderator@example.com",
		"password": "secret1",
		"role":     string(sec.RoleAdmin),
	}

	tests := []struct {
		name     string
		decorate []func(*http.Request)
		status   int
		code     string
	}{
		{"anonymous", nil, http.StatusUnauthorized, apperr.CodeUnauthorized},
		{"user_token", []func(*http.Request){bearer("caller")}, http.StatusForbidden, apperr.CodeForbidden},
		{"admin_token", []func(*http.Request){adminBearer("caller")}, http.StatusCreated, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			recorder, response := call(t, newRouter(f), http.MethodPost, "/accounts", body, tt.decorate...)

			require.Equal(t, tt.status, recorder.Code)
			assert.Equal(t, tt.code, response.Code)
			if tt.status == http.StatusCreated {
				assert.Contains(t, string(response.Data), `"role":"Admin"`)
			}
		})
	}
}

/*
TestHandler_Login sets the refresh cookie on success and answers 401 otherwise.
*/
func TestHandler_Login(t *testing.T) {
	f := newFixture(t)
	router := newRouter(f)
	acc := f.register(t, "reader@example.com", "secret1")

	tests := []struct {
		name     string
		body     any
		status   int
		code     string
		hasToken bool
	}{
		{"success", map[string]string{"email": "reader@example.com", "password": "secret1"}, http.StatusOK, "", true},
		{"wrong_password", map[string]string{"email": "reader@example.com", "password": "nope123"}, http.StatusUnauthorized, apperr.CodeUnauthorized, false},
		{"unknown_email", map[string]string{"email": "ghost@example.com", "password": "secret1"}, http.StatusUnauthorized, apperr.CodeUnauthorized, false},
		{"missing_password", map[string]string{"email": "reader@example.com"}, http.StatusBadRequest, apperr.CodeValidation, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recorder, response := call(t, router, http.MethodPost, "/login", tt.body)
			assert.Equal(t, tt.status, recorder.Code)
			assert.Equal(t, tt.code, response.Code)

			if tt.hasToken {
				cookie := refreshCookie(t, recorder)
				assert.True(t, cookie.HttpOnly)
				assert.True(t, strings.HasPrefix(cookie.Value, acc.ID+"."))
				assert.Contains(t, string(response.Data), `"access_token":"access-`+acc.ID+`"`)
			}
		})
	}
}

/*
TestHandler_RefreshAndLogout rotates the cookie, then ends the session.
*/
func TestHandler_RefreshAndLogout(t *testing.T) {
	f := newFixture(t)
	router := newRouter(f)
	acc := f.register(t, "reader@example.com", "secret1")

	recorder, _ := call(t, router, http.MethodPost, "/login", map[string]string{"email": "reader@example.com", "password": "secret1"})
	require.Equal(t, http.StatusOK, recorder.Code)
	original := refreshCookie(t, recorder).Value

	recorder, _ = call(t, router, http.MethodPost, "/refresh", nil)
	assert.Equal(t, http.StatusUnauthorized, recorder.Code)

	recorder, _ = call(t, router, http.MethodPost, "/refresh", nil, withCookie(original))
	require.Equal(t, http.StatusOK, recorder.Code)
	rotated := refreshCookie(t, recorder).Value
	assert.NotEqual(t, original, rotated)

	recorder, _ = call(t, router, http.MethodPost, "/logout", nil, withCookie(rotated))
	assert.Equal(t, http.StatusUnauthorized, recorder.Code)

	recorder, _ = call(t, router, http.MethodPost, "/logout", nil, withCookie(rotated), bearer(acc.ID))
	assert.Equal(t, http.StatusNoContent, recorder.Code)
	assert.Equal(t, -1, refreshCookie(t, recorder).MaxAge)

	stored := f.load(t, acc.ID)
	assert.False(t, stored.IsOnline())
	assert.Zero(t, stored.SessionCount())
}

/*
TestHandler_Presence requires an explicit flag.
*/
func TestHandler_Presence(t *testing.T) {
	f := newFixture(t)
	router := newRouter(f)
	acc := f.register(t, "reader@example.com", "secret1")

	recorder, response := call(t, router, http.MethodPut, "/presence", map[string]any{}, bearer(acc.ID))
	assert.Equal(t, http.StatusBadRequest, recorder.Code)
	assert.Equal(t, apperr.CodeValidation, response.Code)

	recorder, _ = call(t, router, http.MethodPut, "/presence", map[string]any{"online": true}, bearer(acc.ID))
	assert.Equal(t, http.StatusNoContent, recorder.Code)
	assert.True(t, f.load(t, acc.ID).IsOnline())
}

/*
TestHandler_PasswordFlows covers the reset and change endpoints.
*/
func TestHandler_PasswordFlows(t *testing.T) {
	f := newFixture(t)
	router := newRouter(f)
	acc := f.register(t, "reader@example.com", "secret1")

	t.Run("forgot_password_is_uniform", func(t *testing.T) {
		known, _ := call(t, router, http.MethodPost, "/forgot-password", map[string]string{"email": "reader@example.com"})
		unknown, _ := call(t, router, http.MethodPost, "/forgot-password", map[string]string{"email": "ghost@example.com"})
		assert.Equal(t, http.StatusOK, known.Code)
		assert.Equal(t, known.Body.String(), unknown.Body.String())
	})

	t.Run("forgot_password_bad_email", func(t *testing.T) {
		recorder, response := call(t, router, http.MethodPost, "/forgot-password", map[string]string{"email": "nope"})
		assert.Equal(t, http.StatusBadRequest, recorder.Code)
		assert.Equal(t, apperr.CodeValidation, response.Code)
	})

	t.Run("reset_with_unknown_token", func(t *testing.T) {
		recorder, response := call(t, router, http.MethodPost, "/reset-password", map[string]string{"token": "unknown", "password": "secret2"})
		assert.Equal(t, http.StatusBadRequest, recorder.Code)
		assert.Equal(t, apperr.CodeResetTokenInvalid, response.Code)
	})

	t.Run("reset_with_issued_token", func(t *testing.T) {
		ticket, err := f.service.RequestPasswordReset(context.Background(), "reader@example.com")
		require.NoError(t, err)

		recorder, _ := call(t, router, http.MethodPost, "/reset-password", map[string]string{"token": ticket.Token, "password": "secret2"})
		assert.Equal(t, http.StatusOK, recorder.Code)
		assert.True(t, f.load(t, acc.ID).VerifyPassword("secret2"))
	})

	t.Run("change_password_wrong_current", func(t *testing.T) {
		recorder, response := call(t, router, http.MethodPost, "/change-password",
			map[string]string{"current_password": "wrong", "new_password": "secret3"}, bearer(acc.ID))
		assert.Equal(t, http.StatusUnauthorized, recorder.Code)
		assert.Equal(t, apperr.CodeUnauthorized, response.Code)
	})

	t.Run("change_password", func(t *testing.T) {
		recorder, _ := call(t, router, http.MethodPost, "/change-password",
			map[string]string{"current_password": "secret2", "new_password": "secret3"}, bearer(acc.ID))
		assert.Equal(t, http.StatusOK, recorder.Code)
		assert.True(t, f.load(t, acc.ID).VerifyPassword("secret3"))
	})
}

/*
TestHandler_InvalidJSON rejects undecodable bodies before touching the service.
*/
func TestHandler_InvalidJSON(t *testing.T) {
	router := newRouter(newFixture(t))

	request := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader("{"))
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, request)

	assert.Equal(t, http.StatusBadRequest, recorder.Code)
}

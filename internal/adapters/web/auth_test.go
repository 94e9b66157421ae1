package web

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret string, userID, companyID int, role string, expiresIn time.Duration) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwtClaims{
		UserID:    userID,
		CompanyID: companyID,
		Role:      role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func authedRequest(token string) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/companies/1/journal-entries", nil)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	return r
}

func TestRequireAuth_ValidToken(t *testing.T) {
	h := &Handler{jwtSecret: testSecret}

	var got *AuthClaims
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = authFromContext(r.Context())
	})

	rec := httptest.NewRecorder()
	token := signToken(t, testSecret, 7, 3, "accountant", time.Hour)
	h.RequireAuth(next).ServeHTTP(rec, authedRequest(token))

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, got, "claims must reach the next handler")
	assert.Equal(t, 7, got.UserID)
	assert.Equal(t, 3, got.CompanyID)
	assert.Equal(t, "accountant", got.Role)
}

func TestRequireAuth_MissingToken(t *testing.T) {
	h := &Handler{jwtSecret: testSecret}
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run without a token")
	})

	rec := httptest.NewRecorder()
	h.RequireAuth(next).ServeHTTP(rec, authedRequest(""))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "UNAUTHORIZED", body.Code)
}

func TestRequireAuth_WrongSecret(t *testing.T) {
	h := &Handler{jwtSecret: testSecret}
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run with a forged token")
	})

	rec := httptest.NewRecorder()
	token := signToken(t, "some-other-secret", 7, 3, "accountant", time.Hour)
	h.RequireAuth(next).ServeHTTP(rec, authedRequest(token))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireAuth_ExpiredToken(t *testing.T) {
	h := &Handler{jwtSecret: testSecret}
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("handler must not run with an expired token")
	})

	rec := httptest.NewRecorder()
	token := signToken(t, testSecret, 7, 3, "accountant", -time.Hour)
	h.RequireAuth(next).ServeHTTP(rec, authedRequest(token))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"missing", "", ""},
		{"standard", "Bearer abc.def.ghi", "abc.def.ghi"},
		{"lowercase scheme", "bearer abc.def.ghi", "abc.def.ghi"},
		{"wrong scheme", "Basic dXNlcjpwYXNz", ""},
		{"scheme only", "Bearer", ""},
		{"scheme with trailing space", "Bearer ", ""},
		{"padded token", "Bearer   abc  ", "abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			assert.Equal(t, tt.want, bearerToken(r))
		})
	}
}

func TestRequireCompanyAccess(t *testing.T) {
	h := &Handler{jwtSecret: testSecret}

	withClaims := func(r *http.Request, claims *AuthClaims) *http.Request {
		return r.WithContext(context.WithValue(r.Context(), authClaimsKey{}, claims))
	}

	t.Run("matching company", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r := withClaims(httptest.NewRequest(http.MethodGet, "/", nil), &AuthClaims{UserID: 1, CompanyID: 3})
		assert.True(t, h.requireCompanyAccess(rec, r, 3))
	})

	t.Run("foreign company", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r := withClaims(httptest.NewRequest(http.MethodGet, "/", nil), &AuthClaims{UserID: 1, CompanyID: 3})
		assert.False(t, h.requireCompanyAccess(rec, r, 4))
		assert.Equal(t, http.StatusForbidden, rec.Code)

		var body errorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "FORBIDDEN", body.Code)
	})

	t.Run("no claims", func(t *testing.T) {
		rec := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		assert.False(t, h.requireCompanyAccess(rec, r, 3))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/consultwise/session-server-go/internal/model"
)

const testSecret = "test-secret-test-secret-test-secret!"

func mintToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	if _, ok := claims["exp"]; !ok {
		claims["exp"] = time.Now().Add(time.Hour).Unix()
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func validClaims() jwt.MapClaims {
	return jwt.MapClaims{
		"pid":  "op-1",
		"acc":  "acct-op",
		"sid":  "s1",
		"role": "operator",
		"rate": int64(60),
	}
}

func TestVerify(t *testing.T) {
	m := NewAuthMiddleware(testSecret)

	t.Run("accepts a valid token", func(t *testing.T) {
		caller, err := m.Verify(mintToken(t, testSecret, validClaims()))

		require.NoError(t, err)
		assert.Equal(t, "op-1", caller.ParticipantID)
		assert.Equal(t, "acct-op", caller.AccountID)
		assert.Equal(t, "s1", caller.SessionID)
		assert.Equal(t, model.RoleOperator, caller.Role)
		assert.Equal(t, int64(60), caller.RateUnitsPerHour)
	})

	t.Run("rejects a token signed with another secret", func(t *testing.T) {
		_, err := m.Verify(mintToken(t, "another-secret-another-secret!!!", validClaims()))
		assert.Error(t, err)
	})

	t.Run("rejects an expired token", func(t *testing.T) {
		claims := validClaims()
		claims["exp"] = time.Now().Add(-time.Hour).Unix()
		_, err := m.Verify(mintToken(t, testSecret, claims))
		assert.Error(t, err)
	})

	t.Run("rejects an unknown role", func(t *testing.T) {
		claims := validClaims()
		claims["role"] = "observer"
		_, err := m.Verify(mintToken(t, testSecret, claims))
		assert.Error(t, err)
	})

	t.Run("rejects incomplete claims", func(t *testing.T) {
		claims := validClaims()
		delete(claims, "sid")
		_, err := m.Verify(mintToken(t, testSecret, claims))
		assert.Error(t, err)
	})
}

func TestHandler(t *testing.T) {
	m := NewAuthMiddleware(testSecret)

	probe := func(captured **Caller) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			*captured = GetCaller(r.Context())
			w.WriteHeader(http.StatusOK)
		})
	}

	t.Run("installs the caller from a bearer token", func(t *testing.T) {
		var caller *Caller
		req := httptest.NewRequest(http.MethodGet, "/v1/sessions/s1", nil)
		req.Header.Set("Authorization", "Bearer "+mintToken(t, testSecret, validClaims()))
		rec := httptest.NewRecorder()

		m.Handler(probe(&caller)).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, caller)
		assert.Equal(t, "op-1", caller.ParticipantID)
	})

	t.Run("accepts the token as a query parameter", func(t *testing.T) {
		var caller *Caller
		req := httptest.NewRequest(http.MethodGet, "/v1/sessions/s1/events?token="+mintToken(t, testSecret, validClaims()), nil)
		rec := httptest.NewRecorder()

		m.Handler(probe(&caller)).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusOK, rec.Code)
		require.NotNil(t, caller)
		assert.Equal(t, "s1", caller.SessionID)
	})

	t.Run("rejects a missing token", func(t *testing.T) {
		var caller *Caller
		req := httptest.NewRequest(http.MethodGet, "/v1/sessions/s1", nil)
		rec := httptest.NewRecorder()

		m.Handler(probe(&caller)).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Nil(t, caller)
	})

	t.Run("rejects a garbage token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/sessions/s1", nil)
		req.Header.Set("Authorization", "Bearer not.a.token")
		rec := httptest.NewRecorder()

		var caller *Caller
		m.Handler(probe(&caller)).ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

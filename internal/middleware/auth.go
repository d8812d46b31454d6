package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"github.com/consultwise/session-server-go/internal/httputil"
	"github.com/consultwise/session-server-go/internal/model"
)

type contextKey string

const callerContextKey contextKey = "caller"

// Caller is the verified identity of the connected participant. The token is
// minted upstream by the booking service once the booking is paid for; it
// binds the participant to one session, one role, and the rate resolved from
// the booking context.
type Caller struct {
	ParticipantID    string
	AccountID        string
	SessionID        string
	Role             model.ParticipantRole
	RateUnitsPerHour int64
}

func GetCaller(ctx context.Context) *Caller {
	if caller, ok := ctx.Value(callerContextKey).(*Caller); ok {
		return caller
	}
	return nil
}

// WithCaller is used by tests and the websocket transport to install a
// verified caller on a context.
func WithCaller(ctx context.Context, caller *Caller) context.Context {
	return context.WithValue(ctx, callerContextKey, caller)
}

type Claims struct {
	ParticipantID    string `json:"pid"`
	AccountID        string `json:"acc"`
	SessionID        string `json:"sid"`
	Role             string `json:"role"`
	RateUnitsPerHour int64  `json:"rate"`
	jwt.RegisteredClaims
}

type AuthMiddleware struct {
	secret []byte
}

func NewAuthMiddleware(secret string) *AuthMiddleware {
	return &AuthMiddleware{secret: []byte(secret)}
}

func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractToken(r)
		if token == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "Missing authentication token",
			})
			return
		}

		caller, err := m.Verify(token)
		if err != nil {
			log.Warn().Err(err).Msg("auth middleware: invalid token attempt")
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "Invalid token",
			})
			return
		}

		ctx := WithCaller(r.Context(), caller)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Verify parses and validates a session token, returning the caller it vouches
// for.
func (m *AuthMiddleware) Verify(token string) (*Caller, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !parsed.Valid || claims.ParticipantID == "" || claims.SessionID == "" {
		return nil, errors.New("incomplete session token")
	}

	role := model.ParticipantRole(claims.Role)
	if !role.Valid() {
		return nil, errors.New("unknown role in session token")
	}

	return &Caller{
		ParticipantID:    claims.ParticipantID,
		AccountID:        claims.AccountID,
		SessionID:        claims.SessionID,
		Role:             role,
		RateUnitsPerHour: claims.RateUnitsPerHour,
	}, nil
}

func extractToken(r *http.Request) string {
	// Query token first: EventSource and browser websockets cannot set
	// headers.
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}

	authHeader := r.Header.Get("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}

	return ""
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	httputil.WriteJSON(w, status, data)
}

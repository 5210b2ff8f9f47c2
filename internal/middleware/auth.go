package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/pliu/parley/internal/apperror"
)

type contextKey string

const (
	UserIDKey  contextKey = "user_id"
	TokenIDKey contextKey = "token_id"
)

type Authenticator interface {
	Authenticate(ctx context.Context, plain string) (userID, tokenID uint, err error)
}

// TokenSource yields a token carried outside the Authorization header,
// e.g. in a session cookie.
type TokenSource interface {
	Token(r *http.Request) (string, bool)
}

// AuthMiddleware resolves the bearer token (header first, then cookie) and
// stores the user and token ids in the request context.
func AuthMiddleware(authn Authenticator, cookies TokenSource, log *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" && cookies != nil {
				token, _ = cookies.Token(r)
			}
			if token == "" {
				unauthenticated(w)
				return
			}

			userID, tokenID, err := authn.Authenticate(r.Context(), token)
			if err != nil {
				if !apperror.Is(err, apperror.CodeUnauthenticated) {
					log.WithError(err).Error("token lookup failed")
					writeError(w, http.StatusServiceUnavailable, "Service unavailable.")
					return
				}
				unauthenticated(w)
				return
			}

			ctx := context.WithValue(r.Context(), UserIDKey, userID)
			ctx = context.WithValue(ctx, TokenIDKey, tokenID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func unauthenticated(w http.ResponseWriter) {
	writeError(w, http.StatusUnauthorized, "Unauthenticated.")
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"message": msg})
}

// UserID returns the authenticated user's id, or 0.
func UserID(ctx context.Context) uint {
	id, _ := ctx.Value(UserIDKey).(uint)
	return id
}

func TokenID(ctx context.Context) uint {
	id, _ := ctx.Value(TokenIDKey).(uint)
	return id
}

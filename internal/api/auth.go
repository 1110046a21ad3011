package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"marketdash/internal/apperr"
)

type contextKey string

const userIDKey contextKey = "api_user_id"

// AuthMiddleware verifies HS256 bearer tokens and hangs the owner id on the
// request context. The sub claim carries the user id.
type AuthMiddleware struct {
	jwtSecret []byte
}

func NewAuthMiddleware(jwtSecret string) *AuthMiddleware {
	return &AuthMiddleware{jwtSecret: []byte(jwtSecret)}
}

// ExtractUserID pulls the owner id from the Authorization header, or from a
// token query parameter for websocket clients that cannot set headers.
func (a *AuthMiddleware) ExtractUserID(r *http.Request) (int64, error) {
	tokenStr := ""
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		tokenStr = strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	} else if q := r.URL.Query().Get("token"); q != "" {
		tokenStr = q
	}
	if tokenStr == "" {
		return 0, fmt.Errorf("missing Authorization header")
	}

	token, err := jwtlib.Parse(tokenStr, func(token *jwtlib.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return a.jwtSecret, nil
	})
	if err != nil {
		return 0, fmt.Errorf("invalid JWT: %w", err)
	}

	claims, ok := token.Claims.(jwtlib.MapClaims)
	if !ok || !token.Valid {
		return 0, fmt.Errorf("invalid JWT claims")
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return 0, fmt.Errorf("JWT missing sub claim")
	}
	userID, err := strconv.ParseInt(sub, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("JWT sub is not a user id: %w", err)
	}
	return userID, nil
}

func (a *AuthMiddleware) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := a.ExtractUserID(r)
		if err != nil {
			writeError(w, apperr.New(apperr.Unauthenticated, "invalid or missing bearer token"))
			return
		}
		ctx := context.WithValue(r.Context(), userIDKey, userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ownerFrom returns the authenticated owner id set by the middleware.
func ownerFrom(r *http.Request) int64 {
	id, _ := r.Context().Value(userIDKey).(int64)
	return id
}

// IssueToken mints a bearer token for the given user. Used by the seed tool
// and by tests; the service itself does not expose an auth endpoint.
func IssueToken(secret string, userID int64, ttl time.Duration) (string, error) {
	claims := jwtlib.MapClaims{
		"sub": strconv.FormatInt(userID, 10),
		"iat": time.Now().Unix(),
		"exp": time.Now().Add(ttl).Unix(),
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

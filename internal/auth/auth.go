// Package auth is the authentication collaborator: it verifies a bearer
// JWT and injects the resulting Requester identity into the request
// context. The ledger core trusts this identity without re-validating
// credentials. Token issuance and blacklisting live elsewhere.
package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/kautilya-labs/khata/internal/domain"
)

type contextKey struct{}

// Claims is the token payload: user id in the subject, plus the profile
// fields the notification path needs and the system-principal flag.
type Claims struct {
	Email  string `json:"email"`
	Name   string `json:"name"`
	System bool   `json:"system,omitempty"`
	jwt.RegisteredClaims
}

// RequesterFromContext returns the authenticated identity, or false when
// the request never passed through the middleware.
func RequesterFromContext(ctx context.Context) (domain.Requester, bool) {
	r, ok := ctx.Value(contextKey{}).(domain.Requester)
	return r, ok
}

// WithRequester is exported for handler tests.
func WithRequester(ctx context.Context, r domain.Requester) context.Context {
	return context.WithValue(ctx, contextKey{}, r)
}

// Middleware verifies the bearer token and attaches the Requester.
func Middleware(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				unauthorized(w, "token is missing")
				return
			}

			claims := &Claims{}
			parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
				return []byte(secret), nil
			}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
			if err != nil || !parsed.Valid {
				unauthorized(w, "token is invalid")
				return
			}

			userID, err := uuid.Parse(claims.Subject)
			if err != nil {
				unauthorized(w, "token is invalid")
				return
			}

			requester := domain.Requester{
				UserID: userID,
				Email:  claims.Email,
				Name:   claims.Name,
				System: claims.System,
			}
			next.ServeHTTP(w, r.WithContext(WithRequester(r.Context(), requester)))
		})
	}
}

// RequireSystem gates the funding path: only system principals pass.
// Must be stacked after Middleware.
func RequireSystem(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requester, ok := RequesterFromContext(r.Context())
		if !ok {
			unauthorized(w, "token is missing")
			return
		}
		if !requester.System {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusForbidden)
			json.NewEncoder(w).Encode(map[string]string{"error": "forbidden: system principal required"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if c, err := r.Cookie("token"); err == nil {
		return c.Value
	}
	return ""
}

func unauthorized(w http.ResponseWriter, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": "unauthorized access, " + reason})
}

package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/GavinKingcome/schools-air-quality-msp4/internal/api/models"
	"github.com/GavinKingcome/schools-air-quality-msp4/internal/auth"
)

type claimsKey struct{}

// TokenValidator validates bearer tokens.
type TokenValidator interface {
	Validate(token string) (*auth.Claims, error)
}

// Auth creates middleware that requires a valid operator bearer token.
func Auth(tokens TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, detail := bearerToken(r.Header.Get("Authorization"))
			if detail != "" {
				writeProblem(w, r, models.NewUnauthorized(GetRequestID(r.Context()), detail))
				return
			}

			claims, err := tokens.Validate(token)
			if err != nil {
				detail := "authentication failed"
				switch {
				case errors.Is(err, auth.ErrTokenExpired):
					detail = "token has expired"
				case errors.Is(err, auth.ErrInvalidToken):
					detail = "invalid token"
				}
				writeProblem(w, r, models.NewUnauthorized(GetRequestID(r.Context()), detail))
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireScope rejects requests whose token lacks scope. It must run after Auth.
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := GetClaims(r.Context())
			if claims == nil || !claims.HasScope(scope) {
				writeProblem(w, r, models.NewForbidden(GetRequestID(r.Context()), "token lacks scope "+scope))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(header string) (string, string) {
	if header == "" {
		return "", "missing authorization header"
	}
	const prefix = "Bearer "
	if len(header) < len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", "invalid authorization header format"
	}
	token := strings.TrimSpace(header[len(prefix):])
	if token == "" {
		return "", "missing bearer token"
	}
	return token, ""
}

// writeProblem is local to avoid an import cycle with the response package.
func writeProblem(w http.ResponseWriter, r *http.Request, problem *models.Problem) {
	problem.Instance = r.URL.Path
	problem.Write(w)
}

// GetClaims returns the authenticated token claims, or nil.
func GetClaims(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(claimsKey{}).(*auth.Claims)
	return claims
}

// GetSubject returns the authenticated subject, or "".
func GetSubject(ctx context.Context) string {
	if c := GetClaims(ctx); c != nil {
		return c.Subject
	}
	return ""
}

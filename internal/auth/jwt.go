// Package auth issues and verifies the operator tokens that guard the
// admin API.
package auth

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultTokenExpiry is the lifetime of a token minted without an explicit TTL.
const DefaultTokenExpiry = 12 * time.Hour

// Issuer and audience used by the API and the assign CLI.
const (
	DefaultIssuer   = "schools-aq"
	DefaultAudience = "schools-aq-admin"
)

// Scopes granted to operator tokens.
const (
	ScopeRunAssignment   = "assignments:run"
	ScopeRefreshSnapshot = "snapshot:refresh"
	ScopeImportBaseline  = "baseline:import"
)

// AllScopes lists every known scope.
var AllScopes = []string{ScopeRunAssignment, ScopeRefreshSnapshot, ScopeImportBaseline}

// Predefined token errors.
var (
	ErrInvalidToken      = errors.New("invalid token")
	ErrTokenExpired      = errors.New("token has expired")
	ErrMissingSigningKey = errors.New("signing key is required")
	ErrUnknownScope      = errors.New("unknown scope")
)

// Claims are the claims carried by an operator token.
type Claims struct {
	jwt.RegisteredClaims

	// Scope is a space-separated scope list.
	Scope string `json:"scope"`
}

// Scopes returns the token scopes.
func (c *Claims) Scopes() []string {
	return strings.Fields(c.Scope)
}

// HasScope reports whether the token grants scope.
func (c *Claims) HasScope(scope string) bool {
	return slices.Contains(c.Scopes(), scope)
}

// JWTConfig holds configuration for the token service.
type JWTConfig struct {
	// SigningKey is the HMAC secret used to sign tokens.
	SigningKey string

	// Issuer is the issuer claim, e.g. "schools-aq".
	Issuer string

	// Audience is the audience claim, e.g. "schools-aq-admin".
	Audience string

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// JWTService handles token creation and validation.
type JWTService struct {
	signingKey []byte
	issuer     string
	audience   string
	now        func() time.Time
}

// NewJWTService creates a new token service.
func NewJWTService(cfg JWTConfig) (*JWTService, error) {
	if cfg.SigningKey == "" {
		return nil, ErrMissingSigningKey
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &JWTService{
		signingKey: []byte(cfg.SigningKey),
		issuer:     cfg.Issuer,
		audience:   cfg.Audience,
		now:        now,
	}, nil
}

// Issue mints a token for subject with the given scopes. A ttl of zero
// uses DefaultTokenExpiry.
func (s *JWTService) Issue(subject string, scopes []string, ttl time.Duration) (string, time.Time, error) {
	for _, sc := range scopes {
		if !slices.Contains(AllScopes, sc) {
			return "", time.Time{}, fmt.Errorf("%w: %q", ErrUnknownScope, sc)
		}
	}
	if ttl <= 0 {
		ttl = DefaultTokenExpiry
	}

	now := s.now()
	expiresAt := now.Add(ttl)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{s.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
		Scope: strings.Join(scopes, " "),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("signing token: %w", err)
	}

	return tokenString, expiresAt, nil
}

// Validate validates a token and returns its claims.
func (s *JWTService) Validate(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.signingKey, nil
	}, jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidToken, err.Error())
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

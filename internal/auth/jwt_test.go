package auth_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GavinKingcome/schools-air-quality-msp4/internal/auth"
)

func newService(t *testing.T, key, issuer, audience string) *auth.JWTService {
	t.Helper()
	svc, err := auth.NewJWTService(auth.JWTConfig{
		SigningKey: key,
		Issuer:     issuer,
		Audience:   audience,
	})
	require.NoError(t, err)
	return svc
}

func TestJWTService_IssueAndValidate(t *testing.T) {
	svc := newService(t, "test-secret-key-for-testing-only", "schools-aq", "schools-aq-admin")

	token, expiresAt, err := svc.Issue("ops@lambeth", []string{auth.ScopeRunAssignment}, time.Hour)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expiresAt, 5*time.Second)

	claims, err := svc.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "ops@lambeth", claims.Subject)
	assert.Equal(t, "schools-aq", claims.Issuer)
	assert.True(t, claims.HasScope(auth.ScopeRunAssignment))
	assert.False(t, claims.HasScope(auth.ScopeImportBaseline))
	assert.NotEmpty(t, claims.ID)
}

func TestJWTService_DefaultExpiry(t *testing.T) {
	now := time.Date(2024, 6, 12, 9, 0, 0, 0, time.UTC)
	svc, err := auth.NewJWTService(auth.JWTConfig{
		SigningKey: "k",
		Issuer:     "schools-aq",
		Audience:   "schools-aq-admin",
		Now:        func() time.Time { return now },
	})
	require.NoError(t, err)

	_, expiresAt, err := svc.Issue("ops", auth.AllScopes, 0)
	require.NoError(t, err)
	assert.Equal(t, now.Add(auth.DefaultTokenExpiry), expiresAt)
}

func TestJWTService_Expired(t *testing.T) {
	now := time.Date(2024, 6, 12, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	svc, err := auth.NewJWTService(auth.JWTConfig{SigningKey: "k", Issuer: "i", Audience: "a", Now: clock})
	require.NoError(t, err)

	token, _, err := svc.Issue("ops", nil, time.Minute)
	require.NoError(t, err)

	later, err := auth.NewJWTService(auth.JWTConfig{
		SigningKey: "k", Issuer: "i", Audience: "a",
		Now: func() time.Time { return now.Add(time.Hour) },
	})
	require.NoError(t, err)

	_, err = later.Validate(token)
	assert.ErrorIs(t, err, auth.ErrTokenExpired)
}

func TestJWTService_UnknownScope(t *testing.T) {
	svc := newService(t, "k", "i", "a")

	_, _, err := svc.Issue("ops", []string{"schools:delete"}, time.Hour)
	assert.ErrorIs(t, err, auth.ErrUnknownScope)
}

func TestNewJWTService_MissingKey(t *testing.T) {
	_, err := auth.NewJWTService(auth.JWTConfig{})
	assert.ErrorIs(t, err, auth.ErrMissingSigningKey)
}

func TestJWTService_InvalidToken(t *testing.T) {
	svc := newService(t, "test-secret-key-for-testing-only", "schools-aq", "schools-aq-admin")

	tests := []struct {
		name  string
		token string
	}{
		{"empty token", ""},
		{"malformed token", "not.a.valid.jwt"},
		{"invalid base64", "xxx.yyy.zzz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Validate(tt.token)
			assert.ErrorIs(t, err, auth.ErrInvalidToken)
		})
	}
}

func TestJWTService_Mismatch(t *testing.T) {
	issuer := newService(t, "key-one", "schools-aq", "schools-aq-admin")
	token, _, err := issuer.Issue("ops", []string{auth.ScopeRunAssignment}, time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name     string
		verifier *auth.JWTService
	}{
		{"wrong signing key", newService(t, "key-two", "schools-aq", "schools-aq-admin")},
		{"wrong issuer", newService(t, "key-one", "other", "schools-aq-admin")},
		{"wrong audience", newService(t, "key-one", "schools-aq", "other")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.verifier.Validate(token)
			assert.ErrorIs(t, err, auth.ErrInvalidToken)
		})
	}
}

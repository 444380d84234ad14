package auth

import (
	"testing"
	"time"

	"github.com/erp/agency/internal/infrastructure/config"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret-key-at-least-32-chars"

func newTestJWTService() *JWTService {
	return NewJWTService(config.AuthConfig{JWTSecret: testSecret, Issuer: "supabase"})
}

func TestValidate_Success(t *testing.T) {
	svc := newTestJWTService()

	token, err := svc.Issue("user-1", time.Hour)
	require.NoError(t, err)

	claims, err := svc.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID())
	assert.Equal(t, "authenticated", claims.Role)
	assert.True(t, claims.GetExpiresAtTime().After(time.Now()))
}

func TestValidate_Expired(t *testing.T) {
	svc := newTestJWTService()
	svc.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	token, err := svc.Issue("user-1", time.Hour)
	require.NoError(t, err)

	svc.now = time.Now
	_, err = svc.Validate(token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestValidate_WrongSecret(t *testing.T) {
	other := NewJWTService(config.AuthConfig{JWTSecret: "another-secret-key-of-32-characters"})
	token, err := other.Issue("user-1", time.Hour)
	require.NoError(t, err)

	_, err = newTestJWTService().Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidate_RejectsNoneAlgorithm(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "user-1"})
	s, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = newTestJWTService().Validate(s)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidate_MissingSubject(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	s, err := token.SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = newTestJWTService().Validate(s)
	assert.ErrorIs(t, err, ErrMissingUserID)
}

func TestValidate_IssuerMismatch(t *testing.T) {
	other := NewJWTService(config.AuthConfig{JWTSecret: testSecret, Issuer: "elsewhere"})
	token, err := other.Issue("user-1", time.Hour)
	require.NoError(t, err)

	_, err = newTestJWTService().Validate(token)
	assert.ErrorIs(t, err, ErrInvalidClaims)
}

func TestMissingSecret(t *testing.T) {
	svc := NewJWTService(config.AuthConfig{})

	_, err := svc.Issue("u", time.Minute)
	assert.ErrorIs(t, err, ErrMissingSecret)
	_, err = svc.Validate("x.y.z")
	assert.ErrorIs(t, err, ErrMissingSecret)
}

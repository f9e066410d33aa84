package jwttoken

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidate(t *testing.T) {
	svc := NewJWTService("test-signing-key", "examreg")

	token, err := svc.GenerateToken(42, 7, RoleCoordinator, time.Hour)
	require.NoError(t, err)

	claims, err := svc.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.CoordinatorID)
	assert.Equal(t, int64(7), claims.ChapterID)
	assert.Equal(t, RoleCoordinator, claims.Role)
	assert.Equal(t, "examreg", claims.Issuer)
}

func TestValidateExpired(t *testing.T) {
	svc := NewJWTService("test-signing-key", "examreg")

	token, err := svc.GenerateToken(42, 7, RoleCoordinator, -time.Minute)
	require.NoError(t, err)

	_, err = svc.ValidateToken(token)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expired")
}

func TestValidateWrongKey(t *testing.T) {
	svc := NewJWTService("test-signing-key", "examreg")
	other := NewJWTService("different-key", "examreg")

	token, err := svc.GenerateToken(42, 7, RoleAdmin, time.Hour)
	require.NoError(t, err)

	_, err = other.ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateGarbage(t *testing.T) {
	svc := NewJWTService("test-signing-key", "examreg")

	_, err := svc.ValidateToken("not-a-token")
	assert.Error(t, err)
}

package jwtutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidate(t *testing.T) {
	util := NewJWTUtil(&JWTConfig{SigningKey: "k", ExpirationHours: 1})

	token, err := util.GenerateToken("a@example.com", "user-1", RoleAdmin)
	require.NoError(t, err)

	claims, err := util.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, RoleAdmin, claims.Role)
}

func TestValidateRejectsForeignKey(t *testing.T) {
	token, err := NewJWTUtil(&JWTConfig{SigningKey: "a", ExpirationHours: 1}).GenerateToken("a@example.com", "u", RoleUser)
	require.NoError(t, err)

	_, err = NewJWTUtil(&JWTConfig{SigningKey: "b", ExpirationHours: 1}).ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateRejectsExpired(t *testing.T) {
	util := NewJWTUtil(&JWTConfig{SigningKey: "k", ExpirationHours: -1})
	token, err := util.GenerateToken("a@example.com", "u", RoleUser)
	require.NoError(t, err)

	_, err = util.ValidateToken(token)
	assert.Error(t, err)
}

func TestParseRole(t *testing.T) {
	role, err := ParseRole("")
	require.NoError(t, err)
	assert.Equal(t, RoleUser, role)

	_, err = ParseRole("root")
	assert.Error(t, err)
}

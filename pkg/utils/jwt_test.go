package utils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenRoundTrip(t *testing.T) {
	signer, err := NewTokenSigner("s3cret", time.Minute)
	require.NoError(t, err)

	token, err := signer.CreateToken("user-1", "clube_a", "admin")
	require.NoError(t, err)

	claims, err := signer.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.ActorID)
	assert.Equal(t, "clube_a", claims.TenantID)
}

func TestTokenRejectsOtherKey(t *testing.T) {
	a, _ := NewTokenSigner("one", time.Minute)
	b, _ := NewTokenSigner("two", time.Minute)
	token, err := a.CreateToken("user-1", "clube_a", "admin")
	require.NoError(t, err)

	_, err = b.ValidateToken(token)
	assert.Error(t, err)
}

func TestTokenRequiresTenant(t *testing.T) {
	signer, _ := NewTokenSigner("s3cret", time.Minute)
	token, err := signer.CreateToken("user-1", "", "admin")
	require.NoError(t, err)

	_, err = signer.ValidateToken(token)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestNewTokenSignerNeedsSecret(t *testing.T) {
	_, err := NewTokenSigner("", time.Minute)
	assert.Error(t, err)
}

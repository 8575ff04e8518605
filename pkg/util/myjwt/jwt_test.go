package myjwt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndParseToken(t *testing.T) {
	s := NewSigner("secret", "deskrelay", 1)

	token, err := s.GenerateToken("acct-1", "agent-7", RoleAgent)
	require.NoError(t, err)

	claims, err := s.ParseToken(token)
	require.NoError(t, err)
	assert.Equal(t, "acct-1", claims.AccountID)
	assert.Equal(t, "agent-7", claims.UserID)
	assert.Equal(t, RoleAgent, claims.Role)
	assert.Equal(t, "deskrelay", claims.Issuer)
}

func TestParseTokenRejectsForeignKey(t *testing.T) {
	token, err := NewSigner("one", "", 1).GenerateToken("acct-1", "u", RoleAgent)
	require.NoError(t, err)

	_, err = NewSigner("two", "", 1).ParseToken(token)
	assert.Error(t, err)
}

func TestGenerateTokenRequiresKeyAndIdentity(t *testing.T) {
	_, err := NewSigner("", "", 1).GenerateToken("a", "u", RoleAgent)
	assert.Error(t, err)

	_, err = NewSigner("k", "", 1).GenerateToken("", "u", RoleAgent)
	assert.Error(t, err)
}

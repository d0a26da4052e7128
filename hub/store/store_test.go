package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klondi/mimicmod-lan/internal/registry"
)

func TestRegisterAndAccountLookup(t *testing.T) {
	s := OpenMemory()
	require.NoError(t, s.Register(context.Background(), "alice", "hunter2", registry.CredUser))

	cred, needsPassword, found := s.Account("alice")
	assert.True(t, found)
	assert.True(t, needsPassword)
	assert.Equal(t, registry.CredUser, cred)
}

func TestRegisterNoPasswordSkipsChallenge(t *testing.T) {
	s := OpenMemory()
	require.NoError(t, s.RegisterNoPassword(context.Background(), "bob", registry.CredOperator))

	_, needsPassword, found := s.Account("bob")
	assert.True(t, found)
	assert.False(t, needsPassword)
}

func TestUnknownNickNotFound(t *testing.T) {
	s := OpenMemory()
	_, _, found := s.Account("ghost")
	assert.False(t, found)
}

func TestSetRestrictedMarksNick(t *testing.T) {
	s := OpenMemory()
	require.NoError(t, s.SetRestricted(context.Background(), "admin"))
	assert.True(t, s.NickRestricted("admin"))
	assert.False(t, s.NickRestricted("alice"))
}

func TestConfirmPasswordAgainstBcryptDigest(t *testing.T) {
	s := OpenMemory()
	require.NoError(t, s.Register(context.Background(), "alice", "hunter2", registry.CredUser))
	assert.True(t, s.ConfirmPassword("alice", "hunter2"))
	assert.False(t, s.ConfirmPassword("alice", "wrong"))
}

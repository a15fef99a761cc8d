package postgres

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"pgregory.net/rapid"
)

func TestHashPassword_UsesDefaultCost(t *testing.T) {
	hash, err := HashPassword("correct horse")
	require.NoError(t, err)
	assert.NotContains(t, hash, "correct horse")

	cost, err := bcrypt.Cost([]byte(hash))
	require.NoError(t, err)
	assert.Equal(t, bcrypt.DefaultCost, cost)
}

func TestCheckPassword(t *testing.T) {
	hash, err := HashPassword("hunter22")
	require.NoError(t, err)
	assert.True(t, CheckPassword("hunter22", hash))
	assert.False(t, CheckPassword("hunter23", hash))
	assert.False(t, CheckPassword("", hash))
}

// Token-only players store an empty hash, which nothing may match.
func TestCheckPassword_EmptyHashNeverMatches(t *testing.T) {
	assert.False(t, CheckPassword("", ""))
	assert.False(t, CheckPassword("anything", ""))
}

// Property: a hash verifies its own password and no other.
func TestPropertyHashRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		// bcrypt reads at most 72 bytes.
		password := rapid.StringMatching(`[a-zA-Z0-9!@#$%^&*]{1,64}`).Draw(t, "password")
		other := rapid.StringMatching(`[a-zA-Z0-9!@#$%^&*]{1,64}`).Draw(t, "other")

		hash, err := HashPassword(password)
		if err != nil {
			t.Fatalf("HashPassword: %v", err)
		}
		if !CheckPassword(password, hash) {
			t.Fatalf("hash of %q does not verify", password)
		}
		if other != password && CheckPassword(other, hash) {
			t.Fatalf("hash of %q verified %q", password, other)
		}
	})
}

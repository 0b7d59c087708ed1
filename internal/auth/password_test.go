package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndVerify(t *testing.T) {
	hash, salt, err := HashPassword("harvest-2025")
	require.NoError(t, err)

	assert.Len(t, salt, 32)
	assert.Len(t, hash, 128)
	assert.True(t, VerifyPassword("harvest-2025", hash, salt))
	assert.False(t, VerifyPassword("harvest-2024", hash, salt))
}

func TestSaltsDiffer(t *testing.T) {
	h1, s1, err := HashPassword("same-password")
	require.NoError(t, err)
	h2, s2, err := HashPassword("same-password")
	require.NoError(t, err)

	assert.NotEqual(t, s1, s2)
	assert.NotEqual(t, h1, h2)
}

func TestVerifyRejectsMalformedSalt(t *testing.T) {
	hash, _, err := HashPassword("harvest-2025")
	require.NoError(t, err)

	assert.False(t, VerifyPassword("harvest-2025", hash, "not-hex"))
	assert.False(t, VerifyPassword("harvest-2025", "", "00"))
}

func TestValidatePassword(t *testing.T) {
	assert.False(t, ValidatePassword("short"))
	assert.True(t, ValidatePassword("long enough"))
}

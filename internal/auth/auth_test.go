package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashAndCheckKey(t *testing.T) {
	key, err := GenerateKey()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(key, "nr_"))
	assert.Len(t, key, 46)

	hash, err := HashKey(key)
	require.NoError(t, err)
	assert.NotEqual(t, key, hash)

	assert.NoError(t, CheckKey(key, hash))
	assert.ErrorIs(t, CheckKey(key+"x", hash), ErrInvalidKey)
	assert.ErrorIs(t, CheckKey("", hash), ErrInvalidKey)
	assert.ErrorIs(t, CheckKey(key, ""), ErrInvalidKey)

	_, err = HashKey("  ")
	assert.Error(t, err)
}

func TestGenerateKeyIsRandom(t *testing.T) {
	a, err := GenerateKey()
	require.NoError(t, err)
	b, err := GenerateKey()
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

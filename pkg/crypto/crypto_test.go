package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("secret")
	require.NoError(t, err)

	require.True(t, VerifyPassword(hash, "secret"))
	require.False(t, VerifyPassword(hash, "incorrect"))
}

func TestGenerateToken(t *testing.T) {
	first, err := GenerateToken(32)
	require.NoError(t, err)
	second, err := GenerateToken(32)
	require.NoError(t, err)

	require.NotEmpty(t, first)
	require.NotEqual(t, first, second)
}

func TestHashAPIKeyIsStable(t *testing.T) {
	digest := HashAPIKey("cgk_example")

	require.Len(t, digest, 64)
	require.Equal(t, digest, HashAPIKey("cgk_example"))
	require.NotEqual(t, digest, HashAPIKey("cgk_other"))
	require.True(t, EqualDigest(digest, HashAPIKey("cgk_example")))
	require.False(t, EqualDigest(digest, HashAPIKey("cgk_other")))
}

package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSealOpenRoundTrip(t *testing.T) {
	c, err := NewGCMCipher([]byte("01234567890123456789012345678901"[:32]))
	require.NoError(t, err)

	sealed, err := c.Seal([]byte("topsecret"))
	require.NoError(t, err)
	require.NotContains(t, string(sealed), "topsecret")

	opened, err := c.Open(sealed)
	require.NoError(t, err)
	require.Equal(t, "topsecret", string(opened))
}

func TestNewGCMCipherRejectsWrongKeyLength(t *testing.T) {
	_, err := NewGCMCipher([]byte("short"))
	require.Error(t, err)
}

package dcs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestByID(t *testing.T) {
	dc, ok := ByID(2)
	require.True(t, ok)
	require.Equal(t, "149.154.167.51:443", dc.Addr(false))
	require.Equal(t, "149.154.167.40:443", dc.Addr(true))

	_, ok = ByID(99)
	require.False(t, ok)
}

func TestDefaultRSAKeysFingerprintsResolve(t *testing.T) {
	keys := DefaultRSAKeys()
	require.Len(t, keys, 2)
	for fp, key := range keys {
		require.NotNil(t, key)
		require.NotZero(t, fp)
	}
}

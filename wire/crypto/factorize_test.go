package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFactorizeKnownProducts(t *testing.T) {
	cases := []struct {
		pq   uint64
		p, q uint64
	}{
		{0x17ED48941A08F981, 0x494C553B, 0x53911073},
		{3 * 5, 3, 5},
		{1000003 * 1000033, 1000003, 1000033},
		{2 * 7, 2, 7},
	}

	for _, c := range cases {
		p, q, err := Factorize(c.pq)
		require.NoError(t, err)
		require.Equal(t, c.p, p)
		require.Equal(t, c.q, q)
		require.True(t, p < q)
		require.Equal(t, c.pq, p*q)
	}
}

func TestFactorizeZero(t *testing.T) {
	_, _, err := Factorize(0)
	require.Error(t, err)
}

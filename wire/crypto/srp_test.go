package crypto

import (
	"crypto/rand"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"
)

func modPow(g int64, exp, mod []byte) []byte {
	bigG := big.NewInt(g)
	bigExp := new(big.Int).SetBytes(exp)
	bigMod := new(big.Int).SetBytes(mod)
	return leftPad(new(big.Int).Exp(bigG, bigExp, bigMod).Bytes(), 256)
}

func TestCalculateSRPDeterministic(t *testing.T) {
	salt1 := make([]byte, 16)
	salt2 := make([]byte, 16)
	a := make([]byte, 32)
	b := make([]byte, 32)
	_, err := rand.Read(salt1)
	require.NoError(t, err)
	_, err = rand.Read(salt2)
	require.NoError(t, err)
	_, err = rand.Read(a)
	require.NoError(t, err)
	_, err = rand.Read(b)
	require.NoError(t, err)

	g := int64(3)
	p := KnownGoodPrime

	// g_b = pow(g, b) mod p, computed the same way the server would.
	gB := modPow(g, b, p)

	password := []byte("hunter2")

	out1, err := CalculateSRP(salt1, salt2, g, p, gB, a, password)
	require.NoError(t, err)
	out2, err := CalculateSRP(salt1, salt2, g, p, gB, a, password)
	require.NoError(t, err)

	require.Equal(t, out1.M1, out2.M1)
	require.Equal(t, out1.GA, out2.GA)
	require.Len(t, out1.GA, 256)
}

func TestCalculateSRPRejectsBadPLength(t *testing.T) {
	_, err := CalculateSRP(nil, nil, 3, []byte{1, 2, 3}, nil, nil, nil)
	require.ErrorIs(t, err, ErrBadPLength)
}

func TestCheckKnownPrime(t *testing.T) {
	require.True(t, CheckKnownPrime(KnownGoodPrime, 4))
	require.False(t, CheckKnownPrime(KnownGoodPrime, 2))
	require.False(t, CheckKnownPrime(make([]byte, 256), 4))
}

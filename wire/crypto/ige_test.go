package crypto

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIGERoundTrip(t *testing.T) {
	key := make([]byte, 32)
	iv := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	_, err = rand.Read(iv)
	require.NoError(t, err)

	for _, n := range []int{16, 32, 48, 160} {
		plaintext := make([]byte, n)
		_, err := rand.Read(plaintext)
		require.NoError(t, err)

		ct := IGEEncrypt(plaintext, key, iv)
		require.Len(t, ct, n)
		require.False(t, bytes.Equal(ct, plaintext))

		pt := IGEDecrypt(ct, key, iv)
		require.Equal(t, plaintext, pt)
	}
}

func TestIGEUnalignedPanics(t *testing.T) {
	key := make([]byte, 32)
	iv := make([]byte, 32)
	require.Panics(t, func() {
		IGEEncrypt(make([]byte, 17), key, iv)
	})
}

func TestIGEDiffusion(t *testing.T) {
	key := make([]byte, 32)
	iv := make([]byte, 32)
	plaintext := make([]byte, 64)

	ct1 := IGEEncrypt(plaintext, key, iv)
	plaintext[0] ^= 1
	ct2 := IGEEncrypt(plaintext, key, iv)
	require.False(t, bytes.Equal(ct1, ct2))
}

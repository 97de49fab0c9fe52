package crypto

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAuthKeyEncryptDecryptRoundTrips(t *testing.T) {
	raw := randomAuthKey(t)
	rawCopy := append([]byte(nil), raw...)
	k := NewAuthKey(raw)

	plaintext := []byte("auth key wrapped in locked memory")
	// Given the same padding bytes, the wrapper encrypts exactly like the
	// package function does with the unwrapped copy.
	pad := bytes.Repeat([]byte{0x5a}, 32)
	ciphertext, err := k.EncryptDataV2(plaintext, bytes.NewReader(pad))
	require.NoError(t, err)
	want, err := EncryptDataV2(rawCopy, plaintext, bytes.NewReader(pad))
	require.NoError(t, err)
	require.Equal(t, want, ciphertext)

	// DecryptDataV2 expects a server-keyed message, so the incoming side is
	// built with encryptAsServer from the unwrapped copy. The result keeps
	// its padding, so only the plaintext prefix is compared.
	incoming, err := encryptAsServer(rawCopy, plaintext, rand.Reader)
	require.NoError(t, err)
	got, err := k.DecryptDataV2(incoming)
	require.NoError(t, err)
	require.Equal(t, plaintext, got[:len(plaintext)])
}

func TestAuthKeyKeyIDMatchesPackageFunc(t *testing.T) {
	raw := randomAuthKey(t)
	rawCopy := append([]byte(nil), raw...)
	k := NewAuthKey(raw)

	require.Equal(t, KeyID(rawCopy), k.KeyID())
}

func TestAuthKeyExportReturnsIndependentCopy(t *testing.T) {
	raw := randomAuthKey(t)
	rawCopy := append([]byte(nil), raw...)
	k := NewAuthKey(raw)

	exported := k.Export()
	require.Equal(t, rawCopy, exported)

	exported[0] ^= 0xff
	require.Equal(t, rawCopy, k.Export())
}

func TestAuthKeyDestroyWipesBuffer(t *testing.T) {
	raw := randomAuthKey(t)
	k := NewAuthKey(raw)
	k.Destroy()
	require.Panics(t, func() { k.Use(func([]byte) {}) })
}
